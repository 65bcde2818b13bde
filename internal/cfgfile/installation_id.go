package cfgfile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/uuid"
	"github.com/tidwall/gjson"
)

// NewInstallationId reuses the installation id of the Azure CLI or the Azure PowerShell, otherwise generates one.
func NewInstallationId() (string, error) {
	if id, err := GetInstallationIdFromCLI(); err == nil {
		return id, nil
	}
	if id, err := GetInstallationIdFromPWSH(); err == nil {
		return id, nil
	}
	id, err := uuid.NewV4()
	if err != nil {
		return "", fmt.Errorf("generating installation id: %v", err)
	}
	return id.String(), nil
}

func GetInstallationIdFromCLI() (string, error) {
	return installationIdFromFile("azureProfile.json", "installationId")
}

func GetInstallationIdFromPWSH() (string, error) {
	return installationIdFromFile("AzureRmContextSettings.json", "Settings.InstallationId")
}

func installationIdFromFile(name, path string) (string, error) {
	dir := os.Getenv("AZURE_CONFIG_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("retrieving user's HOME dir")
		}
		dir = filepath.Join(home, ".azure")
	}
	fpath := filepath.Join(dir, name)
	b, err := os.ReadFile(fpath)
	if err != nil {
		return "", fmt.Errorf("reading %s: %v", fpath, err)
	}
	// Removing the preceding BOM (Byte Order Mark)
	b = bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))
	return installationIdFromJSON(b, path)
}

func installationIdFromJSON(b []byte, path string) (string, error) {
	if !gjson.ValidBytes(b) {
		return "", fmt.Errorf("invalid JSON")
	}
	id := gjson.GetBytes(b, path).String()
	if id == "" {
		return "", fmt.Errorf("no installation id found")
	}
	return id, nil
}
