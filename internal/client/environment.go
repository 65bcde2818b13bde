package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"gopkg.in/ini.v1"
)

// CloudConfiguration returns the cloud configuration of the environment. The environment is one of "public", "usgovernment" and "china".
// If the environment is empty, the cloud configured for the Azure CLI (~/.azure/config) is used, then the public cloud.
func CloudConfiguration(env string) (cloud.Configuration, error) {
	if env == "" {
		env = environmentFromAzureCLIConfig("")
	}
	switch strings.ToLower(env) {
	case "", "public", "azurecloud":
		return cloud.AzurePublic, nil
	case "usgovernment", "azureusgovernment":
		return cloud.AzureGovernment, nil
	case "china", "azurechinacloud":
		return cloud.AzureChina, nil
	default:
		return cloud.Configuration{}, fmt.Errorf("unknown environment specified: %q", env)
	}
}

// environmentFromAzureCLIConfig reads the cloud name from the "[cloud]" section of the Azure CLI config file.
// It returns an empty string if the file or the setting doesn't exist.
func environmentFromAzureCLIConfig(path string) string {
	if path == "" {
		dir := os.Getenv("AZURE_CONFIG_DIR")
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return ""
			}
			dir = filepath.Join(home, ".azure")
		}
		path = filepath.Join(dir, "config")
	}
	cfg, err := ini.Load(path)
	if err != nil {
		return ""
	}
	return cfg.Section("cloud").Key("name").String()
}
