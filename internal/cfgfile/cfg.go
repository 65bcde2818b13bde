package cfgfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Azure/azsqlaudit/internal/utils"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const CfgDirName = ".azsqlaudit"
const CfgFileName = "config.json"

type Configuration struct {
	InstallationId              string `json:"installation_id"`
	TelemetryEnabled            bool   `json:"telemetry_enabled"`
	TelemetryInstrumentationKey string `json:"telemetry_instrumentation_key"`
}

// Path returns the path of the user configuration file.
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("retrieving user's HOME dir: %v", err)
	}
	return filepath.Join(home, CfgDirName, CfgFileName), nil
}

// Read reads the configuration file at path. A missing file results into a fresh configuration, whose installation id
// is inherited from the Azure CLI or Azure PowerShell, or newly generated.
func Read(path string) (*Configuration, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading %s: %v", path, err)
		}
		id, err := NewInstallationId()
		if err != nil {
			return nil, err
		}
		return &Configuration{InstallationId: id, TelemetryEnabled: true}, nil
	}
	var cfg Configuration
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling %s: %v", path, err)
	}
	return &cfg, nil
}

// Write writes the configuration to path, creating the parent directory if needed.
func Write(path string, cfg Configuration) error {
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling the configuration: %v", err)
	}
	if err := utils.WriteFileSync(path, b, 0644); err != nil {
		return fmt.Errorf("writing %s: %v", path, err)
	}
	return nil
}

// Get returns the JSON encoded value of the key.
func Get(cfg Configuration, k string) (string, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshalling the configuration: %v", err)
	}
	v := gjson.GetBytes(b, k)
	if !v.Exists() {
		return "", fmt.Errorf("invalid key %q", k)
	}
	return v.Raw, nil
}

func UpdateConfiguration(old Configuration, k, v string) (*Configuration, error) {
	b, err := json.Marshal(old)
	if err != nil {
		return nil, fmt.Errorf("marshalling the old configuration: %v", err)
	}
	var vjson interface{}
	if err := json.Unmarshal([]byte(v), &vjson); err != nil {
		return nil, fmt.Errorf("unmarshalling the value: %v", err)
	}
	if !gjson.GetBytes(b, k).Exists() {
		return nil, fmt.Errorf("invalid key %q", k)
	}
	updated, err := sjson.SetBytes(b, k, vjson)
	if err != nil {
		return nil, fmt.Errorf("setting the value: %v", err)
	}
	var cfg Configuration
	if err := json.Unmarshal(updated, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling the new configuration: %v", err)
	}
	return &cfg, nil
}
