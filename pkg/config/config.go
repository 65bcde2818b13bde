package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Azure/azsqlaudit/internal/errs"
	"github.com/Azure/azsqlaudit/pkg/telemetry"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
)

// Mode is the run mode. Exactly one mode applies to a run.
type Mode int

const (
	ModeReportOnly Mode = iota
	ModeEnable
	ModeDisable
)

func (m Mode) String() string {
	switch m {
	case ModeEnable:
		return "enable"
	case ModeDisable:
		return "disable"
	default:
		return "report-only"
	}
}

// NewMode builds the run mode from the enable/disable switches. Requesting both is a configuration error,
// requesting none means report only.
func NewMode(enable, disable bool) (Mode, error) {
	switch {
	case enable && disable:
		return ModeReportOnly, errs.Config("enabling and disabling audit at the same time is not allowed")
	case enable:
		return ModeEnable, nil
	case disable:
		return ModeDisable, nil
	default:
		return ModeReportOnly, nil
	}
}

type CommonConfig struct {
	Logger *slog.Logger
	// AuthConfig specifies the authentication config used to build the AzureSDKCredential.
	AuthConfig AuthConfig
	// SubscriptionId specifies the subscription that is active when the run starts. Leave it empty to take the one from Azure CLI.
	SubscriptionId string
	// AzureSDKCredential specifies the Azure SDK token credential
	AzureSDKCredential azcore.TokenCredential
	// AzureSDKClientOption specifies the Azure SDK client option
	AzureSDKClientOption arm.ClientOptions
	// PlainUI prints one line per server instead of running the spinner.
	PlainUI bool
	// TelemetryClient is a client to send telemetry
	TelemetryClient telemetry.Client
}

// Config is the configuration of an audit run. It is immutable once built.
type Config struct {
	CommonConfig

	// CSVFile specifies the path of the server list.
	CSVFile string
	// WorkspaceId specifies the resource id of the Log Analytics workspace that audit logs are sent to.
	WorkspaceId string
	// Mode specifies whether to enable, disable or only report the audit settings.
	Mode Mode
}

// NewConfig builds the run configuration and validates the invariants across its fields.
func NewConfig(common CommonConfig, csvFile, workspaceId string, enable, disable bool) (*Config, error) {
	mode, err := NewMode(enable, disable)
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		CommonConfig: common,
		CSVFile:      csvFile,
		WorkspaceId:  strings.TrimSpace(workspaceId),
		Mode:         mode,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg Config) Validate() error {
	if cfg.CSVFile == "" {
		return errs.Config("server list file not specified")
	}
	if cfg.Mode == ModeEnable && cfg.WorkspaceId == "" {
		return errs.Config("workspace id is required to enable audit")
	}
	if cfg.Mode < ModeReportOnly || cfg.Mode > ModeDisable {
		return errs.Config("invalid mode %d", int(cfg.Mode))
	}
	return nil
}

// ExportConfig is the configuration of exporting the SQL servers into a server list.
type ExportConfig struct {
	CommonConfig

	// OutputFile specifies the path of the server list to write. Empty means stdout.
	OutputFile string
	// Predicate specifies an additional Azure Resource Graph where predicate to narrow down the servers.
	Predicate string
	// Delimiter specifies the field delimiter of the written server list.
	Delimiter rune
	// Parallelism specifies the number of subscriptions to list at the same time.
	Parallelism int
}

func (cfg ExportConfig) String() string {
	return fmt.Sprintf("export(predicate=%q, delimiter=%q, parallelism=%d)", cfg.Predicate, cfg.Delimiter, cfg.Parallelism)
}
