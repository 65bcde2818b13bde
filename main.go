package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/Azure/azsqlaudit/internal"
	"github.com/Azure/azsqlaudit/internal/cfgfile"
	"github.com/Azure/azsqlaudit/internal/client"
	internallog "github.com/Azure/azsqlaudit/internal/log"
	"github.com/Azure/azsqlaudit/internal/session"
	"github.com/Azure/azsqlaudit/internal/sqlaudit"
	"github.com/Azure/azsqlaudit/pkg/config"
	"github.com/Azure/azsqlaudit/pkg/telemetry"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/gofrs/uuid"
	"github.com/pkg/profile"
	"github.com/urfave/cli/v2"
)

func main() {
	commonFlags := []cli.Flag{
		&cli.StringFlag{
			Name:        "env",
			EnvVars:     []string{"AZSQLAUDIT_ENV", "ARM_ENVIRONMENT"},
			Usage:       `The cloud environment, can be one of "public", "usgovernment" and "china". Defaults to the one configured in Azure CLI, or "public"`,
			Destination: &flagset.flagEnv,
		},
		&cli.StringFlag{
			Name:        "subscription-id",
			EnvVars:     []string{"AZSQLAUDIT_SUBSCRIPTION_ID", "ARM_SUBSCRIPTION_ID"},
			Aliases:     []string{"s"},
			Usage:       "The subscription that is active when the run starts. Defaults to the current subscription of Azure CLI",
			Destination: &flagset.flagSubscriptionId,
		},
		&cli.BoolFlag{
			Name:        "plain-ui",
			EnvVars:     []string{"AZSQLAUDIT_PLAIN_UI"},
			Usage:       "Print one line per server instead of showing a spinner",
			Destination: &flagset.flagPlainUI,
		},
		&cli.StringFlag{
			Name:        "log-path",
			EnvVars:     []string{"AZSQLAUDIT_LOG_PATH"},
			Usage:       "The file path to store the log",
			Destination: &flagset.flagLogPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			EnvVars:     []string{"AZSQLAUDIT_LOG_LEVEL"},
			Usage:       `Log level, can be one of "ERROR", "WARN", "INFO" and "DEBUG"`,
			Value:       "INFO",
			Destination: &flagset.flagLogLevel,
		},

		// Authentication flags
		&cli.BoolFlag{
			Name:        "use-environment-cred",
			EnvVars:     []string{"AZSQLAUDIT_USE_ENVIRONMENT_CRED"},
			Usage:       "Explicitly use the environment variables (ARM_CLIENT_ID, ARM_TENANT_ID, ARM_CLIENT_SECRET, ...) to do authentication",
			Value:       false,
			Destination: &flagset.flagUseEnvironmentCred,
		},
		&cli.BoolFlag{
			Name:        "use-managed-identity-cred",
			EnvVars:     []string{"AZSQLAUDIT_USE_MANAGED_IDENTITY_CRED"},
			Usage:       "Explicitly use the managed identity that is provided by the Azure host to do authentication",
			Value:       false,
			Destination: &flagset.flagUseManagedIdentityCred,
		},
		&cli.BoolFlag{
			Name:        "use-azure-cli-cred",
			EnvVars:     []string{"AZSQLAUDIT_USE_AZURE_CLI_CRED"},
			Usage:       "Explicitly use the Azure CLI to do authentication",
			Value:       true,
			Destination: &flagset.flagUseAzureCLICred,
		},
		&cli.BoolFlag{
			Name:        "use-oidc-cred",
			EnvVars:     []string{"AZSQLAUDIT_USE_OIDC_CRED"},
			Usage:       "Explicitly use the OIDC to do authentication",
			Value:       false,
			Destination: &flagset.flagUseOIDCCred,
		},
		&cli.StringFlag{
			Name:        "oidc-request-token",
			EnvVars:     []string{"AZSQLAUDIT_OIDC_REQUEST_TOKEN", "ARM_OIDC_REQUEST_TOKEN", "ACTIONS_ID_TOKEN_REQUEST_TOKEN"},
			Usage:       "The bearer token for the request to the OIDC provider",
			Destination: &flagset.flagOIDCRequestToken,
		},
		&cli.StringFlag{
			Name:        "oidc-request-url",
			EnvVars:     []string{"AZSQLAUDIT_OIDC_REQUEST_URL", "ARM_OIDC_REQUEST_URL", "ACTIONS_ID_TOKEN_REQUEST_URL"},
			Usage:       "The URL for the OIDC provider from which to request an ID token",
			Destination: &flagset.flagOIDCRequestURL,
		},
		&cli.StringFlag{
			Name:        "oidc-token-file-path",
			EnvVars:     []string{"AZSQLAUDIT_OIDC_TOKEN_FILE_PATH", "ARM_OIDC_TOKEN_FILE_PATH", "AZURE_FEDERATED_TOKEN_FILE"},
			Usage:       "The path to a file containing an ID token when authenticating using OIDC",
			Destination: &flagset.flagOIDCTokenFilePath,
		},
		&cli.StringFlag{
			Name:        "oidc-token",
			EnvVars:     []string{"AZSQLAUDIT_OIDC_TOKEN", "ARM_OIDC_TOKEN"},
			Usage:       "The ID token when authenticating using OIDC",
			Destination: &flagset.flagOIDCToken,
		},

		// Hidden flags
		&cli.StringFlag{
			Name:        "profile",
			EnvVars:     []string{"AZSQLAUDIT_PROFILE"},
			Usage:       `Profile the program, possible values are "cpu" and "memory"`,
			Hidden:      true,
			Destination: &flagset.hflagProfile,
		},
	}

	auditFlags := append([]cli.Flag{
		&cli.StringFlag{
			Name:        "CSVFile",
			EnvVars:     []string{"AZSQLAUDIT_CSV_FILE"},
			Aliases:     []string{"csv-file", "f"},
			Usage:       "The server list, a CSV file with the subscriptionName, resourceGroup and name columns, delimited by either comma or semicolon",
			Destination: &flagset.flagCSVFile,
		},
		&cli.StringFlag{
			Name:        "WorkspaceId",
			EnvVars:     []string{"AZSQLAUDIT_WORKSPACE_ID"},
			Aliases:     []string{"workspace-id", "w"},
			Usage:       "The resource id of the Log Analytics workspace that the audit logs are sent to. Required by --EnableAudit",
			Destination: &flagset.flagWorkspaceId,
		},
		&cli.BoolFlag{
			Name:        "EnableAudit",
			EnvVars:     []string{"AZSQLAUDIT_ENABLE_AUDIT"},
			Aliases:     []string{"enable-audit"},
			Usage:       "Enable sending the audit logs of the servers to the workspace",
			Destination: &flagset.flagEnableAudit,
		},
		&cli.BoolFlag{
			Name:        "DisableAudit",
			EnvVars:     []string{"AZSQLAUDIT_DISABLE_AUDIT"},
			Aliases:     []string{"disable-audit"},
			Usage:       "Stop sending the audit logs of the servers to the workspace",
			Destination: &flagset.flagDisableAudit,
		},
	}, commonFlags...)

	exportFlags := append([]cli.Flag{
		&cli.StringFlag{
			Name:        "output",
			EnvVars:     []string{"AZSQLAUDIT_OUTPUT"},
			Aliases:     []string{"o"},
			Usage:       "The path of the server list to write. Defaults to stdout",
			Destination: &flagset.flagOutputFile,
		},
		&cli.StringFlag{
			Name:        "predicate",
			EnvVars:     []string{"AZSQLAUDIT_PREDICATE"},
			Usage:       "An additional Azure Resource Graph where predicate to narrow down the SQL servers",
			Destination: &flagset.flagPredicate,
		},
		&cli.StringFlag{
			Name:        "delimiter",
			EnvVars:     []string{"AZSQLAUDIT_DELIMITER"},
			Usage:       `The field delimiter of the server list, either "," or ";"`,
			Value:       ",",
			Destination: &flagset.flagDelimiter,
		},
		&cli.IntFlag{
			Name:        "parallelism",
			EnvVars:     []string{"AZSQLAUDIT_PARALLELISM"},
			Usage:       "Limit the number of parallel operations, i.e. subscriptions listed at the same time",
			Value:       10,
			Destination: &flagset.flagParallelism,
		},
	}, commonFlags...)

	app := &cli.App{
		Name:      "azsqlaudit",
		Version:   getVersion(),
		Usage:     "Bulk manage the Log Analytics audit settings of Azure SQL servers",
		UsageText: "azsqlaudit --CSVFile <path> [--WorkspaceId <id>] [--EnableAudit|--DisableAudit] [option...]",
		Flags:     auditFlags,
		Action: func(c *cli.Context) error {
			if c.NArg() != 0 {
				return fmt.Errorf("unexpected arguments: %s", strings.Join(c.Args().Slice(), " "))
			}
			if err := commandBeforeFunc(&flagset, ModeAudit)(c); err != nil {
				return err
			}
			return runAudit(c.Context, flagset)
		},
		Commands: []*cli.Command{
			{
				Name:      "export",
				Usage:     "Export the SQL servers visible to the credential into a server list",
				UsageText: "azsqlaudit export [option...]",
				Flags:     exportFlags,
				Before:    commandBeforeFunc(&flagset, ModeExport),
				Action: func(c *cli.Context) error {
					return runExport(c.Context, flagset)
				},
			},
			{
				Name:  "config",
				Usage: "Manage the user configuration",
				Subcommands: []*cli.Command{
					{
						Name:      "show",
						Usage:     "Show the configuration",
						UsageText: "azsqlaudit config show",
						Action: func(c *cli.Context) error {
							return showConfig(c.App.Writer)
						},
					},
					{
						Name:      "get",
						Usage:     "Get a configuration item",
						UsageText: "azsqlaudit config get <key>",
						Action: func(c *cli.Context) error {
							if c.NArg() != 1 {
								return fmt.Errorf("expect exactly one argument, got %d", c.NArg())
							}
							return getConfig(c.App.Writer, c.Args().First())
						},
					},
					{
						Name:      "set",
						Usage:     "Set a configuration item",
						UsageText: "azsqlaudit config set <key> <value>",
						Action: func(c *cli.Context) error {
							if c.NArg() != 2 {
								return fmt.Errorf("expect exactly two arguments, got %d", c.NArg())
							}
							return setConfig(c.Args().Get(0), c.Args().Get(1))
						},
					},
				},
			},
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

// setup builds the common configuration from the flags. The returned function must be called once the run finishes.
func setup(ctx context.Context, fset FlagSet, mode string) (config.CommonConfig, func(), error) {
	noop := func() {}

	var stopProfile func()
	switch strings.ToLower(fset.hflagProfile) {
	case "cpu":
		stopProfile = profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop
	case "memory":
		stopProfile = profile.Start(profile.MemProfile, profile.ProfilePath(".")).Stop
	default:
		stopProfile = noop
	}

	logger, closeLog, err := initLog(fset.flagLogPath, fset.flagLogLevel)
	if err != nil {
		stopProfile()
		return config.CommonConfig{}, noop, err
	}

	tc := initTelemetryClient(logger)
	tc.Trace(telemetry.Info, fset.DescribeCLI(mode))

	cleanup := func() {
		tc.Close()
		closeLog.Close()
		stopProfile()
	}

	cloudCfg, err := client.CloudConfiguration(fset.flagEnv)
	if err != nil {
		cleanup()
		return config.CommonConfig{}, noop, err
	}
	clientOpt := arm.ClientOptions{
		ClientOptions: policy.ClientOptions{
			Cloud: cloudCfg,
			Telemetry: policy.TelemetryOptions{
				ApplicationID: "azsqlaudit",
			},
		},
		DisableRPRegistration: true,
	}

	authConfig := buildAuthConfig(fset)
	cred, err := NewDefaultAzureCredential(logger, &DefaultAzureCredentialOptions{
		AuthConfig:    authConfig,
		ClientOptions: clientOpt.ClientOptions,
	})
	if err != nil {
		cleanup()
		return config.CommonConfig{}, noop, fmt.Errorf("failed to new credential: %v", err)
	}
	if err := session.Probe(ctx, cred, clientOpt); err != nil {
		cleanup()
		return config.CommonConfig{}, noop, err
	}

	return config.CommonConfig{
		Logger:               logger,
		AuthConfig:           authConfig,
		SubscriptionId:       fset.flagSubscriptionId,
		AzureSDKCredential:   cred,
		AzureSDKClientOption: clientOpt,
		PlainUI:              fset.flagPlainUI,
		TelemetryClient:      tc,
	}, cleanup, nil
}

func buildAuthConfig(fset FlagSet) config.AuthConfig {
	var auxTenants []string
	if v := os.Getenv("ARM_AUXILIARY_TENANT_IDS"); v != "" {
		auxTenants = strings.Split(v, ";")
	}
	return config.AuthConfig{
		Environment:               fset.flagEnv,
		TenantID:                  os.Getenv("ARM_TENANT_ID"),
		AuxiliaryTenantIDs:        auxTenants,
		ClientID:                  os.Getenv("ARM_CLIENT_ID"),
		ClientSecret:              os.Getenv("ARM_CLIENT_SECRET"),
		ClientCertificateEncoded:  os.Getenv("ARM_CLIENT_CERTIFICATE"),
		ClientCertificatePassword: os.Getenv("ARM_CLIENT_CERTIFICATE_PASSWORD"),
		OIDCTokenRequestToken:     fset.flagOIDCRequestToken,
		OIDCTokenRequestURL:       fset.flagOIDCRequestURL,
		OIDCAssertionToken:        fset.flagOIDCToken,
		OIDCTokenFilePath:         fset.flagOIDCTokenFilePath,
		UseEnvironment:            fset.flagUseEnvironmentCred,
		UseAzureCLI:               fset.flagUseAzureCLICred,
		UseManagedIdentity:        fset.flagUseManagedIdentityCred,
		UseOIDC:                   fset.flagUseOIDCCred,
	}
}

func runAudit(ctx context.Context, fset FlagSet) error {
	common, cleanup, err := setup(ctx, fset, ModeAudit)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg, err := config.NewConfig(common, fset.flagCSVFile, fset.flagWorkspaceId, fset.flagEnableAudit, fset.flagDisableAudit)
	if err != nil {
		return err
	}

	b := &client.ClientBuilder{
		Credential: cfg.AzureSDKCredential,
		Opt:        cfg.AzureSDKClientOption,
	}
	if err := sqlaudit.CheckWorkspace(ctx, cfg.Logger, b, cfg.WorkspaceId, cfg.Mode); err != nil {
		return err
	}

	resolver, err := session.NewGraphResolver(cfg.Logger, cfg.AzureSDKCredential, &cfg.AzureSDKClientOption)
	if err != nil {
		return err
	}
	sess, err := session.Active(ctx, session.ActiveOption{
		Logger:         cfg.Logger,
		SubscriptionId: cfg.SubscriptionId,
		Switcher:       resolver,
	})
	if err != nil {
		return err
	}
	cfg.Logger.Info("Starting session", "subscription", sess.String())

	provider, err := sqlaudit.NewProvider(cfg.Logger, b, cfg.WorkspaceId)
	if err != nil {
		return err
	}

	report, err := internal.Run(ctx, *cfg, internal.RunOption{
		Provider: provider,
		Switcher: resolver,
		Session:  sess,
	})
	if report != nil && len(report.Results) != 0 {
		fmt.Println()
		fmt.Print(report.Render(cfg.PlainUI))
	}
	return err
}

func runExport(ctx context.Context, fset FlagSet) error {
	common, cleanup, err := setup(ctx, fset, ModeExport)
	if err != nil {
		return err
	}
	defer cleanup()

	resolver, err := session.NewGraphResolver(common.Logger, common.AzureSDKCredential, &common.AzureSDKClientOption)
	if err != nil {
		return err
	}

	cfg := config.ExportConfig{
		CommonConfig: common,
		OutputFile:   fset.flagOutputFile,
		Predicate:    fset.flagPredicate,
		Delimiter:    ',',
		Parallelism:  fset.flagParallelism,
	}
	if fset.flagDelimiter == ";" {
		cfg.Delimiter = ';'
	}
	common.Logger.Info("Exporting", "config", cfg.String())

	servers, err := internal.Export(ctx, cfg, internal.ExportOption{Resolver: resolver})
	if err != nil {
		return err
	}
	if cfg.OutputFile != "" {
		fmt.Fprintf(os.Stderr, "%d SQL server(s) exported to %s\n", len(servers), cfg.OutputFile)
	}
	return nil
}

func initLog(path, level string) (*slog.Logger, io.Closer, error) {
	lv := slog.LevelInfo
	if level != "" {
		var err error
		lv, err = internallog.ParseLevel(level)
		if err != nil {
			return nil, nil, err
		}
	}
	logger, closer, err := internallog.New(path, lv)
	if err != nil {
		return nil, nil, err
	}
	if path != "" {
		// Enable the logging for the Azure SDK
		internallog.BridgeAzureSDK(logger)
	}
	return logger, closer, nil
}

func initTelemetryClient(logger *slog.Logger) telemetry.Client {
	path, err := cfgfile.Path()
	if err != nil {
		logger.Warn("Locating the config file", "error", err)
		return telemetry.NewNullClient()
	}
	cfg, err := cfgfile.Read(path)
	if err != nil {
		logger.Warn("Reading the config file", "error", err)
		return telemetry.NewNullClient()
	}
	if !cfg.TelemetryEnabled {
		return telemetry.NewNullClient()
	}
	sessionId, err := uuid.NewV4()
	if err != nil {
		return telemetry.NewNullClient()
	}
	return telemetry.NewAppInsight(cfg.TelemetryInstrumentationKey, cfg.InstallationId, sessionId.String())
}

func loadConfigFile() (string, *cfgfile.Configuration, error) {
	path, err := cfgfile.Path()
	if err != nil {
		return "", nil, err
	}
	cfg, err := cfgfile.Read(path)
	if err != nil {
		return "", nil, err
	}
	return path, cfg, nil
}

func showConfig(w io.Writer) error {
	_, cfg, err := loadConfigFile()
	if err != nil {
		return err
	}
	for _, k := range []string{"installation_id", "telemetry_enabled", "telemetry_instrumentation_key"} {
		v, err := cfgfile.Get(*cfg, k)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: %s\n", k, v)
	}
	return nil
}

func getConfig(w io.Writer, k string) error {
	_, cfg, err := loadConfigFile()
	if err != nil {
		return err
	}
	v, err := cfgfile.Get(*cfg, k)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, v)
	return nil
}

func setConfig(k, v string) error {
	path, cfg, err := loadConfigFile()
	if err != nil {
		return err
	}
	ncfg, err := cfgfile.UpdateConfiguration(*cfg, k, v)
	if err != nil {
		return err
	}
	return cfgfile.Write(filepath.Clean(path), *ncfg)
}
