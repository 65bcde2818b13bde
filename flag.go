package main

import (
	"strconv"
	"strings"
)

var flagset FlagSet

type FlagSet struct {
	// common flags
	flagEnv            string
	flagSubscriptionId string
	flagPlainUI        bool
	flagLogPath        string
	flagLogLevel       string

	// common flags (auth)
	flagUseEnvironmentCred     bool
	flagUseManagedIdentityCred bool
	flagUseAzureCLICred        bool
	flagUseOIDCCred            bool
	flagOIDCRequestToken       string
	flagOIDCRequestURL         string
	flagOIDCTokenFilePath      string
	flagOIDCToken              string

	// common flags (hidden)
	hflagProfile string

	// Subcommand specific flags
	//
	// audit (root):
	// flagCSVFile
	// flagWorkspaceId
	// flagEnableAudit
	// flagDisableAudit
	//
	// export:
	// flagOutputFile
	// flagPredicate
	// flagDelimiter
	// flagParallelism
	flagCSVFile      string
	flagWorkspaceId  string
	flagEnableAudit  bool
	flagDisableAudit bool
	flagOutputFile   string
	flagPredicate    string
	flagDelimiter    string
	flagParallelism  int
}

const (
	ModeAudit  = "audit"
	ModeExport = "export"
)

// DescribeCLI construct a description of the CLI based on the flag set and the specified mode.
// It is recorded in the telemetry, so only insensitive values are included (i.e. subscription id, workspace id, file paths are not recorded)
func (flag FlagSet) DescribeCLI(mode string) string {
	args := []string{mode}

	// The following flags are skipped, as they are either not interesting or might contain sensitive info:
	// - flagSubscriptionId
	// - flagCSVFile
	// - flagOutputFile
	// - flagLogPath
	// - all hflags
	//
	// The following flags are only recorded as being set, with the value masked as "*":
	// - flagWorkspaceId
	// - flagPredicate
	// - flagOIDCRequestToken
	// - flagOIDCTokenFilePath
	// - flagOIDCToken

	if flag.flagEnv != "" {
		args = append(args, "--env="+flag.flagEnv)
	}
	if flag.flagPlainUI {
		args = append(args, "--plain-ui=true")
	}
	if flag.flagLogLevel != "" {
		args = append(args, "--log-level="+flag.flagLogLevel)
	}

	if flag.flagUseEnvironmentCred {
		args = append(args, "--use-environment-cred=true")
	}
	if flag.flagUseManagedIdentityCred {
		args = append(args, "--use-managed-identity-cred=true")
	}
	if flag.flagUseAzureCLICred {
		args = append(args, "--use-azure-cli-cred=true")
	}
	if flag.flagUseOIDCCred {
		args = append(args, "--use-oidc-cred=true")
	}
	if flag.flagOIDCRequestToken != "" {
		args = append(args, "--oidc-request-token=*")
	}
	if flag.flagOIDCRequestURL != "" {
		args = append(args, "--oidc-request-url="+flag.flagOIDCRequestURL)
	}
	if flag.flagOIDCTokenFilePath != "" {
		args = append(args, "--oidc-token-file-path=*")
	}
	if flag.flagOIDCToken != "" {
		args = append(args, "--oidc-token=*")
	}

	switch mode {
	case ModeAudit:
		if flag.flagWorkspaceId != "" {
			args = append(args, "--WorkspaceId=*")
		}
		if flag.flagEnableAudit {
			args = append(args, "--EnableAudit=true")
		}
		if flag.flagDisableAudit {
			args = append(args, "--DisableAudit=true")
		}
	case ModeExport:
		if flag.flagPredicate != "" {
			args = append(args, "--predicate=*")
		}
		if flag.flagDelimiter != "" {
			args = append(args, "--delimiter="+flag.flagDelimiter)
		}
		if flag.flagParallelism != 0 {
			args = append(args, "--parallelism="+strconv.Itoa(flag.flagParallelism))
		}
	}
	return "azsqlaudit " + strings.Join(args, " ")
}
