package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/Azure/azsqlaudit/internal/errs"
	internallog "github.com/Azure/azsqlaudit/internal/log"
	"github.com/magodo/armid"
	"github.com/urfave/cli/v2"
)

func commandBeforeFunc(fset *FlagSet, mode string) func(ctx *cli.Context) error {
	return func(_ *cli.Context) error {
		// Common flags check
		if fset.flagLogLevel != "" {
			if _, err := internallog.ParseLevel(fset.flagLogLevel); err != nil {
				return err
			}
		}
		if fset.flagOIDCToken != "" && fset.flagOIDCTokenFilePath != "" {
			return fmt.Errorf("`--oidc-token` conflicts with `--oidc-token-file-path`")
		}
		if !fset.flagUseOIDCCred {
			if fset.flagOIDCToken != "" || fset.flagOIDCTokenFilePath != "" || fset.flagOIDCRequestToken != "" || fset.flagOIDCRequestURL != "" {
				return fmt.Errorf("OIDC options must be used together with `--use-oidc-cred`")
			}
		}

		switch mode {
		case ModeAudit:
			if fset.flagEnableAudit && fset.flagDisableAudit {
				return errs.Config("`--EnableAudit` conflicts with `--DisableAudit`")
			}
			if fset.flagCSVFile == "" {
				return errs.Config("`--CSVFile` is required")
			}
			if _, err := os.Stat(fset.flagCSVFile); err != nil {
				if os.IsNotExist(err) {
					return errs.Config("the server list file %q doesn't exist", fset.flagCSVFile)
				}
				return errs.Config("checking the server list file %q: %v", fset.flagCSVFile, err)
			}
			fset.flagWorkspaceId = strings.TrimSpace(fset.flagWorkspaceId)
			if fset.flagEnableAudit && fset.flagWorkspaceId == "" {
				return errs.Config("`--WorkspaceId` must be specified together with `--EnableAudit`")
			}
			if fset.flagWorkspaceId != "" {
				if _, err := armid.ParseResourceId(fset.flagWorkspaceId); err != nil {
					return errs.Config("invalid `--WorkspaceId` %q: %v", fset.flagWorkspaceId, err)
				}
			}
		case ModeExport:
			switch fset.flagDelimiter {
			case "", ",", ";":
			default:
				return errs.Config("`--delimiter` must be either \",\" or \";\", got %q", fset.flagDelimiter)
			}
			if fset.flagParallelism < 0 {
				return errs.Config("`--parallelism` must not be negative, got %d", fset.flagParallelism)
			}
		}
		return nil
	}
}
