package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/Azure/azsqlaudit/internal/errs"
	"github.com/hashicorp/go-version"
	"github.com/tidwall/gjson"
)

// MinAzureCLIVersion is the minimum Azure CLI version that supports the commands used by this tool and the azidentity Azure CLI credential.
var MinAzureCLIVersion = version.Must(version.NewVersion("2.0.79"))

// runAzureCLI runs the Azure CLI with the arguments and returns its stdout. It is a variable to allow tests to stub the CLI.
var runAzureCLI = func(ctx context.Context, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, "az", args...)
	cmd.Stderr = &stderr
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, err
		}
		err = fmt.Errorf("failed to run azure cli: %v", err)
		if stdErrStr := stderr.String(); stdErrStr != "" {
			err = fmt.Errorf("%s: %s", err, strings.TrimSpace(stdErrStr))
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// CheckAzureCLI ensures the Azure CLI is installed and is not older than MinAzureCLIVersion.
func CheckAzureCLI(ctx context.Context) error {
	out, err := runAzureCLI(ctx, "version", "--output", "json")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return errs.Config("Azure CLI (az) is not installed")
		}
		return errs.Config("retrieving Azure CLI version: %v", err)
	}
	raw := gjson.GetBytes(out, `azure-cli`).String()
	if raw == "" {
		return errs.Config("no Azure CLI version found in the output of `az version`")
	}
	v, err := version.NewVersion(raw)
	if err != nil {
		return errs.Config("parsing Azure CLI version %q: %v", raw, err)
	}
	if v.LessThan(MinAzureCLIVersion) {
		return errs.Config("Azure CLI version %s is too old, at least %s is required", v, MinAzureCLIVersion)
	}
	return nil
}

// FromAzureCLI returns the active session of the Azure CLI.
func FromAzureCLI(ctx context.Context) (Session, error) {
	out, err := runAzureCLI(ctx, "account", "show", "--output", "json")
	if err != nil {
		return Session{}, errs.Session("retrieving the active subscription from Azure CLI (did you run `az login`?): %v", err)
	}
	sess := Session{
		SubscriptionName: gjson.GetBytes(out, "name").String(),
		SubscriptionId:   gjson.GetBytes(out, "id").String(),
	}
	if sess.SubscriptionId == "" {
		return Session{}, errs.Session("no active subscription in Azure CLI")
	}
	return sess, nil
}
