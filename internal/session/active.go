package session

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
)

type ActiveOption struct {
	Logger *slog.Logger
	// SubscriptionId is the subscription explicitly specified by the user, it has the highest priority.
	SubscriptionId string
	// Switcher is used to resolve the subscription name of an explicitly specified subscription. Optional.
	Switcher Switcher
	// ProfilePath is the path of the Azure CLI profile. Defaults to ~/.azure/azureProfile.json.
	ProfilePath string
}

// Active identifies the session that is active when the run starts, which comes from one of following (starts from the highest priority):
// - The explicitly specified subscription
// - The default subscription of the Azure CLI profile
// - Output of azure cli, the current active subscription
func Active(ctx context.Context, opt ActiveOption) (Session, error) {
	logger := opt.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if opt.SubscriptionId != "" {
		if opt.Switcher == nil {
			return Session{SubscriptionId: opt.SubscriptionId}, nil
		}
		logger.Debug("Resolving the specified subscription", "subscription", opt.SubscriptionId)
		return opt.Switcher.Switch(ctx, opt.SubscriptionId)
	}

	path := opt.ProfilePath
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".azure", "azureProfile.json")
		}
	}
	if path != "" {
		sess, err := FromProfile(path)
		if err == nil {
			logger.Info("Active subscription found in Azure CLI profile", "subscription", sess.String())
			return sess, nil
		}
		logger.Warn("Reading the Azure CLI profile failed", "error", err)
	}

	if err := CheckAzureCLI(ctx); err != nil {
		return Session{}, err
	}
	return FromAzureCLI(ctx)
}

// FromProfile returns the default subscription recorded in the Azure CLI profile file.
func FromProfile(path string) (Session, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Session{}, fmt.Errorf("reading %s: %v", path, err)
	}
	// Removing the preceding BOM (Byte Order Mark)
	b = bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))
	if !gjson.ValidBytes(b) {
		return Session{}, fmt.Errorf("invalid JSON in %s", path)
	}
	sub := gjson.GetBytes(b, `subscriptions.#(isDefault==true)`)
	if !sub.Exists() {
		return Session{}, fmt.Errorf("no default subscription found in %s", path)
	}
	sess := Session{
		SubscriptionName: sub.Get("name").String(),
		SubscriptionId:   sub.Get("id").String(),
	}
	if sess.SubscriptionId == "" {
		return Session{}, fmt.Errorf("the default subscription in %s has no id", path)
	}
	return sess, nil
}
