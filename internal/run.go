package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Azure/azsqlaudit/internal/audit"
	"github.com/Azure/azsqlaudit/internal/errs"
	"github.com/Azure/azsqlaudit/internal/serverlist"
	"github.com/Azure/azsqlaudit/internal/session"
	"github.com/Azure/azsqlaudit/internal/ui"
	"github.com/Azure/azsqlaudit/pkg/config"
	"github.com/Azure/azsqlaudit/pkg/telemetry"
)

// RunOption carries the collaborators of an audit run.
type RunOption struct {
	Provider audit.Provider
	Switcher session.Switcher
	// Session is the session that is active when the run starts.
	Session session.Session
	// Stdout receives the per server lines in plain UI mode. Defaults to os.Stdout.
	Stdout io.Writer
}

// Run processes the servers of the server list one by one, in file order. It stops at the first failure.
// The returned report covers the servers processed so far, also when an error is returned.
func Run(ctx context.Context, cfg config.Config, opt RunOption) (_ *ui.Report, err error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	tc := cfg.TelemetryClient
	if tc == nil {
		tc = telemetry.NewNullClient()
	}
	stdout := opt.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	report := &ui.Report{Mode: cfg.Mode}

	rt := telemetry.NewRunTracer(tc, cfg.Mode.String())
	rt.Started()
	defer func() {
		logger.Info("Run finished", "mode", cfg.Mode.String(), "counts", describeCounts(report.Counts()))
		rt.Finished(outcomeCounts(report.Counts()), failureKind(err))
	}()

	servers, err := serverlist.Load(cfg.CSVFile)
	if err != nil {
		return report, err
	}
	logger.Info("Server list loaded", "path", cfg.CSVFile, "count", len(servers))

	if cfg.Mode == config.ModeDisable && cfg.WorkspaceId == "" {
		logger.Warn("No workspace specified in disable mode, every server with audit enabled will be skipped")
	}

	engine := audit.NewEngine(logger, opt.Provider, cfg.Mode, cfg.WorkspaceId)
	sess := opt.Session

	f := func(msg ui.Messager) error {
		n := len(servers)
		for i, srv := range servers {
			if err := ctx.Err(); err != nil {
				return err
			}

			next, switched, err := session.Ensure(ctx, opt.Switcher, sess, srv.SubscriptionName)
			if err != nil {
				return fmt.Errorf("line %d: switching to subscription %q: %w", srv.Line, srv.SubscriptionName, err)
			}
			if switched {
				logger.Info("Subscription switched", "from", sess.String(), "to", next.String())
			}
			sess = next

			msg.SetDetail(fmt.Sprintf("[%d/%d] %s: checking...", i+1, n, srv))
			res, err := engine.Process(ctx, sess, srv)
			if err != nil {
				return err
			}
			report.Results = append(report.Results, res)
			msg.SetStatus(fmt.Sprintf("[%d/%d] %s: %s", i+1, n, srv, res.Decision.Outcome))
		}
		return nil
	}

	if err := ui.Run(cfg.PlainUI, stdout, plainStatusOnly(cfg.PlainUI, f)); err != nil {
		return report, err
	}
	return report, nil
}

// plainStatusOnly drops the transient detail messages in plain mode, only the final line per server is printed.
func plainStatusOnly(plain bool, f func(msg ui.Messager) error) func(msg ui.Messager) error {
	if !plain {
		return f
	}
	return func(msg ui.Messager) error {
		return f(statusOnly{msg})
	}
}

type statusOnly struct {
	ui.Messager
}

func (statusOnly) SetDetail(string) {}

func describeCounts(counts map[audit.Outcome]int) string {
	var parts []string
	for _, o := range audit.Outcomes {
		if counts[o] != 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", o, counts[o]))
		}
	}
	return strings.Join(parts, ", ")
}

func outcomeCounts(counts map[audit.Outcome]int) map[string]int {
	out := map[string]int{}
	for o, n := range counts {
		out[string(o)] = n
	}
	return out
}

// failureKind classifies the error that stopped a run. Only the kind is recorded in the telemetry.
func failureKind(err error) string {
	var (
		cerr *errs.ConfigError
		serr *errs.SessionError
		perr *errs.ProviderError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &cerr):
		return "config"
	case errors.As(err, &serr):
		return "session"
	case errors.As(err, &perr):
		return "provider"
	default:
		return "other"
	}
}
