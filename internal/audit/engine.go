package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Azure/azsqlaudit/internal/errs"
	"github.com/Azure/azsqlaudit/internal/serverlist"
	"github.com/Azure/azsqlaudit/internal/session"
	"github.com/Azure/azsqlaudit/pkg/config"
)

// Provider reads and writes the audit settings of a server.
type Provider interface {
	// GetAuditState returns the current audit state of the server. It is never cached.
	GetAuditState(ctx context.Context, sess session.Session, server serverlist.Server) (State, error)
	// EnableAudit enables sending audit logs of the server to the workspace.
	EnableAudit(ctx context.Context, sess session.Session, server serverlist.Server, workspaceId string) error
	// DisableAudit stops sending audit logs of the server to the workspace.
	DisableAudit(ctx context.Context, sess session.Session, server serverlist.Server, workspaceId string) error
}

type Result struct {
	Server   serverlist.Server
	State    State
	Decision Decision
}

type Engine struct {
	logger      *slog.Logger
	provider    Provider
	mode        config.Mode
	workspaceId string
}

func NewEngine(logger *slog.Logger, provider Provider, mode config.Mode, workspaceId string) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		logger:      logger,
		provider:    provider,
		mode:        mode,
		workspaceId: workspaceId,
	}
}

// Process fetches the audit state of the server, decides and applies the action. Any provider failure is returned as a *errs.ProviderError.
func (e *Engine) Process(ctx context.Context, sess session.Session, server serverlist.Server) (*Result, error) {
	state, err := e.provider.GetAuditState(ctx, sess, server)
	if err != nil {
		return nil, providerError(server, fmt.Errorf("getting audit state: %w", err))
	}

	decision := Decide(state, e.mode, e.workspaceId)
	e.logger.Debug("Decided",
		"server", server.String(),
		"target_state", state.TargetState.String(),
		"workspace", state.WorkspaceResourceId,
		"action", decision.Action.String(),
		"outcome", string(decision.Outcome))

	switch decision.Action {
	case ActionEnable:
		e.logger.Info("Enabling audit", "server", server.String(), "workspace", e.workspaceId)
		if err := e.provider.EnableAudit(ctx, sess, server, e.workspaceId); err != nil {
			return nil, providerError(server, fmt.Errorf("enabling audit: %w", err))
		}
	case ActionDisable:
		e.logger.Info("Disabling audit", "server", server.String(), "workspace", e.workspaceId)
		if err := e.provider.DisableAudit(ctx, sess, server, e.workspaceId); err != nil {
			return nil, providerError(server, fmt.Errorf("disabling audit: %w", err))
		}
	}

	return &Result{
		Server:   server,
		State:    state,
		Decision: decision,
	}, nil
}

func providerError(server serverlist.Server, err error) error {
	return &errs.ProviderError{Server: server.String(), Err: err}
}
