package sqlaudit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/Azure/azsqlaudit/internal/audit"
	"github.com/Azure/azsqlaudit/internal/client"
	"github.com/Azure/azsqlaudit/internal/errs"
	"github.com/Azure/azsqlaudit/internal/serverlist"
	"github.com/Azure/azsqlaudit/internal/session"
	"github.com/Azure/azsqlaudit/pkg/config"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/monitor/armmonitor"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/sql/armsql"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
)

// The api version used to check the existence of a SQL server.
const sqlServerAPIVersion = "2021-11-01"

type subscriptionClients struct {
	resources *armresources.Client
	policies  *armsql.ExtendedServerBlobAuditingPoliciesClient
}

// Provider implements audit.Provider against Azure Resource Manager.
type Provider struct {
	logger *slog.Logger
	b      *client.ClientBuilder

	// preferredWorkspace is reported as the audit target when the audit logs go to more than one workspace.
	preferredWorkspace string

	diagnostics *armmonitor.DiagnosticSettingsClient

	mu      sync.Mutex
	clients map[string]*subscriptionClients
}

var _ audit.Provider = &Provider{}

func NewProvider(logger *slog.Logger, b *client.ClientBuilder, preferredWorkspace string) (*Provider, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	diagnostics, err := b.NewDiagnosticSettingsClient()
	if err != nil {
		return nil, fmt.Errorf("new diagnostic settings client: %v", err)
	}
	return &Provider{
		logger:             logger,
		b:                  b,
		preferredWorkspace: preferredWorkspace,
		diagnostics:        diagnostics,
		clients:            map[string]*subscriptionClients{},
	}, nil
}

func (p *Provider) clientsFor(subscriptionId string) (*subscriptionClients, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[subscriptionId]; ok {
		return c, nil
	}
	resources, err := p.b.NewResourcesClient(subscriptionId)
	if err != nil {
		return nil, fmt.Errorf("new resources client: %v", err)
	}
	policies, err := p.b.NewServerAuditingPoliciesClient(subscriptionId)
	if err != nil {
		return nil, fmt.Errorf("new server auditing policies client: %v", err)
	}
	c := &subscriptionClients{resources: resources, policies: policies}
	p.clients[subscriptionId] = c
	return c, nil
}

type serverAudit struct {
	clients  *subscriptionClients
	masterId string
	policy   *armsql.ExtendedServerBlobAuditingPolicy
	settings []*armmonitor.DiagnosticSettingsResource
}

func (p *Provider) read(ctx context.Context, sess session.Session, server serverlist.Server) (*serverAudit, error) {
	if sess.SubscriptionId == "" {
		return nil, fmt.Errorf("no subscription id in session %s", sess)
	}
	c, err := p.clientsFor(sess.SubscriptionId)
	if err != nil {
		return nil, err
	}

	srvId := serverId(sess.SubscriptionId, server).String()
	exist, err := c.resources.CheckExistenceByID(ctx, srvId, sqlServerAPIVersion, nil)
	if err != nil {
		return nil, fmt.Errorf("checking existence of %s: %v", srvId, err)
	}
	if !exist.Success {
		return nil, fmt.Errorf("server %s not found", srvId)
	}

	p.logger.Debug("Reading the auditing policy", "server", srvId)
	resp, err := c.policies.Get(ctx, server.ResourceGroup, server.Name, nil)
	if err != nil {
		return nil, fmt.Errorf("reading the auditing policy: %v", err)
	}

	masterId := masterDatabaseId(sess.SubscriptionId, server).String()
	p.logger.Debug("Listing the diagnostic settings", "resource", masterId)
	var settings []*armmonitor.DiagnosticSettingsResource
	pager := p.diagnostics.NewListPager(masterId, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing the diagnostic settings: %v", err)
		}
		settings = append(settings, page.Value...)
	}

	return &serverAudit{
		clients:  c,
		masterId: masterId,
		policy:   &resp.ExtendedServerBlobAuditingPolicy,
		settings: settings,
	}, nil
}

func (p *Provider) GetAuditState(ctx context.Context, sess session.Session, server serverlist.Server) (audit.State, error) {
	sa, err := p.read(ctx, sess, server)
	if err != nil {
		return audit.State{}, err
	}
	return deriveState(sa.policy, sa.settings, p.preferredWorkspace), nil
}

func (p *Provider) EnableAudit(ctx context.Context, sess session.Session, server serverlist.Server, workspaceId string) error {
	sa, err := p.read(ctx, sess, server)
	if err != nil {
		return err
	}

	p.logger.Info("Creating the audit diagnostic setting", "server", server.String(), "workspace", workspaceId)
	if _, err := p.diagnostics.CreateOrUpdate(ctx, sa.masterId, AuditDiagnosticSettingName, auditDiagnosticSetting(workspaceId), nil); err != nil {
		return fmt.Errorf("creating the diagnostic setting: %v", err)
	}

	return p.updatePolicy(ctx, sa, server, enabledPolicy(sa.policy))
}

func (p *Provider) DisableAudit(ctx context.Context, sess session.Session, server serverlist.Server, workspaceId string) error {
	sa, err := p.read(ctx, sess, server)
	if err != nil {
		return err
	}

	var others bool
	for _, s := range sa.settings {
		if !isAuditSetting(s) {
			continue
		}
		ws := settingWorkspace(s)
		if workspaceId != "" && !audit.SameResourceId(ws, workspaceId) {
			others = true
			continue
		}
		if s.Name == nil {
			continue
		}
		if updated, keep := withoutAuditLogs(s); keep {
			p.logger.Info("Turning off the audit logs of the diagnostic setting", "server", server.String(), "setting", *s.Name, "workspace", ws)
			if _, err := p.diagnostics.CreateOrUpdate(ctx, sa.masterId, *s.Name, updated, nil); err != nil {
				return fmt.Errorf("updating the diagnostic setting %s: %v", *s.Name, err)
			}
			continue
		}
		p.logger.Info("Deleting the audit diagnostic setting", "server", server.String(), "setting", *s.Name, "workspace", ws)
		if _, err := p.diagnostics.Delete(ctx, sa.masterId, *s.Name, nil); err != nil {
			return fmt.Errorf("deleting the diagnostic setting %s: %v", *s.Name, err)
		}
	}

	return p.updatePolicy(ctx, sa, server, disabledPolicy(sa.policy, others))
}

func (p *Provider) updatePolicy(ctx context.Context, sa *serverAudit, server serverlist.Server, policy armsql.ExtendedServerBlobAuditingPolicy) error {
	if p.logger.Enabled(ctx, slog.LevelDebug) {
		p.logger.Debug("Updating the auditing policy", "server", server.String(), "diff", policyDiff(writablePolicy(sa.policy), policy))
	}
	poller, err := sa.clients.policies.BeginCreateOrUpdate(ctx, server.ResourceGroup, server.Name, policy, nil)
	if err != nil {
		return fmt.Errorf("updating the auditing policy: %v", err)
	}
	if _, err := poller.PollUntilDone(ctx, nil); err != nil {
		return fmt.Errorf("polling the auditing policy update: %v", err)
	}
	return nil
}

// policyDiff returns the unified diff between the JSON forms of two policies.
func policyDiff(before, after armsql.ExtendedServerBlobAuditingPolicy) string {
	b, err := json.MarshalIndent(before, "", "  ")
	if err != nil {
		return err.Error()
	}
	a, err := json.MarshalIndent(after, "", "  ")
	if err != nil {
		return err.Error()
	}
	edits := myers.ComputeEdits(span.URIFromPath("before"), string(b), string(a))
	return fmt.Sprint(gotextdiff.ToUnified("before", "after", string(b), edits))
}

// ErrWorkspaceNotFound is wrapped in the error returned by ValidateWorkspace when the workspace doesn't exist.
var ErrWorkspaceNotFound = errors.New("not found")

// ValidateWorkspace checks that the workspace id is well formed and that the workspace exists.
func ValidateWorkspace(ctx context.Context, b *client.ClientBuilder, id string) error {
	ws, err := parseWorkspaceId(id)
	if err != nil {
		return errs.Config("invalid workspace id %q: %v", id, err)
	}
	c, err := b.NewWorkspacesClient(ws.SubscriptionId)
	if err != nil {
		return fmt.Errorf("new workspaces client: %v", err)
	}
	if _, err := c.Get(ctx, ws.ResourceGroup, ws.Name, nil); err != nil {
		var rerr *azcore.ResponseError
		if errors.As(err, &rerr) && rerr.StatusCode == http.StatusNotFound {
			return errs.Config("workspace %s %w", id, ErrWorkspaceNotFound)
		}
		return &errs.ProviderError{Err: fmt.Errorf("reading workspace %s: %v", id, err)}
	}
	return nil
}

// CheckWorkspace validates the workspace of the run. A missing workspace only fails the run when enabling the audit,
// in the other modes it is logged as a warning.
func CheckWorkspace(ctx context.Context, logger *slog.Logger, b *client.ClientBuilder, id string, mode config.Mode) error {
	if id == "" {
		return nil
	}
	err := ValidateWorkspace(ctx, b, id)
	if err == nil || mode == config.ModeEnable || !errors.Is(err, ErrWorkspaceNotFound) {
		return err
	}
	if logger != nil {
		logger.Warn("The workspace is not found, continuing", "workspace", id, "mode", mode.String())
	}
	return nil
}
