package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Azure/azsqlaudit/internal/errs"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resourcegraph/armresourcegraph"
	"github.com/gofrs/uuid"
	"github.com/tidwall/gjson"
)

const subscriptionQuery = `resourcecontainers
| where type =~ 'microsoft.resources/subscriptions'`

// GraphResolver resolves subscriptions via Azure Resource Graph, which covers all the subscriptions the credential has access to.
type GraphResolver struct {
	logger *slog.Logger
	client *armresourcegraph.Client
}

var _ Switcher = &GraphResolver{}

func NewGraphResolver(logger *slog.Logger, cred azcore.TokenCredential, opt *arm.ClientOptions) (*GraphResolver, error) {
	client, err := armresourcegraph.NewClient(cred, opt)
	if err != nil {
		return nil, fmt.Errorf("new resource graph client: %v", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &GraphResolver{logger: logger, client: client}, nil
}

// Switch resolves the subscription, identified by either its name or id, into a session.
func (r *GraphResolver) Switch(ctx context.Context, subscription string) (Session, error) {
	r.logger.Info("Switching subscription", "subscription", subscription)
	sessions, err := r.query(ctx, subscriptionQuery+"\n"+subscriptionFilter(subscription))
	if err != nil {
		return Session{}, errs.Session("resolving subscription %q: %v", subscription, err)
	}
	switch len(sessions) {
	case 0:
		return Session{}, errs.Session("subscription %q not found or not accessible", subscription)
	case 1:
		return sessions[0], nil
	default:
		var ids []string
		for _, sess := range sessions {
			ids = append(ids, sess.SubscriptionId)
		}
		return Session{}, errs.Session("subscription name %q is ambiguous, matches: %s", subscription, strings.Join(ids, ", "))
	}
}

// Subscriptions lists all the subscriptions accessible to the credential.
func (r *GraphResolver) Subscriptions(ctx context.Context) ([]Session, error) {
	return r.query(ctx, subscriptionQuery)
}

func (r *GraphResolver) query(ctx context.Context, query string) ([]Session, error) {
	query += "\n| project name, subscriptionId"
	r.logger.Debug("Querying resource graph", "query", query)

	var (
		out       []Session
		skipToken *string
	)
	for {
		resp, err := r.client.Resources(ctx, armresourcegraph.QueryRequest{
			Query: &query,
			Options: &armresourcegraph.QueryRequestOptions{
				ResultFormat: to.Ptr(armresourcegraph.ResultFormatObjectArray),
				SkipToken:    skipToken,
			},
		}, nil)
		if err != nil {
			return nil, err
		}
		sessions, err := parseSubscriptions(resp.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, sessions...)
		if resp.SkipToken == nil || *resp.SkipToken == "" {
			break
		}
		skipToken = resp.SkipToken
	}
	return out, nil
}

func subscriptionFilter(subscription string) string {
	if _, err := uuid.FromString(subscription); err == nil {
		return fmt.Sprintf("| where subscriptionId =~ %s", kqlQuote(subscription))
	}
	return fmt.Sprintf("| where name =~ %s", kqlQuote(subscription))
}

func kqlQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

func parseSubscriptions(data any) ([]Session, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshalling the query result: %v", err)
	}
	result := gjson.ParseBytes(b)
	if !result.IsArray() {
		return nil, fmt.Errorf("unexpected query result: %s", string(b))
	}
	var out []Session
	for _, row := range result.Array() {
		out = append(out, Session{
			SubscriptionName: row.Get("name").String(),
			SubscriptionId:   row.Get("subscriptionId").String(),
		})
	}
	return out, nil
}
