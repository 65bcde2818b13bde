package internal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/Azure/azsqlaudit/internal/serverlist"
	"github.com/Azure/azsqlaudit/internal/session"
	"github.com/Azure/azsqlaudit/internal/ui"
	"github.com/Azure/azsqlaudit/internal/utils"
	"github.com/Azure/azsqlaudit/pkg/config"
	"github.com/magodo/armid"
	"github.com/magodo/azlist"
	"github.com/magodo/workerpool"
)

const sqlServerPredicate = `type =~ "microsoft.sql/servers"`

// SubscriptionResolver resolves the subscriptions that are visible to the credential.
type SubscriptionResolver interface {
	session.Switcher
	Subscriptions(ctx context.Context) ([]session.Session, error)
}

// ServerLister lists the ids of the SQL servers in a subscription that match the predicate.
type ServerLister func(ctx context.Context, subscriptionId, predicate string) ([]armid.ResourceId, error)

type ExportOption struct {
	Resolver SubscriptionResolver
	// Lister defaults to listing via Azure Resource Graph.
	Lister ServerLister
	// Stdout receives the server list when no output file is specified. Defaults to os.Stdout.
	Stdout io.Writer
}

type subscriptionServers struct {
	index   int
	servers []serverlist.Server
}

// Export lists the SQL servers of the subscription in the config, or of all visible subscriptions if none,
// and writes them as a server list. Up to cfg.Parallelism subscriptions are listed at the same time.
func Export(ctx context.Context, cfg config.ExportConfig, opt ExportOption) ([]serverlist.Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	lister := opt.Lister
	if lister == nil {
		lister = azlistLister(cfg.CommonConfig, logger)
	}

	var servers []serverlist.Server
	f := func(msg ui.Messager) error {
		msg.SetStatus("Resolving subscriptions...")
		var subs []session.Session
		if cfg.SubscriptionId != "" {
			sess, err := opt.Resolver.Switch(ctx, cfg.SubscriptionId)
			if err != nil {
				return err
			}
			subs = append(subs, sess)
		} else {
			var err error
			subs, err = opt.Resolver.Subscriptions(ctx)
			if err != nil {
				return err
			}
		}

		predicate := sqlServerPredicate
		if cfg.Predicate != "" {
			predicate += " and (" + cfg.Predicate + ")"
		}

		parallelism := cfg.Parallelism
		if parallelism < 1 {
			parallelism = 1
		}
		msg.SetStatus(fmt.Sprintf("Listing SQL servers of %d subscription(s)...", len(subs)))

		// Results are merged by the subscription index, the output keeps the order of the subscriptions.
		results := make([][]serverlist.Server, len(subs))
		var listed int
		wp := workerpool.NewWorkPool(parallelism)
		wp.Run(func(i interface{}) error {
			r, ok := i.(subscriptionServers)
			if !ok {
				return nil
			}
			results[r.index] = r.servers
			listed++
			msg.SetStatus(fmt.Sprintf("(%d/%d) SQL servers of %s listed", listed, len(subs), subs[r.index]))
			return nil
		})
		for i, sub := range subs {
			wp.AddTask(func() (interface{}, error) {
				ids, err := lister(ctx, sub.SubscriptionId, predicate)
				if err != nil {
					return nil, fmt.Errorf("listing SQL servers of %s: %w", sub, err)
				}
				l, err := serversFromIds(sub, ids)
				if err != nil {
					return nil, err
				}
				logger.Info("SQL servers listed", "subscription", sub.String(), "count", len(l))
				return subscriptionServers{index: i, servers: l}, nil
			})
		}
		if err := wp.Done(); err != nil {
			return err
		}
		for _, l := range results {
			servers = append(servers, l...)
		}
		return nil
	}
	if err := ui.Run(cfg.PlainUI, io.Discard, f); err != nil {
		return nil, err
	}

	delim := cfg.Delimiter
	if delim == 0 {
		delim = ','
	}
	var buf bytes.Buffer
	if err := serverlist.Write(&buf, servers, delim); err != nil {
		return nil, fmt.Errorf("writing the server list: %v", err)
	}
	if cfg.OutputFile != "" {
		if err := utils.WriteFileSync(cfg.OutputFile, buf.Bytes(), 0644); err != nil {
			return nil, fmt.Errorf("writing %s: %v", cfg.OutputFile, err)
		}
		return servers, nil
	}
	w := opt.Stdout
	if w == nil {
		w = os.Stdout
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return nil, err
	}
	return servers, nil
}

func azlistLister(cfg config.CommonConfig, logger *slog.Logger) ServerLister {
	return func(ctx context.Context, subscriptionId, predicate string) ([]armid.ResourceId, error) {
		lister, err := azlist.NewLister(azlist.Option{
			Logger:         logger.WithGroup("azlist"),
			SubscriptionId: subscriptionId,
			Cred:           cfg.AzureSDKCredential,
			ClientOpt:      cfg.AzureSDKClientOption,
			Parallelism:    1,
		})
		if err != nil {
			return nil, fmt.Errorf("building azlister: %v", err)
		}
		result, err := lister.ListByQuery(ctx, predicate)
		if err != nil {
			return nil, err
		}
		var ids []armid.ResourceId
		for _, res := range result.Resources {
			ids = append(ids, res.Id)
		}
		return ids, nil
	}
}

// serversFromIds converts the SQL server ids to servers of the subscription, sorted by resource group and name.
func serversFromIds(sub session.Session, ids []armid.ResourceId) ([]serverlist.Server, error) {
	var servers []serverlist.Server
	for _, id := range ids {
		sid, ok := id.(*armid.ScopedResourceId)
		if !ok || !strings.EqualFold(sid.AttrProvider, "Microsoft.Sql") || len(sid.AttrTypes) != 1 || !strings.EqualFold(sid.AttrTypes[0], "servers") {
			return nil, fmt.Errorf("%s is not a SQL server id", id)
		}
		rg, ok := sid.AttrParentScope.(*armid.ResourceGroup)
		if !ok {
			return nil, fmt.Errorf("%s is not scoped to a resource group", id)
		}
		servers = append(servers, serverlist.Server{
			SubscriptionName: sub.SubscriptionName,
			ResourceGroup:    rg.Name,
			Name:             sid.AttrNames[0],
		})
	}
	sort.Slice(servers, func(i, j int) bool {
		if !strings.EqualFold(servers[i].ResourceGroup, servers[j].ResourceGroup) {
			return strings.ToLower(servers[i].ResourceGroup) < strings.ToLower(servers[j].ResourceGroup)
		}
		return strings.ToLower(servers[i].Name) < strings.ToLower(servers[j].Name)
	})
	return servers, nil
}
