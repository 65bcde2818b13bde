package sqlaudit

import (
	"fmt"
	"strings"

	"github.com/Azure/azsqlaudit/internal/serverlist"
	"github.com/magodo/armid"
)

func serverId(subscriptionId string, server serverlist.Server) armid.ResourceId {
	return &armid.ScopedResourceId{
		AttrParentScope: &armid.ResourceGroup{
			SubscriptionId: subscriptionId,
			Name:           server.ResourceGroup,
		},
		AttrProvider: "Microsoft.Sql",
		AttrTypes:    []string{"servers"},
		AttrNames:    []string{server.Name},
	}
}

// masterDatabaseId returns the id of the master database of the server, where the server level diagnostic settings live.
func masterDatabaseId(subscriptionId string, server serverlist.Server) armid.ResourceId {
	return &armid.ScopedResourceId{
		AttrParentScope: &armid.ResourceGroup{
			SubscriptionId: subscriptionId,
			Name:           server.ResourceGroup,
		},
		AttrProvider: "Microsoft.Sql",
		AttrTypes:    []string{"servers", "databases"},
		AttrNames:    []string{server.Name, "master"},
	}
}

type workspaceId struct {
	SubscriptionId string
	ResourceGroup  string
	Name           string
}

func parseWorkspaceId(id string) (*workspaceId, error) {
	rid, err := armid.ParseResourceId(id)
	if err != nil {
		return nil, err
	}
	sid, ok := rid.(*armid.ScopedResourceId)
	if !ok || !strings.EqualFold(sid.AttrProvider, "Microsoft.OperationalInsights") || len(sid.AttrTypes) != 1 || !strings.EqualFold(sid.AttrTypes[0], "workspaces") {
		return nil, fmt.Errorf("not a Log Analytics workspace id")
	}
	rg, ok := sid.AttrParentScope.(*armid.ResourceGroup)
	if !ok {
		return nil, fmt.Errorf("the workspace is not scoped to a resource group")
	}
	return &workspaceId{
		SubscriptionId: rg.SubscriptionId,
		ResourceGroup:  rg.Name,
		Name:           sid.AttrNames[0],
	}, nil
}
