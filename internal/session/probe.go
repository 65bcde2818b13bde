package session

import (
	"context"
	"strings"

	"github.com/Azure/azsqlaudit/internal/errs"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
)

// Probe requests a token for the resource manager to make sure the credential represents a logged in session.
func Probe(ctx context.Context, cred azcore.TokenCredential, opt arm.ClientOptions) error {
	cloudCfg := opt.Cloud
	if len(cloudCfg.Services) == 0 {
		cloudCfg = cloud.AzurePublic
	}
	audience := cloudCfg.Services[cloud.ResourceManager].Audience
	if _, err := cred.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: []string{strings.TrimSuffix(audience, "/") + "/.default"},
	}); err != nil {
		return errs.Session("not authenticated to Azure: %v", err)
	}
	return nil
}
