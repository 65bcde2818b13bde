package client

import (
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/monitor/armmonitor"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/operationalinsights/armoperationalinsights"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/sql/armsql"
)

type ClientBuilder struct {
	Credential azcore.TokenCredential
	Opt        arm.ClientOptions
}

func (b *ClientBuilder) NewResourcesClient(subscriptionId string) (*armresources.Client, error) {
	return armresources.NewClient(
		subscriptionId,
		b.Credential,
		&b.Opt,
	)
}

func (b *ClientBuilder) NewServerAuditingPoliciesClient(subscriptionId string) (*armsql.ExtendedServerBlobAuditingPoliciesClient, error) {
	return armsql.NewExtendedServerBlobAuditingPoliciesClient(
		subscriptionId,
		b.Credential,
		&b.Opt,
	)
}

func (b *ClientBuilder) NewDiagnosticSettingsClient() (*armmonitor.DiagnosticSettingsClient, error) {
	return armmonitor.NewDiagnosticSettingsClient(
		b.Credential,
		&b.Opt,
	)
}

func (b *ClientBuilder) NewWorkspacesClient(subscriptionId string) (*armoperationalinsights.WorkspacesClient, error) {
	return armoperationalinsights.NewWorkspacesClient(
		subscriptionId,
		b.Credential,
		&b.Opt,
	)
}
