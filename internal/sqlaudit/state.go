package sqlaudit

import (
	"strings"

	"github.com/Azure/azsqlaudit/internal/audit"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/monitor/armmonitor"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/sql/armsql"
)

const (
	// AuditDiagnosticSettingName is the name of the diagnostic setting that the Azure portal and Azure PowerShell create for the server audit.
	AuditDiagnosticSettingName = "SQLSecurityAuditEvents_3d229c42-c7e7-4c97-9a99-ec0d0d8b86c1"
	AuditLogCategory           = "SQLSecurityAuditEvents"
)

// The audit action groups Azure applies when auditing is enabled without specifying any.
var defaultAuditActionsAndGroups = []string{
	"SUCCESSFUL_DATABASE_AUTHENTICATION_GROUP",
	"FAILED_DATABASE_AUTHENTICATION_GROUP",
	"BATCH_COMPLETED_GROUP",
}

// isAuditSetting tells whether the diagnostic setting streams the audit logs.
func isAuditSetting(setting *armmonitor.DiagnosticSettingsResource) bool {
	if setting == nil || setting.Properties == nil {
		return false
	}
	for _, l := range setting.Properties.Logs {
		if l == nil || l.Enabled == nil || !*l.Enabled {
			continue
		}
		if isAuditLog(l) {
			return true
		}
	}
	return false
}

func settingWorkspace(setting *armmonitor.DiagnosticSettingsResource) string {
	if setting == nil || setting.Properties == nil || setting.Properties.WorkspaceID == nil {
		return ""
	}
	return *setting.Properties.WorkspaceID
}

// auditWorkspaces returns the workspaces that the audit logs are streamed to, via the diagnostic settings.
func auditWorkspaces(settings []*armmonitor.DiagnosticSettingsResource) []string {
	var out []string
	for _, s := range settings {
		if !isAuditSetting(s) {
			continue
		}
		if ws := settingWorkspace(s); ws != "" {
			out = append(out, ws)
		}
	}
	return out
}

func policyEnabled(policy *armsql.ExtendedServerBlobAuditingPolicy) bool {
	return policy != nil && policy.Properties != nil &&
		policy.Properties.State != nil && *policy.Properties.State == armsql.BlobAuditingPolicyStateEnabled
}

func azureMonitorTargetEnabled(policy *armsql.ExtendedServerBlobAuditingPolicy) bool {
	return policy != nil && policy.Properties != nil &&
		policy.Properties.IsAzureMonitorTargetEnabled != nil && *policy.Properties.IsAzureMonitorTargetEnabled
}

// deriveState derives the Log Analytics audit state from the auditing policy and the diagnostic settings of the server.
// If the audit logs are sent to more than one workspace, the preferred workspace wins.
func deriveState(policy *armsql.ExtendedServerBlobAuditingPolicy, settings []*armmonitor.DiagnosticSettingsResource, preferredWorkspace string) audit.State {
	workspaces := auditWorkspaces(settings)
	if !policyEnabled(policy) || !azureMonitorTargetEnabled(policy) || len(workspaces) == 0 {
		return audit.State{TargetState: audit.TargetStateDisabled}
	}
	state := audit.State{
		TargetState:         audit.TargetStateEnabled,
		WorkspaceResourceId: workspaces[0],
	}
	for _, ws := range workspaces {
		if audit.SameResourceId(ws, preferredWorkspace) {
			state.WorkspaceResourceId = ws
			break
		}
	}
	return state
}

// auditDiagnosticSetting builds the diagnostic setting that streams the audit logs to the workspace.
func auditDiagnosticSetting(workspaceId string) armmonitor.DiagnosticSettingsResource {
	return armmonitor.DiagnosticSettingsResource{
		Properties: &armmonitor.DiagnosticSettings{
			WorkspaceID: to.Ptr(workspaceId),
			Logs: []*armmonitor.LogSettings{
				{
					Category: to.Ptr(AuditLogCategory),
					Enabled:  to.Ptr(true),
				},
			},
		},
	}
}

// writablePolicy copies the writable, non secret properties of the policy, as the base of an update.
func writablePolicy(policy *armsql.ExtendedServerBlobAuditingPolicy) armsql.ExtendedServerBlobAuditingPolicy {
	props := &armsql.ExtendedServerBlobAuditingPolicyProperties{
		State: to.Ptr(armsql.BlobAuditingPolicyStateDisabled),
	}
	if policy != nil && policy.Properties != nil {
		cur := policy.Properties
		if cur.State != nil {
			props.State = to.Ptr(*cur.State)
		}
		props.AuditActionsAndGroups = cur.AuditActionsAndGroups
		props.IsAzureMonitorTargetEnabled = cur.IsAzureMonitorTargetEnabled
		props.IsStorageSecondaryKeyInUse = cur.IsStorageSecondaryKeyInUse
		props.PredicateExpression = cur.PredicateExpression
		props.QueueDelayMs = cur.QueueDelayMs
		props.RetentionDays = cur.RetentionDays
		props.StorageAccountSubscriptionID = cur.StorageAccountSubscriptionID
		props.StorageEndpoint = cur.StorageEndpoint
	}
	return armsql.ExtendedServerBlobAuditingPolicy{Properties: props}
}

// enabledPolicy turns on the auditing together with the Azure Monitor target, other targets are kept.
func enabledPolicy(policy *armsql.ExtendedServerBlobAuditingPolicy) armsql.ExtendedServerBlobAuditingPolicy {
	out := writablePolicy(policy)
	out.Properties.State = to.Ptr(armsql.BlobAuditingPolicyStateEnabled)
	out.Properties.IsAzureMonitorTargetEnabled = to.Ptr(true)
	if len(out.Properties.AuditActionsAndGroups) == 0 {
		for _, g := range defaultAuditActionsAndGroups {
			out.Properties.AuditActionsAndGroups = append(out.Properties.AuditActionsAndGroups, to.Ptr(g))
		}
	}
	return out
}

// disabledPolicy turns off the Azure Monitor target unless other diagnostic settings still stream the audit logs.
// The auditing is turned off only when no target remains.
func disabledPolicy(policy *armsql.ExtendedServerBlobAuditingPolicy, otherAuditSettings bool) armsql.ExtendedServerBlobAuditingPolicy {
	out := writablePolicy(policy)
	out.Properties.IsAzureMonitorTargetEnabled = to.Ptr(otherAuditSettings)
	storageInUse := out.Properties.StorageEndpoint != nil && *out.Properties.StorageEndpoint != ""
	if !otherAuditSettings && !storageInUse {
		out.Properties.State = to.Ptr(armsql.BlobAuditingPolicyStateDisabled)
	}
	return out
}

func isAuditLog(l *armmonitor.LogSettings) bool {
	if l.Category != nil && strings.EqualFold(*l.Category, AuditLogCategory) {
		return true
	}
	return l.CategoryGroup != nil && (strings.EqualFold(*l.CategoryGroup, "audit") || strings.EqualFold(*l.CategoryGroup, "allLogs"))
}

// withoutAuditLogs returns the setting with its audit logs turned off, and whether the setting still streams
// anything else (other log categories or metrics). A setting that streams nothing else is to be deleted instead.
// The allLogs category group covers the audit logs, so it is turned off as a whole.
func withoutAuditLogs(setting *armmonitor.DiagnosticSettingsResource) (armmonitor.DiagnosticSettingsResource, bool) {
	if setting == nil || setting.Properties == nil {
		return armmonitor.DiagnosticSettingsResource{}, false
	}
	props := *setting.Properties
	props.Logs = nil
	var keep bool
	for _, l := range setting.Properties.Logs {
		if l == nil {
			continue
		}
		nl := *l
		if isAuditLog(l) {
			nl.Enabled = to.Ptr(false)
		} else if l.Enabled != nil && *l.Enabled {
			keep = true
		}
		props.Logs = append(props.Logs, &nl)
	}
	for _, m := range setting.Properties.Metrics {
		if m != nil && m.Enabled != nil && *m.Enabled {
			keep = true
		}
	}
	return armmonitor.DiagnosticSettingsResource{Properties: &props}, keep
}
