package sqlaudit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azsqlaudit/internal/client"
	"github.com/Azure/azsqlaudit/internal/errs"
	"github.com/Azure/azsqlaudit/internal/serverlist"
	"github.com/Azure/azsqlaudit/internal/session"
	"github.com/Azure/azsqlaudit/pkg/config"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	azpolicy "github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/monitor/armmonitor"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/sql/armsql"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const testSubscriptionId = "00000000-0000-0000-0000-000000000000"

const notFoundBody = `{"error":{"code":"ResourceNotFound","message":"not found"}}`

type fakeCredential struct{}

func (fakeCredential) GetToken(context.Context, azpolicy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{Token: "token", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

type fakeResponse struct {
	status int
	body   string
}

type recordedRequest struct {
	method string
	path   string
	body   string
}

// fakeTransport answers the management API requests by the method and the suffix of the url path.
// Unknown requests get a 404.
type fakeTransport struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	requests  []recordedRequest
}

func newFakeTransport(responses map[string]fakeResponse) *fakeTransport {
	return &fakeTransport{responses: responses}
}

func (f *fakeTransport) Do(req *http.Request) (*http.Response, error) {
	var body string
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		body = string(b)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, recordedRequest{method: req.Method, path: req.URL.Path, body: body})

	resp := fakeResponse{status: http.StatusNotFound, body: notFoundBody}
	for k, v := range f.responses {
		method, suffix, _ := strings.Cut(k, " ")
		if req.Method == method && strings.HasSuffix(strings.ToLower(req.URL.Path), strings.ToLower(suffix)) {
			resp = v
			break
		}
	}
	return &http.Response{
		StatusCode: resp.status,
		Status:     http.StatusText(resp.status),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(resp.body)),
		Request:    req,
	}, nil
}

// calls returns the "METHOD path" of the recorded requests.
func (f *fakeTransport) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.requests {
		out = append(out, r.method+" "+r.path)
	}
	return out
}

// lastBody returns the body of the last request whose path ends with the suffix.
func (f *fakeTransport) lastBody(method, suffix string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		r := f.requests[i]
		if r.method == method && strings.HasSuffix(strings.ToLower(r.path), strings.ToLower(suffix)) {
			return r.body
		}
	}
	return ""
}

func testClientBuilder(tr *fakeTransport) *client.ClientBuilder {
	return &client.ClientBuilder{
		Credential: fakeCredential{},
		Opt: arm.ClientOptions{
			ClientOptions: azpolicy.ClientOptions{
				Transport: tr,
				Retry:     azpolicy.RetryOptions{MaxRetries: -1},
			},
			DisableRPRegistration: true,
		},
	}
}

func toJSON(t *testing.T, v any) string {
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

const (
	pathServer       = "/servers/srv"
	pathPolicy       = "/servers/srv/extendedAuditingSettings/default"
	pathSettings     = "/servers/srv/databases/master/providers/Microsoft.Insights/diagnosticSettings"
	pathOurSetting   = pathSettings + "/" + AuditDiagnosticSettingName
	pathOtherSetting = pathSettings + "/other"
)

func serverResponses(t *testing.T, p *armsql.ExtendedServerBlobAuditingPolicy, settings ...*armmonitor.DiagnosticSettingsResource) map[string]fakeResponse {
	return map[string]fakeResponse{
		"HEAD " + pathServer:         {status: http.StatusNoContent},
		"GET " + pathPolicy:          {status: http.StatusOK, body: toJSON(t, p)},
		"GET " + pathSettings:        {status: http.StatusOK, body: toJSON(t, armmonitor.DiagnosticSettingsResourceCollection{Value: settings})},
		"PUT " + pathPolicy:          {status: http.StatusOK, body: "{}"},
		"PUT " + pathOurSetting:      {status: http.StatusOK, body: "{}"},
		"DELETE " + pathOurSetting:   {status: http.StatusOK},
		"DELETE " + pathOtherSetting: {status: http.StatusOK},
	}
}

func TestProvider(t *testing.T) {
	sess := session.Session{SubscriptionName: "sub", SubscriptionId: testSubscriptionId}
	server := serverlist.Server{SubscriptionName: "sub", ResourceGroup: "rg", Name: "srv"}

	withMetrics := setting(AuditDiagnosticSettingName, ws1, auditLog())
	withMetrics.Properties.Metrics = []*armmonitor.MetricSettings{{Category: to.Ptr("Basic"), Enabled: to.Ptr(true)}}
	withMetrics.Properties.Logs = append(withMetrics.Properties.Logs, &armmonitor.LogSettings{Category: to.Ptr("Errors"), Enabled: to.Ptr(false)})

	cases := []struct {
		name      string
		responses func(t *testing.T) map[string]fakeResponse
		run       func(p *Provider) error
		err       string
		calls     []string
		check     func(t *testing.T, tr *fakeTransport)
	}{
		{
			name: "disable keeps the audit setting of another workspace",
			responses: func(t *testing.T) map[string]fakeResponse {
				return serverResponses(t, policy(armsql.BlobAuditingPolicyStateEnabled, true, ""),
					setting(AuditDiagnosticSettingName, ws1, auditLog()),
					setting("other", ws2, auditLog()),
				)
			},
			run: func(p *Provider) error {
				return p.DisableAudit(context.Background(), sess, server, ws1)
			},
			calls: []string{"HEAD " + pathServer, "GET " + pathPolicy, "GET " + pathSettings, "DELETE " + pathOurSetting, "PUT " + pathPolicy},
			check: func(t *testing.T, tr *fakeTransport) {
				body := tr.lastBody(http.MethodPut, pathPolicy)
				require.True(t, gjson.Get(body, "properties.isAzureMonitorTargetEnabled").Bool())
				require.Equal(t, "Enabled", gjson.Get(body, "properties.state").String())
			},
		},
		{
			name: "disable the only audit setting without storage",
			responses: func(t *testing.T) map[string]fakeResponse {
				return serverResponses(t, policy(armsql.BlobAuditingPolicyStateEnabled, true, ""),
					setting(AuditDiagnosticSettingName, ws1, auditLog()),
				)
			},
			run: func(p *Provider) error {
				return p.DisableAudit(context.Background(), sess, server, ws1)
			},
			calls: []string{"HEAD " + pathServer, "GET " + pathPolicy, "GET " + pathSettings, "DELETE " + pathOurSetting, "PUT " + pathPolicy},
			check: func(t *testing.T, tr *fakeTransport) {
				body := tr.lastBody(http.MethodPut, pathPolicy)
				require.False(t, gjson.Get(body, "properties.isAzureMonitorTargetEnabled").Bool())
				require.Equal(t, "Disabled", gjson.Get(body, "properties.state").String())
			},
		},
		{
			name: "disable the audit setting with storage in use",
			responses: func(t *testing.T) map[string]fakeResponse {
				return serverResponses(t, policy(armsql.BlobAuditingPolicyStateEnabled, true, "https://sa.blob.core.windows.net/"),
					setting(AuditDiagnosticSettingName, ws1, auditLog()),
				)
			},
			run: func(p *Provider) error {
				return p.DisableAudit(context.Background(), sess, server, ws1)
			},
			calls: []string{"HEAD " + pathServer, "GET " + pathPolicy, "GET " + pathSettings, "DELETE " + pathOurSetting, "PUT " + pathPolicy},
			check: func(t *testing.T, tr *fakeTransport) {
				body := tr.lastBody(http.MethodPut, pathPolicy)
				require.False(t, gjson.Get(body, "properties.isAzureMonitorTargetEnabled").Bool())
				require.Equal(t, "Enabled", gjson.Get(body, "properties.state").String())
				require.Equal(t, "https://sa.blob.core.windows.net/", gjson.Get(body, "properties.storageEndpoint").String())
			},
		},
		{
			name: "disable turns off only the audit logs of a setting with metrics",
			responses: func(t *testing.T) map[string]fakeResponse {
				return serverResponses(t, policy(armsql.BlobAuditingPolicyStateEnabled, true, ""), withMetrics)
			},
			run: func(p *Provider) error {
				return p.DisableAudit(context.Background(), sess, server, ws1)
			},
			calls: []string{"HEAD " + pathServer, "GET " + pathPolicy, "GET " + pathSettings, "PUT " + pathOurSetting, "PUT " + pathPolicy},
			check: func(t *testing.T, tr *fakeTransport) {
				body := tr.lastBody(http.MethodPut, pathOurSetting)
				require.Equal(t, ws1, gjson.Get(body, "properties.workspaceId").String())
				require.Equal(t, AuditLogCategory, gjson.Get(body, "properties.logs.0.category").String())
				require.False(t, gjson.Get(body, "properties.logs.0.enabled").Bool())
				require.False(t, gjson.Get(body, "properties.logs.1.enabled").Bool())
				require.True(t, gjson.Get(body, "properties.metrics.0.enabled").Bool())

				body = tr.lastBody(http.MethodPut, pathPolicy)
				require.Equal(t, "Disabled", gjson.Get(body, "properties.state").String())
			},
		},
		{
			name: "enable",
			responses: func(t *testing.T) map[string]fakeResponse {
				return serverResponses(t, policy(armsql.BlobAuditingPolicyStateDisabled, false, ""))
			},
			run: func(p *Provider) error {
				return p.EnableAudit(context.Background(), sess, server, ws1)
			},
			calls: []string{"HEAD " + pathServer, "GET " + pathPolicy, "GET " + pathSettings, "PUT " + pathOurSetting, "PUT " + pathPolicy},
			check: func(t *testing.T, tr *fakeTransport) {
				body := tr.lastBody(http.MethodPut, pathOurSetting)
				require.Equal(t, ws1, gjson.Get(body, "properties.workspaceId").String())
				require.Equal(t, AuditLogCategory, gjson.Get(body, "properties.logs.0.category").String())
				require.True(t, gjson.Get(body, "properties.logs.0.enabled").Bool())

				body = tr.lastBody(http.MethodPut, pathPolicy)
				require.Equal(t, "Enabled", gjson.Get(body, "properties.state").String())
				require.True(t, gjson.Get(body, "properties.isAzureMonitorTargetEnabled").Bool())
				require.Len(t, gjson.Get(body, "properties.auditActionsAndGroups").Array(), len(defaultAuditActionsAndGroups))
			},
		},
		{
			name: "server not found",
			responses: func(t *testing.T) map[string]fakeResponse {
				return map[string]fakeResponse{}
			},
			run: func(p *Provider) error {
				_, err := p.GetAuditState(context.Background(), sess, server)
				return err
			},
			err:   "server /subscriptions/" + testSubscriptionId + "/resourceGroups/rg/providers/Microsoft.Sql/servers/srv not found",
			calls: []string{"HEAD " + pathServer},
		},
		{
			name: "diagnostic setting creation failure stops before the policy update",
			responses: func(t *testing.T) map[string]fakeResponse {
				resp := serverResponses(t, policy(armsql.BlobAuditingPolicyStateDisabled, false, ""))
				resp["PUT "+pathOurSetting] = fakeResponse{status: http.StatusForbidden, body: `{"error":{"code":"AuthorizationFailed","message":"denied"}}`}
				return resp
			},
			run: func(p *Provider) error {
				return p.EnableAudit(context.Background(), sess, server, ws1)
			},
			err:   "creating the diagnostic setting",
			calls: []string{"HEAD " + pathServer, "GET " + pathPolicy, "GET " + pathSettings, "PUT " + pathOurSetting},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			tr := newFakeTransport(tt.responses(t))
			p, err := NewProvider(nil, testClientBuilder(tr), ws1)
			require.NoError(t, err)

			err = tt.run(p)
			if tt.err != "" {
				require.ErrorContains(t, err, tt.err)
			} else {
				require.NoError(t, err)
			}

			calls := tr.calls()
			require.Len(t, calls, len(tt.calls), "%v", calls)
			for i, c := range tt.calls {
				method, suffix, _ := strings.Cut(c, " ")
				require.True(t, strings.HasPrefix(calls[i], method+" "), "call %d: %s", i, calls[i])
				require.True(t, strings.HasSuffix(strings.ToLower(calls[i]), strings.ToLower(suffix)), "call %d: %s", i, calls[i])
			}
			if tt.check != nil {
				tt.check(t, tr)
			}
		})
	}
}

func TestCheckWorkspace(t *testing.T) {
	const pathWorkspace = "/workspaces/ws1"
	cases := []struct {
		name     string
		id       string
		mode     config.Mode
		response *fakeResponse
		isConfig bool
		isOther  bool
		calls    int
	}{
		{name: "no workspace", mode: config.ModeReportOnly},
		{name: "enable with existing workspace", id: ws1, mode: config.ModeEnable, response: &fakeResponse{status: http.StatusOK, body: "{}"}, calls: 1},
		{name: "enable with missing workspace", id: ws1, mode: config.ModeEnable, isConfig: true, calls: 1},
		{name: "disable with missing workspace", id: ws1, mode: config.ModeDisable, calls: 1},
		{name: "report only with missing workspace", id: ws1, mode: config.ModeReportOnly, calls: 1},
		{
			name:     "disable with forbidden workspace",
			id:       ws1,
			mode:     config.ModeDisable,
			response: &fakeResponse{status: http.StatusForbidden, body: `{"error":{"code":"AuthorizationFailed","message":"denied"}}`},
			isOther:  true,
			calls:    1,
		},
		{name: "malformed workspace id", id: "/subscriptions/sub/resourceGroups/rg", mode: config.ModeDisable, isConfig: true},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			responses := map[string]fakeResponse{}
			if tt.response != nil {
				responses["GET "+pathWorkspace] = *tt.response
			}
			tr := newFakeTransport(responses)

			err := CheckWorkspace(context.Background(), nil, testClientBuilder(tr), tt.id, tt.mode)
			require.Len(t, tr.calls(), tt.calls)
			switch {
			case tt.isConfig:
				var cerr *errs.ConfigError
				require.True(t, errors.As(err, &cerr), "%v", err)
			case tt.isOther:
				var perr *errs.ProviderError
				require.True(t, errors.As(err, &perr), "%v", err)
			default:
				require.NoError(t, err)
			}
		})
	}
}
