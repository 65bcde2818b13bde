package internal

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Azure/azsqlaudit/internal/audit"
	"github.com/Azure/azsqlaudit/internal/errs"
	"github.com/Azure/azsqlaudit/internal/serverlist"
	"github.com/Azure/azsqlaudit/internal/session"
	"github.com/Azure/azsqlaudit/pkg/config"
	"github.com/Azure/azsqlaudit/pkg/telemetry"
	"github.com/stretchr/testify/require"
)

const (
	wsOurs  = "/subscriptions/00000000-0000-0000-0000-000000000000/resourceGroups/rg/providers/Microsoft.OperationalInsights/workspaces/ours"
	wsOther = "/subscriptions/00000000-0000-0000-0000-000000000000/resourceGroups/rg/providers/Microsoft.OperationalInsights/workspaces/other"
)

type fakeSwitcher struct {
	calls []string
	err   error
}

func (s *fakeSwitcher) Switch(_ context.Context, subscription string) (session.Session, error) {
	s.calls = append(s.calls, subscription)
	if s.err != nil {
		return session.Session{}, s.err
	}
	return session.Session{SubscriptionName: subscription, SubscriptionId: "id-" + subscription}, nil
}

type fakeProvider struct {
	states   map[string]audit.State
	sessions []string
	enabled  []string
	disabled []string
	getErr   error
}

func (p *fakeProvider) GetAuditState(_ context.Context, sess session.Session, server serverlist.Server) (audit.State, error) {
	p.sessions = append(p.sessions, sess.SubscriptionName)
	if p.getErr != nil {
		return audit.State{}, p.getErr
	}
	return p.states[server.Name], nil
}

func (p *fakeProvider) EnableAudit(_ context.Context, _ session.Session, server serverlist.Server, _ string) error {
	p.enabled = append(p.enabled, server.Name)
	return nil
}

func (p *fakeProvider) DisableAudit(_ context.Context, _ session.Session, server serverlist.Server, _ string) error {
	p.disabled = append(p.disabled, server.Name)
	return nil
}

func writeServerList(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "servers.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestRun(t *testing.T) {
	enabledOurs := audit.State{TargetState: audit.TargetStateEnabled, WorkspaceResourceId: wsOurs}
	enabledOther := audit.State{TargetState: audit.TargetStateEnabled, WorkspaceResourceId: wsOther}

	cases := []struct {
		name          string
		content       string
		mode          config.Mode
		workspaceId   string
		states        map[string]audit.State
		expectOutput  []string
		expectEnabled []string
		expectDisable []string
		expectSwitch  []string
	}{
		{
			name:          "enable with a subscription switch",
			content:       "subscriptionName;resourceGroup;name\nA;rg;s1\nB;rg;s2\n",
			mode:          config.ModeEnable,
			workspaceId:   wsOurs,
			states:        map[string]audit.State{"s2": enabledOurs},
			expectOutput:  []string{"[1/2] A/rg/s1: Enabled", "[2/2] B/rg/s2: Already enabled"},
			expectEnabled: []string{"s1"},
			expectSwitch:  []string{"B"},
		},
		{
			name:          "disable skips servers of other workspaces",
			content:       "subscriptionName,resourceGroup,name\nA,rg,s1\nA,rg,s2\nA,rg,s3\n",
			mode:          config.ModeDisable,
			workspaceId:   strings.ToUpper(wsOurs),
			states:        map[string]audit.State{"s1": enabledOurs, "s2": enabledOther},
			expectOutput:  []string{"[1/3] A/rg/s1: Disabled", "[2/3] A/rg/s2: Skipped (other settings in use)", "[3/3] A/rg/s3: ---"},
			expectDisable: []string{"s1"},
		},
		{
			name:         "report only never mutates",
			content:      "subscriptionName,resourceGroup,name\nA,rg,s1\nA,rg,s2\nC,rg,s3\n",
			mode:         config.ModeReportOnly,
			states:       map[string]audit.State{"s1": enabledOurs, "s2": enabledOther},
			expectOutput: []string{"[1/3] A/rg/s1: Other settings in use", "[2/3] A/rg/s2: Other settings in use", "[3/3] C/rg/s3: ---"},
			expectSwitch: []string{"C"},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			sw := &fakeSwitcher{}
			p := &fakeProvider{states: tt.states}
			var stdout bytes.Buffer
			cfg := config.Config{
				CommonConfig: config.CommonConfig{PlainUI: true},
				CSVFile:      writeServerList(t, tt.content),
				WorkspaceId:  tt.workspaceId,
				Mode:         tt.mode,
			}
			report, err := Run(context.Background(), cfg, RunOption{
				Provider: p,
				Switcher: sw,
				Session:  session.Session{SubscriptionName: "A", SubscriptionId: "id-A"},
				Stdout:   &stdout,
			})
			require.NoError(t, err)
			require.Equal(t, strings.Join(tt.expectOutput, "\n")+"\n", stdout.String())
			require.Equal(t, tt.expectEnabled, p.enabled)
			require.Equal(t, tt.expectDisable, p.disabled)
			require.Equal(t, tt.expectSwitch, sw.calls)
			require.Len(t, report.Results, len(tt.expectOutput))
		})
	}
}

func TestRunSwitchesOnlyOnChange(t *testing.T) {
	sw := &fakeSwitcher{}
	p := &fakeProvider{}
	cfg := config.Config{
		CommonConfig: config.CommonConfig{PlainUI: true},
		CSVFile:      writeServerList(t, "subscriptionName,resourceGroup,name\nA,rg,s1\nA,rg,s2\nB,rg,s3\nB,rg,s4\nA,rg,s5\n"),
		Mode:         config.ModeReportOnly,
	}
	_, err := Run(context.Background(), cfg, RunOption{
		Provider: p,
		Switcher: sw,
		Session:  session.Session{SubscriptionName: "other"},
		Stdout:   &bytes.Buffer{},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B", "A"}, sw.calls)
	require.Equal(t, []string{"A", "A", "B", "B", "A"}, p.sessions)
}

func TestRunFailures(t *testing.T) {
	t.Run("malformed server list", func(t *testing.T) {
		p := &fakeProvider{}
		cfg := config.Config{
			CommonConfig: config.CommonConfig{PlainUI: true},
			CSVFile:      writeServerList(t, "subscriptionName,resourceGroup,name\nA,rg,s1\nA,rg\n"),
			Mode:         config.ModeEnable,
			WorkspaceId:  wsOurs,
		}
		_, err := Run(context.Background(), cfg, RunOption{Provider: p, Switcher: &fakeSwitcher{}, Stdout: &bytes.Buffer{}})
		var cerr *errs.ConfigError
		require.True(t, errors.As(err, &cerr))
		require.Empty(t, p.sessions)
	})

	t.Run("switch failure halts the run", func(t *testing.T) {
		p := &fakeProvider{}
		sw := &fakeSwitcher{err: errs.Session("subscription %q not found", "B")}
		var stdout bytes.Buffer
		cfg := config.Config{
			CommonConfig: config.CommonConfig{PlainUI: true},
			CSVFile:      writeServerList(t, "subscriptionName,resourceGroup,name\nA,rg,s1\nB,rg,s2\nA,rg,s3\n"),
			Mode:         config.ModeEnable,
			WorkspaceId:  wsOurs,
		}
		report, err := Run(context.Background(), cfg, RunOption{
			Provider: p,
			Switcher: sw,
			Session:  session.Session{SubscriptionName: "A"},
			Stdout:   &stdout,
		})
		var serr *errs.SessionError
		require.True(t, errors.As(err, &serr))
		require.ErrorContains(t, err, "line 3")
		require.Equal(t, []string{"s1"}, p.enabled)
		require.Len(t, report.Results, 1)
		require.Equal(t, "[1/3] A/rg/s1: Enabled\n", stdout.String())
	})

	t.Run("provider failure halts the run", func(t *testing.T) {
		p := &fakeProvider{getErr: errors.New("403 forbidden")}
		cfg := config.Config{
			CommonConfig: config.CommonConfig{PlainUI: true},
			CSVFile:      writeServerList(t, "subscriptionName,resourceGroup,name\nA,rg,s1\nA,rg,s2\n"),
			Mode:         config.ModeReportOnly,
		}
		_, err := Run(context.Background(), cfg, RunOption{
			Provider: p,
			Switcher: &fakeSwitcher{},
			Session:  session.Session{SubscriptionName: "A"},
			Stdout:   &bytes.Buffer{},
		})
		var perr *errs.ProviderError
		require.True(t, errors.As(err, &perr))
		require.Equal(t, "A/rg/s1", perr.Server)
		require.Len(t, p.sessions, 1)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		p := &fakeProvider{}
		cfg := config.Config{
			CommonConfig: config.CommonConfig{PlainUI: true},
			CSVFile:      writeServerList(t, "subscriptionName,resourceGroup,name\nA,rg,s1\n"),
			Mode:         config.ModeReportOnly,
		}
		_, err := Run(ctx, cfg, RunOption{Provider: p, Switcher: &fakeSwitcher{}, Stdout: &bytes.Buffer{}})
		require.ErrorIs(t, err, context.Canceled)
		require.Empty(t, p.sessions)
	})
}

type recordingTelemetry struct {
	events []string
	props  []map[string]string
	meas   []map[string]float64
}

func (c *recordingTelemetry) Trace(telemetry.Level, string) {}

func (c *recordingTelemetry) Event(name string, props map[string]string, measurements map[string]float64) {
	c.events = append(c.events, name)
	c.props = append(c.props, props)
	c.meas = append(c.meas, measurements)
}

func (c *recordingTelemetry) Close() {}

func TestRunTelemetry(t *testing.T) {
	cases := []struct {
		name          string
		switchErr     error
		expectFailure string
		expectEnabled float64
		expectServers float64
	}{
		{name: "completed", expectEnabled: 2, expectServers: 2},
		{name: "stopped", switchErr: errs.Session("subscription %q not found", "B"), expectFailure: "session", expectEnabled: 1, expectServers: 1},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			tc := &recordingTelemetry{}
			cfg := config.Config{
				CommonConfig: config.CommonConfig{PlainUI: true, TelemetryClient: tc},
				CSVFile:      writeServerList(t, "subscriptionName,resourceGroup,name\nA,rg,secret-server\nB,rg,s2\n"),
				Mode:         config.ModeEnable,
				WorkspaceId:  wsOurs,
			}
			sw := &fakeSwitcher{}
			if tt.switchErr != nil {
				sw.err = tt.switchErr
			}
			_, _ = Run(context.Background(), cfg, RunOption{
				Provider: &fakeProvider{},
				Switcher: sw,
				Session:  session.Session{SubscriptionName: "A"},
				Stdout:   &bytes.Buffer{},
			})

			require.Equal(t, []string{telemetry.EventRunStarted, telemetry.EventRunFinished}, tc.events)
			require.Equal(t, "enable", tc.props[1][telemetry.PropMode])
			require.Equal(t, tt.expectFailure, tc.props[1][telemetry.PropFailure])
			require.Equal(t, tt.expectEnabled, tc.meas[1][string(audit.OutcomeEnabled)])
			require.Equal(t, tt.expectServers, tc.meas[1][telemetry.MeasureServers])
			for _, props := range tc.props {
				for _, v := range props {
					require.NotContains(t, v, "secret-server")
				}
			}
		})
	}
}

func TestFailureKind(t *testing.T) {
	cases := []struct {
		err    error
		expect string
	}{
		{err: nil, expect: ""},
		{err: context.Canceled, expect: "canceled"},
		{err: errs.Config("bad"), expect: "config"},
		{err: errs.Session("no session"), expect: "session"},
		{err: &errs.ProviderError{Server: "A/rg/s1", Err: errors.New("403")}, expect: "provider"},
		{err: errors.New("boom"), expect: "other"},
	}
	for _, tt := range cases {
		require.Equal(t, tt.expect, failureKind(tt.err))
	}
}
