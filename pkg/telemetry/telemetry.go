package telemetry

import (
	"github.com/microsoft/ApplicationInsights-Go/appinsights"
	"github.com/microsoft/ApplicationInsights-Go/appinsights/contracts"
)

// Level is the severity of a trace. The values match the Application Insights severity levels.
type Level int

const (
	Verbose Level = iota
	Info
	Warn
	Error
	Critical
)

// Client records how azsqlaudit is used. Server names, resource ids and file paths are never passed to it.
type Client interface {
	Trace(level Level, msg string)
	// Event records a named milestone of a run, together with its properties and measurements.
	Event(name string, props map[string]string, measurements map[string]float64)
	Close()
}

type NullClient struct{}

func NewNullClient() Client {
	return NullClient{}
}

func (NullClient) Trace(Level, string)                                 {}
func (NullClient) Event(string, map[string]string, map[string]float64) {}
func (NullClient) Close()                                              {}

// AppInsightClient sends the traces and events to Application Insights. Every item carries the installation id
// and the session id as properties.
type AppInsightClient struct {
	appinsights.TelemetryClient
}

// NewAppInsight returns a client that sends to the Application Insights resource identified by the instrumentation key.
// It returns a NullClient if no key is given.
func NewAppInsight(instrumentKey, installId, sessionId string) Client {
	if instrumentKey == "" {
		return NewNullClient()
	}
	tc := appinsights.NewTelemetryClient(instrumentKey)
	tc.Context().CommonProperties[PropInstallationId] = installId
	tc.Context().CommonProperties[PropSessionId] = sessionId
	return AppInsightClient{TelemetryClient: tc}
}

func (c AppInsightClient) Trace(level Level, msg string) {
	c.TrackTrace(msg, contracts.SeverityLevel(level))
}

func (c AppInsightClient) Event(name string, props map[string]string, measurements map[string]float64) {
	e := appinsights.NewEventTelemetry(name)
	for k, v := range props {
		e.Properties[k] = v
	}
	for k, v := range measurements {
		e.Measurements[k] = v
	}
	c.Track(e)
}

func (c AppInsightClient) Close() {
	<-c.Channel().Close()
}
