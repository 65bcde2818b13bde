package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	azlog "github.com/Azure/azure-sdk-for-go/sdk/azcore/log"
)

// ParseLevel parses the textual log level, case insensitively.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.Level(0), fmt.Errorf("unknown log level: %s", level)
	}
}

// New builds the logger. Without a path, the logs are discarded.
// The returned closer must be called once the logger is no longer used.
func New(path string, level slog.Level) (*slog.Logger, io.Closer, error) {
	if path == "" {
		return slog.New(slog.DiscardHandler), io.NopCloser(nil), nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("creating log file %s: %v", path, err)
	}
	return newLogger(f, level), f, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})).With("app", "azsqlaudit")
}

// BridgeAzureSDK forwards the Azure SDK logs to the logger at debug level.
func BridgeAzureSDK(logger *slog.Logger) {
	azlog.SetListener(func(cls azlog.Event, msg string) {
		logger.Debug(msg, "sdk_event", string(cls))
	})
}
