package main

import (
	"encoding/json"
	"net/http"

	"github.com/rickgao/wallet-notify/internal/archive"
	"github.com/rickgao/wallet-notify/internal/realtime"
	"github.com/rickgao/wallet-notify/internal/version"
)

// statsSource is satisfied by realtime.Client.
type statsSource interface {
	Stats() realtime.Stats
	ClientID() string
	Topics() []string
}

// newHealthHandler creates the HTTP handler for health checks. writer may be nil.
func newHealthHandler(client statsSource, writer *archive.Writer) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		stats := client.Stats()

		health := struct {
			Status     string         `json:"status"`
			Version    string         `json:"version"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Version:    version.String(),
			Components: make(map[string]any),
		}

		// Check realtime connection
		health.Components["realtime"] = map[string]any{
			"state":             stats.State.String(),
			"client_id":         client.ClientID(),
			"topics":            client.Topics(),
			"received":          stats.MessagesReceived,
			"dispatched":        stats.MessagesDispatched,
			"sent":              stats.MessagesSent,
			"parse_errors":      stats.ParseErrors,
			"handler_panics":    stats.HandlerPanics,
			"reconnect_attempt": stats.ReconnectAttempt,
			"reconnect_pending": stats.ReconnectPending,
			"gave_up":           stats.GaveUp,
		}
		switch stats.State {
		case realtime.StateConnected:
		case realtime.StateConnecting:
			health.Status = "degraded"
		default:
			if stats.ReconnectPending {
				health.Status = "degraded"
			} else {
				health.Status = "unhealthy"
			}
		}

		// Check archive writer
		if writer != nil {
			m := writer.Stats()
			health.Components["archive"] = map[string]any{
				"received": m.Received,
				"inserts":  m.Inserts,
				"dropped":  m.Dropped,
				"errors":   m.Errors,
				"flushes":  m.Flushes,
			}
			if m.Dropped > 0 && health.Status == "healthy" {
				health.Status = "degraded"
			}
		}

		// Set response
		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
