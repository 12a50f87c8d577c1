package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
	"github.com/dukerupert/boothsurvey/internal/auth"
)

// HandleWebSocket upgrades an authenticated request and runs it as a Hub
// client bound to the caller's session.
func HandleWebSocket(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	logger = logger.With("component", "websocket")
	return func(w http.ResponseWriter, r *http.Request) {
		ac, ok := auth.FromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, nil)
		if err != nil {
			logger.Warn("accept", "error", err)
			return
		}

		client := NewClient(hub, conn, ac.WatchdogKey(), auth.IsAdmin(r.Context()))
		client.Run(r.Context())
	}
}
