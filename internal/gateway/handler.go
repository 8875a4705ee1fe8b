package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/marketpulse/simulator/internal/auth"
	"github.com/marketpulse/simulator/internal/ledger"
	"github.com/marketpulse/simulator/internal/protocol"
	"github.com/marketpulse/simulator/internal/registry"
)

// Admitter installs a verified identity as a live session and then handles
// its traffic.
type Admitter interface {
	Handler
	Admit(ctx context.Context, ident auth.Identity, c registry.Client) error
}

// ServeWS returns the websocket endpoint handler. The bearer credential is
// verified before the upgrade, so an unauthorized request is refused with a
// plain 401 and never reaches the messaging protocol. Admission failures
// after the upgrade are reported with a typed ERROR and a close; an unknown
// user is told so, while a store outage gets a neutral message.
func ServeWS(verifier auth.Verifier, eng Admitter, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, err := verifier.Verify(r.URL.Query().Get("token"))
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}

		client := NewClient(conn, ident.UserID, ident.Email, eng, logger)
		client.Start()

		if err := eng.Admit(r.Context(), ident, client); err != nil {
			logger.Warn("Admission failed", zap.String("user_id", ident.UserID), zap.Error(err))
			msg := "Service temporarily unavailable"
			if errors.Is(err, ledger.ErrNotFound) {
				msg = "Account not found"
			}
			client.SendJSON(protocol.ServerMessage{Type: protocol.TypeError, Message: msg})
			client.Close()
		}
	}
}
