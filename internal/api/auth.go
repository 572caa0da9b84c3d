package api

import (
	"database/sql"
	"net/http"

	"github.com/jonboulle/clockwork"

	"github.com/erazemk/shramba/internal/apperr"
	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/store"
)

// AuthHandler handles token endpoints. Tokens are issued by the CLI, which
// has direct access to the signing secret.
type AuthHandler struct {
	DB    *sql.DB
	Clock clockwork.Clock
	responder
}

// Revoke handles POST /api/auth/revoke. It revokes the calling token and
// prunes revocations of tokens that have since expired.
func (h *AuthHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	if claims == nil || claims.ExpiresAt == nil {
		unauthorized(w, "not authenticated")
		return
	}

	var pruned int64
	err := db.WithTx(r.Context(), h.DB, func(tx *sql.Tx) error {
		if err := store.RevokeToken(r.Context(), tx, claims.ID, claims.ExpiresAt.Time); err != nil {
			return err
		}
		var err error
		pruned, err = store.PruneRevocations(r.Context(), tx, h.Clock.Now())
		return err
	})
	if err != nil {
		h.fail(w, r, apperr.Wrap(err))
		return
	}
	h.logger.Info("token revoked", "client", claims.Client, "jti", claims.ID, "pruned", pruned)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "token revoked"})
}
