// Package middleware provides HTTP middleware for authentication and authorization.
//
// Purpose:
//
//	This package implements the per-request gatekeeper pipeline: the
//	Authenticate middleware validates the presented token against the
//	session store's fingerprint and records the outcome in the request
//	context; the Authorize middleware feeds that outcome to the decision
//	engine and converts the verdict into a 401/403 or passes the request on.
//
// Dependencies:
//   - github.com/go-chi/chi/v5: router middleware composition
//   - internal/token: credential parsing
//   - internal/session: session record lookup
//   - internal/authz: decision engine
//
// Key Responsibilities:
//   - Extract the Bearer token from the Authorization header
//   - Verify signature and compare the session fingerprint (single-session
//     enforcement: a mismatch means the account signed in elsewhere)
//   - Store an Identity in the request context for handlers
//   - Enforce the engine's decision (401 for rejected/anonymous denials,
//     403 for insufficient permission)
//
// Debugging Notes:
//   - A missing or malformed header is anonymous, not an error; unmapped
//     routes still deny anonymous callers through the default policy
//   - A missing session record is anonymous too (expired or revoked) so
//     the response never reveals whether the principal exists
//   - Only a fingerprint mismatch or bad signature is a hard rejection
//
// Thread Safety:
//   - Middleware is stateless and safe for concurrent use
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/authz"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/metrics"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/session"
	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/token"
)

// Outcome is the terminal authentication state of one request.
type Outcome string

const (
	// OutcomeAnonymous means no usable credential was presented.
	OutcomeAnonymous Outcome = "anonymous"
	// OutcomeAuthenticated means the credential matched the session record.
	OutcomeAuthenticated Outcome = "authenticated"
	// OutcomeRejected means a credential was presented and refused.
	OutcomeRejected Outcome = "rejected"
)

// Rejection reasons surfaced in 401 responses. Deliberately coarse: they
// never reveal whether a principal exists.
const (
	reasonInvalidCredential = "invalid or expired credential"
	reasonSuperseded        = "account signed in from another device"
)

type contextKey string

const identityKey contextKey = "auth.identity"

// Identity is the authenticated context of one request.
type Identity struct {
	Outcome      Outcome
	UserID       uuid.UUID
	Username     string
	Permissions  authz.PermissionSet
	RoleKeys     []string
	RejectReason string
}

// Authenticated reports whether the caller holds a valid session.
func (id *Identity) Authenticated() bool {
	return id != nil && id.Outcome == OutcomeAuthenticated
}

// FromContext extracts the request identity. Returns an anonymous identity
// when the Authenticate middleware did not run.
func FromContext(ctx context.Context) *Identity {
	if id, ok := ctx.Value(identityKey).(*Identity); ok {
		return id
	}
	return &Identity{Outcome: OutcomeAnonymous}
}

// WithIdentity returns a context carrying the given identity. Exported for
// handler tests.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// Authenticate validates the presented credential and stores the resulting
// Identity in the request context. It never terminates the request itself
// except on session-store infrastructure failure; the Authorize middleware
// turns rejections into responses so the two stages stay composable.
func Authenticate(issuer *token.Issuer, sessions *session.Store, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := resolveIdentity(r, issuer, sessions, logger, w)
			if identity == nil {
				// Infrastructure failure; response already written.
				return
			}
			metrics.RecordAuthn(string(identity.Outcome))
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// resolveIdentity walks the authentication state machine. A nil return
// means the session store was unreachable and a 500 has been written.
func resolveIdentity(r *http.Request, issuer *token.Issuer, sessions *session.Store, logger zerolog.Logger, w http.ResponseWriter) *Identity {
	raw := bearerToken(r)
	if raw == "" {
		return &Identity{Outcome: OutcomeAnonymous}
	}

	claims, err := issuer.Parse(raw)
	if err != nil {
		logger.Debug().Err(err).Str("path", r.URL.Path).Msg("credential rejected")
		return &Identity{Outcome: OutcomeRejected, RejectReason: reasonInvalidCredential}
	}

	rec, err := sessions.Get(r.Context(), claims.UserID)
	if errors.Is(err, session.ErrNotFound) {
		// Session expired or was revoked. Treated as anonymous so the
		// response does not confirm the principal ever existed.
		return &Identity{Outcome: OutcomeAnonymous}
	}
	if err != nil {
		logger.Error().Err(err).Msg("session store lookup failed")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return nil
	}

	if rec.Fingerprint != claims.Fingerprint {
		// A newer login overwrote the record: this token is superseded.
		logger.Debug().
			Str("user", rec.Username).
			Str("path", r.URL.Path).
			Msg("fingerprint mismatch, token superseded")
		return &Identity{Outcome: OutcomeRejected, RejectReason: reasonSuperseded}
	}

	return &Identity{
		Outcome:     OutcomeAuthenticated,
		UserID:      rec.UserID,
		Username:    rec.Username,
		Permissions: authz.NewPermissionSet(rec.Permissions),
		RoleKeys:    rec.RoleKeys,
	}
}

// Authorize enforces the gatekeeper decision for every request that
// reaches it. Mount it after Authenticate on every protected subtree.
func Authorize(gk *authz.Gatekeeper, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := FromContext(r.Context())

			if identity.Outcome == OutcomeRejected {
				writeError(w, http.StatusUnauthorized, identity.RejectReason)
				return
			}

			start := time.Now()
			decision := gk.Authorize(identity.Permissions, identity.Authenticated(), r.Method, r.URL.Path)
			metrics.RecordDecision(decision.Allowed, decision.Matched, time.Since(start))

			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			if !identity.Authenticated() {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			logger.Debug().
				Str("user", identity.Username).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("permission", decision.Permission).
				Msg("request denied")
			writeError(w, http.StatusForbidden, "insufficient permission")
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
