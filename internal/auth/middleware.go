package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// Mode selects how requests are authenticated.
type Mode string

const (
	ModeNone   Mode = "none"
	ModeJWT    Mode = "jwt"
	ModeAPIKey Mode = "apikey"
)

// APIKeyHeader carries the key in apikey mode. A bearer token works too.
const APIKeyHeader = "X-API-Key"

// TokenCookie carries the JWT for browser clients, which cannot set headers
// on a WebSocket handshake.
const TokenCookie = "token"

type contextKey string

const subjectKey contextKey = "subject"

// Authenticator checks request credentials according to its Mode.
type Authenticator struct {
	mode   Mode
	tokens *TokenService
	keys   *KeyHasher
	logger *slog.Logger
}

// NewAuthenticator creates an Authenticator. tokens is required in jwt mode
// and keys in apikey mode.
func NewAuthenticator(mode Mode, tokens *TokenService, keys *KeyHasher, logger *slog.Logger) (*Authenticator, error) {
	switch mode {
	case "", ModeNone:
		mode = ModeNone
	case ModeJWT:
		if tokens == nil {
			return nil, fmt.Errorf("auth: jwt mode requires a token service")
		}
	case ModeAPIKey:
		if keys == nil || len(keys.hashes) == 0 {
			return nil, fmt.Errorf("auth: apikey mode requires at least one key hash")
		}
	default:
		return nil, fmt.Errorf("auth: unknown mode %q", mode)
	}
	return &Authenticator{mode: mode, tokens: tokens, keys: keys, logger: logger}, nil
}

// Mode returns the configured mode.
func (a *Authenticator) Mode() Mode { return a.mode }

// RequireAuth rejects unauthenticated requests with 401 and stores the
// caller's subject in the request context. In none mode it passes every
// request through.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	if a.mode == ModeNone {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, err := a.authenticate(r)
		if err != nil {
			a.logger.Debug("request rejected",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			w.Header().Set("Content-Type", "application/json")
			if a.mode == ModeJWT {
				w.Header().Set("WWW-Authenticate", `Bearer realm="notebook-server"`)
			}
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized","message":"valid authentication required"}`))
			return
		}

		ctx := context.WithValue(r.Context(), subjectKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SubjectFromContext returns the authenticated subject, if any.
func SubjectFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(subjectKey).(string)
	return s, ok && s != ""
}

func (a *Authenticator) authenticate(r *http.Request) (string, error) {
	switch a.mode {
	case ModeJWT:
		tok := bearerToken(r)
		if tok == "" {
			if c, err := r.Cookie(TokenCookie); err == nil {
				tok = c.Value
			}
		}
		if tok == "" {
			return "", fmt.Errorf("auth: no token")
		}
		return a.tokens.Validate(tok)

	case ModeAPIKey:
		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			key = bearerToken(r)
		}
		if err := a.keys.Verify(key); err != nil {
			return "", err
		}
		return "apikey", nil
	}
	return "", nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}
