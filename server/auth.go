package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// tokenTTL bounds browser tokens issued by login.
const tokenTTL = 24 * time.Hour

type contextKey int

const ctxKeySubject contextKey = 0

func contextWithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, ctxKeySubject, subject)
}

// signingKey derives the token signing key from the shared
// credential, so tokens stay valid across restarts without storing a
// second secret.
func signingKey(credential string) []byte {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(credential), nil, []byte("taskdeck token signing v1"))
	_, _ = io.ReadFull(r, key)
	return key
}

// authDisabled reports whether the board runs open. An empty
// credential means every request is accepted.
func (s *Server) authDisabled() bool {
	return s.cfg.Auth.Credential == ""
}

func (s *Server) credentialMatches(presented string) bool {
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(s.cfg.Auth.Credential)) == 1
}

// issueToken signs a short-lived token for browser sessions.
func (s *Server) issueToken(now time.Time) (string, time.Time, error) {
	expires := now.Add(tokenTTL)
	claims := jwt.RegisteredClaims{
		Subject:   "board",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// verifyToken validates a token, expiry included, and returns its
// subject.
func (s *Server) verifyToken(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{},
		func(*jwt.Token) (any, error) { return s.signKey, nil },
		jwt.WithValidMethods([]string{"HS256"}),
	)
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return "", errors.New("unexpected claims type")
	}
	return claims.Subject, nil
}

// loginRequest is the body accepted by POST /api/auth/login.
type loginRequest struct {
	Credential string `json:"credential"`
}

// loginResponse is the body returned by a successful login.
type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleLogin exchanges the shared credential for a signed token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.authDisabled() && !s.credentialMatches(req.Credential) {
		writeJSONError(w, http.StatusUnauthorized, "invalid credential")
		return
	}

	token, expires, err := s.issueToken(time.Now())
	if err != nil {
		s.logger.Error("issue token", slog.Any("err", err))
		writeJSONError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expires})
}

// handleMe returns the authenticated subject.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	subject := r.Context().Value(ctxKeySubject)
	writeJSON(w, http.StatusOK, map[string]string{"subject": fmt.Sprint(subject)})
}

// authenticate accepts the shared credential itself (Bearer or
// X-API-Key, how agents call back) or a login-issued token (how
// browsers call). Both map to the same authority.
func (s *Server) authenticate(r *http.Request) (string, error) {
	if s.authDisabled() {
		return "open", nil
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		if s.credentialMatches(key) {
			return "credential", nil
		}
		return "", errors.New("invalid api key")
	}
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", errors.New("missing or invalid Authorization header")
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if s.credentialMatches(token) {
		return "credential", nil
	}
	subject, err := s.verifyToken(token)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	return subject, nil
}

// authMiddleware enforces authentication on wrapped handlers.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, err := s.authenticate(r)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithSubject(r.Context(), subject)))
	})
}

// sseAuthorized checks the query token EventSource clients pass,
// since they cannot set headers. The raw credential works too.
func (s *Server) sseAuthorized(r *http.Request) bool {
	if s.authDisabled() {
		return true
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
			token = strings.TrimPrefix(ah, "Bearer ")
		}
	}
	if s.credentialMatches(token) {
		return true
	}
	_, err := s.verifyToken(token)
	return err == nil
}
