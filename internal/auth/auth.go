package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/seanblong/contractlens/internal/errs"
	"github.com/seanblong/contractlens/pkg/models"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const SessionContextKey ContextKey = "session_id"

const (
	CookieName  = "contractlens_session"
	HeaderName  = "X-Session-Token"
	tokenIssuer = "contractlens"
)

var (
	ErrNoToken      = errors.New("session token required")
	ErrInvalidToken = errors.New("invalid session token")
)

type Claims struct {
	jwt.RegisteredClaims
}

// Issuer signs and verifies session tokens. A token carries nothing but the
// session id and its expiry.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

func NewIssuer(secret string) (*Issuer, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("%w: token secret must be at least 16 bytes", errs.ErrValidation)
	}
	return &Issuer{secret: []byte(secret), now: time.Now}, nil
}

// Issue creates a token for the session, valid until the session expires.
func (i *Issuer) Issue(s *models.Session) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   s.ID,
			IssuedAt:  jwt.NewNumericDate(i.now()),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Validate returns the session id carried by the token. An expired token
// reports errs.ErrSessionGone; any other failure ErrInvalidToken.
func (i *Issuer) Validate(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return i.secret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return "", fmt.Errorf("%w: token expired", errs.ErrSessionGone)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Refresh reissues the session's token after its TTL was extended and hands
// it back through the cookie and the X-Session-Token response header.
// Clients using the Authorization header pick the new token up from there.
func (i *Issuer) Refresh(w http.ResponseWriter, r *http.Request, s *models.Session) error {
	token, err := i.Issue(s)
	if err != nil {
		return err
	}
	w.Header().Set(HeaderName, token)
	SetCookie(w, r, token, s.ExpiresAt)
	return nil
}

// TokenFromRequest extracts the token from the Authorization header, the
// X-Session-Token header or the session cookie, in that order.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if h := r.Header.Get(HeaderName); h != "" {
		return strings.TrimSpace(h)
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

// Middleware rejects requests without a valid session token and puts the
// session id into the request context.
func (i *Issuer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := TokenFromRequest(r)
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, ErrNoToken.Error())
			return
		}

		id, err := i.Validate(tokenString)
		if errors.Is(err, errs.ErrSessionGone) {
			writeError(w, http.StatusGone, "session expired")
			return
		}
		if err != nil {
			writeError(w, http.StatusUnauthorized, ErrInvalidToken.Error())
			return
		}

		ctx := context.WithValue(r.Context(), SessionContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetCookie hands the token to browsers as an HttpOnly cookie that expires
// with the session.
func SetCookie(w http.ResponseWriter, r *http.Request, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   r.TLS != nil || strings.HasPrefix(r.Header.Get("X-Forwarded-Proto"), "https"),
		SameSite: http.SameSiteStrictMode,
	})
}

func ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:   CookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}

// SessionID extracts the session id placed by Middleware.
func SessionID(ctx context.Context) string {
	if id, ok := ctx.Value(SessionContextKey).(string); ok {
		return id
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
