package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/snapgrade/snapgrade/internal/model"
)

const tokenTTL = 8 * time.Hour

// Auth issues and verifies the bearer tokens protecting the admin API.
type Auth struct {
	store  userStore
	secret []byte
}

type userStore interface {
	GetUserByUsername(username string) (*model.User, error)
}

func NewAuth(st userStore, secret string) *Auth {
	return &Auth{store: st, secret: []byte(secret)}
}

type claims struct {
	Username string         `json:"username"`
	Role     model.UserRole `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs a token for an authenticated user.
func (a *Auth) IssueToken(u *model.User) (string, error) {
	now := time.Now()
	c := &claims{
		Username: u.Username,
		Role:     u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprint(u.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(a.secret)
}

func (a *Auth) parse(tokenStr string) (*claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &claims{}, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return c, nil
}

// HandleLogin exchanges a username and password for a bearer token.
func (a *Auth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user, err := a.store.GetUserByUsername(req.Username)
	if err != nil {
		slog.Error("failed to load user", "username", req.Username, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil || !user.Active {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := a.IssueToken(user)
	if err != nil {
		slog.Error("failed to issue token", "username", req.Username, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("user logged in", "username", user.Username, "role", user.Role)
	respondJSON(w, http.StatusOK, map[string]string{"access_token": token})
}

// Middleware rejects requests without a valid bearer token and stores the
// authenticated user in the request context.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		c, err := a.parse(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		user, err := a.store.GetUserByUsername(c.Username)
		if err != nil {
			slog.Error("failed to load token user", "username", c.Username, "error", err)
			respondError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if user == nil || !user.Active {
			respondError(w, http.StatusUnauthorized, "account disabled")
			return
		}
		next.ServeHTTP(w, r.WithContext(model.ContextWithUser(r.Context(), user)))
	})
}

// RequireAdmin guards admin-only routes. It assumes Middleware already ran.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := model.UserFromContext(r.Context())
		if u == nil || u.Role != model.UserRoleAdmin {
			respondError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
