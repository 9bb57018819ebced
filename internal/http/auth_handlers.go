package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"realtime-chat/internal/store"
	"realtime-chat/pkg/auth"
)

const (
	accessTTL  = 24 * time.Hour
	refreshTTL = 30 * 24 * time.Hour
)

// AuthStore is the slice of the store the auth endpoints need.
type AuthStore interface {
	CreateUser(ctx context.Context, email, password string) (store.User, error)
	VerifyUser(ctx context.Context, email, password string) (store.User, error)
	IssueRefreshToken(ctx context.Context, userID string, ttl time.Duration) (string, error)
	RotateRefreshToken(ctx context.Context, plain string, ttl time.Duration) (string, string, error)
	RevokeRefreshToken(ctx context.Context, plain string) error
}

type AuthAPI struct {
	DB  AuthStore
	JWT *auth.JWT
}

type credentialsReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
type refreshReq struct {
	RefreshToken string `json:"refreshToken"`
}
type tokenResp struct {
	Token        string      `json:"token"`
	RefreshToken string      `json:"refreshToken"`
	User         authUserDTO `json:"user"`
}
type authUserDTO struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Register handles user signup and returns a JWT + refresh token
func (a *AuthAPI) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	req.Email = strings.TrimSpace(req.Email)

	// Basic validation
	if len(req.Password) < 8 || !strings.Contains(req.Email, "@") {
		http.Error(w, "invalid email or weak password", http.StatusBadRequest)
		return
	}

	// Create user
	u, err := a.DB.CreateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			http.Error(w, "email already in use", http.StatusConflict)
			return
		}
		http.Error(w, "could not create user", http.StatusInternalServerError)
		return
	}

	a.issueTokens(w, r, u)
}

// Login verifies credentials and returns a JWT + refresh token
func (a *AuthAPI) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	// Check credentials
	u, err := a.DB.VerifyUser(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrBadCredentials) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	a.issueTokens(w, r, u)
}

// Refresh rotates the presented refresh token and returns a fresh pair
func (a *AuthAPI) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	uid, next, err := a.DB.RotateRefreshToken(r.Context(), req.RefreshToken, refreshTTL)
	if err != nil {
		http.Error(w, "invalid refresh token", http.StatusUnauthorized)
		return
	}

	tok, _ := a.JWT.Sign(uid, accessTTL)
	writeJSON(w, tokenResp{Token: tok, RefreshToken: next, User: authUserDTO{ID: uid}})
}

// Logout revokes the presented refresh token
func (a *AuthAPI) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	_ = a.DB.RevokeRefreshToken(r.Context(), req.RefreshToken)
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the authenticated user's ID
func (a *AuthAPI) Me(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserID(r.Context())
	if uid == "anon" || uid == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]string{"userId": uid})
}

func (a *AuthAPI) issueTokens(w http.ResponseWriter, r *http.Request, u store.User) {
	tok, _ := a.JWT.Sign(u.ID, accessTTL)
	refresh, err := a.DB.IssueRefreshToken(r.Context(), u.ID, refreshTTL)
	if err != nil {
		http.Error(w, "could not issue token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, tokenResp{Token: tok, RefreshToken: refresh, User: authUserDTO{ID: u.ID, Email: u.Email}})
}

// send JSON with proper headers
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
