package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/bbux/presale-api/internal/services"
)

const sessionCookie = "admin_session"

// AdminLoginRequest is the body of a wallet-signature login.
type AdminLoginRequest struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// AdminLogin handles wallet-signature admin authentication. The session token
// is set as an HTTP-only cookie and also returned in the body for non-browser
// clients.
func AdminLogin(authService *services.AdminAuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AdminLoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		token, expiresAt, err := authService.Login(req.Address, req.Message, req.Signature)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, services.ErrAdminNotConfigured) {
				status = http.StatusServiceUnavailable
			}
			http.Error(w, err.Error(), status)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    token,
			Path:     "/",
			Expires:  expiresAt,
			HttpOnly: true,
			Secure:   r.TLS != nil,
			SameSite: http.SameSiteLaxMode,
		})

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"token":     token,
			"expiresAt": expiresAt,
		})
	}
}

// AdminLogout clears the session cookie
func AdminLogout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    "",
			Path:     "/",
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
		})

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	}
}

// AdminSession reports the authenticated wallet, for dashboard bootstrapping.
func AdminSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wallet, _ := AdminWalletFromContext(r.Context())

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"wallet": wallet})
	}
}

// AdminMiddleware is a middleware guarding the admin surface. The session
// token is read from the cookie, with a Bearer header fallback.
func AdminMiddleware(authService *services.AdminAuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ""
			if cookie, err := r.Cookie(sessionCookie); err == nil {
				token = cookie.Value
			}
			if token == "" {
				if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
					token = auth[7:]
				}
			}
			if token == "" {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			wallet, err := authService.ValidateSession(token)
			if err != nil {
				http.Error(w, "Invalid session", http.StatusUnauthorized)
				return
			}

			ctx := NewContextWithAdminWallet(r.Context(), wallet)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
