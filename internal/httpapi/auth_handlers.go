package httpapi

import (
	"net/http"
	"strings"

	"authgrid.org/internal/auth"
	"authgrid.org/internal/obs"
)

type registerRequest struct {
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Password   string `json:"password"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
}

type loginRequest struct {
	Login      string `json:"login"`
	Password   string `json:"password"`
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	RememberMe bool   `json:"remember_me"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	DeviceID     string `json:"device_id"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type authResponse struct {
	Tokens   auth.TokenPair        `json:"tokens"`
	Identity auth.IdentitySnapshot `json:"identity"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	result, err := a.auth.Register(r.Context(), auth.RegisterParams{
		Email:      req.Email,
		Phone:      req.Phone,
		Password:   req.Password,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		DeviceID:   req.DeviceID,
		DeviceName: req.DeviceName,
		IP:         clientIP(r),
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.register", "user", result.Identity.UserID, map[string]string{
		"email": result.Identity.Email,
	})
	writeJSON(w, http.StatusCreated, authResponse{Tokens: result.Tokens, Identity: result.Identity})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	result, err := a.auth.Login(r.Context(), auth.LoginParams{
		Login:      req.Login,
		Password:   req.Password,
		DeviceID:   req.DeviceID,
		DeviceName: req.DeviceName,
		RememberMe: req.RememberMe,
		IP:         clientIP(r),
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		obs.CountLogin("failure")
		handleAuthError(w, r, err)
		return
	}
	obs.CountLogin("success")
	a.audit(r.Context(), "auth.login", "user", result.Identity.UserID, map[string]string{
		"device_id": req.DeviceID,
	})
	writeJSON(w, http.StatusOK, authResponse{Tokens: result.Tokens, Identity: result.Identity})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}
	result, err := a.auth.Refresh(r.Context(), req.RefreshToken, req.DeviceID, clientIP(r))
	if err != nil {
		obs.CountRotation("failure")
		handleAuthError(w, r, err)
		return
	}
	obs.CountRotation("success")
	writeJSON(w, http.StatusOK, authResponse{Tokens: result.Tokens, Identity: result.Identity})
}

// handleLogout revokes a single refresh token. The endpoint is public and
// idempotent: revoking an unknown or already revoked token is still a 204.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req logoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}
	if err := a.auth.Logout(r.Context(), req.RefreshToken, clientIP(r)); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermissions(w, r) {
		return
	}
	userID := callerID(r.Context())
	n, err := a.auth.LogoutAll(r.Context(), userID, clientIP(r))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.logout_all", "user", userID, map[string]string{})
	writeJSON(w, http.StatusOK, map[string]any{"revoked": n})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermissions(w, r) {
		return
	}
	snapshot, err := a.auth.Snapshot(r.Context(), callerID(r.Context()))
	if err != nil {
		obs.CountSnapshot("error")
		handleAuthError(w, r, err)
		return
	}
	obs.CountSnapshot("ok")
	writeJSON(w, http.StatusOK, snapshot)
}
