package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"RadioRoyal/core/auth"
	"RadioRoyal/logger"
)

// TokenRequest represents the token request body
type TokenRequest struct {
	Password string `json:"password"`
}

// TokenHandler exchanges the admin password for a relay token.
func (h *APIHandler) TokenHandler(w http.ResponseWriter, r *http.Request) {
	if !h.signer.Enabled() || h.cfg.AdminPasswordHash == "" {
		writeError(w, http.StatusServiceUnavailable, "relay authentication is not configured")
		return
	}

	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("[Token] 解析请求体失败", logger.ErrorField(err))
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}

	// 验证密码
	if !auth.CheckPasswordHash(req.Password, h.cfg.AdminPasswordHash) {
		logger.Warn("[Token] 密码验证失败", logger.String("remote", r.RemoteAddr))
		writeError(w, http.StatusUnauthorized, "Invalid password")
		return
	}

	token, err := h.signer.Issue("admin", auth.RoleBroadcaster)
	if err != nil {
		logger.Error("[Token] 生成Token失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	logger.Info("[Token] 签发推流令牌", logger.String("remote", r.RemoteAddr))
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// bearerToken reads the token from the Authorization header, or from the
// token query parameter since browsers cannot set headers on WebSockets.
func bearerToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// RelayAuthMiddleware rejects relay upgrades without a valid token. The
// relay stays open when no secret is configured.
func (h *APIHandler) RelayAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.signer.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		token := bearerToken(r)
		if token == "" {
			http.Error(w, "Authorization is required", http.StatusUnauthorized)
			return
		}
		claims, err := h.signer.Parse(token)
		if err != nil || claims.Role != auth.RoleBroadcaster {
			logger.Warn("[Relay] 令牌无效", logger.String("remote", r.RemoteAddr), logger.ErrorField(err))
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
