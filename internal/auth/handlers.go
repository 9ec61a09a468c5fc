package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for session key management
type Handler struct {
	manager *Manager
}

// NewHandler creates a new auth handler
func NewHandler(m *Manager) *Handler {
	return &Handler{manager: m}
}

// Info returns auth configuration info
func (h *Handler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"type":      "session_key",
		"header":    "Authorization: Bearer sk_...",
		"altHeader": "X-Session-Key: sk_...",
		"note":      "Session key is returned on member registration. Store it securely.",
		"publicEndpoints": []string{
			"POST /v1/checkins",
			"GET /v1/members/:memberId",
			"GET /v1/checkins/recent",
		},
		"protectedEndpoints": []string{
			"GET /v1/members/:memberId/secret",
			"POST /v1/members/:memberId/secret/rotate",
			"GET /v1/members/:memberId/sessions",
		},
	})
}

// ListKeys returns session keys for the authenticated member
func (h *Handler) ListKeys(c *gin.Context) {
	key, ok := GetSessionKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	keys, err := h.manager.ListKeys(c.Request.Context(), key.MemberID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to list sessions",
		})
		return
	}

	// Don't expose hashes
	safeKeys := make([]gin.H, len(keys))
	for i, k := range keys {
		safeKeys[i] = gin.H{
			"id":        k.ID,
			"label":     k.Label,
			"createdAt": k.CreatedAt,
			"lastUsed":  k.LastUsed,
			"revoked":   k.Revoked,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": safeKeys,
		"count":    len(safeKeys),
	})
}

// CreateKeyRequest is the request body for enrolling a new device
type CreateKeyRequest struct {
	Label string `json:"label"`
}

// CreateKey enrolls an additional device for the authenticated member
func (h *Handler) CreateKey(c *gin.Context) {
	key, ok := GetSessionKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req CreateKeyRequest
	c.ShouldBindJSON(&req)
	if req.Label == "" {
		req.Label = "Additional device"
	}

	rawKey, newKey, err := h.manager.GenerateKey(c.Request.Context(), key.MemberID, req.Label)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to create session",
			"message": "Failed to enroll device",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"sessionKey": rawKey,
		"sessionId":  newKey.ID,
		"label":      newKey.Label,
		"warning":    "Store this key securely. It will not be shown again.",
	})
}

// RevokeKey revokes one of the member's session keys
func (h *Handler) RevokeKey(c *gin.Context) {
	key, ok := GetSessionKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	keyID := c.Param("sessionId")

	// Prevent revoking current key
	if keyID == key.ID {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "cannot_revoke_current",
			"message": "Cannot revoke the session you're using",
		})
		return
	}

	if err := h.manager.RevokeKey(c.Request.Context(), keyID, key.MemberID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "session_not_found",
			"message": "Session not found or already revoked",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Session revoked",
		"sessionId": keyID,
	})
}

// GetCurrentMember returns info about the authenticated member's session
func (h *Handler) GetCurrentMember(c *gin.Context) {
	key, ok := GetSessionKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"memberId":  key.MemberID,
		"sessionId": key.ID,
		"label":     key.Label,
		"createdAt": key.CreatedAt,
		"lastUsed":  key.LastUsed,
	})
}
