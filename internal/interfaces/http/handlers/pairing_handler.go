// Package handlers implements devicecore's local HTTP surface, grounded
// on the teacher's internal/interfaces/http/handlers.AuthHandler (same
// ShouldBindJSON + dto.SendError/SendSuccess shape), retargeted from
// cloud token issuance to the four local pairing/authenticate
// operations spec.md §6 defines.
package handlers

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edgeweave/devicecore/internal/domain/models"
	"github.com/edgeweave/devicecore/internal/domain/repository"
	"github.com/edgeweave/devicecore/internal/domain/service"
	"github.com/edgeweave/devicecore/internal/interfaces/http/dto"
	"github.com/edgeweave/devicecore/pkg/constants"
	"github.com/edgeweave/devicecore/pkg/errors"
)

// PairingHandler exposes C4's pairing/authentication operations over
// local HTTP.
type PairingHandler struct {
	security service.SecurityManager
	clock    repository.Clock
	// accessTokenTTL is how long an issued access token is valid for
	// before the client must re-authenticate.
	accessTokenTTL time.Duration
}

// NewPairingHandler constructs the handler.
func NewPairingHandler(security service.SecurityManager, clock repository.Clock, accessTokenTTL time.Duration) *PairingHandler {
	return &PairingHandler{security: security, clock: clock, accessTokenTTL: accessTokenTTL}
}

type startPairingRequest struct {
	Mode   string `json:"mode" binding:"required"`
	Crypto string `json:"crypto" binding:"required"`
}

// StartPairing handles pairingStart(mode, crypto) -> {sessionId, deviceCommitment}.
func (h *PairingHandler) StartPairing(c *gin.Context) {
	var req startPairingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.SendError(c, errors.Wrap(err, errors.InvalidParams, "decoding pairingStart request"))
		return
	}
	mode := constants.PairingMode(req.Mode)
	crypto := constants.CryptoType(req.Crypto)

	sessionID, deviceCommitment, err := h.security.StartPairing(mode, crypto)
	if err != nil {
		dto.SendError(c, err)
		return
	}
	dto.SendSuccess(c, http.StatusOK, gin.H{
		"sessionId":        sessionID,
		"deviceCommitment": base64.StdEncoding.EncodeToString(deviceCommitment),
	})
}

type confirmPairingRequest struct {
	SessionID        string `json:"sessionId" binding:"required"`
	ClientCommitment string `json:"clientCommitment" binding:"required"`
}

// ConfirmPairing handles pairingConfirm(sessionId, clientCommitment) ->
// {certificateFingerprint, signature}.
func (h *PairingHandler) ConfirmPairing(c *gin.Context) {
	var req confirmPairingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.SendError(c, errors.Wrap(err, errors.InvalidParams, "decoding pairingConfirm request"))
		return
	}
	commitment, err := base64.StdEncoding.DecodeString(req.ClientCommitment)
	if err != nil {
		dto.SendError(c, errors.Wrap(err, errors.InvalidFormat, "decoding clientCommitment"))
		return
	}

	fingerprint, signature, err := h.security.ConfirmPairing(req.SessionID, commitment)
	if err != nil {
		dto.SendError(c, err)
		return
	}
	dto.SendSuccess(c, http.StatusOK, gin.H{
		"certificateFingerprint": base64.StdEncoding.EncodeToString(fingerprint),
		"signature":              base64.StdEncoding.EncodeToString(signature),
	})
}

type cancelPairingRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
}

// CancelPairing handles pairingCancel(sessionId) -> {}.
func (h *PairingHandler) CancelPairing(c *gin.Context) {
	var req cancelPairingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.SendError(c, errors.Wrap(err, errors.InvalidParams, "decoding pairingCancel request"))
		return
	}
	if err := h.security.CancelPairing(req.SessionID); err != nil {
		dto.SendError(c, err)
		return
	}
	dto.SendSuccess(c, http.StatusOK, gin.H{})
}

type authenticateRequest struct {
	PairingAuthCode string `json:"pairingAuthCode" binding:"required"`
}

// Authenticate handles authenticate(pairingAuthCode) -> {accessToken,
// expiresIn, scope}. A client that has completed pairing presents the
// code derived from its confirmed session and receives the owner-scoped
// access token used on every subsequent local command.
func (h *PairingHandler) Authenticate(c *gin.Context) {
	var req authenticateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.SendError(c, errors.Wrap(err, errors.InvalidParams, "decoding authenticate request"))
		return
	}
	code, err := base64.StdEncoding.DecodeString(req.PairingAuthCode)
	if err != nil {
		dto.SendError(c, errors.Wrap(err, errors.InvalidFormat, "decoding pairingAuthCode"))
		return
	}
	if !h.security.IsValidPairingCode(code) {
		dto.SendError(c, errors.New(errors.InvalidAuthCode, "pairing auth code not recognized"))
		return
	}

	now := h.clock.Now()
	user := models.UserInfo{Scope: models.ScopeOwner, UserID: 1}
	token := h.security.CreateAccessToken(user, now)

	dto.SendSuccess(c, http.StatusOK, gin.H{
		"accessToken": base64.StdEncoding.EncodeToString(token),
		"expiresIn":   int64(h.accessTokenTTL.Seconds()),
		"scope":       user.Scope.String(),
	})
}
