package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edgeweave/devicecore/internal/domain/service"
	"github.com/edgeweave/devicecore/internal/interfaces/http/dto"
)

// HealthHandler exposes process liveness and the registration state
// machine's current position.
type HealthHandler struct {
	registration service.RegistrationManager
}

// NewHealthHandler constructs the handler.
func NewHealthHandler(registration service.RegistrationManager) *HealthHandler {
	return &HealthHandler{registration: registration}
}

// Live reports whether the process is up at all.
func (h *HealthHandler) Live(c *gin.Context) {
	dto.SendSuccess(c, http.StatusOK, gin.H{"status": "live"})
}

// Ready reports the registration state machine's position so an
// orchestrator can distinguish "booted but not claimed" from "serving".
func (h *HealthHandler) Ready(c *gin.Context) {
	dto.SendSuccess(c, http.StatusOK, gin.H{"registrationState": h.registration.State()})
}
