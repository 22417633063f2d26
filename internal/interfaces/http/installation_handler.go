package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/verifactu-hub/internal/application/dto"
	"github.com/jhoicas/verifactu-hub/internal/application/pipeline"
	"github.com/jhoicas/verifactu-hub/internal/domain"
)

// InstallationHandler expone la vista de control de flujo de la instalación
// autenticada.
type InstallationHandler struct {
	status *pipeline.StatusUseCase
}

// NewInstallationHandler construye el handler.
func NewInstallationHandler(status *pipeline.StatusUseCase) *InstallationHandler {
	return &InstallationHandler{status: status}
}

// Eligibility devuelve pendientes, último envío e intervalo de espera vigente.
// GET /api/installation/eligibility
func (h *InstallationHandler) Eligibility(c *fiber.Ctx) error {
	installationID := GetInstallationID(c)
	if installationID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "instalación no autenticada"})
	}
	eligibility, err := h.status.InstallationEligibility(c.Context(), installationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "instalación no encontrada"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	return c.JSON(dto.NewEligibilityResponse(eligibility))
}
