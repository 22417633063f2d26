package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/verifactu-hub/internal/application/dto"
	"github.com/jhoicas/verifactu-hub/internal/application/pipeline"
)

// TriggerHandler expone la cola de intervención manual a los operadores del
// hub (protegido con JWT).
type TriggerHandler struct {
	status *pipeline.StatusUseCase
}

// NewTriggerHandler construye el handler.
func NewTriggerHandler(status *pipeline.StatusUseCase) *TriggerHandler {
	return &TriggerHandler{status: status}
}

// ListErrors lista los disparadores en ERROR con su causa. Los registros de
// esos lotes ya volvieron a PENDIENTE; esta cola existe para que un operador
// investigue por qué se agotaron los reintentos.
// GET /api/triggers/errors
func (h *TriggerHandler) ListErrors(c *fiber.Ctx) error {
	if GetOperatorID(c) == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	triggers, err := h.status.ErroredTriggers(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	out := make([]dto.TriggerResponse, 0, len(triggers))
	for _, t := range triggers {
		out = append(out, dto.NewTriggerResponse(t))
	}
	return c.JSON(out)
}
