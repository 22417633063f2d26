package http

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/verifactu-hub/internal/application/dto"
	"github.com/jhoicas/verifactu-hub/internal/application/pipeline"
	"github.com/jhoicas/verifactu-hub/internal/domain"
)

// RecordHandler maneja el intake y la consulta de registros de facturación
// (autenticado por API key de instalación).
type RecordHandler struct {
	intake *pipeline.IntakeUseCase
	status *pipeline.StatusUseCase
}

// NewRecordHandler construye el handler.
func NewRecordHandler(intake *pipeline.IntakeUseCase, status *pipeline.StatusUseCase) *RecordHandler {
	return &RecordHandler{intake: intake, status: status}
}

// Register crea un registro de alta o anulación en el ledger.
// POST /api/records
func (h *RecordHandler) Register(c *fiber.Ctx) error {
	installationID := GetInstallationID(c)
	if installationID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "instalación no autenticada"})
	}
	var in dto.RegisterRecordRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}

	input, err := toIntakeInput(in)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	}

	rec, err := h.intake.Register(c.Context(), installationID, input)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
		}
		if errors.Is(err, domain.ErrDuplicate) {
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "DUPLICATE", Message: "la factura ya está registrada"})
		}
		if errors.Is(err, domain.ErrInstallationInactive) {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "INACTIVE", Message: "instalación inactiva"})
		}
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "instalación no encontrada"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(dto.NewRecordResponse(rec))
}

// GetByID consulta el estado de un registro propio.
// GET /api/records/:id
func (h *RecordHandler) GetByID(c *fiber.Ctx) error {
	installationID := GetInstallationID(c)
	if installationID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "instalación no autenticada"})
	}
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "id requerido"})
	}
	rec, err := h.status.Record(c.Context(), installationID, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "registro no encontrado"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	return c.JSON(dto.NewRecordResponse(rec))
}

// toIntakeInput valida y convierte el request al input del caso de uso.
func toIntakeInput(in dto.RegisterRecordRequest) (pipeline.IntakeInput, error) {
	fecha, err := time.Parse("02-01-2006", in.FechaExpedicion)
	if err != nil {
		return pipeline.IntakeInput{}, errors.New("fecha_expedicion inválida (formato dd-mm-yyyy)")
	}
	var cuota, importe decimal.Decimal
	if in.CuotaTotal != "" {
		if cuota, err = decimal.NewFromString(in.CuotaTotal); err != nil {
			return pipeline.IntakeInput{}, errors.New("cuota_total inválida")
		}
	}
	if in.ImporteTotal != "" {
		if importe, err = decimal.NewFromString(in.ImporteTotal); err != nil {
			return pipeline.IntakeInput{}, errors.New("importe_total inválido")
		}
	}
	return pipeline.IntakeInput{
		Kind:            in.Kind,
		Serie:           in.Serie,
		Numero:          in.Numero,
		FechaExpedicion: fecha,
		TipoFactura:     in.TipoFactura,
		CuotaTotal:      cuota,
		ImporteTotal:    importe,
	}, nil
}
