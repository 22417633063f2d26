package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/verifactu-hub/internal/application/pipeline"
	"github.com/jhoicas/verifactu-hub/internal/domain/entity"
)

// RegisterRecordRequest alta o anulación de un registro de facturación.
type RegisterRecordRequest struct {
	Kind            string `json:"kind" validate:"required,oneof=ALTA ANULACION"`
	Serie           string `json:"serie"`
	Numero          string `json:"numero" validate:"required"`
	FechaExpedicion string `json:"fecha_expedicion" validate:"required"` // dd-mm-yyyy
	TipoFactura     string `json:"tipo_factura"`                         // obligatorio en altas
	CuotaTotal      string `json:"cuota_total"`
	ImporteTotal    string `json:"importe_total"`
}

// RecordResponse vista de un registro del ledger.
type RecordResponse struct {
	ID              string          `json:"id"`
	InstallationID  string          `json:"installation_id"`
	Kind            string          `json:"kind"`
	Serie           string          `json:"serie,omitempty"`
	Numero          string          `json:"numero"`
	FechaExpedicion string          `json:"fecha_expedicion"`
	TipoFactura     string          `json:"tipo_factura,omitempty"`
	CuotaTotal      decimal.Decimal `json:"cuota_total"`
	ImporteTotal    decimal.Decimal `json:"importe_total"`
	Huella          string          `json:"huella"`
	HuellaAnterior  string          `json:"huella_anterior,omitempty"`
	Estado          string          `json:"estado"`
	BatchID         string          `json:"batch_id,omitempty"`
	AEATEstado      string          `json:"aeat_estado,omitempty"`
	AEATCodigo      string          `json:"aeat_codigo,omitempty"`
	AEATDescripcion string          `json:"aeat_descripcion,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NewRecordResponse mapea la entidad a su vista HTTP.
func NewRecordResponse(rec *entity.InvoiceRecord) RecordResponse {
	return RecordResponse{
		ID:              rec.ID,
		InstallationID:  rec.InstallationID,
		Kind:            rec.Kind,
		Serie:           rec.Serie,
		Numero:          rec.Numero,
		FechaExpedicion: rec.FechaExpedicion.Format("02-01-2006"),
		TipoFactura:     rec.TipoFactura,
		CuotaTotal:      rec.CuotaTotal,
		ImporteTotal:    rec.ImporteTotal,
		Huella:          rec.Huella,
		HuellaAnterior:  rec.HuellaAnterior,
		Estado:          rec.Estado,
		BatchID:         rec.BatchID,
		AEATEstado:      rec.AEATEstado,
		AEATCodigo:      rec.AEATCodigo,
		AEATDescripcion: rec.AEATDescripcion,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
}

// EligibilityResponse vista de control de flujo de una instalación.
type EligibilityResponse struct {
	InstallationID string     `json:"installation_id"`
	PendingCount   int        `json:"pending_count"`
	LastSendAt     *time.Time `json:"last_send_at,omitempty"`
	WaitSeconds    int        `json:"wait_seconds"`
	ReadyToSend    bool       `json:"ready_to_send"`
}

// NewEligibilityResponse mapea la vista del caso de uso.
func NewEligibilityResponse(e *pipeline.Eligibility) EligibilityResponse {
	return EligibilityResponse{
		InstallationID: e.InstallationID,
		PendingCount:   e.PendingCount,
		LastSendAt:     e.LastSendAt,
		WaitSeconds:    e.WaitSeconds,
		ReadyToSend:    e.ReadyToSend,
	}
}

// TriggerResponse vista de un disparador en la cola de intervención manual.
type TriggerResponse struct {
	ID             int64      `json:"id"`
	BatchID        string     `json:"batch_id"`
	InstallationID string     `json:"installation_id"`
	Estado         string     `json:"estado"`
	Attempts       int        `json:"attempts"`
	MaxAttempts    int        `json:"max_attempts"`
	LastAttemptAt  *time.Time `json:"last_attempt_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// NewTriggerResponse mapea la entidad a su vista HTTP.
func NewTriggerResponse(t *entity.DispatchTrigger) TriggerResponse {
	return TriggerResponse{
		ID:             t.ID,
		BatchID:        t.BatchID,
		InstallationID: t.InstallationID,
		Estado:         t.Estado,
		Attempts:       t.Attempts,
		MaxAttempts:    t.MaxAttempts,
		LastAttemptAt:  t.LastAttemptAt,
		LastError:      t.LastError,
		CreatedAt:      t.CreatedAt,
	}
}
