package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Estados del registro de facturación (ciclo de vida del ledger).
const (
	RecordStatePending            = "PENDIENTE"            // Creado en el intake, huella calculada, a la espera de lote
	RecordStateQueued             = "ENCOLADO"             // Asignado a un lote pendiente de envío
	RecordStateAccepted           = "ACEPTADO"             // Aceptado por la AEAT
	RecordStateAcceptedWithErrors = "ACEPTADO_CON_ERRORES" // Aceptado con errores subsanables
	RecordStateRejected           = "RECHAZADO"            // Rechazado por la AEAT (terminal)
	RecordStateDuplicate          = "DUPLICADO"            // La AEAT ya conocía el registro original
)

// Tipos de registro de facturación.
const (
	RecordKindAlta      = "ALTA"
	RecordKindAnulacion = "ANULACION"
)

// InvoiceRecord es una entrada del ledger de facturación: un alta o anulación
// de factura para una instalación concreta. Una vez calculada, la huella es
// inmutable; el registro nunca se borra (es el libro de cumplimiento).
type InvoiceRecord struct {
	ID              string
	InstallationID  string
	Kind            string // ALTA | ANULACION
	Serie           string
	Numero          string
	FechaExpedicion time.Time
	TipoFactura     string // F1, F2, R1..R5, F3 (vacío en anulaciones)
	CuotaTotal      decimal.Decimal
	ImporteTotal    decimal.Decimal
	Huella          string // SHA-256 hex mayúsculas (64 chars)
	HuellaAnterior  string // vacía solo para el primer registro de la instalación
	GeneradoEn      time.Time // instante usado en la cadena canónica de la huella
	Estado          string
	BatchID         string // vacío hasta que el Batch Builder lo asigna
	RetryCount      int    // veces que volvió a PENDIENTE por error de infraestructura
	AEATEstado      string // estado por línea devuelto por la AEAT
	AEATCodigo      string // código de error AEAT (si lo hay)
	AEATDescripcion string // descripción del error AEAT (si la hay)
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ExternalRef es la referencia opaca con la que la respuesta de la AEAT se
// casa de vuelta con el registro (RefExterna en el XML).
func (r *InvoiceRecord) ExternalRef() string {
	return r.ID
}

// IsTerminal indica si el registro alcanzó un estado final.
func (r *InvoiceRecord) IsTerminal() bool {
	switch r.Estado {
	case RecordStateAccepted, RecordStateAcceptedWithErrors, RecordStateRejected, RecordStateDuplicate:
		return true
	}
	return false
}
