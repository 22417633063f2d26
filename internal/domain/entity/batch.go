package entity

import "time"

// Estados del lote de envío.
const (
	BatchStateCreated           = "CREADO"           // Creado junto con su DispatchTrigger
	BatchStateSending           = "ENVIANDO"         // Entregado al worker pool
	BatchStateFullyAccepted     = "ACEPTADO_TOTAL"   // Todos los registros aceptados
	BatchStatePartiallyAccepted = "ACEPTADO_PARCIAL" // Mezcla de aceptados y rechazados
	BatchStateFullyRejected     = "RECHAZADO_TOTAL"  // La AEAT rechazó todos los registros
	BatchStateInfraError        = "ERROR_INFRA"      // Agotados los reintentos de infraestructura
)

// Batch es un conjunto de registros enviados juntos a la AEAT en una sola
// petición. Se conserva para auditoría junto con el payload enviado y la
// respuesta recibida.
type Batch struct {
	ID              string
	InstallationID  string
	RecordCount     int
	WirePayload     string // XML enviado (se rellena en el primer envío)
	ResponsePayload string // respuesta cruda de la AEAT
	CSV             string // código seguro de verificación (solo si hubo algún aceptado)
	Estado          string
	WaitSeconds     int // TiempoEsperaEnvio devuelto por la AEAT
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
