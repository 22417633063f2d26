package entity

import "time"

// Estados del disparador de envío (evento de outbox).
const (
	TriggerStatePending   = "PENDIENTE" // Creado (o reintentable), a la espera del dispatcher
	TriggerStateQueued    = "ENCOLADO"  // Entregado al worker pool
	TriggerStateProcessed = "PROCESADO" // El worker resolvió el lote
	TriggerStateError     = "ERROR"     // Terminal: agotados los reintentos, requiere intervención manual
)

// DispatchTrigger es el compañero atómico de un Batch: se crea en la misma
// transacción y hace la entrega durable e idempotente. El ID secuencial junto
// con CreatedAt es la clave FIFO del dispatcher.
type DispatchTrigger struct {
	ID             int64
	BatchID        string
	InstallationID string
	Estado         string
	Attempts       int
	MaxAttempts    int
	NextAttemptAt  *time.Time // backoff: no reintentable antes de este instante
	LastAttemptAt  *time.Time
	QueuedAt       *time.Time // para recuperar ENCOLADO huérfanos tras un crash
	LastError      string
	CreatedAt      time.Time
}

// Exhausted indica si el disparador consumió todos sus intentos.
func (t *DispatchTrigger) Exhausted() bool {
	return t.MaxAttempts > 0 && t.Attempts >= t.MaxAttempts
}
