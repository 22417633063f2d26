package repository

import (
	"context"
	"time"

	"github.com/jhoicas/verifactu-hub/internal/domain/entity"
)

// InstallationRepository persiste las instalaciones de cliente.
type InstallationRepository interface {
	// GetByID devuelve (nil, nil) si no existe.
	GetByID(ctx context.Context, id string) (*entity.Installation, error)

	// GetForChain carga la instalación bloqueando su fila (FOR UPDATE) para
	// serializar el cálculo de huellas del intake. Solo dentro de transacción.
	GetForChain(ctx context.Context, id string) (*entity.Installation, error)

	// ListActiveWithPending devuelve las instalaciones activas con su
	// PendingCount poblado (registros en PENDIENTE). Base del barrido del
	// scheduler.
	ListActiveWithPending(ctx context.Context) ([]*entity.Installation, error)

	// UpdateFlowControl fija lastSendAt y el intervalo dictado por la AEAT.
	// Solo el worker la invoca, dentro de la transacción que resuelve el lote.
	UpdateFlowControl(ctx context.Context, id string, lastSendAt time.Time, waitSeconds int) error
}
