package repository

import (
	"context"
	"time"

	"github.com/jhoicas/verifactu-hub/internal/domain/entity"
)

// BatchRepository persiste los lotes de envío. Los lotes se conservan para
// auditoría y nunca se borran.
type BatchRepository interface {
	Create(ctx context.Context, batch *entity.Batch) error

	// GetByID devuelve (nil, nil) si no existe.
	GetByID(ctx context.Context, id string) (*entity.Batch, error)

	// MarkSending transiciona CREADO → ENVIANDO (la pone el dispatcher al
	// entregar el disparador al pool).
	MarkSending(ctx context.Context, id string, now time.Time) error

	// Resolve fija el estado terminal del lote junto con el payload enviado,
	// la respuesta cruda, el CSV y el intervalo de espera recibido.
	Resolve(ctx context.Context, id, estado, wirePayload, responsePayload, csv string, waitSeconds int, now time.Time) error
}
