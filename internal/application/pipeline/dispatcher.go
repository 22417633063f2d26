package pipeline

import (
	"context"
	"time"

	"github.com/jhoicas/verifactu-hub/internal/domain/repository"
	"github.com/jhoicas/verifactu-hub/pkg/logger"
)

// DispatcherConfig parámetros del barrido de envío.
type DispatcherConfig struct {
	Interval   time.Duration // periodo entre barridos
	BatchSize  int           // disparadores por barrido
	StaleAfter time.Duration // ENCOLADO más viejo que esto se considera huérfano
}

// Dispatcher lee los disparadores pendientes en orden estricto de creación
// (FIFO obligatorio: es lo que impide entregas fuera de orden de cadena) y
// los entrega al worker pool. El marcado ENCOLADO va en una transacción
// independiente de la del worker; si la entrega al pool falla, el disparador
// queda PENDIENTE para el siguiente barrido (al-menos-una-vez por construcción).
type Dispatcher struct {
	triggers repository.DispatchTriggerRepository
	tx       TxRunner
	pool     *WorkerPool
	cfg      DispatcherConfig
	log      *logger.Logger
	now      func() time.Time
}

// NewDispatcher construye el dispatcher.
func NewDispatcher(triggers repository.DispatchTriggerRepository, tx TxRunner, pool *WorkerPool, cfg DispatcherConfig, log *logger.Logger) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	return &Dispatcher{triggers: triggers, tx: tx, pool: pool, cfg: cfg, log: log, now: time.Now}
}

// Run ejecuta el barrido hasta que el contexto se cancele.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.cfg.Interval):
		}
	}
}

// DispatchOnce entrega un lote de disparadores al pool respetando el orden
// FIFO: si el disparador t no cabe en el pool, ninguno posterior a t se
// entrega en este barrido.
func (d *Dispatcher) DispatchOnce(ctx context.Context) {
	now := d.now()
	pending, err := d.triggers.SelectDispatchable(ctx, now, d.cfg.StaleAfter, d.cfg.BatchSize)
	if err != nil {
		d.log.Error().Err(err).Msg("dispatcher: listar disparadores")
		return
	}

	for _, trigger := range pending {
		if !d.pool.TrySubmit(Job{TriggerID: trigger.ID}) {
			// Pool lleno: dejar este y los siguientes en PENDIENTE preserva
			// el orden de creación en el próximo barrido.
			d.log.Debug().Int64("trigger_id", trigger.ID).Msg("dispatcher: pool lleno")
			return
		}
		d.markDispatched(ctx, trigger.ID, trigger.BatchID, now)
	}
}

// markDispatched marca el disparador ENCOLADO y el lote ENVIANDO en una
// transacción propia. Si el worker ya resolvió el disparador, MarkQueued no
// toca la fila (guardia de estado en el repo).
func (d *Dispatcher) markDispatched(ctx context.Context, triggerID int64, batchID string, now time.Time) {
	err := d.tx.RunPipeline(ctx, func(
		_ repository.InvoiceRecordRepository,
		batches repository.BatchRepository,
		triggers repository.DispatchTriggerRepository,
		_ repository.InstallationRepository,
	) error {
		if err := triggers.MarkQueued(ctx, triggerID, now); err != nil {
			return err
		}
		return batches.MarkSending(ctx, batchID, now)
	})
	if err != nil {
		d.log.Error().Err(err).Int64("trigger_id", triggerID).Msg("dispatcher: marcar encolado")
	}
}
