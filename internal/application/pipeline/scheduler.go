package pipeline

import (
	"context"
	"time"

	"github.com/jhoicas/verifactu-hub/internal/domain/entity"
	"github.com/jhoicas/verifactu-hub/internal/domain/repository"
	"github.com/jhoicas/verifactu-hub/pkg/logger"
)

// Scheduler es el barrido periódico, sin estado y de solo lectura, que
// identifica instalaciones elegibles para un intento de envío y pide al
// Batch Builder que las procese. No muta nada: la decisión autoritativa la
// toma el builder bajo su lock.
type Scheduler struct {
	installations repository.InstallationRepository
	builder       *BatchBuilder
	interval      time.Duration
	log           *logger.Logger
	now           func() time.Time
}

// NewScheduler construye el scheduler.
func NewScheduler(installations repository.InstallationRepository, builder *BatchBuilder, interval time.Duration, log *logger.Logger) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Scheduler{
		installations: installations,
		builder:       builder,
		interval:      interval,
		log:           log,
		now:           time.Now,
	}
}

// Run ejecuta el barrido hasta que el contexto se cancele.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.SweepOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.interval):
		}
	}
}

// SweepOnce evalúa todas las instalaciones activas una vez. Un error al
// evaluar una instalación se registra y no aborta el barrido.
func (s *Scheduler) SweepOnce(ctx context.Context) {
	installations, err := s.installations.ListActiveWithPending(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("scheduler: listar instalaciones")
		return
	}

	now := s.now()
	for _, inst := range installations {
		if !s.Eligible(inst, now) {
			continue
		}
		// Petición asíncrona: el barrido no espera al builder.
		go func(id string) {
			outcome, err := s.builder.Build(ctx, id)
			if err != nil {
				s.log.Error().Err(err).Str("installation_id", id).Msg("scheduler: build fallido")
				return
			}
			if outcome == BuildAlreadyInProgress {
				s.log.Debug().Str("installation_id", id).Msg("scheduler: build ya en curso")
			}
		}(inst.ID)
	}
}

// Eligible evalúa el predicado de elegibilidad: hay pendientes y el intervalo
// de control de flujo ya venció.
func (s *Scheduler) Eligible(inst *entity.Installation, now time.Time) bool {
	return inst.PendingCount > 0 && inst.ReadyToSend(now)
}
