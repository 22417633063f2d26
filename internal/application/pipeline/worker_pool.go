package pipeline

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jhoicas/verifactu-hub/pkg/logger"
)

// Job es una unidad de trabajo del pool: un disparador a procesar.
type Job struct {
	TriggerID int64
}

// WorkerPool es el consumidor acotado de disparadores. El techo global de
// llamadas por minuto a la AEAT se aplica aquí, compartido por todos los
// workers e independiente del backoff de reintentos.
type WorkerPool struct {
	jobs    chan Job
	limiter *rate.Limiter
	worker  *Worker
	size    int
	log     *logger.Logger
}

// NewWorkerPool construye el pool. size es el número de workers concurrentes,
// callsPerMinute el techo de la AEAT y queueDepth la profundidad de la cola
// de entrega (cuando se llena, TrySubmit devuelve false y el dispatcher deja
// el disparador pendiente).
func NewWorkerPool(worker *Worker, size, callsPerMinute, queueDepth int, log *logger.Logger) *WorkerPool {
	if size <= 0 {
		size = 4
	}
	if queueDepth <= 0 {
		queueDepth = size * 2
	}
	return &WorkerPool{
		jobs:    make(chan Job, queueDepth),
		limiter: MinuteLimiter(callsPerMinute),
		worker:  worker,
		size:    size,
		log:     log,
	}
}

// MinuteLimiter devuelve el limitador del techo de llamadas por minuto:
// espacia los permisos uniformemente (una llamada cada minuto/n) sin ráfagas.
func MinuteLimiter(callsPerMinute int) *rate.Limiter {
	if callsPerMinute <= 0 {
		callsPerMinute = 60
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(callsPerMinute)), 1)
}

// TrySubmit intenta encolar un job sin bloquear. Devuelve false si el pool
// está lleno.
func (p *WorkerPool) TrySubmit(job Job) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// Run arranca los workers y bloquea hasta que el contexto se cancele.
func (p *WorkerPool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-p.jobs:
					if err := p.limiter.Wait(ctx); err != nil {
						return // contexto cancelado esperando cupo
					}
					p.worker.Process(ctx, job.TriggerID)
				}
			}
		}()
	}
	wg.Wait()
}
