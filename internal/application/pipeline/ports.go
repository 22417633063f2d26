package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/jhoicas/verifactu-hub/internal/domain/entity"
	"github.com/jhoicas/verifactu-hub/internal/domain/repository"
)

// TxRunner ejecuta una función dentro de una única transacción con los repos
// del pipeline atados a ella. Es la frontera transaccional del patrón outbox:
// Batch y DispatchTrigger se escriben por aquí, juntos o ninguno.
type TxRunner interface {
	RunPipeline(ctx context.Context, fn func(
		records repository.InvoiceRecordRepository,
		batches repository.BatchRepository,
		triggers repository.DispatchTriggerRepository,
		installations repository.InstallationRepository,
	) error) error
}

// ErrLockHeld indica que otro builder tiene el lock de la instalación.
// No es un fallo: el llamante lo traduce a "ya en curso".
var ErrLockHeld = errors.New("lock de instalación ya tomado")

// Lock es un lock adquirido que debe liberarse tras el commit.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker es el mecanismo de exclusión por instalación: adquisición no
// bloqueante con TTL (el TTL evita que un worker caído deje la instalación
// bloqueada para siempre). Lo satisface redislock o, en despliegues de un
// solo proceso, un registro de mutex en memoria.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// ErrTransient marca fallos transitorios de infraestructura en el envío
// (timeout de red, 5xx de la AEAT). El worker los reintenta con backoff; el
// resto de errores del submitter no consume reintentos.
var ErrTransient = errors.New("fallo transitorio de envío")

// Estados globales del envío según la respuesta de la AEAT.
const (
	SubmitCorrecto             = "Correcto"
	SubmitParcialmenteCorrecto = "ParcialmenteCorrecto"
	SubmitIncorrecto           = "Incorrecto"
)

// Estados por línea devueltos por la AEAT.
const (
	LineaCorrecta           = "Correcto"
	LineaAceptadaConErrores = "AceptadoConErrores"
	LineaIncorrecta         = "Incorrecto"
)

// RecordOutcome es el resultado por línea de la respuesta, casado de vuelta
// con el registro por su referencia externa.
type RecordOutcome struct {
	Ref            string // referencia externa del registro (RefExterna)
	Estado         string // Correcto | AceptadoConErrores | Incorrecto
	Codigo         string
	Descripcion    string
	Duplicado      bool   // la AEAT ya conocía el registro
	EstadoOriginal string // estado del registro original cuando Duplicado
}

// SubmitResult es la respuesta definitiva de la AEAT a un envío. Solo se
// devuelve cuando la autoridad produjo un veredicto; los fallos de transporte
// llegan como error (envuelto en ErrTransient si es reintentable).
type SubmitResult struct {
	EstadoEnvio string // Correcto | ParcialmenteCorrecto | Incorrecto
	Lines       []RecordOutcome
	CSV         string // código seguro de verificación (vacío si nada aceptado)
	WaitSeconds int    // TiempoEsperaEnvio dictado por la AEAT (0 = sin indicación)
	Raw         []byte // respuesta cruda, persistida en el lote para auditoría
}

// Renderer traduce un lote a su forma de hilo (documento AEAT). Colaborador
// externo del núcleo.
type Renderer interface {
	Render(installation *entity.Installation, batch *entity.Batch, records []*entity.InvoiceRecord) ([]byte, error)
}

// Submitter entrega el documento al endpoint de la AEAT y devuelve el
// veredicto parseado.
type Submitter interface {
	Submit(ctx context.Context, payload []byte) (*SubmitResult, error)
}
