package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/verifactu-hub/internal/domain/entity"
	"github.com/jhoicas/verifactu-hub/pkg/logger"
)

// seedSentBatch deja el almacén como lo deja el dispatcher: lote ENVIANDO,
// registros ENCOLADO y disparador ENCOLADO.
func seedSentBatch(s *memStore, installationID, batchID string, recordIDs ...string) *entity.DispatchTrigger {
	s.addBatch(&entity.Batch{
		ID:             batchID,
		InstallationID: installationID,
		RecordCount:    len(recordIDs),
		Estado:         entity.BatchStateSending,
		CreatedAt:      testNow(),
	})
	for i, id := range recordIDs {
		s.addRecord(&entity.InvoiceRecord{
			ID:             id,
			InstallationID: installationID,
			Kind:           entity.RecordKindAlta,
			Numero:         fmt.Sprintf("%d", i+1),
			Huella:         fmt.Sprintf("HUELLA-%d", i+1),
			Estado:         entity.RecordStateQueued,
			BatchID:        batchID,
			CreatedAt:      testNow(),
		})
	}
	queuedAt := testNow()
	trigger := s.addTrigger(&entity.DispatchTrigger{
		BatchID:        batchID,
		InstallationID: installationID,
		Estado:         entity.TriggerStateQueued,
		MaxAttempts:    3,
		QueuedAt:       &queuedAt,
		CreatedAt:      testNow(),
	})
	return trigger
}

func newTestWorker(s *memStore, renderer Renderer, submitter Submitter, cfg WorkerConfig) *Worker {
	w := NewWorker(
		&fakeTxRunner{s: s},
		&fakeTriggerRepo{s: s},
		&fakeBatchRepo{s: s},
		&fakeRecordRepo{s: s},
		&fakeInstallationRepo{s: s},
		renderer, submitter, cfg, logger.Nop(),
	)
	w.now = testNow
	return w
}

func TestProcess_AplicaVeredictoEnUnaTransaccion(t *testing.T) {
	s := newMemStore()
	seedInstallation(s, "inst-1")
	trigger := seedSentBatch(s, "inst-1", "batch-1", "rec-1", "rec-2", "rec-3")

	submitter := &fakeSubmitter{result: &SubmitResult{
		EstadoEnvio: SubmitParcialmenteCorrecto,
		Lines: []RecordOutcome{
			{Ref: "rec-1", Estado: LineaCorrecta},
			{Ref: "rec-2", Estado: LineaAceptadaConErrores, Codigo: "2001", Descripcion: "NIF no censado"},
			{Ref: "rec-3", Estado: LineaIncorrecta, Codigo: "3000", Descripcion: "huella incorrecta"},
		},
		CSV:         "CSV-ABC",
		WaitSeconds: 120,
		Raw:         []byte("<respuesta/>"),
	}}
	worker := newTestWorker(s, &fakeRenderer{}, submitter, WorkerConfig{})

	worker.Process(context.Background(), trigger.ID)

	// Estados por registro según su línea.
	rec1 := s.record("rec-1")
	assert.Equal(t, entity.RecordStateAccepted, rec1.Estado)
	assert.Equal(t, LineaCorrecta, rec1.AEATEstado)

	rec2 := s.record("rec-2")
	assert.Equal(t, entity.RecordStateAcceptedWithErrors, rec2.Estado)
	assert.Equal(t, "2001", rec2.AEATCodigo)
	assert.Equal(t, "NIF no censado", rec2.AEATDescripcion)

	rec3 := s.record("rec-3")
	assert.Equal(t, entity.RecordStateRejected, rec3.Estado)

	// Lote resuelto con payload, respuesta cruda, CSV y espera.
	batch := s.batch("batch-1")
	assert.Equal(t, entity.BatchStatePartiallyAccepted, batch.Estado)
	assert.Equal(t, "<envio/>", batch.WirePayload)
	assert.Equal(t, "<respuesta/>", batch.ResponsePayload)
	assert.Equal(t, "CSV-ABC", batch.CSV)
	assert.Equal(t, 120, batch.WaitSeconds)

	// Control de flujo actualizado con el intervalo dictado.
	inst := s.installation("inst-1")
	require.NotNil(t, inst.LastSendAt)
	assert.Equal(t, testNow(), *inst.LastSendAt)
	assert.Equal(t, 120, inst.LastWaitSeconds)

	// Disparador terminal.
	assert.Equal(t, entity.TriggerStateProcessed, s.trigger(trigger.ID).Estado)
}

func TestProcess_EsperaPorDefectoSinIndicacion(t *testing.T) {
	s := newMemStore()
	seedInstallation(s, "inst-1")
	trigger := seedSentBatch(s, "inst-1", "batch-1", "rec-1")

	submitter := &fakeSubmitter{result: &SubmitResult{
		EstadoEnvio: SubmitCorrecto,
		Lines:       []RecordOutcome{{Ref: "rec-1", Estado: LineaCorrecta}},
	}}
	worker := newTestWorker(s, &fakeRenderer{}, submitter, WorkerConfig{})

	worker.Process(context.Background(), trigger.ID)

	assert.Equal(t, entity.DefaultWaitSeconds, s.installation("inst-1").LastWaitSeconds)
	assert.Equal(t, entity.BatchStateFullyAccepted, s.batch("batch-1").Estado)
}

func TestProcess_DuplicadoCopiaDesenlaceOriginal(t *testing.T) {
	s := newMemStore()
	seedInstallation(s, "inst-1")
	trigger := seedSentBatch(s, "inst-1", "batch-1", "rec-1")

	submitter := &fakeSubmitter{result: &SubmitResult{
		EstadoEnvio: SubmitIncorrecto,
		Lines: []RecordOutcome{{
			Ref:            "rec-1",
			Estado:         LineaIncorrecta,
			Codigo:         "3001",
			Descripcion:    "registro duplicado",
			Duplicado:      true,
			EstadoOriginal: "Correcta",
		}},
	}}
	worker := newTestWorker(s, &fakeRenderer{}, submitter, WorkerConfig{})

	worker.Process(context.Background(), trigger.ID)

	rec := s.record("rec-1")
	assert.Equal(t, entity.RecordStateDuplicate, rec.Estado)
	assert.Equal(t, "Correcta", rec.AEATEstado, "el duplicado copia el desenlace del registro original")
}

func TestProcess_RegistroSinLineaDeRespuesta(t *testing.T) {
	s := newMemStore()
	seedInstallation(s, "inst-1")
	trigger := seedSentBatch(s, "inst-1", "batch-1", "rec-1", "rec-2")

	// La respuesta solo trae rec-1.
	submitter := &fakeSubmitter{result: &SubmitResult{
		EstadoEnvio: SubmitParcialmenteCorrecto,
		Lines:       []RecordOutcome{{Ref: "rec-1", Estado: LineaCorrecta}},
	}}
	worker := newTestWorker(s, &fakeRenderer{}, submitter, WorkerConfig{})

	worker.Process(context.Background(), trigger.ID)

	assert.Equal(t, entity.RecordStateAccepted, s.record("rec-1").Estado)
	rec2 := s.record("rec-2")
	assert.Equal(t, entity.RecordStateRejected, rec2.Estado)
	assert.Equal(t, "AUSENTE", rec2.AEATCodigo)
}

func TestProcess_TransitorioProgramaReintentoConBackoff(t *testing.T) {
	s := newMemStore()
	seedInstallation(s, "inst-1")
	trigger := seedSentBatch(s, "inst-1", "batch-1", "rec-1")

	submitter := &fakeSubmitter{err: fmt.Errorf("%w: timeout", ErrTransient)}
	worker := newTestWorker(s, &fakeRenderer{}, submitter, WorkerConfig{InitialBackoff: 5 * time.Second})

	worker.Process(context.Background(), trigger.ID)

	got := s.trigger(trigger.ID)
	assert.Equal(t, entity.TriggerStatePending, got.Estado, "vuelve a PENDIENTE para el dispatcher")
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.NextAttemptAt)
	assert.Equal(t, testNow().Add(5*time.Second), *got.NextAttemptAt)
	assert.Contains(t, got.LastError, "timeout")

	// El lote y los registros no se tocan: el reintento reutiliza el mismo lote.
	assert.Equal(t, entity.BatchStateSending, s.batch("batch-1").Estado)
	assert.Equal(t, entity.RecordStateQueued, s.record("rec-1").Estado)
}

func TestProcess_BackoffExponencialConTecho(t *testing.T) {
	s := newMemStore()
	seedInstallation(s, "inst-1")
	trigger := seedSentBatch(s, "inst-1", "batch-1", "rec-1")
	s.trigger(trigger.ID).Attempts = 3
	s.trigger(trigger.ID).MaxAttempts = 10

	submitter := &fakeSubmitter{err: fmt.Errorf("%w: 503", ErrTransient)}
	worker := newTestWorker(s, &fakeRenderer{}, submitter, WorkerConfig{
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     30 * time.Second,
	})

	worker.Process(context.Background(), trigger.ID)

	got := s.trigger(trigger.ID)
	assert.Equal(t, 4, got.Attempts)
	// 5s doblado tres veces serían 40s; el techo lo recorta a 30s.
	require.NotNil(t, got.NextAttemptAt)
	assert.Equal(t, testNow().Add(30*time.Second), *got.NextAttemptAt)
}

func TestProcess_AgotaReintentosYLiberaRegistros(t *testing.T) {
	s := newMemStore()
	seedInstallation(s, "inst-1")
	trigger := seedSentBatch(s, "inst-1", "batch-1", "rec-1", "rec-2")
	s.trigger(trigger.ID).Attempts = 2 // MaxAttempts es 3: este intento agota

	submitter := &fakeSubmitter{err: fmt.Errorf("%w: caída prolongada", ErrTransient)}
	worker := newTestWorker(s, &fakeRenderer{}, submitter, WorkerConfig{})

	worker.Process(context.Background(), trigger.ID)

	got := s.trigger(trigger.ID)
	assert.Equal(t, entity.TriggerStateError, got.Estado, "terminal: cola de intervención manual")
	assert.Contains(t, got.LastError, "caída prolongada")

	assert.Equal(t, entity.BatchStateInfraError, s.batch("batch-1").Estado)

	// Los registros vuelven a PENDIENTE con la huella intacta para re-loteo.
	for _, id := range []string{"rec-1", "rec-2"} {
		rec := s.record(id)
		assert.Equal(t, entity.RecordStatePending, rec.Estado)
		assert.Empty(t, rec.BatchID)
		assert.Equal(t, 1, rec.RetryCount)
		assert.NotEmpty(t, rec.Huella, "la huella jamás se recalcula")
	}
}

func TestProcess_RenderFallidoEsTerminal(t *testing.T) {
	s := newMemStore()
	seedInstallation(s, "inst-1")
	trigger := seedSentBatch(s, "inst-1", "batch-1", "rec-1")

	submitter := &fakeSubmitter{}
	worker := newTestWorker(s, &fakeRenderer{err: errors.New("registro sin NIF")}, submitter, WorkerConfig{})

	worker.Process(context.Background(), trigger.ID)

	// Un fallo de render no consume reintentos: es fatal directo.
	got := s.trigger(trigger.ID)
	assert.Equal(t, entity.TriggerStateError, got.Estado)
	assert.Contains(t, got.LastError, "render")
	assert.Zero(t, submitter.callCount(), "no debe llegar a la AEAT")
	assert.Equal(t, entity.RecordStatePending, s.record("rec-1").Estado)
}

func TestProcess_DisparadorYaResuelto(t *testing.T) {
	s := newMemStore()
	seedInstallation(s, "inst-1")
	trigger := seedSentBatch(s, "inst-1", "batch-1", "rec-1")
	s.trigger(trigger.ID).Estado = entity.TriggerStateProcessed

	submitter := &fakeSubmitter{}
	worker := newTestWorker(s, &fakeRenderer{}, submitter, WorkerConfig{})

	worker.Process(context.Background(), trigger.ID)

	assert.Zero(t, submitter.callCount(), "una entrega repetida no reenvía el lote")
	assert.Equal(t, entity.TriggerStateProcessed, s.trigger(trigger.ID).Estado)
}
