package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/jhoicas/verifactu-hub/internal/domain"
	"github.com/jhoicas/verifactu-hub/internal/domain/entity"
	"github.com/jhoicas/verifactu-hub/internal/domain/repository"
)

// Eligibility es la vista de elegibilidad de una instalación para las
// superficies de estado y reporting.
type Eligibility struct {
	InstallationID string
	PendingCount   int
	LastSendAt     *time.Time
	WaitSeconds    int
	ReadyToSend    bool
}

// StatusUseCase expone el estado del pipeline a los colaboradores: estado por
// registro, elegibilidad por instalación y la cola de intervención manual.
// Solo lecturas; nunca muta el pipeline.
type StatusUseCase struct {
	records       repository.InvoiceRecordRepository
	installations repository.InstallationRepository
	triggers      repository.DispatchTriggerRepository
	now           func() time.Time
}

// NewStatusUseCase construye el caso de uso.
func NewStatusUseCase(
	records repository.InvoiceRecordRepository,
	installations repository.InstallationRepository,
	triggers repository.DispatchTriggerRepository,
) *StatusUseCase {
	return &StatusUseCase{records: records, installations: installations, triggers: triggers, now: time.Now}
}

// Record devuelve el registro con su estado y metadatos de respuesta AEAT.
func (uc *StatusUseCase) Record(ctx context.Context, installationID, recordID string) (*entity.InvoiceRecord, error) {
	rec, err := uc.records.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.InstallationID != installationID {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

// InstallationEligibility devuelve la vista de control de flujo de una
// instalación: pendientes, último envío e intervalo de espera vigente.
func (uc *StatusUseCase) InstallationEligibility(ctx context.Context, installationID string) (*Eligibility, error) {
	inst, err := uc.installations.GetByID(ctx, installationID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, fmt.Errorf("instalación %s: %w", installationID, domain.ErrNotFound)
	}
	pending, err := uc.records.CountPending(ctx, installationID)
	if err != nil {
		return nil, err
	}
	return &Eligibility{
		InstallationID: inst.ID,
		PendingCount:   pending,
		LastSendAt:     inst.LastSendAt,
		WaitSeconds:    inst.WaitSeconds(),
		ReadyToSend:    inst.ReadyToSend(uc.now()),
	}, nil
}

// ErroredTriggers devuelve la cola de intervención manual: disparadores en
// ERROR con su causa.
func (uc *StatusUseCase) ErroredTriggers(ctx context.Context) ([]*entity.DispatchTrigger, error) {
	return uc.triggers.ListErrored(ctx)
}
