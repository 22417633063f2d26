package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/verifactu-hub/internal/domain"
	"github.com/jhoicas/verifactu-hub/internal/domain/entity"
	"github.com/jhoicas/verifactu-hub/internal/domain/repository"
	"github.com/jhoicas/verifactu-hub/internal/domain/verifactu"
)

// IntakeInput es el payload ya validado de un alta o anulación.
type IntakeInput struct {
	Kind            string // ALTA | ANULACION
	Serie           string
	Numero          string
	FechaExpedicion time.Time
	TipoFactura     string // obligatorio en altas
	CuotaTotal      decimal.Decimal
	ImporteTotal    decimal.Decimal
}

// IntakeUseCase crea registros del ledger. Calcula la huella en el momento de
// la creación con la última huella conocida de la instalación, serializando
// sobre la fila de la instalación para que la cadena nunca se bifurque.
type IntakeUseCase struct {
	tx     TxRunner
	huella *verifactu.HuellaService
	now    func() time.Time
}

// NewIntakeUseCase construye el caso de uso.
func NewIntakeUseCase(tx TxRunner, huella *verifactu.HuellaService) *IntakeUseCase {
	return &IntakeUseCase{tx: tx, huella: huella, now: time.Now}
}

// Register persiste un registro nuevo en PENDIENTE con su huella encadenada.
// (instalación, serie, número, fecha) identifica como mucho un registro:
// repetirlo devuelve domain.ErrDuplicate.
func (uc *IntakeUseCase) Register(ctx context.Context, installationID string, in IntakeInput) (*entity.InvoiceRecord, error) {
	if in.Kind != entity.RecordKindAlta && in.Kind != entity.RecordKindAnulacion {
		return nil, fmt.Errorf("tipo de registro %q: %w", in.Kind, domain.ErrInvalidInput)
	}

	var created *entity.InvoiceRecord
	err := uc.tx.RunPipeline(ctx, func(
		records repository.InvoiceRecordRepository,
		_ repository.BatchRepository,
		_ repository.DispatchTriggerRepository,
		installations repository.InstallationRepository,
	) error {
		// FOR UPDATE sobre la instalación: serializa el cálculo de huellas
		// concurrentes para la misma cadena.
		inst, err := installations.GetForChain(ctx, installationID)
		if err != nil {
			return err
		}
		if inst == nil {
			return fmt.Errorf("instalación %s: %w", installationID, domain.ErrNotFound)
		}
		if !inst.Active {
			return domain.ErrInstallationInactive
		}

		last, err := records.GetLastByInstallation(ctx, installationID)
		if err != nil {
			return err
		}
		previa := ""
		if last != nil {
			previa = last.Huella
		}

		now := uc.now()
		numSerie := in.Serie + in.Numero
		var huella string
		switch in.Kind {
		case entity.RecordKindAlta:
			huella, err = uc.huella.Alta(&verifactu.AltaParams{
				IDEmisor:        inst.NIF,
				NumSerieFactura: numSerie,
				FechaExpedicion: in.FechaExpedicion,
				TipoFactura:     in.TipoFactura,
				CuotaTotal:      in.CuotaTotal,
				ImporteTotal:    in.ImporteTotal,
				HuellaAnterior:  previa,
				GeneradoEn:      now,
			})
		case entity.RecordKindAnulacion:
			huella, err = uc.huella.Anulacion(&verifactu.AnulacionParams{
				IDEmisor:        inst.NIF,
				NumSerieFactura: numSerie,
				FechaExpedicion: in.FechaExpedicion,
				HuellaAnterior:  previa,
				GeneradoEn:      now,
			})
		}
		if err != nil {
			return fmt.Errorf("%w: %s", domain.ErrInvalidInput, err.Error())
		}

		rec := &entity.InvoiceRecord{
			ID:              uuid.New().String(),
			InstallationID:  installationID,
			Kind:            in.Kind,
			Serie:           in.Serie,
			Numero:          in.Numero,
			FechaExpedicion: in.FechaExpedicion,
			TipoFactura:     in.TipoFactura,
			CuotaTotal:      in.CuotaTotal,
			ImporteTotal:    in.ImporteTotal,
			Huella:          huella,
			HuellaAnterior:  previa,
			GeneradoEn:      now,
			Estado:          entity.RecordStatePending,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := records.Create(ctx, rec); err != nil {
			return err
		}
		created = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}
