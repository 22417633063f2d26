package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jhoicas/verifactu-hub/internal/domain"
	"github.com/jhoicas/verifactu-hub/internal/domain/entity"
	"github.com/jhoicas/verifactu-hub/internal/domain/repository"
)

// ──────────────────────────────────────────────────────────────────────────────
// Almacén en memoria compartido por los repos fake
// ──────────────────────────────────────────────────────────────────────────────

type memStore struct {
	mu            sync.Mutex
	records       map[string]*entity.InvoiceRecord
	recordOrder   []string
	batches       map[string]*entity.Batch
	triggers      map[int64]*entity.DispatchTrigger
	installations map[string]*entity.Installation
	nextTriggerID int64

	// fallos inyectables
	failTriggerCreate error
}

func newMemStore() *memStore {
	return &memStore{
		records:       make(map[string]*entity.InvoiceRecord),
		batches:       make(map[string]*entity.Batch),
		triggers:      make(map[int64]*entity.DispatchTrigger),
		installations: make(map[string]*entity.Installation),
	}
}

func (s *memStore) addInstallation(inst *entity.Installation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *inst
	s.installations[inst.ID] = &cp
}

func (s *memStore) addRecord(rec *entity.InvoiceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.ID] = &cp
	s.recordOrder = append(s.recordOrder, rec.ID)
}

func (s *memStore) addBatch(batch *entity.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *batch
	s.batches[batch.ID] = &cp
}

func (s *memStore) addTrigger(trigger *entity.DispatchTrigger) *entity.DispatchTrigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTriggerID++
	cp := *trigger
	cp.ID = s.nextTriggerID
	s.triggers[cp.ID] = &cp
	return &cp
}

func (s *memStore) record(id string) *entity.InvoiceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id]
}

func (s *memStore) batch(id string) *entity.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches[id]
}

func (s *memStore) trigger(id int64) *entity.DispatchTrigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggers[id]
}

func (s *memStore) installation(id string) *entity.Installation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.installations[id]
}

func (s *memStore) allTriggers() []*entity.DispatchTrigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*entity.DispatchTrigger, 0, len(s.triggers))
	for id := int64(1); id <= s.nextTriggerID; id++ {
		if t, ok := s.triggers[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

type storeSnapshot struct {
	records       map[string]entity.InvoiceRecord
	recordOrder   []string
	batches       map[string]entity.Batch
	triggers      map[int64]entity.DispatchTrigger
	installations map[string]entity.Installation
	nextTriggerID int64
}

func (s *memStore) snapshot() storeSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := storeSnapshot{
		records:       make(map[string]entity.InvoiceRecord, len(s.records)),
		recordOrder:   append([]string(nil), s.recordOrder...),
		batches:       make(map[string]entity.Batch, len(s.batches)),
		triggers:      make(map[int64]entity.DispatchTrigger, len(s.triggers)),
		installations: make(map[string]entity.Installation, len(s.installations)),
		nextTriggerID: s.nextTriggerID,
	}
	for k, v := range s.records {
		snap.records[k] = *v
	}
	for k, v := range s.batches {
		snap.batches[k] = *v
	}
	for k, v := range s.triggers {
		snap.triggers[k] = *v
	}
	for k, v := range s.installations {
		snap.installations[k] = *v
	}
	return snap
}

func (s *memStore) restore(snap storeSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*entity.InvoiceRecord, len(snap.records))
	for k, v := range snap.records {
		cp := v
		s.records[k] = &cp
	}
	s.recordOrder = append([]string(nil), snap.recordOrder...)
	s.batches = make(map[string]*entity.Batch, len(snap.batches))
	for k, v := range snap.batches {
		cp := v
		s.batches[k] = &cp
	}
	s.triggers = make(map[int64]*entity.DispatchTrigger, len(snap.triggers))
	for k, v := range snap.triggers {
		cp := v
		s.triggers[k] = &cp
	}
	s.installations = make(map[string]*entity.Installation, len(snap.installations))
	for k, v := range snap.installations {
		cp := v
		s.installations[k] = &cp
	}
	s.nextTriggerID = snap.nextTriggerID
}

// ──────────────────────────────────────────────────────────────────────────────
// TxRunner fake: ejecuta sobre el almacén y revierte con snapshot si fn falla
// ──────────────────────────────────────────────────────────────────────────────

type fakeTxRunner struct {
	s *memStore
}

func (r *fakeTxRunner) RunPipeline(ctx context.Context, fn func(
	records repository.InvoiceRecordRepository,
	batches repository.BatchRepository,
	triggers repository.DispatchTriggerRepository,
	installations repository.InstallationRepository,
) error) error {
	snap := r.s.snapshot()
	err := fn(
		&fakeRecordRepo{s: r.s},
		&fakeBatchRepo{s: r.s},
		&fakeTriggerRepo{s: r.s},
		&fakeInstallationRepo{s: r.s},
	)
	if err != nil {
		r.s.restore(snap)
		return err
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Repos fake
// ──────────────────────────────────────────────────────────────────────────────

type fakeRecordRepo struct {
	s *memStore
}

func (r *fakeRecordRepo) Create(_ context.Context, rec *entity.InvoiceRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.records {
		if existing.InstallationID == rec.InstallationID &&
			existing.Serie == rec.Serie && existing.Numero == rec.Numero &&
			existing.FechaExpedicion.Equal(rec.FechaExpedicion) {
			return domain.ErrDuplicate
		}
	}
	cp := *rec
	r.s.records[rec.ID] = &cp
	r.s.recordOrder = append(r.s.recordOrder, rec.ID)
	return nil
}

func (r *fakeRecordRepo) GetByID(_ context.Context, id string) (*entity.InvoiceRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.records[id], nil
}

func (r *fakeRecordRepo) GetLastByInstallation(_ context.Context, installationID string) (*entity.InvoiceRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := len(r.s.recordOrder) - 1; i >= 0; i-- {
		rec := r.s.records[r.s.recordOrder[i]]
		if rec.InstallationID == installationID {
			return rec, nil
		}
	}
	return nil, nil
}

func (r *fakeRecordRepo) SelectPendingForBatch(_ context.Context, installationID string, limit int) ([]*entity.InvoiceRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.InvoiceRecord
	for _, id := range r.s.recordOrder {
		rec := r.s.records[id]
		if rec.InstallationID == installationID && rec.Estado == entity.RecordStatePending {
			out = append(out, rec)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *fakeRecordRepo) AssignBatch(_ context.Context, recordIDs []string, batchID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range recordIDs {
		rec, ok := r.s.records[id]
		if !ok || rec.Estado != entity.RecordStatePending {
			return domain.ErrConflict
		}
		rec.Estado = entity.RecordStateQueued
		rec.BatchID = batchID
	}
	return nil
}

func (r *fakeRecordRepo) ListByBatch(_ context.Context, batchID string) ([]*entity.InvoiceRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.InvoiceRecord
	for _, id := range r.s.recordOrder {
		if rec := r.s.records[id]; rec.BatchID == batchID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *fakeRecordRepo) ApplyOutcome(_ context.Context, id, estado, aeatEstado, aeatCodigo, aeatDescripcion string, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.records[id]
	if !ok {
		return fmt.Errorf("registro %s no existe", id)
	}
	rec.Estado = estado
	rec.AEATEstado = aeatEstado
	rec.AEATCodigo = aeatCodigo
	rec.AEATDescripcion = aeatDescripcion
	rec.UpdatedAt = now
	return nil
}

func (r *fakeRecordRepo) ReleaseBatch(_ context.Context, batchID string, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, rec := range r.s.records {
		if rec.BatchID == batchID && rec.Estado == entity.RecordStateQueued {
			rec.Estado = entity.RecordStatePending
			rec.BatchID = ""
			rec.RetryCount++
			rec.UpdatedAt = now
		}
	}
	return nil
}

func (r *fakeRecordRepo) CountPending(_ context.Context, installationID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, rec := range r.s.records {
		if rec.InstallationID == installationID && rec.Estado == entity.RecordStatePending {
			n++
		}
	}
	return n, nil
}

type fakeBatchRepo struct {
	s *memStore
}

func (r *fakeBatchRepo) Create(_ context.Context, batch *entity.Batch) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *batch
	r.s.batches[batch.ID] = &cp
	return nil
}

func (r *fakeBatchRepo) GetByID(_ context.Context, id string) (*entity.Batch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.batches[id], nil
}

func (r *fakeBatchRepo) MarkSending(_ context.Context, id string, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if batch, ok := r.s.batches[id]; ok && batch.Estado == entity.BatchStateCreated {
		batch.Estado = entity.BatchStateSending
		batch.UpdatedAt = now
	}
	return nil
}

func (r *fakeBatchRepo) Resolve(_ context.Context, id, estado, wirePayload, responsePayload, csv string, waitSeconds int, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	batch, ok := r.s.batches[id]
	if !ok {
		return fmt.Errorf("lote %s no existe", id)
	}
	batch.Estado = estado
	if wirePayload != "" {
		batch.WirePayload = wirePayload
	}
	batch.ResponsePayload = responsePayload
	batch.CSV = csv
	batch.WaitSeconds = waitSeconds
	batch.UpdatedAt = now
	return nil
}

type fakeTriggerRepo struct {
	s *memStore
}

func (r *fakeTriggerRepo) Create(_ context.Context, trigger *entity.DispatchTrigger) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failTriggerCreate != nil {
		return r.s.failTriggerCreate
	}
	r.s.nextTriggerID++
	cp := *trigger
	cp.ID = r.s.nextTriggerID
	r.s.triggers[cp.ID] = &cp
	trigger.ID = cp.ID
	return nil
}

func (r *fakeTriggerRepo) GetByID(_ context.Context, id int64) (*entity.DispatchTrigger, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.triggers[id], nil
}

func (r *fakeTriggerRepo) SelectDispatchable(_ context.Context, now time.Time, staleAfter time.Duration, limit int) ([]*entity.DispatchTrigger, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.DispatchTrigger
	for id := int64(1); id <= r.s.nextTriggerID && len(out) < limit; id++ {
		t, ok := r.s.triggers[id]
		if !ok {
			continue
		}
		switch t.Estado {
		case entity.TriggerStatePending:
			if t.NextAttemptAt == nil || !t.NextAttemptAt.After(now) {
				out = append(out, t)
			}
		case entity.TriggerStateQueued:
			if t.QueuedAt != nil && !t.QueuedAt.After(now.Add(-staleAfter)) {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

func (r *fakeTriggerRepo) MarkQueued(_ context.Context, id int64, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t, ok := r.s.triggers[id]; ok &&
		(t.Estado == entity.TriggerStatePending || t.Estado == entity.TriggerStateQueued) {
		t.Estado = entity.TriggerStateQueued
		queued := now
		t.QueuedAt = &queued
	}
	return nil
}

func (r *fakeTriggerRepo) MarkProcessed(_ context.Context, id int64, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t, ok := r.s.triggers[id]; ok {
		t.Estado = entity.TriggerStateProcessed
		attempt := now
		t.LastAttemptAt = &attempt
		t.QueuedAt = nil
		t.NextAttemptAt = nil
		t.LastError = ""
	}
	return nil
}

func (r *fakeTriggerRepo) MarkError(_ context.Context, id int64, lastError string, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t, ok := r.s.triggers[id]; ok {
		t.Estado = entity.TriggerStateError
		attempt := now
		t.LastAttemptAt = &attempt
		t.QueuedAt = nil
		t.NextAttemptAt = nil
		t.LastError = lastError
	}
	return nil
}

func (r *fakeTriggerRepo) ScheduleRetry(_ context.Context, id int64, attempts int, nextAttemptAt time.Time, lastError string, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t, ok := r.s.triggers[id]; ok {
		t.Estado = entity.TriggerStatePending
		t.Attempts = attempts
		next := nextAttemptAt
		t.NextAttemptAt = &next
		attempt := now
		t.LastAttemptAt = &attempt
		t.QueuedAt = nil
		t.LastError = lastError
	}
	return nil
}

func (r *fakeTriggerRepo) ListErrored(_ context.Context) ([]*entity.DispatchTrigger, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.DispatchTrigger
	for id := int64(1); id <= r.s.nextTriggerID; id++ {
		if t, ok := r.s.triggers[id]; ok && t.Estado == entity.TriggerStateError {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeInstallationRepo struct {
	s *memStore
}

func (r *fakeInstallationRepo) GetByID(_ context.Context, id string) (*entity.Installation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.installations[id], nil
}

func (r *fakeInstallationRepo) GetForChain(ctx context.Context, id string) (*entity.Installation, error) {
	return r.GetByID(ctx, id)
}

func (r *fakeInstallationRepo) ListActiveWithPending(_ context.Context) ([]*entity.Installation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.Installation
	for _, inst := range r.s.installations {
		if !inst.Active {
			continue
		}
		pending := 0
		for _, rec := range r.s.records {
			if rec.InstallationID == inst.ID && rec.Estado == entity.RecordStatePending {
				pending++
			}
		}
		cp := *inst
		cp.PendingCount = pending
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeInstallationRepo) UpdateFlowControl(_ context.Context, id string, lastSendAt time.Time, waitSeconds int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if inst, ok := r.s.installations[id]; ok {
		sendAt := lastSendAt
		inst.LastSendAt = &sendAt
		inst.LastWaitSeconds = waitSeconds
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Locker, renderer y submitter fake
// ──────────────────────────────────────────────────────────────────────────────

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (l *fakeLocker) TryAcquire(_ context.Context, key string, _ time.Duration) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, ErrLockHeld
	}
	l.held[key] = true
	return &fakeLock{locker: l, key: key}, nil
}

type fakeLock struct {
	locker *fakeLocker
	key    string
}

func (l *fakeLock) Release(_ context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	delete(l.locker.held, l.key)
	return nil
}

type fakeRenderer struct {
	err error
}

func (f *fakeRenderer) Render(_ *entity.Installation, _ *entity.Batch, _ []*entity.InvoiceRecord) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("<envio/>"), nil
}

type fakeSubmitter struct {
	mu     sync.Mutex
	result *SubmitResult
	err    error
	calls  int
}

func (f *fakeSubmitter) Submit(_ context.Context, _ []byte) (*SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
