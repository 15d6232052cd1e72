package scan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/pupscan/pupscan-backend/internal/breed"
	"github.com/pupscan/pupscan-backend/internal/domain"
	"github.com/pupscan/pupscan-backend/internal/platform/dbctx"
	"github.com/pupscan/pupscan-backend/internal/platform/logger"
)

// In-memory stand-ins for the repo, blob and cache collaborators.

type memScanRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*domain.ScanRecord
}

func newMemScanRepo() *memScanRepo {
	return &memScanRepo{rows: map[uuid.UUID]*domain.ScanRecord{}}
}

func (r *memScanRepo) Create(_ dbctx.Context, rec *domain.ScanRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	cp := *rec
	r.rows[rec.ID] = &cp
	return nil
}

func (r *memScanRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*domain.ScanRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *memScanRepo) LatestByDigest(_ dbctx.Context, digest string) (*domain.ScanRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.ScanRecord
	for _, rec := range r.rows {
		if rec.ImageDigest != digest {
			continue
		}
		if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *memScanRepo) ListByOwner(_ dbctx.Context, ownerID uuid.UUID) ([]*domain.ScanRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.ScanRecord
	for _, rec := range r.rows {
		if rec.OwnerUserID == ownerID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memScanRepo) UpdateFields(_ dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok {
		return fmt.Errorf("update: %s not found", id)
	}
	for col, val := range updates {
		switch col {
		case "simulation":
			rec.Simulation = val.(datatypes.JSON)
		case "alternatives":
			rec.Alternatives = val.(datatypes.JSON)
		case "breed":
			rec.Breed = val.(string)
		case "confidence":
			rec.Confidence = val.(float64)
		case "verification_status":
			rec.VerificationStatus = val.(string)
		case "prediction_method":
			rec.PredictionMethod = val.(string)
		}
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memScanRepo) Delete(_ dbctx.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

type memCorrectionRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*domain.CorrectionEntry
}

func newMemCorrectionRepo() *memCorrectionRepo {
	return &memCorrectionRepo{rows: map[uuid.UUID]*domain.CorrectionEntry{}}
}

func (r *memCorrectionRepo) Create(_ dbctx.Context, entry *domain.CorrectionEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	cp := *entry
	r.rows[entry.ID] = &cp
	return nil
}

func (r *memCorrectionRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*domain.CorrectionEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *entry
	return &cp, nil
}

func (r *memCorrectionRepo) LatestByDigest(_ dbctx.Context, digest string) (*domain.CorrectionEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.CorrectionEntry
	for _, entry := range r.rows {
		if entry.ImageDigest != digest {
			continue
		}
		if latest == nil || entry.CreatedAt.After(latest.CreatedAt) {
			latest = entry
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *memCorrectionRepo) ListByScan(_ dbctx.Context, scanID uuid.UUID) ([]*domain.CorrectionEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.CorrectionEntry
	for _, entry := range r.rows {
		if entry.ScanRecordID == scanID {
			cp := *entry
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memCorrectionRepo) UpdateTeachingStatus(_ dbctx.Context, id uuid.UUID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.rows[id]; ok {
		entry.TeachingStatus = status
	}
	return nil
}

func (r *memCorrectionRepo) Delete(_ dbctx.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

type memBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads int
}

func newMemBucket() *memBucket { return &memBucket{objects: map[string][]byte{}} }

func (b *memBucket) Upload(_ context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = append([]byte(nil), data...)
	b.uploads++
	return nil
}

func (b *memBucket) Download(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %q not found", key)
	}
	return append([]byte(nil), data...), nil
}

func (b *memBucket) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *memBucket) PublicURL(key string) string { return "https://cdn.test/" + key }

type memStatus struct {
	mu          sync.Mutex
	entries     map[uuid.UUID][]byte
	invalidated int
}

func newMemStatus() *memStatus { return &memStatus{entries: map[uuid.UUID][]byte{}} }

func (s *memStatus) Get(_ context.Context, scanID uuid.UUID) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.entries[scanID]
	return payload, ok
}

func (s *memStatus) Set(_ context.Context, scanID uuid.UUID, payload []byte, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[scanID] = payload
}

func (s *memStatus) Invalidate(_ context.Context, scanID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, scanID)
	s.invalidated++
}

func (s *memStatus) Close() error { return nil }

type fakeEngine struct {
	result *breed.Result
	err    error
	calls  int
}

func (f *fakeEngine) Run(context.Context, []byte) (*breed.Result, error) {
	f.calls++
	return f.result, f.err
}

type fakeGate struct {
	isDog bool
	err   error
}

func (f *fakeGate) DetectDog(context.Context, []byte) (bool, error) { return f.isDog, f.err }

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []uuid.UUID
}

func (f *fakeDispatcher) DispatchAgeProgression(_ context.Context, scanID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, scanID)
	return nil
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type serviceFixture struct {
	svc        *Service
	scans      *memScanRepo
	corrs      *memCorrectionRepo
	engine     *fakeEngine
	gate       *fakeGate
	bucket     *memBucket
	status     *memStatus
	dispatcher *fakeDispatcher
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	f := &serviceFixture{
		scans:  newMemScanRepo(),
		corrs:  newMemCorrectionRepo(),
		engine: &fakeEngine{result: &breed.Result{
			Breed:      "Beagle",
			Confidence: 91,
			Method:     domain.MethodMLGeminiConfirmed,
		}},
		gate:       &fakeGate{isDog: true},
		bucket:     newMemBucket(),
		status:     newMemStatus(),
		dispatcher: &fakeDispatcher{},
	}
	f.svc = NewService(log, f.scans, f.corrs, f.engine, f.gate, f.bucket, f.status, f.dispatcher)
	return f
}

func TestAnalyzeFreshImageRunsConsensus(t *testing.T) {
	f := newServiceFixture(t)
	owner := uuid.New()
	img := pngBytes(t, 24, 24)

	rec, err := f.svc.Analyze(context.Background(), owner, img)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if f.engine.calls != 1 {
		t.Fatalf("engine calls = %d, want 1", f.engine.calls)
	}
	if rec.Breed != "Beagle" || rec.PredictionMethod != domain.MethodMLGeminiConfirmed {
		t.Fatalf("record = %+v", rec)
	}
	if rec.ImageDigest != Digest(img) {
		t.Fatal("digest not recorded")
	}
	if sim := domain.ParseSimulation(rec.Simulation); sim.Status != domain.SimulationQueued {
		t.Fatalf("simulation status = %q, want queued", sim.Status)
	}
	if f.bucket.uploads != 1 {
		t.Fatalf("uploads = %d, want 1", f.bucket.uploads)
	}
	if f.dispatcher.count() != 1 {
		t.Fatalf("dispatches = %d, want 1", f.dispatcher.count())
	}
}

func TestAnalyzeRejectsNonDog(t *testing.T) {
	f := newServiceFixture(t)
	f.gate.isDog = false

	_, err := f.svc.Analyze(context.Background(), uuid.New(), pngBytes(t, 24, 24))
	var nderr *domain.NotADogError
	if !errors.As(err, &nderr) {
		t.Fatalf("got %v, want NotADogError", err)
	}
	if f.engine.calls != 0 {
		t.Fatal("engine ran for a non-dog image")
	}
	if f.bucket.uploads != 0 {
		t.Fatal("non-dog image was stored")
	}
}

func TestAnalyzeGateFailureFailsOpen(t *testing.T) {
	f := newServiceFixture(t)
	f.gate.isDog = false
	f.gate.err = errors.New("gate timeout")

	rec, err := f.svc.Analyze(context.Background(), uuid.New(), pngBytes(t, 24, 24))
	if err != nil {
		t.Fatalf("Analyze should fail open, got %v", err)
	}
	if rec == nil || f.engine.calls != 1 {
		t.Fatal("pipeline did not proceed past the broken gate")
	}
}

func TestAnalyzeCorrectionShortCircuitsInference(t *testing.T) {
	f := newServiceFixture(t)
	owner := uuid.New()
	img := pngBytes(t, 24, 24)
	digest := Digest(img)

	prior := &domain.ScanRecord{
		ID:          uuid.New(),
		OwnerUserID: owner,
		ImagePath:   "scans/prior/original.png",
		ImageDigest: digest,
		Breed:       "Beagle",
		Description: "a merry little hound",
		Simulation:  domain.SimulationData{Status: domain.SimulationComplete}.JSON(),
	}
	if err := f.scans.Create(dbctx.New(context.Background()), prior); err != nil {
		t.Fatal(err)
	}
	if err := f.corrs.Create(dbctx.New(context.Background()), &domain.CorrectionEntry{
		ID:             uuid.New(),
		ScanRecordID:   prior.ID,
		ImageDigest:    digest,
		PredictedBreed: "Beagle",
		CorrectedBreed: "Harrier",
	}); err != nil {
		t.Fatal(err)
	}

	rec, err := f.svc.Analyze(context.Background(), owner, img)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if f.engine.calls != 0 {
		t.Fatal("consensus ran despite an existing correction")
	}
	if rec.Breed != "Harrier" || rec.Confidence != 100 {
		t.Fatalf("record = breed %q conf %v", rec.Breed, rec.Confidence)
	}
	if rec.PredictionMethod != domain.MethodAdminCorrected {
		t.Fatalf("method = %q", rec.PredictionMethod)
	}
	if rec.VerificationStatus != domain.VerificationVerified {
		t.Fatalf("verification = %q", rec.VerificationStatus)
	}
	if rec.Description != "a merry little hound" {
		t.Fatal("prior artifacts not copied forward")
	}
	// Copied-forward complete simulation: no re-render.
	if f.dispatcher.count() != 0 {
		t.Fatal("dispatched a job for an already-complete simulation")
	}
}

func TestAnalyzeReusesHighQualityPrior(t *testing.T) {
	f := newServiceFixture(t)
	img := pngBytes(t, 24, 24)
	digest := Digest(img)

	if err := f.scans.Create(dbctx.New(context.Background()), &domain.ScanRecord{
		ID:               uuid.New(),
		OwnerUserID:      uuid.New(),
		ImagePath:        "scans/prior/original.png",
		ImageDigest:      digest,
		Breed:            "Beagle",
		Confidence:       91,
		PredictionMethod: domain.MethodMLGeminiConfirmed,
		Simulation:       domain.SimulationData{Status: domain.SimulationComplete}.JSON(),
	}); err != nil {
		t.Fatal(err)
	}

	rec, err := f.svc.Analyze(context.Background(), uuid.New(), img)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if f.engine.calls != 0 {
		t.Fatal("consensus ran despite a reusable prior")
	}
	if rec.PredictionMethod != domain.MethodExactMatch {
		t.Fatalf("method = %q", rec.PredictionMethod)
	}
	if rec.Breed != "Beagle" || rec.Confidence != 91 {
		t.Fatalf("record = breed %q conf %v", rec.Breed, rec.Confidence)
	}
}

func TestAnalyzeReRunsLowQualityPrior(t *testing.T) {
	f := newServiceFixture(t)
	img := pngBytes(t, 24, 24)

	if err := f.scans.Create(dbctx.New(context.Background()), &domain.ScanRecord{
		ID:               uuid.New(),
		OwnerUserID:      uuid.New(),
		ImagePath:        "scans/prior/original.png",
		ImageDigest:      Digest(img),
		Breed:            "Beagle",
		Confidence:       70,
		PredictionMethod: domain.MethodModel,
	}); err != nil {
		t.Fatal(err)
	}

	rec, err := f.svc.Analyze(context.Background(), uuid.New(), img)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if f.engine.calls != 1 {
		t.Fatal("low-confidence legacy prior should not short-circuit")
	}
	if rec.PredictionMethod != domain.MethodMLGeminiConfirmed {
		t.Fatalf("method = %q", rec.PredictionMethod)
	}
}

func TestRegenerateResetsSimulationAndDispatches(t *testing.T) {
	f := newServiceFixture(t)
	owner := uuid.New()
	failedPath := "scans/x/aged_1y.jpg"
	rec := &domain.ScanRecord{
		ID:          uuid.New(),
		OwnerUserID: owner,
		ImagePath:   "scans/x/original.png",
		ImageDigest: "d",
		Simulation: domain.SimulationData{
			Status:      domain.SimulationFailed,
			OneYearPath: &failedPath,
			Error:       "boom",
		}.JSON(),
	}
	if err := f.scans.Create(dbctx.New(context.Background()), rec); err != nil {
		t.Fatal(err)
	}
	f.status.Set(context.Background(), rec.ID, []byte(`{"status":"failed"}`), time.Minute)

	if err := f.svc.Regenerate(context.Background(), owner, rec.ID); err != nil {
		t.Fatalf("Regenerate: %v", err)
	}

	got, _ := f.scans.GetByID(dbctx.New(context.Background()), rec.ID)
	sim := domain.ParseSimulation(got.Simulation)
	if sim.Status != domain.SimulationQueued {
		t.Fatalf("status = %q, want queued", sim.Status)
	}
	if sim.OneYearPath != nil || sim.Error != "" {
		t.Fatal("stale simulation fields survived regenerate")
	}
	if f.dispatcher.count() != 1 {
		t.Fatalf("dispatches = %d, want 1", f.dispatcher.count())
	}
	if _, ok := f.status.Get(context.Background(), rec.ID); ok {
		t.Fatal("cached status not invalidated")
	}
}

func TestRegenerateUnknownScan(t *testing.T) {
	f := newServiceFixture(t)
	if err := f.svc.Regenerate(context.Background(), uuid.New(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestDeleteRemovesRecordBlobsAndCache(t *testing.T) {
	f := newServiceFixture(t)
	owner := uuid.New()
	aged := "scans/x/aged_3y.jpg"
	rec := &domain.ScanRecord{
		ID:          uuid.New(),
		OwnerUserID: owner,
		ImagePath:   "scans/x/original.png",
		ImageDigest: "d",
		Simulation: domain.SimulationData{
			Status:        domain.SimulationComplete,
			ThreeYearPath: &aged,
		}.JSON(),
	}
	if err := f.scans.Create(dbctx.New(context.Background()), rec); err != nil {
		t.Fatal(err)
	}
	_ = f.bucket.Upload(context.Background(), rec.ImagePath, []byte("orig"))
	_ = f.bucket.Upload(context.Background(), aged, []byte("aged"))

	if err := f.svc.Delete(context.Background(), owner, rec.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := f.scans.GetByID(dbctx.New(context.Background()), rec.ID); got != nil {
		t.Fatal("record survived delete")
	}
	if _, err := f.bucket.Download(context.Background(), rec.ImagePath); err == nil {
		t.Fatal("original blob survived delete")
	}
	if _, err := f.bucket.Download(context.Background(), aged); err == nil {
		t.Fatal("aged blob survived delete")
	}
}

func TestScanAccessScopedToOwner(t *testing.T) {
	f := newServiceFixture(t)
	owner := uuid.New()
	stranger := uuid.New()
	rec := &domain.ScanRecord{
		ID:          uuid.New(),
		OwnerUserID: owner,
		ImagePath:   "scans/x/original.png",
		ImageDigest: "d",
		Simulation:  domain.SimulationData{Status: domain.SimulationComplete}.JSON(),
	}
	if err := f.scans.Create(dbctx.New(context.Background()), rec); err != nil {
		t.Fatal(err)
	}
	// A payload cached for the owner must not satisfy a stranger's poll.
	f.status.Set(context.Background(), rec.ID, []byte(`{"status":"complete"}`), time.Minute)

	if _, err := f.svc.Get(context.Background(), stranger, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get as stranger: got %v, want ErrNotFound", err)
	}
	if _, err := f.svc.SimulationStatus(context.Background(), stranger, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SimulationStatus as stranger: got %v, want ErrNotFound", err)
	}
	if err := f.svc.Regenerate(context.Background(), stranger, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Regenerate as stranger: got %v, want ErrNotFound", err)
	}
	if err := f.svc.Delete(context.Background(), stranger, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete as stranger: got %v, want ErrNotFound", err)
	}

	if got, err := f.svc.Get(context.Background(), owner, rec.ID); err != nil || got == nil {
		t.Fatalf("Get as owner: %v", err)
	}
	if f.dispatcher.count() != 0 {
		t.Fatalf("dispatches = %d, want 0", f.dispatcher.count())
	}
}
