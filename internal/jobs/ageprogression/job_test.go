package ageprogression

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/pupscan/pupscan-backend/internal/domain"
	"github.com/pupscan/pupscan-backend/internal/platform/dbctx"
	"github.com/pupscan/pupscan-backend/internal/platform/logger"
)

type memScans struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*domain.ScanRecord
}

func (r *memScans) Create(_ dbctx.Context, rec *domain.ScanRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.rows[rec.ID] = &cp
	return nil
}

func (r *memScans) GetByID(_ dbctx.Context, id uuid.UUID) (*domain.ScanRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *memScans) LatestByDigest(dbctx.Context, string) (*domain.ScanRecord, error) {
	return nil, nil
}

func (r *memScans) ListByOwner(dbctx.Context, uuid.UUID) ([]*domain.ScanRecord, error) {
	return nil, nil
}

func (r *memScans) UpdateFields(_ dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok {
		return fmt.Errorf("scan %s not found", id)
	}
	if sim, ok := updates["simulation"]; ok {
		rec.Simulation = sim.(datatypes.JSON)
	}
	return nil
}

func (r *memScans) Delete(_ dbctx.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

type memBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (b *memBucket) Upload(_ context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = append([]byte(nil), data...)
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
	invalidated int
}

func (s *memStatus) Get(context.Context, uuid.UUID) ([]byte, bool)         { return nil, false }
func (s *memStatus) Set(context.Context, uuid.UUID, []byte, time.Duration) {}
func (s *memStatus) Close() error                                          { return nil }
func (s *memStatus) Invalidate(context.Context, uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated++
}

// fakeGenerator fails a variant until its configured attempt succeeds.
type fakeGenerator struct {
	mu sync.Mutex
	// succeedOn[years] = attempt number that succeeds; 0 means never.
	succeedOn map[int]int
	calls     map[int]int
}

func newFakeGenerator(succeedOn map[int]int) *fakeGenerator {
	return &fakeGenerator{succeedOn: succeedOn, calls: map[int]int{}}
}

func (g *fakeGenerator) GenerateAgedImage(_ context.Context, _ []byte, prompt string) ([]byte, error) {
	years := 3
	if strings.Contains(prompt, "1 year(s) old") {
		years = 1
	}
	g.mu.Lock()
	g.calls[years]++
	n := g.calls[years]
	target := g.succeedOn[years]
	g.mu.Unlock()

	if target == 0 || n < target {
		return nil, errors.New("render failed")
	}
	return []byte("rendered"), nil
}

func (g *fakeGenerator) callsFor(years int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[years]
}

func jobFixture(t *testing.T, gen Generator) (Deps, *memScans, *memBucket, uuid.UUID) {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 64))); err != nil {
		t.Fatalf("encode png: %v", err)
	}

	scans := &memScans{rows: map[uuid.UUID]*domain.ScanRecord{}}
	bucket := &memBucket{objects: map[string][]byte{}}

	rec := &domain.ScanRecord{
		ID:          uuid.New(),
		OwnerUserID: uuid.New(),
		ImagePath:   "scans/x/original.png",
		ImageDigest: "digest-x",
		Breed:       "Beagle",
		Simulation:  domain.SimulationData{Status: domain.SimulationQueued}.JSON(),
	}
	if err := scans.Create(dbctx.New(context.Background()), rec); err != nil {
		t.Fatal(err)
	}
	if err := bucket.Upload(context.Background(), rec.ImagePath, buf.Bytes()); err != nil {
		t.Fatal(err)
	}

	deps := Deps{
		Log:     log,
		Scans:   scans,
		Bucket:  bucket,
		AI:      gen,
		Status:  &memStatus{},
		Backoff: func(int) time.Duration { return 0 },
	}
	return deps, scans, bucket, rec.ID
}

func simOf(t *testing.T, scans *memScans, id uuid.UUID) domain.SimulationData {
	t.Helper()
	rec, err := scans.GetByID(dbctx.New(context.Background()), id)
	if err != nil || rec == nil {
		t.Fatalf("scan lookup: rec=%v err=%v", rec, err)
	}
	return domain.ParseSimulation(rec.Simulation)
}

func TestRunAllVariantsSucceed(t *testing.T) {
	gen := newFakeGenerator(map[int]int{1: 1, 3: 1})
	deps, scans, bucket, scanID := jobFixture(t, gen)

	if err := Run(context.Background(), deps, scanID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sim := simOf(t, scans, scanID)
	if sim.Status != domain.SimulationComplete {
		t.Fatalf("status = %q", sim.Status)
	}
	if sim.OneYearPath == nil || sim.ThreeYearPath == nil {
		t.Fatalf("paths = %v / %v", sim.OneYearPath, sim.ThreeYearPath)
	}
	if len(sim.BreedProfile) == 0 {
		t.Fatal("breed profile not snapshotted")
	}
	if _, err := bucket.Download(context.Background(), *sim.OneYearPath); err != nil {
		t.Fatalf("variant blob missing: %v", err)
	}
}

func TestRunPartialSuccessCompletesWithNullPath(t *testing.T) {
	gen := newFakeGenerator(map[int]int{1: 1, 3: 0}) // 3-year never renders
	deps, scans, _, scanID := jobFixture(t, gen)

	if err := Run(context.Background(), deps, scanID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sim := simOf(t, scans, scanID)
	if sim.Status != domain.SimulationComplete {
		t.Fatalf("status = %q, want complete on partial success", sim.Status)
	}
	if sim.OneYearPath == nil {
		t.Fatal("successful variant path missing")
	}
	if sim.ThreeYearPath != nil {
		t.Fatalf("failed variant path = %q, want null", *sim.ThreeYearPath)
	}
}

func TestRunRetriesOnlyMissingVariants(t *testing.T) {
	gen := newFakeGenerator(map[int]int{1: 1, 3: 2}) // 3-year needs a retry
	deps, scans, _, scanID := jobFixture(t, gen)

	if err := Run(context.Background(), deps, scanID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if gen.callsFor(1) != 1 {
		t.Fatalf("1-year calls = %d, want 1 (already settled)", gen.callsFor(1))
	}
	if gen.callsFor(3) != 2 {
		t.Fatalf("3-year calls = %d, want 2", gen.callsFor(3))
	}
	sim := simOf(t, scans, scanID)
	if sim.OneYearPath == nil || sim.ThreeYearPath == nil {
		t.Fatal("expected both variants after retry")
	}
}

func TestRunAllVariantsFail(t *testing.T) {
	gen := newFakeGenerator(map[int]int{})
	deps, scans, _, scanID := jobFixture(t, gen)

	if err := Run(context.Background(), deps, scanID); err == nil {
		t.Fatal("expected error when every variant fails")
	}

	if gen.callsFor(1) != defaultMaxAttempts || gen.callsFor(3) != defaultMaxAttempts {
		t.Fatalf("calls = %d/%d, want %d each", gen.callsFor(1), gen.callsFor(3), defaultMaxAttempts)
	}
	sim := simOf(t, scans, scanID)
	if sim.Status != domain.SimulationFailed {
		t.Fatalf("status = %q, want failed", sim.Status)
	}
	if sim.Error == "" {
		t.Fatal("failed simulation carries no user message")
	}
}

func TestRunTimeoutMarksFailed(t *testing.T) {
	gen := newFakeGenerator(map[int]int{})
	deps, scans, _, scanID := jobFixture(t, gen)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Run(ctx, deps, scanID)
	var terr *domain.JobTimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("got %v, want JobTimeoutError", err)
	}
	if sim := simOf(t, scans, scanID); sim.Status != domain.SimulationFailed {
		t.Fatalf("status = %q, want failed", sim.Status)
	}
}
