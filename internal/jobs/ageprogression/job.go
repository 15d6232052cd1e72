// Package ageprogression renders the aged variants of a scanned dog photo.
// The job settles all variants per attempt, retries only what is still
// missing, and records partial success as a completed run with null paths.
package ageprogression

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/pupscan/pupscan-backend/internal/breed"
	"github.com/pupscan/pupscan-backend/internal/clients/gcp"
	rediscache "github.com/pupscan/pupscan-backend/internal/clients/redis"
	"github.com/pupscan/pupscan-backend/internal/data/repos"
	"github.com/pupscan/pupscan-backend/internal/domain"
	"github.com/pupscan/pupscan-backend/internal/platform/dbctx"
	"github.com/pupscan/pupscan-backend/internal/platform/logger"
)

// Generator renders one age variant from the prepared source photo.
type Generator interface {
	GenerateAgedImage(ctx context.Context, image []byte, prompt string) ([]byte, error)
}

const (
	defaultMaxAttempts = 3
	payloadTTL         = 10 * time.Minute
	maxPayloadEdge     = 1024
	jpegQuality        = 85
)

// Variant years rendered per scan, in output order.
var variantYears = []int{1, 3}

type Deps struct {
	Log      *logger.Logger
	Scans    repos.ScanRepo
	Bucket   gcp.BucketService
	AI       Generator
	Status   rediscache.StatusCache
	Payloads *gocache.Cache

	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

func (d *Deps) maxAttempts() int {
	if d.MaxAttempts > 0 {
		return d.MaxAttempts
	}
	return defaultMaxAttempts
}

func (d *Deps) backoff(attempt int) time.Duration {
	if d.Backoff != nil {
		return d.Backoff(attempt)
	}
	return time.Duration(1<<uint(attempt)) * time.Second
}

// Run executes the age-progression job for one scan. It always leaves the
// record in a terminal simulation state unless the record itself cannot be
// written.
func Run(ctx context.Context, deps Deps, scanID uuid.UUID) error {
	log := deps.Log.With("job", "AgeProgression", "scan_id", scanID.String())
	started := time.Now()

	rec, err := deps.Scans.GetByID(dbctx.New(ctx), scanID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("scan %s not found", scanID)
	}

	if err := setStatus(ctx, deps, scanID, domain.SimulationData{Status: domain.SimulationGenerating}); err != nil {
		return err
	}

	payload, err := preparePayload(ctx, deps, rec)
	if err != nil {
		log.Error("payload preparation failed", "error", err)
		return fail(ctx, deps, scanID, err)
	}

	profile := breed.ProfileFor(rec.Breed)
	results := make(map[int]string, len(variantYears))
	var mu sync.Mutex
	var lastErr error

	for attempt := 1; attempt <= deps.maxAttempts(); attempt++ {
		missing := missingYears(results)
		if len(missing) == 0 {
			break
		}
		if attempt > 1 {
			log.Warn("retrying missing variants", "attempt", attempt, "missing", len(missing))
			select {
			case <-time.After(deps.backoff(attempt - 1)):
			case <-ctx.Done():
				return timeout(ctx, deps, scanID, started)
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, years := range missing {
			years := years
			g.Go(func() error {
				prompt := breed.AgeProgressionPrompt(rec.Breed, profile, years)
				img, genErr := deps.AI.GenerateAgedImage(gctx, payload, prompt)
				if genErr != nil {
					log.Warn("variant generation failed",
						"years", years, "attempt", attempt, "error", genErr)
					mu.Lock()
					lastErr = genErr
					mu.Unlock()
					return nil
				}
				key := fmt.Sprintf("scans/%s/aged_%dy.jpg", rec.ID.String(), years)
				if upErr := deps.Bucket.Upload(gctx, key, img); upErr != nil {
					log.Warn("variant upload failed",
						"years", years, "attempt", attempt, "error", upErr)
					mu.Lock()
					lastErr = &domain.StorageError{Op: "upload", Err: upErr}
					mu.Unlock()
					return nil
				}
				mu.Lock()
				results[years] = key
				mu.Unlock()
				return nil
			})
		}
		// Workers swallow their own failures, so Wait only reports a
		// cancelled context.
		if err := g.Wait(); err != nil {
			return timeout(ctx, deps, scanID, started)
		}
		if ctx.Err() != nil {
			return timeout(ctx, deps, scanID, started)
		}
	}

	if len(results) == 0 {
		if lastErr == nil {
			lastErr = errors.New("no variants rendered")
		}
		return fail(ctx, deps, scanID, lastErr)
	}

	profileJSON, _ := json.Marshal(profile)
	sim := domain.SimulationData{
		Status:        domain.SimulationComplete,
		OneYearPath:   keyOrNil(results, 1),
		ThreeYearPath: keyOrNil(results, 3),
		BreedProfile:  profileJSON,
	}
	if err := setStatus(ctx, deps, scanID, sim); err != nil {
		return err
	}
	log.Info("age progression complete",
		"variants", len(results), "elapsed", time.Since(started).String())
	return nil
}

// preparePayload downloads the original, caps its longest edge and
// re-encodes it as JPEG. The prepared bytes are cached by digest so a
// regenerate within the window skips the download and resize.
func preparePayload(ctx context.Context, deps Deps, rec *domain.ScanRecord) ([]byte, error) {
	if deps.Payloads != nil {
		if cached, ok := deps.Payloads.Get(rec.ImageDigest); ok {
			return cached.([]byte), nil
		}
	}

	raw, err := deps.Bucket.Download(ctx, rec.ImagePath)
	if err != nil {
		return nil, &domain.StorageError{Op: "download", Err: err}
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() > maxPayloadEdge || bounds.Dy() > maxPayloadEdge {
		img = imaging.Fit(img, maxPayloadEdge, maxPayloadEdge, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	payload := buf.Bytes()

	if deps.Payloads != nil {
		deps.Payloads.Set(rec.ImageDigest, payload, payloadTTL)
	}
	return payload, nil
}

func missingYears(results map[int]string) []int {
	var out []int
	for _, years := range variantYears {
		if _, ok := results[years]; !ok {
			out = append(out, years)
		}
	}
	return out
}

func keyOrNil(results map[int]string, years int) *string {
	key, ok := results[years]
	if !ok {
		return nil
	}
	return &key
}

func setStatus(ctx context.Context, deps Deps, scanID uuid.UUID, sim domain.SimulationData) error {
	// Status writes must survive a cancelled job context.
	wctx := ctx
	if wctx.Err() != nil {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}
	if err := deps.Scans.UpdateFields(dbctx.New(wctx), scanID, map[string]interface{}{
		"simulation": sim.JSON(),
	}); err != nil {
		return err
	}
	deps.Status.Invalidate(wctx, scanID)
	return nil
}

func fail(ctx context.Context, deps Deps, scanID uuid.UUID, cause error) error {
	sim := domain.SimulationData{
		Status: domain.SimulationFailed,
		Error:  domain.UserMessage(cause),
	}
	if err := setStatus(ctx, deps, scanID, sim); err != nil {
		return err
	}
	return cause
}

func timeout(ctx context.Context, deps Deps, scanID uuid.UUID, started time.Time) error {
	terr := &domain.JobTimeoutError{Elapsed: time.Since(started)}
	_ = fail(ctx, deps, scanID, terr)
	return terr
}

// NewPayloadCache builds the shared prepared-payload cache.
func NewPayloadCache() *gocache.Cache {
	return gocache.New(payloadTTL, payloadTTL/2)
}
