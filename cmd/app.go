package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/kozaktomas/face-attendance/internal/biometric/dlib"
	"github.com/kozaktomas/face-attendance/internal/biometric/opencv"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mariadb"

	// Storage drivers register themselves with database.Open.
	_ "github.com/kozaktomas/face-attendance/internal/database/postgres"
	_ "github.com/kozaktomas/face-attendance/internal/database/sqlite"
)

// app holds the wired services of one command invocation.
type app struct {
	cfg      *config.Config
	backend  *database.Backend
	pipeline *biometric.Pipeline
	manager  *attendance.Manager
	index    *database.EnrollmentIndex
	closers  []func()
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// openBackend loads the configuration and opens the storage backend.
func openBackend(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.Driver == "postgres" && cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required for the postgres driver")
	}

	backend, err := database.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, backend: backend}
	a.closers = append(a.closers, func() {
		if err := backend.Close(); err != nil {
			log.Printf("WARNING: closing database: %v", err)
		}
	})
	return a, nil
}

// openPipeline loads the dlib models and the optional Haar cascade and builds
// the verification pipeline. Detection tiers run fastest first.
func openPipeline(cfg *config.Config) (*biometric.Pipeline, func(), error) {
	if cfg.Face.ModelsDir == "" {
		return nil, nil, errors.New("FACE_MODELS_DIR environment variable is required")
	}
	rec, err := dlib.Open(cfg.Face.ModelsDir)
	if err != nil {
		return nil, nil, err
	}

	strategies := []biometric.Detector{
		biometric.Upsampled(rec.HOG(), 2),
		rec.CNN(),
	}
	cascade, err := opencv.OpenCascade(cfg.Face.CascadePath)
	if err != nil {
		log.Printf("WARNING: Haar cascade unavailable, continuing without it: %v", err)
	} else {
		strategies = append(strategies, cascade)
	}

	locator := biometric.NewLocator(opencv.NewLighting(opencv.DefaultClipLimit, opencv.DefaultTileGrid), strategies...)
	encoder := biometric.NewEncoder(locator, rec, rec.CNN(), biometric.DefaultEncoderOptions())
	pool := biometric.NewPool(cfg.Pipeline.Workers, cfg.Pipeline.Timeout)
	log.Printf("Face pipeline ready: detectors %v, %d workers, %s budget",
		locator.Strategies(), pool.Workers(), pool.Timeout())

	cleanup := func() {
		if cascade != nil {
			_ = cascade.Close()
		}
		rec.Close()
	}
	return biometric.NewPipeline(encoder, pool), cleanup, nil
}

// openApp wires storage, the face pipeline, the shift schedule, the
// enrollment index and the attendance manager.
func openApp(ctx context.Context) (*app, error) {
	a, err := openBackend(ctx)
	if err != nil {
		return nil, err
	}

	pipeline, cleanup, err := openPipeline(a.cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.pipeline = pipeline
	a.closers = append(a.closers, cleanup)

	opts := attendance.Options{
		Base:     a.cfg.Verification,
		Location: a.cfg.Location,
		Office:   a.cfg.Office,
		Audit:    attendance.NewAuditStore(a.cfg.Audit.Dir),
	}

	if dsn := a.cfg.Schedule.DatabaseURL; dsn != "" {
		pool, err := mariadb.NewPool(ctx, dsn)
		if err != nil {
			log.Printf("WARNING: shift schedule unavailable, using default hours: %v", err)
		} else {
			opts.Shifts = mariadb.NewShiftReader(pool)
			a.closers = append(a.closers, func() { _ = pool.Close() })
		}
	}

	// Backends without vector search use the in-memory enrollment index.
	if a.backend.Duplicates == nil {
		a.index = database.NewEnrollmentIndex()
		opts.Index = a.index
	}

	a.manager = attendance.NewManager(a.backend, pipeline, opts)
	if a.index != nil {
		a.initIndex(ctx)
	}
	return a, nil
}

// initIndex loads the persisted enrollment index or rebuilds it from storage.
func (a *app) initIndex(ctx context.Context) {
	path := a.cfg.Database.EnrollmentIndexPath
	if path != "" {
		err := a.index.Load(path)
		if err == nil {
			meta, _ := database.LoadEnrollmentIndexMetadata(path)
			fmt.Printf("Enrollment index loaded from %s (%d faces, built %s)\n",
				path, a.index.Len(), meta.BuildTime.Format("2006-01-02 15:04"))
			return
		}
		if !errors.Is(err, database.ErrIndexNotFound) {
			log.Printf("WARNING: enrollment index at %s unusable, rebuilding: %v", path, err)
		}
	}

	n, err := a.manager.RebuildIndex(ctx)
	if err != nil {
		log.Printf("WARNING: failed to build enrollment index, duplicate enrollment check disabled: %v", err)
		return
	}
	fmt.Printf("Enrollment index built with %d faces\n", n)
}

// saveIndex persists the enrollment index when a path is configured.
func (a *app) saveIndex() {
	path := a.cfg.Database.EnrollmentIndexPath
	if a.index == nil || path == "" {
		return
	}
	if err := a.index.Save(path); err != nil {
		log.Printf("WARNING: failed to save enrollment index: %v", err)
		return
	}
	fmt.Println("Enrollment index saved to disk")
}

// printAttendanceError prints the reason and, for failed verifications, the
// numbers behind the decision.
func printAttendanceError(err error) error {
	var e *attendance.Error
	if !errors.As(err, &e) {
		return err
	}
	fmt.Printf("Rejected: %s\n", e.Code)
	if e.Reason != "" {
		fmt.Printf("  Reason:     %s\n", e.Reason)
	}
	if e.Outcome != nil {
		fmt.Printf("  Confidence: %.2f%%\n", e.Outcome.Confidence)
		fmt.Printf("  Distance:   %.4f\n", e.Outcome.Distance)
		fmt.Printf("  Threshold:  %.4f\n", e.Outcome.Threshold)
	}
	return err
}
