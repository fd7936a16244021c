package main

import (
	"context"
	"fmt"

	"github.com/mathhub/mathhub/internal/classify"
	"github.com/mathhub/mathhub/internal/config"
	"github.com/mathhub/mathhub/internal/home"
	"github.com/mathhub/mathhub/internal/objstore"
	"github.com/mathhub/mathhub/internal/pdfdoc"
	"github.com/mathhub/mathhub/internal/providers"
	"github.com/mathhub/mathhub/internal/scanner"
	"github.com/mathhub/mathhub/internal/store"
	"github.com/mathhub/mathhub/internal/workflow"
)

// services holds the clients built from configuration.
type services struct {
	cfg     *config.Config
	home    *home.Dir
	store   store.Store
	objects objstore.Store
	buckets func(bucket string) (objstore.Store, error)
	mathpix *providers.MathpixClient
	scanner *scanner.Scanner
	poppler *pdfdoc.Poppler
}

// newServices opens the store and object store and builds the provider
// clients. Callers must Close it.
func newServices(ctx context.Context, cfg *config.Config, h *home.Dir) (*services, error) {
	s := &services{
		cfg:     cfg,
		home:    h,
		mathpix: providers.NewMathpixClient(cfg.MathpixClientConfig(logger)),
		poppler: pdfdoc.NewPoppler(cfg.Render.PdftoppmPath),
	}
	gemini := providers.NewGeminiClient(cfg.GeminiClientConfig(logger))
	s.scanner = scanner.New(gemini, cfg.ScannerConfig(logger))

	if err := s.openObjects(); err != nil {
		return nil, err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.store = st
	return s, nil
}

func (s *services) openObjects() error {
	if s.cfg.Storage.Bucket != "" {
		s3, err := objstore.NewS3(s.cfg.S3Config(logger))
		if err != nil {
			return err
		}
		s.objects = s3
		s.buckets = func(bucket string) (objstore.Store, error) {
			return s3.WithBucket(bucket), nil
		}
		return nil
	}

	root := s.cfg.Storage.LocalRoot
	if root == "" {
		if err := s.home.EnsureExists(); err != nil {
			return err
		}
		root = s.home.ObjectsPath()
	}
	fs, err := objstore.NewFilesystem(root, "")
	if err != nil {
		return err
	}
	logger.Debug("using local object store", "root", root)
	s.objects = fs
	return nil
}

// openStore connects to Postgres, or returns an in-memory store seeded
// with the configured curriculum when no database is configured.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	pgCfg := cfg.PostgresConfig(logger)
	if pgCfg.URL == "" {
		logger.Warn("no database configured, results are kept in memory")
		mem := store.NewMemory()
		mem.AddCurriculum(cfg.Workflow.CurriculumCode, classify.SubjectCodes...)
		return mem, nil
	}
	pg, err := store.NewPostgres(ctx, pgCfg)
	if err != nil {
		return nil, err
	}
	return pg, nil
}

// openDocument adapts pdfdoc.Open to the workflow's document type.
func (s *services) openDocument(data []byte) (workflow.Document, error) {
	doc, err := pdfdoc.Open(data, s.poppler)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *services) runner() *workflow.Runner {
	return workflow.New(workflow.Config{
		Store:          s.store,
		Objects:        s.objects,
		Buckets:        s.buckets,
		OCR:            s.mathpix,
		Scanner:        s.scanner,
		Open:           s.openDocument,
		ExtractorCheck: s.poppler.Available,
		Poller:         s.cfg.PollerSettings(logger),
		Logger:         logger,
	})
}

func (s *services) Close() error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}
