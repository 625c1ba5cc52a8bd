// Package importer reconciles uploaded course archives against persisted courses.
//
// An import runs these stages in order: extract the archive, parse the manifest, resolve the
// course (ownership and version checks), reconcile sections and activities (quizzes, media and
// gamification events included), clean up sections that disappeared, then repackage and publish
// the rewritten archive. Everything from resolution through cleanup commits as one database
// transaction; each activity, media file and gamification event runs in its own savepoint so a
// bad item becomes an advisory instead of failing the import. Filesystem effects happen only
// after commit.
package importer

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/coursepack/internal/archive"
	"github.com/MarcoPoloResearchLab/coursepack/internal/courses"
	"github.com/MarcoPoloResearchLab/coursepack/internal/locking"
	"github.com/MarcoPoloResearchLab/coursepack/internal/manifest"
	"github.com/MarcoPoloResearchLab/coursepack/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// DefaultLocalQuizMinExportVersion is the first export format whose quizzes are materialized locally.
	DefaultLocalQuizMinExportVersion int64 = 2017011400
	// DefaultMediaURLMaxLength bounds media download URLs.
	DefaultMediaURLMaxLength = 250

	tracerName = "github.com/MarcoPoloResearchLab/coursepack/internal/importer"
)

var noOpLogger = zap.NewNop()

// ArchiveStore keeps normalized archives under their upload file name.
type ArchiveStore interface {
	Put(ctx context.Context, name string, srcPath string) error
	Remove(ctx context.Context, name string) error
}

// Locker serializes imports of one short name.
type Locker interface {
	Acquire(ctx context.Context, key string) (locking.Release, error)
}

// GamificationExporter materializes the denormalized gamification description of a course.
type GamificationExporter interface {
	Export(ctx context.Context, course *courses.Course) error
}

// Upload is one archive handed to the pipeline.
type Upload struct {
	// Filename is the client supplied file name; it becomes the storage key.
	Filename string
	Content  io.Reader
}

type ServiceConfig struct {
	Store        *courses.Store
	Extractor    archive.Extractor
	Archives     ArchiveStore
	Locker       Locker
	Gamification GamificationExporter
	Metrics      metrics.Metrics
	Logger       *zap.Logger
	Clock        func() time.Time
	// PreviewDir receives an extracted copy of every published archive; empty disables previews.
	PreviewDir                string
	LocalQuizMinExportVersion int64
	MediaURLMaxLength         int
}

type Service struct {
	store        *courses.Store
	extractor    archive.Extractor
	archives     ArchiveStore
	locker       Locker
	gamification GamificationExporter
	metrics      metrics.Metrics
	logger       *zap.Logger
	clock        func() time.Time
	tracer       trace.Tracer

	previewDir                string
	localQuizMinExportVersion int64
	mediaURLMaxLength         int
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newImportError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.Archives == nil {
		return nil, newImportError(opServiceNew, "missing_archives", errMissingArchives)
	}

	locker := cfg.Locker
	if locker == nil {
		locker = locking.NewLocalLocker()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	threshold := cfg.LocalQuizMinExportVersion
	if threshold <= 0 {
		threshold = DefaultLocalQuizMinExportVersion
	}
	maxURL := cfg.MediaURLMaxLength
	if maxURL <= 0 {
		maxURL = DefaultMediaURLMaxLength
	}

	return &Service{
		store:                     cfg.Store,
		extractor:                 cfg.Extractor,
		archives:                  cfg.Archives,
		locker:                    locker,
		gamification:              cfg.Gamification,
		metrics:                   recorder,
		logger:                    logger,
		clock:                     clock,
		tracer:                    otel.Tracer(tracerName),
		previewDir:                cfg.PreviewDir,
		localQuizMinExportVersion: threshold,
		mediaURLMaxLength:         maxURL,
	}, nil
}

// Import runs the whole pipeline for one upload on behalf of uploaderID. The returned Result
// always carries the outcome and advisories, also when err is non-nil. The extraction workspace
// is removed before Import returns.
func (s *Service) Import(ctx context.Context, upload Upload, uploaderID string) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "importer.import", trace.WithAttributes(
		attribute.String("upload.filename", upload.Filename),
	))
	defer span.End()

	started := s.clock()
	advisories := &advisoryLog{}
	course, err := s.run(ctx, upload, uploaderID, advisories)

	outcome := OutcomeFor(err)
	if err != nil {
		advisories.fail("%s", UserMessage(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(outcome))
		course = nil
	}
	span.SetAttributes(attribute.String("import.outcome", string(outcome)))

	s.metrics.ObserveImport(string(outcome), s.clock().Sub(started).Seconds())
	for severity, count := range advisories.countBySeverity() {
		s.metrics.IncAdvisories(string(severity), count)
	}
	return Result{Outcome: outcome, Course: course, Advisories: advisories.items}, err
}

func (s *Service) run(ctx context.Context, upload Upload, uploaderID string, advisories *advisoryLog) (*courses.Course, error) {
	filename := filepath.Base(strings.TrimSpace(upload.Filename))
	if filename == "." || filename == ".." || filename == string(filepath.Separator) {
		return nil, newImportError(opImport, "invalid_filename", ErrInvalidUpload)
	}

	workspace, err := s.extract(ctx, upload.Content)
	if err != nil {
		s.logOutcome(opExtract, "extract_failed", err, zap.String("filename", filename))
		return nil, newImportError(opExtract, "extract_failed", err)
	}
	defer func() {
		if closeErr := workspace.Close(); closeErr != nil {
			s.logger.Warn("workspace cleanup failed", zap.String("dir", workspace.Dir()), zap.Error(closeErr))
		}
	}()

	document, err := manifest.Load(workspace.ManifestPath(manifest.FileName))
	if err != nil {
		s.logOutcome(opManifest, "load_failed", err, zap.String("filename", filename))
		return nil, newImportError(opManifest, "load_failed", err)
	}
	meta, err := document.Meta()
	if err != nil {
		s.logOutcome(opManifest, "meta_invalid", err, zap.String("filename", filename))
		return nil, newImportError(opManifest, "meta_invalid", err)
	}

	release, err := s.locker.Acquire(ctx, meta.ShortName)
	if errors.Is(err, locking.ErrLocked) {
		s.logOutcome(opLock, "busy", ErrImportInProgress, zap.String("short_name", meta.ShortName))
		return nil, newImportError(opLock, "busy", ErrImportInProgress)
	}
	if err != nil {
		s.logOutcome(opLock, "acquire_failed", err, zap.String("short_name", meta.ShortName))
		return nil, newImportError(opLock, "acquire_failed", err)
	}
	defer func() {
		if releaseErr := release(context.WithoutCancel(ctx)); releaseErr != nil {
			s.logger.Warn("import lock release failed", zap.String("short_name", meta.ShortName), zap.Error(releaseErr))
		}
	}()

	run := &importRun{
		service:      s,
		document:     document,
		meta:         meta,
		uploaderID:   uploaderID,
		filename:     filename,
		localQuizzes: meta.ExportVersion != nil && *meta.ExportVersion >= s.localQuizMinExportVersion,
		advisories:   advisories,
	}
	course, prior, err := run.persist(ctx)
	if err != nil {
		return nil, err
	}
	if course == nil {
		return nil, nil
	}

	if err := s.export(ctx, workspace, document, course, prior, advisories); err != nil {
		return nil, err
	}
	return course, nil
}

func (s *Service) extract(ctx context.Context, content io.Reader) (*archive.Workspace, error) {
	_, span := s.tracer.Start(ctx, "importer.extract")
	defer span.End()
	workspace, err := s.extractor.Extract(content)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("archive.module", workspace.ModuleName))
	return workspace, nil
}

// persist runs every database stage in one transaction. A nil course with a nil error means
// the upload carried no sections and the course was removed.
func (run *importRun) persist(ctx context.Context) (*courses.Course, priorState, error) {
	s := run.service
	ctx, span := s.tracer.Start(ctx, "importer.reconcile", trace.WithAttributes(
		attribute.String("course.short_name", run.meta.ShortName),
		attribute.Bool("import.local_quizzes", run.localQuizzes),
	))
	defer span.End()

	var (
		course *courses.Course
		prior  priorState
	)
	err := s.store.Transaction(ctx, func(tx *courses.Store) error {
		resolved, state, err := run.resolveCourse(ctx, tx)
		if err != nil {
			return err
		}
		prior = state
		kept, err := run.reconcile(ctx, tx, resolved)
		if err != nil {
			return err
		}
		if !kept {
			return nil
		}
		if err := run.cleanupSections(ctx, tx, prior); err != nil {
			return err
		}
		course = resolved
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, priorState{}, err
	}
	return course, prior, nil
}

// logOutcome logs rejected uploads at info and everything else as a service error.
func (s *Service) logOutcome(operation, reason string, err error, fields ...zap.Field) {
	if OutcomeFor(err) == OutcomeServerError {
		s.logError(operation, reason, err, fields...)
		return
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	s.logger.Info("course import rejected", append(attrs, fields...)...)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("importer service error", attrs...)
}
