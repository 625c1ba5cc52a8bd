package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/MarcoPoloResearchLab/coursepack/internal/archive"
	"github.com/MarcoPoloResearchLab/coursepack/internal/config"
	"github.com/MarcoPoloResearchLab/coursepack/internal/courses"
	"github.com/MarcoPoloResearchLab/coursepack/internal/database"
	"github.com/MarcoPoloResearchLab/coursepack/internal/gamification"
	"github.com/MarcoPoloResearchLab/coursepack/internal/importer"
	"github.com/MarcoPoloResearchLab/coursepack/internal/locking"
	"github.com/MarcoPoloResearchLab/coursepack/internal/metrics"
	"github.com/MarcoPoloResearchLab/coursepack/internal/storage"
	"github.com/MarcoPoloResearchLab/coursepack/internal/tracing"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const serviceName = "coursepack"

// runtime holds the wired components shared by the serve and import commands.
type runtime struct {
	config   config.AppConfig
	logger   *zap.Logger
	db       *gorm.DB
	importer *importer.Service
	closers  []func(context.Context) error
}

func buildRuntime(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger, importMetrics metrics.Metrics) (rt *runtime, err error) {
	rt = &runtime{config: appConfig, logger: logger}
	defer func() {
		if err != nil {
			rt.close(context.Background())
			rt = nil
		}
	}()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:     appConfig.TracingEnabled,
		ServiceName: serviceName,
		Output:      os.Stderr,
		Logger:      logger,
	})
	if err != nil {
		return rt, fmt.Errorf("init tracing: %w", err)
	}
	rt.closers = append(rt.closers, shutdownTracing)

	db, err := database.Open(appConfig.DatabaseDriver, appConfig.DatabaseDSN, logger)
	if err != nil {
		return rt, fmt.Errorf("open database: %w", err)
	}
	rt.db = db
	rt.closers = append(rt.closers, func(context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	store, err := courses.NewStore(db)
	if err != nil {
		return rt, err
	}

	archives, err := rt.buildArchiveStore(ctx)
	if err != nil {
		return rt, err
	}
	locker, err := rt.buildLocker()
	if err != nil {
		return rt, err
	}
	exporter, err := rt.buildGamificationExporter(store)
	if err != nil {
		return rt, err
	}

	service, err := importer.NewService(importer.ServiceConfig{
		Store: store,
		Extractor: archive.Extractor{
			TempRoot:       appConfig.TempDir,
			MaxUploadBytes: appConfig.MaxUploadBytes,
			MaxEntryBytes:  appConfig.MaxEntryBytes,
		},
		Archives:                  archives,
		Locker:                    locker,
		Gamification:              exporter,
		Metrics:                   importMetrics,
		Logger:                    logger,
		PreviewDir:                appConfig.PreviewDir,
		LocalQuizMinExportVersion: appConfig.LocalQuizMinExportVersion,
		MediaURLMaxLength:         appConfig.MediaURLMaxLength,
	})
	if err != nil {
		return rt, err
	}
	rt.importer = service
	return rt, nil
}

func (rt *runtime) buildArchiveStore(ctx context.Context) (importer.ArchiveStore, error) {
	switch rt.config.StorageDriver {
	case config.StorageDriverGCS:
		store, err := storage.NewGCSStore(ctx, rt.config.GCSBucket, rt.config.GCSPrefix)
		if err != nil {
			return nil, fmt.Errorf("open gcs storage: %w", err)
		}
		rt.closers = append(rt.closers, func(context.Context) error { return store.Close() })
		rt.logger.Info("archive storage configured", zap.String("driver", "gcs"), zap.String("bucket", rt.config.GCSBucket))
		return store, nil
	default:
		store, err := storage.NewLocalStore(rt.config.UploadDir)
		if err != nil {
			return nil, fmt.Errorf("open local storage: %w", err)
		}
		rt.logger.Info("archive storage configured", zap.String("driver", "local"), zap.String("dir", rt.config.UploadDir))
		return store, nil
	}
}

func (rt *runtime) buildLocker() (importer.Locker, error) {
	if rt.config.LockDriver != config.LockDriverRedis {
		return locking.NewLocalLocker(), nil
	}
	locker, err := locking.NewRedisLocker(rt.config.LockRedisURL, rt.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("open redis locker: %w", err)
	}
	rt.closers = append(rt.closers, func(context.Context) error { return locker.Close() })
	return locker, nil
}

func (rt *runtime) buildGamificationExporter(store *courses.Store) (importer.GamificationExporter, error) {
	var sinks []gamification.Sink
	if rt.config.PreviewDir != "" {
		fileSink, err := gamification.NewFileSink(rt.config.PreviewDir)
		if err != nil {
			return nil, fmt.Errorf("open gamification file sink: %w", err)
		}
		sinks = append(sinks, fileSink)
	}
	if rt.config.NatsURL != "" {
		natsSink, err := gamification.NewNatsSink(rt.config.NatsURL, rt.config.NatsSubject)
		if err != nil {
			return nil, fmt.Errorf("connect gamification nats sink: %w", err)
		}
		rt.closers = append(rt.closers, func(context.Context) error { return natsSink.Close() })
		sinks = append(sinks, natsSink)
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	return gamification.NewExporter(gamification.ExporterConfig{Source: store, Sinks: sinks, Logger: rt.logger})
}

// close releases resources in reverse order of acquisition.
func (rt *runtime) close(ctx context.Context) {
	var errs []error
	for index := len(rt.closers) - 1; index >= 0; index-- {
		if err := rt.closers[index](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		rt.logger.Warn("runtime shutdown incomplete", zap.Error(err))
	}
}
