package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MarcoPoloResearchLab/coursepack/internal/archive"
	"github.com/MarcoPoloResearchLab/coursepack/internal/courses"
	"github.com/MarcoPoloResearchLab/coursepack/internal/manifest"
	"go.uber.org/zap"
)

// export writes the final manifest, rebuilds the archive and publishes it under the course file
// name. The archive stored under a previous file name is only dropped once the new one has landed.
// The preview copy and the gamification description are refreshed last.
func (s *Service) export(
	ctx context.Context,
	workspace *archive.Workspace,
	document *manifest.Document,
	course *courses.Course,
	prior priorState,
	advisories *advisoryLog,
) error {
	ctx, span := s.tracer.Start(ctx, "importer.export")
	defer span.End()
	fields := []zap.Field{zap.String("short_name", course.ShortName), zap.String("filename", course.Filename)}

	if err := document.WriteFile(workspace.ManifestPath(manifest.FileName)); err != nil {
		span.RecordError(err)
		s.logError(opExport, "manifest_write_failed", err, fields...)
		return newImportError(opExport, "manifest_write_failed", err)
	}
	packagePath, err := workspace.Repackage()
	if err != nil {
		span.RecordError(err)
		s.logError(opExport, "repackage_failed", err, fields...)
		return newImportError(opExport, "repackage_failed", err)
	}
	if err := s.archives.Put(ctx, course.Filename, packagePath); err != nil {
		span.RecordError(err)
		s.logError(opExport, "archive_store_failed", err, fields...)
		return newImportError(opExport, "archive_store_failed", err)
	}
	s.removePreviousArchive(ctx, prior, course)
	if err := s.refreshPreview(workspace, packagePath); err != nil {
		span.RecordError(err)
		s.logError(opExport, "preview_failed", err, fields...)
		return newImportError(opExport, "preview_failed", err)
	}

	if s.gamification != nil {
		if err := s.gamification.Export(ctx, course); err != nil {
			s.logger.Warn("gamification export failed", append(fields, zap.Error(err))...)
			advisories.warn("The gamification description for this course could not be updated.")
		}
	}
	return nil
}

func (s *Service) refreshPreview(workspace *archive.Workspace, packagePath string) error {
	if s.previewDir == "" {
		return nil
	}
	previous := filepath.Join(s.previewDir, workspace.ModuleName)
	if err := os.RemoveAll(previous); err != nil {
		return fmt.Errorf("remove previous preview: %w", err)
	}
	return archive.ExtractTo(packagePath, s.previewDir, s.extractor.MaxEntryBytes)
}
