package importer

import (
	"context"

	"github.com/MarcoPoloResearchLab/coursepack/internal/courses"
	"go.uber.org/zap"
)

// cleanupSections deletes the sections that existed before this upload. Activities reused by
// digest have already moved to the new sections, so whatever is still attached is gone from the
// course and is reported before the cascade removes it.
func (run *importRun) cleanupSections(ctx context.Context, tx *courses.Store, prior priorState) error {
	s := run.service
	for _, sectionID := range prior.sectionIDs {
		section, found, err := tx.SectionByID(ctx, sectionID)
		if err != nil {
			s.logError(opCleanup, "section_lookup_failed", err, zap.Uint("section_id", sectionID))
			return newImportError(opCleanup, "section_lookup_failed", err)
		}
		if !found {
			continue
		}
		activities, err := tx.ActivitiesForSection(ctx, section.ID)
		if err != nil {
			s.logError(opCleanup, "activity_lookup_failed", err, zap.Uint("section_id", sectionID))
			return newImportError(opCleanup, "activity_lookup_failed", err)
		}
		for _, activity := range activities {
			run.advisories.info(`Activity "%s"(%s) is no longer in the course.`, activity.DisplayTitle(), activity.Digest)
		}
		if err := tx.DeleteSection(ctx, section.ID); err != nil {
			s.logError(opCleanup, "section_delete_failed", err, zap.Uint("section_id", sectionID))
			return newImportError(opCleanup, "section_delete_failed", err)
		}
	}
	return nil
}

// removePreviousArchive drops the archive stored under the previous file name when the course
// is now stored under a different one. Failures are logged and otherwise ignored.
func (s *Service) removePreviousArchive(ctx context.Context, prior priorState, course *courses.Course) {
	if !prior.existed || prior.filename == "" || prior.filename == course.Filename {
		return
	}
	if err := s.archives.Remove(ctx, prior.filename); err != nil {
		s.logger.Warn("previous archive removal failed",
			zap.String("short_name", course.ShortName),
			zap.String("filename", prior.filename),
			zap.Error(err))
	}
}
