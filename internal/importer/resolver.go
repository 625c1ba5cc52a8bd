package importer

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/coursepack/internal/courses"
	"github.com/MarcoPoloResearchLab/coursepack/internal/manifest"
	"go.uber.org/zap"
)

// importRun carries the per-upload state shared by the database stages.
type importRun struct {
	service      *Service
	document     *manifest.Document
	meta         manifest.CourseMeta
	uploaderID   string
	filename     string
	localQuizzes bool
	newCourse    bool
	advisories   *advisoryLog
}

// priorState is captured before an existing course is mutated.
type priorState struct {
	existed    bool
	sectionIDs []uint
	filename   string
}

// resolveCourse finds or creates the course for the manifest short name, enforces ownership and
// strict version advance, applies the meta fields and saves the course.
func (run *importRun) resolveCourse(ctx context.Context, tx *courses.Store) (*courses.Course, priorState, error) {
	s := run.service
	shortName := run.meta.ShortName
	now := s.clock().UTC()

	course, found, err := tx.CourseByShortName(ctx, shortName)
	if err != nil {
		s.logError(opResolve, "course_lookup_failed", err, zap.String("short_name", shortName))
		return nil, priorState{}, newImportError(opResolve, "course_lookup_failed", err)
	}

	var prior priorState
	if found {
		if course.OwnerID != run.uploaderID {
			s.logOutcome(opResolve, "ownership_violation", ErrOwnershipViolation,
				zap.String("short_name", shortName),
				zap.String("uploader_id", run.uploaderID))
			return nil, priorState{}, newImportError(opResolve, "ownership_violation", ErrOwnershipViolation)
		}
		if run.meta.VersionID <= course.Version {
			s.logOutcome(opResolve, "stale_version", ErrStaleVersion,
				zap.String("short_name", shortName),
				zap.Int64("stored_version", course.Version),
				zap.Int64("uploaded_version", run.meta.VersionID))
			return nil, priorState{}, newImportError(opResolve, "stale_version", ErrStaleVersion)
		}

		sectionIDs, err := tx.SectionIDsForCourse(ctx, course.ID)
		if err != nil {
			s.logError(opResolve, "section_lookup_failed", err, zap.String("short_name", shortName))
			return nil, priorState{}, newImportError(opResolve, "section_lookup_failed", err)
		}
		prior = priorState{existed: true, sectionIDs: sectionIDs, filename: course.Filename}

		if err := tx.DeleteMediaForCourse(ctx, course.ID); err != nil {
			s.logError(opResolve, "media_cleanup_failed", err, zap.String("short_name", shortName))
			return nil, priorState{}, newImportError(opResolve, "media_cleanup_failed", err)
		}
		course.LastUpdated = now
	} else {
		run.newCourse = true
		course = &courses.Course{IsDraft: true, CreatedAt: now, LastUpdated: now}
	}

	course.ShortName = shortName
	course.Title = courses.LocalizedText(run.meta.Title).JSON()
	course.Description = courses.LocalizedText(run.meta.Description).JSON()
	course.Version = run.meta.VersionID
	course.OwnerID = run.uploaderID
	course.Filename = run.filename

	if err := tx.SaveCourse(ctx, course); err != nil {
		s.logError(opResolve, "course_save_failed", err, zap.String("short_name", shortName))
		return nil, priorState{}, newImportError(opResolve, "course_save_failed", err)
	}

	run.syncEvents(ctx, tx, run.meta.Gamification, func(item *courses.Store, event gamificationEvent) (bool, error) {
		return item.RegisterCourseEvent(ctx, &courses.CourseGamificationEvent{
			CourseID: course.ID,
			Event:    event.name,
			Points:   event.points,
			UserID:   run.uploaderID,
		})
	}, func(name string) string {
		return fmt.Sprintf(`Gamification for "%s" at course level added`, name)
	})

	return course, prior, nil
}
