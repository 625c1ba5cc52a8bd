package importer

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/coursepack/internal/courses"
	"github.com/MarcoPoloResearchLab/coursepack/internal/manifest"
	"go.uber.org/zap"
)

// registerMedia saves the media block of the manifest. Each file is isolated in a savepoint;
// invalid or failing files are skipped with an advisory.
func (run *importRun) registerMedia(ctx context.Context, tx *courses.Store, course *courses.Course) {
	for _, file := range run.document.MediaFiles() {
		if err := file.Validate(); err != nil {
			run.advisories.warn(`Media file "%s" is missing required attributes and has not been registered.`, file.Filename)
			continue
		}
		if len(file.DownloadURL) > run.service.mediaURLMaxLength {
			run.advisories.warn("File %s has a download URL larger than the maximum length permitted. "+
				"The media file has not been registered, so it won't be tracked. "+
				"Please, fix this issue and upload the course again.", file.Filename)
			continue
		}

		err := tx.Transaction(ctx, func(item *courses.Store) error {
			return run.saveMedia(ctx, item, course, file)
		})
		if err != nil {
			run.service.logError(opReconcile, "media_register_failed", err,
				zap.String("short_name", course.ShortName),
				zap.String("filename", file.Filename))
			run.advisories.fail(`Media file "%s" could not be registered.`, file.Filename)
		}
	}
}

func (run *importRun) saveMedia(ctx context.Context, tx *courses.Store, course *courses.Course, file manifest.MediaFile) error {
	media := &courses.Media{
		CourseID:    course.ID,
		Filename:    file.Filename,
		DownloadURL: file.DownloadURL,
		Digest:      file.Digest,
		FileSize:    optionalInt(file.FileSize),
		MediaLength: optionalInt(file.Length),
	}
	if err := tx.CreateMedia(ctx, media); err != nil {
		return err
	}
	run.syncEvents(ctx, tx, file.Element.SelectElement("gamification"), func(item *courses.Store, event gamificationEvent) (bool, error) {
		return item.RegisterMediaEvent(ctx, &courses.MediaGamificationEvent{
			MediaID: media.ID,
			Event:   event.name,
			Points:  event.points,
			UserID:  run.uploaderID,
		})
	}, func(name string) string {
		return fmt.Sprintf(`Gamification for "%s" at media "%s" added`, name, media.Filename)
	})
	return nil
}

// optionalInt parses an optional numeric attribute; absent or malformed values stay unset.
func optionalInt(raw string) *int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &value
}
