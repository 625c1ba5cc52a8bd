package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/coursepack/internal/courses"
	"github.com/MarcoPoloResearchLab/coursepack/internal/manifest"
	"github.com/beevik/etree"
	"go.uber.org/zap"
)

const baselineSectionOrder = 0

var (
	baselineSectionTitle = courses.LocalizedText{"en": "Baseline"}
	errMissingDigest     = errors.New("activity digest is required")
)

// reconcile saves the baseline activities, the structured sections and the media block.
// It reports false when the manifest has no sections; the course has been deleted in that case.
func (run *importRun) reconcile(ctx context.Context, tx *courses.Store, course *courses.Course) (bool, error) {
	s := run.service

	if baseline := run.document.BaselineActivities(); len(baseline) > 0 {
		section := &courses.Section{CourseID: course.ID, Title: baselineSectionTitle.JSON(), Order: baselineSectionOrder}
		if err := tx.CreateSection(ctx, section); err != nil {
			s.logError(opReconcile, "baseline_section_failed", err, zap.String("short_name", course.ShortName))
			return false, newImportError(opReconcile, "baseline_section_failed", err)
		}
		for _, element := range baseline {
			run.importActivity(ctx, tx, section, element, true)
		}
	}

	sections := run.document.Sections()
	if len(sections) == 0 {
		if err := tx.DeleteCourse(ctx, course.ID); err != nil {
			s.logError(opReconcile, "course_delete_failed", err, zap.String("short_name", course.ShortName))
			return false, newImportError(opReconcile, "course_delete_failed", err)
		}
		run.advisories.info("There don't appear to be any activities in this upload file.")
		return false, nil
	}

	for index, element := range sections {
		activities := manifest.SectionActivities(element)
		if len(activities) == 0 {
			run.advisories.info("Section %d does not contain any activities.", index+1)
			continue
		}
		section := &courses.Section{
			CourseID: course.ID,
			Title:    courses.LocalizedText(manifest.Localized(element, "title")).JSON(),
			Order:    intAttr(element, "order"),
		}
		if err := tx.CreateSection(ctx, section); err != nil {
			s.logError(opReconcile, "section_create_failed", err,
				zap.String("short_name", course.ShortName),
				zap.Int("section", index+1))
			return false, newImportError(opReconcile, "section_create_failed", err)
		}
		for _, activity := range activities {
			run.importActivity(ctx, tx, section, activity, false)
		}
	}

	run.registerMedia(ctx, tx, course)
	return true, nil
}

// importActivity saves one activity element inside its own savepoint. Failures are reported as
// advisories. Quiz content rewritten with server identifiers is spliced back into the manifest
// only after the savepoint committed.
func (run *importRun) importActivity(ctx context.Context, tx *courses.Store, section *courses.Section, element *etree.Element, baseline bool) {
	digest := strings.TrimSpace(element.SelectAttrValue("digest", ""))
	title := courses.LocalizedText(manifest.Localized(element, "title"))

	var (
		saved   *courses.Activity
		existed bool
	)
	err := tx.Transaction(ctx, func(item *courses.Store) error {
		activity, found, err := run.saveActivity(ctx, item, section, element, digest, baseline)
		if err != nil {
			return err
		}
		saved, existed = activity, found
		return nil
	})
	if err != nil {
		run.service.logError(opReconcile, "activity_import_failed", err,
			zap.String("short_name", run.meta.ShortName),
			zap.String("digest", digest))
		run.advisories.fail(`Activity "%s"(%s) could not be imported: %v`, title.Display(), digest, err)
		return
	}
	if !existed && !run.newCourse {
		run.advisories.warn(`Activity "%s"(%s) did not exist previously.`, saved.DisplayTitle(), digest)
	}
	if saved.Type == courses.ActivityTypeQuiz && run.localQuizzes && saved.Content != nil {
		manifest.SetContent(element, *saved.Content)
	}
}

func (run *importRun) saveActivity(
	ctx context.Context,
	tx *courses.Store,
	section *courses.Section,
	element *etree.Element,
	digest string,
	baseline bool,
) (*courses.Activity, bool, error) {
	if digest == "" {
		return nil, false, errMissingDigest
	}
	activityType := strings.TrimSpace(element.SelectAttrValue("type", ""))

	activity, existed, err := tx.ActivityByDigest(ctx, digest)
	if err != nil {
		return nil, false, err
	}
	if !existed {
		activity = &courses.Activity{}
	}
	activity.SectionID = section.ID
	activity.Title = courses.LocalizedText(manifest.Localized(element, "title")).JSON()
	activity.Description = courses.LocalizedText(manifest.Localized(element, "description")).JSON()
	activity.Type = activityType
	activity.Order = intAttr(element, "order")
	activity.Digest = digest
	activity.Baseline = baseline
	activity.Image = imageFilename(element)
	activity.Content, err = activityContent(activityType, element)
	if err != nil {
		return nil, false, err
	}

	if activityType == courses.ActivityTypeQuiz && run.localQuizzes {
		raw := ""
		if activity.Content != nil {
			raw = *activity.Content
		}
		updated, err := run.importQuiz(ctx, tx, raw)
		if err != nil {
			return nil, false, fmt.Errorf("quiz: %w", err)
		}
		activity.Content = &updated
	}

	if err := tx.SaveActivity(ctx, activity); err != nil {
		return nil, false, err
	}

	displayTitle := activity.DisplayTitle()
	run.syncEvents(ctx, tx, element.SelectElement("gamification"), func(item *courses.Store, event gamificationEvent) (bool, error) {
		return item.RegisterActivityEvent(ctx, &courses.ActivityGamificationEvent{
			ActivityID: activity.ID,
			Event:      event.name,
			Points:     event.points,
			UserID:     run.uploaderID,
		})
	}, func(name string) string {
		return fmt.Sprintf(`Gamification for "%s" at activity "%s" added`, name, displayTitle)
	})
	return activity, existed, nil
}

// activityContent derives the stored payload for an activity type.
func activityContent(activityType string, element *etree.Element) (*string, error) {
	switch activityType {
	case courses.ActivityTypePage, courses.ActivityTypeURL:
		locations := map[string]string{}
		for _, location := range element.SelectElements("location") {
			if text := location.Text(); text != "" {
				locations[location.SelectAttrValue("lang", "")] = text
			}
		}
		encoded, err := json.Marshal(locations)
		if err != nil {
			return nil, err
		}
		content := string(encoded)
		return &content, nil
	case courses.ActivityTypeQuiz, courses.ActivityTypeFeedback:
		return childText(element, "content"), nil
	case courses.ActivityTypeResource:
		return childText(element, "location"), nil
	default:
		return nil, nil
	}
}

func childText(element *etree.Element, tag string) *string {
	text := ""
	if child := element.SelectElement(tag); child != nil {
		text = child.Text()
	}
	return &text
}

// imageFilename returns the filename of the last image child, nil when there is none.
func imageFilename(element *etree.Element) *string {
	var filename *string
	for _, image := range element.SelectElements("image") {
		value := image.SelectAttrValue("filename", "")
		filename = &value
	}
	return filename
}

func intAttr(element *etree.Element, name string) int {
	value, err := strconv.Atoi(strings.TrimSpace(element.SelectAttrValue(name, "")))
	if err != nil {
		return 0
	}
	return value
}
