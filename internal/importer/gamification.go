package importer

import (
	"context"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/coursepack/internal/courses"
	"github.com/beevik/etree"
	"go.uber.org/zap"
)

type gamificationEvent struct {
	name   string
	points int
}

// parseGamification reads the event children of a gamification element. Events without a name
// or with a non-integer point value are reported and skipped.
func (run *importRun) parseGamification(element *etree.Element) []gamificationEvent {
	if element == nil {
		return nil
	}
	var events []gamificationEvent
	for _, child := range element.SelectElements("event") {
		name := strings.TrimSpace(child.SelectAttrValue("name", ""))
		raw := strings.TrimSpace(child.Text())
		if name == "" {
			run.advisories.warn("A gamification event without a name was skipped.")
			continue
		}
		points, err := strconv.Atoi(raw)
		if err != nil {
			run.advisories.warn(`Gamification event "%s" has an invalid point value "%s" and was skipped.`, name, raw)
			continue
		}
		events = append(events, gamificationEvent{name: name, points: points})
	}
	return events
}

// syncEvents registers every event of element through register. Each registration runs in its
// own savepoint; an existing (owner, event) pair is left untouched.
func (run *importRun) syncEvents(
	ctx context.Context,
	tx *courses.Store,
	element *etree.Element,
	register func(item *courses.Store, event gamificationEvent) (bool, error),
	added func(name string) string,
) {
	for _, event := range run.parseGamification(element) {
		var created bool
		err := tx.Transaction(ctx, func(item *courses.Store) error {
			var registerErr error
			created, registerErr = register(item, event)
			return registerErr
		})
		if err != nil {
			run.service.logError(opReconcile, "gamification_event_failed", err,
				zap.String("short_name", run.meta.ShortName),
				zap.String("event", event.name))
			run.advisories.warn(`Gamification event "%s" could not be registered.`, event.name)
			continue
		}
		if created {
			run.advisories.info("%s", added(event.name))
		}
	}
}
