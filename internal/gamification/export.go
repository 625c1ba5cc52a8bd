// Package gamification materializes the denormalized gamification description of an imported course.
package gamification

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/coursepack/internal/courses"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// EventSource lists the persisted gamification events of a course.
type EventSource interface {
	CourseEvents(ctx context.Context, courseID uint) ([]courses.EventRecord, error)
	ActivityEventsForCourse(ctx context.Context, courseID uint) ([]courses.EventRecord, error)
	MediaEventsForCourse(ctx context.Context, courseID uint) ([]courses.EventRecord, error)
}

// Sink receives the serialized description of one course.
type Sink interface {
	Publish(ctx context.Context, shortName string, document []byte) error
}

// Event is one (name, points) pair.
type Event struct {
	Name   string `yaml:"name"`
	Points int    `yaml:"points"`
}

// Description is the denormalized gamification view of a course.
type Description struct {
	Course     string             `yaml:"course"`
	Version    int64              `yaml:"version"`
	Events     []Event            `yaml:"events"`
	Activities map[string][]Event `yaml:"activities,omitempty"`
	Media      map[string][]Event `yaml:"media,omitempty"`
}

// ExporterConfig wires the exporter.
type ExporterConfig struct {
	Source EventSource
	Sinks  []Sink
	Logger *zap.Logger
}

// Exporter builds descriptions and hands them to every sink.
type Exporter struct {
	source EventSource
	sinks  []Sink
	logger *zap.Logger
}

// NewExporter validates the configuration.
func NewExporter(config ExporterConfig) (*Exporter, error) {
	if config.Source == nil {
		return nil, errors.New("gamification: event source is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{source: config.Source, sinks: config.Sinks, logger: logger}, nil
}

// Describe collects the course's events grouped by owning digest.
func (exporter *Exporter) Describe(ctx context.Context, course *courses.Course) (Description, error) {
	description := Description{Course: course.ShortName, Version: course.Version, Events: []Event{}}

	courseEvents, err := exporter.source.CourseEvents(ctx, course.ID)
	if err != nil {
		return Description{}, err
	}
	for _, record := range courseEvents {
		description.Events = append(description.Events, Event{Name: record.Event, Points: record.Points})
	}
	activityEvents, err := exporter.source.ActivityEventsForCourse(ctx, course.ID)
	if err != nil {
		return Description{}, err
	}
	description.Activities = groupByOwner(activityEvents)
	mediaEvents, err := exporter.source.MediaEventsForCourse(ctx, course.ID)
	if err != nil {
		return Description{}, err
	}
	description.Media = groupByOwner(mediaEvents)
	return description, nil
}

// Export describes the course and publishes the YAML document to every sink. All sinks are
// attempted; the joined error reports every failure.
func (exporter *Exporter) Export(ctx context.Context, course *courses.Course) error {
	if course == nil {
		return errors.New("gamification: course is required")
	}
	description, err := exporter.Describe(ctx, course)
	if err != nil {
		return fmt.Errorf("gamification: describe %s: %w", course.ShortName, err)
	}
	document, err := yaml.Marshal(description)
	if err != nil {
		return fmt.Errorf("gamification: encode %s: %w", course.ShortName, err)
	}
	var failures []error
	for _, sink := range exporter.sinks {
		if err := sink.Publish(ctx, course.ShortName, document); err != nil {
			exporter.logger.Warn("gamification export failed",
				zap.String("short_name", course.ShortName),
				zap.Error(err),
			)
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}

func groupByOwner(records []courses.EventRecord) map[string][]Event {
	if len(records) == 0 {
		return nil
	}
	grouped := make(map[string][]Event)
	for _, record := range records {
		grouped[record.Owner] = append(grouped[record.Owner], Event{Name: record.Event, Points: record.Points})
	}
	return grouped
}
