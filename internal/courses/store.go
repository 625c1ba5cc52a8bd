package courses

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("courses: database handle is required")

// Store is the gorm-backed persistence port for imported courses.
//
// Every delete operation cascades explicitly; nothing relies on database-level
// foreign key actions:
//   - DeleteSection removes the section, its activities and their gamification events.
//   - DeleteMediaForCourse removes media rows and their gamification events.
//   - DeleteCourse removes sections (as above), media (as above), course events and the course.
//   - DeleteQuiz removes the quiz, its props, question joins, questions, question props,
//     responses and response props.
type Store struct {
	db *gorm.DB
}

// NewStore wraps a gorm connection.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &Store{db: db}, nil
}

// Transaction runs fn against a transaction-bound store. Calling Transaction on a
// transaction-bound store opens a savepoint, so a failing inner call only rolls back its own writes.
func (store *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// CourseByShortName looks up a course by its identity key.
func (store *Store) CourseByShortName(ctx context.Context, shortName string) (*Course, bool, error) {
	var course Course
	err := store.db.WithContext(ctx).Where("short_name = ?", shortName).Take(&course).Error
	return optional(&course, err)
}

// SaveCourse inserts or updates a course.
func (store *Store) SaveCourse(ctx context.Context, course *Course) error {
	if err := store.db.WithContext(ctx).Save(course).Error; err != nil {
		return fmt.Errorf("courses: save course %q: %w", course.ShortName, err)
	}
	return nil
}

// DeleteCourse removes a course and everything it owns.
func (store *Store) DeleteCourse(ctx context.Context, courseID uint) error {
	return store.Transaction(ctx, func(tx *Store) error {
		sectionIDs, err := tx.SectionIDsForCourse(ctx, courseID)
		if err != nil {
			return err
		}
		for _, sectionID := range sectionIDs {
			if err := tx.DeleteSection(ctx, sectionID); err != nil {
				return err
			}
		}
		if err := tx.DeleteMediaForCourse(ctx, courseID); err != nil {
			return err
		}
		if err := tx.db.Where("course_id = ?", courseID).Delete(&CourseGamificationEvent{}).Error; err != nil {
			return fmt.Errorf("courses: delete course events: %w", err)
		}
		if err := tx.db.Where("id = ?", courseID).Delete(&Course{}).Error; err != nil {
			return fmt.Errorf("courses: delete course: %w", err)
		}
		return nil
	})
}

// SectionIDsForCourse lists the section identifiers currently attached to a course.
func (store *Store) SectionIDsForCourse(ctx context.Context, courseID uint) ([]uint, error) {
	var sectionIDs []uint
	err := store.db.WithContext(ctx).Model(&Section{}).
		Where("course_id = ?", courseID).
		Order("id ASC").
		Pluck("id", &sectionIDs).Error
	if err != nil {
		return nil, fmt.Errorf("courses: list sections: %w", err)
	}
	return sectionIDs, nil
}

// SectionsForCourse returns the sections of a course in manifest order.
func (store *Store) SectionsForCourse(ctx context.Context, courseID uint) ([]Section, error) {
	var sections []Section
	err := store.db.WithContext(ctx).
		Where("course_id = ?", courseID).
		Order("sort_order ASC, id ASC").
		Find(&sections).Error
	if err != nil {
		return nil, fmt.Errorf("courses: list sections: %w", err)
	}
	return sections, nil
}

// SectionByID looks up a section by primary key.
func (store *Store) SectionByID(ctx context.Context, sectionID uint) (*Section, bool, error) {
	var section Section
	err := store.db.WithContext(ctx).Where("id = ?", sectionID).Take(&section).Error
	return optional(&section, err)
}

// CreateSection inserts a section.
func (store *Store) CreateSection(ctx context.Context, section *Section) error {
	if err := store.db.WithContext(ctx).Create(section).Error; err != nil {
		return fmt.Errorf("courses: create section: %w", err)
	}
	return nil
}

// DeleteSection removes a section together with its activities and their events.
func (store *Store) DeleteSection(ctx context.Context, sectionID uint) error {
	return store.Transaction(ctx, func(tx *Store) error {
		var activityIDs []uint
		if err := tx.db.Model(&Activity{}).Where("section_id = ?", sectionID).Pluck("id", &activityIDs).Error; err != nil {
			return fmt.Errorf("courses: list section activities: %w", err)
		}
		if len(activityIDs) > 0 {
			if err := tx.db.Where("activity_id IN ?", activityIDs).Delete(&ActivityGamificationEvent{}).Error; err != nil {
				return fmt.Errorf("courses: delete activity events: %w", err)
			}
			if err := tx.db.Where("id IN ?", activityIDs).Delete(&Activity{}).Error; err != nil {
				return fmt.Errorf("courses: delete activities: %w", err)
			}
		}
		if err := tx.db.Where("id = ?", sectionID).Delete(&Section{}).Error; err != nil {
			return fmt.Errorf("courses: delete section: %w", err)
		}
		return nil
	})
}

// ActivitiesForSection returns the activities of a section in manifest order.
func (store *Store) ActivitiesForSection(ctx context.Context, sectionID uint) ([]Activity, error) {
	var activities []Activity
	err := store.db.WithContext(ctx).
		Where("section_id = ?", sectionID).
		Order("sort_order ASC, id ASC").
		Find(&activities).Error
	if err != nil {
		return nil, fmt.Errorf("courses: list activities: %w", err)
	}
	return activities, nil
}

// ActivityByDigest resolves the global digest index. The digest identifies an activity
// independently of the course or section currently owning it.
func (store *Store) ActivityByDigest(ctx context.Context, digest string) (*Activity, bool, error) {
	var activity Activity
	err := store.db.WithContext(ctx).Where("digest = ?", digest).Take(&activity).Error
	return optional(&activity, err)
}

// SaveActivity inserts a new activity or updates an existing one.
func (store *Store) SaveActivity(ctx context.Context, activity *Activity) error {
	if err := store.db.WithContext(ctx).Save(activity).Error; err != nil {
		return fmt.Errorf("courses: save activity %q: %w", activity.Digest, err)
	}
	return nil
}

// CreateMedia inserts a media row.
func (store *Store) CreateMedia(ctx context.Context, media *Media) error {
	if err := store.db.WithContext(ctx).Create(media).Error; err != nil {
		return fmt.Errorf("courses: create media %q: %w", media.Filename, err)
	}
	return nil
}

// MediaForCourse lists the media registered for a course.
func (store *Store) MediaForCourse(ctx context.Context, courseID uint) ([]Media, error) {
	var media []Media
	if err := store.db.WithContext(ctx).Where("course_id = ?", courseID).Order("id ASC").Find(&media).Error; err != nil {
		return nil, fmt.Errorf("courses: list media: %w", err)
	}
	return media, nil
}

// DeleteMediaForCourse removes all media rows of a course and their events.
func (store *Store) DeleteMediaForCourse(ctx context.Context, courseID uint) error {
	return store.Transaction(ctx, func(tx *Store) error {
		var mediaIDs []uint
		if err := tx.db.Model(&Media{}).Where("course_id = ?", courseID).Pluck("id", &mediaIDs).Error; err != nil {
			return fmt.Errorf("courses: list media: %w", err)
		}
		if len(mediaIDs) == 0 {
			return nil
		}
		if err := tx.db.Where("media_id IN ?", mediaIDs).Delete(&MediaGamificationEvent{}).Error; err != nil {
			return fmt.Errorf("courses: delete media events: %w", err)
		}
		if err := tx.db.Where("id IN ?", mediaIDs).Delete(&Media{}).Error; err != nil {
			return fmt.Errorf("courses: delete media: %w", err)
		}
		return nil
	})
}

// QuizzesByDigest returns quizzes whose digest property equals digest, newest first.
func (store *Store) QuizzesByDigest(ctx context.Context, digest string) ([]Quiz, error) {
	var quizIDs []uint
	err := store.db.WithContext(ctx).Model(&QuizProp{}).
		Where("name = ? AND value = ?", QuizDigestProp, digest).
		Distinct().
		Pluck("quiz_id", &quizIDs).Error
	if err != nil {
		return nil, fmt.Errorf("courses: lookup quiz digest: %w", err)
	}
	if len(quizIDs) == 0 {
		return nil, nil
	}
	var quizzes []Quiz
	if err := store.db.WithContext(ctx).Where("id IN ?", quizIDs).Order("id DESC").Find(&quizzes).Error; err != nil {
		return nil, fmt.Errorf("courses: load quizzes: %w", err)
	}
	return quizzes, nil
}

// QuizDigestProp names the quiz property used for deduplication.
const QuizDigestProp = "digest"

// CreateQuiz inserts a quiz together with its property bag.
func (store *Store) CreateQuiz(ctx context.Context, quiz *Quiz, props []QuizProp) error {
	db := store.db.WithContext(ctx)
	if err := db.Create(quiz).Error; err != nil {
		return fmt.Errorf("courses: create quiz: %w", err)
	}
	for index := range props {
		props[index].QuizID = quiz.ID
	}
	if len(props) > 0 {
		if err := db.Create(&props).Error; err != nil {
			return fmt.Errorf("courses: create quiz props: %w", err)
		}
	}
	return nil
}

// CreateQuestion inserts a question, its quiz join row and its property bag.
func (store *Store) CreateQuestion(ctx context.Context, question *Question, join *QuizQuestion, props []QuestionProp) error {
	db := store.db.WithContext(ctx)
	if err := db.Create(question).Error; err != nil {
		return fmt.Errorf("courses: create question: %w", err)
	}
	join.QuestionID = question.ID
	if err := db.Create(join).Error; err != nil {
		return fmt.Errorf("courses: create quiz question: %w", err)
	}
	for index := range props {
		props[index].QuestionID = question.ID
	}
	if len(props) > 0 {
		if err := db.Create(&props).Error; err != nil {
			return fmt.Errorf("courses: create question props: %w", err)
		}
	}
	return nil
}

// CreateResponse inserts a response and its property bag.
func (store *Store) CreateResponse(ctx context.Context, response *Response, props []ResponseProp) error {
	db := store.db.WithContext(ctx)
	if err := db.Create(response).Error; err != nil {
		return fmt.Errorf("courses: create response: %w", err)
	}
	for index := range props {
		props[index].ResponseID = response.ID
	}
	if len(props) > 0 {
		if err := db.Create(&props).Error; err != nil {
			return fmt.Errorf("courses: create response props: %w", err)
		}
	}
	return nil
}

// DeleteQuiz removes a quiz and its whole question graph.
func (store *Store) DeleteQuiz(ctx context.Context, quizID uint) error {
	return store.Transaction(ctx, func(tx *Store) error {
		var questionIDs []uint
		if err := tx.db.Model(&QuizQuestion{}).Where("quiz_id = ?", quizID).Pluck("question_id", &questionIDs).Error; err != nil {
			return fmt.Errorf("courses: list quiz questions: %w", err)
		}
		if len(questionIDs) > 0 {
			var responseIDs []uint
			if err := tx.db.Model(&Response{}).Where("question_id IN ?", questionIDs).Pluck("id", &responseIDs).Error; err != nil {
				return fmt.Errorf("courses: list responses: %w", err)
			}
			if len(responseIDs) > 0 {
				if err := tx.db.Where("response_id IN ?", responseIDs).Delete(&ResponseProp{}).Error; err != nil {
					return fmt.Errorf("courses: delete response props: %w", err)
				}
				if err := tx.db.Where("id IN ?", responseIDs).Delete(&Response{}).Error; err != nil {
					return fmt.Errorf("courses: delete responses: %w", err)
				}
			}
			if err := tx.db.Where("question_id IN ?", questionIDs).Delete(&QuestionProp{}).Error; err != nil {
				return fmt.Errorf("courses: delete question props: %w", err)
			}
			if err := tx.db.Where("id IN ?", questionIDs).Delete(&Question{}).Error; err != nil {
				return fmt.Errorf("courses: delete questions: %w", err)
			}
		}
		if err := tx.db.Where("quiz_id = ?", quizID).Delete(&QuizQuestion{}).Error; err != nil {
			return fmt.Errorf("courses: delete quiz questions: %w", err)
		}
		if err := tx.db.Where("quiz_id = ?", quizID).Delete(&QuizProp{}).Error; err != nil {
			return fmt.Errorf("courses: delete quiz props: %w", err)
		}
		if err := tx.db.Where("id = ?", quizID).Delete(&Quiz{}).Error; err != nil {
			return fmt.Errorf("courses: delete quiz: %w", err)
		}
		return nil
	})
}

// RegisterCourseEvent creates the event unless one already exists for (course, event).
func (store *Store) RegisterCourseEvent(ctx context.Context, event *CourseGamificationEvent) (bool, error) {
	return store.createIfAbsent(ctx, event)
}

// RegisterActivityEvent creates the event unless one already exists for (activity, event).
func (store *Store) RegisterActivityEvent(ctx context.Context, event *ActivityGamificationEvent) (bool, error) {
	return store.createIfAbsent(ctx, event)
}

// RegisterMediaEvent creates the event unless one already exists for (media, event).
func (store *Store) RegisterMediaEvent(ctx context.Context, event *MediaGamificationEvent) (bool, error) {
	return store.createIfAbsent(ctx, event)
}

func (store *Store) createIfAbsent(ctx context.Context, value any) (bool, error) {
	result := store.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(value)
	if result.Error != nil {
		return false, fmt.Errorf("courses: register gamification event: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// EventRecord is a denormalized gamification event row.
type EventRecord struct {
	Owner  string `gorm:"column:owner"`
	Event  string `gorm:"column:event"`
	Points int    `gorm:"column:points"`
}

// CourseEvents lists course-level events.
func (store *Store) CourseEvents(ctx context.Context, courseID uint) ([]EventRecord, error) {
	var records []EventRecord
	err := store.db.WithContext(ctx).
		Table("course_gamification_events").
		Select("'' AS owner, event, points").
		Where("course_id = ?", courseID).
		Order("event ASC").
		Scan(&records).Error
	if err != nil {
		return nil, fmt.Errorf("courses: list course events: %w", err)
	}
	return records, nil
}

// ActivityEventsForCourse lists activity-level events keyed by activity digest.
func (store *Store) ActivityEventsForCourse(ctx context.Context, courseID uint) ([]EventRecord, error) {
	var records []EventRecord
	err := store.db.WithContext(ctx).
		Table("activity_gamification_events AS e").
		Select("a.digest AS owner, e.event AS event, e.points AS points").
		Joins("JOIN course_activities a ON a.id = e.activity_id").
		Joins("JOIN course_sections s ON s.id = a.section_id").
		Where("s.course_id = ?", courseID).
		Order("a.digest ASC, e.event ASC").
		Scan(&records).Error
	if err != nil {
		return nil, fmt.Errorf("courses: list activity events: %w", err)
	}
	return records, nil
}

// MediaEventsForCourse lists media-level events keyed by media digest.
func (store *Store) MediaEventsForCourse(ctx context.Context, courseID uint) ([]EventRecord, error) {
	var records []EventRecord
	err := store.db.WithContext(ctx).
		Table("media_gamification_events AS e").
		Select("m.digest AS owner, e.event AS event, e.points AS points").
		Joins("JOIN course_media m ON m.id = e.media_id").
		Where("m.course_id = ?", courseID).
		Order("m.digest ASC, e.event ASC").
		Scan(&records).Error
	if err != nil {
		return nil, fmt.Errorf("courses: list media events: %w", err)
	}
	return records, nil
}

func optional[T any](value *T, err error) (*T, bool, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}
