package courses

import (
	"encoding/json"
	"sort"
	"time"

	"gorm.io/datatypes"
)

// Activity types recognised by the manifest schema.
const (
	ActivityTypePage     = "page"
	ActivityTypeURL      = "url"
	ActivityTypeQuiz     = "quiz"
	ActivityTypeFeedback = "feedback"
	ActivityTypeResource = "resource"
)

// LocalizedText maps a language code to text.
type LocalizedText map[string]string

// JSON encodes the map for storage. An empty map encodes as nil so the column stays NULL.
func (text LocalizedText) JSON() datatypes.JSON {
	if len(text) == 0 {
		return nil
	}
	encoded, err := json.Marshal(map[string]string(text))
	if err != nil {
		return nil
	}
	return datatypes.JSON(encoded)
}

// Display returns the English text when present, otherwise the text of the lowest language code.
func (text LocalizedText) Display() string {
	if value, ok := text["en"]; ok {
		return value
	}
	languages := make([]string, 0, len(text))
	for language := range text {
		languages = append(languages, language)
	}
	if len(languages) == 0 {
		return ""
	}
	sort.Strings(languages)
	return text[languages[0]]
}

// DecodeLocalized parses a stored localized column back into a map.
func DecodeLocalized(raw datatypes.JSON) LocalizedText {
	if len(raw) == 0 {
		return nil
	}
	decoded := LocalizedText{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}
	return decoded
}

// Course is the top-level imported entity, identified by its short name.
type Course struct {
	ID          uint           `gorm:"column:id;primaryKey;autoIncrement"`
	ShortName   string         `gorm:"column:short_name;size:200;not null;uniqueIndex:idx_courses_short_name"`
	OwnerID     string         `gorm:"column:owner_id;size:190;not null;index"`
	Title       datatypes.JSON `gorm:"column:title"`
	Description datatypes.JSON `gorm:"column:description"`
	Version     int64          `gorm:"column:version;not null;default:0"`
	IsDraft     bool           `gorm:"column:is_draft;not null"`
	Filename    string         `gorm:"column:filename;size:200;not null;default:''"`
	CreatedAt   time.Time      `gorm:"column:created_at;not null"`
	LastUpdated time.Time      `gorm:"column:last_updated;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Course) TableName() string {
	return "courses"
}

// Section groups activities inside a course.
type Section struct {
	ID       uint           `gorm:"column:id;primaryKey;autoIncrement"`
	CourseID uint           `gorm:"column:course_id;not null;index"`
	Title    datatypes.JSON `gorm:"column:title"`
	Order    int            `gorm:"column:sort_order;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Section) TableName() string {
	return "course_sections"
}

// Activity is a single learning item. Digest is its identity across uploads.
type Activity struct {
	ID          uint           `gorm:"column:id;primaryKey;autoIncrement"`
	SectionID   uint           `gorm:"column:section_id;not null;index"`
	Title       datatypes.JSON `gorm:"column:title"`
	Description datatypes.JSON `gorm:"column:description"`
	Type        string         `gorm:"column:type;size:20;not null"`
	Order       int            `gorm:"column:sort_order;not null;default:0"`
	Digest      string         `gorm:"column:digest;size:100;not null;uniqueIndex:idx_activities_digest"`
	Baseline    bool           `gorm:"column:baseline;not null;default:false"`
	Image       *string        `gorm:"column:image;size:200"`
	Content     *string        `gorm:"column:content;type:text"`
}

// TableName provides the explicit table binding for GORM.
func (Activity) TableName() string {
	return "course_activities"
}

// DisplayTitle returns a human readable title for advisories.
func (activity Activity) DisplayTitle() string {
	return DecodeLocalized(activity.Title).Display()
}

// Media describes a downloadable file referenced by a course.
type Media struct {
	ID          uint   `gorm:"column:id;primaryKey;autoIncrement"`
	CourseID    uint   `gorm:"column:course_id;not null;index"`
	Filename    string `gorm:"column:filename;size:200;not null"`
	DownloadURL string `gorm:"column:download_url;size:250;not null"`
	Digest      string `gorm:"column:digest;size:100;not null"`
	FileSize    *int64 `gorm:"column:filesize"`
	MediaLength *int64 `gorm:"column:media_length"`
}

// TableName provides the explicit table binding for GORM.
func (Media) TableName() string {
	return "course_media"
}

// Quiz is the root of a materialised quiz graph.
type Quiz struct {
	ID          uint      `gorm:"column:id;primaryKey;autoIncrement"`
	OwnerID     string    `gorm:"column:owner_id;size:190;not null;index"`
	Title       string    `gorm:"column:title;type:text;not null"`
	Description string    `gorm:"column:description;type:text"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Quiz) TableName() string {
	return "quizzes"
}

// QuizProp is one name/value pair of a quiz property bag.
type QuizProp struct {
	ID     uint   `gorm:"column:id;primaryKey;autoIncrement"`
	QuizID uint   `gorm:"column:quiz_id;not null;index:idx_quiz_props_lookup,priority:2"`
	Name   string `gorm:"column:name;size:200;not null;index:idx_quiz_props_lookup,priority:1"`
	Value  string `gorm:"column:value;type:text"`
}

// TableName provides the explicit table binding for GORM.
func (QuizProp) TableName() string {
	return "quiz_props"
}

// Question is a quiz question shared through QuizQuestion joins.
type Question struct {
	ID      uint   `gorm:"column:id;primaryKey;autoIncrement"`
	OwnerID string `gorm:"column:owner_id;size:190;not null"`
	Type    string `gorm:"column:type;size:50"`
	Title   string `gorm:"column:title;type:text"`
}

// TableName provides the explicit table binding for GORM.
func (Question) TableName() string {
	return "quiz_questions_bank"
}

// QuizQuestion orders a question inside a quiz.
type QuizQuestion struct {
	ID         uint `gorm:"column:id;primaryKey;autoIncrement"`
	QuizID     uint `gorm:"column:quiz_id;not null;index"`
	QuestionID uint `gorm:"column:question_id;not null;index"`
	Order      int  `gorm:"column:sort_order;not null"`
}

// TableName provides the explicit table binding for GORM.
func (QuizQuestion) TableName() string {
	return "quiz_questions"
}

// QuestionProp is one name/value pair of a question property bag.
type QuestionProp struct {
	ID         uint   `gorm:"column:id;primaryKey;autoIncrement"`
	QuestionID uint   `gorm:"column:question_id;not null;index"`
	Name       string `gorm:"column:name;size:200;not null"`
	Value      string `gorm:"column:value;type:text"`
}

// TableName provides the explicit table binding for GORM.
func (QuestionProp) TableName() string {
	return "quiz_question_props"
}

// Response is a scored answer option of a question.
type Response struct {
	ID         uint    `gorm:"column:id;primaryKey;autoIncrement"`
	OwnerID    string  `gorm:"column:owner_id;size:190;not null"`
	QuestionID uint    `gorm:"column:question_id;not null;index"`
	Title      string  `gorm:"column:title;type:text"`
	Score      float64 `gorm:"column:score;not null;default:0"`
	Order      int     `gorm:"column:sort_order;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Response) TableName() string {
	return "quiz_responses"
}

// ResponseProp is one name/value pair of a response property bag.
type ResponseProp struct {
	ID         uint   `gorm:"column:id;primaryKey;autoIncrement"`
	ResponseID uint   `gorm:"column:response_id;not null;index"`
	Name       string `gorm:"column:name;size:200;not null"`
	Value      string `gorm:"column:value;type:text"`
}

// TableName provides the explicit table binding for GORM.
func (ResponseProp) TableName() string {
	return "quiz_response_props"
}

// CourseGamificationEvent awards points for a course-level event.
type CourseGamificationEvent struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	CourseID  uint      `gorm:"column:course_id;not null;uniqueIndex:idx_course_events_dedupe,priority:1"`
	Event     string    `gorm:"column:event;size:100;not null;uniqueIndex:idx_course_events_dedupe,priority:2"`
	Points    int       `gorm:"column:points;not null"`
	UserID    string    `gorm:"column:user_id;size:190;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName provides the explicit table binding for GORM.
func (CourseGamificationEvent) TableName() string {
	return "course_gamification_events"
}

// ActivityGamificationEvent awards points for an activity-level event.
type ActivityGamificationEvent struct {
	ID         uint      `gorm:"column:id;primaryKey;autoIncrement"`
	ActivityID uint      `gorm:"column:activity_id;not null;uniqueIndex:idx_activity_events_dedupe,priority:1"`
	Event      string    `gorm:"column:event;size:100;not null;uniqueIndex:idx_activity_events_dedupe,priority:2"`
	Points     int       `gorm:"column:points;not null"`
	UserID     string    `gorm:"column:user_id;size:190;not null"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

// TableName provides the explicit table binding for GORM.
func (ActivityGamificationEvent) TableName() string {
	return "activity_gamification_events"
}

// MediaGamificationEvent awards points for a media-level event.
type MediaGamificationEvent struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	MediaID   uint      `gorm:"column:media_id;not null;uniqueIndex:idx_media_events_dedupe,priority:1"`
	Event     string    `gorm:"column:event;size:100;not null;uniqueIndex:idx_media_events_dedupe,priority:2"`
	Points    int       `gorm:"column:points;not null"`
	UserID    string    `gorm:"column:user_id;size:190;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName provides the explicit table binding for GORM.
func (MediaGamificationEvent) TableName() string {
	return "media_gamification_events"
}

// Models lists every persisted type for schema migration.
func Models() []any {
	return []any{
		&Course{},
		&Section{},
		&Activity{},
		&Media{},
		&Quiz{},
		&QuizProp{},
		&Question{},
		&QuizQuestion{},
		&QuestionProp{},
		&Response{},
		&ResponseProp{},
		&CourseGamificationEvent{},
		&ActivityGamificationEvent{},
		&MediaGamificationEvent{},
	}
}
