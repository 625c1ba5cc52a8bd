package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/coursepack/internal/courses"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
)

const (
	quizSchemaID = "inmemory://coursepack/quiz.json"
	quizIDKey    = "id"
)

const quizSchema = `{
  "type": "object",
  "required": ["props", "questions"],
  "properties": {
    "props": {"type": "object"},
    "questions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["question"],
        "properties": {
          "order": {"type": ["integer", "string"]},
          "question": {
            "type": "object",
            "required": ["type"],
            "properties": {
              "type": {"type": "string"},
              "props": {"type": "object"},
              "responses": {
                "type": "array",
                "items": {
                  "type": "object",
                  "properties": {
                    "score": {"type": ["number", "string"]},
                    "order": {"type": ["integer", "string"]},
                    "props": {"type": "object"}
                  }
                }
              }
            }
          }
        }
      }
    }
  }
}`

var compiledQuizSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(quizSchemaID, strings.NewReader(quizSchema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return compiler.Compile(quizSchemaID)
})

var errQuizNotObject = errors.New("quiz content is not a JSON object")

// importQuiz materializes the quiz described by raw, or reuses the stored snapshot of an already
// imported quiz with the same digest. It returns the content to store for the activity.
func (run *importRun) importQuiz(ctx context.Context, tx *courses.Store, raw string) (string, error) {
	quiz, err := decodeQuiz(raw)
	if err != nil {
		return "", err
	}

	props, _ := quiz["props"].(map[string]any)
	digest := textValue(props[courses.QuizDigestProp])
	if digest != "" {
		existing, err := tx.QuizzesByDigest(ctx, digest)
		if err != nil {
			return "", err
		}
		for _, duplicate := range existingDuplicates(existing) {
			if err := tx.DeleteQuiz(ctx, duplicate.ID); err != nil {
				return "", err
			}
			run.service.logger.Info("removed duplicate quiz",
				zap.String("short_name", run.meta.ShortName),
				zap.String("quiz_digest", digest),
				zap.Uint("quiz_id", duplicate.ID))
		}
		if len(existing) > 0 {
			activity, found, err := tx.ActivityByDigest(ctx, digest)
			if err != nil {
				return "", err
			}
			if found && activity.Content != nil {
				return *activity.Content, nil
			}
		}
	}
	return run.createQuiz(ctx, tx, quiz)
}

// existingDuplicates returns every quiz but the newest; quizzes arrive newest first.
func existingDuplicates(quizzes []courses.Quiz) []courses.Quiz {
	if len(quizzes) < 2 {
		return nil
	}
	return quizzes[1:]
}

func decodeQuiz(raw string) (map[string]any, error) {
	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("decode quiz content: %w", err)
	}
	schema, err := compiledQuizSchema()
	if err != nil {
		return nil, fmt.Errorf("compile quiz schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("quiz content does not match the expected shape: %w", err)
	}
	quiz, ok := value.(map[string]any)
	if !ok {
		return nil, errQuizNotObject
	}
	return quiz, nil
}

// createQuiz persists the quiz graph and writes the generated identifiers back into quiz.
func (run *importRun) createQuiz(ctx context.Context, tx *courses.Store, quiz map[string]any) (string, error) {
	record := &courses.Quiz{
		OwnerID:     run.uploaderID,
		Title:       textValue(quiz["title"]),
		Description: textValue(quiz["description"]),
		CreatedAt:   run.service.clock().UTC(),
	}
	quizProps := propsOf[courses.QuizProp](quiz["props"], func(name, value string) courses.QuizProp {
		return courses.QuizProp{Name: name, Value: value}
	})
	if err := tx.CreateQuiz(ctx, record, quizProps); err != nil {
		return "", err
	}
	quiz[quizIDKey] = record.ID

	entries, _ := quiz["questions"].([]any)
	for index, rawEntry := range entries {
		entry, _ := rawEntry.(map[string]any)
		if err := run.createQuestion(ctx, tx, record.ID, entry, index+1); err != nil {
			return "", err
		}
	}
	return encodeQuiz(quiz)
}

func (run *importRun) createQuestion(ctx context.Context, tx *courses.Store, quizID uint, entry map[string]any, fallbackOrder int) error {
	body, _ := entry["question"].(map[string]any)
	question := &courses.Question{
		OwnerID: run.uploaderID,
		Type:    textValue(body["type"]),
		Title:   textValue(body["title"]),
	}
	join := &courses.QuizQuestion{QuizID: quizID, Order: intValue(entry["order"], fallbackOrder)}
	questionProps := propsOf[courses.QuestionProp](body["props"], func(name, value string) courses.QuestionProp {
		return courses.QuestionProp{Name: name, Value: value}
	})
	if err := tx.CreateQuestion(ctx, question, join, questionProps); err != nil {
		return err
	}
	entry[quizIDKey] = join.ID
	body[quizIDKey] = question.ID

	responses, _ := body["responses"].([]any)
	for index, rawResponse := range responses {
		response, _ := rawResponse.(map[string]any)
		record := &courses.Response{
			OwnerID:    run.uploaderID,
			QuestionID: question.ID,
			Title:      textValue(response["title"]),
			Score:      floatValue(response["score"]),
			Order:      intValue(response["order"], index+1),
		}
		responseProps := propsOf[courses.ResponseProp](response["props"], func(name, value string) courses.ResponseProp {
			return courses.ResponseProp{Name: name, Value: value}
		})
		if err := tx.CreateResponse(ctx, record, responseProps); err != nil {
			return err
		}
		response[quizIDKey] = record.ID
	}
	return nil
}

// propsOf converts a JSON property object into rows, skipping the id key. Names are sorted so
// rows are inserted in a stable order.
func propsOf[T any](raw any, build func(name, value string) T) []T {
	values, _ := raw.(map[string]any)
	names := make([]string, 0, len(values))
	for name := range values {
		if name == quizIDKey {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	rows := make([]T, 0, len(names))
	for _, name := range names {
		rows = append(rows, build(name, textValue(values[name])))
	}
	return rows
}

func encodeQuiz(quiz map[string]any) (string, error) {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(quiz); err != nil {
		return "", fmt.Errorf("encode quiz content: %w", err)
	}
	return strings.TrimRight(buffer.String(), "\n"), nil
}

// textValue renders a JSON value as stored text. Strings are kept verbatim; other values are
// stored as their JSON encoding.
func textValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case json.Number:
		return typed.String()
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}
		return string(encoded)
	}
}

func floatValue(value any) float64 {
	switch typed := value.(type) {
	case json.Number:
		parsed, err := typed.Float64()
		if err == nil {
			return parsed
		}
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err == nil {
			return parsed
		}
	}
	return 0
}

func intValue(value any, fallback int) int {
	switch typed := value.(type) {
	case json.Number:
		parsed, err := typed.Int64()
		if err == nil {
			return int(parsed)
		}
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(typed))
		if err == nil {
			return parsed
		}
	}
	return fallback
}
