package importer

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/coursepack/internal/archive"
	"github.com/MarcoPoloResearchLab/coursepack/internal/courses"
	"github.com/MarcoPoloResearchLab/coursepack/internal/storage"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var fixedNow = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

type testActivity struct {
	digest       string
	kind         string
	title        string
	content      string
	gamification map[string]string
}

type testSection struct {
	order      int
	title      string
	activities []testActivity
}

type testMedia struct {
	filename string
	url      string
	digest   string
	filesize string
}

type testManifest struct {
	shortName     string
	version       int64
	exportVersion string
	gamification  map[string]string
	baseline      []testActivity
	sections      []testSection
	noStructure   bool
	media         []testMedia
}

func (m testManifest) xml() string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n<module>\n<meta>\n")
	fmt.Fprintf(&b, "<versionid>%d</versionid>\n", m.version)
	fmt.Fprintf(&b, "<title lang=\"en\">%s course</title>\n", m.shortName)
	fmt.Fprintf(&b, "<shortname>%s</shortname>\n", m.shortName)
	if m.exportVersion != "" {
		fmt.Fprintf(&b, "<exportversion>%s</exportversion>\n", m.exportVersion)
	}
	writeGamification(&b, m.gamification)
	for _, activity := range m.baseline {
		writeActivity(&b, activity)
	}
	b.WriteString("</meta>\n")
	if !m.noStructure {
		b.WriteString("<structure>\n")
		for _, section := range m.sections {
			fmt.Fprintf(&b, "<section order=\"%d\">\n<title lang=\"en\">%s</title>\n", section.order, section.title)
			if len(section.activities) > 0 {
				b.WriteString("<activities>\n")
				for _, activity := range section.activities {
					writeActivity(&b, activity)
				}
				b.WriteString("</activities>\n")
			}
			b.WriteString("</section>\n")
		}
		b.WriteString("</structure>\n")
	}
	if len(m.media) > 0 {
		b.WriteString("<media>\n")
		for _, media := range m.media {
			fmt.Fprintf(&b, "<file filename=%q download_url=%q digest=%q", media.filename, media.url, media.digest)
			if media.filesize != "" {
				fmt.Fprintf(&b, " filesize=%q", media.filesize)
			}
			b.WriteString("/>\n")
		}
		b.WriteString("</media>\n")
	}
	b.WriteString("</module>\n")
	return b.String()
}

func writeActivity(b *strings.Builder, activity testActivity) {
	kind := activity.kind
	if kind == "" {
		kind = courses.ActivityTypePage
	}
	fmt.Fprintf(b, "<activity type=%q order=\"1\" digest=%q>\n", kind, activity.digest)
	fmt.Fprintf(b, "<title lang=\"en\">%s</title>\n", activity.title)
	switch kind {
	case courses.ActivityTypeQuiz, courses.ActivityTypeFeedback:
		fmt.Fprintf(b, "<content><![CDATA[%s]]></content>\n", activity.content)
	default:
		fmt.Fprintf(b, "<location lang=\"en\">%s.html</location>\n", activity.digest)
	}
	writeGamification(b, activity.gamification)
	b.WriteString("</activity>\n")
}

func writeGamification(b *strings.Builder, events map[string]string) {
	if len(events) == 0 {
		return
	}
	b.WriteString("<gamification>\n")
	for name, points := range events {
		fmt.Fprintf(b, "<event name=%q>%s</event>\n", name, points)
	}
	b.WriteString("</gamification>\n")
}

func buildArchive(t *testing.T, module string, manifestXML string) []byte {
	t.Helper()
	var buffer bytes.Buffer
	writer := zip.NewWriter(&buffer)
	files := map[string]string{
		module + "/module.xml":       manifestXML,
		module + "/resources/a.html": "<p>page</p>",
	}
	for name, content := range files {
		entry, err := writer.Create(name)
		if err != nil {
			t.Fatalf("failed to create zip entry: %v", err)
		}
		if _, err := entry.Write([]byte(content)); err != nil {
			t.Fatalf("failed to write zip entry: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}
	return buffer.Bytes()
}

type recordingMetrics struct {
	outcomes   []string
	advisories map[string]int
}

func (m *recordingMetrics) ObserveImport(outcome string, _ float64) {
	m.outcomes = append(m.outcomes, outcome)
}

func (m *recordingMetrics) IncAdvisories(severity string, count int) {
	if m.advisories == nil {
		m.advisories = map[string]int{}
	}
	m.advisories[severity] += count
}

type recordingExporter struct {
	exported []string
	err      error
}

func (e *recordingExporter) Export(_ context.Context, course *courses.Course) error {
	e.exported = append(e.exported, course.ShortName)
	return e.err
}

type harness struct {
	service  *Service
	store    *courses.Store
	db       *gorm.DB
	tempRoot string
	uploads  *storage.LocalStore
	preview  string
	metrics  *recordingMetrics
	exporter *recordingExporter
}

type harnessOption func(*ServiceConfig)

func newHarness(t *testing.T, options ...harnessOption) *harness {
	t.Helper()

	dsn := fmt.Sprintf("file:importer_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(courses.Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := courses.NewStore(db)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}

	base := t.TempDir()
	uploads, err := storage.NewLocalStore(filepath.Join(base, "uploads"))
	if err != nil {
		t.Fatalf("failed to create upload store: %v", err)
	}
	h := &harness{
		store:    store,
		db:       db,
		tempRoot: filepath.Join(base, "tmp"),
		uploads:  uploads,
		preview:  filepath.Join(base, "preview"),
		metrics:  &recordingMetrics{},
		exporter: &recordingExporter{},
	}
	cfg := ServiceConfig{
		Store:        store,
		Extractor:    archive.Extractor{TempRoot: h.tempRoot},
		Archives:     uploads,
		Gamification: h.exporter,
		Metrics:      h.metrics,
		Logger:       zap.NewNop(),
		Clock:        func() time.Time { return fixedNow },
		PreviewDir:   h.preview,
	}
	for _, option := range options {
		option(&cfg)
	}
	service, err := NewService(cfg)
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	h.service = service
	return h
}

func (h *harness) upload(t *testing.T, filename string, m testManifest, uploader string) (Result, error) {
	t.Helper()
	module := m.shortName
	if module == "" {
		module = "module"
	}
	payload := buildArchive(t, module, m.xml())
	return h.service.Import(context.Background(), Upload{Filename: filename, Content: bytes.NewReader(payload)}, uploader)
}

func (h *harness) assertNoWorkspaces(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.tempRoot)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("failed to list temp root: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no workspaces left behind, found %d", len(entries))
	}
}

func (h *harness) activityByDigest(t *testing.T, digest string) courses.Activity {
	t.Helper()
	var activity courses.Activity
	if err := h.db.Where("digest = ?", digest).Take(&activity).Error; err != nil {
		t.Fatalf("activity %s not found: %v", digest, err)
	}
	return activity
}

func (h *harness) count(t *testing.T, model any) int64 {
	t.Helper()
	var total int64
	if err := h.db.Model(model).Count(&total).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return total
}

func hasAdvisory(result Result, severity Severity, fragment string) bool {
	for _, advisory := range result.Advisories {
		if advisory.Severity == severity && strings.Contains(advisory.Message, fragment) {
			return true
		}
	}
	return false
}
