package importer

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/coursepack/internal/courses"
	"github.com/MarcoPoloResearchLab/coursepack/internal/locking"
	"github.com/MarcoPoloResearchLab/coursepack/internal/manifest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const ownerID = "owner-1"

func algebraManifest(version int64, sections ...testSection) testManifest {
	return testManifest{shortName: "algebra1", version: version, sections: sections}
}

func TestImportCreatesCourseAndPublishesArchive(t *testing.T) {
	h := newHarness(t)
	m := algebraManifest(1,
		testSection{order: 1, title: "Intro", activities: []testActivity{{digest: "d1", title: "Welcome"}}},
		testSection{order: 2, title: "Empty"},
	)
	m.baseline = []testActivity{{digest: "b1", title: "Pre test"}}
	m.media = []testMedia{{filename: "intro.mp4", url: "https://example.com/intro.mp4", digest: "m1", filesize: "2048"}}

	result, err := h.upload(t, "algebra1.zip", m, ownerID)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if result.Outcome != OutcomeSuccess || result.Course == nil {
		t.Fatalf("expected success with course, got %#v", result)
	}
	if !result.Course.IsDraft || result.Course.Version != 1 || result.Course.Filename != "algebra1.zip" {
		t.Fatalf("unexpected course %#v", result.Course)
	}
	if title := courses.DecodeLocalized(result.Course.Title).Display(); title != "algebra1 course" {
		t.Fatalf("unexpected title %q", title)
	}
	if !hasAdvisory(result, SeverityInfo, "Section 2 does not contain any activities.") {
		t.Fatalf("expected empty section advisory, got %#v", result.Advisories)
	}

	page := h.activityByDigest(t, "d1")
	if page.Content == nil || *page.Content != `{"en":"d1.html"}` {
		t.Fatalf("unexpected page content %v", page.Content)
	}
	baseline := h.activityByDigest(t, "b1")
	if !baseline.Baseline {
		t.Fatalf("expected baseline flag")
	}
	baselineSection, found, err := h.store.SectionByID(context.Background(), baseline.SectionID)
	if err != nil || !found || baselineSection.Order != 0 {
		t.Fatalf("expected baseline section with order 0, got %#v err=%v", baselineSection, err)
	}
	if got := h.count(t, &courses.Section{}); got != 2 {
		t.Fatalf("expected baseline and one structured section, got %d", got)
	}

	media, err := h.store.MediaForCourse(context.Background(), result.Course.ID)
	if err != nil || len(media) != 1 || media[0].FileSize == nil || *media[0].FileSize != 2048 {
		t.Fatalf("unexpected media %#v err=%v", media, err)
	}

	stored, err := h.uploads.Path("algebra1.zip")
	if err != nil {
		t.Fatalf("path failed: %v", err)
	}
	if _, err := zip.OpenReader(stored); err != nil {
		t.Fatalf("expected a readable stored archive: %v", err)
	}
	previewManifest := filepath.Join(h.preview, "algebra1", manifest.FileName)
	data, err := os.ReadFile(previewManifest)
	if err != nil {
		t.Fatalf("expected preview manifest: %v", err)
	}
	if !strings.HasPrefix(string(data), "<?xml version='1.0' encoding='utf-8'?>\n") {
		t.Fatalf("expected normalized declaration, got %q", string(data[:40]))
	}
	if len(h.exporter.exported) != 1 || h.exporter.exported[0] != "algebra1" {
		t.Fatalf("expected gamification export, got %v", h.exporter.exported)
	}
	if len(h.metrics.outcomes) != 1 || h.metrics.outcomes[0] != string(OutcomeSuccess) {
		t.Fatalf("unexpected metrics %v", h.metrics.outcomes)
	}
	h.assertNoWorkspaces(t)
}

func TestImportReconcilesActivitiesByDigest(t *testing.T) {
	h := newHarness(t)

	first, err := h.upload(t, "algebra1.zip", algebraManifest(1,
		testSection{order: 1, title: "One", activities: []testActivity{{digest: "d1", title: "Lines"}}},
		testSection{order: 2, title: "Two", activities: []testActivity{{digest: "d3", title: "Retired"}}},
	), ownerID)
	if err != nil {
		t.Fatalf("first import failed: %v", err)
	}
	original := h.activityByDigest(t, "d1")

	second, err := h.upload(t, "algebra1.zip", algebraManifest(2,
		testSection{order: 1, title: "One", activities: []testActivity{
			{digest: "d1", title: "Lines"},
			{digest: "d2", title: "Slopes"},
		}},
	), ownerID)
	if err != nil {
		t.Fatalf("second import failed: %v", err)
	}
	if second.Course.ID != first.Course.ID || second.Course.Version != 2 {
		t.Fatalf("expected the same course at version 2, got %#v", second.Course)
	}
	if !second.Course.LastUpdated.Equal(fixedNow) {
		t.Fatalf("expected last updated refresh, got %v", second.Course.LastUpdated)
	}

	updated := h.activityByDigest(t, "d1")
	if updated.ID != original.ID {
		t.Fatalf("expected d1 to be updated in place, ids %d and %d", original.ID, updated.ID)
	}
	h.activityByDigest(t, "d2")
	if got := h.count(t, &courses.Activity{}); got != 2 {
		t.Fatalf("expected exactly d1 and d2, got %d activities", got)
	}
	if got := h.count(t, &courses.Section{}); got != 1 {
		t.Fatalf("expected old sections removed, got %d sections", got)
	}
	sections, err := h.store.SectionsForCourse(context.Background(), second.Course.ID)
	if err != nil || len(sections) != 1 || sections[0].ID != updated.SectionID {
		t.Fatalf("expected d1 to belong to the new section, got %#v err=%v", sections, err)
	}

	if !hasAdvisory(second, SeverityWarning, `Activity "Slopes"(d2) did not exist previously.`) {
		t.Fatalf("expected new activity warning, got %#v", second.Advisories)
	}
	if hasAdvisory(second, SeverityWarning, "(d1) did not exist previously.") {
		t.Fatalf("d1 existed and must not be reported as new")
	}
	if !hasAdvisory(second, SeverityInfo, `Activity "Retired"(d3) is no longer in the course.`) {
		t.Fatalf("expected removed activity advisory, got %#v", second.Advisories)
	}
	if hasAdvisory(first, SeverityWarning, "did not exist previously") {
		t.Fatalf("new courses must not report new activities")
	}
}

func TestImportRejectsStaleVersions(t *testing.T) {
	tests := []struct {
		name    string
		version int64
	}{
		{name: "equal", version: 5},
		{name: "older", version: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			section := testSection{order: 1, title: "One", activities: []testActivity{{digest: "d1", title: "Lines"}}}
			if _, err := h.upload(t, "algebra1.zip", algebraManifest(5, section), ownerID); err != nil {
				t.Fatalf("seed import failed: %v", err)
			}
			result, err := h.upload(t, "algebra1.zip", algebraManifest(tt.version, section), ownerID)
			if !errors.Is(err, ErrStaleVersion) {
				t.Fatalf("expected stale version, got %v", err)
			}
			if result.Outcome != OutcomeClientError || result.Course != nil {
				t.Fatalf("unexpected result %#v", result)
			}
			if !hasAdvisory(result, SeverityError, "A newer version of this course already exists") {
				t.Fatalf("expected stale advisory, got %#v", result.Advisories)
			}
			course, _, err := h.store.CourseByShortName(context.Background(), "algebra1")
			if err != nil || course.Version != 5 {
				t.Fatalf("expected stored version to stay 5, got %#v err=%v", course, err)
			}
			h.assertNoWorkspaces(t)
		})
	}
}

func TestImportRejectsForeignOwner(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := newHarness(t, func(cfg *ServiceConfig) { cfg.Logger = zap.New(core) })
	section := testSection{order: 1, title: "One", activities: []testActivity{{digest: "d1", title: "Lines"}}}
	if _, err := h.upload(t, "algebra1.zip", algebraManifest(1, section), ownerID); err != nil {
		t.Fatalf("seed import failed: %v", err)
	}

	result, err := h.upload(t, "algebra1.zip", algebraManifest(2, section), "intruder")
	if !errors.Is(err, ErrOwnershipViolation) {
		t.Fatalf("expected ownership violation, got %v", err)
	}
	if result.Outcome != OutcomePermissionError {
		t.Fatalf("expected permission outcome, got %s", result.Outcome)
	}
	var importErr *ImportError
	if !errors.As(err, &importErr) || importErr.Code() != "importer.resolve.ownership_violation" {
		t.Fatalf("expected coded import error, got %#v", err)
	}
	rejected := logs.FilterMessage("course import rejected").All()
	if len(rejected) != 1 || rejected[0].ContextMap()["reason"] != "ownership_violation" {
		t.Fatalf("expected one rejection log entry, got %#v", rejected)
	}
	course, _, _ := h.store.CourseByShortName(context.Background(), "algebra1")
	if course.Version != 1 || course.OwnerID != ownerID {
		t.Fatalf("expected course untouched, got %#v", course)
	}
}

func TestImportWithoutSectionsDeletesCourse(t *testing.T) {
	tests := []struct {
		name     string
		manifest testManifest
	}{
		{name: "empty-structure", manifest: algebraManifest(1)},
		{name: "missing-structure", manifest: testManifest{shortName: "algebra1", version: 1, noStructure: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.manifest.gamification = map[string]string{"course_downloaded": "10"}
			result, err := h.upload(t, "algebra1.zip", tt.manifest, ownerID)
			if err != nil {
				t.Fatalf("expected no hard failure, got %v", err)
			}
			if result.Outcome != OutcomeSuccess || result.Course != nil {
				t.Fatalf("expected success without course, got %#v", result)
			}
			if !hasAdvisory(result, SeverityInfo, "There don't appear to be any activities in this upload file.") {
				t.Fatalf("expected no-sections advisory, got %#v", result.Advisories)
			}
			if got := h.count(t, &courses.Course{}); got != 0 {
				t.Fatalf("expected course removed, got %d", got)
			}
			if got := h.count(t, &courses.CourseGamificationEvent{}); got != 0 {
				t.Fatalf("expected course events removed, got %d", got)
			}
			if path, _ := h.uploads.Path("algebra1.zip"); fileExists(path) {
				t.Fatalf("expected nothing published")
			}
			h.assertNoWorkspaces(t)
		})
	}
}

func TestImportSkipsMediaWithOverlongURL(t *testing.T) {
	h := newHarness(t)
	m := algebraManifest(1, testSection{order: 1, title: "One", activities: []testActivity{{digest: "d1", title: "Lines"}}})
	m.media = []testMedia{
		{filename: "long.mp4", url: "https://example.com/" + strings.Repeat("x", DefaultMediaURLMaxLength), digest: "m1"},
		{filename: "short.mp4", url: "https://example.com/short.mp4", digest: "m2"},
		{filename: "broken.mp4", url: "https://example.com/broken.mp4"},
	}

	result, err := h.upload(t, "algebra1.zip", m, ownerID)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	media, err := h.store.MediaForCourse(context.Background(), result.Course.ID)
	if err != nil {
		t.Fatalf("media lookup failed: %v", err)
	}
	if len(media) != 1 || media[0].Filename != "short.mp4" {
		t.Fatalf("expected only short.mp4 registered, got %#v", media)
	}
	if !hasAdvisory(result, SeverityWarning, "File long.mp4 has a download URL larger than the maximum length permitted.") {
		t.Fatalf("expected url length advisory, got %#v", result.Advisories)
	}
	if !hasAdvisory(result, SeverityWarning, `Media file "broken.mp4" is missing required attributes`) {
		t.Fatalf("expected missing attribute advisory, got %#v", result.Advisories)
	}
}

func TestImportReplacesMediaOnUpdate(t *testing.T) {
	h := newHarness(t)
	section := testSection{order: 1, title: "One", activities: []testActivity{{digest: "d1", title: "Lines"}}}
	first := algebraManifest(1, section)
	first.media = []testMedia{{filename: "old.mp4", url: "https://example.com/old.mp4", digest: "m1"}}
	if _, err := h.upload(t, "algebra1.zip", first, ownerID); err != nil {
		t.Fatalf("first import failed: %v", err)
	}
	second := algebraManifest(2, section)
	second.media = []testMedia{{filename: "new.mp4", url: "https://example.com/new.mp4", digest: "m2"}}
	result, err := h.upload(t, "algebra1.zip", second, ownerID)
	if err != nil {
		t.Fatalf("second import failed: %v", err)
	}
	media, err := h.store.MediaForCourse(context.Background(), result.Course.ID)
	if err != nil || len(media) != 1 || media[0].Filename != "new.mp4" {
		t.Fatalf("expected media replaced, got %#v err=%v", media, err)
	}
}

func TestGamificationEventsAreRegisteredOnce(t *testing.T) {
	h := newHarness(t)
	build := func(version int64, points string) testManifest {
		m := algebraManifest(version, testSection{order: 1, title: "One", activities: []testActivity{{
			digest:       "d1",
			title:        "Lines",
			gamification: map[string]string{"activity_completed": points},
		}}})
		m.gamification = map[string]string{"course_downloaded": points, "broken": "ten"}
		return m
	}

	first, err := h.upload(t, "algebra1.zip", build(1, "10"), ownerID)
	if err != nil {
		t.Fatalf("first import failed: %v", err)
	}
	if !hasAdvisory(first, SeverityInfo, `Gamification for "course_downloaded" at course level added`) {
		t.Fatalf("expected course event advisory, got %#v", first.Advisories)
	}
	if !hasAdvisory(first, SeverityInfo, `Gamification for "activity_completed" at activity "Lines" added`) {
		t.Fatalf("expected activity event advisory, got %#v", first.Advisories)
	}
	if !hasAdvisory(first, SeverityWarning, `Gamification event "broken" has an invalid point value`) {
		t.Fatalf("expected invalid points advisory, got %#v", first.Advisories)
	}

	second, err := h.upload(t, "algebra1.zip", build(2, "99"), ownerID)
	if err != nil {
		t.Fatalf("second import failed: %v", err)
	}
	if hasAdvisory(second, SeverityInfo, "Gamification for") {
		t.Fatalf("existing events must not be re-added, got %#v", second.Advisories)
	}

	var courseEvents []courses.CourseGamificationEvent
	if err := h.db.Find(&courseEvents).Error; err != nil {
		t.Fatalf("load course events: %v", err)
	}
	if len(courseEvents) != 1 || courseEvents[0].Points != 10 {
		t.Fatalf("expected first-write course event, got %#v", courseEvents)
	}
	var activityEvents []courses.ActivityGamificationEvent
	if err := h.db.Find(&activityEvents).Error; err != nil {
		t.Fatalf("load activity events: %v", err)
	}
	if len(activityEvents) != 1 || activityEvents[0].Points != 10 {
		t.Fatalf("expected first-write activity event, got %#v", activityEvents)
	}
}

func TestImportRemovesPreviousArchiveWhenFilenameChanges(t *testing.T) {
	h := newHarness(t)
	section := testSection{order: 1, title: "One", activities: []testActivity{{digest: "d1", title: "Lines"}}}
	if _, err := h.upload(t, "algebra1-v1.zip", algebraManifest(1, section), ownerID); err != nil {
		t.Fatalf("first import failed: %v", err)
	}
	if _, err := h.upload(t, "algebra1-v2.zip", algebraManifest(2, section), ownerID); err != nil {
		t.Fatalf("second import failed: %v", err)
	}
	oldPath, _ := h.uploads.Path("algebra1-v1.zip")
	newPath, _ := h.uploads.Path("algebra1-v2.zip")
	if fileExists(oldPath) {
		t.Fatalf("expected previous archive removed")
	}
	if !fileExists(newPath) {
		t.Fatalf("expected new archive stored")
	}
}

type failingArchiveStore struct {
	ArchiveStore
	failPut bool
}

func (store *failingArchiveStore) Put(ctx context.Context, name string, srcPath string) error {
	if store.failPut {
		return errors.New("bucket unavailable")
	}
	return store.ArchiveStore.Put(ctx, name, srcPath)
}

func TestImportKeepsPreviousArchiveWhenStoreFails(t *testing.T) {
	archives := &failingArchiveStore{}
	h := newHarness(t, func(cfg *ServiceConfig) {
		archives.ArchiveStore = cfg.Archives
		cfg.Archives = archives
	})
	section := testSection{order: 1, title: "One", activities: []testActivity{{digest: "d1", title: "Lines"}}}
	if _, err := h.upload(t, "algebra1-v1.zip", algebraManifest(1, section), ownerID); err != nil {
		t.Fatalf("first import failed: %v", err)
	}

	archives.failPut = true
	result, err := h.upload(t, "algebra1-v2.zip", algebraManifest(2, section), ownerID)
	if err == nil || result.Outcome != OutcomeServerError {
		t.Fatalf("expected server error, got %v (%s)", err, result.Outcome)
	}
	oldPath, _ := h.uploads.Path("algebra1-v1.zip")
	newPath, _ := h.uploads.Path("algebra1-v2.zip")
	if !fileExists(oldPath) {
		t.Fatalf("expected previous archive to survive a failed store")
	}
	if fileExists(newPath) {
		t.Fatalf("expected no new archive")
	}
}

func TestImportRejectsBrokenUploads(t *testing.T) {
	emptyZip := func(t *testing.T) []byte {
		var buffer bytes.Buffer
		if err := zip.NewWriter(&buffer).Close(); err != nil {
			t.Fatalf("zip: %v", err)
		}
		return buffer.Bytes()
	}
	noManifest := func(t *testing.T) []byte {
		var buffer bytes.Buffer
		writer := zip.NewWriter(&buffer)
		entry, err := writer.Create("algebra1/readme.txt")
		if err != nil {
			t.Fatalf("zip: %v", err)
		}
		_, _ = entry.Write([]byte("hello"))
		if err := writer.Close(); err != nil {
			t.Fatalf("zip: %v", err)
		}
		return buffer.Bytes()
	}
	rootManifest := func(t *testing.T) []byte {
		var buffer bytes.Buffer
		writer := zip.NewWriter(&buffer)
		entry, err := writer.Create("module.xml")
		if err != nil {
			t.Fatalf("zip: %v", err)
		}
		_, _ = entry.Write([]byte(algebraManifest(1).xml()))
		if err := writer.Close(); err != nil {
			t.Fatalf("zip: %v", err)
		}
		return buffer.Bytes()
	}
	badMeta := func(t *testing.T) []byte {
		return buildArchive(t, "algebra1", "<module><meta><shortname>algebra1</shortname></meta></module>")
	}

	tests := []struct {
		name     string
		filename string
		payload  func(t *testing.T) []byte
		want     error
		outcome  Outcome
		message  string
	}{
		{name: "corrupt", filename: "a.zip", payload: func(*testing.T) []byte { return []byte("garbage") }, want: ErrInvalidArchive, outcome: OutcomeServerError, message: "Invalid zip file"},
		{name: "empty", filename: "a.zip", payload: emptyZip, want: ErrEmptyArchive, outcome: OutcomeClientError, message: "Invalid course zip file"},
		{name: "no-manifest", filename: "a.zip", payload: noManifest, want: ErrMissingManifest, outcome: OutcomeClientError, message: "Zip file does not contain a module.xml file"},
		{name: "manifest-at-zip-root", filename: "a.zip", payload: rootManifest, want: ErrEmptyArchive, outcome: OutcomeClientError, message: "Invalid course zip file"},
		{name: "bad-meta", filename: "a.zip", payload: badMeta, want: ErrInvalidManifest, outcome: OutcomeClientError, message: "could not be read"},
		{name: "no-filename", filename: "", payload: emptyZip, want: ErrInvalidUpload, outcome: OutcomeClientError, message: "file name is not valid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			result, err := h.service.Import(context.Background(), Upload{Filename: tt.filename, Content: bytes.NewReader(tt.payload(t))}, ownerID)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if result.Outcome != tt.outcome {
				t.Fatalf("expected outcome %s, got %s", tt.outcome, result.Outcome)
			}
			if !hasAdvisory(result, SeverityError, tt.message) {
				t.Fatalf("expected advisory %q, got %#v", tt.message, result.Advisories)
			}
			if h.metrics.advisories[string(SeverityError)] != 1 {
				t.Fatalf("expected error advisory to be counted, got %v", h.metrics.advisories)
			}
			h.assertNoWorkspaces(t)
		})
	}
}

func TestImportAcceptsFinderArchives(t *testing.T) {
	h := newHarness(t)
	section := testSection{order: 1, title: "One", activities: []testActivity{{digest: "d1", title: "Lines"}}}
	var buffer bytes.Buffer
	writer := zip.NewWriter(&buffer)
	files := map[string]string{
		"__MACOSX/algebra1/._module.xml": "resource fork",
		"algebra1/module.xml":            algebraManifest(1, section).xml(),
	}
	for name, content := range files {
		entry, err := writer.Create(name)
		if err != nil {
			t.Fatalf("zip: %v", err)
		}
		_, _ = entry.Write([]byte(content))
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("zip: %v", err)
	}

	result, err := h.service.Import(context.Background(), Upload{Filename: "algebra1.zip", Content: bytes.NewReader(buffer.Bytes())}, ownerID)
	if err != nil || result.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %v (%s)", err, result.Outcome)
	}
	if !fileExists(filepath.Join(h.preview, "algebra1", "module.xml")) {
		t.Fatalf("expected preview for the module directory")
	}
	if fileExists(filepath.Join(h.preview, "__MACOSX")) {
		t.Fatalf("expected the sidecar to be dropped from the published archive")
	}
}

func TestImportFailsFastWhileCourseIsLocked(t *testing.T) {
	locker := locking.NewLocalLocker()
	h := newHarness(t, func(cfg *ServiceConfig) { cfg.Locker = locker })
	release, err := locker.Acquire(context.Background(), "algebra1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	section := testSection{order: 1, title: "One", activities: []testActivity{{digest: "d1", title: "Lines"}}}

	result, err := h.upload(t, "algebra1.zip", algebraManifest(1, section), ownerID)
	if !errors.Is(err, ErrImportInProgress) || result.Outcome != OutcomeClientError {
		t.Fatalf("expected import in progress, got %v (%s)", err, result.Outcome)
	}
	if got := h.count(t, &courses.Course{}); got != 0 {
		t.Fatalf("expected nothing persisted, got %d courses", got)
	}
	h.assertNoWorkspaces(t)

	if err := release(context.Background()); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, err := h.upload(t, "algebra1.zip", algebraManifest(1, section), ownerID); err != nil {
		t.Fatalf("expected import after release to succeed: %v", err)
	}
}

func TestImportIsolatesFailingActivities(t *testing.T) {
	h := newHarness(t)
	m := algebraManifest(1, testSection{order: 1, title: "One", activities: []testActivity{
		{digest: "", title: "Nameless"},
		{digest: "q1", kind: courses.ActivityTypeQuiz, title: "Broken quiz", content: "not json"},
		{digest: "d1", title: "Lines"},
	}})
	m.exportVersion = "2017011400"

	result, err := h.upload(t, "algebra1.zip", m, ownerID)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if !hasAdvisory(result, SeverityError, `Activity "Nameless"() could not be imported`) {
		t.Fatalf("expected missing digest advisory, got %#v", result.Advisories)
	}
	if !hasAdvisory(result, SeverityError, `Activity "Broken quiz"(q1) could not be imported`) {
		t.Fatalf("expected broken quiz advisory, got %#v", result.Advisories)
	}
	h.activityByDigest(t, "d1")
	if got := h.count(t, &courses.Activity{}); got != 1 {
		t.Fatalf("expected only the valid activity, got %d", got)
	}
}

func TestGamificationExportFailureIsAdvisory(t *testing.T) {
	h := newHarness(t)
	h.exporter.err = errors.New("sink offline")
	section := testSection{order: 1, title: "One", activities: []testActivity{{digest: "d1", title: "Lines"}}}

	result, err := h.upload(t, "algebra1.zip", algebraManifest(1, section), ownerID)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %s", result.Outcome)
	}
	if !hasAdvisory(result, SeverityWarning, "gamification description") {
		t.Fatalf("expected gamification warning, got %#v", result.Advisories)
	}
}

func TestOutcomeFor(t *testing.T) {
	tests := []struct {
		err  error
		want Outcome
	}{
		{err: nil, want: OutcomeSuccess},
		{err: newImportError(opExtract, "extract_failed", ErrInvalidArchive), want: OutcomeServerError},
		{err: newImportError(opExtract, "extract_failed", ErrArchiveTooLarge), want: OutcomeClientError},
		{err: newImportError(opResolve, "stale_version", ErrStaleVersion), want: OutcomeClientError},
		{err: newImportError(opResolve, "ownership_violation", ErrOwnershipViolation), want: OutcomePermissionError},
		{err: newImportError(opLock, "busy", ErrImportInProgress), want: OutcomeClientError},
		{err: errors.New("disk full"), want: OutcomeServerError},
	}
	for _, tt := range tests {
		if got := OutcomeFor(tt.err); got != tt.want {
			t.Fatalf("OutcomeFor(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
