package main

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/coursepack/internal/auth"
	"github.com/MarcoPoloResearchLab/coursepack/internal/config"
	"github.com/spf13/viper"
)

const cliManifest = `<?xml version="1.0" encoding="UTF-8"?>
<module>
<meta>
<versionid>1</versionid>
<title lang="en">Algebra</title>
<shortname>algebra1</shortname>
<gamification><event name="course_downloaded">5</event></gamification>
</meta>
<structure>
<section order="1">
<title lang="en">One</title>
<activities>
<activity type="page" order="1" digest="d1"><title lang="en">Lines</title><location lang="en">lines.html</location></activity>
</activities>
</section>
</structure>
</module>
`

func resetViper(t *testing.T) string {
	t.Helper()
	viper.Reset()
	config.ApplyDefaults(viper.GetViper())
	base := t.TempDir()
	viper.Set("database.dsn", filepath.Join(base, "coursepack.db"))
	viper.Set("import.temp_dir", filepath.Join(base, "tmp"))
	viper.Set("import.upload_dir", filepath.Join(base, "uploads"))
	viper.Set("import.preview_dir", filepath.Join(base, "preview"))
	viper.Set("log.level", "error")
	t.Cleanup(viper.Reset)
	return base
}

func writeArchive(t *testing.T, path string) {
	t.Helper()
	var buffer bytes.Buffer
	writer := zip.NewWriter(&buffer)
	entry, err := writer.Create("algebra1/module.xml")
	if err != nil {
		t.Fatalf("zip: %v", err)
	}
	if _, err := entry.Write([]byte(cliManifest)); err != nil {
		t.Fatalf("zip: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("zip: %v", err)
	}
	if err := os.WriteFile(path, buffer.Bytes(), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}
}

func TestRunImportPublishesArchive(t *testing.T) {
	base := resetViper(t)
	archivePath := filepath.Join(base, "algebra1.zip")
	writeArchive(t, archivePath)

	var out bytes.Buffer
	if err := runImport(context.Background(), &out, archivePath, "instructor-1"); err != nil {
		t.Fatalf("import failed: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), `success: course "algebra1"`) {
		t.Fatalf("unexpected output %q", out.String())
	}
	if !strings.Contains(out.String(), `[info] Gamification for "course_downloaded" at course level added`) {
		t.Fatalf("expected gamification advisory, got %q", out.String())
	}
	for _, path := range []string{
		filepath.Join(base, "uploads", "algebra1.zip"),
		filepath.Join(base, "preview", "algebra1", "module.xml"),
		filepath.Join(base, "preview", "algebra1.gamification.yaml"),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s: %v", path, err)
		}
	}

	out.Reset()
	err := runImport(context.Background(), &out, archivePath, "instructor-1")
	if err == nil || !strings.Contains(out.String(), "A newer version of this course already exists") {
		t.Fatalf("expected stale version rejection, got %v %q", err, out.String())
	}
}

func TestRunTokenRequiresSecret(t *testing.T) {
	resetViper(t)
	var out bytes.Buffer
	if err := runToken(&out, auth.Uploader{UserID: "instructor-1"}); err == nil {
		t.Fatalf("expected missing secret error")
	}

	viper.Set("auth.signing_secret", "secret")
	if err := runToken(&out, auth.Uploader{UserID: "instructor-1"}); err != nil {
		t.Fatalf("token failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || strings.Count(lines[0], ".") != 2 || !strings.HasPrefix(lines[1], "expires ") {
		t.Fatalf("unexpected token output %q", out.String())
	}
}
