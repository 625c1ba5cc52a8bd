// Package archive owns the scoped workspace an uploaded course archive is extracted into.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	workspacePrefix = "coursepack-"
	uploadFileName  = "upload.zip"
	extractDirName  = "extract"
	packageFileName = "course.zip"

	manifestFileName = "module.xml"
	macSidecarDir    = "__MACOSX"

	defaultMaxUploadBytes = int64(512 * 1024 * 1024)
	defaultMaxEntryBytes  = int64(100 * 1024 * 1024)
)

var (
	// ErrInvalidArchive indicates the upload is not a readable zip archive or contains unsafe entries.
	ErrInvalidArchive = errors.New("archive: invalid archive")
	// ErrEmptyArchive indicates the archive holds no module directory.
	ErrEmptyArchive = errors.New("archive: archive has no entries")
	// ErrArchiveTooLarge indicates the upload or one of its entries exceeded the configured bound.
	ErrArchiveTooLarge = errors.New("archive: archive exceeds size limit")
)

// Extractor spools uploads into fresh workspaces below TempRoot.
type Extractor struct {
	// TempRoot is the parent directory for workspaces; os.TempDir() when empty.
	TempRoot       string
	MaxUploadBytes int64
	MaxEntryBytes  int64
}

// Extract copies the upload into a new workspace and extracts it. On any error the workspace
// has already been removed; on success the caller owns the workspace and must Close it.
func (extractor Extractor) Extract(upload io.Reader) (*Workspace, error) {
	if upload == nil {
		return nil, fmt.Errorf("%w: empty upload", ErrInvalidArchive)
	}
	root := extractor.TempRoot
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("archive: prepare temp root: %w", err)
	}
	dir, err := os.MkdirTemp(root, workspacePrefix)
	if err != nil {
		return nil, fmt.Errorf("archive: create workspace: %w", err)
	}
	workspace := &Workspace{dir: dir}

	if err := extractor.populate(workspace, upload); err != nil {
		_ = workspace.Close()
		return nil, err
	}
	return workspace, nil
}

func (extractor Extractor) populate(workspace *Workspace, upload io.Reader) error {
	uploadPath := filepath.Join(workspace.dir, uploadFileName)
	if err := spool(uploadPath, upload, positiveOr(extractor.MaxUploadBytes, defaultMaxUploadBytes)); err != nil {
		return err
	}
	extractRoot := workspace.extractRoot()
	if err := ExtractTo(uploadPath, extractRoot, positiveOr(extractor.MaxEntryBytes, defaultMaxEntryBytes)); err != nil {
		return err
	}
	moduleName, err := moduleDirectory(extractRoot)
	if err != nil {
		return err
	}
	workspace.ModuleName = moduleName
	return nil
}

func spool(path string, upload io.Reader, limit int64) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("archive: create upload file: %w", err)
	}
	written, copyErr := io.Copy(file, io.LimitReader(upload, limit+1))
	closeErr := file.Close()
	if copyErr != nil {
		return fmt.Errorf("archive: spool upload: %w", copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("archive: spool upload: %w", closeErr)
	}
	if written > limit {
		return ErrArchiveTooLarge
	}
	return nil
}

// ExtractTo extracts the zip at zipPath into dest. Entries resolving outside dest are rejected.
func ExtractTo(zipPath string, dest string, maxEntryBytes int64) error {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer reader.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("archive: create destination: %w", err)
	}
	cleanDest := filepath.Clean(dest)
	for _, file := range reader.File {
		target, err := entryTarget(cleanDest, file.Name)
		if err != nil {
			return err
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("archive: create directory %s: %w", file.Name, err)
			}
			continue
		}
		if err := extractFile(file, target, positiveOr(maxEntryBytes, defaultMaxEntryBytes)); err != nil {
			return err
		}
	}
	return nil
}

func entryTarget(dest string, name string) (string, error) {
	if name == "" || filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: unsafe entry %q", ErrInvalidArchive, name)
	}
	target := filepath.Join(dest, filepath.FromSlash(name))
	if target != dest && !strings.HasPrefix(target, dest+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: entry %q escapes archive root", ErrInvalidArchive, name)
	}
	return target, nil
}

func extractFile(file *zip.File, target string, limit int64) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("archive: create directory for %s: %w", file.Name, err)
	}
	source, err := file.Open()
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrInvalidArchive, file.Name, err)
	}
	defer source.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("archive: create %s: %w", file.Name, err)
	}
	written, copyErr := io.Copy(out, io.LimitReader(source, limit+1))
	closeErr := out.Close()
	if copyErr != nil {
		return fmt.Errorf("%w: read %s: %v", ErrInvalidArchive, file.Name, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("archive: write %s: %w", file.Name, closeErr)
	}
	if written > limit {
		return fmt.Errorf("%w: entry %s", ErrArchiveTooLarge, file.Name)
	}
	return nil
}

// moduleDirectory picks the extracted directory that holds the course. The first directory
// carrying a module.xml wins; otherwise the first candidate directory is returned so the manifest
// stage reports the missing file. Archive-tool sidecars such as __MACOSX and dot-directories are
// never candidates.
func moduleDirectory(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("archive: list extracted entries: %w", err)
	}
	candidates := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || name == macSidecarDir || strings.HasPrefix(name, ".") {
			continue
		}
		candidates = append(candidates, name)
	}
	if len(candidates) == 0 {
		return "", ErrEmptyArchive
	}
	sort.Strings(candidates)
	for _, name := range candidates {
		info, err := os.Stat(filepath.Join(root, name, manifestFileName))
		if err == nil && info.Mode().IsRegular() {
			return name, nil
		}
	}
	return candidates[0], nil
}

func positiveOr(value int64, fallback int64) int64 {
	if value > 0 {
		return value
	}
	return fallback
}
