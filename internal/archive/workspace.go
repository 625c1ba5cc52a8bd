package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Workspace is one upload's scoped temporary directory.
//
//	<dir>/upload.zip      spooled upload
//	<dir>/extract/<name>  module root
//	<dir>/course.zip      normalized archive produced by Repackage
type Workspace struct {
	dir string
	// ModuleName is the top-level directory of the extracted archive that holds the course.
	ModuleName string
}

// Dir returns the workspace directory.
func (workspace *Workspace) Dir() string {
	return workspace.dir
}

func (workspace *Workspace) extractRoot() string {
	return filepath.Join(workspace.dir, extractDirName)
}

// ModuleRoot returns the extracted module directory.
func (workspace *Workspace) ModuleRoot() string {
	return filepath.Join(workspace.extractRoot(), workspace.ModuleName)
}

// ManifestPath returns where the manifest named fileName is expected.
func (workspace *Workspace) ManifestPath(fileName string) string {
	return filepath.Join(workspace.ModuleRoot(), fileName)
}

// Repackage zips the module root, keeping the module name as the single top-level entry,
// and returns the path of the produced archive.
func (workspace *Workspace) Repackage() (string, error) {
	target := filepath.Join(workspace.dir, packageFileName)
	file, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("archive: create package: %w", err)
	}
	writer := zip.NewWriter(file)
	walkErr := filepath.WalkDir(workspace.ModuleRoot(), func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		relative, err := filepath.Rel(workspace.extractRoot(), path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(relative)
		if entry.IsDir() {
			_, err := writer.Create(name + "/")
			return err
		}
		return addFile(writer, path, name)
	})
	closeErr := writer.Close()
	fileErr := file.Close()
	switch {
	case walkErr != nil:
		return "", fmt.Errorf("archive: package module: %w", walkErr)
	case closeErr != nil:
		return "", fmt.Errorf("archive: finish package: %w", closeErr)
	case fileErr != nil:
		return "", fmt.Errorf("archive: close package: %w", fileErr)
	}
	return target, nil
}

func addFile(writer *zip.Writer, path string, name string) error {
	source, err := os.Open(path)
	if err != nil {
		return err
	}
	defer source.Close()
	header := &zip.FileHeader{Name: name, Method: zip.Deflate}
	destination, err := writer.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(destination, source)
	return err
}

// Close removes the workspace directory. It is safe to call more than once.
func (workspace *Workspace) Close() error {
	if workspace == nil || workspace.dir == "" {
		return nil
	}
	if err := os.RemoveAll(workspace.dir); err != nil {
		return fmt.Errorf("archive: remove workspace: %w", err)
	}
	return nil
}
