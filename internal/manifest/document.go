// Package manifest reads and rewrites the module.xml document carried by a course archive.
//
// The document is kept as a mutable element tree. Import stages receive the same *Document,
// may rewrite activity content in place, and the export stage serializes its final state.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"syscall"

	"github.com/beevik/etree"
)

// FileName is the manifest file expected at the module root.
const FileName = "module.xml"

const declaration = "<?xml version='1.0' encoding='utf-8'?>\n"

var (
	// ErrMissingManifest indicates the module root has no manifest file.
	ErrMissingManifest = errors.New("manifest: module.xml not found")
	// ErrMalformedManifest indicates the manifest could not be parsed or lacks required fields.
	ErrMalformedManifest = errors.New("manifest: malformed module.xml")
)

var doubleEscapedEntity = regexp.MustCompile(`&amp;(lt|gt|amp|quot|apos|#[0-9]+|#x[0-9a-fA-F]+);`)

// Document is the parsed, mutable manifest tree.
type Document struct {
	tree *etree.Document
}

// Load reads the manifest at path.
func Load(path string) (*Document, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) || (err == nil && info.IsDir()) {
		return nil, ErrMissingManifest
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: stat %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a document from raw XML.
func Parse(data []byte) (*Document, error) {
	tree := etree.NewDocument()
	if err := tree.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedManifest, err)
	}
	if tree.Root() == nil {
		return nil, fmt.Errorf("%w: no root element", ErrMalformedManifest)
	}
	return &Document{tree: tree}, nil
}

// Root returns the document element.
func (document *Document) Root() *etree.Element {
	return document.tree.Root()
}

func (document *Document) metaElement() *etree.Element {
	return document.Root().SelectElement("meta")
}

// BaselineActivities returns the activities declared directly under the first meta block.
func (document *Document) BaselineActivities() []*etree.Element {
	meta := document.metaElement()
	if meta == nil {
		return nil
	}
	return meta.SelectElements("activity")
}

// Sections returns the ordered sections of the structure block.
func (document *Document) Sections() []*etree.Element {
	structure := document.Root().SelectElement("structure")
	if structure == nil {
		return nil
	}
	return structure.SelectElements("section")
}

// SectionActivities returns the activities of a section element.
func SectionActivities(section *etree.Element) []*etree.Element {
	activities := section.SelectElement("activities")
	if activities == nil {
		return nil
	}
	return activities.SelectElements("activity")
}

// Localized collects the text of every child named tag, keyed by its lang attribute.
// Later entries for the same language win.
func Localized(parent *etree.Element, tag string) map[string]string {
	values := map[string]string{}
	for _, child := range parent.SelectElements(tag) {
		values[child.SelectAttrValue("lang", "")] = child.Text()
	}
	return values
}

// SetContent replaces the text of the first content child of an activity element,
// keeping the CDATA form when the original used it.
func SetContent(activity *etree.Element, text string) {
	content := activity.SelectElement("content")
	if content == nil {
		content = activity.CreateElement("content")
	}
	if usesCData(content) {
		content.SetCData(text)
		return
	}
	content.SetText(text)
}

func usesCData(element *etree.Element) bool {
	for _, token := range element.Child {
		if data, ok := token.(*etree.CharData); ok && data.IsCData() {
			return true
		}
	}
	return false
}

// Bytes serializes the document with a fixed utf-8 declaration. Entity references that were
// escaped twice while rewriting text are collapsed back to a single escape.
func (document *Document) Bytes() ([]byte, error) {
	out := etree.NewDocument()
	out.SetRoot(document.Root().Copy())
	body, err := out.WriteToString()
	if err != nil {
		return nil, fmt.Errorf("manifest: serialize: %w", err)
	}
	var buffer bytes.Buffer
	buffer.WriteString(declaration)
	buffer.WriteString(doubleEscapedEntity.ReplaceAllString(body, "&$1;"))
	return buffer.Bytes(), nil
}

// WriteFile serializes the document to path, replacing any existing file.
func (document *Document) WriteFile(path string) error {
	data, err := document.Bytes()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("manifest: write %s: %w", path, err)
	}
	return nil
}
