package manifest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// CourseMeta is the typed view of the manifest meta block.
type CourseMeta struct {
	VersionID   int64  `validate:"gte=0"`
	ShortName   string `validate:"required,max=200,excludesall=/\\"`
	Title       map[string]string
	Description map[string]string
	// ExportVersion is nil for manifests produced by legacy exporters.
	ExportVersion *int64
	// Gamification is the raw gamification subtree, nil when absent.
	Gamification *etree.Element
}

// Meta parses the first meta block.
func (document *Document) Meta() (CourseMeta, error) {
	meta := document.metaElement()
	if meta == nil {
		return CourseMeta{}, fmt.Errorf("%w: meta block missing", ErrMalformedManifest)
	}

	versionElement := meta.SelectElement("versionid")
	if versionElement == nil {
		return CourseMeta{}, fmt.Errorf("%w: versionid missing", ErrMalformedManifest)
	}
	versionID, err := parseInt(versionElement.Text())
	if err != nil {
		return CourseMeta{}, fmt.Errorf("%w: versionid: %v", ErrMalformedManifest, err)
	}

	parsed := CourseMeta{
		VersionID:    versionID,
		Title:        Localized(meta, "title"),
		Description:  Localized(meta, "description"),
		Gamification: meta.SelectElement("gamification"),
	}
	if shortName := meta.SelectElement("shortname"); shortName != nil {
		parsed.ShortName = strings.TrimSpace(shortName.Text())
	}
	if exportElement := meta.SelectElement("exportversion"); exportElement != nil {
		exportVersion, err := parseInt(exportElement.Text())
		if err != nil {
			return CourseMeta{}, fmt.Errorf("%w: exportversion: %v", ErrMalformedManifest, err)
		}
		parsed.ExportVersion = &exportVersion
	}

	if err := validate.Struct(parsed); err != nil {
		return CourseMeta{}, fmt.Errorf("%w: %v", ErrMalformedManifest, err)
	}
	return parsed, nil
}

// MediaFile is one entry of the media block.
type MediaFile struct {
	Element     *etree.Element
	Filename    string `validate:"required"`
	DownloadURL string `validate:"required"`
	Digest      string `validate:"required"`
	// FileSize and Length hold the raw optional attributes; empty when absent.
	FileSize string
	Length   string
}

// Validate checks the required attributes are present.
func (file MediaFile) Validate() error {
	return validate.Struct(file)
}

// MediaFiles returns the file entries of the top-level media block.
func (document *Document) MediaFiles() []MediaFile {
	media := document.Root().SelectElement("media")
	if media == nil {
		return nil
	}
	elements := media.SelectElements("file")
	files := make([]MediaFile, 0, len(elements))
	for _, element := range elements {
		files = append(files, MediaFile{
			Element:     element,
			Filename:    element.SelectAttrValue("filename", ""),
			DownloadURL: element.SelectAttrValue("download_url", ""),
			Digest:      element.SelectAttrValue("digest", ""),
			FileSize:    element.SelectAttrValue("filesize", ""),
			Length:      element.SelectAttrValue("length", ""),
		})
	}
	return files
}

func parseInt(raw string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
}
