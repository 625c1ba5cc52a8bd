package importer

import (
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/coursepack/internal/archive"
	"github.com/MarcoPoloResearchLab/coursepack/internal/manifest"
)

var (
	// ErrInvalidArchive indicates a corrupt or unsafe archive.
	ErrInvalidArchive = archive.ErrInvalidArchive
	// ErrArchiveTooLarge indicates the upload or an entry exceeded the configured bound.
	ErrArchiveTooLarge = archive.ErrArchiveTooLarge
	// ErrEmptyArchive indicates the archive has no module directory.
	ErrEmptyArchive = archive.ErrEmptyArchive
	// ErrMissingManifest indicates the module root has no module.xml.
	ErrMissingManifest = manifest.ErrMissingManifest
	// ErrInvalidManifest indicates module.xml is unreadable or lacks required meta fields.
	ErrInvalidManifest = manifest.ErrMalformedManifest
	// ErrInvalidUpload indicates the upload has no usable file name.
	ErrInvalidUpload = errors.New("importer: invalid upload file name")
	// ErrOwnershipViolation indicates the uploader does not own the existing course.
	ErrOwnershipViolation = errors.New("importer: course is owned by another user")
	// ErrStaleVersion indicates the manifest version does not advance the stored version.
	ErrStaleVersion = errors.New("importer: course version is not newer than the stored version")
	// ErrImportInProgress indicates another import of the same short name holds the lock.
	ErrImportInProgress = errors.New("importer: course import already in progress")

	errMissingStore    = errors.New("course store is required")
	errMissingArchives = errors.New("archive store is required")
)

// ImportError carries a stable "<operation>.<reason>" code alongside the cause.
type ImportError struct {
	code string
	err  error
}

func (e *ImportError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ImportError) Unwrap() error {
	return e.err
}

func (e *ImportError) Code() string {
	return e.code
}

const (
	opServiceNew = "importer.service.new"
	opImport     = "importer.import"
	opExtract    = "importer.extract"
	opManifest   = "importer.manifest"
	opLock       = "importer.lock"
	opResolve    = "importer.resolve"
	opReconcile  = "importer.reconcile"
	opCleanup    = "importer.cleanup"
	opExport     = "importer.export"
)

func newImportError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ImportError{code: code, err: cause}
}

// Outcome is the coarse classification of an import.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeClientError     Outcome = "client_error"
	OutcomePermissionError Outcome = "permission_error"
	OutcomeServerError     Outcome = "server_error"
)

// OutcomeFor classifies an import error. A nil error is a success.
func OutcomeFor(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrOwnershipViolation):
		return OutcomePermissionError
	case errors.Is(err, ErrInvalidArchive):
		return OutcomeServerError
	case errors.Is(err, ErrArchiveTooLarge),
		errors.Is(err, ErrEmptyArchive),
		errors.Is(err, ErrMissingManifest),
		errors.Is(err, ErrInvalidManifest),
		errors.Is(err, ErrInvalidUpload),
		errors.Is(err, ErrStaleVersion),
		errors.Is(err, ErrImportInProgress):
		return OutcomeClientError
	default:
		return OutcomeServerError
	}
}

// UserMessage returns the advisory text shown to the uploader for an aborted import.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidArchive):
		return "Invalid zip file"
	case errors.Is(err, ErrArchiveTooLarge):
		return "The uploaded file exceeds the maximum permitted size."
	case errors.Is(err, ErrEmptyArchive):
		return "Invalid course zip file"
	case errors.Is(err, ErrMissingManifest):
		return "Zip file does not contain a module.xml file"
	case errors.Is(err, ErrInvalidManifest):
		return "The module.xml file could not be read."
	case errors.Is(err, ErrInvalidUpload):
		return "The uploaded file name is not valid."
	case errors.Is(err, ErrOwnershipViolation):
		return "Sorry, only the original owner may update this course"
	case errors.Is(err, ErrStaleVersion):
		return "A newer version of this course already exists"
	case errors.Is(err, ErrImportInProgress):
		return "This course is already being imported. Please try again shortly."
	default:
		return "The course could not be imported."
	}
}
