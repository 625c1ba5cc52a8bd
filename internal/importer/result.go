package importer

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/coursepack/internal/courses"
)

// Severity grades an advisory.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Advisory is one human readable message produced while importing.
type Advisory struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Result is what an import hands back to its caller. Course is nil when the import was
// rejected or when the upload carried no sections.
type Result struct {
	Outcome    Outcome
	Course     *courses.Course
	Advisories []Advisory
}

// advisoryLog accumulates advisories for a single import.
type advisoryLog struct {
	items []Advisory
}

func (log *advisoryLog) add(severity Severity, format string, args ...any) {
	log.items = append(log.items, Advisory{Severity: severity, Message: fmt.Sprintf(format, args...)})
}

func (log *advisoryLog) info(format string, args ...any) {
	log.add(SeverityInfo, format, args...)
}

func (log *advisoryLog) warn(format string, args ...any) {
	log.add(SeverityWarning, format, args...)
}

func (log *advisoryLog) fail(format string, args ...any) {
	log.add(SeverityError, format, args...)
}

func (log *advisoryLog) countBySeverity() map[Severity]int {
	counts := make(map[Severity]int, 3)
	for _, item := range log.items {
		counts[item.Severity]++
	}
	return counts
}
