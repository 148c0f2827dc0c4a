package schema

import (
	"fmt"
	"strings"
)

// Issue paths address a field of a WorkflowDefinition by its JSON names:
// "conditions[2].operator", "actions[0].source_attribute_id",
// "schedule.config.cron". PathRoot addresses the definition as a whole.
const (
	PathRoot       = "/"
	PathConditions = "conditions"
	PathActions    = "actions"
	PathSchedule   = "schedule"
)

// ConditionPath addresses field of the i-th condition, or the condition
// itself when field is empty.
func ConditionPath(i int, field string) string { return indexedPath(PathConditions, i, field) }

// ActionPath addresses field of the i-th action.
func ActionPath(i int, field string) string { return indexedPath(PathActions, i, field) }

// SchedulePath addresses a dotted field under the schedule.
func SchedulePath(field ...string) string {
	return strings.Join(append([]string{PathSchedule}, field...), ".")
}

func indexedPath(section string, i int, field string) string {
	p := fmt.Sprintf("%s[%d]", section, i)
	if field != "" {
		p += "." + field
	}
	return p
}

type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is one problem found in a definition.
type ValidationIssue struct {
	Path     string             `json:"path"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

func (i ValidationIssue) String() string {
	if i.Path == "" || i.Path == PathRoot {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// ValidationResult collects the issues of every validation stage. Warnings
// never block a save.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

func (r *ValidationResult) Valid() bool { return len(r.Errors) == 0 }

func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityError})
}

func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityWarning})
}

// Merge appends other's issues. nil is a no-op.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// At returns the errors and warnings at path or nested under it, so
// At("conditions[1]") covers "conditions[1].value" but not "conditions[10]".
func (r *ValidationResult) At(path string) []ValidationIssue {
	var out []ValidationIssue
	for _, list := range [][]ValidationIssue{r.Errors, r.Warnings} {
		for _, is := range list {
			if is.Path == path || strings.HasPrefix(is.Path, path+".") || strings.HasPrefix(is.Path, path+"[") {
				out = append(out, is)
			}
		}
	}
	return out
}

// WarningMessages renders the warnings as "path: message" lines.
func (r *ValidationResult) WarningMessages() []string {
	msgs := make([]string, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		msgs = append(msgs, w.String())
	}
	return msgs
}

// ToError returns a VALIDATION_ERROR naming the first error's location, or
// nil when the result is valid. Every issue travels in Details.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}
	msg := r.Errors[0].String()
	if n := len(r.Errors); n > 1 {
		msg = fmt.Sprintf("%d validation errors; first %s", n, msg)
	}
	return NewError(ErrCodeValidation, msg).WithDetails(map[string]any{
		"error_count":   len(r.Errors),
		"warning_count": len(r.Warnings),
		"errors":        r.Errors,
		"warnings":      r.Warnings,
	})
}
