package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// FieldError represents a single field's validation error.
type FieldError struct {
	Field string `json:"field"`
	Msg   string `json:"message"`
}

func (e FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Msg) }

// maxFilenameLen is the common file name limit (NAME_MAX on Linux).
const maxFilenameLen = 255

// MaxConsumerIDLen keeps every generated output file name within
// maxFilenameLen bytes, measured against the longest export type.
const MaxConsumerIDLen = maxFilenameLen - len("incremental__"+FilenameTimeLayout+".csv")

// ValidateConsumerID checks an X-Consumer-ID value. The id ends up in a file
// name, so path separators and control characters are refused.
func ValidateConsumerID(id string) []FieldError {
	var errs []FieldError
	if strings.TrimSpace(id) == "" {
		return append(errs, FieldError{"consumer_id", "required"})
	}
	if len(id) > MaxConsumerIDLen {
		errs = append(errs, FieldError{"consumer_id", fmt.Sprintf("max length %d", MaxConsumerIDLen)})
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		errs = append(errs, FieldError{"consumer_id", "must not contain path separators"})
	}
	if strings.IndexFunc(id, unicode.IsControl) >= 0 {
		errs = append(errs, FieldError{"consumer_id", "must not contain control characters"})
	}
	return errs
}

// ValidateJob performs the checks a dispatcher relies on before queueing.
func ValidateJob(j Job) []FieldError {
	var errs []FieldError
	if j.ID == "" {
		errs = append(errs, FieldError{"job_id", "required"})
	}
	errs = append(errs, ValidateConsumerID(j.ConsumerID)...)
	if !j.Type.Valid() {
		errs = append(errs, FieldError{"export_type", fmt.Sprintf("unknown export type %q", j.Type)})
	}
	if j.OutputFilename == "" {
		errs = append(errs, FieldError{"output_filename", "required"})
	}
	return errs
}

// FilenameTimeLayout renders the UTC trigger time inside output file names.
const FilenameTimeLayout = "20060102T150405Z"

// OutputFilename builds {type}_{consumer}_{YYYYMMDDTHHMMSSZ}.csv with spaces in
// the consumer id replaced by underscores.
func OutputFilename(t ExportType, consumerID string, now time.Time) string {
	safe := strings.ReplaceAll(consumerID, " ", "_")
	return fmt.Sprintf("%s_%s_%s.csv", t, safe, now.UTC().Format(FilenameTimeLayout))
}
