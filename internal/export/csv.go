package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"example.com/userexports/internal/domain"
)

// TimeLayout is how timestamps are written. It parses back to the same instant.
const TimeLayout = time.RFC3339Nano

// ErrUnsafeFilename is returned for names that would leave the output directory.
var ErrUnsafeFilename = errors.New("export: output filename escapes output directory")

var (
	plainHeader     = []string{"id", "name", "email", "created_at", "updated_at", "is_deleted"}
	annotatedHeader = append([]string{"operation"}, plainHeader...)
)

// Header returns the header row for the plain or annotated format.
func Header(annotate bool) []string {
	if annotate {
		return annotatedHeader
	}
	return plainHeader
}

func userRecord(u domain.User) []string {
	return []string{
		strconv.FormatInt(u.ID, 10),
		u.Name,
		u.Email,
		u.CreatedAt.UTC().Format(TimeLayout),
		u.UpdatedAt.UTC().Format(TimeLayout),
		strconv.FormatBool(u.IsDeleted),
	}
}

// WriteUsers renders users as CSV. Annotated output carries the derived
// operation in the first column. It returns the number of data rows.
func WriteUsers(w io.Writer, users []domain.User, annotate bool) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header(annotate)); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	n := 0
	for _, u := range users {
		rec := userRecord(u)
		if annotate {
			rec = append([]string{string(domain.OperationOf(u))}, rec...)
		}
		if err := cw.Write(rec); err != nil {
			return n, fmt.Errorf("write row %d: %w", n, err)
		}
		n++
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return n, fmt.Errorf("flush csv: %w", err)
	}
	return n, nil
}

// ParseUser reads back a plain-format record.
func ParseUser(rec []string) (domain.User, error) {
	var u domain.User
	if len(rec) != len(plainHeader) {
		return u, fmt.Errorf("expected %d fields, got %d", len(plainHeader), len(rec))
	}
	var err error
	if u.ID, err = strconv.ParseInt(rec[0], 10, 64); err != nil {
		return u, fmt.Errorf("id: %w", err)
	}
	u.Name, u.Email = rec[1], rec[2]
	if u.CreatedAt, err = time.Parse(TimeLayout, rec[3]); err != nil {
		return u, fmt.Errorf("created_at: %w", err)
	}
	if u.UpdatedAt, err = time.Parse(TimeLayout, rec[4]); err != nil {
		return u, fmt.Errorf("updated_at: %w", err)
	}
	if u.IsDeleted, err = strconv.ParseBool(rec[5]); err != nil {
		return u, fmt.Errorf("is_deleted: %w", err)
	}
	return u, nil
}

// FileWriter writes export files below Dir.
type FileWriter struct {
	Dir string
}

// Path resolves filename inside Dir.
func (fw FileWriter) Path(filename string) (string, error) {
	if filename == "" || !filepath.IsLocal(filename) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeFilename, filename)
	}
	return filepath.Join(fw.Dir, filename), nil
}

// Write creates missing parent directories and replaces any existing file.
func (fw FileWriter) Write(filename string, users []domain.User, annotate bool) (path string, n int, err error) {
	path, err = fw.Path(filename)
	if err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return path, 0, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return path, 0, fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	n, err = WriteUsers(f, users, annotate)
	return path, n, err
}
