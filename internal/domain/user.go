package domain

import "time"

// User is a row of the users table. Exports only ever read it.
type User struct {
	ID        int64
	Name      string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
	IsDeleted bool
}

// Watermark is the per-consumer export boundary.
// LastExportedAt is the max users.updated_at of the last successful export.
type Watermark struct {
	ConsumerID     string
	LastExportedAt time.Time
	UpdatedAt      time.Time
}

// ExportType selects one of the three export strategies.
type ExportType string

const (
	ExportFull        ExportType = "full"
	ExportIncremental ExportType = "incremental"
	ExportDelta       ExportType = "delta"
)

// ExportTypes lists the supported types in trigger order.
var ExportTypes = []ExportType{ExportFull, ExportIncremental, ExportDelta}

func (t ExportType) Valid() bool {
	switch t {
	case ExportFull, ExportIncremental, ExportDelta:
		return true
	}
	return false
}

// NeedsWatermark reports whether the type selects relative to a prior export.
func (t ExportType) NeedsWatermark() bool {
	return t == ExportIncremental || t == ExportDelta
}

// Operation is the change tag written in the first column of delta exports.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// OperationOf derives the delta tag of a row. Deletion wins over the
// created/updated comparison, which is exact.
func OperationOf(u User) Operation {
	if u.IsDeleted {
		return OpDelete
	}
	if u.CreatedAt.Equal(u.UpdatedAt) {
		return OpInsert
	}
	return OpUpdate
}

// Selection describes which users rows an export reads.
// A nil Since means no lower bound.
type Selection struct {
	IncludeDeleted bool
	Since          *time.Time
}

// SelectionFor returns the row filter for an export type. Types that need a
// watermark select relative to wm; callers must not pass a nil wm for them.
func SelectionFor(t ExportType, wm *Watermark) Selection {
	switch t {
	case ExportIncremental:
		since := wm.LastExportedAt
		return Selection{Since: &since}
	case ExportDelta:
		since := wm.LastExportedAt
		return Selection{IncludeDeleted: true, Since: &since}
	default:
		return Selection{}
	}
}

// Job is one export request, created by a trigger and run asynchronously.
type Job struct {
	ID             string     `json:"job_id"`
	ConsumerID     string     `json:"consumer_id"`
	Type           ExportType `json:"export_type"`
	OutputFilename string     `json:"output_filename"`
}
