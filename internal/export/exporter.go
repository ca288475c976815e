// Package export implements the watermark-driven export strategies.
//
// Every strategy has the same shape: read the consumer watermark (incremental
// and delta only), select rows in updated_at order, write them to CSV, then
// move the watermark to the max updated_at of the rows written. The caller
// owns the transaction that Source runs in; the CSV file is written outside
// of it and survives a rollback.
package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"example.com/userexports/internal/domain"
)

var ErrUnknownType = errors.New("export: unknown export type")

// Source is the transactional view an export runs against.
type Source interface {
	GetWatermark(ctx context.Context, consumerID string) (*domain.Watermark, error)
	UpsertWatermark(ctx context.Context, consumerID string, lastExportedAt time.Time) error
	SelectUsers(ctx context.Context, sel domain.Selection) ([]domain.User, error)
}

// Outcome is the terminal state of a successful export call.
type Outcome string

const (
	OutcomeNoop    Outcome = "noop"
	OutcomeSuccess Outcome = "success"
)

type Result struct {
	Outcome   Outcome
	Rows      int
	Path      string
	Watermark time.Time
}

type Exporter struct {
	files FileWriter
}

func New(outputDir string) *Exporter {
	return &Exporter{files: FileWriter{Dir: outputDir}}
}

// Dir is the directory export files are written to.
func (e *Exporter) Dir() string { return e.files.Dir }

// Run executes one export of type t for consumerID.
// Incremental and delta without a watermark are a no-op, not a full export.
func (e *Exporter) Run(ctx context.Context, src Source, t domain.ExportType, consumerID, filename string) (Result, error) {
	if !t.Valid() {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}

	var wm *domain.Watermark
	if t.NeedsWatermark() {
		var err error
		wm, err = src.GetWatermark(ctx, consumerID)
		if err != nil {
			return Result{}, err
		}
		if wm == nil {
			return Result{Outcome: OutcomeNoop}, nil
		}
	}

	users, err := src.SelectUsers(ctx, domain.SelectionFor(t, wm))
	if err != nil {
		return Result{}, err
	}
	if len(users) == 0 {
		return Result{Outcome: OutcomeNoop}, nil
	}

	path, n, err := e.files.Write(filename, users, t == domain.ExportDelta)
	if err != nil {
		return Result{Path: path}, err
	}

	next := MaxUpdatedAt(users)
	if err := src.UpsertWatermark(ctx, consumerID, next); err != nil {
		return Result{Path: path, Rows: n}, err
	}
	return Result{Outcome: OutcomeSuccess, Rows: n, Path: path, Watermark: next}, nil
}

func (e *Exporter) Full(ctx context.Context, src Source, consumerID, filename string) (int, error) {
	res, err := e.Run(ctx, src, domain.ExportFull, consumerID, filename)
	return res.Rows, err
}

func (e *Exporter) Incremental(ctx context.Context, src Source, consumerID, filename string) (int, error) {
	res, err := e.Run(ctx, src, domain.ExportIncremental, consumerID, filename)
	return res.Rows, err
}

func (e *Exporter) Delta(ctx context.Context, src Source, consumerID, filename string) (int, error) {
	res, err := e.Run(ctx, src, domain.ExportDelta, consumerID, filename)
	return res.Rows, err
}

// MaxUpdatedAt returns the latest updated_at in users, zero for none.
func MaxUpdatedAt(users []domain.User) time.Time {
	var latest time.Time
	for _, u := range users {
		if u.UpdatedAt.After(latest) {
			latest = u.UpdatedAt
		}
	}
	return latest
}
