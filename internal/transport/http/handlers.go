package transporthttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"example.com/userexports/internal/config"
	"example.com/userexports/internal/domain"
	"example.com/userexports/internal/export"
	"example.com/userexports/internal/jobs"
)

// WatermarkReader is the read side used by the watermark endpoints.
type WatermarkReader interface {
	GetWatermark(ctx context.Context, consumerID string) (*domain.Watermark, error)
	CountUsers(ctx context.Context, sel domain.Selection) (int64, error)
}

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ready(ctx context.Context) error
}

type ServerDeps struct {
	Cfg        config.Config
	Dispatcher jobs.Dispatcher
	Watermarks WatermarkReader
	DB         Pinger
	Metrics    http.Handler
	Log        *zap.Logger
	Now        func() time.Time
	NewID      func() string
}

// maxTriggerBody bounds the (ignored) body of export triggers.
const maxTriggerBody = 4 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// --- Health ---

type healthResp struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (d *ServerDeps) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResp{Status: "ok", Timestamp: d.Now().UTC().Format(time.RFC3339Nano)})
}

func (d *ServerDeps) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := d.DB.Ready(r.Context()); err != nil {
		WriteProblem(w, http.StatusServiceUnavailable, "not ready", "database not reachable", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Export triggers ---

type exportJobResp struct {
	JobID          string `json:"jobId"`
	Status         string `json:"status"`
	ExportType     string `json:"exportType"`
	OutputFilename string `json:"outputFilename"`
}

// HandleTrigger returns the POST /exports/{type} handler. The job is handed
// to the dispatcher and the response goes out before it runs.
func (d *ServerDeps) HandleTrigger(t domain.ExportType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer DrainBody(r)

		consumerID := ConsumerID(r.Context())
		job := domain.Job{
			ID:             d.NewID(),
			ConsumerID:     consumerID,
			Type:           t,
			OutputFilename: domain.OutputFilename(t, consumerID, d.Now()),
		}

		if err := d.Dispatcher.Submit(r.Context(), job); err != nil {
			switch {
			case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrClosed):
				w.Header().Set("Retry-After", "5")
				WriteProblem(w, http.StatusServiceUnavailable, "overloaded", "export queue is full, please retry", nil)
			case errors.Is(err, jobs.ErrDuplicateJob):
				WriteProblem(w, http.StatusConflict, "duplicate job", "an identical export is already queued", nil)
			default:
				d.Log.Error("dispatch failed", zap.String("jobId", job.ID), zap.Error(err))
				WriteProblem(w, http.StatusInternalServerError, "dispatch error", "could not start export", nil)
			}
			return
		}
		d.Log.Debug("export queued", zap.String("jobId", job.ID), zap.String("consumerId", consumerID), zap.String("exportType", string(t)))

		writeJSON(w, http.StatusAccepted, exportJobResp{
			JobID:          job.ID,
			Status:         "started",
			ExportType:     string(t),
			OutputFilename: job.OutputFilename,
		})
	}
}

// --- Watermark ---

type watermarkResp struct {
	ConsumerID     string `json:"consumerId"`
	LastExportedAt string `json:"lastExportedAt"`
}

func (d *ServerDeps) loadWatermark(w http.ResponseWriter, r *http.Request) (*domain.Watermark, bool) {
	wm, err := d.Watermarks.GetWatermark(r.Context(), ConsumerID(r.Context()))
	if err != nil {
		d.Log.Error("watermark lookup failed", zap.Error(err))
		WriteProblem(w, http.StatusInternalServerError, "query error", "could not read watermark", nil)
		return nil, false
	}
	if wm == nil {
		WriteProblem(w, http.StatusNotFound, "not found", "No watermark for this consumer", nil)
		return nil, false
	}
	return wm, true
}

func (d *ServerDeps) HandleGetWatermark(w http.ResponseWriter, r *http.Request) {
	wm, ok := d.loadWatermark(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, watermarkResp{
		ConsumerID:     wm.ConsumerID,
		LastExportedAt: wm.LastExportedAt.UTC().Format(export.TimeLayout),
	})
}

type pendingResp struct {
	watermarkResp
	PendingIncremental int64 `json:"pendingIncremental"`
	PendingDelta       int64 `json:"pendingDelta"`
}

// HandleGetPending reports how many rows the next incremental and delta
// exports would pick up.
func (d *ServerDeps) HandleGetPending(w http.ResponseWriter, r *http.Request) {
	wm, ok := d.loadWatermark(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	inc, err := d.Watermarks.CountUsers(ctx, domain.SelectionFor(domain.ExportIncremental, wm))
	if err != nil {
		d.Log.Error("pending count failed", zap.Error(err))
		WriteProblem(w, http.StatusInternalServerError, "query error", "could not count pending rows", nil)
		return
	}
	delta, err := d.Watermarks.CountUsers(ctx, domain.SelectionFor(domain.ExportDelta, wm))
	if err != nil {
		d.Log.Error("pending count failed", zap.Error(err))
		WriteProblem(w, http.StatusInternalServerError, "query error", "could not count pending rows", nil)
		return
	}
	writeJSON(w, http.StatusOK, pendingResp{
		watermarkResp: watermarkResp{
			ConsumerID:     wm.ConsumerID,
			LastExportedAt: wm.LastExportedAt.UTC().Format(export.TimeLayout),
		},
		PendingIncremental: inc,
		PendingDelta:       delta,
	})
}

// --- Router ---

func (d *ServerDeps) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", d.HandleHealth)
	mux.HandleFunc("GET /readyz", d.HandleReadyz)
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics)
	}

	auth := APIKeyAuth(d.Cfg.APIKeys)
	limit := RateLimitPerMinute(d.Cfg.RateLimitExportsPerMin, d.Now)

	for _, t := range domain.ExportTypes {
		var h http.Handler = d.HandleTrigger(t)
		h = RequireConsumerID(h)
		h = BodyLimit(maxTriggerBody)(h)
		h = limit(h)
		h = auth(h)
		mux.Handle("POST /exports/"+string(t), h)
	}

	mux.Handle("GET /exports/watermark", auth(RequireConsumerID(http.HandlerFunc(d.HandleGetWatermark))))
	mux.Handle("GET /exports/pending", auth(RequireConsumerID(http.HandlerFunc(d.HandleGetPending))))

	return RequestLog(d.Log, d.Now)(mux)
}
