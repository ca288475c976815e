package transporthttp

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"example.com/userexports/internal/domain"
)

// ConsumerHeader identifies the caller of every /exports endpoint.
const ConsumerHeader = "X-Consumer-ID"

type ctxKey int

const consumerKey ctxKey = iota

// ConsumerID returns the id stored by RequireConsumerID.
func ConsumerID(ctx context.Context) string {
	id, _ := ctx.Value(consumerKey).(string)
	return id
}

// RequireConsumerID rejects requests without a usable X-Consumer-ID with 400
// before any job is created.
func RequireConsumerID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(ConsumerHeader)
		if errs := domain.ValidateConsumerID(id); len(errs) > 0 {
			prob := map[string][]string{}
			for _, fe := range errs {
				prob[fe.Field] = append(prob[fe.Field], fe.Msg)
			}
			WriteProblem(w, http.StatusBadRequest, "invalid consumer id", ConsumerHeader+" header is required and must be a plain identifier", prob)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), consumerKey, id)))
	})
}

// BodyLimit limits request bodies to maxBytes.
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// APIKeyAuth allows an optional list of API keys; if the list is empty, auth is bypassed.
// Keys are expected in header: X-API-Key.
func APIKeyAuth(allowed map[string]struct{}) func(http.Handler) http.Handler {
	if len(allowed) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if _, ok := allowed[key]; !ok {
				WriteProblem(w, http.StatusUnauthorized, "unauthorized", "invalid or missing API key", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Token bucket shared by every handler wrapped with the same limiter.
type rateState struct {
	mu             sync.Mutex
	tokens         float64
	lastRefillNano int64
}

// RateLimitPerMinute caps wrapped handlers to limitPerMin requests per minute.
// A non-positive limit disables it.
func RateLimitPerMinute(limitPerMin int, clock func() time.Time) func(http.Handler) http.Handler {
	if limitPerMin <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	state := &rateState{tokens: float64(limitPerMin), lastRefillNano: clock().UnixNano()}
	capacity := float64(limitPerMin)
	refillPerSec := float64(limitPerMin) / 60.0

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state.mu.Lock()
			now := clock()
			elapsed := float64(now.UnixNano()-state.lastRefillNano) / 1e9
			state.lastRefillNano = now.UnixNano()

			state.tokens += elapsed * refillPerSec
			if state.tokens > capacity {
				state.tokens = capacity
			}
			if state.tokens < 1.0 {
				state.mu.Unlock()
				w.Header().Set("Retry-After", "3")
				WriteProblem(w, http.StatusTooManyRequests, "rate limit exceeded", "try again later", nil)
				return
			}
			state.tokens -= 1.0
			state.mu.Unlock()
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// RequestLog logs one line per request.
func RequestLog(log *zap.Logger, clock func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := clock()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == "/metrics" {
				return
			}
			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", clock().Sub(start)),
			)
		})
	}
}

// DrainBody fully reads and closes request bodies (handler helper).
func DrainBody(r *http.Request) {
	if r.Body != nil {
		_, _ = io.Copy(io.Discard, r.Body)
		_ = r.Body.Close()
	}
}
