/*
middleware.go - Request pipeline pieces

PURPOSE:
  Everything that runs around a handler:

    AccessLog     zap line per request (status, bytes, duration, request id)
    Authenticate  Bearer JWT -> generic.Principal in the context
    RateLimiter   token bucket per principal (golang.org/x/time/rate)
    Idempotency   Idempotency-Key replay for POST, backed by Redis

IDEMPOTENCY:
  A POST carrying an Idempotency-Key header is executed at most once per
  (principal, key) within the TTL. The first request takes a short Redis
  lock (SETNX), runs, and stores its status and body. Later requests with
  the same key get the stored response replayed. A concurrent duplicate
  gets 409 while the first is still running. 5xx responses are not
  stored, so the client may retry them.

SEE ALSO:
  - server.go: Order of the middleware
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/warp/clockd/auth"
	"github.com/warp/clockd/generic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// =============================================================================
// ACCESS LOG
// =============================================================================

// accessEntry collects fields that inner middleware learns about the
// request. Authenticate runs in a nested route group and fills it in.
type accessEntry struct {
	principal generic.EmployeeID
}

type accessEntryKey struct{}

func notePrincipal(ctx context.Context, p generic.Principal) {
	if e, ok := ctx.Value(accessEntryKey{}).(*accessEntry); ok {
		e.principal = p.EmployeeID
	}
}

// AccessLog logs one line per request.
func AccessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logger.Named("api.http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			entry := &accessEntry{}
			r = r.WithContext(context.WithValue(r.Context(), accessEntryKey{}, entry))
			defer func() {
				fields := []zap.Field{
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				}
				if entry.principal != "" {
					fields = append(fields, zap.String("principal", string(entry.principal)))
				}
				logger.Info("request", fields...)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

// Authenticate requires a valid bearer token and stores its principal.
func Authenticate(tokens *auth.Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Missing bearer token", Kind: "unauthenticated"})
				return
			}
			p, err := tokens.Parse(raw)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Invalid token", Kind: "unauthenticated"})
				return
			}
			notePrincipal(r.Context(), p)
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}

// =============================================================================
// RATE LIMITING
// =============================================================================

// RateLimiter keeps one token bucket per principal.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter returns nil when rps is zero, which disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{limit: rate.Limit(rps), burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[key] = l
	}
	return l
}

// Middleware keys on the principal, falling back to the remote address.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if p, ok := auth.FromContext(r.Context()); ok {
			key = string(p.EmployeeID)
		}
		if !rl.limiter(key).Allow() {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "Too many requests", Kind: "rate_limited"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

const (
	IdempotencyHeader  = "Idempotency-Key"
	idempotencyLockTTL = 30 * time.Second
)

type Idempotency struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

// NewIdempotency returns nil when client is nil, which disables replay.
func NewIdempotency(client redis.Cmdable, ttl time.Duration, logger *zap.Logger) *Idempotency {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Idempotency{client: client, ttl: ttl, logger: logger.Named("api.idempotency")}
}

type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        string `json:"body"`
}

// ResponseKey is the Redis key holding the stored response.
func ResponseKey(principal, key string) string {
	return "clockd:idempotency:" + principal + ":" + key
}

func lockKey(principal, key string) string {
	return ResponseKey(principal, key) + ":lock"
}

// recorder tees the response into a buffer.
type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rec *recorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *recorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	rec.body.Write(b)
	return rec.ResponseWriter.Write(b)
}

func (i *Idempotency) Middleware(next http.Handler) http.Handler {
	if i == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(IdempotencyHeader)
		p, authenticated := auth.FromContext(r.Context())
		if r.Method != http.MethodPost || key == "" || !authenticated {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		respKey := ResponseKey(string(p.EmployeeID), key)

		stored, err := i.client.Get(ctx, respKey).Result()
		switch {
		case err == nil:
			var cached cachedResponse
			if jsonErr := json.Unmarshal([]byte(stored), &cached); jsonErr == nil {
				w.Header().Set("Content-Type", cached.ContentType)
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(cached.Status)
				_, _ = w.Write([]byte(cached.Body))
				return
			}
			i.logger.Warn("discarding unreadable idempotent response", zap.String("key", respKey))
		case !errors.Is(err, redis.Nil):
			// Redis down: serve without replay protection.
			i.logger.Warn("idempotency lookup failed", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		lock := lockKey(string(p.EmployeeID), key)
		acquired, err := i.client.SetNX(ctx, lock, "1", idempotencyLockTTL).Result()
		if err != nil {
			i.logger.Warn("idempotency lock failed", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if !acquired {
			writeJSON(w, http.StatusConflict, ErrorResponse{
				Error: "A request with this idempotency key is in progress",
				Kind:  "idempotency_conflict",
			})
			return
		}
		defer func() {
			if err := i.client.Del(ctx, lock).Err(); err != nil {
				i.logger.Warn("idempotency unlock failed", zap.Error(err))
			}
		}()

		rec := &recorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 || rec.status >= http.StatusInternalServerError {
			return
		}
		payload, err := json.Marshal(cachedResponse{
			Status:      rec.status,
			ContentType: w.Header().Get("Content-Type"),
			Body:        rec.body.String(),
		})
		if err != nil {
			return
		}
		if err := i.client.Set(ctx, respKey, string(payload), i.ttl).Err(); err != nil {
			i.logger.Warn("idempotency store failed", zap.Error(err))
		}
	})
}
