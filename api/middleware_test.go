package api_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/clockd/api"
	"github.com/warp/clockd/auth"
	"github.com/warp/clockd/generic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const idemTTL = time.Hour

// countingHandler answers 201 with a fixed body and counts calls.
type countingHandler struct {
	calls  int
	status int
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.calls++
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(h.status)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func idemRequest(key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/entries/submit", bytes.NewReader([]byte(`{}`)))
	req.Header.Set(api.IdempotencyHeader, key)
	ctx := auth.WithPrincipal(req.Context(), generic.Principal{EmployeeID: "emp-1"})
	return req.WithContext(ctx)
}

func TestIdempotency_FirstRequestIsStored(t *testing.T) {
	// GIVEN: no stored response for the key
	client, mock := redismock.NewClientMock()
	respKey := api.ResponseKey("emp-1", "k1")
	mock.ExpectGet(respKey).RedisNil()
	mock.ExpectSetNX(respKey+":lock", "1", 30*time.Second).SetVal(true)
	mock.ExpectSet(respKey, `{"status":201,"content_type":"application/json","body":"{\"ok\":true}"}`, idemTTL).SetVal("OK")
	mock.ExpectDel(respKey + ":lock").SetVal(1)

	next := &countingHandler{status: http.StatusCreated}
	mw := api.NewIdempotency(client, idemTTL, zap.NewNop()).Middleware(next)

	// WHEN
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, idemRequest("k1"))

	// THEN: the handler ran once and its response was stored
	assert.Equal(t, 1, next.calls)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	client, mock := redismock.NewClientMock()
	respKey := api.ResponseKey("emp-1", "k1")
	mock.ExpectGet(respKey).SetVal(`{"status":201,"content_type":"application/json","body":"{\"ok\":true}"}`)

	next := &countingHandler{status: http.StatusCreated}
	mw := api.NewIdempotency(client, idemTTL, zap.NewNop()).Middleware(next)

	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, idemRequest("k1"))

	assert.Zero(t, next.calls)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_ConcurrentDuplicateGetsConflict(t *testing.T) {
	client, mock := redismock.NewClientMock()
	respKey := api.ResponseKey("emp-1", "k1")
	mock.ExpectGet(respKey).RedisNil()
	mock.ExpectSetNX(respKey+":lock", "1", 30*time.Second).SetVal(false)

	next := &countingHandler{status: http.StatusCreated}
	mw := api.NewIdempotency(client, idemTTL, zap.NewNop()).Middleware(next)

	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, idemRequest("k1"))

	assert.Zero(t, next.calls)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_ServerErrorsAreNotStored(t *testing.T) {
	client, mock := redismock.NewClientMock()
	respKey := api.ResponseKey("emp-1", "k2")
	mock.ExpectGet(respKey).RedisNil()
	mock.ExpectSetNX(respKey+":lock", "1", 30*time.Second).SetVal(true)
	mock.ExpectDel(respKey + ":lock").SetVal(1)

	next := &countingHandler{status: http.StatusInternalServerError}
	mw := api.NewIdempotency(client, idemTTL, zap.NewNop()).Middleware(next)

	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, idemRequest("k2"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_RedisDownFallsThrough(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectGet(api.ResponseKey("emp-1", "k3")).SetErr(errors.New("connection refused"))

	next := &countingHandler{status: http.StatusCreated}
	mw := api.NewIdempotency(client, idemTTL, zap.NewNop()).Middleware(next)

	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, idemRequest("k3"))

	assert.Equal(t, 1, next.calls)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestIdempotency_IgnoresRequestsWithoutKey(t *testing.T) {
	client, mock := redismock.NewClientMock()
	next := &countingHandler{status: http.StatusOK}
	mw := api.NewIdempotency(client, idemTTL, zap.NewNop()).Middleware(next)

	req := httptest.NewRequest(http.MethodPost, "/api/entries", nil)
	req = req.WithContext(auth.WithPrincipal(context.Background(), generic.Principal{EmployeeID: "emp-1"}))
	mw.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, 1, next.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewIdempotencyDisabledWithoutClient(t *testing.T) {
	assert.Nil(t, api.NewIdempotency(nil, idemTTL, nil))
}

func TestAccessLog_IncludesAuthenticatedPrincipal(t *testing.T) {
	// GIVEN: the access log outside a route group that authenticates
	core, logs := observer.New(zapcore.InfoLevel)
	tokens := auth.NewTokens("test-secret-of-sufficient-length", "clockd-test", time.Hour)
	token, err := tokens.Issue(generic.Principal{EmployeeID: "emp-1"})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(api.AccessLog(zap.New(core)))
	r.Route("/api", func(r chi.Router) {
		r.Use(api.Authenticate(tokens))
		r.Get("/summary", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	})

	// WHEN
	req := httptest.NewRequest(http.MethodGet, "/api/summary", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(httptest.NewRecorder(), req)

	// THEN: one line carrying the principal
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "emp-1", fields["principal"])
	assert.EqualValues(t, http.StatusOK, fields["status"])
}

func TestAccessLog_AnonymousRequestHasNoPrincipal(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := api.AccessLog(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, 1, logs.Len())
	assert.NotContains(t, logs.All()[0].ContextMap(), "principal")
}
