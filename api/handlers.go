/*
handlers.go - HTTP API handlers for the entry workflow

PURPOSE:
  Exposes the workflow engine, leave booker and aggregator via REST.
  Handles HTTP request/response, JSON serialization and boundary
  validation, and delegates everything else to the services.

ENDPOINTS:
  Entries:
    POST   /api/entries                 Create draft
    PUT    /api/entries/{id}            Update draft
    DELETE /api/entries/{id}            Delete draft
    POST   /api/entries/{id}/revise     Edit a rejected entry
    GET    /api/entries                 Own entries (?period_id=&status=&from=&to=)
    GET    /api/entries/{id}/history    Audit trail
    POST   /api/entries/submit          Submit drafts (all-or-nothing)
    POST   /api/entries/resubmit        Resubmit rejected entries (all-or-nothing)

  Review:
    GET    /api/review/pending          Submitted entries of reviewable teams
    POST   /api/review                  Approve or reject (per item)

  Leave:
    GET    /api/leave/types             Leave types (?include_historical=)
    POST   /api/leave/bookings          Book a date range
    GET    /api/leave/bookings          Leave overview (?from=&to=)

  Summary:
    GET    /api/summary                 Entries and total (?from=&to=&owner_id=)
    GET    /api/summary/totals          Grouped totals (?from=&to=&owner_id=&by_category=)

REQUEST FLOW:
  1. Read the principal placed in the context by the auth middleware
  2. Decode and validate the body (400 malformed, 422 invalid)
  3. Call the service
  4. Serialize the DTO, or map the error kind to a status

ERROR HANDLING:
  - 400: Malformed JSON
  - 401: Missing or invalid token
  - 403: forbidden
  - 404: not_found
  - 409: invalid_state (including lost concurrent updates)
  - 422: validation
  - 429: Rate limited
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - middleware.go: Auth, rate limit, idempotency, access log
  - server.go: Router setup
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/warp/clockd/auth"
	"github.com/warp/clockd/generic"
	"github.com/warp/clockd/summary"
	"github.com/warp/clockd/timeoff"
	"github.com/warp/clockd/workflow"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports store health for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine     *workflow.Engine
	Booker     *timeoff.Booker
	Aggregator *summary.Aggregator
	Health     Pinger // optional

	logger   *zap.Logger
	validate *validator.Validate
}

func NewHandler(engine *workflow.Engine, booker *timeoff.Booker, agg *summary.Aggregator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.L()
	}
	return &Handler{
		Engine:     engine,
		Booker:     booker,
		Aggregator: agg,
		logger:     logger.Named("api.http"),
		validate:   validator.New(),
	}
}

func principal(r *http.Request) generic.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}

// =============================================================================
// ENTRY HANDLERS
// =============================================================================

// CreateEntry creates a draft.
// POST /api/entries
func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	var req DraftRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	in, err := req.toInput()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.Engine.SaveDraft(r.Context(), principal(r), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDraftResponse(res))
}

// UpdateEntry replaces the content of a draft.
// PUT /api/entries/{id}
func (h *Handler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	h.editEntry(w, r, h.Engine.SaveDraft)
}

// ReviseEntry edits a rejected entry in place.
// POST /api/entries/{id}/revise
func (h *Handler) ReviseEntry(w http.ResponseWriter, r *http.Request) {
	h.editEntry(w, r, func(ctx context.Context, p generic.Principal, in workflow.DraftInput) (workflow.DraftResult, error) {
		return h.Engine.ReviseRejected(ctx, p, *in.ID, in)
	})
}

func (h *Handler) editEntry(w http.ResponseWriter, r *http.Request, save func(context.Context, generic.Principal, workflow.DraftInput) (workflow.DraftResult, error)) {
	var req DraftRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	in, err := req.toInput()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	id := generic.EntryID(chi.URLParam(r, "id"))
	in.ID = &id

	res, err := save(r.Context(), principal(r), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftResponse(res))
}

// DeleteEntry removes a draft.
// DELETE /api/entries/{id}
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	id := generic.EntryID(chi.URLParam(r, "id"))
	if err := h.Engine.DeleteDraft(r.Context(), principal(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListEntries returns the caller's own entries.
// GET /api/entries?period_id=&status=&from=&to=
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f workflow.ListFilter
	if v := q.Get("period_id"); v != "" {
		period := generic.PeriodID(v)
		f.PeriodID = &period
	}
	statuses, err := parseStatuses(q["status"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	f.Statuses = statuses
	if f.From, err = optionalDate(q.Get("from"), "from"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if f.To, err = optionalDate(q.Get("to"), "to"); err != nil {
		h.writeError(w, r, err)
		return
	}

	list, err := h.Engine.ListOwn(r.Context(), principal(r), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryListDTO(list))
}

// EntryHistory returns the audit trail of one entry.
// GET /api/entries/{id}/history
func (h *Handler) EntryHistory(w http.ResponseWriter, r *http.Request) {
	id := generic.EntryID(chi.URLParam(r, "id"))
	records, err := h.Engine.History(r.Context(), principal(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entry_id": id, "history": toAuditDTOs(records)})
}

// SubmitEntries moves drafts to SUBMITTED.
// POST /api/entries/submit
func (h *Handler) SubmitEntries(w http.ResponseWriter, r *http.Request) {
	h.ownerBatch(w, r, h.Engine.SubmitEntries)
}

// ResubmitEntries moves rejected entries back to SUBMITTED.
// POST /api/entries/resubmit
func (h *Handler) ResubmitEntries(w http.ResponseWriter, r *http.Request) {
	h.ownerBatch(w, r, h.Engine.ResubmitEntries)
}

func (h *Handler) ownerBatch(w http.ResponseWriter, r *http.Request, run func(context.Context, generic.Principal, []generic.EntryID) (workflow.BatchResult, error)) {
	var req IDsRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	res, err := run(r.Context(), principal(r), toEntryIDs(req.IDs))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BatchResponse{Entries: toEntryDTOs(res.Entries), At: res.At})
}

// =============================================================================
// REVIEW HANDLERS
// =============================================================================

// PendingReview lists submitted entries the caller may review.
// GET /api/review/pending?period_id=
func (h *Handler) PendingReview(w http.ResponseWriter, r *http.Request) {
	var period *generic.PeriodID
	if v := r.URL.Query().Get("period_id"); v != "" {
		id := generic.PeriodID(v)
		period = &id
	}
	list, err := h.Engine.PendingReview(r.Context(), principal(r), period)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryListDTO(list))
}

// Review approves or rejects submitted entries. Entries that cannot be
// reviewed are reported in "skipped"; the response is still 200.
// POST /api/review
func (h *Handler) Review(w http.ResponseWriter, r *http.Request) {
	var req ReviewRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	res, err := h.Engine.ReviewEntries(r.Context(), principal(r), workflow.ReviewInput{
		IDs:     toEntryIDs(req.IDs),
		Approve: *req.Approve,
		Reason:  req.Reason,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ReviewResponse{
		Processed: toEntryDTOs(res.Processed),
		Skipped:   toFailureDTOs(res.Skipped),
	})
}

// =============================================================================
// LEAVE HANDLERS
// =============================================================================

// ListLeaveTypes returns bookable leave types.
// GET /api/leave/types?include_historical=
func (h *Handler) ListLeaveTypes(w http.ResponseWriter, r *http.Request) {
	include, err := optionalBool(r.URL.Query().Get("include_historical"), "include_historical")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	types, err := h.Booker.ListLeaveTypes(r.Context(), include)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leave_types": toLeaveTypeDTOs(types)})
}

// BookLeave creates one draft leave entry per workday in the range.
// Responds 201 when anything was created, 200 when every day was skipped.
// POST /api/leave/bookings
func (h *Handler) BookLeave(w http.ResponseWriter, r *http.Request) {
	var req BookingRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	in, err := req.toInput()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.Booker.BookLeave(r.Context(), principal(r), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.CreatedCount > 0 {
		status = http.StatusCreated
	}
	writeJSON(w, status, toBookingResponse(res))
}

// LeaveOverview lists the caller's leave in a window.
// GET /api/leave/bookings?from=&to=
func (h *Handler) LeaveOverview(w http.ResponseWriter, r *http.Request) {
	from, to, err := window(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	o, err := h.Booker.Overview(r.Context(), principal(r), from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveOverviewDTO(o))
}

// =============================================================================
// SUMMARY HANDLERS
// =============================================================================

// Summary returns one owner's entries and total. Owners other than the
// caller require reviewer capability over their team.
// GET /api/summary?from=&to=&owner_id=
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := principal(r)
	from, to, err := window(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	owner := p.EmployeeID
	if v := r.URL.Query().Get("owner_id"); v != "" {
		owner = generic.EmployeeID(v)
	}
	if err := h.authorizeOwners(ctx, p, []generic.EmployeeID{owner}); err != nil {
		h.writeError(w, r, err)
		return
	}

	s, err := h.Aggregator.Summarize(ctx, owner, from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(s))
}

// Totals groups hours per owner, optionally per category.
// GET /api/summary/totals?from=&to=&owner_id=&status=&by_category=
func (h *Handler) Totals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := principal(r)
	q := r.URL.Query()
	from, to, err := window(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	byCategory, err := optionalBool(q.Get("by_category"), "by_category")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	statuses, err := parseStatuses(q["status"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	owners := []generic.EmployeeID{p.EmployeeID}
	if requested := q["owner_id"]; len(requested) > 0 {
		owners = make([]generic.EmployeeID, len(requested))
		for i, o := range requested {
			owners[i] = generic.EmployeeID(o)
		}
	}
	if err := h.authorizeOwners(ctx, p, owners); err != nil {
		h.writeError(w, r, err)
		return
	}

	totals, err := h.Aggregator.Totals(ctx, summary.TotalsQuery{
		Owners:     owners,
		From:       from,
		To:         to,
		Statuses:   statuses,
		ByCategory: byCategory,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"totals": toTotalDTOs(totals)})
}

func (h *Handler) authorizeOwners(ctx context.Context, p generic.Principal, owners []generic.EmployeeID) error {
	if p.IsZero() {
		return generic.Forbidden("no authenticated principal")
	}
	for _, owner := range owners {
		if owner == p.EmployeeID {
			continue
		}
		ok, err := h.Engine.CanReviewOwner(ctx, p, owner)
		if err != nil {
			return err
		}
		if !ok {
			return generic.Forbidden("not a reviewer of %s", owner)
		}
	}
	return nil
}

// Healthz reports liveness, and store reachability when a Pinger is set.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health.Ping(r.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// REQUEST PARSING
// =============================================================================

func (req DraftRequest) toInput() (workflow.DraftInput, error) {
	in := workflow.DraftInput{
		PeriodID:     generic.PeriodID(req.PeriodID),
		TaskID:       generic.TaskID(req.TaskID),
		Start:        req.Start,
		End:          req.End,
		BreakMinutes: req.BreakMinutes,
		Hours:        req.Hours,
		Description:  req.Description,
	}
	if req.ProjectID != nil {
		project := generic.ProjectID(*req.ProjectID)
		in.ProjectID = &project
	}
	if req.Date != "" {
		d, err := generic.ParseDate(req.Date)
		if err != nil {
			return in, generic.Validation("%v", err)
		}
		in.Date = d
	}
	return in, nil
}

func (req BookingRequest) toInput() (timeoff.BookingRequest, error) {
	start, err := generic.ParseDate(req.StartDate)
	if err != nil {
		return timeoff.BookingRequest{}, generic.Validation("start_date: %v", err)
	}
	end, err := generic.ParseDate(req.EndDate)
	if err != nil {
		return timeoff.BookingRequest{}, generic.Validation("end_date: %v", err)
	}
	return timeoff.BookingRequest{
		LeaveTypeID:           generic.TaskID(req.LeaveTypeID),
		StartDate:             start,
		EndDate:               end,
		HoursPerDay:           req.HoursPerDay,
		Description:           req.Description,
		AcknowledgeHistorical: req.AcknowledgeHistorical,
	}, nil
}

func toEntryIDs(ids []string) []generic.EntryID {
	out := make([]generic.EntryID, len(ids))
	for i, id := range ids {
		out[i] = generic.EntryID(id)
	}
	return out
}

func toDraftResponse(res workflow.DraftResult) DraftResponse {
	warnings := res.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return DraftResponse{Entry: toEntryDTO(res.Entry), Warnings: warnings}
}

// parseStatuses accepts repeated and comma-separated status values.
func parseStatuses(values []string) ([]generic.EntryStatus, error) {
	var out []generic.EntryStatus
	for _, v := range values {
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			status, ok := generic.ParseStatus(strings.ToUpper(s))
			if !ok {
				return nil, generic.Validation("unknown status %q", s)
			}
			out = append(out, status)
		}
	}
	return out, nil
}

func optionalDate(v, name string) (*generic.TimePoint, error) {
	if v == "" {
		return nil, nil
	}
	d, err := generic.ParseDate(v)
	if err != nil {
		return nil, generic.Validation("%s: %v", name, err)
	}
	return &d, nil
}

func optionalBool(v, name string) (bool, error) {
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, generic.Validation("%s must be true or false", name)
	}
	return b, nil
}

// window reads the required from/to query parameters.
func window(r *http.Request) (generic.TimePoint, generic.TimePoint, error) {
	q := r.URL.Query()
	if q.Get("from") == "" || q.Get("to") == "" {
		return generic.TimePoint{}, generic.TimePoint{}, generic.Validation("from and to are required")
	}
	from, err := generic.ParseDate(q.Get("from"))
	if err != nil {
		return generic.TimePoint{}, generic.TimePoint{}, generic.Validation("from: %v", err)
	}
	to, err := generic.ParseDate(q.Get("to"))
	if err != nil {
		return generic.TimePoint{}, generic.TimePoint{}, generic.Validation("to: %v", err)
	}
	return from, to, nil
}

// decodeJSON decodes and validates the body. It writes the error response
// and returns false on failure.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Kind:    "malformed_request",
			Details: err.Error(),
		})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		details := err.Error()
		if errors.As(err, &verrs) {
			fields := make([]string, len(verrs))
			for i, fe := range verrs {
				fields[i] = fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
			}
			details = strings.Join(fields, "; ")
		}
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "Invalid request",
			Kind:    string(generic.KindValidation),
			Details: details,
		})
		return false
	}
	return true
}

// =============================================================================
// RESPONSES
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(kind generic.Kind) int {
	switch kind {
	case generic.KindValidation:
		return http.StatusUnprocessableEntity
	case generic.KindInvalidState:
		return http.StatusConflict
	case generic.KindNotFound:
		return http.StatusNotFound
	case generic.KindForbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// writeError maps a service error to its status and body. Internal errors
// are logged and their text is not exposed.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := generic.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, status, ErrorResponse{Error: "Internal error", Kind: string(generic.KindInternal)})
		return
	}

	resp := ErrorResponse{Error: err.Error(), Kind: string(kind)}
	var batch *generic.BatchError
	var single *generic.Error
	switch {
	case errors.As(err, &batch):
		resp.Error = batch.Op + " rejected"
		resp.Details = err.Error()
		resp.Failures = toFailureDTOs(batch.Failures)
		for _, id := range batch.IDs() {
			resp.IDs = append(resp.IDs, string(id))
		}
	case errors.As(err, &single):
		resp.Error = single.Message
		for _, id := range single.IDs {
			resp.IDs = append(resp.IDs, string(id))
		}
		for _, d := range single.Dates {
			resp.Dates = append(resp.Dates, d.String())
		}
	}
	writeJSON(w, status, resp)
}
