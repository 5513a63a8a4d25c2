/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the workflow model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Request types carry validator/v10 tags and are checked by decodeJSON
  before any service call. Cross-field rules (dates that parse, start
  before end) are left to the services.

HOURS:
  Hours are kept unrounded internally and formatted with two decimals
  here, at the edge.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/clockd/catalog"
	"github.com/warp/clockd/generic"
	"github.com/warp/clockd/summary"
	"github.com/warp/clockd/timeoff"
	"github.com/warp/clockd/workflow"
)

// =============================================================================
// REQUESTS
// =============================================================================

// DraftRequest creates, updates or revises an entry.
type DraftRequest struct {
	PeriodID     string          `json:"period_id" validate:"required"`
	TaskID       string          `json:"task_id" validate:"required"`
	ProjectID    *string         `json:"project_id,omitempty" validate:"omitempty,min=1"`
	Date         string          `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Start        *time.Time      `json:"start,omitempty"`
	End          *time.Time      `json:"end,omitempty"`
	BreakMinutes int             `json:"break_minutes" validate:"gte=0"`
	Hours        decimal.Decimal `json:"hours"`
	Description  string          `json:"description" validate:"max=1000"`
}

// IDsRequest is the body of submit and resubmit.
type IDsRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}

type ReviewRequest struct {
	IDs     []string `json:"ids" validate:"required,min=1,dive,required"`
	Approve *bool    `json:"approve" validate:"required"`
	Reason  string   `json:"reason" validate:"max=1000"`
}

type BookingRequest struct {
	LeaveTypeID           string          `json:"leave_type_id" validate:"required"`
	StartDate             string          `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate               string          `json:"end_date" validate:"required,datetime=2006-01-02"`
	HoursPerDay           decimal.Decimal `json:"hours_per_day"`
	Description           string          `json:"description" validate:"max=1000"`
	AcknowledgeHistorical bool            `json:"acknowledge_historical"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type EntryDTO struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"owner_id"`
	PeriodID        string     `json:"period_id"`
	TaskID          string     `json:"task_id"`
	ProjectID       *string    `json:"project_id,omitempty"`
	Date            string     `json:"date"`
	Start           *time.Time `json:"start,omitempty"`
	End             *time.Time `json:"end,omitempty"`
	BreakMinutes    int        `json:"break_minutes"`
	Hours           string     `json:"hours"`
	Description     string     `json:"description"`
	Status          string     `json:"status"`
	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	ReviewedBy      *string    `json:"reviewed_by,omitempty"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`
	Historical      bool       `json:"historical,omitempty"`
	Version         int64      `json:"version"`
}

type EntryListDTO struct {
	Entries    []EntryDTO `json:"entries"`
	TotalCount int        `json:"total_count"`
	TotalHours string     `json:"total_hours"`
}

type DraftResponse struct {
	Entry    EntryDTO `json:"entry"`
	Warnings []string `json:"warnings"`
}

type BatchResponse struct {
	Entries []EntryDTO `json:"entries"`
	At      time.Time  `json:"at"`
}

type FailureDTO struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

type ReviewResponse struct {
	Processed []EntryDTO   `json:"processed"`
	Skipped   []FailureDTO `json:"skipped"`
}

type AuditDTO struct {
	ID         string    `json:"id"`
	EntryID    string    `json:"entry_id"`
	ActorID    string    `json:"actor_id"`
	Action     string    `json:"action"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

type LeaveTypeDTO struct {
	ID           string `json:"id"`
	Code         string `json:"code"`
	Description  string `json:"description"`
	Category     string `json:"category"`
	IsHistorical bool   `json:"is_historical"`
}

type WarningDTO struct {
	Kind    string  `json:"kind"`
	Date    *string `json:"date,omitempty"`
	Message string  `json:"message"`
}

type BookingResponse struct {
	Created      []EntryDTO   `json:"created"`
	CreatedCount int          `json:"created_count"`
	Warnings     []WarningDTO `json:"warnings"`
}

type BookingDTO struct {
	Entry    EntryDTO `json:"entry"`
	Code     string   `json:"code"`
	Category string   `json:"category"`
}

type LeaveOverviewDTO struct {
	From       string       `json:"from"`
	To         string       `json:"to"`
	Bookings   []BookingDTO `json:"bookings"`
	TotalHours string       `json:"total_hours"`
}

type SummaryDTO struct {
	OwnerID    string     `json:"owner_id"`
	From       string     `json:"from"`
	To         string     `json:"to"`
	TotalHours string     `json:"total_hours"`
	Entries    []EntryDTO `json:"entries"`
}

type TotalDTO struct {
	OwnerID  string `json:"owner_id"`
	Category string `json:"category,omitempty"`
	Hours    string `json:"hours"`
	Days     int    `json:"days"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error    string       `json:"error"`
	Kind     string       `json:"kind"`
	Details  string       `json:"details,omitempty"`
	IDs      []string     `json:"ids,omitempty"`
	Dates    []string     `json:"dates,omitempty"`
	Failures []FailureDTO `json:"failures,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatHours(h decimal.Decimal) string { return h.StringFixed(2) }

func toEntryDTO(e generic.Entry) EntryDTO {
	dto := EntryDTO{
		ID:              string(e.ID),
		OwnerID:         string(e.OwnerID),
		PeriodID:        string(e.PeriodID),
		TaskID:          string(e.TaskID),
		Date:            e.Date.String(),
		Start:           e.Start,
		End:             e.End,
		BreakMinutes:    e.BreakMinutes,
		Hours:           formatHours(e.Hours),
		Description:     e.Description,
		Status:          string(e.Status),
		SubmittedAt:     e.SubmittedAt,
		ReviewedAt:      e.ReviewedAt,
		RejectionReason: e.RejectionReason,
		Historical:      e.Historical,
		Version:         e.Version,
	}
	if e.ProjectID != nil {
		dto.ProjectID = generic.StrPtr(string(*e.ProjectID))
	}
	if e.ReviewedBy != nil {
		dto.ReviewedBy = generic.StrPtr(string(*e.ReviewedBy))
	}
	return dto
}

func toEntryDTOs(entries []generic.Entry) []EntryDTO {
	out := make([]EntryDTO, len(entries))
	for i, e := range entries {
		out[i] = toEntryDTO(e)
	}
	return out
}

func toEntryListDTO(l workflow.EntryList) EntryListDTO {
	return EntryListDTO{
		Entries:    toEntryDTOs(l.Entries),
		TotalCount: l.TotalCount,
		TotalHours: formatHours(l.TotalHours),
	}
}

func toFailureDTOs(failures []generic.Failure) []FailureDTO {
	out := make([]FailureDTO, len(failures))
	for i, f := range failures {
		out[i] = FailureDTO{ID: string(f.ID), Kind: string(f.Kind), Reason: f.Reason}
	}
	return out
}

func toAuditDTOs(records []generic.AuditEntry) []AuditDTO {
	out := make([]AuditDTO, len(records))
	for i, a := range records {
		out[i] = AuditDTO{
			ID:         a.ID,
			EntryID:    string(a.EntryID),
			ActorID:    string(a.ActorID),
			Action:     string(a.Action),
			FromStatus: string(a.FromStatus),
			ToStatus:   string(a.ToStatus),
			Reason:     a.Reason,
			At:         a.At,
		}
	}
	return out
}

func toLeaveTypeDTOs(types []catalog.LeaveType) []LeaveTypeDTO {
	out := make([]LeaveTypeDTO, len(types))
	for i, lt := range types {
		out[i] = LeaveTypeDTO{
			ID:           string(lt.ID),
			Code:         lt.Code,
			Description:  lt.Description,
			Category:     string(lt.Category),
			IsHistorical: lt.IsHistorical,
		}
	}
	return out
}

func toBookingResponse(r timeoff.BookingResult) BookingResponse {
	warnings := make([]WarningDTO, len(r.Warnings))
	for i, w := range r.Warnings {
		warnings[i] = WarningDTO{Kind: string(w.Kind), Message: w.Message}
		if w.Date != nil {
			warnings[i].Date = generic.StrPtr(w.Date.String())
		}
	}
	return BookingResponse{
		Created:      toEntryDTOs(r.Created),
		CreatedCount: r.CreatedCount,
		Warnings:     warnings,
	}
}

func toLeaveOverviewDTO(o timeoff.LeaveOverview) LeaveOverviewDTO {
	bookings := make([]BookingDTO, len(o.Bookings))
	for i, b := range o.Bookings {
		bookings[i] = BookingDTO{Entry: toEntryDTO(b.Entry), Code: b.Code, Category: string(b.Category)}
	}
	return LeaveOverviewDTO{
		From:       o.From.String(),
		To:         o.To.String(),
		Bookings:   bookings,
		TotalHours: formatHours(o.TotalHours),
	}
}

func toSummaryDTO(s summary.Summary) SummaryDTO {
	return SummaryDTO{
		OwnerID:    string(s.OwnerID),
		From:       s.From.String(),
		To:         s.To.String(),
		TotalHours: formatHours(s.TotalHours),
		Entries:    toEntryDTOs(s.Entries),
	}
}

func toTotalDTOs(totals []summary.Total) []TotalDTO {
	out := make([]TotalDTO, len(totals))
	for i, t := range totals {
		out[i] = TotalDTO{
			OwnerID:  string(t.OwnerID),
			Category: string(t.Category),
			Hours:    formatHours(t.Hours),
			Days:     t.Days,
		}
	}
	return out
}
