/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

WIRE FORMATS:
  - Hour quantities travel as signed "H:MM" strings ("100:00", "-10:30")
  - Ticket quantities travel as plain integers
  - Money travels as decimal strings ("1000.00"), never floats
  - Months travel as "YYYY-MM"

SEE ALSO:
  - handlers.go: Uses these types
  - bank/duration.go: the H:MM format
*/
package api

import (
	"time"

	"github.com/warp/hoursbank/bank"
)

// =============================================================================
// LEDGER RESPONSES
// =============================================================================

// HoursFiguresDTO renders one month's hour figures as H:MM strings.
type HoursFiguresDTO struct {
	Baseline         string `json:"baseline"`
	RolloverIn       string `json:"rollover_in"`
	Available        string `json:"available"`
	Consumption      string `json:"consumption"`
	Billed           string `json:"billed"`
	NetAdjustment    string `json:"net_adjustment"`
	TotalConsumption string `json:"total_consumption"`
	MonthlyBalance   string `json:"monthly_balance"`
	RolloverOut      string `json:"rollover_out"`
	Overage          string `json:"overage"`
	Rate             string `json:"rate,omitempty"`
	OverageValue     string `json:"overage_value,omitempty"`
}

// TicketFiguresDTO renders one month's ticket figures as counts.
type TicketFiguresDTO struct {
	Baseline         int64  `json:"baseline"`
	RolloverIn       int64  `json:"rollover_in"`
	Available        int64  `json:"available"`
	Consumption      int64  `json:"consumption"`
	Billed           int64  `json:"billed"`
	NetAdjustment    int64  `json:"net_adjustment"`
	TotalConsumption int64  `json:"total_consumption"`
	MonthlyBalance   int64  `json:"monthly_balance"`
	RolloverOut      int64  `json:"rollover_out"`
	Overage          int64  `json:"overage"`
	Rate             string `json:"rate,omitempty"`
	OverageValue     string `json:"overage_value,omitempty"`
}

// LedgerEntryDTO is the consolidated monthly ledger row.
type LedgerEntryDTO struct {
	CompanyID    string            `json:"company_id"`
	Month        string            `json:"month"`
	Hours        *HoursFiguresDTO  `json:"hours,omitempty"`
	Tickets      *TicketFiguresDTO `json:"tickets,omitempty"`
	IsCycleEnd   bool              `json:"is_cycle_end"`
	CycleIndex   int               `json:"cycle_index"`
	TotalToBill  string            `json:"total_to_bill"`
	Version      int               `json:"version"`
	CalculatedAt string            `json:"calculated_at"`
}

// SegmentDTO is one allocation's proportional view of a month.
type SegmentDTO struct {
	AllocationID   string            `json:"allocation_id"`
	AllocationName string            `json:"allocation_name"`
	SharePercent   int64             `json:"share_percent"`
	Hours          *HoursFiguresDTO  `json:"hours,omitempty"`
	Tickets        *TicketFiguresDTO `json:"tickets,omitempty"`
	TotalToBill    string            `json:"total_to_bill"`
}

// AllocationDTO represents a company allocation share.
type AllocationDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SharePercent int64  `json:"share_percent"`
	Active       bool   `json:"active"`
}

// VersionDTO is one immutable history row of a ledger entry.
type VersionDTO struct {
	ID          string          `json:"id"`
	FromVersion int             `json:"from_version"`
	ToVersion   int             `json:"to_version"`
	Before      *LedgerEntryDTO `json:"before,omitempty"`
	After       *LedgerEntryDTO `json:"after"`
	Reason      string          `json:"reason"`
	ChangeKind  string          `json:"change_kind"`
	Actor       string          `json:"actor"`
	CreatedAt   string          `json:"created_at"`
}

// RecalcResultDTO summarizes what a cascade run accomplished.
type RecalcResultDTO struct {
	From         string   `json:"from"`
	Through      string   `json:"through"`
	Recalculated []string `json:"recalculated"`
	Unchanged    []string `json:"unchanged"`
	HaltedAt     string   `json:"halted_at,omitempty"`
}

// =============================================================================
// ADJUSTMENT TYPES
// =============================================================================

// AdjustmentDTO represents a manual adjustment.
type AdjustmentDTO struct {
	ID            string `json:"id"`
	CompanyID     string `json:"company_id"`
	Month         string `json:"month"`
	Direction     string `json:"direction"`
	Hours         string `json:"hours"`
	Tickets       int64  `json:"tickets"`
	Justification string `json:"justification"`
	Active        bool   `json:"active"`
	CreatedBy     string `json:"created_by"`
	CreatedAt     string `json:"created_at"`
}

// CreateAdjustmentRequest is the request body for a new adjustment.
type CreateAdjustmentRequest struct {
	Month         string `json:"month"`     // "YYYY-MM"
	Direction     string `json:"direction"` // "in" | "out"
	Hours         string `json:"hours"`     // "H:MM", magnitude
	Tickets       int64  `json:"tickets"`
	Justification string `json:"justification"`
	Actor         string `json:"actor"`
}

// RecalculateRequest is the optional body of a recalculation trigger.
type RecalculateRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

// AuditEntryDTO is one audit log row.
type AuditEntryDTO struct {
	ID          string         `json:"id"`
	Timestamp   string         `json:"timestamp"`
	ActorID     string         `json:"actor_id"`
	Action      string         `json:"action"`
	CompanyID   string         `json:"company_id"`
	Month       string         `json:"month,omitempty"`
	Description string         `json:"description,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// DOMAIN -> DTO MAPPING
// =============================================================================

func hoursFiguresDTO(f *bank.KindFigures) *HoursFiguresDTO {
	if f == nil {
		return nil
	}
	dto := &HoursFiguresDTO{
		Baseline:         bank.Duration(f.Baseline).String(),
		RolloverIn:       bank.Duration(f.RolloverIn).String(),
		Available:        bank.Duration(f.Available).String(),
		Consumption:      bank.Duration(f.Consumption).String(),
		Billed:           bank.Duration(f.Billed).String(),
		NetAdjustment:    bank.Duration(f.NetAdjustment).String(),
		TotalConsumption: bank.Duration(f.TotalConsumption).String(),
		MonthlyBalance:   bank.Duration(f.MonthlyBalance).String(),
		RolloverOut:      bank.Duration(f.RolloverOut).String(),
		Overage:          bank.Duration(f.Overage).String(),
	}
	if f.Overage > 0 {
		dto.Rate = f.Rate.String()
		dto.OverageValue = f.OverageValue.StringFixed(2)
	}
	return dto
}

func ticketFiguresDTO(f *bank.KindFigures) *TicketFiguresDTO {
	if f == nil {
		return nil
	}
	dto := &TicketFiguresDTO{
		Baseline:         f.Baseline,
		RolloverIn:       f.RolloverIn,
		Available:        f.Available,
		Consumption:      f.Consumption,
		Billed:           f.Billed,
		NetAdjustment:    f.NetAdjustment,
		TotalConsumption: f.TotalConsumption,
		MonthlyBalance:   f.MonthlyBalance,
		RolloverOut:      f.RolloverOut,
		Overage:          f.Overage,
	}
	if f.Overage > 0 {
		dto.Rate = f.Rate.String()
		dto.OverageValue = f.OverageValue.StringFixed(2)
	}
	return dto
}

func ledgerEntryDTO(e *bank.MonthlyLedgerEntry) *LedgerEntryDTO {
	if e == nil {
		return nil
	}
	return &LedgerEntryDTO{
		CompanyID:    e.CompanyID,
		Month:        e.Month.String(),
		Hours:        hoursFiguresDTO(e.Hours),
		Tickets:      ticketFiguresDTO(e.Tickets),
		IsCycleEnd:   e.IsCycleEnd,
		CycleIndex:   e.CycleIndex,
		TotalToBill:  e.TotalToBill.StringFixed(2),
		Version:      e.Version,
		CalculatedAt: e.CalculatedAt.Format(time.RFC3339),
	}
}

func segmentDTO(s bank.SegmentedLedgerEntry) SegmentDTO {
	return SegmentDTO{
		AllocationID:   s.AllocationID,
		AllocationName: s.AllocationName,
		SharePercent:   s.SharePercent,
		Hours:          hoursFiguresDTO(s.Hours),
		Tickets:        ticketFiguresDTO(s.Tickets),
		TotalToBill:    s.TotalToBill.StringFixed(2),
	}
}

func adjustmentDTO(a *bank.Adjustment) AdjustmentDTO {
	return AdjustmentDTO{
		ID:            a.ID,
		CompanyID:     a.CompanyID,
		Month:         a.Month.String(),
		Direction:     string(a.Direction),
		Hours:         a.Hours.String(),
		Tickets:       a.Tickets,
		Justification: a.Justification,
		Active:        a.Active,
		CreatedBy:     a.CreatedBy,
		CreatedAt:     a.CreatedAt.Format(time.RFC3339),
	}
}

func versionDTO(v bank.Version) VersionDTO {
	return VersionDTO{
		ID:          v.ID,
		FromVersion: v.FromVersion,
		ToVersion:   v.ToVersion,
		Before:      ledgerEntryDTO(v.Before),
		After:       ledgerEntryDTO(v.After),
		Reason:      v.Reason,
		ChangeKind:  string(v.ChangeKind),
		Actor:       v.Actor,
		CreatedAt:   v.CreatedAt.Format(time.RFC3339),
	}
}

func recalcResultDTO(r *bank.CascadeResult) *RecalcResultDTO {
	if r == nil {
		return nil
	}
	dto := &RecalcResultDTO{
		From:         r.From.String(),
		Through:      r.Through.String(),
		Recalculated: monthStrings(r.Recalculated),
		Unchanged:    monthStrings(r.Unchanged),
	}
	if r.HaltedAt != nil {
		dto.HaltedAt = r.HaltedAt.String()
	}
	return dto
}

func monthStrings(months []bank.MonthKey) []string {
	out := make([]string, len(months))
	for i, m := range months {
		out[i] = m.String()
	}
	return out
}

func auditEntryDTO(e bank.AuditEntry) AuditEntryDTO {
	dto := AuditEntryDTO{
		ID:          e.ID,
		Timestamp:   e.Timestamp.Format(time.RFC3339),
		ActorID:     e.ActorID,
		Action:      string(e.Action),
		CompanyID:   e.CompanyID,
		Description: e.Description,
		Payload:     e.Payload,
	}
	if e.Month != nil {
		dto.Month = e.Month.String()
	}
	return dto
}
