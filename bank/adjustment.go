/*
adjustment.go - Manual adjustment ("reajuste") ledger

PURPOSE:
  CRUD over manual signed corrections with two hard rules:
  1. Every adjustment carries a justification of at least
     MinJustificationLen characters - enforced before persistence.
  2. Every mutation (create OR deactivate) triggers a cascade starting
     at the adjusted month. An adjustment recorded without recomputation
     is a correctness bug, not a cosmetic one - so the mutation takes
     the company's recomputation lock BEFORE writing and is rejected
     whole with ErrRecalculationInFlight when contended.

  Adjustments are immutable after creation except for deactivation;
  inactive rows stay stored for audit and drop out of aggregation.
*/
package bank

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// MinJustificationLen is the minimum justification length.
const MinJustificationLen = 5

// CreateAdjustmentInput is the validated payload for a new adjustment.
type CreateAdjustmentInput struct {
	CompanyID     string              `validate:"required"`
	Month         MonthKey            `validate:"required"`
	Direction     AdjustmentDirection `validate:"required,oneof=in out"`
	Hours         Duration
	Tickets       int64
	Justification string `validate:"required,min=5"`
	Actor         string `validate:"required"`
}

// AdjustmentService owns adjustment writes and their cascade side effect.
type AdjustmentService struct {
	Store     AdjustmentStore
	Contracts *ContractResolver
	Cascade   *CascadeRecalculator
	Audit     AuditLog
	Notifier  Notifier

	validate *validator.Validate
	now      func() time.Time
}

// NewAdjustmentService wires the service. audit and notifier may be nil.
func NewAdjustmentService(store AdjustmentStore, contracts *ContractResolver, cascade *CascadeRecalculator, audit AuditLog, notifier Notifier) *AdjustmentService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &AdjustmentService{
		Store:     store,
		Contracts: contracts,
		Cascade:   cascade,
		Audit:     audit,
		Notifier:  notifier,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// WithClock overrides the clock for deterministic tests.
func (s *AdjustmentService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Create validates, persists and applies a new adjustment. The returned
// CascadeResult describes the recomputation the adjustment triggered;
// when the cascade halts partway its error is returned alongside the
// persisted adjustment so the caller can report both. A recalculation
// already in flight rejects the whole creation: nothing is persisted.
func (s *AdjustmentService) Create(ctx context.Context, input CreateAdjustmentInput) (*Adjustment, *CascadeResult, error) {
	if err := s.validateInput(ctx, input); err != nil {
		return nil, nil, err
	}

	// Lock before the write: the row and its cascade commit or reject
	// together from the caller's view.
	unlock, err := s.Cascade.acquireLock(ctx, input.CompanyID, input.Month)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	adj := Adjustment{
		ID:            uuid.NewString(),
		CompanyID:     input.CompanyID,
		Month:         input.Month,
		Direction:     input.Direction,
		Hours:         input.Hours,
		Tickets:       input.Tickets,
		Justification: input.Justification,
		Active:        true,
		CreatedBy:     input.Actor,
		CreatedAt:     s.now(),
	}
	if err := s.Store.CreateAdjustment(ctx, adj); err != nil {
		return nil, nil, err
	}

	s.auditWrite(ctx, adj, AuditAdjustmentCreated, input.Actor)
	s.Notifier.Notify(ctx, Event{
		Type:      EventAdjustmentApplied,
		CompanyID: adj.CompanyID,
		Month:     adj.Month,
		Detail: map[string]any{
			"adjustment_id": adj.ID,
			"direction":     string(adj.Direction),
			"hours":         adj.Hours.String(),
			"tickets":       adj.Tickets,
		},
		At: s.now(),
	})

	reason := fmt.Sprintf("adjustment %s applied: %s", adj.ID, adj.Justification)
	result, err := s.Cascade.recalculateLocked(ctx, adj.CompanyID, adj.Month, ChangeAdjustment, reason, input.Actor)
	return &adj, result, err
}

// Deactivate soft-deletes an adjustment and recomputes from its month.
func (s *AdjustmentService) Deactivate(ctx context.Context, id, actor string) (*Adjustment, *CascadeResult, error) {
	adj, err := s.Store.GetAdjustment(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !adj.Active {
		return adj, nil, nil
	}

	unlock, err := s.Cascade.acquireLock(ctx, adj.CompanyID, adj.Month)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	if err := s.Store.SetAdjustmentActive(ctx, id, false); err != nil {
		return nil, nil, err
	}
	adj.Active = false
	at := s.now()
	adj.DeactivatedAt = &at

	s.auditWrite(ctx, *adj, AuditAdjustmentDeactivated, actor)

	reason := fmt.Sprintf("adjustment %s deactivated", adj.ID)
	result, err := s.Cascade.recalculateLocked(ctx, adj.CompanyID, adj.Month, ChangeAdjustment, reason, actor)
	return adj, result, err
}

// ListForMonth returns all adjustments of a company+month, active first.
func (s *AdjustmentService) ListForMonth(ctx context.Context, companyID string, month MonthKey) ([]Adjustment, error) {
	return s.Store.AdjustmentsForMonth(ctx, companyID, month)
}

func (s *AdjustmentService) validateInput(ctx context.Context, input CreateAdjustmentInput) error {
	if err := s.validate.Struct(input); err != nil {
		return &InvalidAdjustmentError{Reason: err.Error()}
	}
	if input.Hours == 0 && input.Tickets == 0 {
		return &InvalidAdjustmentError{Reason: "adjustment must move hours or tickets"}
	}
	if input.Hours < 0 || input.Tickets < 0 {
		return &InvalidAdjustmentError{Reason: "quantities are magnitudes; use direction for the sign"}
	}

	// A kind outside the contract cannot be adjusted.
	params, err := s.Contracts.Resolve(ctx, input.CompanyID, input.Month)
	if err != nil {
		return err
	}
	if input.Hours != 0 && !params.Kind.Includes(KindHours) {
		return &InvalidAdjustmentError{Reason: "contract does not bank hours"}
	}
	if input.Tickets != 0 && !params.Kind.Includes(KindTickets) {
		return &InvalidAdjustmentError{Reason: "contract does not bank tickets"}
	}
	return nil
}

func (s *AdjustmentService) auditWrite(ctx context.Context, adj Adjustment, action AuditAction, actor string) {
	if s.Audit == nil {
		return
	}
	month := adj.Month
	_ = s.Audit.AppendAudit(ctx, AuditEntry{
		ID:          uuid.NewString(),
		Timestamp:   s.now(),
		ActorID:     actor,
		Action:      action,
		CompanyID:   adj.CompanyID,
		Month:       &month,
		Description: adj.Justification,
		Payload: map[string]any{
			"adjustment_id": adj.ID,
			"direction":     string(adj.Direction),
			"hours":         adj.Hours.String(),
			"tickets":       adj.Tickets,
			"active":        adj.Active,
		},
	})
}
