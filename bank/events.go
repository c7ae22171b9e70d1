// Package-level event emission. The engine never renders anything to an
// end user; it hands structured events to a Notifier collaborator and a
// separate notification layer decides what the user sees.
package bank

import (
	"context"
	"time"
)

// EventType classifies engine events.
type EventType string

const (
	EventDeficitDetected       EventType = "deficit_detected"
	EventOverageGenerated      EventType = "overage_generated"
	EventRateMissing           EventType = "rate_missing"
	EventAdjustmentApplied     EventType = "adjustment_applied"
	EventCalculationSucceeded  EventType = "calculation_succeeded"
	EventCalculationFailed     EventType = "calculation_failed"
	EventSurplusForfeited      EventType = "surplus_forfeited"
	EventRecalculationConflict EventType = "recalculation_conflict"
)

// Event is one structured engine occurrence.
type Event struct {
	Type      EventType
	CompanyID string
	Month     MonthKey
	Detail    map[string]any
	At        time.Time
}

// Notifier receives engine events. Implementations must be fast or
// asynchronous; the engine calls Notify inline on the calculation path.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// NopNotifier drops all events.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) {}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, e Event)

func (f NotifierFunc) Notify(ctx context.Context, e Event) { f(ctx, e) }
