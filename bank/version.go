/*
version.go - Version and audit recording

PURPOSE:
  Every committed change to a MonthlyLedgerEntry leaves exactly one
  Version row behind: the pre-image, the post-image, the reason and the
  change kind. Versions are append-only and never rewritten - they are
  the entry's entire history; the live row only ever shows the present.

VERSION NUMBERS:
  ToVersion = FromVersion + 1 per entry. The first calculation of a
  month records FromVersion 0 with a nil Before snapshot.
*/
package bank

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// VersionRecorder writes version and audit rows around ledger writes.
type VersionRecorder struct {
	Store VersionStore
	Audit AuditLog

	now func() time.Time
}

// NewVersionRecorder constructs a recorder. audit may be nil when no
// audit log is wired (tests).
func NewVersionRecorder(store VersionStore, audit AuditLog) *VersionRecorder {
	return &VersionRecorder{Store: store, Audit: audit, now: time.Now}
}

// WithClock overrides the clock for deterministic tests.
func (r *VersionRecorder) WithClock(clock func() time.Time) {
	if clock != nil {
		r.now = clock
	}
}

// Record appends the version row for a committed entry change and an
// audit entry narrating it. before is nil for a first calculation.
func (r *VersionRecorder) Record(ctx context.Context, before, after *MonthlyLedgerEntry, kind ChangeKind, reason, actor string) (*Version, error) {
	from := 0
	if before != nil {
		from = before.Version
	}
	v := Version{
		ID:          uuid.NewString(),
		CompanyID:   after.CompanyID,
		Month:       after.Month,
		FromVersion: from,
		ToVersion:   from + 1,
		Before:      before.Clone(),
		After:       after.Clone(),
		Reason:      reason,
		ChangeKind:  kind,
		Actor:       actor,
		CreatedAt:   r.now(),
	}
	if err := r.Store.AppendVersion(ctx, v); err != nil {
		return nil, err
	}

	if r.Audit != nil {
		month := after.Month
		entry := AuditEntry{
			ID:          uuid.NewString(),
			Timestamp:   r.now(),
			ActorID:     actor,
			Action:      AuditLedgerCalculated,
			CompanyID:   after.CompanyID,
			Month:       &month,
			Description: reason,
			Payload: map[string]any{
				"from_version": v.FromVersion,
				"to_version":   v.ToVersion,
				"change_kind":  string(kind),
			},
		}
		if err := r.Audit.AppendAudit(ctx, entry); err != nil {
			return nil, err
		}
	}
	return &v, nil
}
