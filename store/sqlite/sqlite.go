/*
Package sqlite provides the SQLite-backed implementation of the bank's
persistence interfaces and external-source boundaries.

INTERFACES IMPLEMENTED:
  bank.ContractStore            contract parameter history
  bank.LedgerStore              single live row per company+month
  bank.AdjustmentStore          append + soft-deactivate
  bank.AllocationStore          company allocation shares
  bank.VersionStore             append-only recomputation history
  bank.AuditLog                 append-only audit trail
  bank.SegmentedCache           derived-view cache
  bank.ConsumptionSource        consumption_totals table (fed by sync)
  bank.BilledRequirementsSource billed_totals table (fed by billing)
  bank.RateSource               rates table, latest effective row wins

APPEND-ONLY ENFORCEMENT:
  versions and audit_log have no UPDATE or DELETE paths. Adjustments
  update only their active flag. The ledger row is replaced wholesale
  inside an immediate transaction (atomic read-modify-write per key),
  and the same transaction drops the company's segmented cache rows.

EXTERNAL TOTALS:
  consumption_totals and billed_totals are written by the out-of-scope
  synchronization pipeline; SetConsumption/SetBilled/SetRate exist for
  that pipeline and for test fixtures. A missing totals row means "no
  recorded activity" and reads as zero; a query failure propagates as
  an error so the engine never substitutes zero for an outage.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery
  Transactions open with _txlock=immediate so writers queue instead of
  failing mid-transaction.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - bank/store.go: Interface definitions
  - bank/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/hoursbank/bank"
)

// Store implements all bank storage interfaces over SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS contracts (
		company_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		assessment_period_months INTEGER NOT NULL,
		effective_year INTEGER NOT NULL,
		effective_month INTEGER NOT NULL,
		hours_baseline_minutes INTEGER,
		tickets_baseline INTEGER,
		has_special_rollover INTEGER NOT NULL DEFAULT 0,
		cycles_before_zeroing INTEGER NOT NULL DEFAULT 0,
		monthly_rollover_percent INTEGER NOT NULL DEFAULT 0,
		current_cycle_index INTEGER NOT NULL DEFAULT 1,
		deficit_reduces_baseline INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (company_id, effective_year, effective_month)
	);

	-- Exactly one live consolidated row per company+month.
	CREATE TABLE IF NOT EXISTS ledger_entries (
		company_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		hours_json TEXT,
		tickets_json TEXT,
		is_cycle_end INTEGER NOT NULL,
		cycle_index INTEGER NOT NULL,
		total_to_bill TEXT NOT NULL,
		version INTEGER NOT NULL,
		calculated_at TEXT NOT NULL,
		PRIMARY KEY (company_id, year, month)
	);

	CREATE TABLE IF NOT EXISTS adjustments (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		direction TEXT NOT NULL,
		hours_minutes INTEGER NOT NULL,
		tickets INTEGER NOT NULL,
		justification TEXT NOT NULL CHECK (length(justification) >= 5),
		active INTEGER NOT NULL DEFAULT 1,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		deactivated_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_adjustments_company_month
		ON adjustments(company_id, year, month);

	CREATE TABLE IF NOT EXISTS allocations (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		name TEXT NOT NULL,
		share_percent INTEGER NOT NULL CHECK (share_percent BETWEEN 1 AND 100),
		active INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_allocations_company
		ON allocations(company_id);

	-- Append-only: no UPDATE/DELETE statements exist for this table.
	CREATE TABLE IF NOT EXISTS versions (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		from_version INTEGER NOT NULL,
		to_version INTEGER NOT NULL,
		before_json TEXT,
		after_json TEXT NOT NULL,
		reason TEXT NOT NULL,
		change_kind TEXT NOT NULL,
		actor TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (company_id, year, month, to_version)
	);
	CREATE INDEX IF NOT EXISTS idx_versions_company_month
		ON versions(company_id, year, month, to_version);

	-- Append-only: no UPDATE/DELETE statements exist for this table.
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		ts TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		company_id TEXT NOT NULL,
		year INTEGER,
		month INTEGER,
		description TEXT,
		payload_json TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_company_ts
		ON audit_log(company_id, ts);

	CREATE TABLE IF NOT EXISTS rates (
		company_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		effective_year INTEGER NOT NULL,
		effective_month INTEGER NOT NULL,
		rate TEXT NOT NULL,
		PRIMARY KEY (company_id, kind, effective_year, effective_month)
	);

	CREATE TABLE IF NOT EXISTS consumption_totals (
		company_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		hours_minutes INTEGER NOT NULL DEFAULT 0,
		tickets INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (company_id, year, month)
	);

	CREATE TABLE IF NOT EXISTS billed_totals (
		company_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		hours_minutes INTEGER NOT NULL DEFAULT 0,
		tickets INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (company_id, year, month)
	);

	CREATE TABLE IF NOT EXISTS segmented_cache (
		company_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		rows_json TEXT NOT NULL,
		PRIMARY KEY (company_id, year, month)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CONTRACT STORE
// =============================================================================

func (s *Store) ListCompanyIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT company_id FROM contracts ORDER BY company_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) ContractHistory(ctx context.Context, companyID string) ([]bank.ContractParameters, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT company_id, kind, assessment_period_months, effective_year, effective_month,
		       hours_baseline_minutes, tickets_baseline, has_special_rollover,
		       cycles_before_zeroing, monthly_rollover_percent, current_cycle_index,
		       deficit_reduces_baseline
		FROM contracts WHERE company_id = ?`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []bank.ContractParameters
	for rows.Next() {
		var (
			p                 bank.ContractParameters
			year, month       int
			hoursBaseline     sql.NullInt64
			ticketsBaseline   sql.NullInt64
			special, deficits int
		)
		if err := rows.Scan(&p.CompanyID, &p.Kind, &p.AssessmentPeriodMonths, &year, &month,
			&hoursBaseline, &ticketsBaseline, &special, &p.CyclesBeforeZeroing,
			&p.MonthlyRolloverPercent, &p.CurrentCycleIndex, &deficits); err != nil {
			return nil, err
		}
		p.EffectiveFrom = bank.NewMonthKey(year, time.Month(month))
		p.HasSpecialRollover = special != 0
		p.DeficitReducesBaseline = deficits != 0
		if hoursBaseline.Valid {
			d := bank.Duration(hoursBaseline.Int64)
			p.HoursBaseline = &d
		}
		if ticketsBaseline.Valid {
			t := ticketsBaseline.Int64
			p.TicketsBaseline = &t
		}
		history = append(history, p)
	}
	return history, rows.Err()
}

func (s *Store) SaveContract(ctx context.Context, p bank.ContractParameters) error {
	if err := p.Validate(); err != nil {
		return err
	}
	var hoursBaseline, ticketsBaseline any
	if p.HoursBaseline != nil {
		hoursBaseline = p.HoursBaseline.Minutes()
	}
	if p.TicketsBaseline != nil {
		ticketsBaseline = *p.TicketsBaseline
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO contracts
			(company_id, kind, assessment_period_months, effective_year, effective_month,
			 hours_baseline_minutes, tickets_baseline, has_special_rollover,
			 cycles_before_zeroing, monthly_rollover_percent, current_cycle_index,
			 deficit_reduces_baseline)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.CompanyID, string(p.Kind), p.AssessmentPeriodMonths,
		p.EffectiveFrom.Year, int(p.EffectiveFrom.Month),
		hoursBaseline, ticketsBaseline, boolInt(p.HasSpecialRollover),
		p.CyclesBeforeZeroing, p.MonthlyRolloverPercent, p.CurrentCycleIndex,
		boolInt(p.DeficitReducesBaseline))
	return err
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (s *Store) GetEntry(ctx context.Context, companyID string, month bank.MonthKey) (*bank.MonthlyLedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT company_id, year, month, hours_json, tickets_json, is_cycle_end,
		       cycle_index, total_to_bill, version, calculated_at
		FROM ledger_entries WHERE company_id = ? AND year = ? AND month = ?`,
		companyID, month.Year, int(month.Month))
	return scanEntry(row)
}

func (s *Store) PutEntry(ctx context.Context, entry *bank.MonthlyLedgerEntry) error {
	hoursJSON, err := marshalFigures(entry.Hours)
	if err != nil {
		return err
	}
	ticketsJSON, err := marshalFigures(entry.Tickets)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO ledger_entries
			(company_id, year, month, hours_json, tickets_json, is_cycle_end,
			 cycle_index, total_to_bill, version, calculated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.CompanyID, entry.Month.Year, int(entry.Month.Month),
		hoursJSON, ticketsJSON, boolInt(entry.IsCycleEnd),
		entry.CycleIndex, entry.TotalToBill.String(), entry.Version,
		entry.CalculatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}

	// Same transaction: derived caches for this company become stale.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM segmented_cache WHERE company_id = ?`, entry.CompanyID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) LatestMonth(ctx context.Context, companyID string) (*bank.MonthKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT year, month FROM ledger_entries
		WHERE company_id = ? ORDER BY year DESC, month DESC LIMIT 1`, companyID)
	var year, month int
	if err := row.Scan(&year, &month); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	key := bank.NewMonthKey(year, time.Month(month))
	return &key, nil
}

// =============================================================================
// ADJUSTMENT STORE
// =============================================================================

func (s *Store) CreateAdjustment(ctx context.Context, adj bank.Adjustment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO adjustments
			(id, company_id, year, month, direction, hours_minutes, tickets,
			 justification, active, created_by, created_at, deactivated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		adj.ID, adj.CompanyID, adj.Month.Year, int(adj.Month.Month),
		string(adj.Direction), adj.Hours.Minutes(), adj.Tickets,
		adj.Justification, boolInt(adj.Active), adj.CreatedBy,
		adj.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *Store) GetAdjustment(ctx context.Context, id string) (*bank.Adjustment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, year, month, direction, hours_minutes, tickets,
		       justification, active, created_by, created_at, deactivated_at
		FROM adjustments WHERE id = ?`, id)
	adj, err := scanAdjustment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bank.ErrAdjustmentNotFound
	}
	return adj, err
}

func (s *Store) SetAdjustmentActive(ctx context.Context, id string, active bool) error {
	var deactivatedAt any
	if !active {
		deactivatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE adjustments SET active = ?, deactivated_at = ? WHERE id = ?`,
		boolInt(active), deactivatedAt, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return bank.ErrAdjustmentNotFound
	}
	return nil
}

func (s *Store) AdjustmentsForMonth(ctx context.Context, companyID string, month bank.MonthKey) ([]bank.Adjustment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, year, month, direction, hours_minutes, tickets,
		       justification, active, created_by, created_at, deactivated_at
		FROM adjustments
		WHERE company_id = ? AND year = ? AND month = ?
		ORDER BY created_at`, companyID, month.Year, int(month.Month))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bank.Adjustment
	for rows.Next() {
		adj, err := scanAdjustment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *adj)
	}
	return out, rows.Err()
}

// =============================================================================
// ALLOCATION STORE
// =============================================================================

func (s *Store) Allocations(ctx context.Context, companyID string) ([]bank.Allocation, error) {
	return s.queryAllocations(ctx,
		`SELECT id, company_id, name, share_percent, active FROM allocations
		 WHERE company_id = ? ORDER BY name`, companyID)
}

func (s *Store) ActiveAllocations(ctx context.Context, companyID string) ([]bank.Allocation, error) {
	return s.queryAllocations(ctx,
		`SELECT id, company_id, name, share_percent, active FROM allocations
		 WHERE company_id = ? AND active = 1 ORDER BY name`, companyID)
}

func (s *Store) queryAllocations(ctx context.Context, query string, args ...any) ([]bank.Allocation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bank.Allocation
	for rows.Next() {
		var a bank.Allocation
		var active int
		if err := rows.Scan(&a.ID, &a.CompanyID, &a.Name, &a.BaselineSharePercent, &active); err != nil {
			return nil, err
		}
		a.Active = active != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) SaveAllocation(ctx context.Context, a bank.Allocation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO allocations (id, company_id, name, share_percent, active)
		VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.CompanyID, a.Name, a.BaselineSharePercent, boolInt(a.Active))
	return err
}

// =============================================================================
// VERSION STORE - append-only
// =============================================================================

func (s *Store) AppendVersion(ctx context.Context, v bank.Version) error {
	var beforeJSON any
	if v.Before != nil {
		data, err := json.Marshal(v.Before)
		if err != nil {
			return err
		}
		beforeJSON = string(data)
	}
	afterJSON, err := json.Marshal(v.After)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO versions
			(id, company_id, year, month, from_version, to_version,
			 before_json, after_json, reason, change_kind, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.CompanyID, v.Month.Year, int(v.Month.Month),
		v.FromVersion, v.ToVersion, beforeJSON, string(afterJSON),
		v.Reason, string(v.ChangeKind), v.Actor,
		v.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *Store) Versions(ctx context.Context, companyID string, month bank.MonthKey) ([]bank.Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, year, month, from_version, to_version,
		       before_json, after_json, reason, change_kind, actor, created_at
		FROM versions
		WHERE company_id = ? AND year = ? AND month = ?
		ORDER BY to_version`, companyID, month.Year, int(month.Month))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bank.Version
	for rows.Next() {
		var (
			v                    bank.Version
			year, monthNum       int
			beforeJSON           sql.NullString
			changeKind           string
			afterJSON, createdAt string
		)
		if err := rows.Scan(&v.ID, &v.CompanyID, &year, &monthNum, &v.FromVersion,
			&v.ToVersion, &beforeJSON, &afterJSON, &v.Reason, &changeKind,
			&v.Actor, &createdAt); err != nil {
			return nil, err
		}
		v.Month = bank.NewMonthKey(year, time.Month(monthNum))
		v.ChangeKind = bank.ChangeKind(changeKind)
		if beforeJSON.Valid {
			var before bank.MonthlyLedgerEntry
			if err := json.Unmarshal([]byte(beforeJSON.String), &before); err != nil {
				return nil, err
			}
			v.Before = &before
		}
		var after bank.MonthlyLedgerEntry
		if err := json.Unmarshal([]byte(afterJSON), &after); err != nil {
			return nil, err
		}
		v.After = &after
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			v.CreatedAt = t
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// =============================================================================
// AUDIT LOG - append-only
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, e bank.AuditEntry) error {
	var year, month any
	if e.Month != nil {
		year = e.Month.Year
		month = int(e.Month.Month)
	}
	var payloadJSON any
	if e.Payload != nil {
		data, err := json.Marshal(e.Payload)
		if err != nil {
			return err
		}
		payloadJSON = string(data)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, ts, actor_id, action, company_id, year, month, description, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UTC().Format(time.RFC3339Nano), e.ActorID,
		string(e.Action), e.CompanyID, year, month, e.Description, payloadJSON)
	return err
}

func (s *Store) QueryAudit(ctx context.Context, filter bank.AuditFilter) ([]bank.AuditEntry, error) {
	query := `SELECT id, ts, actor_id, action, company_id, year, month, description, payload_json
	          FROM audit_log WHERE 1=1`
	var args []any
	if filter.CompanyID != nil {
		query += " AND company_id = ?"
		args = append(args, *filter.CompanyID)
	}
	if filter.ActorID != nil {
		query += " AND actor_id = ?"
		args = append(args, *filter.ActorID)
	}
	if len(filter.Actions) > 0 {
		query += " AND action IN (?" + repeatPlaceholder(len(filter.Actions)-1) + ")"
		for _, a := range filter.Actions {
			args = append(args, string(a))
		}
	}
	if filter.From != nil {
		query += " AND ts >= ?"
		args = append(args, filter.From.UTC().Format(time.RFC3339Nano))
	}
	if filter.To != nil {
		query += " AND ts <= ?"
		args = append(args, filter.To.UTC().Format(time.RFC3339Nano))
	}
	query += " ORDER BY ts"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bank.AuditEntry
	for rows.Next() {
		var (
			e           bank.AuditEntry
			ts          string
			year, month sql.NullInt64
			description sql.NullString
			payloadJSON sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.ActorID, &e.Action, &e.CompanyID,
			&year, &month, &description, &payloadJSON); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = t
		}
		if year.Valid && month.Valid {
			key := bank.NewMonthKey(int(year.Int64), time.Month(month.Int64))
			e.Month = &key
		}
		e.Description = description.String
		if payloadJSON.Valid {
			_ = json.Unmarshal([]byte(payloadJSON.String), &e.Payload)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// SEGMENTED CACHE
// =============================================================================

func (s *Store) PutSegmented(ctx context.Context, companyID string, month bank.MonthKey, segments []bank.SegmentedLedgerEntry) error {
	data, err := json.Marshal(segments)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO segmented_cache (company_id, year, month, rows_json)
		VALUES (?, ?, ?, ?)`,
		companyID, month.Year, int(month.Month), string(data))
	return err
}

func (s *Store) CachedSegmented(ctx context.Context, companyID string, month bank.MonthKey) ([]bank.SegmentedLedgerEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT rows_json FROM segmented_cache
		WHERE company_id = ? AND year = ? AND month = ?`,
		companyID, month.Year, int(month.Month))
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var segments []bank.SegmentedLedgerEntry
	if err := json.Unmarshal([]byte(data), &segments); err != nil {
		return nil, false, err
	}
	return segments, true, nil
}

// =============================================================================
// EXTERNAL SOURCES - totals and rates
// =============================================================================

func (s *Store) Consumption(ctx context.Context, companyID string, month bank.MonthKey) (bank.UsageTotals, error) {
	return s.totals(ctx, "consumption_totals", companyID, month)
}

func (s *Store) BilledRequirements(ctx context.Context, companyID string, month bank.MonthKey) (bank.UsageTotals, error) {
	return s.totals(ctx, "billed_totals", companyID, month)
}

func (s *Store) totals(ctx context.Context, table, companyID string, month bank.MonthKey) (bank.UsageTotals, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT hours_minutes, tickets FROM `+table+` WHERE company_id = ? AND year = ? AND month = ?`,
		companyID, month.Year, int(month.Month))
	var minutes, tickets int64
	if err := row.Scan(&minutes, &tickets); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// No recorded activity is a legitimate zero, not an outage.
			return bank.UsageTotals{}, nil
		}
		return bank.UsageTotals{}, err
	}
	return bank.UsageTotals{Hours: bank.Duration(minutes), Tickets: tickets}, nil
}

// Rate resolves the latest configured rate at or before the month.
func (s *Store) Rate(ctx context.Context, companyID string, month bank.MonthKey, kind bank.Kind) (decimal.Decimal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT rate FROM rates
		WHERE company_id = ? AND kind = ?
		  AND (effective_year < ? OR (effective_year = ? AND effective_month <= ?))
		ORDER BY effective_year DESC, effective_month DESC LIMIT 1`,
		companyID, string(kind), month.Year, month.Year, int(month.Month))
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, bank.ErrRateNotFound
		}
		return decimal.Zero, err
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt rate %q for company %s: %w", raw, companyID, err)
	}
	return rate, nil
}

// SetConsumption upserts a month's consumption totals. Written by the
// synchronization pipeline and by test fixtures.
func (s *Store) SetConsumption(ctx context.Context, companyID string, month bank.MonthKey, totals bank.UsageTotals) error {
	return s.setTotals(ctx, "consumption_totals", companyID, month, totals)
}

// SetBilled upserts a month's billed-requirement totals.
func (s *Store) SetBilled(ctx context.Context, companyID string, month bank.MonthKey, totals bank.UsageTotals) error {
	return s.setTotals(ctx, "billed_totals", companyID, month, totals)
}

func (s *Store) setTotals(ctx context.Context, table, companyID string, month bank.MonthKey, totals bank.UsageTotals) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO `+table+` (company_id, year, month, hours_minutes, tickets) VALUES (?, ?, ?, ?, ?)`,
		companyID, month.Year, int(month.Month), totals.Hours.Minutes(), totals.Tickets)
	return err
}

// SetRate upserts a rate effective from the given month.
func (s *Store) SetRate(ctx context.Context, companyID string, effectiveFrom bank.MonthKey, kind bank.Kind, rate decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO rates (company_id, kind, effective_year, effective_month, rate) VALUES (?, ?, ?, ?, ?)`,
		companyID, string(kind), effectiveFrom.Year, int(effectiveFrom.Month), rate.String())
	return err
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*bank.MonthlyLedgerEntry, error) {
	var (
		e                      bank.MonthlyLedgerEntry
		year, month, cycleEnd  int
		hoursJSON, ticketJSON  sql.NullString
		totalToBill, calcAtRaw string
	)
	if err := row.Scan(&e.CompanyID, &year, &month, &hoursJSON, &ticketJSON,
		&cycleEnd, &e.CycleIndex, &totalToBill, &e.Version, &calcAtRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, bank.ErrEntryNotFound
		}
		return nil, err
	}
	e.Month = bank.NewMonthKey(year, time.Month(month))
	e.IsCycleEnd = cycleEnd != 0

	var err error
	if e.Hours, err = unmarshalFigures(hoursJSON); err != nil {
		return nil, err
	}
	if e.Tickets, err = unmarshalFigures(ticketJSON); err != nil {
		return nil, err
	}
	if e.TotalToBill, err = decimal.NewFromString(totalToBill); err != nil {
		return nil, fmt.Errorf("corrupt total_to_bill %q: %w", totalToBill, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, calcAtRaw); err == nil {
		e.CalculatedAt = t
	}
	return &e, nil
}

func scanAdjustment(row rowScanner) (*bank.Adjustment, error) {
	var (
		adj                 bank.Adjustment
		year, month, active int
		minutes             int64
		createdAt           string
		deactivatedAt       sql.NullString
	)
	if err := row.Scan(&adj.ID, &adj.CompanyID, &year, &month, &adj.Direction,
		&minutes, &adj.Tickets, &adj.Justification, &active, &adj.CreatedBy,
		&createdAt, &deactivatedAt); err != nil {
		return nil, err
	}
	adj.Month = bank.NewMonthKey(year, time.Month(month))
	adj.Hours = bank.Duration(minutes)
	adj.Active = active != 0
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		adj.CreatedAt = t
	}
	if deactivatedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, deactivatedAt.String); err == nil {
			adj.DeactivatedAt = &t
		}
	}
	return &adj, nil
}

func marshalFigures(f *bank.KindFigures) (any, error) {
	if f == nil {
		return nil, nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func unmarshalFigures(raw sql.NullString) (*bank.KindFigures, error) {
	if !raw.Valid {
		return nil, nil
	}
	var f bank.KindFigures
	if err := json.Unmarshal([]byte(raw.String), &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
