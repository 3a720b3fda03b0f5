// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/shikra/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransactions stores the raw transactions of a batch in one database
// transaction.
func (r *SQLRepository) SaveTransactions(ctx context.Context, batchID string, txns []*domain.Transaction) error {
	if batchID == "" {
		return fmt.Errorf("%w: batchID is required", ErrInvalidInput)
	}
	if len(txns) == 0 {
		return nil
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	query := r.rebind(`
		INSERT INTO transactions (
			txn_id, batch_id, sender_vpa, receiver_vpa, amount, channel,
			is_new_counterparty, device_change, location_change, requires_pin,
			page_context, scanned_qr_vpa, merchant_expected_vpa,
			anomaly_score, timestamp, state, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	now := time.Now().UTC()
	for _, txn := range txns {
		if _, err := dbTx.ExecContext(ctx, query,
			txn.TxnID, batchID, txn.SenderVPA, txn.ReceiverVPA,
			txn.Amount, txn.Channel,
			txn.IsNewCounterparty, txn.DeviceChange, txn.LocationChange, txn.RequiresPIN,
			txn.PageContext, txn.ScannedQRVPA, txn.MerchantExpectedVPA,
			txn.AnomalyScore, txn.Timestamp, txn.State, now,
		); err != nil {
			return err
		}
	}

	return dbTx.Commit()
}

// SaveVerdicts bulk-inserts verdicts in one database transaction, matching
// the all-or-nothing merge: either the whole batch persists or none of it.
func (r *SQLRepository) SaveVerdicts(ctx context.Context, verdicts []*domain.FinalVerdict) error {
	if len(verdicts) == 0 {
		return nil
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	query := r.rebind(`
		INSERT INTO verdicts (
			id, batch_id, txn_id, sender_upi, amount,
			rule_score, ml_score, risk_score, verdict, reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	for _, v := range verdicts {
		if _, err := dbTx.ExecContext(ctx, query,
			v.ID, v.BatchID, v.TxnID, v.SenderUPI, v.Amount,
			v.RuleScore, v.MLScore, v.RiskScore, v.Verdict, v.Reason, v.CreatedAt,
		); err != nil {
			return err
		}
	}

	return dbTx.Commit()
}

// GetVerdict retrieves a verdict by ID.
func (r *SQLRepository) GetVerdict(ctx context.Context, id string) (*domain.FinalVerdict, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}

	query := r.rebind(`
		SELECT id, batch_id, txn_id, sender_upi, amount,
			   rule_score, ml_score, risk_score, verdict, reason, created_at
		FROM verdicts
		WHERE id = ?
	`)

	var v domain.FinalVerdict
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&v.ID, &v.BatchID, &v.TxnID, &v.SenderUPI, &v.Amount,
		&v.RuleScore, &v.MLScore, &v.RiskScore, &v.Verdict, &v.Reason, &v.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListVerdictsByBatch returns all verdicts of a batch in insertion order.
func (r *SQLRepository) ListVerdictsByBatch(ctx context.Context, batchID string) ([]*domain.FinalVerdict, error) {
	if batchID == "" {
		return nil, fmt.Errorf("%w: batchID is required", ErrInvalidInput)
	}

	query := r.rebind(`
		SELECT id, batch_id, txn_id, sender_upi, amount,
			   rule_score, ml_score, risk_score, verdict, reason, created_at
		FROM verdicts
		WHERE batch_id = ?
		ORDER BY rowid
	`)
	if r.driver == "postgres" {
		query = r.rebind(`
			SELECT id, batch_id, txn_id, sender_upi, amount,
				   rule_score, ml_score, risk_score, verdict, reason, created_at
			FROM verdicts
			WHERE batch_id = ?
			ORDER BY created_at, id
		`)
	}

	rows, err := r.db.QueryContext(ctx, query, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var verdicts []*domain.FinalVerdict
	for rows.Next() {
		var v domain.FinalVerdict
		if err := rows.Scan(
			&v.ID, &v.BatchID, &v.TxnID, &v.SenderUPI, &v.Amount,
			&v.RuleScore, &v.MLScore, &v.RiskScore, &v.Verdict, &v.Reason, &v.CreatedAt,
		); err != nil {
			return nil, err
		}
		verdicts = append(verdicts, &v)
	}

	return verdicts, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
