package repository

// Schema definitions for Shikra.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    txn_id TEXT NOT NULL,
    batch_id TEXT NOT NULL,
    sender_vpa TEXT NOT NULL,
    receiver_vpa TEXT NOT NULL,
    amount REAL NOT NULL,
    channel TEXT,
    is_new_counterparty BOOLEAN NOT NULL,
    device_change BOOLEAN NOT NULL,
    location_change BOOLEAN NOT NULL,
    requires_pin BOOLEAN NOT NULL,
    page_context TEXT,
    scanned_qr_vpa TEXT,
    merchant_expected_vpa TEXT,
    anomaly_score REAL NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    state TEXT,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (batch_id, txn_id)
);

CREATE INDEX IF NOT EXISTS idx_transactions_batch ON transactions(batch_id);
CREATE INDEX IF NOT EXISTS idx_transactions_pair ON transactions(sender_vpa, receiver_vpa);
CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(timestamp);
`

const schemaVerdicts = `
CREATE TABLE IF NOT EXISTS verdicts (
    id TEXT PRIMARY KEY,
    batch_id TEXT NOT NULL,
    txn_id TEXT NOT NULL,
    sender_upi TEXT NOT NULL,
    amount REAL NOT NULL,
    rule_score REAL NOT NULL,
    ml_score REAL NOT NULL,
    risk_score REAL NOT NULL,
    verdict TEXT NOT NULL,
    reason TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_verdicts_batch ON verdicts(batch_id);
CREATE INDEX IF NOT EXISTS idx_verdicts_txn ON verdicts(txn_id);
CREATE INDEX IF NOT EXISTS idx_verdicts_verdict ON verdicts(verdict);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaVerdicts,
	}
}
