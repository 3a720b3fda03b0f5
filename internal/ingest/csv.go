// Package ingest parses uploaded transaction CSVs into validated batches.
// The scoring core never sees a file; it receives the in-memory slice this
// package produces.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/shikra/internal/domain"
)

// timestamp layouts accepted in the dataset, tried in order.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// ReadBatch parses a transaction CSV with a header row. Malformed rows are
// logged and skipped so one bad record never aborts the batch; the skipped
// count is returned alongside the valid transactions, in file order.
func ReadBatch(r io.Reader) ([]*domain.Transaction, int, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read CSV header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, required := range []string{"txn_id", "sender_vpa", "receiver_vpa", "amount", "timestamp"} {
		if _, ok := columns[required]; !ok {
			return nil, 0, fmt.Errorf("CSV is missing required column %q", required)
		}
	}

	var (
		txns    []*domain.Transaction
		skipped int
		line    = 1
	)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			slog.Warn("skipping unreadable CSV row", "line", line, "error", err)
			skipped++
			continue
		}

		txn, err := parseRow(columns, record)
		if err != nil {
			slog.Warn("skipping malformed transaction row", "line", line, "error", err)
			skipped++
			continue
		}
		txns = append(txns, txn)
	}

	return txns, skipped, nil
}

func parseRow(columns map[string]int, record []string) (*domain.Transaction, error) {
	field := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	amount, err := strconv.ParseFloat(field("amount"), 64)
	if err != nil {
		return nil, fmt.Errorf("could not parse amount %q: %w", field("amount"), err)
	}

	anomaly := 0.0
	if raw := field("anomaly_score"); raw != "" {
		anomaly, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("could not parse anomaly_score %q: %w", raw, err)
		}
	}

	timestamp, err := parseTimestamp(field("timestamp"))
	if err != nil {
		return nil, err
	}

	state := field("state")
	if state == "" {
		state = "Unknown"
	}

	txn := &domain.Transaction{
		TxnID:               field("txn_id"),
		SenderVPA:           field("sender_vpa"),
		ReceiverVPA:         field("receiver_vpa"),
		Amount:              amount,
		Channel:             field("channel"),
		IsNewCounterparty:   parseBool(field("is_new_counterparty")),
		DeviceChange:        parseBool(field("device_change")),
		LocationChange:      parseBool(field("location_change")),
		RequiresPIN:         parseBool(field("requires_pin")),
		PageContext:         field("page_context"),
		ScannedQRVPA:        field("scanned_qr_vpa"),
		MerchantExpectedVPA: field("merchant_expected_vpa"),
		AnomalyScore:        anomaly,
		Timestamp:           timestamp,
		State:               state,
	}

	if err := txn.Validate(); err != nil {
		return nil, err
	}
	return txn, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("could not parse timestamp %q", raw)
}

func parseBool(raw string) bool {
	switch strings.ToLower(raw) {
	case "true", "1", "yes":
		return true
	}
	return false
}
