package ingest

import (
	"strings"
	"testing"
	"time"
)

func TestReadBatch(t *testing.T) {
	t.Run("ParsesValidRows", func(t *testing.T) {
		csv := `txn_id,sender_vpa,receiver_vpa,amount,channel,is_new_counterparty,device_change,location_change,requires_pin,page_context,scanned_qr_vpa,merchant_expected_vpa,anomaly_score,timestamp,state
t1,alice@upi,bob@upi,1500.50,qr,true,false,false,true,refund_screen,evil@upi,shop@upi,0.72,2025-06-01T10:00:00Z,Karnataka
t2,carol@upi,dave@upi,5,transfer,0,0,0,0,,,,0.1,2025-06-01 10:05:00,Maharashtra
`
		txns, skipped, err := ReadBatch(strings.NewReader(csv))
		if err != nil {
			t.Fatalf("ReadBatch failed: %v", err)
		}
		if skipped != 0 {
			t.Errorf("expected 0 skipped, got %d", skipped)
		}
		if len(txns) != 2 {
			t.Fatalf("expected 2 transactions, got %d", len(txns))
		}

		first := txns[0]
		if first.TxnID != "t1" || first.SenderVPA != "alice@upi" || first.ReceiverVPA != "bob@upi" {
			t.Errorf("unexpected identifiers %+v", first)
		}
		if first.Amount != 1500.50 {
			t.Errorf("expected amount 1500.50, got %v", first.Amount)
		}
		if !first.IsNewCounterparty || first.DeviceChange {
			t.Errorf("unexpected flags %+v", first)
		}
		if !first.RequiresPIN || first.PageContext != "refund_screen" {
			t.Errorf("unexpected phishing fields %+v", first)
		}
		if first.ScannedQRVPA != "evil@upi" || first.MerchantExpectedVPA != "shop@upi" {
			t.Errorf("unexpected QR fields %+v", first)
		}
		if first.AnomalyScore != 0.72 {
			t.Errorf("expected anomaly 0.72, got %v", first.AnomalyScore)
		}
		want := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
		if !first.Timestamp.Equal(want) {
			t.Errorf("expected timestamp %v, got %v", want, first.Timestamp)
		}

		// Space-separated timestamp layout also parses.
		if txns[1].Timestamp.IsZero() {
			t.Error("second row timestamp did not parse")
		}
	})

	t.Run("MissingStateDefaultsToUnknown", func(t *testing.T) {
		csv := `txn_id,sender_vpa,receiver_vpa,amount,timestamp
t1,a@upi,b@upi,100,2025-06-01T10:00:00Z
`
		txns, _, err := ReadBatch(strings.NewReader(csv))
		if err != nil {
			t.Fatalf("ReadBatch failed: %v", err)
		}
		if txns[0].State != "Unknown" {
			t.Errorf("expected Unknown, got %q", txns[0].State)
		}
	})

	t.Run("SkipsMalformedRows", func(t *testing.T) {
		csv := `txn_id,sender_vpa,receiver_vpa,amount,timestamp
t1,a@upi,b@upi,not-a-number,2025-06-01T10:00:00Z
t2,a@upi,b@upi,100,not-a-date
t3,,b@upi,100,2025-06-01T10:00:00Z
t4,a@upi,b@upi,100,2025-06-01T10:00:00Z
`
		txns, skipped, err := ReadBatch(strings.NewReader(csv))
		if err != nil {
			t.Fatalf("one bad row must not abort the batch: %v", err)
		}
		if skipped != 3 {
			t.Errorf("expected 3 skipped, got %d", skipped)
		}
		if len(txns) != 1 || txns[0].TxnID != "t4" {
			t.Errorf("expected only t4 to survive, got %+v", txns)
		}
	})

	t.Run("MissingRequiredColumn", func(t *testing.T) {
		csv := `txn_id,sender_vpa,amount,timestamp
t1,a@upi,100,2025-06-01T10:00:00Z
`
		if _, _, err := ReadBatch(strings.NewReader(csv)); err == nil {
			t.Error("expected error for missing receiver_vpa column")
		}
	})

	t.Run("HeaderCaseInsensitive", func(t *testing.T) {
		csv := `Txn_ID,Sender_VPA,Receiver_VPA,Amount,Timestamp
t1,a@upi,b@upi,100,2025-06-01T10:00:00Z
`
		txns, _, err := ReadBatch(strings.NewReader(csv))
		if err != nil {
			t.Fatalf("ReadBatch failed: %v", err)
		}
		if len(txns) != 1 {
			t.Errorf("expected 1 transaction, got %d", len(txns))
		}
	})

	t.Run("BoolSpellings", func(t *testing.T) {
		csv := `txn_id,sender_vpa,receiver_vpa,amount,timestamp,is_new_counterparty,device_change,location_change
t1,a@upi,b@upi,100,2025-06-01T10:00:00Z,YES,1,false
`
		txns, _, err := ReadBatch(strings.NewReader(csv))
		if err != nil {
			t.Fatalf("ReadBatch failed: %v", err)
		}
		txn := txns[0]
		if !txn.IsNewCounterparty || !txn.DeviceChange || txn.LocationChange {
			t.Errorf("unexpected bool parsing %+v", txn)
		}
	})

	t.Run("EmptyFile", func(t *testing.T) {
		if _, _, err := ReadBatch(strings.NewReader("")); err == nil {
			t.Error("expected error for missing header")
		}
	})
}
