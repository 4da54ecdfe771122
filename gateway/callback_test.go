package gateway

import (
	"testing"

	"github.com/ngemuantony/mpesa/models"
)

const successBody = `{
	"Body": {
		"stkCallback": {
			"MerchantRequestID": "29115-34620561-1",
			"CheckoutRequestID": "ws_CO_191220191020363925",
			"ResultCode": 0,
			"ResultDesc": "The service request is processed successfully.",
			"CallbackMetadata": {
				"Item": [
					{"Name": "Amount", "Value": 100},
					{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
					{"Name": "TransactionDate", "Value": 20191219102115},
					{"Name": "PhoneNumber", "Value": 254718643064}
				]
			}
		}
	}
}`

const cancelledBody = `{
	"Body": {
		"stkCallback": {
			"MerchantRequestID": "29115-34620561-1",
			"CheckoutRequestID": "ws_CO_191220191020363925",
			"ResultCode": 1032,
			"ResultDesc": "Request cancelled by user"
		}
	}
}`

func pendingTransaction(t *testing.T, g *Gateway) *models.Transaction {
	t.Helper()
	tx := &models.Transaction{
		CheckoutRequestID: "ws_CO_191220191020363925",
		PhoneNumber:       "254700000000",
		Amount:            "100",
		Status:            models.StatusPending,
	}
	if err := g.DB.Create(tx).Error; err != nil {
		t.Fatalf("create pending transaction: %v", err)
	}
	return tx
}

func TestHandleCallback_SuccessPath(t *testing.T) {
	g := testGateway(t, "http://provider.invalid")
	pendingTransaction(t, g)

	env, err := ParseCallback([]byte(successBody))
	if err != nil {
		t.Fatalf("ParseCallback: %v", err)
	}
	tx, err := g.HandleCallback(env)
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	if tx.Status != models.StatusComplete {
		t.Errorf("status = %s, want Complete", tx.Status)
	}
	if tx.ReceiptNo != "NLJ7RT61SV" {
		t.Errorf("receipt_no = %q, want NLJ7RT61SV", tx.ReceiptNo)
	}
	// Settlement data supersedes the client-declared values.
	if tx.PhoneNumber != "254718643064" {
		t.Errorf("phone_number = %q, want settlement value", tx.PhoneNumber)
	}
	if tx.Amount != "100" {
		t.Errorf("amount = %q, want 100", tx.Amount)
	}

	var stored models.Transaction
	if err := g.DB.Where("checkout_request_id = ?", "ws_CO_191220191020363925").First(&stored).Error; err != nil {
		t.Fatalf("stored transaction: %v", err)
	}
	if stored.Status != models.StatusComplete || stored.ReceiptNo != "NLJ7RT61SV" {
		t.Errorf("persisted state = %s %q", stored.Status, stored.ReceiptNo)
	}
}

func TestHandleCallback_Idempotent(t *testing.T) {
	g := testGateway(t, "http://provider.invalid")
	pendingTransaction(t, g)

	env, _ := ParseCallback([]byte(successBody))
	first, err := g.HandleCallback(env)
	if err != nil {
		t.Fatalf("first HandleCallback: %v", err)
	}
	second, err := g.HandleCallback(env)
	if err != nil {
		t.Fatalf("second HandleCallback: %v", err)
	}

	if second.Status != models.StatusComplete || second.ReceiptNo != first.ReceiptNo {
		t.Errorf("retry changed outcome: %s %q", second.Status, second.ReceiptNo)
	}
	var count int64
	g.DB.Model(&models.Transaction{}).Count(&count)
	if count != 1 {
		t.Errorf("duplicate callback produced %d rows", count)
	}
}

func TestHandleCallback_TerminalStateNotOverwritten(t *testing.T) {
	g := testGateway(t, "http://provider.invalid")
	pendingTransaction(t, g)

	env, _ := ParseCallback([]byte(successBody))
	if _, err := g.HandleCallback(env); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	// A stale retry with different metadata must not corrupt the record.
	stale := `{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "29115-34620561-1",
				"CheckoutRequestID": "ws_CO_191220191020363925",
				"ResultCode": 0,
				"ResultDesc": "ok",
				"CallbackMetadata": {
					"Item": [{"Name": "MpesaReceiptNumber", "Value": "DIFFERENT"}]
				}
			}
		}
	}`
	staleEnv, _ := ParseCallback([]byte(stale))
	tx, err := g.HandleCallback(staleEnv)
	if err != nil {
		t.Fatalf("retry HandleCallback: %v", err)
	}
	if tx.ReceiptNo != "NLJ7RT61SV" {
		t.Errorf("stale retry overwrote receipt: %q", tx.ReceiptNo)
	}
}

func TestHandleCallback_FailurePath(t *testing.T) {
	g := testGateway(t, "http://provider.invalid")
	pendingTransaction(t, g)

	env, _ := ParseCallback([]byte(cancelledBody))
	tx, err := g.HandleCallback(env)
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if tx.Status != models.StatusCancelled {
		t.Errorf("status = %s, want Cancelled", tx.Status)
	}
	if tx.ReceiptNo != "" {
		t.Errorf("failed payment has receipt_no %q", tx.ReceiptNo)
	}
}

func TestHandleCallback_UnknownTransactionCreated(t *testing.T) {
	g := testGateway(t, "http://provider.invalid")

	env, _ := ParseCallback([]byte(successBody))
	tx, err := g.HandleCallback(env)
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if tx.Status != models.StatusComplete {
		t.Errorf("status = %s, want Complete", tx.Status)
	}
	if tx.TransactionNo == "" {
		t.Error("defensively created transaction has no transaction_no")
	}
}

func TestHandleCallback_MissingMetadataLeavesFieldsUnset(t *testing.T) {
	g := testGateway(t, "http://provider.invalid")
	pendingTransaction(t, g)

	body := `{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "29115-34620561-1",
				"CheckoutRequestID": "ws_CO_191220191020363925",
				"ResultCode": 0,
				"ResultDesc": "ok"
			}
		}
	}`
	env, _ := ParseCallback([]byte(body))
	tx, err := g.HandleCallback(env)
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if tx.Status != models.StatusComplete {
		t.Errorf("status = %s, want Complete", tx.Status)
	}
	if tx.ReceiptNo != "" {
		t.Errorf("receipt_no = %q, want empty", tx.ReceiptNo)
	}
	// The original request values survive when no settlement data came back.
	if tx.PhoneNumber != "254700000000" {
		t.Errorf("phone_number = %q", tx.PhoneNumber)
	}
}

func TestStatusForResultCode(t *testing.T) {
	cases := map[string]models.Status{
		"0":    models.StatusComplete,
		"1032": models.StatusCancelled,
		"1037": models.StatusTimeout,
		"1":    models.StatusFailed,
		"17":   models.StatusFailed,
		"1001": models.StatusPending,
		"4999": models.StatusPending,
		"2001": models.StatusFailed, // unrecognized codes fail safe
	}
	for code, want := range cases {
		if got := StatusForResultCode(code); got != want {
			t.Errorf("StatusForResultCode(%s) = %s, want %s", code, got, want)
		}
	}
}
