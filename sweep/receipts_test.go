package sweep

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ngemuantony/mpesa/gateway"
	"github.com/ngemuantony/mpesa/models"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "mpesa.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := db.AutoMigrate(&models.Transaction{}); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}

type staticTokenSource string

func (s staticTokenSource) Token(context.Context) (string, error) { return string(s), nil }

func sweepGateway(t *testing.T, provider *httptest.Server) *gateway.Gateway {
	t.Helper()
	g := gateway.New(gateway.Config{
		Shortcode:      "174379",
		Passkey:        "passkey",
		AccessTokenURL: provider.URL + "/oauth",
		CheckoutURL:    provider.URL + "/stkpush",
		QueryURL:       provider.URL + "/stkquery",
		CallbackURL:    "https://example.com/callback",
	}, testDB(t))
	g.Tokens = staticTokenSource("test-token")
	return g
}

func TestFixMissingReceipts(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"ResultCode":         "0",
			"MpesaReceiptNumber": "NLJ7RT61SV",
		})
	}))
	defer provider.Close()

	g := sweepGateway(t, provider)
	g.DB.Create(&models.Transaction{
		CheckoutRequestID: "ws_CO_1",
		PhoneNumber:       "254718643064",
		Amount:            "100",
		Status:            models.StatusComplete,
	})
	// Not eligible: already has its receipt.
	g.DB.Create(&models.Transaction{
		CheckoutRequestID: "ws_CO_2",
		PhoneNumber:       "254718643064",
		Amount:            "50",
		Status:            models.StatusComplete,
		ReceiptNo:         "OLD123",
	})

	res, err := FixMissingReceipts(context.Background(), g, Options{})
	if err != nil {
		t.Fatalf("FixMissingReceipts: %v", err)
	}
	if res.Scanned != 1 || res.Fixed != 1 {
		t.Errorf("result = %+v, want 1 scanned, 1 fixed", res)
	}

	var tx models.Transaction
	g.DB.Where("checkout_request_id = ?", "ws_CO_1").First(&tx)
	if tx.ReceiptNo != "NLJ7RT61SV" {
		t.Errorf("receipt_no = %q, want NLJ7RT61SV", tx.ReceiptNo)
	}
}

func TestFixMissingReceipts_DryRun(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"ResultCode":         "0",
			"MpesaReceiptNumber": "NLJ7RT61SV",
		})
	}))
	defer provider.Close()

	g := sweepGateway(t, provider)
	g.DB.Create(&models.Transaction{
		CheckoutRequestID: "ws_CO_1",
		PhoneNumber:       "254718643064",
		Amount:            "100",
		Status:            models.StatusComplete,
	})

	res, err := FixMissingReceipts(context.Background(), g, Options{DryRun: true})
	if err != nil {
		t.Fatalf("FixMissingReceipts: %v", err)
	}
	if res.Fixed != 1 {
		t.Errorf("dry run reported %d fixable", res.Fixed)
	}

	var tx models.Transaction
	g.DB.Where("checkout_request_id = ?", "ws_CO_1").First(&tx)
	if tx.ReceiptNo != "" {
		t.Error("dry run wrote a receipt")
	}
}

func TestFixMissingReceipts_NoReceiptAvailable(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ResultCode": "0"})
	}))
	defer provider.Close()

	g := sweepGateway(t, provider)
	g.DB.Create(&models.Transaction{
		CheckoutRequestID: "ws_CO_1",
		PhoneNumber:       "254718643064",
		Amount:            "100",
		Status:            models.StatusComplete,
	})

	res, err := FixMissingReceipts(context.Background(), g, Options{})
	if err != nil {
		t.Fatalf("FixMissingReceipts: %v", err)
	}
	if res.Failed != 1 || res.Fixed != 0 {
		t.Errorf("result = %+v, want 1 failed", res)
	}
}
