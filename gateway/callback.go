package gateway

import (
	"encoding/json"
	"log"
	"strconv"
	"strings"

	"github.com/ngemuantony/mpesa/models"
	"github.com/ngemuantony/mpesa/utils"
)

// CallbackEnvelope mirrors the JSON body Daraja posts to the callback URL.
type CallbackEnvelope struct {
	Body struct {
		StkCallback StkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type StkCallback struct {
	MerchantRequestID string        `json:"MerchantRequestID"`
	CheckoutRequestID string        `json:"CheckoutRequestID"`
	ResultCode        int           `json:"ResultCode"`
	ResultDesc        string        `json:"ResultDesc"`
	CallbackMetadata  *CallbackMeta `json:"CallbackMetadata,omitempty"`
}

type CallbackMeta struct {
	Item []MetaItem `json:"Item"`
}

// MetaItem is one settlement metadata entry. Value is a string or a
// number depending on the field.
type MetaItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value,omitempty"`
}

// ParseCallback decodes a raw callback body.
func ParseCallback(data []byte) (*CallbackEnvelope, error) {
	var env CallbackEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// StatusForResultCode maps a Daraja result code onto the local transaction
// status. The callback path and the STK query path share this mapping.
func StatusForResultCode(code string) models.Status {
	switch code {
	case "0":
		return models.StatusComplete
	case "1032": // request cancelled by user
		return models.StatusCancelled
	case "1037": // DS timeout, no response from user
		return models.StatusTimeout
	case "1001", "4999": // still under processing
		return models.StatusPending
	default: // 1 (insufficient funds), 17 and anything unrecognized
		return models.StatusFailed
	}
}

// HandleCallback applies one provider callback to the ledger. Running the
// same callback twice leaves the same final record: the terminal-state
// guard turns retries into acknowledged no-ops, so a lost 200 cannot
// corrupt settled data.
func (g *Gateway) HandleCallback(env *CallbackEnvelope) (*models.Transaction, error) {
	cb := env.Body.StkCallback
	sanitizeCallback(&cb)

	tx, err := g.resolveTransaction(cb.CheckoutRequestID)
	if err != nil {
		return nil, err
	}

	if tx.Status.Terminal() {
		log.Printf("callback for %s ignored: transaction already %s", cb.CheckoutRequestID, tx.Status)
		return tx, nil
	}

	status := StatusForResultCode(strconv.Itoa(cb.ResultCode))
	switch status {
	case models.StatusComplete:
		applySettlement(tx, cb.CallbackMetadata)
		tx.Status = models.StatusComplete
		log.Printf("payment successful for CheckoutRequestID: %s", cb.CheckoutRequestID)
	case models.StatusPending:
		log.Printf("payment still processing for CheckoutRequestID: %s (code %d)", cb.CheckoutRequestID, cb.ResultCode)
		return tx, nil
	default:
		tx.Status = status
		log.Printf("payment failed for CheckoutRequestID: %s with code %d", cb.CheckoutRequestID, cb.ResultCode)
	}

	if err := g.DB.Save(tx).Error; err != nil {
		return nil, err
	}
	return tx, nil
}

// resolveTransaction looks up the record for a correlation id, creating a
// Pending one when none exists. Callbacks can legitimately arrive for
// unknown ids, e.g. after a restart wiped an in-flight initiation.
func (g *Gateway) resolveTransaction(checkoutRequestID string) (*models.Transaction, error) {
	var tx models.Transaction
	err := g.DB.
		Where(models.Transaction{CheckoutRequestID: checkoutRequestID}).
		Attrs(models.Transaction{Status: models.StatusPending}).
		FirstOrCreate(&tx).Error
	if err != nil {
		// A concurrent duplicate callback may have inserted the row first;
		// the unique index turns that race into a fetchable record.
		var again models.Transaction
		if err2 := g.DB.Where("checkout_request_id = ?", checkoutRequestID).First(&again).Error; err2 == nil {
			return &again, nil
		}
		return nil, err
	}
	return &tx, nil
}

// applySettlement copies the provider-confirmed values over the
// client-declared ones. Missing items simply leave fields as they were.
func applySettlement(tx *models.Transaction, meta *CallbackMeta) {
	if meta == nil {
		return
	}
	for _, item := range meta.Item {
		value := itemValue(item.Value)
		if value == "" {
			continue
		}
		switch item.Name {
		case "Amount":
			tx.Amount = value
		case "MpesaReceiptNumber":
			tx.ReceiptNo = value
		case "PhoneNumber":
			tx.PhoneNumber = value
		}
	}
}

func itemValue(v any) string {
	switch value := v.(type) {
	case string:
		return strings.TrimSpace(value)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case json.Number:
		return value.String()
	default:
		return ""
	}
}

const maxCallbackString = 1000

func sanitizeCallback(cb *StkCallback) {
	cb.MerchantRequestID = capString(cb.MerchantRequestID)
	cb.CheckoutRequestID = capString(cb.CheckoutRequestID)
	cb.ResultDesc = capString(cb.ResultDesc)
}

func capString(s string) string {
	return utils.Truncate(strings.TrimSpace(s), maxCallbackString)
}
