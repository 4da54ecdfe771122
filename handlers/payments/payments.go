package payments

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/ngemuantony/mpesa/gateway"
	"github.com/ngemuantony/mpesa/models"
	"github.com/ngemuantony/mpesa/security"
	"github.com/ngemuantony/mpesa/utils"
)

var (
	gatewayOnce sync.Once
	gw          *gateway.Gateway
)

// Gateway lazily builds the shared Daraja gateway. Construction is
// deferred so the process can boot without M-Pesa configuration; the
// payment routes answer 503 until it is present.
func Gateway() *gateway.Gateway {
	gatewayOnce.Do(func() {
		g, err := gateway.NewFromEnv(utils.DB)
		if err != nil {
			log.Printf("mpesa gateway unavailable: %v", err)
			return
		}
		gw = g
	})
	return gw
}

// UseGateway replaces the shared gateway. Tests inject one wired to a
// fake provider and a throwaway database.
func UseGateway(g *gateway.Gateway) {
	gatewayOnce.Do(func() {})
	gw = g
}

type CheckoutInput struct {
	PhoneNumber string          `json:"phone_number"`
	Amount      json.RawMessage `json:"amount"` // bare number or quoted string
	Reference   string          `json:"reference"`
	Description string          `json:"description"`
}

// AmountString returns the amount as typed by the caller, whether it
// arrived as a JSON number or a quoted string, for ValidateAmount.
func (in CheckoutInput) AmountString() string {
	s := string(in.Amount)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return s
}

// Checkout validates a payment request and sends the STK push. The caller
// gets Daraja's raw response on acceptance, or per-field errors on 400.
func Checkout(c *gin.Context) {
	g := Gateway()
	if g == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "mpesa gateway is not configured"})
		return
	}

	var input CheckoutInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	fieldErrors := gin.H{}
	phone, err := utils.NormalizePhone(input.PhoneNumber)
	if err != nil {
		fieldErrors["phone_number"] = err.Error()
	}
	amount, err := utils.ValidateAmount(input.AmountString())
	if err != nil {
		fieldErrors["amount"] = err.Error()
	}
	if len(fieldErrors) > 0 {
		c.JSON(http.StatusBadRequest, fieldErrors)
		return
	}

	req := gateway.CheckoutRequest{
		PhoneNumber: phone,
		Amount:      amount,
		Reference:   utils.SanitizeText(input.Reference, 40),
		Description: utils.SanitizeText(input.Description, 255),
		IP:          utils.ClientIP(c.Request),
	}
	if req.Reference == "" {
		req.Reference = "Test"
	}
	if req.Description == "" {
		req.Description = "Test"
	}

	res, err := g.STKPushRequest(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

// Callback reconciles a provider callback that already passed the
// security gate. Daraja retries callbacks that are not acknowledged, so
// once a request reaches this handler it is answered 200 even when the
// payload cannot be processed; only the gate withholds acknowledgment.
func Callback(c *gin.Context) {
	g := Gateway()
	if g == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "mpesa gateway is not configured"})
		return
	}

	body := callbackBody(c)
	env, err := gateway.ParseCallback(body)
	if err != nil {
		log.Printf("unparseable callback: %v", err)
		c.JSON(http.StatusOK, gin.H{"status": "ok", "code": 0, "detail": "unparseable callback"})
		return
	}

	if _, err := g.HandleCallback(env); err != nil {
		log.Printf("callback processing error: %v", err)
		c.JSON(http.StatusOK, gin.H{"status": "ok", "code": 0, "detail": "processing error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "code": 0})
}

func callbackBody(c *gin.Context) []byte {
	if raw, ok := c.Get(security.BodyKey); ok {
		if body, ok := raw.([]byte); ok {
			return body
		}
	}
	body, _ := io.ReadAll(c.Request.Body)
	return body
}

// CallbackHealth answers the provider's GET probes on the callback URL.
func CallbackHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}

type QueryInput struct {
	CheckoutRequestID string `json:"checkout_request_id"`
}

// StatusQuery polls Daraja for a transaction's state and reconciles the
// local record with the same result-code mapping the callback path uses.
// The record is only written when the computed status actually changes,
// and a terminal record is never downgraded by a stale poll.
func StatusQuery(c *gin.Context) {
	g := Gateway()
	if g == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "mpesa gateway is not configured"})
		return
	}

	var input QueryInput
	if err := c.ShouldBindJSON(&input); err != nil || input.CheckoutRequestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "checkout_request_id is required"})
		return
	}

	res, err := g.STKPushQuery(c.Request.Context(), input.CheckoutRequestID)
	if err != nil {
		// A failed poll says nothing about the payment. Report it to the
		// caller but leave the record alone; the callback (or a later
		// successful poll) carries the real outcome.
		log.Printf("stk query error: %v", err)
		res = map[string]any{"ResultCode": "1", "ResultDesc": "Query failed", "error": err.Error()}
	}

	var tx models.Transaction
	if dbErr := g.DB.Where("checkout_request_id = ?", input.CheckoutRequestID).First(&tx).Error; dbErr != nil {
		res["local_transaction"] = nil
		c.JSON(http.StatusOK, res)
		return
	}

	if code, ok := res["ResultCode"]; ok && err == nil {
		computed := gateway.StatusForResultCode(fmt.Sprintf("%v", code))
		if computed != models.StatusPending && computed != tx.Status && !tx.Status.Terminal() {
			old := tx.Status
			tx.Status = computed
			if err := g.DB.Save(&tx).Error; err != nil {
				log.Printf("failed to update transaction %s: %v", input.CheckoutRequestID, err)
				tx.Status = old
			} else {
				log.Printf("transaction %s status updated from %s to %s", input.CheckoutRequestID, old, computed)
			}
		}
	}
	res["local_transaction"] = tx
	c.JSON(http.StatusOK, res)
}
