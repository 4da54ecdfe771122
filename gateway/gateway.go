package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ngemuantony/mpesa/models"
)

// Config holds the Daraja credentials and endpoints. All fields are
// required; a missing one fails gateway construction, not the process.
type Config struct {
	Shortcode      string
	ConsumerKey    string
	ConsumerSecret string
	Passkey        string
	AccessTokenURL string
	CheckoutURL    string
	QueryURL       string
	CallbackURL    string
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Shortcode:      os.Getenv("MPESA_SHORTCODE"),
		ConsumerKey:    os.Getenv("MPESA_CONSUMER_KEY"),
		ConsumerSecret: os.Getenv("MPESA_CONSUMER_SECRET"),
		Passkey:        os.Getenv("MPESA_PASSKEY"),
		AccessTokenURL: os.Getenv("MPESA_ACCESS_TOKEN_URL"),
		CheckoutURL:    os.Getenv("MPESA_CHECKOUT_URL"),
		QueryURL:       os.Getenv("MPESA_QUERY_URL"),
		CallbackURL:    os.Getenv("MPESA_CALLBACK_URL"),
	}
	var missing []string
	for name, v := range map[string]string{
		"MPESA_SHORTCODE":        cfg.Shortcode,
		"MPESA_CONSUMER_KEY":     cfg.ConsumerKey,
		"MPESA_CONSUMER_SECRET":  cfg.ConsumerSecret,
		"MPESA_PASSKEY":          cfg.Passkey,
		"MPESA_ACCESS_TOKEN_URL": cfg.AccessTokenURL,
		"MPESA_CHECKOUT_URL":     cfg.CheckoutURL,
		"MPESA_QUERY_URL":        cfg.QueryURL,
		"MPESA_CALLBACK_URL":     cfg.CallbackURL,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing mpesa configuration: %s", strings.Join(missing, ", "))
	}
	return cfg, nil
}

// Gateway talks to the Daraja STK push API and owns the transaction
// records it creates and reconciles.
type Gateway struct {
	Config Config
	DB     *gorm.DB
	Tokens TokenSource
	Client *http.Client
}

func New(cfg Config, db *gorm.DB) *Gateway {
	client := &http.Client{Timeout: 30 * time.Second}
	return &Gateway{
		Config: cfg,
		DB:     db,
		Tokens: newDarajaTokenSource(cfg, client),
		Client: client,
	}
}

func NewFromEnv(db *gorm.DB) (*Gateway, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return New(cfg, db), nil
}

// Password returns the base64(shortcode+passkey+timestamp) pair the
// checkout and query endpoints authenticate with.
func (g *Gateway) Password(now time.Time) (password, timestamp string) {
	timestamp = now.Format("20060102150405")
	password = base64.StdEncoding.EncodeToString([]byte(g.Config.Shortcode + g.Config.Passkey + timestamp))
	return password, timestamp
}

// CheckoutRequest is the validated input for an STK push. PhoneNumber is
// already normalized and Amount already bounds-checked by the caller.
type CheckoutRequest struct {
	PhoneNumber string
	Amount      decimal.Decimal
	Reference   string
	Description string
	IP          string
}

type stkPushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// STKPushRequest sends the push prompt to the customer's phone. When
// Daraja accepts (ResponseCode "0") a Pending transaction keyed by the
// returned CheckoutRequestID is recorded; on rejection nothing is written
// and the raw provider response goes back to the caller either way.
func (g *Gateway) STKPushRequest(ctx context.Context, req CheckoutRequest) (map[string]any, error) {
	password, timestamp := g.Password(time.Now())
	payload := stkPushPayload{
		BusinessShortCode: g.Config.Shortcode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            req.Amount.Ceil().IntPart(),
		PartyA:            req.PhoneNumber,
		PartyB:            g.Config.Shortcode,
		PhoneNumber:       req.PhoneNumber,
		CallBackURL:       g.Config.CallbackURL,
		AccountReference:  req.Reference,
		TransactionDesc:   req.Description,
	}

	res, err := g.post(ctx, "stk push", g.Config.CheckoutURL, payload)
	if err != nil {
		return nil, err
	}

	if res["ResponseCode"] == "0" {
		checkoutID, _ := res["CheckoutRequestID"].(string)
		tx := models.Transaction{
			PhoneNumber:       req.PhoneNumber,
			Amount:            req.Amount.String(),
			Reference:         req.Reference,
			Description:       req.Description,
			CheckoutRequestID: checkoutID,
			IP:                req.IP,
			Status:            models.StatusPending,
		}
		if err := g.DB.Create(&tx).Error; err != nil {
			log.Printf("failed to record pending transaction %s: %v", checkoutID, err)
		} else {
			log.Printf("transaction record created for %s", checkoutID)
		}
	} else {
		log.Printf("stk push rejected: %v", res)
	}
	return res, nil
}

// STKPushQuery asks Daraja for the current state of a push request.
func (g *Gateway) STKPushQuery(ctx context.Context, checkoutRequestID string) (map[string]any, error) {
	password, timestamp := g.Password(time.Now())
	payload := map[string]string{
		"BusinessShortCode": g.Config.Shortcode,
		"Password":          password,
		"Timestamp":         timestamp,
		"CheckoutRequestID": checkoutRequestID,
	}
	return g.post(ctx, "stk query", g.Config.QueryURL, payload)
}

func (g *Gateway) post(ctx context.Context, op, url string, payload any) (map[string]any, error) {
	token, err := g.Tokens.Token(ctx)
	if err != nil {
		// Proceed with an empty bearer: Daraja rejects the call and the
		// caller sees that rejection instead of a hard local failure.
		log.Printf("token refresh failed: %v", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &GatewayError{Op: op, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &GatewayError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := g.Client.Do(req)
	if err != nil {
		return nil, &GatewayError{Op: op, Err: err}
	}
	defer res.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, &GatewayError{Op: op, Err: err}
	}
	return out, nil
}
