package sweep

import (
	"context"
	"log"
	"time"

	"github.com/ngemuantony/mpesa/gateway"
	"github.com/ngemuantony/mpesa/models"
)

// Options control the receipt repair sweep.
type Options struct {
	Days   int  // how many days back to scan
	Limit  int  // maximum transactions to process
	DryRun bool // report without writing
}

// Result summarizes one sweep run.
type Result struct {
	Scanned int
	Fixed   int
	Failed  int
}

// FixMissingReceipts re-queries Daraja for Complete transactions that
// have no settlement receipt, usually because the success callback was
// lost before its metadata was stored.
func FixMissingReceipts(ctx context.Context, g *gateway.Gateway, opts Options) (Result, error) {
	if opts.Days <= 0 {
		opts.Days = 7
	}
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	cutoff := time.Now().AddDate(0, 0, -opts.Days)

	var txs []models.Transaction
	err := g.DB.
		Where("status = ? AND (receipt_no = '' OR receipt_no IS NULL) AND created_at >= ?",
			models.StatusComplete, cutoff).
		Order("created_at desc").
		Limit(opts.Limit).
		Find(&txs).Error
	if err != nil {
		return Result{}, err
	}

	res := Result{Scanned: len(txs)}
	for i := range txs {
		tx := &txs[i]
		if i > 0 {
			time.Sleep(time.Second) // stay inside Daraja's query rate limits
		}
		log.Printf("sweep: querying %s (checkout id %s)", tx.TransactionNo, tx.CheckoutRequestID)

		qr, err := g.STKPushQuery(ctx, tx.CheckoutRequestID)
		if err != nil {
			log.Printf("sweep: query failed for %s: %v", tx.CheckoutRequestID, err)
			res.Failed++
			continue
		}
		receipt := receiptFrom(qr)
		if receipt == "" {
			log.Printf("sweep: no receipt available for %s", tx.CheckoutRequestID)
			res.Failed++
			continue
		}

		if opts.DryRun {
			log.Printf("sweep: would store receipt %s for %s", receipt, tx.CheckoutRequestID)
		} else if err := g.DB.Model(tx).Update("receipt_no", receipt).Error; err != nil {
			log.Printf("sweep: failed to store receipt for %s: %v", tx.CheckoutRequestID, err)
			res.Failed++
			continue
		} else {
			log.Printf("sweep: stored receipt %s for %s", receipt, tx.CheckoutRequestID)
		}
		res.Fixed++
	}
	return res, nil
}

func receiptFrom(res map[string]any) string {
	for _, key := range []string{"MpesaReceiptNumber", "ReceiptNo"} {
		if v, ok := res[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
