package security

import (
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ngemuantony/mpesa/utils"
)

// BodyKey is the gin context key under which the gate stores the raw,
// size-capped callback body for the downstream handler.
const BodyKey = "mpesa_callback_body"

const maxCallbackBytes = 64 * 1024

// Gate chains the callback protections in front of the reconciliation
// handler: rate limiting first, then origin whitelisting, then the
// optional signature and structure layers. A request that fails any layer
// never touches the ledger.
type Gate struct {
	Whitelist *IPWhitelist
	Limiter   *RateLimiter
	Failures  *FailureTracker
	Signature *SignatureValidator // nil disables the layer
	CheckBody bool                // structural validation of POST bodies
}

// NewGateFromEnv builds the gate the way production runs it: Safaricom
// whitelist plus any CALLBACK_ALLOWED_IPS / CALLBACK_ALLOWED_CIDRS extras,
// permissive mode via CALLBACK_PERMISSIVE or DEBUG, HMAC layer enabled
// when CALLBACK_SECRET_KEY is set, structure checks unless
// CALLBACK_VALIDATE_STRUCTURE=false.
func NewGateFromEnv(store Store) *Gate {
	ips := append([]string{}, SafaricomIPs...)
	ips = append(ips, splitList(os.Getenv("CALLBACK_ALLOWED_IPS"))...)
	cidrs := append([]string{}, SafaricomCIDRs...)
	cidrs = append(cidrs, splitList(os.Getenv("CALLBACK_ALLOWED_CIDRS"))...)
	permissive := os.Getenv("CALLBACK_PERMISSIVE") == "true" || os.Getenv("DEBUG") == "true"

	g := &Gate{
		Whitelist: NewIPWhitelist(ips, cidrs, permissive),
		Limiter:   NewRateLimiter(store),
		Failures:  NewFailureTracker(store),
		CheckBody: os.Getenv("CALLBACK_VALIDATE_STRUCTURE") != "false",
	}
	if secret := os.Getenv("CALLBACK_SECRET_KEY"); secret != "" {
		g.Signature = NewSignatureValidator(secret)
	}
	return g
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Middleware returns the gin handler enforcing the gate. Body layers only
// apply to POST; the GET health check passes on origin alone.
func (g *Gate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := utils.ClientIP(c.Request)
		ctx := c.Request.Context()
		log.Printf("mpesa callback security check - IP: %s, Path: %s", ip, c.Request.URL.Path)

		if g.Limiter != nil && !g.Limiter.Allow(ctx, ip) {
			g.logDecision("RATE_LIMIT_EXCEEDED", ip, c)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}

		if !g.Whitelist.Allowed(ip) {
			g.logDecision("UNAUTHORIZED_CALLBACK_ATTEMPT", ip, c)
			if g.Failures != nil {
				g.Failures.Record(ctx, ip)
			}
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "unauthorized callback source"})
			return
		}

		if c.Request.Method == http.MethodPost {
			body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxCallbackBytes))
			if err != nil {
				g.logDecision("BODY_READ_FAILED", ip, c)
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
				return
			}

			if g.Signature != nil {
				if err := g.Signature.Validate(body, c.GetHeader(SignatureHeader), c.GetHeader(TimestampHeader)); err != nil {
					g.logDecision("SIGNATURE_REJECTED", ip, c)
					c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "signature validation failed", "details": err.Error()})
					return
				}
			}

			if g.CheckBody {
				if errs := ValidateStructure(body); len(errs) > 0 {
					g.logDecision("STRUCTURE_REJECTED", ip, c)
					c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "structure validation failed", "details": errs})
					return
				}
			}

			c.Set(BodyKey, body)
		}

		g.logDecision("CALLBACK_AUTHORIZED", ip, c)
		c.Next()
	}
}

func (g *Gate) logDecision(event, ip string, c *gin.Context) {
	switch event {
	case "UNAUTHORIZED_CALLBACK_ATTEMPT":
		log.Printf("SECURITY ALERT: unauthorized mpesa callback from %s %s %s at %s",
			ip, c.Request.Method, c.Request.URL.Path, time.Now().Format(time.RFC3339))
	case "CALLBACK_AUTHORIZED":
		log.Printf("mpesa callback authorized from %s", ip)
	default:
		log.Printf("mpesa security event %s from %s %s %s at %s",
			event, ip, c.Request.Method, c.Request.URL.Path, time.Now().Format(time.RFC3339))
	}
}
