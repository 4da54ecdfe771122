package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ngemuantony/mpesa/gateway"
	"github.com/ngemuantony/mpesa/handlers/payments"
	"github.com/ngemuantony/mpesa/migrations"
	"github.com/ngemuantony/mpesa/security"
	"github.com/ngemuantony/mpesa/sweep"
	"github.com/ngemuantony/mpesa/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env file:", err)
	}
}

func main() {
	fixReceipts := flag.Bool("fix-receipts", false, "repair Complete transactions missing receipt numbers, then exit")
	sweepDays := flag.Int("days", 7, "how many days back the receipt sweep scans")
	sweepLimit := flag.Int("limit", 50, "maximum transactions the receipt sweep processes")
	dryRun := flag.Bool("dry-run", false, "report what the receipt sweep would change without writing")
	flag.Parse()

	utils.ConnectDatabase()
	migrations.MigrateTransactions()

	if *fixReceipts {
		g, err := gateway.NewFromEnv(utils.DB)
		if err != nil {
			log.Fatalf("Failed to initialise mpesa gateway: %v", err)
		}
		res, err := sweep.FixMissingReceipts(context.Background(), g,
			sweep.Options{Days: *sweepDays, Limit: *sweepLimit, DryRun: *dryRun})
		if err != nil {
			log.Fatalf("Receipt sweep failed: %v", err)
		}
		log.Printf("Receipt sweep done: scanned=%d fixed=%d failed=%d", res.Scanned, res.Fixed, res.Failed)
		return
	}

	r := gin.Default()

	origins := []string{"http://localhost:3000"}
	if v := os.Getenv("FRONTEND_ORIGINS"); v != "" {
		origins = strings.Split(v, ",")
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	gate := security.NewGateFromEnv(security.NewStoreFromEnv())

	r.POST("/checkout", payments.Checkout)
	r.POST("/query", payments.StatusQuery)

	callback := r.Group("/callback", gate.Middleware())
	callback.GET("", payments.CallbackHealth)
	callback.POST("", payments.Callback)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8000"
	}
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
