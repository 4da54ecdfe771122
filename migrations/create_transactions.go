package migrations

import (
	"github.com/ngemuantony/mpesa/models"
	"github.com/ngemuantony/mpesa/utils"
)

func MigrateTransactions() {
	utils.DB.AutoMigrate(&models.Transaction{})
}
