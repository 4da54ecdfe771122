package utils

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

var (
	nonPhoneChars = regexp.MustCompile(`[^\d+]`)
	kenyanMobile  = regexp.MustCompile(`^254[17]\d{8}$`)
	markupTags    = regexp.MustCompile(`<[^>]*>`)
)

var ErrInvalidPhone = errors.New("phone number is not valid")

// M-Pesa single-transaction ceiling in KES.
var maxAmount = decimal.NewFromInt(300000)

// NormalizePhone converts a Kenyan subscriber number ("07XXXXXXXX",
// "+254XXXXXXXXX" or "254XXXXXXXXX") to the canonical 254XXXXXXXXX form
// the Daraja API expects.
func NormalizePhone(phone string) (string, error) {
	phone = nonPhoneChars.ReplaceAllString(strings.TrimSpace(phone), "")
	phone = strings.TrimPrefix(phone, "+")
	if strings.HasPrefix(phone, "0") {
		phone = "254" + phone[1:]
	}
	if !kenyanMobile.MatchString(phone) {
		return "", ErrInvalidPhone
	}
	return phone, nil
}

// ValidateAmount parses and bounds-checks a payment amount: positive,
// at most KES 300,000, no more than two decimal places.
func ValidateAmount(amount string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return decimal.Zero, errors.New("amount must be a valid number")
	}
	if d.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, errors.New("amount must be greater than zero")
	}
	if d.GreaterThan(maxAmount) {
		return decimal.Zero, errors.New("amount cannot exceed KES 300,000")
	}
	if !d.Equal(d.Round(2)) {
		return decimal.Zero, errors.New("amount cannot have more than 2 decimal places")
	}
	return d, nil
}

// SanitizeText trims whitespace, strips markup and caps the length of a
// free-text field such as a payment reference or description.
func SanitizeText(s string, max int) string {
	return Truncate(strings.TrimSpace(markupTags.ReplaceAllString(s, "")), max)
}

// Truncate caps s at max bytes without splitting a multi-byte rune.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
