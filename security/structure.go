package security

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
)

// Bounds on the required stkCallback fields.
const (
	maxRequestIDLen  = 50
	maxResultDescLen = 200
	maxResultCode    = 9999
)

var requestIDChars = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateStructure checks that a callback body has the nested shape
// Daraja actually sends, before any transaction lookup happens. It
// returns one message per problem, in field order, empty on success.
func ValidateStructure(data []byte) []string {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return []string{"invalid JSON payload"}
	}

	body, errs := requireObject(doc, "Body", "Body")
	if errs != nil {
		return errs
	}
	cb, errs := requireObject(body, "stkCallback", "Body.stkCallback")
	if errs != nil {
		return errs
	}

	var out []string
	out = append(out, checkStringField(cb, "Body.stkCallback", "MerchantRequestID", maxRequestIDLen)...)
	out = append(out, checkStringField(cb, "Body.stkCallback", "CheckoutRequestID", maxRequestIDLen)...)
	out = append(out, checkResultCode(cb)...)
	out = append(out, checkStringField(cb, "Body.stkCallback", "ResultDesc", maxResultDescLen)...)
	out = append(out, checkMetadata(cb)...)

	if id, ok := cb["MerchantRequestID"].(string); ok && id != "" && !requestIDChars.MatchString(id) {
		out = append(out, "invalid MerchantRequestID format")
	}
	return out
}

func requireObject(data map[string]any, name, path string) (map[string]any, []string) {
	v, present := data[name]
	if !present {
		return nil, []string{"missing required field: " + path}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, []string{"invalid type for " + path + ": expected object"}
	}
	return obj, nil
}

func checkStringField(data map[string]any, path, name string, maxLen int) []string {
	full := path + "." + name
	v, present := data[name]
	if !present {
		return []string{"missing required field: " + full}
	}
	s, ok := v.(string)
	if !ok {
		return []string{"invalid type for " + full + ": expected string"}
	}
	if len(s) > maxLen {
		return []string{fmt.Sprintf("field %s exceeds maximum length of %d", full, maxLen)}
	}
	return nil
}

func checkResultCode(cb map[string]any) []string {
	const full = "Body.stkCallback.ResultCode"
	v, present := cb["ResultCode"]
	if !present {
		return []string{"missing required field: " + full}
	}
	n, ok := v.(float64)
	if !ok {
		return []string{"invalid type for " + full + ": expected number"}
	}
	if n != math.Trunc(n) || n < 0 || n > maxResultCode {
		return []string{fmt.Sprintf("invalid result code: %v", v)}
	}
	return nil
}

func checkMetadata(cb map[string]any) []string {
	v, present := cb["CallbackMetadata"]
	if !present {
		return nil
	}
	meta, ok := v.(map[string]any)
	if !ok {
		return []string{"invalid type for Body.stkCallback.CallbackMetadata: expected object"}
	}
	itemsRaw, present := meta["Item"]
	if !present {
		return nil
	}
	items, ok := itemsRaw.([]any)
	if !ok {
		return []string{"invalid type for Body.stkCallback.CallbackMetadata.Item: expected list"}
	}
	var out []string
	for i, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			out = append(out, fmt.Sprintf("invalid type for CallbackMetadata.Item[%d]: expected object", i))
			continue
		}
		if _, ok := item["Name"].(string); !ok {
			out = append(out, fmt.Sprintf("invalid or missing Name in CallbackMetadata.Item[%d]", i))
		}
		// Value may be absent (Daraja omits it on some items) but must be
		// a string or number when present.
		switch item["Value"].(type) {
		case nil, string, float64:
		default:
			out = append(out, fmt.Sprintf("invalid Value in CallbackMetadata.Item[%d]", i))
		}
	}
	return out
}
