package receipt

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Summary holds the fields picked out of a structured receipt for listing.
// The model output is free-form, so every field is best effort.
type Summary struct {
	Merchant  string              `json:"merchant,omitempty"`
	Date      string              `json:"date,omitempty"`
	Total     decimal.NullDecimal `json:"total"`
	ItemCount int                 `json:"item_count"`
	ValidJSON bool                `json:"valid_json"`
}

var (
	merchantKeys = []string{"store_name", "store", "merchant", "merchant_name", "company", "vendor", "title"}
	dateKeys     = []string{"date", "receipt_date", "transaction_date"}
	totalKeys    = []string{"total", "total_amount", "grand_total", "total_price", "amount"}
	itemKeys     = []string{"items", "line_items", "products"}
	dateFormats  = []string{"2006-01-02", "2006/01/02", "01/02/2006", "02-01-2006", "01/02/06"}
)

// Summarize extracts merchant, date, total and item count from a receipt.
// Text that is not a JSON object yields a Summary with ValidJSON unset.
func Summarize(text string) Summary {
	var summary Summary

	obj, ok := parseObject(text)
	if !ok {
		return summary
	}
	summary.ValidJSON = true

	// Some models nest everything under a top-level "receipt" key
	scopes := []map[string]any{obj}
	if nested, ok := lookup(obj, "receipt").(map[string]any); ok {
		scopes = append([]map[string]any{nested}, obj)
	}

	for _, scope := range scopes {
		if summary.Merchant == "" {
			if s, ok := lookup(scope, merchantKeys...).(string); ok {
				summary.Merchant = strings.TrimSpace(s)
			}
		}
		if summary.Date == "" {
			if s, ok := lookup(scope, dateKeys...).(string); ok {
				summary.Date = normalizeDate(s)
			}
		}
		if !summary.Total.Valid {
			if total, ok := parseAmount(lookup(scope, totalKeys...)); ok {
				summary.Total = decimal.NewNullDecimal(total)
			}
		}
		if summary.ItemCount == 0 {
			if items, ok := lookup(scope, itemKeys...).([]any); ok {
				summary.ItemCount = len(items)
			}
		}
	}

	return summary
}

// parseObject decodes the first JSON object in text, tolerating markdown
// code fences and surrounding prose.
func parseObject(text string) (map[string]any, bool) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, false
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, false
	}

	decoder := json.NewDecoder(bytes.NewReader([]byte(text[startIdx : endIdx+1])))
	decoder.UseNumber()

	var obj map[string]any
	if err := decoder.Decode(&obj); err != nil {
		return nil, false
	}
	return obj, true
}

// lookup returns the value of the first key present, ignoring case
func lookup(obj map[string]any, keys ...string) any {
	for _, key := range keys {
		for k, v := range obj {
			if strings.EqualFold(k, key) && v != nil {
				return v
			}
		}
	}
	return nil
}

func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	for _, format := range dateFormats {
		if d, err := time.Parse(format, s); err == nil {
			return d.Format("2006-01-02")
		}
	}
	return s
}

// parseAmount reads a JSON number or a currency string such as "$1,234.50"
func parseAmount(v any) (decimal.Decimal, bool) {
	switch value := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(value.String())
		return d, err == nil
	case string:
		cleaned := strings.Map(func(r rune) rune {
			if (r >= '0' && r <= '9') || r == '.' || r == ',' || r == '-' {
				return r
			}
			return -1
		}, value)

		switch {
		case strings.Contains(cleaned, ".") && strings.Contains(cleaned, ","):
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		case strings.Count(cleaned, ",") == 1 && len(cleaned)-strings.Index(cleaned, ",") == 3:
			// Decimal comma, e.g. "12,50"
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		default:
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}

		if cleaned == "" {
			return decimal.Decimal{}, false
		}
		d, err := decimal.NewFromString(cleaned)
		return d, err == nil
	default:
		return decimal.Decimal{}, false
	}
}
