package pricing

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

var (
	storeIDPattern  = regexp.MustCompile(`^[A-Z]{2,4}-\d{4,}$`)
	skuPattern      = regexp.MustCompile(`^[A-Z0-9]{6,12}$`)
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

	maxPrice    = decimal.NewFromInt(999999)
	dateLayouts = []string{DateLayout, "2006/01/02", time.RFC3339}
)

// Field names used as keys in per-field error maps.
const (
	FieldStoreID     = "storeId"
	FieldSKU         = "sku"
	FieldProductName = "productName"
	FieldPrice       = "price"
	FieldDate        = "date"
	FieldCurrency    = "currency"
)

// ValidateStoreID returns "" when v is a well-formed store id.
func ValidateStoreID(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "Store ID is required"
	}
	if !storeIDPattern.MatchString(v) {
		return "Store ID must look like XX-1234 (2-4 uppercase letters, hyphen, 4+ digits)"
	}
	return ""
}

// ValidateSKU returns "" when v is a well-formed SKU.
func ValidateSKU(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "SKU is required"
	}
	if !skuPattern.MatchString(v) {
		return "SKU must be 6-12 uppercase letters or digits"
	}
	return ""
}

// ValidateProductName returns "" when v is 2 to 100 characters after trimming.
func ValidateProductName(v string) string {
	v = strings.TrimSpace(v)
	n := utf8.RuneCountInString(v)
	switch {
	case n == 0:
		return "Product name is required"
	case n < 2:
		return "Product name must be at least 2 characters"
	case n > 100:
		return "Product name must be at most 100 characters"
	}
	return ""
}

// ValidatePrice returns "" when v is a number in (0, 999999] with at most two
// decimal places.
func ValidatePrice(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "Price is required"
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return "Price must be a number"
	}
	if !d.IsPositive() {
		return "Price must be greater than 0"
	}
	if d.GreaterThan(maxPrice) {
		return "Price must not exceed 999999"
	}
	if !d.Equal(d.Round(2)) {
		return "Price must have at most 2 decimal places"
	}
	return ""
}

// ValidateDate returns "" when v is blank or a valid calendar date.
func ValidateDate(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if _, ok := parseDate(v); !ok {
		return "Date must be a valid calendar date (YYYY-MM-DD)"
	}
	return ""
}

func validateCurrency(v string) string {
	if !currencyPattern.MatchString(strings.TrimSpace(v)) {
		return "Currency must be a 3-letter code"
	}
	return ""
}

func parseDate(v string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// NormalizeDate rewrites a valid date into DateLayout. Blank stays blank.
func NormalizeDate(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if t, ok := parseDate(v); ok {
		return t.Format(DateLayout)
	}
	return v
}

type fieldRule struct {
	name  string
	value func(Fields) string
	check func(string) string
}

// rules run in report order.
var rules = []fieldRule{
	{FieldStoreID, func(f Fields) string { return f.StoreID }, ValidateStoreID},
	{FieldSKU, func(f Fields) string { return f.SKU }, ValidateSKU},
	{FieldProductName, func(f Fields) string { return f.ProductName }, ValidateProductName},
	{FieldPrice, func(f Fields) string { return f.Price }, ValidatePrice},
	{FieldDate, func(f Fields) string { return f.Date }, ValidateDate},
}

// ValidateFields runs every rule and returns failures keyed by field name.
func ValidateFields(f Fields) map[string]string {
	out := make(map[string]string)
	for _, rule := range rules {
		if msg := rule.check(rule.value(f)); msg != "" {
			out[rule.name] = msg
		}
	}
	return out
}

// RowErrors runs every rule and returns failures in field order.
func RowErrors(f Fields) []string {
	var out []string
	for _, rule := range rules {
		if msg := rule.check(rule.value(f)); msg != "" {
			out = append(out, msg)
		}
	}
	return out
}

// Normalize trims every field and canonicalises the date.
func (f Fields) Normalize() Fields {
	return Fields{
		StoreID:     strings.TrimSpace(f.StoreID),
		SKU:         strings.TrimSpace(f.SKU),
		ProductName: strings.TrimSpace(f.ProductName),
		Price:       strings.TrimSpace(f.Price),
		Date:        NormalizeDate(f.Date),
	}
}

// toRecord converts validated fields into a record body. Callers must validate first.
func (f Fields) toRecord() PricingRecord {
	n := f.Normalize()
	price, _ := decimal.NewFromString(n.Price)
	return PricingRecord{
		StoreID:     n.StoreID,
		SKU:         n.SKU,
		ProductName: n.ProductName,
		Price:       price,
		Date:        n.Date,
		Currency:    DefaultCurrency,
	}
}

func fieldsOf(r PricingRecord) Fields {
	return Fields{
		StoreID:     r.StoreID,
		SKU:         r.SKU,
		ProductName: r.ProductName,
		Price:       r.Price.String(),
		Date:        r.Date,
	}
}
