// Package pricing implements search, bulk ingestion and editing of per-store,
// per-SKU pricing records.
package pricing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates the record does not exist.
	ErrNotFound = errors.New("pricing: record not found")
	// ErrDuplicateKey indicates a record with the same (storeId, sku) exists.
	ErrDuplicateKey = errors.New("pricing: duplicate store/sku")
	// ErrTxConflict indicates the store aborted a transaction due to a concurrent writer.
	ErrTxConflict = errors.New("pricing: transaction conflict")
	// ErrInvalidMode indicates an unknown ingestion mode.
	ErrInvalidMode = errors.New("pricing: invalid ingestion mode")
	// ErrParse indicates the upload could not be parsed as a whole.
	ErrParse = errors.New("pricing: malformed csv")
	// ErrEmptyFile indicates the upload carries no data rows.
	ErrEmptyFile = errors.New("pricing: csv has no data rows")
	// ErrTooLarge indicates the upload exceeds the configured byte limit.
	ErrTooLarge = errors.New("pricing: upload too large")
	// ErrTooManyRows indicates the upload exceeds the configured row limit.
	ErrTooManyRows = errors.New("pricing: csv exceeds row limit")
)

// DefaultCurrency applies when a record does not carry one.
const DefaultCurrency = "USD"

// DateLayout is the canonical calendar date format stored on records.
const DateLayout = "2006-01-02"

// PricingRecord is a persisted price for one SKU at one store.
type PricingRecord struct {
	ID          string          `json:"id"`
	StoreID     string          `json:"storeId"`
	SKU         string          `json:"sku"`
	ProductName string          `json:"productName"`
	Price       decimal.Decimal `json:"price"`
	Date        string          `json:"date,omitempty"`
	Currency    string          `json:"currency"`
	Notes       string          `json:"notes,omitempty"`
	UpdatedBy   string          `json:"updatedBy"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Key returns the natural composite key.
func (r PricingRecord) Key() Key {
	return Key{StoreID: r.StoreID, SKU: r.SKU}
}

// Country returns the country prefix embedded in the store id.
func (r PricingRecord) Country() string {
	return CountryOf(r.StoreID)
}

// CountryOf extracts the prefix before the first hyphen.
func CountryOf(storeID string) string {
	if i := strings.IndexByte(storeID, '-'); i > 0 {
		return storeID[:i]
	}
	return ""
}

// Key identifies a record by (storeId, sku).
type Key struct {
	StoreID string
	SKU     string
}

func (k Key) String() string {
	return k.StoreID + "/" + k.SKU
}

// Fields carries raw, unvalidated field candidates from a CSV row or form.
type Fields struct {
	StoreID     string `json:"storeId"`
	SKU         string `json:"sku"`
	ProductName string `json:"productName"`
	Price       string `json:"price"`
	Date        string `json:"date"`
}

// ParsedRow is one CSV data row with its validation outcome.
type ParsedRow struct {
	RowIndex int      `json:"rowIndex"`
	Fields   Fields   `json:"fields"`
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
}

// Mode selects the conflict policy for ingestion.
type Mode string

const (
	ModeAppend    Mode = "append"
	ModeOverwrite Mode = "overwrite"
)

// ParseMode validates a mode string. Blank defaults to append.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAppend:
		return ModeAppend, nil
	case ModeOverwrite:
		return ModeOverwrite, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// Summary reports the outcome of one ingestion.
type Summary struct {
	ImportID    string      `json:"importId"`
	Mode        Mode        `json:"mode"`
	Total       int         `json:"total"`
	Valid       int         `json:"valid"`
	Invalid     int         `json:"invalid"`
	Uploaded    int         `json:"uploaded"`
	Inserted    int         `json:"inserted"`
	Updated     int         `json:"updated"`
	Skipped     int         `json:"skipped"`
	Errors      []string    `json:"errors"`
	InvalidRows []ParsedRow `json:"invalidRows,omitempty"`
}

// Filters narrows a filter query.
type Filters struct {
	Country  string           `json:"country,omitempty"`
	StoreID  string           `json:"storeId,omitempty"`
	SKU      string           `json:"sku,omitempty"`
	MinPrice *decimal.Decimal `json:"minPrice,omitempty"`
	MaxPrice *decimal.Decimal `json:"maxPrice,omitempty"`
}

// Stats aggregates record counts.
type Stats struct {
	Total     int            `json:"total"`
	ByCountry map[string]int `json:"byCountry"`
}

// ChangeKind names the operation that mutated records.
type ChangeKind string

const (
	ChangeImport ChangeKind = "import"
	ChangeUpdate ChangeKind = "update"
	ChangeCreate ChangeKind = "create"
)

// ChangeEvent is published after a committed mutation.
type ChangeEvent struct {
	Kind      ChangeKind `json:"kind"`
	IDs       []string   `json:"ids,omitempty"`
	Count     int        `json:"count"`
	Actor     string     `json:"actor"`
	Timestamp time.Time  `json:"timestamp"`
}
