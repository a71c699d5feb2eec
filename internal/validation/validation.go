// Package validation checks untrusted client input before it reaches any stateful operation.
package validation

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	MaxNotesLength = 500

	futureSkew = 5 * time.Minute
	maxAge     = 24 * time.Hour
)

var (
	ErrInvalidOrderID = errors.New("order id must be a positive integer")
	ErrInvalidAmount  = errors.New("amount must be a number")
	ErrNegativeAmount = errors.New("amount must not be negative")
	ErrZeroAmount     = errors.New("amount must be greater than zero")
	ErrAmountCeiling  = errors.New("amount exceeds the allowed maximum")
	ErrInvalidDate    = errors.New("date must be YYYY-MM-DD")
)

// AmountCeiling is the largest amount accepted from a client, in currency units.
var AmountCeiling = decimal.NewFromInt(10_000)

// collectibleStatuses are the order states in which cash may be collected.
var collectibleStatuses = map[string]struct{}{
	"processing":       {},
	"out_for_delivery": {},
	"on_hold":          {},
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// ParseOrderID accepts a positive integer given as text.
func ParseOrderID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrInvalidOrderID
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidOrderID
	}
	return id, nil
}

func IsCollectible(status string) bool {
	_, ok := collectibleStatuses[strings.ToLower(strings.TrimSpace(status))]
	return ok
}

// ValidateAmount parses a money amount and rounds it to cents. Zero is accepted only when
// allowZero is set.
func ValidateAmount(raw string, allowZero bool) (decimal.Decimal, error) {
	amount, err := parseAmount(raw)
	if err != nil {
		return decimal.Zero, err
	}
	switch {
	case amount.IsZero() && !allowZero:
		return decimal.Zero, ErrZeroAmount
	case amount.GreaterThan(AmountCeiling):
		return decimal.Zero, ErrAmountCeiling
	}
	return amount, nil
}

// ValidateCashCount parses the cash a courier hands in at the end of a day. A day holds many
// collections, so AmountCeiling does not apply; zero is a valid count.
func ValidateCashCount(raw string) (decimal.Decimal, error) {
	return parseAmount(raw)
}

func parseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	amount = amount.Round(2)
	if amount.IsNegative() {
		return decimal.Zero, ErrNegativeAmount
	}
	return amount, nil
}

// ValidateTimestamp parses a client supplied time. The result is advisory: anything unparseable,
// more than five minutes ahead of now or more than a day old is replaced by now.
func ValidateTimestamp(raw string, now time.Time) time.Time {
	ts, ok := parseTimestamp(strings.TrimSpace(raw))
	if !ok {
		return now
	}
	if ts.After(now.Add(futureSkew)) || ts.Before(now.Add(-maxAge)) {
		return now
	}
	return ts
}

func parseTimestamp(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), true
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, time.DateTime} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// SanitizeNotes removes markup and control characters and caps the result at MaxNotesLength runes.
func SanitizeNotes(raw string) string {
	s := tagPattern.ReplaceAllString(raw, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > MaxNotesLength {
		s = strings.TrimSpace(string([]rune(s)[:MaxNotesLength]))
	}
	return s
}

// ParseDate checks a YYYY-MM-DD calendar day and returns it normalised.
func ParseDate(raw string) (string, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(raw))
	if err != nil {
		return "", ErrInvalidDate
	}
	return t.Format("2006-01-02"), nil
}
