package validation

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrderID(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int64
		wantErr bool
	}{
		{"positive", "42", 42, false},
		{"padded", " 7 ", 7, false},
		{"zero", "0", 0, true},
		{"negative", "-3", 0, true},
		{"float", "1.5", 0, true},
		{"text", "abc", 0, true},
		{"empty", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOrderID(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidOrderID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsCollectible(t *testing.T) {
	assert.True(t, IsCollectible("processing"))
	assert.True(t, IsCollectible("out_for_delivery"))
	assert.True(t, IsCollectible("ON_HOLD"))
	assert.False(t, IsCollectible("completed"))
	assert.False(t, IsCollectible("cancelled"))
	assert.False(t, IsCollectible(""))
}

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		allowZero bool
		want      string
		err       error
	}{
		{"rounds to cents", "18.505", false, "18.51", nil},
		{"integer", "20", false, "20", nil},
		{"zero allowed", "0", true, "0", nil},
		{"zero rejected", "0.00", false, "", ErrZeroAmount},
		{"negative", "-1", true, "", ErrNegativeAmount},
		{"ceiling", "10000.00", false, "10000", nil},
		{"above ceiling", "10000.01", false, "", ErrAmountCeiling},
		{"not a number", "12,50", false, "", ErrInvalidAmount},
		{"empty", "  ", true, "", ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateAmount(tt.raw, tt.allowZero)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestValidateCashCount(t *testing.T) {
	got, err := ValidateCashCount(" 12000.005 ")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("12000.01").Equal(got), "got %s", got)

	got, err = ValidateCashCount("0")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = ValidateCashCount("-0.01")
	assert.ErrorIs(t, err, ErrNegativeAmount)
	_, err = ValidateCashCount("")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = ValidateCashCount("12,50")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestValidateTimestamp(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, now.Add(-time.Hour), ValidateTimestamp(now.Add(-time.Hour).Format(time.RFC3339), now))
	assert.Equal(t, now.Add(-2*time.Minute), ValidateTimestamp("2025-03-14 11:58:00", now))
	assert.Equal(t, now.Add(-10*time.Second), ValidateTimestamp("1741953590", now))
	assert.Equal(t, now.Add(3*time.Minute), ValidateTimestamp(now.Add(3*time.Minute).Format(time.RFC3339), now))

	// fallbacks
	assert.Equal(t, now, ValidateTimestamp("", now))
	assert.Equal(t, now, ValidateTimestamp("yesterday", now))
	assert.Equal(t, now, ValidateTimestamp(now.Add(6*time.Minute).Format(time.RFC3339), now))
	assert.Equal(t, now, ValidateTimestamp(now.Add(-25*time.Hour).Format(time.RFC3339), now))
}

func TestSanitizeNotes(t *testing.T) {
	assert.Equal(t, "paid in coins", SanitizeNotes("  <b>paid</b> in coins\x00 "))
	assert.Equal(t, "alert(1) left at gate", SanitizeNotes("<script>alert(1)</script> left at gate"))
	assert.Equal(t, "line one line two", SanitizeNotes("line one\nline two"))

	long := strings.Repeat("é", MaxNotesLength+20)
	got := SanitizeNotes(long)
	assert.Equal(t, MaxNotesLength, len([]rune(got)))
}

func TestParseDate(t *testing.T) {
	got, err := ParseDate("2025-03-14")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-14", got)

	_, err = ParseDate("14/03/2025")
	assert.ErrorIs(t, err, ErrInvalidDate)
	_, err = ParseDate("2025-02-30")
	assert.ErrorIs(t, err, ErrInvalidDate)
}
