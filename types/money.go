package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Money is a price in the smallest currency unit. Arithmetic is integer-only.
//
//   - USD(4900) = $49.00
//   - JPY(100) = ¥100
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"` // ISO 4217, lowercase
}

// NewMoney returns amount minor units of currency.
func NewMoney(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: strings.ToLower(currency)}
}

// FromMajor converts a major-unit amount such as 49.99 into Money, rounding
// to the nearest minor unit.
func FromMajor(major float64, currency string) Money {
	scale := math.Pow10(currencyDecimals(strings.ToLower(currency)))
	return NewMoney(int64(math.Round(major*scale)), currency)
}

func USD(cents int64) Money { return Money{Amount: cents, Currency: "usd"} }
func EUR(cents int64) Money { return Money{Amount: cents, Currency: "eur"} }
func GBP(pence int64) Money { return Money{Amount: pence, Currency: "gbp"} }
func JPY(yen int64) Money { return Money{Amount: yen, Currency: "jpy"} }

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// Equal reports whether amount and currency match.
func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && m.Currency == other.Currency
}

// Major returns the amount in major units.
func (m Money) Major() float64 {
	return float64(m.Amount) / math.Pow10(currencyDecimals(m.Currency))
}

// FormatMajor returns the amount in major units without a symbol, e.g. "49.00".
func (m Money) FormatMajor() string {
	decimals := currencyDecimals(m.Currency)
	if decimals == 0 {
		return fmt.Sprintf("%d", m.Amount)
	}

	sign := ""
	amount := m.Amount
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	divisor := int64(math.Pow10(decimals))
	return fmt.Sprintf("%s%d.%0*d", sign, amount/divisor, decimals, amount%divisor)
}

// String returns the amount with its currency symbol, e.g. "$49.00".
func (m Money) String() string {
	return currencySymbol(m.Currency) + m.FormatMajor()
}

// MarshalJSON adds a formatted representation next to amount and currency.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		Formatted string `json:"formatted"`
	}{m.Amount, m.Currency, m.String()})
}

// UnmarshalJSON reads amount and currency and ignores the formatted field.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = NewMoney(raw.Amount, raw.Currency)
	return nil
}

func currencySymbol(currency string) string {
	switch currency {
	case "usd", "cad", "aud":
		return "$"
	case "eur":
		return "€"
	case "gbp":
		return "£"
	case "jpy":
		return "¥"
	case "":
		return ""
	default:
		return strings.ToUpper(currency) + " "
	}
}

func currencyDecimals(currency string) int {
	switch currency {
	case "jpy", "krw", "vnd":
		return 0
	case "kwd", "bhd", "omr":
		return 3
	default:
		return 2
	}
}
