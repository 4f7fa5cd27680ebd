package payments

import (
	"fmt"
	"strings"
)

// Amount is a monetary amount in a currency's minor units, such as cents
// for USD or yen for JPY.
type Amount struct {
	CurrencyCode string `json:"currency_code"`
	MinorUnits   int64  `json:"minor_units"`
}

// NewAmount creates an Amount with the currency code normalized to upper
// case.
func NewAmount(currencyCode string, minorUnits int64) Amount {
	return Amount{
		CurrencyCode: strings.ToUpper(currencyCode),
		MinorUnits:   minorUnits,
	}
}

// Validate checks the amount is chargeable: a three-letter currency code
// and a positive number of minor units.
func (a Amount) Validate() error {
	if len(a.CurrencyCode) != 3 {
		return fmt.Errorf("currency code %q must be three letters", a.CurrencyCode)
	}
	for _, r := range a.CurrencyCode {
		if r < 'A' || r > 'Z' {
			return fmt.Errorf("currency code %q must be upper-case letters", a.CurrencyCode)
		}
	}
	if a.MinorUnits <= 0 {
		return fmt.Errorf("amount must be positive, got %d", a.MinorUnits)
	}
	return nil
}

func (a Amount) String() string {
	return fmt.Sprintf("%s %d", a.CurrencyCode, a.MinorUnits)
}
