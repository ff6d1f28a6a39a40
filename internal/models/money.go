package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Money is an amount in paise. The backend speaks decimal rupees; conversion
// happens once, at the JSON boundary.
type Money int64

func Rupees(r float64) Money { return Money(math.Round(r * 100)) }

func (m Money) Paise() int64 { return int64(m) }

func (m Money) Rupees() float64 { return float64(m) / 100 }

// RoundRupee rounds to the nearest whole rupee, half away from zero.
func (m Money) RoundRupee() Money {
	return Money(math.Round(float64(m)/100) * 100)
}

// MulKm multiplies a per-km rate by a distance, rounding to the paisa.
func (m Money) MulKm(km float64) Money { return Money(math.Round(float64(m) * km)) }

func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s₹%d.%02d", sign, v/100, v%100)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(m.Rupees(), 'f', 2, 64)), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*m = 0
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("money: %w", err)
	}
	*m = Rupees(f)
	return nil
}
