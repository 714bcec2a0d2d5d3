// Package amount formats raw integer token amounts for display.
package amount

import (
	"math/big"
	"strings"

	"github.com/dustin/go-humanize"
)

// FormatUnits renders v (in smallest units) as a decimal string with the
// given number of decimals. The whole part is grouped with thousands
// separators and trailing zeros of the fraction are stripped.
//
// A nil value renders as "0"; negative values keep their sign.
func FormatUnits(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	if decimals < 0 {
		decimals = 0
	}
	neg := v.Sign() < 0
	abs := new(big.Int).Abs(v)

	whole, frac := abs, new(big.Int)
	if decimals > 0 {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
		whole, frac = new(big.Int).QuoRem(abs, scale, frac)
	}

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteString(humanize.BigComma(whole))

	if frac.Sign() > 0 {
		digits := frac.String()
		if pad := decimals - len(digits); pad > 0 {
			digits = strings.Repeat("0", pad) + digits
		}
		digits = strings.TrimRight(digits, "0")
		b.WriteByte('.')
		b.WriteString(digits)
	}
	return b.String()
}

// ShortAddress shortens a long identifier to "abcd...wxyz".
// Identifiers of ten runes or fewer are returned unchanged.
func ShortAddress(id string) string {
	r := []rune(strings.TrimSpace(id))
	if len(r) <= 10 {
		return string(r)
	}
	return string(r[:4]) + "..." + string(r[len(r)-4:])
}
