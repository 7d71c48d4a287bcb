package payment

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// amountPattern matches "$" followed by digits, an optional dot and
// optional decimals, e.g. "$50", "$20.50", "$5.". Any Unicode decimal
// digit counts, so "$٥٠" is 50.
var amountPattern = regexp.MustCompile(`\$\p{Nd}+\.?\p{Nd}*`)

// Matches returns every monetary amount mentioned in text, in order.
// Tokens that fail to parse are skipped.
func Matches(text string) []decimal.Decimal {
	tokens := amountPattern.FindAllString(text, -1)
	if len(tokens) == 0 {
		return nil
	}

	amounts := make([]decimal.Decimal, 0, len(tokens))
	for _, token := range tokens {
		raw := asciiDigits(strings.TrimSuffix(strings.TrimPrefix(token, "$"), "."))
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}
		amounts = append(amounts, amount)
	}
	return amounts
}

// Extract sums the monetary amounts mentioned in text. Zero means no
// payment was detected.
func Extract(text string) decimal.Decimal {
	total := decimal.Zero
	for _, amount := range Matches(text) {
		total = total.Add(amount)
	}
	return total
}

// asciiDigits rewrites Unicode decimal digits as '0'-'9'.
func asciiDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r <= unicode.MaxASCII {
			return r
		}
		if d, ok := digitValue(r); ok {
			return '0' + d
		}
		return r
	}, s)
}

// digitValue relies on every Nd range in the Unicode tables being built from
// contiguous runs of ten digits that start at zero.
func digitValue(r rune) (rune, bool) {
	for _, rg := range unicode.Nd.R16 {
		if lo, hi := rune(rg.Lo), rune(rg.Hi); r >= lo && r <= hi && (r-lo)%rune(rg.Stride) == 0 {
			return ((r - lo) / rune(rg.Stride)) % 10, true
		}
	}
	for _, rg := range unicode.Nd.R32 {
		if lo, hi := rune(rg.Lo), rune(rg.Hi); r >= lo && r <= hi && (r-lo)%rune(rg.Stride) == 0 {
			return ((r - lo) / rune(rg.Stride)) % 10, true
		}
	}
	return 0, false
}
