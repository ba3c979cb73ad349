// Package pricing converts marketplace price text such as "150K" or "1.2M" into coins.
package pricing

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

var (
	thousand = decimal.NewFromInt(1_000)
	million  = decimal.NewFromInt(1_000_000)
	maxCoins = decimal.NewFromInt(math.MaxInt64)

	integerPattern    = regexp.MustCompile(`^[0-9]+$`)
	fractionalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)
)

// ParseError reports price text that could not be interpreted.
type ParseError struct {
	Text string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unrecognized price text %q", e.Text)
}

// Parse returns the number of coins written in text. Unrecognized text yields
// 0 and a *ParseError; callers should treat that as an absent price.
func Parse(text string) (int64, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r == ',' || unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, text)

	multiplier := decimal.NewFromInt(1)
	number := cleaned
	switch {
	case strings.HasSuffix(cleaned, "K"):
		multiplier = thousand
		number = strings.TrimSuffix(cleaned, "K")
	case strings.HasSuffix(cleaned, "M"):
		multiplier = million
		number = strings.TrimSuffix(cleaned, "M")
	}

	pattern := integerPattern
	if number != cleaned {
		pattern = fractionalPattern
	}
	if !pattern.MatchString(number) {
		return 0, &ParseError{Text: text}
	}

	d, err := decimal.NewFromString(number)
	if err != nil {
		return 0, &ParseError{Text: text}
	}
	coins := d.Mul(multiplier)
	if coins.GreaterThan(maxCoins) {
		return 0, &ParseError{Text: text}
	}
	return coins.IntPart(), nil
}

// ParseAll parses every listing price, drops the unusable ones and returns the
// rest sorted ascending together with the parse errors encountered.
func ParseAll(texts []string) ([]int64, []error) {
	prices := make([]int64, 0, len(texts))
	var errs []error
	for _, text := range texts {
		p, err := Parse(text)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if p <= 0 {
			continue
		}
		prices = append(prices, p)
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
	return prices, errs
}

// FormatCoins renders an amount with thousands separators.
func FormatCoins(n int64) string {
	return humanize.Comma(n)
}
