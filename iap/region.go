package iap

import (
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
)

// NormalizeCountryCode converts a storefront region (alpha-2 from the billing
// client, alpha-3 from StoreKit storefronts) into ISO 3166 alpha-2.
func NormalizeCountryCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", errors.New("empty country code")
	}
	region, err := language.ParseRegion(code)
	if err != nil {
		return "", errors.Wrapf(err, "invalid country code %q", code)
	}
	if !region.IsCountry() {
		return "", errors.Errorf("%q is not a country", code)
	}
	return region.String(), nil
}

// NormalizeCurrencyCode validates an ISO 4217 currency code and returns it in
// canonical form.
func NormalizeCurrencyCode(code string) (string, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return "", errors.Wrapf(err, "invalid currency code %q", code)
	}
	return unit.String(), nil
}
