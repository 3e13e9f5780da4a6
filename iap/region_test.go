package iap

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCountryCode(t *testing.T) {
	for input, expected := range map[string]string{
		"US":   "US",
		"us":   "US",
		"USA":  "US",
		"DEU":  "DE",
		" gb ": "GB",
	} {
		actual, err := NormalizeCountryCode(input)
		require.NoError(t, err, input)
		require.Equal(t, expected, actual, input)
	}

	for _, input := range []string{"", "ZZZZ", "001"} {
		_, err := NormalizeCountryCode(input)
		require.Error(t, err, input)
	}
}

func TestNormalizeCurrencyCode(t *testing.T) {
	actual, err := NormalizeCurrencyCode("usd")
	require.NoError(t, err)
	require.Equal(t, "USD", actual)

	_, err = NormalizeCurrencyCode("dollars")
	require.Error(t, err)
	require.Contains(t, err.Error(), `invalid currency code "dollars"`)
	require.NotEqual(t, err, errors.Cause(err))
}

func TestNormalizeCountryCode_WrapsParseError(t *testing.T) {
	_, err := NormalizeCountryCode("ZZZZ")
	require.Error(t, err)
	require.Contains(t, err.Error(), `invalid country code "ZZZZ"`)
	require.NotEqual(t, err, errors.Cause(err))

	_, err = NormalizeCountryCode("001")
	require.EqualError(t, err, `"001" is not a country`)
}
