package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/code-payments/iap-coordinator/iap"
)

type countingSource struct {
	code  string
	err   error
	calls int
}

func (s *countingSource) CountryCode(_ context.Context) (string, error) {
	s.calls++
	return s.code, s.err
}

func TestCountryCode_CachesNormalizedValue(t *testing.T) {
	source := &countingSource{code: "USA"}
	c := NewCountryCode(source, time.Minute)
	defer c.Close()

	for i := 0; i < 3; i++ {
		code, err := c.CountryCode(context.Background())
		require.NoError(t, err)
		require.Equal(t, "US", code)
	}
	require.Equal(t, 1, source.calls)

	c.Invalidate()
	source.code = "CAN"

	code, err := c.CountryCode(context.Background())
	require.NoError(t, err)
	require.Equal(t, "CA", code)
	require.Equal(t, 2, source.calls)
}

func TestCountryCode_Errors(t *testing.T) {
	source := &countingSource{err: iap.ErrPlatformNotSupported}
	c := NewCountryCode(source, time.Minute)
	defer c.Close()

	_, err := c.CountryCode(context.Background())
	require.True(t, errors.Is(err, iap.ErrPlatformNotSupported))

	source.err = nil
	source.code = "not-a-region"
	_, err = c.CountryCode(context.Background())
	require.Equal(t, iap.KindInternalError, iap.KindOf(err))

	// Failures are never cached.
	source.code = "FR"
	code, err := c.CountryCode(context.Background())
	require.NoError(t, err)
	require.Equal(t, "FR", code)
	require.Equal(t, 3, source.calls)
}
