package httputil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLimitedBody(t *testing.T) {
	t.Run("within limit", func(t *testing.T) {
		body, err := ReadLimitedBody(strings.NewReader("hello"), 10)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(body))
	})

	t.Run("oversize is truncated and flagged", func(t *testing.T) {
		body, err := ReadLimitedBody(strings.NewReader("helloworld"), 5)
		require.ErrorIs(t, err, ErrResponseBodyTooLarge)
		assert.Equal(t, "hello", string(body))
	})

	t.Run("zero limit disables the cap", func(t *testing.T) {
		body, err := ReadLimitedBody(strings.NewReader("helloworld"), 0)
		require.NoError(t, err)
		assert.Equal(t, "helloworld", string(body))
	})
}
