package pq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLSN(t *testing.T) {
	t.Run("should parse and print symmetrically", func(t *testing.T) {
		lsn, err := ParseLSN("16/B374D848")

		require.NoError(t, err)
		assert.Equal(t, LSN(0x16B374D848), lsn)
		assert.Equal(t, "16/B374D848", lsn.String())
	})

	t.Run("should reject malformed input", func(t *testing.T) {
		_, err := ParseLSN("not-an-lsn")
		assert.Error(t, err)
	})
}
