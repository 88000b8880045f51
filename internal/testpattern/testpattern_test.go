package testpattern_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashrom-go/flashrom/internal/testpattern"
)

// TestVariant0MatchesSpecExample covers spec.md section 8's S6 scenario
// exactly: generate_testpattern(buf, 512, 0).
func TestVariant0MatchesSpecExample(t *testing.T) {
	buf := make([]byte, 512)
	require.NoError(t, testpattern.Generate(buf, 0))

	for i := 0; i < 256; i++ {
		want := byte(i&0xf)<<4 | 0x5
		if i == 254 || i == 255 {
			continue
		}
		assert.Equalf(t, want, buf[i], "byte %d", i)
	}
	assert.Equal(t, byte(0x00), buf[254])
	assert.Equal(t, byte(0x00), buf[255])
	assert.Equal(t, byte(0x00), buf[256+254])
	assert.Equal(t, byte(0x01), buf[256+255])
}

// Variants 6 and 7 are uniform fills, except that (like every variant 0-7)
// bytes 254/255 of each full 256-byte block hold the block index, here 0.
func TestVariant6And7AreUniformFillExceptBlockIndex(t *testing.T) {
	buf := make([]byte, 300)
	require.NoError(t, testpattern.Generate(buf, 6))
	for _, b := range buf {
		assert.Equal(t, byte(0x00), b)
	}

	require.NoError(t, testpattern.Generate(buf, 7))
	for i, b := range buf {
		want := byte(0xff)
		if i == 254 || i == 255 {
			want = 0x00
		}
		assert.Equalf(t, want, b, "byte %d", i)
	}
}

func TestVariant8And9AreComplementary(t *testing.T) {
	buf8 := make([]byte, 300)
	buf9 := make([]byte, 300)
	require.NoError(t, testpattern.Generate(buf8, 8))
	require.NoError(t, testpattern.Generate(buf9, 9))
	for i := range buf8 {
		assert.Equal(t, ^buf8[i], buf9[i])
	}
}

func TestGenerateRejectsNilBuffer(t *testing.T) {
	assert.Error(t, testpattern.Generate(nil, 0))
}

func TestGenerateRejectsOutOfRangeVariant(t *testing.T) {
	buf := make([]byte, 16)
	assert.Error(t, testpattern.Generate(buf, 14))
	assert.Error(t, testpattern.Generate(buf, -1))
}

func TestAllVariantsAreDeterministic(t *testing.T) {
	for v := 0; v < testpattern.NumVariants; v++ {
		a := make([]byte, 1024)
		b := make([]byte, 1024)
		require.NoError(t, testpattern.Generate(a, v))
		require.NoError(t, testpattern.Generate(b, v))
		assert.Equal(t, a, b, "variant %d must be deterministic", v)
	}
}
