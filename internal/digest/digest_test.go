package digest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashrom-go/flashrom/internal/digest"
)

func TestHexIsStableAndDistinguishesContent(t *testing.T) {
	a := digest.Hex([]byte("hello"))
	b := digest.Hex([]byte("hello"))
	c := digest.Hex([]byte("world"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestChangedRangesNoneWhenIdentical(t *testing.T) {
	old := make([]byte, digest.BlockSize*4)
	want := make([]byte, digest.BlockSize*4)
	for i := range old {
		old[i] = 0xAB
		want[i] = 0xAB
	}
	assert.Empty(t, digest.ChangedRanges(old, want))
}

func TestChangedRangesFindsSingleBlock(t *testing.T) {
	old := make([]byte, digest.BlockSize*4)
	want := make([]byte, digest.BlockSize*4)
	want[digest.BlockSize*2+10] = 0x42

	ranges := digest.ChangedRanges(old, want)
	require.Len(t, ranges, 1)
	assert.Equal(t, uint32(digest.BlockSize*2), ranges[0].Start)
	assert.Equal(t, uint32(digest.BlockSize*3), ranges[0].End)
}

func TestChangedRangesCoalescesAdjacentBlocks(t *testing.T) {
	old := make([]byte, digest.BlockSize*4)
	want := make([]byte, digest.BlockSize*4)
	want[digest.BlockSize+1] = 0x01
	want[digest.BlockSize*2+1] = 0x02

	ranges := digest.ChangedRanges(old, want)
	require.Len(t, ranges, 1)
	assert.Equal(t, uint32(digest.BlockSize), ranges[0].Start)
	assert.Equal(t, uint32(digest.BlockSize*3), ranges[0].End)
	assert.Equal(t, uint32(digest.BlockSize*2), ranges[0].Len())
}
