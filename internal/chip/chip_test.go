package chip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelfCheckPassesOnShippedRegistry(t *testing.T) {
	require.NoError(t, SelfCheck(Registry))
}

func TestSelfCheckCatchesRegionSumMismatch(t *testing.T) {
	bad := &Descriptor{
		Name:         "bad",
		TotalSizeKiB: 4,
		BlockErasers: []BlockEraser{
			{ID: "a", Erase: func(interface{}, uint32, uint32) error { return nil }, Regions: []EraseRegion{{Count: 1, Size: 1024}}},
		},
	}
	err := SelfCheck([]*Descriptor{bad})
	assert.Error(t, err)
}

func TestSelfCheckCatchesDuplicateEraseFunctionID(t *testing.T) {
	fn := func(interface{}, uint32, uint32) error { return nil }
	bad := &Descriptor{
		Name:         "dup",
		TotalSizeKiB: 8,
		BlockErasers: []BlockEraser{
			{ID: "shared", Erase: fn, Regions: []EraseRegion{{Count: 2, Size: 4096}}},
			{ID: "shared", Erase: fn, Regions: []EraseRegion{{Count: 1, Size: 8192}}},
		},
	}
	err := SelfCheck([]*Descriptor{bad})
	assert.Error(t, err)
}

func TestSelfCheckCatchesZeroSizeNonZeroCount(t *testing.T) {
	bad := &Descriptor{
		Name:         "zero-size",
		TotalSizeKiB: 4,
		BlockErasers: []BlockEraser{
			{ID: "a", Erase: func(interface{}, uint32, uint32) error { return nil }, Regions: []EraseRegion{{Count: 4, Size: 0}}},
		},
	}
	err := SelfCheck([]*Descriptor{bad})
	assert.Error(t, err)
}

func TestCheckBlockEraserRequiresBoth(t *testing.T) {
	onlyLayout := &Descriptor{
		BlockErasers: []BlockEraser{{Regions: []EraseRegion{{Count: 1, Size: 1024}}}},
	}
	assert.Error(t, CheckBlockEraser(onlyLayout, 0))

	onlyFn := &Descriptor{
		BlockErasers: []BlockEraser{{Erase: func(interface{}, uint32, uint32) error { return nil }}},
	}
	assert.Error(t, CheckBlockEraser(onlyFn, 0))

	both := &Descriptor{
		BlockErasers: []BlockEraser{{
			Erase:   func(interface{}, uint32, uint32) error { return nil },
			Regions: []EraseRegion{{Count: 1, Size: 1024}},
		}},
	}
	assert.NoError(t, CheckBlockEraser(both, 0))
}

func TestCountUsableErasers(t *testing.T) {
	for _, d := range Registry {
		assert.Greater(t, CountUsableErasers(d), 0, "%s should have at least one usable eraser", d.Name)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	d := Registry[0]
	c := d.Clone()
	c.BlockErasers[0].Regions[0].Count = 999
	assert.NotEqual(t, d.BlockErasers[0].Regions[0].Count, c.BlockErasers[0].Regions[0].Count)
}

func TestWriteGranularityStride(t *testing.T) {
	assert.Equal(t, 1, Gran1Bit.Stride())
	assert.Equal(t, 1, Gran1Byte.Stride())
	assert.Equal(t, 256, Gran256Bytes.Stride())
}
