package erase_test

import (
	"testing"

	"github.com/cesanta/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashrom-go/flashrom/internal/chip"
	"github.com/flashrom-go/flashrom/internal/erase"
	"github.com/flashrom-go/flashrom/internal/probe"
	"github.com/flashrom-go/flashrom/internal/programmer"
	"github.com/flashrom-go/flashrom/internal/programmer/dummy"
)

func newCtx(t *testing.T, size int, fill byte, chipName string) (*programmer.FlashContext, *dummy.Device) {
	t.Helper()
	dev := dummy.NewDevice(size, fill)
	sess := programmer.NewSession()
	table := programmer.Table{"dummy": dummy.New(dev)}
	require.NoError(t, sess.Init(table, "dummy", nil))
	sess.Filter = chipName
	res, err := probe.ProbeFlash(sess, chip.Registry, probe.Options{Force: true})
	require.NoError(t, err)
	return res.Ctx, dev
}

func TestCompareRangeNoMismatch(t *testing.T) {
	want := []byte{1, 2, 3}
	have := []byte{1, 2, 3}
	assert.NoError(t, erase.CompareRange(want, have, 0))
}

func TestCompareRangeReportsFirstMismatchAndCount(t *testing.T) {
	want := []byte{1, 2, 3, 4}
	have := []byte{1, 9, 3, 9}
	err := erase.CompareRange(want, have, 0x100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0x00000101")
	assert.Contains(t, err.Error(), "0x2")
}

func TestNeedEraseGran1Bit(t *testing.T) {
	have := []byte{0xFF, 0x0F}
	want := []byte{0x0F, 0x0F}
	assert.False(t, erase.NeedErase(have, want, chip.Gran1Bit), "clearing bits only never needs erase")

	have2 := []byte{0x0F, 0x0F}
	want2 := []byte{0xFF, 0x0F}
	assert.True(t, erase.NeedErase(have2, want2, chip.Gran1Bit), "setting a bit requires erase")
}

func TestNeedEraseGran1Byte(t *testing.T) {
	have := []byte{0xFF, 0xAB}
	want := []byte{0x10, 0xAB}
	assert.False(t, erase.NeedErase(have, want, chip.Gran1Byte), "rewriting an erased byte is fine")

	have2 := []byte{0x10, 0xAB}
	want2 := []byte{0x20, 0xAB}
	assert.True(t, erase.NeedErase(have2, want2, chip.Gran1Byte))
}

func TestNeedEraseGran256Bytes(t *testing.T) {
	have := make([]byte, 512)
	want := make([]byte, 512)
	for i := range have {
		have[i] = 0xFF
	}
	have[300] = 0x00
	copy(want, have)
	want[300] = 0x42
	assert.True(t, erase.NeedErase(have, want, chip.Gran256Bytes), "changed second 256-byte block that is not wholly 0xFF needs erase")

	have2 := make([]byte, 256)
	want2 := make([]byte, 256)
	for i := range have2 {
		have2[i] = 0xFF
	}
	copy(want2, have2)
	want2[10] = 0xAB
	assert.False(t, erase.NeedErase(have2, want2, chip.Gran256Bytes), "single block may be rewritten wholesale without erase")
}

func TestGetNextWriteFindsContiguousRun(t *testing.T) {
	have := []byte{1, 1, 1, 1, 1, 1}
	want := []byte{1, 1, 9, 9, 1, 1}
	start, length := erase.GetNextWrite(have, want, 0, chip.Gran1Byte)
	assert.Equal(t, 2, start)
	assert.Equal(t, 2, length)
}

func TestGetNextWriteNoneLeft(t *testing.T) {
	have := []byte{1, 1, 1}
	want := []byte{1, 1, 1}
	_, length := erase.GetNextWrite(have, want, 0, chip.Gran1Byte)
	assert.Equal(t, 0, length)
}

func TestGetNextWrite256Stride(t *testing.T) {
	have := make([]byte, 512)
	want := make([]byte, 512)
	want[300] = 0x42
	start, length := erase.GetNextWrite(have, want, 0, chip.Gran256Bytes)
	assert.Equal(t, 256, start)
	assert.Equal(t, 256, length)
}

// TestEraseAndWriteFlashFreshChip covers S1 of spec.md section 8: writing a
// fully-erased chip should erase nothing (every block already reads 0xFF)
// and only issue writes.
func TestEraseAndWriteFlashFreshChip(t *testing.T) {
	ctx, dev := newCtx(t, 4096*1024, 0xFF, "25-series SPI flash (4MiB)")
	size := int(ctx.Chip.TotalSize())

	old := make([]byte, size)
	for i := range old {
		old[i] = 0xFF
	}
	new_ := make([]byte, size)
	copy(new_, old)
	new_[10] = 0xAB
	new_[5000] = 0xCD

	require.NoError(t, erase.EraseAndWriteFlash(ctx, old, new_))
	assert.Equal(t, byte(0xAB), dev.Mem[10])
	assert.Equal(t, byte(0xCD), dev.Mem[5000])
}

// TestEraseAndWriteFlashRequiresErase covers S2: a chip already holding data
// that doesn't satisfy the new image's bit pattern must be erased before
// being rewritten.
func TestEraseAndWriteFlashRequiresErase(t *testing.T) {
	ctx, dev := newCtx(t, 4096*1024, 0x00, "25-series SPI flash (4MiB)")
	size := int(ctx.Chip.TotalSize())

	old := make([]byte, size)
	new_ := make([]byte, size)
	new_[42] = 0x55

	require.NoError(t, erase.EraseAndWriteFlash(ctx, old, new_))
	assert.Equal(t, byte(0x55), dev.Mem[42])
}

// TestEraseAndWriteFlashFallsBackToSecondEraser covers S5: when the first
// eraser fails partway through, the engine re-reads the chip and retries
// with the next usable eraser rather than aborting outright.
func TestEraseAndWriteFlashFallsBackToSecondEraser(t *testing.T) {
	ctx, dev := newCtx(t, 4096*1024, 0x00, "25-series SPI flash (4MiB)")
	size := int(ctx.Chip.TotalSize())
	require.Len(t, ctx.Chip.BlockErasers, 2, "genericSPI256M25 must offer a fallback eraser")

	// Fail the very first erase call (the 4KiB-sector eraser's first
	// block), forcing a fallback to the 64KiB-block eraser.
	dev.FailAtBlock = 0

	old := make([]byte, size)
	new_ := make([]byte, size)
	new_[100] = 0x77

	err := erase.EraseAndWriteFlash(ctx, old, new_)
	// The dummy's failure model discards calls rather than corrupting the
	// chip, so the coarser second eraser should still converge the image.
	require.NoError(t, err)
	assert.Equal(t, byte(0x77), dev.Mem[100])
}

// TestVerifyAfterWriteCatchesSilentlyDroppedWrite covers S4: a programmer
// that silently drops a write without returning an error leaves
// EraseAndWriteFlash believing it succeeded, so the chip's content doesn't
// match what was asked for. VerifyAfterWrite's unconditional post-success
// re-read/compare is what actually catches this, and must surface it as
// erase.ErrEmergency since the write claimed success.
func TestVerifyAfterWriteCatchesSilentlyDroppedWrite(t *testing.T) {
	ctx, dev := newCtx(t, 4096*1024, 0xFF, "25-series SPI flash (4MiB)")
	size := int(ctx.Chip.TotalSize())

	old := make([]byte, size)
	for i := range old {
		old[i] = 0xFF
	}
	new_ := make([]byte, size)
	copy(new_, old)
	new_[10] = 0xAB

	dev.DropFirstWrite = true

	require.NoError(t, erase.EraseAndWriteFlash(ctx, old, new_), "a dropped write isn't reported as an error by the engine itself")

	err := erase.VerifyAfterWrite(ctx, new_)
	require.Error(t, err)
	assert.Equal(t, erase.ErrEmergency, errors.Cause(err))
}

func TestWalkEraseRegionsVisitsEveryBlockInOrder(t *testing.T) {
	ctx, _ := newCtx(t, 4096*1024, 0xFF, "25-series SPI flash (4MiB)")
	eraser := ctx.Chip.BlockErasers[0]

	var seen []uint32
	size := int(ctx.Chip.TotalSize())
	cur := make([]byte, size)
	want := make([]byte, size)
	for i := range cur {
		cur[i], want[i] = 0xFF, 0xFF
	}

	err := erase.WalkEraseRegions(ctx, eraser, cur, want, func(_ *programmer.FlashContext, addr, length uint32, _, _ []byte, _ chip.EraseFunc) error {
		seen = append(seen, addr)
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, seen)
	assert.Equal(t, uint32(0), seen[0])
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
	}
}
