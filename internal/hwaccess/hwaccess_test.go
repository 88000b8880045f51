package hwaccess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashrom-go/flashrom/internal/shutdown"
)

// ramWindow is a trivial in-memory MMIOWindow used only to exercise the
// reversible-write contract; the real mapped-memory backend lives with
// whichever programmer provides it (out of scope per spec.md section 1).
type ramWindow struct {
	mem []byte
}

func newRAMWindow(size int) *ramWindow { return &ramWindow{mem: make([]byte, size)} }

func (w *ramWindow) Mapped() bool { return true }
func (w *ramWindow) ReadB(off uint32) uint8  { return w.mem[off] }
func (w *ramWindow) ReadW(off uint32) uint16 { return uint16(w.mem[off]) | uint16(w.mem[off+1])<<8 }
func (w *ramWindow) ReadL(off uint32) uint32 {
	return uint32(w.mem[off]) | uint32(w.mem[off+1])<<8 | uint32(w.mem[off+2])<<16 | uint32(w.mem[off+3])<<24
}
func (w *ramWindow) ReadN(off uint32, buf []byte) { copy(buf, w.mem[off:]) }
func (w *ramWindow) WriteB(off uint32, v uint8)   { w.mem[off] = v }
func (w *ramWindow) WriteW(off uint32, v uint16) {
	w.mem[off] = byte(v)
	w.mem[off+1] = byte(v >> 8)
}
func (w *ramWindow) WriteL(off uint32, v uint32) {
	w.mem[off] = byte(v)
	w.mem[off+1] = byte(v >> 8)
	w.mem[off+2] = byte(v >> 16)
	w.mem[off+3] = byte(v >> 24)
}
func (w *ramWindow) WriteN(off uint32, buf []byte) { copy(w.mem[off:], buf) }

func TestReversibleRestoresOnDrain(t *testing.T) {
	win := newRAMWindow(16)
	win.WriteB(0, 0x42)

	reg := shutdown.New()
	reg.Open()
	require.NoError(t, Reversible(reg, win, WidthByte, 0, 0x99))
	assert.Equal(t, uint8(0x99), win.ReadB(0))

	require.NoError(t, reg.Drain())
	assert.Equal(t, uint8(0x42), win.ReadB(0))
}

func TestReversibleSnapshotDoesNotWrite(t *testing.T) {
	win := newRAMWindow(16)
	win.WriteL(4, 0xdeadbeef)

	reg := shutdown.New()
	reg.Open()
	require.NoError(t, ReversibleSnapshot(reg, win, WidthLong, 4))
	assert.Equal(t, uint32(0xdeadbeef), win.ReadL(4))

	win.WriteL(4, 0x11223344)
	require.NoError(t, reg.Drain())
	assert.Equal(t, uint32(0xdeadbeef), win.ReadL(4))
}

func TestLittleEndianHelpers(t *testing.T) {
	assert.Equal(t, []byte{0x34, 0x12}, LEUint16(0x1234))
	assert.Equal(t, []byte{0x78, 0x56, 0x34, 0x12}, LEUint32(0x12345678))
}

func TestUnmappedWindowPanicsOnDereference(t *testing.T) {
	assert.False(t, Unmapped.Mapped())
	assert.Panics(t, func() { Unmapped.ReadB(0) })
}
