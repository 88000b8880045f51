// Package dummy provides a RAM-backed programmer backend used by this
// module's own end-to-end tests (spec.md section 8's scenarios S1-S6) and
// by operators who want to exercise the engine without real hardware. It has
// no teacher-repo equivalent as a standalone package, but plays the same
// role a dummy/emulated serial link plays in the teacher's own
// mos/flash/esp/flasher tests: a fully in-process stand-in for a chip.
package dummy

import (
	"time"

	"github.com/cesanta/errors"

	"github.com/flashrom-go/flashrom/internal/chip"
	"github.com/flashrom-go/flashrom/internal/hwaccess"
	"github.com/flashrom-go/flashrom/internal/pgmcfg"
	"github.com/flashrom-go/flashrom/internal/programmer"
)

// Device is the RAM buffer a dummy programmer drives. Tests construct one
// directly to seed pre-state and inspect post-state.
type Device struct {
	Mem []byte

	// DropFirstWrite, when true, silently discards the next WriteN call
	// without error -- used by spec.md section 8's S4 scenario ("verify
	// after write mismatch") to simulate a programmer that lies about
	// success.
	DropFirstWrite bool
	droppedOnce    bool

	// FailAtBlock, if non-negative, makes the Nth WriteN call (counting
	// from 0; the registry's sample erase functions also go through WriteN)
	// silently do nothing, without reporting an error -- used by S5 (eraser
	// fallback) to force a mid-walk failure that the post-erase check
	// catches.
	FailAtBlock int
	callCount   int
}

// NewDevice returns a Device of the given size, filled with fill.
func NewDevice(size int, fill byte) *Device {
	m := make([]byte, size)
	for i := range m {
		m[i] = fill
	}
	return &Device{Mem: m, FailAtBlock: -1}
}

func (d *Device) maybeFail() error {
	if d.FailAtBlock >= 0 && d.callCount == d.FailAtBlock {
		d.callCount++
		return errors.Errorf("dummy: simulated failure at call %d", d.callCount-1)
	}
	d.callCount++
	return nil
}

// window adapts Device to hwaccess.MMIOWindow.
type window struct{ d *Device }

func (w window) Mapped() bool { return true }
func (w window) ReadB(off uint32) uint8  { return w.d.Mem[off] }
func (w window) ReadW(off uint32) uint16 { return uint16(w.d.Mem[off]) | uint16(w.d.Mem[off+1])<<8 }
func (w window) ReadL(off uint32) uint32 {
	m := w.d.Mem
	return uint32(m[off]) | uint32(m[off+1])<<8 | uint32(m[off+2])<<16 | uint32(m[off+3])<<24
}
func (w window) ReadN(off uint32, buf []byte) { copy(buf, w.d.Mem[off:]) }
func (w window) WriteB(off uint32, v uint8)   { w.d.Mem[off] = v }
func (w window) WriteW(off uint32, v uint16) {
	w.d.Mem[off] = byte(v)
	w.d.Mem[off+1] = byte(v >> 8)
}
func (w window) WriteL(off uint32, v uint32) {
	w.d.Mem[off] = byte(v)
	w.d.Mem[off+1] = byte(v >> 8)
	w.d.Mem[off+2] = byte(v >> 16)
	w.d.Mem[off+3] = byte(v >> 24)
}
func (w window) WriteN(off uint32, buf []byte) {
	if w.d.DropFirstWrite && !w.d.droppedOnce {
		w.d.droppedOnce = true
		return
	}
	if err := w.d.maybeFail(); err != nil {
		return
	}
	copy(w.d.Mem[off:], buf)
}

// New returns a programmer.Entry backed by dev, ready to register in a
// programmer.Table under the name "dummy".
func New(dev *Device) *programmer.Entry {
	return &programmer.Entry{
		Name: "dummy",
		Kind: programmer.KindOther,
		Init: func(s *programmer.Session, ps *pgmcfg.ParamSet) (*programmer.Backend, error) {
			win := window{d: dev}
			par := &programmer.ParVtable{
				ReadB:  win.ReadB,
				ReadW:  win.ReadW,
				ReadL:  win.ReadL,
				ReadN:  win.ReadN,
				WriteB: win.WriteB,
				WriteW: win.WriteW,
				WriteL: win.WriteL,
				WriteN: win.WriteN,
			}
			return &programmer.Backend{
				BusesSupported: chip.BusParallel | chip.BusSPI | chip.BusLPC | chip.BusFWH,
				Par:            par,
				Map: func(descr string, physAddr, length uint32) (hwaccess.MMIOWindow, error) {
					return win, nil
				},
				Unmap: func(hwaccess.MMIOWindow, uint32) {},
				Delay: func(time.Duration) {},
			}, nil
		},
	}
}
