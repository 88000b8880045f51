// Package hwaccess defines the MMIOWindow interface through which
// programmer backends supply byte/word/long memory-mapped reads and writes,
// plus the reversible-write facility from spec.md section 4.1. The package
// issues no memory barrier of its own; access ordering is whatever each
// MMIOWindow implementation provides. Grounded on
// original_source/hwaccess.c (mmio_{read,write}{b,w,l}, the little-endian
// cpu_to_le/le_to_cpu variants, and rmmio_* / register_undo_mmio_write).
//
// The physical-to-virtual mapping itself (physmap() in the original) is out
// of scope per spec.md section 1; MMIOWindow is the interface contract a
// programmer backend must satisfy to hand the engine a usable window, or
// the Unmapped sentinel when its transport isn't memory-mapped at all.
package hwaccess

import (
	"encoding/binary"

	"github.com/flashrom-go/flashrom/internal/shutdown"
)

// Width identifies the access width of a reversible MMIO write.
type Width int

const (
	WidthByte Width = 1
	WidthWord Width = 2
	WidthLong Width = 4
)

// MMIOWindow is a mapped physical window into the chip's address space, or
// the unmapped sentinel for programmers whose transport isn't memory-mapped
// (serial, USB, SPI-over-FTDI, ...). Chip functions must never dereference a
// window directly; they go through this interface so an unmapped window can
// never be accidentally read past its backing.
type MMIOWindow interface {
	// Mapped reports whether this window backs real memory.
	Mapped() bool
	ReadB(off uint32) uint8
	ReadW(off uint32) uint16
	ReadL(off uint32) uint32
	ReadN(off uint32, buf []byte)
	WriteB(off uint32, v uint8)
	WriteW(off uint32, v uint16)
	WriteL(off uint32, v uint32)
	WriteN(off uint32, buf []byte)
}

// unmappedWindow is the sentinel returned when a programmer's backend has no
// memory-mapped window (spec.md section 4.3: map_flash_region returns either
// a usable window or a sentinel).
type unmappedWindow struct{}

// Unmapped is the shared unmapped-window sentinel.
var Unmapped MMIOWindow = unmappedWindow{}

func (unmappedWindow) Mapped() bool             { return false }
func (unmappedWindow) ReadB(uint32) uint8       { panic("hwaccess: read through unmapped window") }
func (unmappedWindow) ReadW(uint32) uint16      { panic("hwaccess: read through unmapped window") }
func (unmappedWindow) ReadL(uint32) uint32      { panic("hwaccess: read through unmapped window") }
func (unmappedWindow) ReadN(uint32, []byte)     { panic("hwaccess: read through unmapped window") }
func (unmappedWindow) WriteB(uint32, uint8)     { panic("hwaccess: write through unmapped window") }
func (unmappedWindow) WriteW(uint32, uint16)    { panic("hwaccess: write through unmapped window") }
func (unmappedWindow) WriteL(uint32, uint32)    { panic("hwaccess: write through unmapped window") }
func (unmappedWindow) WriteN(uint32, []byte)    { panic("hwaccess: write through unmapped window") }

// LEUint16/LEUint32 convert a value to its little-endian byte representation,
// the Go equivalent of cpu_to_le16/cpu_to_le32 used by the mmio_le_* family.
func LEUint16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func LEUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// undoData holds a previously snapshotted MMIO value; undoWrite, the
// callback Reversible registers with the shutdown registry, restores it.
type undoData struct {
	win   MMIOWindow
	width Width
	addr  uint32
	orig  uint32
}

func undoWrite(data interface{}) error {
	d := data.(*undoData)
	switch d.width {
	case WidthByte:
		d.win.WriteB(d.addr, uint8(d.orig))
	case WidthWord:
		d.win.WriteW(d.addr, uint16(d.orig))
	case WidthLong:
		d.win.WriteL(d.addr, d.orig)
	}
	return nil
}

func snapshot(win MMIOWindow, width Width, addr uint32) uint32 {
	switch width {
	case WidthByte:
		return uint32(win.ReadB(addr))
	case WidthWord:
		return uint32(win.ReadW(addr))
	default:
		return win.ReadL(addr)
	}
}

// ReversibleSnapshot snapshots the current value at addr without writing,
// and registers an undo callback with reg that restores it at shutdown. This
// is the valX contract from spec.md section 4.1, used when the new value is
// established by side effect elsewhere.
func ReversibleSnapshot(reg *shutdown.Registry, win MMIOWindow, width Width, addr uint32) error {
	d := &undoData{win: win, width: width, addr: addr, orig: snapshot(win, width, addr)}
	return reg.Register(undoWrite, d)
}

// Reversible snapshots the current value at addr, registers an undo callback
// with reg, and then performs the write. On shutdown the registry restores
// the original value.
func Reversible(reg *shutdown.Registry, win MMIOWindow, width Width, addr uint32, val uint32) error {
	if err := ReversibleSnapshot(reg, win, width, addr); err != nil {
		return err
	}
	switch width {
	case WidthByte:
		win.WriteB(addr, uint8(val))
	case WidthWord:
		win.WriteW(addr, uint16(val))
	case WidthLong:
		win.WriteL(addr, val)
	}
	return nil
}
