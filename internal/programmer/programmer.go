// Package programmer implements the dispatch layer of spec.md section 4.3:
// a table of programmer entries keyed by name, a
// session that collapses the process-wide globals the original
// implementation keeps (programmer_table[programmer], the shutdown list,
// max_rom_decode, programmer_may_write) into one explicitly-passed value
// per spec.md section 9's redesign note, and the byte-wide fallback
// synthesis (fallback_chip_readw/readn/writew/writen).
package programmer

import (
	"time"

	"github.com/cesanta/errors"

	"github.com/flashrom-go/flashrom/internal/chip"
	"github.com/flashrom-go/flashrom/internal/hwaccess"
	"github.com/flashrom-go/flashrom/internal/pgmcfg"
	"github.com/flashrom-go/flashrom/internal/shutdown"
)

// Kind distinguishes programmer transport classes (spec.md section 3:
// programmer entry "type").
type Kind int

const (
	KindOther Kind = iota
	KindPCI
	KindUSB
)

// ParVtable is the set of byte/word/long/n read+write primitives a
// parallel-style (memory-mapped or byte-wide-bus) programmer backend
// supplies, post-init.
type ParVtable struct {
	ReadB  func(addr uint32) uint8
	ReadW  func(addr uint32) uint16
	ReadL  func(addr uint32) uint32
	ReadN  func(addr uint32, buf []byte)
	WriteB func(addr uint32, v uint8)
	WriteW func(addr uint32, v uint16)
	WriteL func(addr uint32, v uint32)
	WriteN func(addr uint32, buf []byte)
}

// SPIVtable is the set of primitives a SPI-transport programmer backend
// may supply. No chip function in this module dispatches through it: chip
// access on every bus, SPI included, goes through ParVtable (see
// FlashContext.par).
type SPIVtable struct {
	// Transfer performs one full-duplex SPI transaction: write out, read
	// back into out (same buffer, like periph.io/x/conn/v3/spi.Conn.Tx).
	Transfer func(out []byte) error
}

// DecodeSizes mirrors struct decode_sizes: the maximum chip size the
// programmer's chipset/board can decode per bus, defaulting to unlimited.
type DecodeSizes struct {
	Parallel uint32
	LPC      uint32
	FWH      uint32
	SPI      uint32
}

// DefaultDecodeSizes returns the "unlimited" default from programmer_init.
func DefaultDecodeSizes() DecodeSizes {
	return DecodeSizes{Parallel: 0xffffffff, LPC: 0xffffffff, FWH: 0xffffffff, SPI: 0xffffffff}
}

// InitFunc initializes a programmer backend given its parsed parameter set,
// returning the vtables it supports (a backend may populate Par, SPI, or
// both) and its mapped window factory. Backends pull the keys they
// recognize out of ps via Extract; whatever is left unconsumed is reported
// by Session.Init's caller as a non-fatal warning (spec.md section 6).
type InitFunc func(s *Session, ps *pgmcfg.ParamSet) (*Backend, error)

// MapFunc maps the chip's window, returning hwaccess.Unmapped for
// non-memory-mapped transports (spec.md section 4.3).
type MapFunc func(descr string, physAddr uint32, length uint32) (hwaccess.MMIOWindow, error)

// UnmapFunc releases a window obtained from MapFunc.
type UnmapFunc func(win hwaccess.MMIOWindow, length uint32)

// DelayFunc busy-waits for the given duration, the only form of blocking
// this core ever performs internally (spec.md section 5).
type DelayFunc func(d time.Duration)

// Backend is what an InitFunc hands back: the vtables and resource-release
// hooks for one active programmer instance.
type Backend struct {
	BusesSupported chip.BusType
	Par            *ParVtable
	SPI            *SPIVtable
	Map            MapFunc
	Unmap          UnmapFunc
	Delay          DelayFunc
}

// Entry is an immutable, process-wide programmer table entry (spec.md
// section 3).
type Entry struct {
	Name string
	Kind Kind
	Init InitFunc
}

// Table is the fixed-length set of known programmers, keyed by name instead
// of a C enum (Go has no natural analogue for PROGRAMMER_INVALID-terminated
// arrays; a map keyed by name serves the same "select one, immutable after"
// role described in spec.md section 3's invariants).
type Table map[string]*Entry

// Session collapses the process-wide singletons from spec.md section 9 into
// one value: the active programmer's backend, the shutdown registry, decode
// size limits and the write-permission flag. Written once during
// programmer init and read-only thereafter except for the shutdown
// registry, which only grows until Drain.
type Session struct {
	ShutdownReg *shutdown.Registry
	Backend     *Backend
	DecodeSizes DecodeSizes
	MayWrite    bool
	Filter      string // optional --chip name filter
}

// NewSession returns a Session ready for programmer initialization, mirror
// of programmer_init's defaults (unlimited decode sizes, writes allowed).
func NewSession() *Session {
	return &Session{
		ShutdownReg: shutdown.New(),
		DecodeSizes: DefaultDecodeSizes(),
		MayWrite:    true,
	}
}

// Init selects and initializes the named programmer, opening the shutdown
// registry first (spec.md section 3 lifecycle step 1). Whatever ps keys the
// backend never Extract()ed are left for the caller to report via
// ps.Unhandled (spec.md section 6: "Unknown parameters remaining after
// init are logged but not fatal").
func (s *Session) Init(table Table, name string, ps *pgmcfg.ParamSet) error {
	entry, ok := table[name]
	if !ok {
		return errors.Errorf("invalid programmer specified: %q", name)
	}
	s.ShutdownReg.Open()
	backend, err := entry.Init(s, ps)
	if err != nil {
		return errors.Annotatef(err, "initializing %s programmer", name)
	}
	s.Backend = backend
	return nil
}

// Shutdown drains the shutdown registry in LIFO order (spec.md section 3
// lifecycle step 4).
func (s *Session) Shutdown() error {
	return s.ShutdownReg.Drain()
}

// CheckMaxDecode reports whether a chip of the given size fits this
// session's chipset/board decode-size limits on every bus in buses (false
// when any of those limits is exceeded), mirroring check_max_decode. It never aborts by itself; callers log and allow
// --force to proceed, per spec.md section 7's recovery policy.
func (s *Session) CheckMaxDecode(buses chip.BusType, size uint32) bool {
	exceeded := false
	if buses&chip.BusParallel != 0 && s.DecodeSizes.Parallel < size {
		exceeded = true
	}
	if buses&chip.BusLPC != 0 && s.DecodeSizes.LPC < size {
		exceeded = true
	}
	if buses&chip.BusFWH != 0 && s.DecodeSizes.FWH < size {
		exceeded = true
	}
	if buses&chip.BusSPI != 0 && s.DecodeSizes.SPI < size {
		exceeded = true
	}
	return !exceeded
}

// --- Fallback byte-wide synthesis (spec.md section 4.3) ---

// FallbackReadW synthesizes a little-endian word from two byte reads
// (fallback_chip_readw).
func FallbackReadW(readB func(uint32) uint8, addr uint32) uint16 {
	lo := readB(addr)
	hi := readB(addr + 1)
	return uint16(lo) | uint16(hi)<<8
}

// FallbackReadL synthesizes a little-endian long from four byte reads
// (fallback_chip_readl).
func FallbackReadL(readB func(uint32) uint8, addr uint32) uint32 {
	var v uint32
	for i := uint32(0); i < 4; i++ {
		v |= uint32(readB(addr+i)) << (8 * i)
	}
	return v
}

// FallbackReadN iterates readb over buf (fallback_chip_readn).
func FallbackReadN(readB func(uint32) uint8, addr uint32, buf []byte) {
	for i := range buf {
		buf[i] = readB(addr + uint32(i))
	}
}

// FallbackWriteW synthesizes a word write from two byte writes, little
// endian (fallback_chip_writew).
func FallbackWriteW(writeB func(uint32, uint8), addr uint32, v uint16) {
	writeB(addr, uint8(v))
	writeB(addr+1, uint8(v>>8))
}

// FallbackWriteL synthesizes a long write from four byte writes, little
// endian (fallback_chip_writel).
func FallbackWriteL(writeB func(uint32, uint8), addr uint32, v uint32) {
	for i := uint32(0); i < 4; i++ {
		writeB(addr+i, uint8(v>>(8*i)))
	}
}

// FallbackWriteN iterates writeb over buf (fallback_chip_writen).
func FallbackWriteN(writeB func(uint32, uint8), addr uint32, buf []byte) {
	for i, b := range buf {
		writeB(addr+uint32(i), b)
	}
}
