// Package chip holds the immutable chip descriptor model from spec.md
// section 3 and the startup self-check from spec.md section 4.5.8. Grounded
// on the struct flashchip / struct block_eraser / struct eraseblock shapes
// implied throughout original_source/flashrom.c, en29f002a.c, nicintel.c and
// sst49lf040.h, reworked into the capability-record style spec.md section 9
// asks for (absent capabilities are an explicit nil func, checked before
// every dispatch, never dereferenced blind).
package chip

import (
	"github.com/cesanta/errors"
)

// BusType is a bitmask over the buses a chip or programmer can speak.
type BusType uint8

const (
	BusParallel BusType = 1 << iota
	BusLPC
	BusFWH
	BusSPI
)

func (b BusType) String() string {
	var parts []string
	if b&BusParallel != 0 {
		parts = append(parts, "Parallel")
	}
	if b&BusLPC != 0 {
		parts = append(parts, "LPC")
	}
	if b&BusFWH != 0 {
		parts = append(parts, "FWH")
	}
	if b&BusSPI != 0 {
		parts = append(parts, "SPI")
	}
	if len(parts) == 0 {
		return "none"
	}
	s := parts[0]
	for _, p := range parts[1:] {
		s += "+" + p
	}
	return s
}

// WriteGranularity is the smallest unit of change a partial write can effect
// without first erasing (spec.md section 3).
type WriteGranularity int

const (
	GranUnknown WriteGranularity = iota
	Gran1Bit
	Gran1Byte
	Gran256Bytes
)

// Stride returns the unit, in bytes, get_next_write should advance by.
func (g WriteGranularity) Stride() int {
	if g == Gran256Bytes {
		return 256
	}
	return 1
}

// TestState is one of {unknown, ok, bad} for a single tested-status field.
type TestState uint8

const (
	TestUnknown TestState = iota
	TestOK
	TestBad
)

// Tested packs the four two-state tested fields {probe, read, erase, write}
// described in spec.md section 3.
type Tested struct {
	Probe TestState
	Read  TestState
	Erase TestState
	Write TestState
}

// EraseRegion is a contiguous span of the chip tiled by Count blocks of Size
// bytes each.
type EraseRegion struct {
	Count int
	Size  int
}

// EraseFunc erases [addr, addr+len) on the bound flash context. Its identity
// (as a Go func value cannot be compared with ==) is tracked by a separate
// Name/ID for the no-two-erasers-share-a-function self-check, since unlike C
// function pointers Go closures aren't comparable.
type EraseFunc func(ctx interface{}, addr, length uint32) error

// BlockEraser is a pair of (region layout, erase function) describing one of
// several ways a chip can be erased (spec.md's "block eraser"). Either both
// Regions and Erase are populated, or neither — see CheckBlockEraser.
type BlockEraser struct {
	// ID identifies this eraser's underlying erase function for the
	// no-two-erasers-identical self-check; the original compares function
	// pointers, Go compares these IDs instead (func values aren't
	// comparable here because some erasers share an underlying chip-level
	// primitive parameterized only by region shape).
	ID      string
	Regions []EraseRegion
	Erase   EraseFunc
}

// ReadFunc fills buf with len bytes starting at chip offset start.
type ReadFunc func(ctx interface{}, buf []byte, start, length uint32) error

// WriteFunc programs len bytes of buf starting at chip offset start. The
// chip's declared granularity governs whether start/len must be 256-byte
// aligned.
type WriteFunc func(ctx interface{}, buf []byte, start, length uint32) error

// ProbeFunc attempts to identify the chip through ctx, returning true on a
// positive identification.
type ProbeFunc func(ctx interface{}) (bool, error)

// UnlockFunc removes any write-protection the chip may have.
type UnlockFunc func(ctx interface{}) error

// PrintLockFunc reports the chip's current lock/protection state to the
// operator.
type PrintLockFunc func(ctx interface{}) error

// Quirks holds the documented, deliberately-not-load-bearing guesses called
// out in spec.md section 9: the NIC-Intel Flash Control Register write is a
// guess and must stay an overridable knob, not an invariant.
type Quirks struct {
	// NICIntelFCR0001 records the guess that 0x0001 is written to the
	// NIC-Intel Flash Control Register during unlock. It is set to true on
	// the NIC-Intel registry entry and is a plain descriptor field: no
	// unlock function in this module's registry reads it, and no programmer
	// parameter sets it.
	NICIntelFCR0001 bool
}

// MaxErasers is the maximum number of block-eraser slots a descriptor may
// define (K in spec.md's notation; the original's NUM_ERASEFUNCTIONS is 8).
const MaxErasers = 8

// MaxRegions is the maximum number of erase regions within one eraser's
// layout (R in spec.md's notation; the original's NUM_ERASEREGIONS is 4).
const MaxRegions = 4

// Feature bits (spec.md section 3: "e.g. OTP, address-shift quirks").
type Feature uint32

const (
	FeatureOTP Feature = 1 << iota
	FeatureAddressShift
	FeatureWriteProtectPin
)

// Descriptor is the immutable chip descriptor (spec.md section 3). Values
// live in Registry and are copied into a flash context per probe so
// per-run fields may be adjusted without mutating the registry entry.
type Descriptor struct {
	Vendor string
	Name   string

	ManufactureID uint16
	ModelID       uint16

	BusType BusType

	TotalSizeKiB int
	PageSize     int

	Features Feature
	Tested   Tested

	BlockErasers []BlockEraser

	WriteGranularity WriteGranularity

	Probe     ProbeFunc
	Read      ReadFunc
	Write     WriteFunc
	Unlock    UnlockFunc
	PrintLock PrintLockFunc

	Quirks Quirks
}

// TotalSize returns the chip's total size in bytes.
func (d *Descriptor) TotalSize() uint32 {
	return uint32(d.TotalSizeKiB) * 1024
}

// Clone returns a deep-enough copy of d suitable for binding into a flash
// context, mirroring probe_flash's calloc+memcpy of struct flashchip before
// probing, so per-run adjustments (e.g. a detected flash-params tweak) never
// mutate the shared registry entry.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	c.BlockErasers = make([]BlockEraser, len(d.BlockErasers))
	for i, be := range d.BlockErasers {
		nbe := be
		nbe.Regions = append([]EraseRegion(nil), be.Regions...)
		c.BlockErasers[i] = nbe
	}
	return &c
}

// CheckBlockEraser validates eraser k of chip per check_block_eraser in the
// original: a usable eraser must have both a region layout and an erase
// function, or neither (meaning it's simply not defined). Returns a non-nil
// error describing which half is missing when the eraser is malformed or
// undefined; callers skip such erasers rather than treating this as fatal.
func CheckBlockEraser(d *Descriptor, k int) error {
	if k < 0 || k >= len(d.BlockErasers) {
		return errors.Errorf("eraser %d: not defined", k)
	}
	be := d.BlockErasers[k]
	hasFn := be.Erase != nil
	hasLayout := len(be.Regions) > 0 && be.Regions[0].Count > 0
	switch {
	case !hasFn && !hasLayout:
		return errors.Errorf("eraser %d: not defined", k)
	case !hasFn && hasLayout:
		return errors.Errorf("eraser %d: eraseblock layout is known, but matching block erase function is not implemented", k)
	case hasFn && !hasLayout:
		return errors.Errorf("eraser %d: block erase function found, but eraseblock layout is not defined", k)
	default:
		return nil
	}
}

// CountUsableErasers returns the number of block erasers for which both the
// region layout and erase function are defined (count_usable_erasers).
func CountUsableErasers(d *Descriptor) int {
	n := 0
	for k := range d.BlockErasers {
		if CheckBlockEraser(d, k) == nil {
			n++
		}
	}
	return n
}

// SelfCheck validates the entire registry per spec.md section 4.5.8
// (selfcheck_eraseblocks in the original): every block eraser's region-list
// sum must equal the chip's total size, no region may have exactly one of
// count and size equal to zero, and no two erasers in the same chip may share the same
// underlying erase function. It keeps checking after the first violation so
// a single run reports everything wrong with the registry, mirroring the
// original's "even if an error is found, keep going" comment.
func SelfCheck(registry []*Descriptor) error {
	var errs []error
	for _, d := range registry {
		for k, be := range d.BlockErasers {
			done := 0
			for i, r := range be.Regions {
				if r.Count != 0 && r.Size == 0 {
					errs = append(errs, errors.Errorf("%s: eraser %d region %d has size 0", d.Name, k, i))
				}
				if r.Count == 0 && r.Size != 0 {
					errs = append(errs, errors.Errorf("%s: eraser %d region %d has count 0", d.Name, k, i))
				}
				done += r.Count * r.Size
			}
			if done == 0 {
				continue
			}
			if done != int(d.TotalSize()) {
				errs = append(errs, errors.Errorf(
					"%s: eraser %d region walking resulted in %d bytes total, expected %d bytes",
					d.Name, k, done, d.TotalSize()))
			}
			if be.Erase == nil {
				continue
			}
			for j := k + 1; j < len(d.BlockErasers); j++ {
				other := d.BlockErasers[j]
				if other.Erase != nil && other.ID == be.ID {
					errs = append(errs, errors.Errorf("%s: erase functions %d and %d are identical", d.Name, k, j))
				}
			}
		}
	}
	if len(errs) > 0 {
		msg := "chip registry self-check failed:"
		for _, e := range errs {
			msg += "\n  " + e.Error()
		}
		return errors.New(msg)
	}
	return nil
}
