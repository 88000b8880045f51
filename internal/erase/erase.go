// Package erase implements the differential erase-and-write algorithm from
// spec.md section 4.5, grounded line-by-line on
// original_source/flashrom.c's compare_range / check_erased_range /
// verify_range / need_erase / get_next_write / erase_and_write_block_helper
// / walk_eraseregions / erase_and_write_flash.
package erase

import (
	"bytes"
	"fmt"

	"github.com/cesanta/errors"

	"github.com/flashrom-go/flashrom/internal/chip"
	"github.com/flashrom-go/flashrom/internal/flog"
	"github.com/flashrom-go/flashrom/internal/programmer"
)

// CompareRange reports the first mismatch and the total failing-byte count
// between want and have, mirroring compare_range. A nil error means the
// buffers are identical over the compared range.
func CompareRange(want, have []byte, start uint32) error {
	failCount := 0
	firstIdx := -1
	for i := range want {
		if want[i] != have[i] {
			if firstIdx < 0 {
				firstIdx = i
			}
			failCount++
		}
	}
	if failCount == 0 {
		return nil
	}
	return errors.Errorf(
		"FAILED at 0x%08x! Expected=0x%02x, Found=0x%02x, failed byte count from 0x%08x-0x%08x: 0x%x",
		start+uint32(firstIdx), want[firstIdx], have[firstIdx], start, start+uint32(len(want))-1, failCount)
}

// VerifyRange reads len bytes at start from ctx and compares against cmpbuf
// (verify_range).
func VerifyRange(ctx *programmer.FlashContext, cmpbuf []byte, start uint32) error {
	length := uint32(len(cmpbuf))
	if length == 0 {
		return nil
	}
	readbuf := make([]byte, length)
	if err := ctx.Read(readbuf, start, length); err != nil {
		return errors.Annotatef(err, "verification impossible because read failed at 0x%x (len 0x%x)", start, length)
	}
	return CompareRange(cmpbuf, readbuf, start)
}

// CheckErasedRange verifies that [start, start+len) now reads back as
// all-ones (check_erased_range), the post-erase contract from spec.md
// section 3's invariants.
func CheckErasedRange(ctx *programmer.FlashContext, start, length uint32) error {
	cmpbuf := make([]byte, length)
	for i := range cmpbuf {
		cmpbuf[i] = 0xFF
	}
	return VerifyRange(ctx, cmpbuf, start)
}

// NeedErase reports whether have can be reprogrammed to want in place given
// gran, or whether an erase is required first (spec.md section 4.5.2).
func NeedErase(have, want []byte, gran chip.WriteGranularity) bool {
	switch gran {
	case chip.Gran1Bit:
		for i := range have {
			if have[i]&want[i] != want[i] {
				return true
			}
		}
		return false
	case chip.Gran1Byte:
		for i := range have {
			if have[i] != want[i] && have[i] != 0xFF {
				return true
			}
		}
		return false
	case chip.Gran256Bytes:
		for j := 0; j < len(have); j += 256 {
			limit := 256
			if j+limit > len(have) {
				limit = len(have) - j
			}
			sub := have[j : j+limit]
			wantSub := want[j : j+limit]
			if bytes.Equal(sub, wantSub) {
				continue
			}
			for _, b := range sub {
				if b != 0xFF {
					return true
				}
			}
		}
		return false
	default:
		// Unknown granularity is a fatal programmer error per spec.md
		// section 4.5.2; the caller must not reach this with
		// chip.GranUnknown.
		panic("erase: unsupported write granularity")
	}
}

// GetNextWrite returns the next contiguous differing run between have and
// want, measured in units of gran's stride, starting the scan at
// relStart. It returns the run's start offset (relative to have/want, i.e.
// relStart + however far the scan had to go to find the first difference)
// and the run's length (0 if none remains).
func GetNextWrite(have, want []byte, relStart int, gran chip.WriteGranularity) (runStart, runLen int) {
	stride := gran.Stride()
	haveTail := have[relStart:]
	wantTail := want[relStart:]
	needWrite := false
	start := 0
	i := 0
	n := len(haveTail) / stride
	for ; i < n; i++ {
		lo, hi := i*stride, i*stride+stride
		if hi > len(haveTail) {
			hi = len(haveTail)
		}
		if !bytes.Equal(haveTail[lo:hi], wantTail[lo:hi]) {
			if !needWrite {
				needWrite = true
				start = i * stride
			}
		} else if needWrite {
			break
		}
	}
	if !needWrite {
		return relStart, 0
	}
	runLen = i*stride - start
	if runLen > len(haveTail) {
		runLen = len(haveTail)
	}
	return relStart + start, runLen
}

// ErrNothingChanged is returned (wrapped with the underlying failure via
// errors.Annotatef, unwrap with errors.Cause) by EraseAndWriteFlash's
// section 4.5.7 verification policy when a write attempt failed but a
// post-failure re-read shows the chip content is still identical to what it
// held before the attempt -- the original's "Good. It seems nothing was
// changed." diagnosis, usually meaning a silently read-only
// programmer/chip.
var ErrNothingChanged = errors.New("erase: write failed, but flash chip content is unchanged")

// ErrEmergency is returned (wrapped, unwrap with errors.Cause) when a write
// attempt failed and the chip's content no longer matches what it held
// before the attempt, or a post-failure re-read itself failed -- the
// original's emergency_help_message() case: the chip may be left in an
// unknown, partially-written state and the operator must not reboot or
// power off until it is recovered.
var ErrEmergency = errors.New("erase: flash chip may be in an unknown state, do not reboot or power off")

// CheckBlockEraser re-exports chip.CheckBlockEraser for callers in this
// package's own idiom (erase_and_write_flash calls check_block_eraser
// directly in the original).
func CheckBlockEraser(d *chip.Descriptor, k int) error {
	return chip.CheckBlockEraser(d, k)
}

// blockFunc is invoked by WalkEraseRegions for each aligned block.
type blockFunc func(ctx *programmer.FlashContext, addr, length uint32, cur, want []byte, erasefn chip.EraseFunc) error

// WalkEraseRegions iterates eraser's region list in order, emitting blocks
// [start, start+size) with start monotonically increasing, invoking fn for
// each. It aborts on the first block for which fn returns an error
// (walk_eraseregions).
func WalkEraseRegions(ctx *programmer.FlashContext, eraser chip.BlockEraser, cur, want []byte, fn blockFunc) error {
	start := uint32(0)
	first := true
	for _, region := range eraser.Regions {
		for j := 0; j < region.Count; j++ {
			if !first {
				flog.Glyph(", ")
			}
			first = false
			length := uint32(region.Size)
			flog.Glyph(fmt.Sprintf("0x%06x-0x%06x", start, start+length-1))
			if err := fn(ctx, start, length, cur, want, eraser.Erase); err != nil {
				return err
			}
			start += length
		}
	}
	flog.Glyph("\n")
	return nil
}

// blockGranularity returns the chip's declared WriteGranularity. The
// original fixes this at 256 bytes under its own FIXME ("Assume 256 byte
// granularity for now to play it safe"); here it is derived from the chip.
func blockGranularity(d *chip.Descriptor) chip.WriteGranularity {
	return d.WriteGranularity
}

// EraseAndWriteBlockHelper is erase_and_write_block_helper: for one aligned
// block, decide whether an erase is needed, erase and verify if so, then
// repeatedly extract and issue the minimal set of partial writes.
func EraseAndWriteBlockHelper(ctx *programmer.FlashContext, start, length uint32, curcontents, newcontents []byte, erasefn chip.EraseFunc) error {
	gran := blockGranularity(ctx.Chip)
	if gran == chip.GranUnknown {
		return errors.Errorf("erase: chip %s has unknown write granularity", ctx.Chip.Name)
	}

	cur := curcontents[start : start+length]
	want := newcontents[start : start+length]

	skip := true

	if NeedErase(cur, want, gran) {
		flog.Glyph("E")
		if err := erasefn(ctx, start, length); err != nil {
			return err
		}
		if err := CheckErasedRange(ctx, start, length); err != nil {
			return errors.Annotatef(err, "ERASE FAILED at 0x%x len 0x%x", start, length)
		}
		for i := range cur {
			cur[i] = 0xFF
		}
		skip = false
	}

	relStart := 0
	writeCount := 0
	for {
		runStart, runLen := GetNextWrite(cur, want, relStart, gran)
		if runLen == 0 {
			break
		}
		if writeCount == 0 {
			flog.Glyph("W")
		}
		writeCount++
		if err := ctx.Write(want[runStart:runStart+runLen], start+uint32(runStart), uint32(runLen)); err != nil {
			return err
		}
		copy(cur[runStart:runStart+runLen], want[runStart:runStart+runLen])
		relStart = runStart + runLen
		skip = false
	}

	if skip {
		flog.Glyph("S")
	}
	return nil
}

// EraseAndWriteFlash is the top-level entry point, spec.md section 4.5.1:
// given full-chip old and new content buffers, converge the chip to new,
// falling back between block-erasers on failure after a full re-read
// (erase_and_write_flash).
func EraseAndWriteFlash(ctx *programmer.FlashContext, old, new_ []byte) error {
	size := ctx.Chip.TotalSize()
	if uint32(len(old)) != size || uint32(len(new_)) != size {
		return errors.Errorf("erase: old/new buffers must be exactly %d bytes", size)
	}

	flog.Reportf("Erasing and writing flash chip...")

	curcontents := make([]byte, size)
	copy(curcontents, old)

	usable := chip.CountUsableErasers(ctx.Chip)

	var lastErr error
	succeeded := false
	for k := range ctx.Chip.BlockErasers {
		if k != 0 {
			flog.Debugf("Looking for another erase function.")
		}
		if usable == 0 {
			flog.Debugf("No usable erase functions left.")
			break
		}
		if err := chip.CheckBlockEraser(ctx.Chip, k); err != nil {
			continue
		}
		usable--

		eraser := ctx.Chip.BlockErasers[k]
		err := WalkEraseRegions(ctx, eraser, curcontents, new_, EraseAndWriteBlockHelper)
		if err == nil {
			succeeded = true
			break
		}
		lastErr = err

		if usable == 0 {
			continue
		}

		flog.Reportf("Reading current flash chip contents...")
		if err := ctx.Read(curcontents, 0, size); err != nil {
			return errors.Annotatef(ErrEmergency, "can't read anymore, aborting: %v", err)
		}
	}

	if !succeeded {
		flog.Reportf("FAILED!")
		if lastErr == nil {
			lastErr = errors.Errorf("erase: no usable erase function succeeded")
		}
		return verificationFailure(ctx, old, size, lastErr)
	}
	flog.Reportf("Erase/write done.")
	return nil
}

// verificationFailure implements spec.md section 4.5.7's post-failure
// policy: re-read the whole chip and compare against old (the content
// before this call started). Identical means the write never actually took
// effect (ErrNothingChanged, likely a read-only programmer/chip); any
// difference -- or a re-read that itself fails -- means the chip may be
// left in an inconsistent state (ErrEmergency), mirroring the original's
// "Uh oh. Erase/write failed. Checking if anything changed." /
// emergency_help_message() sequence.
func verificationFailure(ctx *programmer.FlashContext, old []byte, size uint32, writeErr error) error {
	flog.Errorf("Erase/write failed. Checking if anything changed.")
	recheck := make([]byte, size)
	if err := ctx.Read(recheck, 0, size); err != nil {
		return errors.Annotatef(ErrEmergency, "re-read after failed write also failed (%v): %v", err, writeErr)
	}
	if bytes.Equal(old, recheck) {
		flog.Reportf("Good. It seems nothing was changed.")
		return errors.Annotatef(ErrNothingChanged, "%v", writeErr)
	}
	return errors.Annotatef(ErrEmergency, "%v", writeErr)
}

// VerifyAfterWrite implements section 4.5.7's other verification step: once
// EraseAndWriteFlash itself has reported success, settle briefly, re-read
// the whole chip and compare against want. Unlike verificationFailure's
// nothing-changed/emergency distinction, a mismatch here is unconditionally
// an emergency -- the write claimed success, so a chip that doesn't match
// what was written is in a state the original doesn't know how to explain
// (emergency_help_message(), the verify_range() branch of doit()).
func VerifyAfterWrite(ctx *programmer.FlashContext, want []byte) error {
	ctx.Delay(1000)
	have := make([]byte, len(want))
	if err := ctx.Read(have, 0, uint32(len(want))); err != nil {
		return errors.Annotatef(ErrEmergency, "reading back chip for post-write verification: %v", err)
	}
	if err := CompareRange(want, have, 0); err != nil {
		flog.Errorf("Verification failed.")
		return errors.Annotatef(ErrEmergency, "%v", err)
	}
	return nil
}
