// Package probe implements the probe/identification flow from spec.md
// section 4.4, grounded on original_source/flashrom.c's probe_flash.
package probe

import (
	"fmt"
	"strings"

	"github.com/cesanta/errors"

	"github.com/flashrom-go/flashrom/internal/chip"
	"github.com/flashrom-go/flashrom/internal/flog"
	"github.com/flashrom-go/flashrom/internal/programmer"
)

// genericDeviceID/sfdpDeviceID mark catch-all matches that should yield to
// a more specific chip on the same bus (probe_flash's SFDP_DEVICE_ID /
// GENERIC_DEVICE_ID special-casing). No chip in this module's registry uses
// them yet; they exist so a future SFDP/CFI auto-detector chip can opt in to
// the same "don't win over a specific match" rule without engine changes.
const (
	genericDeviceID = 0xFFFF
	sfdpDeviceID    = 0xFFFE
)

// Options controls one probe_flash invocation.
type Options struct {
	// StartIndex is the registry index to resume scanning from (0 to start
	// fresh).
	StartIndex int
	// Force bypasses the chip's probe function and accepts the first
	// bus-compatible, name-matching entry unconditionally.
	Force bool
	// Base, if non-zero, overrides the default top-aligned mapping base
	// (0xFFFFFFFF - size + 1).
	Base uint32
}

// Result is what a successful probe returns.
type Result struct {
	Ctx      *programmer.FlashContext
	NextIndex int
	Location string
}

// ErrNotFound is returned (wrapped) when no chip matched.
var ErrNotFound = errors.New("probe: no matching flash chip found")

// ProbeFlash scans registry starting at opts.StartIndex, skipping entries
// whose name doesn't match sess.Filter and whose bus type doesn't intersect
// the session's active backend, and binds the first accepted match into a
// flash context. Callers that want to detect a second chip reinvoke with
// opts.StartIndex = result.NextIndex + 1, per spec.md section 4.4.
func ProbeFlash(sess *programmer.Session, registry []*chip.Descriptor, opts Options) (*Result, error) {
	if sess.Backend == nil {
		return nil, errors.Errorf("probe: programmer is not initialized")
	}

	for i := opts.StartIndex; i < len(registry); i++ {
		d := registry[i]

		if sess.Filter != "" && !strings.EqualFold(d.Name, sess.Filter) {
			continue
		}
		busesCommon := sess.Backend.BusesSupported & d.BusType
		if busesCommon == 0 {
			continue
		}

		flog.Debug2f("Probing for %s %s, %d kB", d.Vendor, d.Name, d.TotalSizeKiB)

		if d.Probe == nil && !opts.Force {
			flog.Debug2f("failed! flashrom-go has no probe function for this flash chip.")
			continue
		}

		size := d.TotalSize()
		if !sess.CheckMaxDecode(busesCommon, size) {
			flog.Debugf("chip %s kB exceeds programmer's decode size for the common bus(es)", d.Name)
		}

		candidate := d.Clone()
		base := opts.Base
		if base == 0 {
			base = 0xFFFFFFFF - size + 1
		}
		win, err := sess.Backend.Map("flash chip", base, size)
		if err != nil {
			return nil, errors.Annotatef(err, "mapping window for %s", d.Name)
		}
		ctx := &programmer.FlashContext{Chip: candidate, Session: sess, VirtualMemory: win}

		accept := false
		if opts.Force {
			accept = true
		} else {
			ok, err := d.Probe(ctx)
			if err != nil {
				flog.Debugf("probe error for %s: %v", d.Name, err)
			} else if ok {
				// Accept unless this is not the first probe on this
				// programmer and the model is a generic/SFDP catch-all.
				if opts.StartIndex == 0 {
					accept = true
				} else if d.ModelID != genericDeviceID && d.ModelID != sfdpDeviceID {
					accept = true
				}
			}
		}

		if !accept {
			sess.Backend.Unmap(win, size)
			continue
		}

		location := locationString(sess, base)
		flog.Reportf("%s %s flash chip %q (%d kB, %s) %s.",
			verbForce(opts.Force), d.Vendor, d.Name, d.TotalSizeKiB, d.BusType, location)

		if !opts.Force && d.PrintLock != nil {
			if err := d.PrintLock(ctx); err != nil {
				flog.Debugf("printlock failed: %v", err)
			}
		}

		return &Result{Ctx: ctx, NextIndex: i, Location: location}, nil
	}

	return nil, ErrNotFound
}

func verbForce(force bool) string {
	if force {
		return "Assuming"
	}
	return "Found"
}

func locationString(sess *programmer.Session, base uint32) string {
	return fmt.Sprintf("at physical address 0x%x", base)
}
