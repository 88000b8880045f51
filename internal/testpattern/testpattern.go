// Package testpattern generates the 14 deterministic test patterns
// operators use to characterise a chip's faults (spec.md section 4.6),
// grounded line-for-line on original_source/flashrom.c's
// generate_testpattern.
package testpattern

import (
	"github.com/cesanta/errors"
)

// NumVariants is the number of distinct pattern variants (0..13).
const NumVariants = 14

// Generate fills buf with pattern variant (spec.md section 8's S6
// scenario documents variant 0 exactly). Variants 0-7 additionally stamp
// the big-endian 256-byte block index into the last two bytes of every
// full 256-byte block, matching the original's "easier reading of the
// hexdump" comment.
func Generate(buf []byte, variant int) error {
	if buf == nil {
		return errors.Errorf("testpattern: buffer is nil")
	}
	if variant < 0 || variant >= NumVariants {
		return errors.Errorf("testpattern: variant %d out of range [0,%d)", variant, NumVariants)
	}

	size := len(buf)

	switch variant {
	case 0:
		for i := 0; i < size; i++ {
			buf[i] = byte(i&0xf)<<4 | 0x5
		}
	case 1:
		for i := 0; i < size; i++ {
			buf[i] = byte(i&0xf)<<4 | 0xa
		}
	case 2:
		for i := 0; i < size; i++ {
			buf[i] = 0x50 | byte(i&0xf)
		}
	case 3:
		for i := 0; i < size; i++ {
			buf[i] = 0xa0 | byte(i&0xf)
		}
	case 4:
		for i := 0; i < size; i++ {
			buf[i] = byte(i&0xf) << 4
		}
	case 5:
		for i := 0; i < size; i++ {
			buf[i] = byte(i & 0xf)
		}
	case 6:
		fill(buf, 0x00)
	case 7:
		fill(buf, 0xff)
	case 8:
		for i := 0; i < size; i++ {
			buf[i] = byte(i & 0xff)
		}
	case 9:
		for i := 0; i < size; i++ {
			buf[i] = ^byte(i & 0xff)
		}
	case 10:
		// Subblock-aliasing detector for sizes over 256 bytes with a
		// 16-bit counter spread across byte pairs. Mirrors the
		// original's own "for (i = 0; i < size % 2; i++)" loop bound
		// verbatim, including its effectively-no-op behavior on
		// even-sized buffers -- see DESIGN.md for why this is kept
		// rather than silently "fixed" to size/2.
		i := 0
		for ; i < size%2; i++ {
			buf[i*2] = byte((i >> 8) & 0xff)
			buf[i*2+1] = byte(i & 0xff)
		}
		if size&0x1 != 0 {
			buf[i*2] = byte((i >> 8) & 0xff)
		}
	case 11:
		i := 0
		for ; i < size%2; i++ {
			buf[i*2] = ^byte((i >> 8) & 0xff)
			buf[i*2+1] = ^byte(i & 0xff)
		}
		if size&0x1 != 0 {
			buf[i*2] = ^byte((i >> 8) & 0xff)
		}
	case 12:
		fill(buf, 0x00)
	case 13:
		fill(buf, 0xff)
	}

	if variant >= 0 && variant <= 7 {
		for i := 0; i < size/256; i++ {
			buf[i*256+254] = byte((i >> 8) & 0xff)
			buf[i*256+255] = byte(i & 0xff)
		}
	}

	return nil
}

func fill(buf []byte, v byte) {
	for i := range buf {
		buf[i] = v
	}
}
