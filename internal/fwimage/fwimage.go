// Package fwimage loads flash chip images from raw binary or Intel HEX
// files, adapted from common/fwbundle/fw_part_hex.go's ParseHexBundle /
// PartsFromHex (the teacher's firmware-bundle Intel HEX reader), reworked
// here to produce a single flat chip-sized byte buffer instead of a list of
// named firmware parts.
package fwimage

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"io/ioutil"

	"github.com/cesanta/errors"
)

// Region is one contiguous span of an Intel HEX file, at the address it
// was recorded at.
type Region struct {
	Addr uint32
	Data []byte
}

// HexImage is the set of address-tagged regions extracted from an Intel
// HEX file plus its optional execution start address.
type HexImage struct {
	Regions []Region
	Start   uint32
}

// ParseHex decodes an Intel HEX file's bytes into a HexImage. Gaps between
// consecutive records narrower than maxGapSize bytes are filled with fill
// and folded into the same region; wider gaps start a new region. This is
// ParseHexBundle from the teacher, generalized from "firmware parts" to
// plain address/data regions.
func ParseHex(hexData []byte, fill byte, maxGapSize int) (*HexImage, error) {
	hi := &HexImage{}
	eof := false
	scanner := bufio.NewScanner(bytes.NewBuffer(hexData))
	lineNo := 0
	var curData []byte
	var regionBase, curBase, curAddr uint32
	setRegionBase := false

	for scanner.Scan() {
		lineNo++
		l := scanner.Text()
		if len(l) == 0 {
			continue
		}
		if l[0] != ':' {
			return nil, errors.Errorf("line %d: invalid start of the line", lineNo)
		}
		if len(l) < 11 || len(l)%2 != 1 {
			return nil, errors.Errorf("line %d: too short (%d)", lineNo, len(l))
		}
		ld, err := hex.DecodeString(l[1:])
		if err != nil {
			return nil, errors.Errorf("line %d: error decoding record body", lineNo)
		}
		buf := bytes.NewBuffer(ld)
		var recLen uint8
		binary.Read(buf, binary.BigEndian, &recLen)
		if len(ld) != 4+int(recLen)+1 {
			return nil, errors.Errorf("line %d: invalid length %d", lineNo, len(ld))
		}
		checksum := ld[len(ld)-1]
		cs := uint8(0)
		for _, b := range ld[:len(ld)-1] {
			cs += b
		}
		cs = (cs ^ 0xff) + 1
		if cs != checksum {
			return nil, errors.Errorf("line %d: invalid checksum (want %02x, got %02x)", lineNo, checksum, cs)
		}
		var recOffset uint16
		binary.Read(buf, binary.BigEndian, &recOffset)
		var recType uint8
		binary.Read(buf, binary.BigEndian, &recType)

		switch recType {
		case 0:
			data := make([]byte, recLen)
			buf.Read(data)
			addr := curBase + uint32(recOffset)
			if !setRegionBase {
				regionBase = curBase
				setRegionBase = true
			}
			if curData != nil && addr != curAddr {
				gap := int(addr - curAddr)
				if gap < maxGapSize {
					for i := 0; i < gap; i++ {
						curData = append(curData, fill)
					}
				} else {
					hi.Regions = append(hi.Regions, Region{Addr: regionBase, Data: curData})
					curData = nil
					regionBase = addr
				}
			}
			curData = append(curData, data...)
			curAddr = curBase + uint32(recOffset) + uint32(len(data))
		case 1:
			if curData != nil {
				hi.Regions = append(hi.Regions, Region{Addr: regionBase, Data: curData})
			}
			eof = true
		case 2:
			if recLen != 2 {
				return nil, errors.Errorf("line %d: invalid extended segment address", lineNo)
			}
			var addr uint16
			binary.Read(buf, binary.BigEndian, &addr)
			curBase = uint32(addr) << 4
		case 3:
			if recLen != 4 {
				return nil, errors.Errorf("line %d: start segment address", lineNo)
			}
			var cs, ip uint16
			binary.Read(buf, binary.BigEndian, &cs)
			binary.Read(buf, binary.BigEndian, &ip)
			hi.Start = (uint32(cs) << 4) | uint32(ip)
		case 4:
			if recLen != 2 {
				return nil, errors.Errorf("line %d: invalid extended linear address", lineNo)
			}
			var addr uint16
			binary.Read(buf, binary.BigEndian, &addr)
			curBase = uint32(addr) << 16
		case 5:
			if recLen != 4 {
				return nil, errors.Errorf("line %d: invalid start linear address", lineNo)
			}
			binary.Read(buf, binary.BigEndian, &hi.Start)
		default:
			return nil, errors.Errorf("line %d: unsupported record type (%d)", lineNo, recType)
		}
		if eof {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Annotatef(err, "line %d", lineNo)
	}
	if !eof {
		return nil, errors.Errorf("unexpected end of data")
	}
	return hi, nil
}

// Flatten lays hi's regions into a single chipSize-byte buffer, starting
// each region at (region.Addr - base), and filling everything untouched
// with fill. It errors if any region falls outside [base, base+chipSize).
func Flatten(hi *HexImage, base uint32, chipSize uint32, fill byte) ([]byte, error) {
	out := make([]byte, chipSize)
	for i := range out {
		out[i] = fill
	}
	for _, r := range hi.Regions {
		if r.Addr < base {
			return nil, errors.Errorf("fwimage: region at 0x%x starts before chip base 0x%x", r.Addr, base)
		}
		off := r.Addr - base
		end := uint64(off) + uint64(len(r.Data))
		if end > uint64(chipSize) {
			return nil, errors.Errorf("fwimage: region at 0x%x (len 0x%x) exceeds chip size 0x%x", r.Addr, len(r.Data), chipSize)
		}
		copy(out[off:], r.Data)
	}
	return out, nil
}

// LoadHexFile reads fname as Intel HEX and flattens it onto a chipSize
// buffer (PartsFromHexFile's single-image counterpart).
func LoadHexFile(fname string, base, chipSize uint32, fill byte, maxGapSize int) ([]byte, error) {
	hexData, err := ioutil.ReadFile(fname)
	if err != nil {
		return nil, errors.Trace(err)
	}
	hi, err := ParseHex(hexData, fill, maxGapSize)
	if err != nil {
		return nil, errors.Annotatef(err, "error parsing hex data")
	}
	return Flatten(hi, base, chipSize, fill)
}

// LoadRawFile reads fname as a raw binary image. It is an error for the
// file to be smaller or larger than chipSize; no padding is done, and fill
// is not used.
func LoadRawFile(fname string, chipSize uint32, fill byte) ([]byte, error) {
	data, err := ioutil.ReadFile(fname)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if uint32(len(data)) != chipSize {
		return nil, errors.Errorf("fwimage: file %q (%d bytes) does not match chip size (%d bytes)", fname, len(data), chipSize)
	}
	return data, nil
}

// DetectFormat returns true if data looks like an Intel HEX file (its
// first non-blank line begins with ':').
func DetectFormat(data []byte) (isHex bool) {
	for _, line := range bytes.SplitN(data, []byte("\n"), 2) {
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		return trimmed[0] == ':'
	}
	return false
}
