// Package usbraw implements a programmer backend for USB-attached raw
// flash programmers speaking a simple bulk-transfer command/response
// protocol, grounded on mos/flash/common/usb.go's OpenUSBDevice (the
// teacher's own gousb device-open-by-VID/PID routine) and registered for
// teardown through internal/shutdown the way a real device handle must be
// closed exactly once, in reverse acquisition order.
package usbraw

import (
	"time"

	"github.com/cesanta/errors"
	"github.com/golang/glog"
	"github.com/google/gousb"

	"github.com/flashrom-go/flashrom/internal/chip"
	"github.com/flashrom-go/flashrom/internal/hwaccess"
	"github.com/flashrom-go/flashrom/internal/pgmcfg"
	"github.com/flashrom-go/flashrom/internal/programmer"
)

// Wire command bytes for the raw bulk protocol: a one-byte opcode, a
// 4-byte little-endian address, a 4-byte little-endian length, then
// (for writes) the payload.
const (
	opRead  = 0x01
	opWrite = 0x02
)

// OpenDevice opens a USB device matching vid/pid (and, if non-empty,
// serial), returning the context and device the caller owns. Mirrors
// common.OpenUSBDevice exactly, generalized from gousb.ID-typed vid/pid
// arguments already in that shape.
func OpenDevice(vid, pid gousb.ID, serial string) (*gousb.Context, *gousb.Device, error) {
	uctx := gousb.NewContext()
	devs, err := uctx.OpenDevices(func(dd *gousb.DeviceDesc) bool {
		result := dd.Vendor == vid && dd.Product == pid
		glog.V(1).Infof("Dev %+v", dd)
		return result
	})
	if err != nil && len(devs) == 0 {
		uctx.Close()
		return nil, nil, errors.Annotatef(err, "failed to enumerate USB devices")
	}
	var res *gousb.Device
	for _, dev := range devs {
		if res != nil {
			dev.Close()
			continue
		}
		sn, _ := dev.SerialNumber()
		glog.V(1).Infof("Dev %+v sn %q", dev, sn)
		if serial == "" || sn == serial {
			res = dev
		} else {
			dev.Close()
		}
	}
	if res == nil {
		sep := ""
		if serial != "" {
			sep = "/"
		}
		uctx.Close()
		return nil, nil, errors.Errorf("no USB device matching %s:%s%s%s found", vid, pid, sep, serial)
	}
	return uctx, res, nil
}

// endpoint is the minimal bulk in/out pair this backend drives.
type endpoint interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
}

type link struct {
	ep endpoint
}

func le32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func (l *link) readCmd(addr, length uint32) ([]byte, error) {
	hdr := append([]byte{opRead}, le32(addr)...)
	hdr = append(hdr, le32(length)...)
	if _, err := l.ep.Write(hdr); err != nil {
		return nil, errors.Annotatef(err, "usbraw: sending read command")
	}
	buf := make([]byte, length)
	if _, err := l.ep.Read(buf); err != nil {
		return nil, errors.Annotatef(err, "usbraw: reading response")
	}
	return buf, nil
}

func (l *link) writeCmd(addr uint32, data []byte) error {
	hdr := append([]byte{opWrite}, le32(addr)...)
	hdr = append(hdr, le32(uint32(len(data)))...)
	hdr = append(hdr, data...)
	if _, err := l.ep.Write(hdr); err != nil {
		return errors.Annotatef(err, "usbraw: sending write command")
	}
	return nil
}

// window adapts link onto hwaccess.MMIOWindow.
type window struct{ lk *link }

func (w window) Mapped() bool { return true }

func (w window) ReadB(off uint32) uint8 {
	buf, err := w.lk.readCmd(off, 1)
	if err != nil || len(buf) == 0 {
		return 0
	}
	return buf[0]
}

func (w window) ReadN(off uint32, buf []byte) {
	out, err := w.lk.readCmd(off, uint32(len(buf)))
	if err == nil {
		copy(buf, out)
	}
}

func (w window) ReadW(off uint32) uint16 {
	buf := make([]byte, 2)
	w.ReadN(off, buf)
	return uint16(buf[0]) | uint16(buf[1])<<8
}

func (w window) ReadL(off uint32) uint32 {
	buf := make([]byte, 4)
	w.ReadN(off, buf)
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
}

func (w window) WriteB(off uint32, v uint8) { w.lk.writeCmd(off, []byte{v}) }
func (w window) WriteN(off uint32, buf []byte) { w.lk.writeCmd(off, buf) }
func (w window) WriteW(off uint32, v uint16) {
	w.lk.writeCmd(off, []byte{byte(v), byte(v >> 8)})
}
func (w window) WriteL(off uint32, v uint32) {
	w.lk.writeCmd(off, []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

// Entry returns a programmer.Entry named "usbraw" driven by the
// "vid"/"pid" (required, hex) and "serial" (optional) programmer
// parameters.
var Entry = &programmer.Entry{
	Name: "usbraw",
	Kind: programmer.KindUSB,
	Init: func(s *programmer.Session, ps *pgmcfg.ParamSet) (*programmer.Backend, error) {
		vidStr, _ := ps.Extract("vid")
		vid, err := parseHexID(vidStr)
		if err != nil {
			return nil, errors.Annotatef(err, "usbraw: parsing vid=")
		}
		pidStr, _ := ps.Extract("pid")
		pid, err := parseHexID(pidStr)
		if err != nil {
			return nil, errors.Annotatef(err, "usbraw: parsing pid=")
		}
		serial, _ := ps.Extract("serial")
		uctx, dev, err := OpenDevice(gousb.ID(vid), gousb.ID(pid), serial)
		if err != nil {
			return nil, err
		}

		cfg, err := dev.Config(1)
		if err != nil {
			dev.Close()
			uctx.Close()
			return nil, errors.Annotatef(err, "usbraw: selecting config 1")
		}
		iface, err := cfg.Interface(0, 0)
		if err != nil {
			cfg.Close()
			dev.Close()
			uctx.Close()
			return nil, errors.Annotatef(err, "usbraw: claiming interface 0")
		}
		out, err := iface.OutEndpoint(1)
		if err != nil {
			iface.Close()
			cfg.Close()
			dev.Close()
			uctx.Close()
			return nil, errors.Annotatef(err, "usbraw: opening OUT endpoint 1")
		}
		in, err := iface.InEndpoint(1)
		if err != nil {
			iface.Close()
			cfg.Close()
			dev.Close()
			uctx.Close()
			return nil, errors.Annotatef(err, "usbraw: opening IN endpoint 1")
		}

		if err := s.ShutdownReg.Register(func(interface{}) error {
			iface.Close()
			cfg.Close()
			dev.Close()
			return uctx.Close()
		}, nil); err != nil {
			iface.Close()
			cfg.Close()
			dev.Close()
			uctx.Close()
			return nil, err
		}

		lk := &link{ep: rawEndpoint{out: out, in: in}}
		win := window{lk: lk}
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
			Delay: func(d time.Duration) { time.Sleep(d) },
		}, nil
	},
}

// rawEndpoint adapts a gousb in/out endpoint pair onto the endpoint
// interface above.
type rawEndpoint struct {
	out *gousb.OutEndpoint
	in  *gousb.InEndpoint
}

func (r rawEndpoint) Write(p []byte) (int, error) { return r.out.Write(p) }
func (r rawEndpoint) Read(p []byte) (int, error)  { return r.in.Read(p) }

func parseHexID(s string) (uint16, error) {
	if s == "" {
		return 0, errors.Errorf("required")
	}
	var v uint16
	for _, c := range s {
		var d uint16
		switch {
		case c >= '0' && c <= '9':
			d = uint16(c - '0')
		case c >= 'a' && c <= 'f':
			d = uint16(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = uint16(c-'A') + 10
		default:
			return 0, errors.Errorf("invalid hex digit %q in %q", c, s)
		}
		v = v*16 + d
	}
	return v, nil
}
