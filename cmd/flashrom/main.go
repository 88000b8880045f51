// Command flashrom is the CLI surface described in spec.md section 6: a
// single binary with no subcommands, mutually exclusive operation flags and
// a file argument, grounded on mos/main.go's flat pflag-based flag table and
// cli/flagutils.go's glog-flag-hiding/pflag-interop pattern, reimplemented
// without mos's command dispatch since flashrom has no subcommands.
package main

import (
	goflag "flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cesanta/errors"
	"github.com/fatih/color"
	"github.com/golang/glog"
	flag "github.com/spf13/pflag"

	"github.com/flashrom-go/flashrom/internal/chip"
	"github.com/flashrom-go/flashrom/internal/digest"
	"github.com/flashrom-go/flashrom/internal/erase"
	"github.com/flashrom-go/flashrom/internal/flog"
	"github.com/flashrom-go/flashrom/internal/fwimage"
	"github.com/flashrom-go/flashrom/internal/pgmcfg"
	"github.com/flashrom-go/flashrom/internal/probe"
	"github.com/flashrom-go/flashrom/internal/programmer"
	"github.com/flashrom-go/flashrom/internal/programmer/dummy"
	"github.com/flashrom-go/flashrom/internal/programmer/serprog"
	"github.com/flashrom-go/flashrom/internal/programmer/spiftdi"
	"github.com/flashrom-go/flashrom/internal/programmer/usbraw"
)

// buildVersion is set at release build time; kept as a plain var rather
// than go-generated the way mos/version/version.go is, since this module
// has no release pipeline of its own.
var buildVersion = "dev"

var (
	optRead     = flag.Bool("read", false, "Read flash and save to the given file.")
	optWrite    = flag.Bool("write", false, "Write the given file to flash.")
	optVerify   = flag.Bool("verify", false, "Verify flash against the given file.")
	optErase    = flag.Bool("erase", false, "Erase the flash chip.")
	chipName   = flag.String("chip", "", "Probe only the named chip.")
	force      = flag.Bool("force", false, "Bypass probe mismatch and \"not working\" gating.")
	pgmSpec    = flag.String("programmer", "dummy", "Select a programmer, optionally with NAME:key=value,... parameters.")
	verbose    = flag.CountP("verbose", "V", "Raise log verbosity by one level; stackable.")
	listSupp   = flag.Bool("list-supported", false, "Print the supported chips and programmers, then exit.")
	versionFl  = flag.Bool("version", false, "Print version and exit.")
	minimize   = flag.Bool("minimize-writes", false, "Skip the write entirely when the file content already matches the chip.")
	hexGapSize = flag.Int("hex-gap-fill-size", 64, "Intel-HEX regions closer together than this many bytes are merged and gap-filled instead of kept separate.")
)

var hiddenGlogFlags = []string{
	"alsologtostderr", "log_backtrace_at", "log_dir", "logbufsecs",
	"logtostderr", "stderrthreshold", "vmodule",
}

func initFlags() {
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	for _, f := range hiddenGlogFlags {
		flag.CommandLine.MarkHidden(f)
	}
	flag.Usage = usage
}

func usage() {
	w := tabwriter.NewWriter(os.Stderr, 0, 0, 1, ' ', 0)
	fmt.Fprintf(w, "flashrom-go %s\n\n", buildVersion)
	fmt.Fprintf(w, "Usage:\n  %s --read|--write|--verify|--erase [flags] [file]\n\n", os.Args[0])
	fmt.Fprintf(w, "Flags:\n")
	w.Flush()
	flag.PrintDefaults()
}

func programmerTable() programmer.Table {
	return programmer.Table{
		"dummy":   dummy.New(dummy.NewDevice(16*1024*1024, 0xff)),
		"serprog": serprog.Entry,
		"spiftdi": spiftdi.Entry,
		"usbraw":  usbraw.Entry,
	}
}

func printSupported() {
	fmt.Println("Supported chips:")
	for _, d := range chip.Registry {
		fmt.Printf("  %-24s %-10s %6d kB  bus=%s\n", d.Name, d.Vendor, d.TotalSizeKiB, d.BusType)
	}
	fmt.Println("\nSupported programmers:")
	for name := range programmerTable() {
		fmt.Printf("  %s\n", name)
	}
}

func countOps() int {
	n := 0
	for _, b := range []bool{*optRead, *optWrite, *optVerify, *optErase} {
		if b {
			n++
		}
	}
	return n
}

func run() error {
	if *versionFl {
		fmt.Printf("flashrom-go %s\n", buildVersion)
		return nil
	}
	if *listSupp {
		printSupported()
		return nil
	}

	if n := countOps(); n != 1 {
		return errors.Errorf("exactly one of --read, --write, --verify, --erase is required (got %d)", n)
	}

	args := flag.Args()
	var file string
	switch {
	case *optErase:
		if len(args) != 0 {
			return errors.Errorf("--erase takes no file argument")
		}
	default:
		if len(args) != 1 {
			return errors.Errorf("exactly one file argument is required")
		}
		file = args[0]
	}

	if err := chip.SelfCheck(chip.Registry); err != nil {
		return errors.Annotatef(err, "internal chip registry self-check failed")
	}

	sess := programmer.NewSession()
	sess.Filter = *chipName

	name, paramStr := pgmcfg.SplitProgrammerSpec(*pgmSpec)
	params, err := pgmcfg.Parse(paramStr)
	if err != nil {
		return errors.Annotatef(err, "parsing --programmer parameters")
	}
	if err := sess.Init(programmerTable(), name, params); err != nil {
		return errors.Trace(err)
	}
	if rest := params.Unhandled(); len(rest) > 0 {
		flog.Reportf("ignoring unknown programmer parameter(s): %v", rest)
	}
	defer func() {
		if err := sess.Shutdown(); err != nil {
			flog.Errorf("shutdown: %v", err)
		}
	}()

	res, err := probe.ProbeFlash(sess, chip.Registry, probe.Options{Force: *force})
	if err != nil {
		return errors.Annotatef(err, "probing for flash chip")
	}
	ctx := res.Ctx
	size := ctx.Chip.TotalSize()

	switch {
	case *optErase:
		return runErase(ctx, size)
	case *optRead:
		return runRead(ctx, size, file)
	case *optWrite:
		return runWrite(ctx, size, file)
	case *optVerify:
		return runVerify(ctx, size, file)
	}
	return nil
}

func loadFile(fname string, size uint32) ([]byte, error) {
	data, err := os.ReadFile(fname)
	if err != nil {
		return nil, errors.Annotatef(err, "reading %s", fname)
	}
	if fwimage.DetectFormat(data) {
		return fwimage.LoadHexFile(fname, 0, size, 0xff, *hexGapSize)
	}
	return fwimage.LoadRawFile(fname, size, 0xff)
}

func runErase(ctx *programmer.FlashContext, size uint32) error {
	old := make([]byte, size)
	if err := ctx.Read(old, 0, size); err != nil {
		return errors.Annotatef(err, "reading current chip contents")
	}
	want := make([]byte, size)
	for i := range want {
		want[i] = 0xff
	}
	if err := erase.EraseAndWriteFlash(ctx, old, want); err != nil {
		return errors.Annotatef(err, "erasing chip")
	}
	flog.Reportf("Erase/write done.")
	return nil
}

func runRead(ctx *programmer.FlashContext, size uint32, file string) error {
	buf := make([]byte, size)
	if err := ctx.Read(buf, 0, size); err != nil {
		return errors.Annotatef(err, "reading chip")
	}
	if err := os.WriteFile(file, buf, 0644); err != nil {
		return errors.Annotatef(err, "writing %s", file)
	}
	flog.Reportf("Read done.")
	return nil
}

func runWrite(ctx *programmer.FlashContext, size uint32, file string) error {
	want, err := loadFile(file, size)
	if err != nil {
		return errors.Trace(err)
	}
	old := make([]byte, size)
	if err := ctx.Read(old, 0, size); err != nil {
		return errors.Annotatef(err, "reading current chip contents")
	}
	if *minimize {
		changed := digest.ChangedRanges(old, want)
		if len(changed) == 0 {
			flog.Reportf("File content already matches flash, nothing to do.")
			return nil
		}
		flog.Debugf("%d changed range(s) detected", len(changed))
	}
	if err := erase.EraseAndWriteFlash(ctx, old, want); err != nil {
		switch errors.Cause(err) {
		case erase.ErrNothingChanged:
			flog.Errorf("Writing to the flash chip apparently didn't do anything.")
		case erase.ErrEmergency:
			flog.Errorf("Your flash chip is in an unknown state. Do not reboot or power off!")
		}
		return errors.Annotatef(err, "writing chip")
	}
	flog.Reportf("Erase/write done.")

	if err := erase.VerifyAfterWrite(ctx, want); err != nil {
		if errors.Cause(err) == erase.ErrEmergency {
			flog.Errorf("Your flash chip is in an unknown state. Do not reboot or power off!")
		}
		return errors.Annotatef(err, "post-write verification")
	}
	return nil
}

func runVerify(ctx *programmer.FlashContext, size uint32, file string) error {
	want, err := loadFile(file, size)
	if err != nil {
		return errors.Trace(err)
	}
	have := make([]byte, size)
	if err := ctx.Read(have, 0, size); err != nil {
		return errors.Annotatef(err, "reading chip")
	}
	if err := erase.CompareRange(want, have, 0); err != nil {
		return errors.Annotatef(err, "verification failed")
	}
	flog.Reportf("Verify done.")
	return nil
}

func main() {
	initFlags()
	flag.Parse()
	flag.CommandLine.Set("v", fmt.Sprintf("%d", *verbose))

	if err := run(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %s\n", err)
		glog.Flush()
		os.Exit(1)
	}
	glog.Flush()
	os.Exit(0)
}
