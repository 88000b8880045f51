// Package flog adapts the engine's severity-tagged message channel (info,
// debug, debug2, error) onto glog, the way the rest of the retrieval corpus
// logs: info-level progress goes through Reportf, anything finer through
// glog's verbosity levels, and failures through Errorf.
package flog

import (
	"fmt"

	"github.com/golang/glog"
)

// Reportf prints an operator-facing progress message (spec.md's "info"
// severity) and mirrors it to the glog info stream.
func Reportf(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
	glog.Infof(format, args...)
}

// Debugf is spec.md's "debug" severity: shown at -v=1 and above.
func Debugf(format string, args ...interface{}) {
	glog.V(1).Infof(format, args...)
}

// Debug2f is spec.md's "debug2" severity: shown at -v=2 and above.
func Debug2f(format string, args ...interface{}) {
	glog.V(2).Infof(format, args...)
}

// Errorf is spec.md's "error" severity.
func Errorf(format string, args ...interface{}) {
	glog.Errorf(format, args...)
}

// Glyph prints g inline without a trailing newline: the single-character
// progress glyphs (E, W, S) and the block address ranges around them,
// mirroring erase_and_write_block_helper's msg_cdbg(...)
// calls in the original implementation.
func Glyph(g string) {
	fmt.Print(g)
}
