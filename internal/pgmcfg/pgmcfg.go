// Package pgmcfg parses the programmer parameter syntax from spec.md
// section 6 ("key1=value1,key2=value2,..."), grounded on
// original_source/flashrom.c's extract_param/extract_programmer_param: each
// named parameter consumed by a backend is removed from the remaining
// string, and whatever is left over after init is a non-fatal warning
// rather than an error. The "parse some of a string, leave the rest
// untouched" shape mirrors common/go/pflagenv's approach to merging
// environment variables into already-declared flags.
package pgmcfg

import (
	"strings"

	"github.com/cesanta/errors"
)

// ParamSet holds the parsed key=value parameters from a programmer spec
// string, tracking which keys a backend has consumed so the remainder can
// be reported as unhandled-but-non-fatal per spec.md section 6.
type ParamSet struct {
	values  map[string]string
	fetched map[string]bool
}

// Parse splits "key1=value1,key2=value2" into a ParamSet. An empty string
// yields an empty, valid ParamSet (no programmer parameters given).
func Parse(s string) (*ParamSet, error) {
	ps := &ParamSet{values: map[string]string{}, fetched: map[string]bool{}}
	if s == "" {
		return ps, nil
	}
	for _, kv := range strings.Split(s, ",") {
		if kv == "" {
			continue
		}
		idx := strings.IndexByte(kv, '=')
		if idx < 0 {
			return nil, errors.Errorf("pgmcfg: malformed parameter %q, expected key=value", kv)
		}
		key, val := kv[:idx], kv[idx+1:]
		if key == "" {
			return nil, errors.Errorf("pgmcfg: empty parameter name in %q", kv)
		}
		ps.values[key] = val
	}
	return ps, nil
}

// Extract returns the value for name and marks it consumed, mirroring
// extract_param's "remove from haystack as it's consumed" behavior — here
// modeled as marking rather than mutating the source string, since Go
// callers hold an immutable ParamSet rather than re-parsing a C string in
// place.
func (ps *ParamSet) Extract(name string) (string, bool) {
	if ps == nil {
		return "", false
	}
	v, ok := ps.values[name]
	if ok {
		ps.fetched[name] = true
	}
	return v, ok
}

// Raw returns a copy of every parsed key=value pair, regardless of whether
// it has been Extract()ed. Kept for callers (tests, other tooling) that
// want the whole parameter set as a plain map without marking anything
// consumed.
func (ps *ParamSet) Raw() map[string]string {
	out := make(map[string]string, len(ps.values))
	for k, v := range ps.values {
		out[k] = v
	}
	return out
}

// Unhandled returns the parameter names that were never Extract()ed. The
// caller logs these as a warning, per spec.md section 6: "Unknown
// parameters remaining after init are logged but not fatal."
func (ps *ParamSet) Unhandled() []string {
	if ps == nil {
		return nil
	}
	var rest []string
	for k := range ps.values {
		if !ps.fetched[k] {
			rest = append(rest, k)
		}
	}
	return rest
}

// SplitProgrammerSpec splits "name:params" (spec.md section 6's
// "--programmer NAME[:params]") into the programmer name and its raw
// parameter string.
func SplitProgrammerSpec(spec string) (name, params string) {
	idx := strings.IndexByte(spec, ':')
	if idx < 0 {
		return spec, ""
	}
	return spec[:idx], spec[idx+1:]
}
