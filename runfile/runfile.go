// Package runfile loads the TOML description of a run: which source to
// compile, which external functions it may call, what inputs to bind, and
// the resource limits to enforce.
package runfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/hibervm-dev/hibervm/interp"
	"github.com/hibervm-dev/hibervm/resource"
	"github.com/hibervm-dev/hibervm/vm"
)

type RunFile struct {
	Run    RunDetails     `toml:""`
	Inputs map[string]any `toml:",omitempty"`
	Limits LimitsSpec     `toml:",omitempty"`
}

type RunDetails struct {
	File      string   `toml:",omitempty"`
	Externals []string `toml:",omitempty"`
	// FsRoot confines the path capability to a directory. Empty disables
	// the capability entirely.
	FsRoot string `toml:"fs_root,omitempty"`
}

type LimitsSpec struct {
	MaxSteps     int64  `toml:"max_steps,omitempty"`
	MaxHeapBytes int64  `toml:"max_heap_bytes,omitempty"`
	MaxDuration  string `toml:"max_duration,omitempty"`
}

func parseRunFile(f io.Reader) (*RunFile, error) {
	var out RunFile
	_, err := toml.NewDecoder(f).Decode(&out)
	return &out, err
}

func LoadFromFile(path string) (*RunFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	rf, err := parseRunFile(f)
	if err != nil {
		return nil, err
	}
	if rf.Run.File == "" {
		parts := strings.Split(fi.Name(), ".")
		parts = parts[:len(parts)-1]
		parts = append(parts, "star")
		rf.Run.File = strings.Join(parts, ".")
	}
	filedir := filepath.Dir(path)
	rf.Run.File = filepath.Clean(filepath.Join(filedir, rf.Run.File))
	return rf, nil
}

// InputNames are the declared input parameters, derived from the bound
// inputs so the two can never disagree.
func (rf *RunFile) InputNames() []string {
	names := make([]string, 0, len(rf.Inputs))
	for name := range rf.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Compile builds the program the runfile points at.
func (rf *RunFile) Compile() (*vm.Program, error) {
	return vm.CompilePath(rf.Run.File, vm.Options{
		Inputs:    rf.InputNames(),
		Externals: rf.Run.Externals,
	})
}

// ResourceLimits converts the TOML limit fields.
func (rf *RunFile) ResourceLimits() (resource.Limits, error) {
	out := resource.Limits{
		MaxSteps:     rf.Limits.MaxSteps,
		MaxHeapBytes: rf.Limits.MaxHeapBytes,
	}
	if rf.Limits.MaxDuration != "" {
		d, err := time.ParseDuration(rf.Limits.MaxDuration)
		if err != nil {
			return out, fmt.Errorf("max_duration: %w", err)
		}
		out.MaxDuration = d
	}
	return out, nil
}

// HostInputs converts the TOML input table into host values.
func (rf *RunFile) HostInputs() (map[string]interp.HostValue, error) {
	out := make(map[string]interp.HostValue, len(rf.Inputs))
	for name, raw := range rf.Inputs {
		hv, err := HostValueFromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		out[name] = hv
	}
	return out, nil
}

// HostValueFromAny converts decoded TOML (or JSON) data into a HostValue.
func HostValueFromAny(raw any) (interp.HostValue, error) {
	switch v := raw.(type) {
	case nil:
		return interp.HostNoneValue(), nil
	case bool:
		return interp.HostBoolValue(v), nil
	case int64:
		return interp.HostIntValue(v), nil
	case int:
		return interp.HostIntValue(int64(v)), nil
	case float64:
		// JSON numbers arrive as float64; keep integral ones as ints
		if v == float64(int64(v)) {
			return interp.HostIntValue(int64(v)), nil
		}
		return interp.HostFloatValue(v), nil
	case string:
		return interp.HostStrValue(v), nil
	case []any:
		elems := make([]interp.HostValue, 0, len(v))
		for _, e := range v {
			he, err := HostValueFromAny(e)
			if err != nil {
				return interp.HostValue{}, err
			}
			elems = append(elems, he)
		}
		return interp.HostListValue(elems...), nil
	case map[string]any:
		entries := make(map[string]interp.HostValue, len(v))
		for k, e := range v {
			he, err := HostValueFromAny(e)
			if err != nil {
				return interp.HostValue{}, err
			}
			entries[k] = he
		}
		return interp.HostDictValue(entries), nil
	default:
		return interp.HostValue{}, fmt.Errorf("unsupported value type %T", raw)
	}
}
