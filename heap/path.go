package heap

import (
	"fmt"
	"strings"

	"github.com/hibervm-dev/hibervm/vm"
)

// Path is an extension-type object wrapping a POSIX-style filesystem path.
// Pure structural methods are answered locally; anything that needs the real
// filesystem goes through RawCall and yields a reserved host function.
type Path struct {
	Raw string
}

func NewPath(raw string) *Path {
	root, segs := splitPath(raw)
	return &Path{Raw: joinParts(root, segs)}
}

func (p *Path) Kind() string { return "path" }

func (p *Path) Size() int64 {
	return baseObjectSize + int64(len(p.Raw))
}

func (p *Path) Values() []vm.Value { return nil }

// rawMethods maps method names to the reserved host-function identifiers
// their calls yield as. Dispatch for these never touches local state.
var rawMethods = map[string]string{
	"exists":     "path.exists",
	"is_file":    "path.is_file",
	"is_dir":     "path.is_dir",
	"stat":       "path.stat",
	"read_bytes": "path.read_bytes",
	"read_text":  "path.read_text",
	"iterdir":    "path.iterdir",
	"resolve":    "path.resolve",
}

// RawCall reports whether method must be serviced by the host. The returned
// request carries the path string as its first argument so the host side
// never needs heap access to interpret it.
func (p *Path) RawCall(method string, args []vm.Value) *YieldRequest {
	fn, ok := rawMethods[method]
	if !ok {
		return nil
	}
	full := make([]vm.Value, 0, len(args)+1)
	full = append(full, vm.StrValue(p.Raw))
	full = append(full, args...)
	return &YieldRequest{Function: fn, Args: full}
}

func (p *Path) splitName() (stem, suffix string) {
	name := p.Name()
	i := strings.LastIndex(name, ".")
	if i <= 0 || i == len(name)-1 {
		return name, ""
	}
	return name[:i], name[i:]
}

// Name returns the final path component, empty for a bare root.
func (p *Path) Name() string {
	_, segs := splitPath(p.Raw)
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// Parent returns the logical parent path. The root is its own parent and a
// single relative component parents to ".".
func (p *Path) Parent() string {
	root, segs := splitPath(p.Raw)
	if len(segs) == 0 {
		if root != "" {
			return root
		}
		return "."
	}
	return joinParts(root, segs[:len(segs)-1])
}

func (p *Path) Stem() string {
	stem, _ := p.splitName()
	return stem
}

func (p *Path) Suffix() string {
	_, suffix := p.splitName()
	return suffix
}

// Suffixes returns every extension of the final component, so
// "archive.tar.gz" yields [".tar", ".gz"].
func (p *Path) Suffixes() []string {
	name := strings.TrimLeft(p.Name(), ".")
	parts := strings.Split(name, ".")
	var out []string
	for _, part := range parts[1:] {
		if part == "" {
			continue
		}
		out = append(out, "."+part)
	}
	return out
}

// Parts returns the path decomposed into its components, with the root (if
// any) as the first entry.
func (p *Path) Parts() []string {
	root, segs := splitPath(p.Raw)
	out := make([]string, 0, len(segs)+1)
	if root != "" {
		out = append(out, root)
	}
	return append(out, segs...)
}

func (p *Path) IsAbsolute() bool {
	root, _ := splitPath(p.Raw)
	return root != ""
}

// JoinPath appends segments to the path. An absolute segment discards
// everything before it, matching pure-path join semantics.
func (p *Path) JoinPath(segments ...string) string {
	root, segs := splitPath(p.Raw)
	for _, s := range segments {
		r, ss := splitPath(s)
		if r != "" {
			root, segs = r, ss
			continue
		}
		segs = append(segs, ss...)
	}
	return joinParts(root, segs)
}

func (p *Path) WithName(name string) (string, error) {
	if p.Name() == "" {
		return "", fmt.Errorf("path %q has an empty name", p.Raw)
	}
	if name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("invalid name %q", name)
	}
	root, segs := splitPath(p.Raw)
	segs[len(segs)-1] = name
	return joinParts(root, segs), nil
}

func (p *Path) WithSuffix(suffix string) (string, error) {
	if suffix != "" && (!strings.HasPrefix(suffix, ".") || suffix == "." || strings.Contains(suffix, "/")) {
		return "", fmt.Errorf("invalid suffix %q", suffix)
	}
	name := p.Name()
	if name == "" {
		return "", fmt.Errorf("path %q has an empty name", p.Raw)
	}
	stem, _ := p.splitName()
	root, segs := splitPath(p.Raw)
	segs[len(segs)-1] = stem + suffix
	return joinParts(root, segs), nil
}

// AsPosix returns the normalized string form. Paths are already stored in
// POSIX form so this is the identity.
func (p *Path) AsPosix() string {
	return p.Raw
}

// splitPath breaks a raw path into a root ("/" or "") and its non-empty
// segments, dropping "." components and collapsing repeated separators.
func splitPath(raw string) (root string, segs []string) {
	if strings.HasPrefix(raw, "/") {
		root = "/"
	}
	for _, s := range strings.Split(raw, "/") {
		if s == "" || s == "." {
			continue
		}
		segs = append(segs, s)
	}
	return root, segs
}

func joinParts(root string, segs []string) string {
	if len(segs) == 0 {
		if root != "" {
			return root
		}
		return "."
	}
	return root + strings.Join(segs, "/")
}
