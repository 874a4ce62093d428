// Package hostfs services the reserved "path.*" host functions against a
// real directory tree. Every path the program supplies is confined to the
// configured root; "/etc/passwd" inside the program resolves to
// <root>/etc/passwd on disk.
package hostfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hibervm-dev/hibervm/interp"
)

type Capability struct {
	Root string
}

func New(root string) *Capability {
	return &Capability{Root: root}
}

func (c *Capability) Invoke(function string, args []interp.HostValue) (interp.HostValue, error) {
	if len(args) < 1 || args[0].Kind != interp.HostStr {
		return interp.HostValue{}, fmt.Errorf("%s: first argument must be a path string", function)
	}
	virtual := args[0].Str
	real := c.resolve(virtual)

	switch function {
	case "path.exists":
		_, err := os.Stat(real)
		return interp.HostBoolValue(err == nil), nil
	case "path.is_file":
		fi, err := os.Stat(real)
		return interp.HostBoolValue(err == nil && fi.Mode().IsRegular()), nil
	case "path.is_dir":
		fi, err := os.Stat(real)
		return interp.HostBoolValue(err == nil && fi.IsDir()), nil
	case "path.stat":
		fi, err := os.Stat(real)
		if err != nil {
			return interp.HostValue{}, statError(virtual, err)
		}
		fields := map[string]interp.HostValue{
			"mode":    interp.HostIntValue(int64(fi.Mode().Perm())),
			"ino":     interp.HostIntValue(0),
			"dev":     interp.HostIntValue(0),
			"nlink":   interp.HostIntValue(1),
			"uid":     interp.HostIntValue(0),
			"gid":     interp.HostIntValue(0),
			"size":    interp.HostIntValue(fi.Size()),
			"atime":   interp.HostIntValue(fi.ModTime().Unix()),
			"mtime":   interp.HostIntValue(fi.ModTime().Unix()),
			"ctime":   interp.HostIntValue(fi.ModTime().Unix()),
			"is_file": interp.HostBoolValue(fi.Mode().IsRegular()),
			"is_dir":  interp.HostBoolValue(fi.IsDir()),
		}
		sysFields(fi, fields)
		return interp.HostDictValue(fields), nil
	case "path.read_bytes":
		data, err := os.ReadFile(real)
		if err != nil {
			return interp.HostValue{}, statError(virtual, err)
		}
		return interp.HostBytesValue(data), nil
	case "path.read_text":
		data, err := os.ReadFile(real)
		if err != nil {
			return interp.HostValue{}, statError(virtual, err)
		}
		return interp.HostStrValue(string(data)), nil
	case "path.iterdir":
		entries, err := os.ReadDir(real)
		if err != nil {
			return interp.HostValue{}, statError(virtual, err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		sort.Strings(names)
		out := make([]interp.HostValue, 0, len(names))
		base := strings.TrimSuffix(virtual, "/")
		for _, name := range names {
			out = append(out, interp.HostStrValue(base+"/"+name))
		}
		return interp.HostListValue(out...), nil
	case "path.resolve":
		resolved := filepath.Clean("/" + virtual)
		return interp.HostStrValue(resolved), nil
	default:
		return interp.HostValue{}, fmt.Errorf("unsupported host function %q", function)
	}
}

// resolve maps a virtual program path onto the confined root. The virtual
// path is normalized as absolute first so ".." can never escape.
func (c *Capability) resolve(virtual string) string {
	clean := filepath.Clean("/" + virtual)
	return filepath.Join(c.Root, clean)
}

func statError(virtual string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return &interp.Exception{Type: "FileNotFoundError", Message: virtual}
	}
	if errors.Is(err, fs.ErrPermission) {
		return &interp.Exception{Type: "PermissionError", Message: virtual}
	}
	return err
}
