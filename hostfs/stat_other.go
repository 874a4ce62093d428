//go:build !linux

package hostfs

import (
	"os"

	"github.com/hibervm-dev/hibervm/interp"
)

// Without a POSIX stat structure the portable FileInfo defaults stand:
// zero identity fields, one hard link, mtime for all three timestamps.
func sysFields(os.FileInfo, map[string]interp.HostValue) {}
