//go:build linux

package hostfs

import (
	"os"
	"syscall"

	"github.com/hibervm-dev/hibervm/interp"
)

// sysFields overlays the identity and ownership half of a stat result from
// the platform stat structure.
func sysFields(fi os.FileInfo, out map[string]interp.HostValue) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	out["ino"] = interp.HostIntValue(int64(st.Ino))
	out["dev"] = interp.HostIntValue(int64(st.Dev))
	out["nlink"] = interp.HostIntValue(int64(st.Nlink))
	out["uid"] = interp.HostIntValue(int64(st.Uid))
	out["gid"] = interp.HostIntValue(int64(st.Gid))
	out["atime"] = interp.HostIntValue(int64(st.Atim.Sec))
	out["ctime"] = interp.HostIntValue(int64(st.Ctim.Sec))
}
