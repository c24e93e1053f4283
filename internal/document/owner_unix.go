//go:build unix

package document

import (
	"os"
	"syscall"
)

// keepOwner gives path the owner and group recorded in info. Only a
// privileged process can hand a file to another user, so failures are
// ignored and the file stays with the writer.
func keepOwner(path string, info os.FileInfo) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	_ = os.Chown(path, int(st.Uid), int(st.Gid))
}
