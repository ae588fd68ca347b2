//go:build unix

package fsroot

import (
	"io/fs"
	"syscall"
)

// applyPlatformStat fills in the fields only available via the raw stat
// structure (uid/gid/inode/device/link count) on POSIX systems.
func applyPlatformStat(fr *FileRecord, info fs.FileInfo) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	fr.Uid = st.Uid
	fr.Gid = st.Gid
	fr.Ino = st.Ino
	fr.Dev = uint64(st.Dev)
	fr.Nlink = uint32(st.Nlink)
}
