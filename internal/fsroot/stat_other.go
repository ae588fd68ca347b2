//go:build !unix

package fsroot

import "io/fs"

// applyPlatformStat is a no-op on non-POSIX systems, where uid/gid/inode
// metadata has no equivalent.
func applyPlatformStat(fr *FileRecord, info fs.FileInfo) {}
