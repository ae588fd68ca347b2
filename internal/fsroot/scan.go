package fsroot

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pathwatch/pathwatch/internal/clock"
)

// scanInitial walks the root's tree and populates the file table, all
// stamped with the root's current (post-increment) tick, exactly as if
// every file had just been observed for the first time.
func (r *Root) scanInitial() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return filepath.WalkDir(r.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort scan, skip unreadable entries
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(r.Path, path)
		if relErr != nil {
			return nil
		}
		r.ticks++
		r.files[rel] = fileRecordFromStat(rel, path, r.ticks, r.ticks)
		return nil
	})
}

func fileRecordFromStat(rel, abs string, oticks, cticks clock.Ticks) *FileRecord {
	fr := &FileRecord{Name: rel, OTicks: oticks, CTicks: cticks}
	info, err := os.Lstat(abs)
	if err != nil {
		fr.Exists = false
		return fr
	}
	fr.Exists = true
	fr.Size = info.Size()
	fr.Mode = uint32(info.Mode())
	fr.Mtime = info.ModTime()
	fr.Ctime = info.ModTime()
	applyPlatformStat(fr, info)
	return fr
}

// touch updates (or creates) the record for rel following a filesystem
// event, stamping it with the given tick. Caller must hold r.mu (invoked
// from within advance's apply callback).
func (r *Root) touch(rel, abs string, ticks clock.Ticks) {
	existing, had := r.files[rel]
	oticks := ticks
	isNew := !had
	if had {
		oticks = existing.OTicks
	}

	fr := fileRecordFromStat(rel, abs, oticks, ticks)
	if !isNew && !fr.Exists && existing.Exists {
		// file removed: keep the original OTicks; the record carries no
		// stat fields, only its name, tick stamps and Exists == false.
		fr.OTicks = existing.OTicks
	}
	r.files[rel] = fr
}
