package wire

// Version is the protocol version string carried on every response.
const Version = "1.0"

// FileFields is the canonical, positional field order for a templated
// file record. 14 of 15 reserved slots are used; the 15th is reserved
// for a future symlink_target field.
var FileFields = []string{
	"name", "exists", "size", "mode", "uid", "gid",
	"mtime", "ctime", "ino", "dev", "nlink", "new",
	"oclock", "cclock",
}

// Response is a structured reply. It is always a map so callers can set
// whatever top-level keys the command needs in addition to "version".
type Response map[string]any

// MakeResponse returns a fresh response carrying only "version", matching
// every reply's required top-level field.
func MakeResponse() Response {
	return Response{"version": Version}
}

// AnnotateClock sets the "clock" field to the given ClockID string. Callers
// must capture id while holding the relevant root's lock.
func AnnotateClock(resp Response, id string) {
	resp["clock"] = id
}

// MatchRecord mirrors a single file's worth of query-result data. Fields
// other than Name/Exists/OClock are meaningful only when Exists is true.
type MatchRecord struct {
	Name   string
	Exists bool
	Size   int64
	Mode   uint32
	Uid    uint32
	Gid    uint32
	Mtime  int64
	Ctime  int64
	Ino    uint64
	Dev    uint64
	Nlink  uint32
	New    bool
	OClock string
	CClock string
}

// templatedFileList is the wire shape for a bulk file array: a field-name
// header followed by positional rows, so repeated field names aren't
// repeated per row.
type templatedFileList struct {
	Template []string `json:"template"`
	Rows     [][]any  `json:"rows"`
}

// EncodeFileList renders matches in the template-compressed form. Every
// row has exactly len(FileFields) entries; fields that don't apply to a
// non-existent file are emitted as nil, preserving positional alignment.
func EncodeFileList(matches []MatchRecord) any {
	rows := make([][]any, 0, len(matches))
	for _, m := range matches {
		rows = append(rows, matchRow(m))
	}
	return templatedFileList{Template: FileFields, Rows: rows}
}

// Field indices, matching FileFields' order exactly.
const (
	fName = iota
	fExists
	fSize
	fMode
	fUid
	fGid
	fMtime
	fCtime
	fIno
	fDev
	fNlink
	fNew
	fOClock
	fCClock
)

func matchRow(m MatchRecord) []any {
	row := make([]any, len(FileFields))
	row[fName] = m.Name
	row[fExists] = m.Exists
	// oclock reflects when the record was first observed and is set
	// regardless of whether the file currently exists.
	row[fOClock] = nilIfZero(m.OClock)
	if !m.Exists {
		// exists == false => no other stat fields on this record.
		return row
	}
	row[fSize] = m.Size
	row[fMode] = m.Mode
	row[fUid] = m.Uid
	row[fGid] = m.Gid
	row[fMtime] = m.Mtime
	row[fCtime] = m.Ctime
	row[fIno] = m.Ino
	row[fDev] = m.Dev
	row[fNlink] = m.Nlink
	row[fNew] = m.New
	row[fCClock] = nilIfZero(m.CClock)
	return row
}

func nilIfZero(s string) any {
	if s == "" {
		return nil
	}
	return s
}
