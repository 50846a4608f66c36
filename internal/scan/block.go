package scan

// Block is one batch of rows produced by a scanner. The scheduling core
// never inspects row data; it only needs occupancy accounting, so blocks
// stay opaque beyond their size.
type Block interface {
	// RowCount returns the number of rows in the block.
	RowCount() int

	// MemUsage returns the block's in-memory size in bytes.
	MemUsage() int64
}

// SourceKind identifies where a scanner reads from, which determines the
// scheduler pool its tasks run on.
type SourceKind int

const (
	// SourceLocal is a scan against node-local storage.
	SourceLocal SourceKind = iota

	// SourceRemote is a scan against remote/object storage.
	SourceRemote
)

// String returns a human-readable source kind.
func (k SourceKind) String() string {
	switch k {
	case SourceLocal:
		return "local"
	case SourceRemote:
		return "remote"
	default:
		return "unknown"
	}
}
