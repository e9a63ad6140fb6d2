package internal

// QueryType defines the possible queries for the state machine.
//
// Key lookups are not queries: ttl is measured on the write index, which only
// moves with the log, so Get, Has and Keys are proposed as read-only commands
// instead (see dstore.storeImpl).
type QueryType uint8

const (
	QueryTGetDBInfo QueryType = iota // Retrieve metadata about the database underlying the machine.
	QueryTWriteIdx                   // Retrieve the write index of the last applied command.
)

func (q QueryType) String() string {
	switch q {
	case QueryTGetDBInfo:
		return "GetDBInfo"
	case QueryTWriteIdx:
		return "WriteIdx"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via SyncRead or StaleRead
type Query struct {
	Type QueryType
}
