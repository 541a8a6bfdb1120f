package engine

// RecordKind identifies what a journal record describes.
type RecordKind int8

const (
	RecordOrderAccepted RecordKind = iota
	RecordOrderCancelled
	RecordOrderModified
	RecordTradeExecuted
)

// JournalRecord is one durable fact the engine hands to the journal once
// the corresponding mutation has been applied to the in-memory book; if
// the append fails the engine rolls that mutation back (§4.6). Order
// records carry the order's state from before this call's own matching.
// The concrete journal implementation only
// needs to be able to persist and replay these; it never inspects book
// structure.
type JournalRecord struct {
	Kind  RecordKind
	Order *Order
	Trade *Trade
}

// Journal is the durable record store external collaborator (§1, §4.6).
// The engine writes to it transactionally inside a book's critical
// section and treats it as a thread-safe sink (§5); it does not define
// the journal's query surface.
type Journal interface {
	// Append durably persists every record in a single transaction. A
	// non-nil error means none of the records may be assumed durable and
	// the caller must roll back its in-memory mutation.
	Append(records []JournalRecord) error
}
