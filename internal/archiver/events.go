package archiver

// EventType enumerates emitted archive events.
type EventType string

const (
	EventMailboxStart    EventType = "mailbox_start"
	EventMailboxProgress EventType = "mailbox_progress"
	EventBatchFailed     EventType = "batch_failed"
	EventMailboxDone     EventType = "mailbox_done"
)

// Event carries progress about a mailbox. Total and Done count planned and
// handled messages of the current pass.
type Event struct {
	Type    EventType
	Mailbox string
	Total   int
	Done    int
	Batch   []uint32
	Err     error
}
