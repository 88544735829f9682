package loan

import "time"

type EventKind string

const (
	EventLoanSubmitted       EventKind = "LoanSubmitted"
	EventScheduleCalculated  EventKind = "ScheduleCalculated"
	EventDecryptionRequested EventKind = "DecryptionRequested"
	EventScheduleDecrypted   EventKind = "ScheduleDecrypted"
)

type Event struct {
	Seq       uint64    `json:"seq"`
	Kind      EventKind `json:"kind"`
	LoanID    uint64    `json:"loan_id"`
	Borrower  string    `json:"borrower,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier receives every event after it is appended to the ledger log.
type Notifier interface {
	Notify(Event)
}

type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }
