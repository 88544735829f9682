package loan

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/CamberLoid/Amortiza/internal/db"
	"github.com/CamberLoid/Amortiza/internal/decryption"
	"github.com/CamberLoid/Amortiza/internal/fhe"
	"github.com/CamberLoid/Amortiza/internal/logger"
)

// Record statuses, in lifecycle order.
const (
	StatusSubmitted           = "submitted"
	StatusCalculated          = "calculated"
	StatusDecryptionRequested = "decryption_requested"
	StatusRevealed            = "revealed"
)

var statusRank = map[string]int{
	StatusSubmitted:           1,
	StatusCalculated:          2,
	StatusDecryptionRequested: 3,
	StatusRevealed:            4,
}

// Records persists the per-loan schedule records read by the UI.
// *db.Repository implements it.
type Records interface {
	PutSchedule(ctx context.Context, id uint64, rec db.ScheduleRecord) error
}

type Options struct {
	// MaxTermMonths bounds the compound factor and the payoff simulation.
	// It must not exceed the engine's maximum exponent.
	MaxTermMonths int
	Records       Records
	Notifier      Notifier
	Log           *logger.Logger
}

type state struct {
	loan        Loan
	schedule    Schedule
	calculating bool
	decrypted   DecryptedSchedule
	requestID   uuid.UUID

	// recMu orders record writes; written is the rank of the last one.
	recMu   sync.Mutex
	written int
}

// Ledger owns the loans and their schedules. Loan handles are clones owned
// by the ledger, so callers may discard the handles they submitted.
type Ledger struct {
	engine   *fhe.Engine
	coord    *decryption.Coordinator
	records  Records
	notifier Notifier
	log      *logger.Logger
	maxTerm  int

	mu         sync.RWMutex
	nextID     uint64
	loans      map[uint64]*state
	byBorrower map[string][]uint64
	events     []Event
}

// NewLedger returns a ledger computing on engine. Decryption requests are
// verified against committee and delivered back to the ledger.
func NewLedger(engine *fhe.Engine, committee *decryption.Committee, opts Options) (*Ledger, error) {
	if opts.MaxTermMonths == 0 {
		opts.MaxTermMonths = DefaultMaxTermMonths
	}
	if opts.MaxTermMonths < 0 || opts.MaxTermMonths > engine.MaxExponent() {
		return nil, errors.Wrapf(fhe.ErrUnboundedExponent, "max term %d outside (0, %d]", opts.MaxTermMonths, engine.MaxExponent())
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}

	l := &Ledger{
		engine:     engine,
		records:    opts.Records,
		notifier:   opts.Notifier,
		log:        opts.Log.WithField("component", "ledger"),
		maxTerm:    opts.MaxTermMonths,
		loans:      make(map[uint64]*state),
		byBorrower: make(map[string][]uint64),
	}
	l.coord = decryption.NewCoordinator(engine.Store(), committee, l, opts.Log)
	return l, nil
}

func (l *Ledger) Engine() *fhe.Engine { return l.engine }
func (l *Ledger) Coordinator() *decryption.Coordinator { return l.coord }
func (l *Ledger) MaxTermMonths() int { return l.maxTerm }

// SubmitLoan records a new loan for borrower and returns its id. Ids start
// at 1 and increase monotonically.
func (l *Ledger) SubmitLoan(ctx context.Context, borrower string, app Application) (uint64, error) {
	if borrower == "" {
		return 0, errors.Wrap(ErrUnauthorized, "empty borrower address")
	}

	inputs := []fhe.Handle{app.Principal, app.InterestRate, app.Term, app.ExtraPayment}
	owned := make([]fhe.Handle, 0, len(inputs))
	release := func() {
		for _, h := range owned {
			_ = l.engine.Discard(h)
		}
	}
	for _, h := range inputs {
		if err := l.authorizeInput(borrower, h); err != nil {
			release()
			return 0, err
		}
		t, err := l.engine.Store().Type(h)
		if err != nil {
			release()
			return 0, err
		}
		if t != fhe.Uint32 {
			release()
			return 0, errors.Wrapf(fhe.ErrTypeMismatch, "loan input %s is %s, want %s", h, t, fhe.Uint32)
		}
		c, err := l.engine.Store().Clone(h)
		if err != nil {
			release()
			return 0, err
		}
		owned = append(owned, c)
	}

	l.mu.Lock()
	l.nextID++
	ln := Loan{
		ID:           l.nextID,
		Borrower:     borrower,
		Principal:    owned[0],
		InterestRate: owned[1],
		Term:         owned[2],
		ExtraPayment: owned[3],
		LoanAmount:   app.LoanAmount,
		TermLabel:    app.TermLabel,
		SubmittedAt:  time.Now(),
	}
	st := &state{loan: ln}
	l.loans[ln.ID] = st
	l.byBorrower[borrower] = append(l.byBorrower[borrower], ln.ID)
	ev := l.appendEvent(Event{Kind: EventLoanSubmitted, LoanID: ln.ID, Borrower: borrower})
	rec := l.recordOf(st, StatusSubmitted)
	l.mu.Unlock()

	l.log.Info().Uint64("loan", ln.ID).Str("borrower", borrower).Msg("loan submitted")
	l.publish(ctx, ev, st, rec)
	return ln.ID, nil
}

// authorizeInput accepts only handles the borrower created from their own
// plaintext or payload. Loan handles and engine results never qualify.
func (l *Ledger) authorizeInput(borrower string, h fhe.Handle) error {
	acl, err := l.engine.Store().Access(h)
	if err != nil {
		return err
	}
	if acl.Owner != borrower || !acl.Input {
		return errors.Wrapf(ErrUnauthorized, "%s cannot submit %s", borrower, h)
	}
	return nil
}

// CalculateAmortization computes the schedule of a loan on ciphertexts.
// Only advisors may call it and it succeeds at most once per loan; a
// concurrent second call gets ErrAlreadyCalculated. A failed computation
// leaves the loan uncalculated.
func (l *Ledger) CalculateAmortization(ctx context.Context, caller Caller, id uint64) error {
	if caller.Role != RoleAdvisor {
		return errors.Wrapf(ErrUnauthorized, "%s %s cannot calculate schedules", caller.Role, caller.Address)
	}

	l.mu.Lock()
	st, ok := l.loans[id]
	if !ok {
		l.mu.Unlock()
		return errors.Wrapf(ErrLoanNotFound, "loan %d", id)
	}
	if st.schedule.Calculated || st.calculating {
		l.mu.Unlock()
		return errors.Wrapf(ErrAlreadyCalculated, "loan %d", id)
	}
	st.calculating = true
	ln := st.loan
	l.mu.Unlock()

	start := time.Now()
	s, err := amortize(l.engine, &ln, l.maxTerm)

	l.mu.Lock()
	st.calculating = false
	if err != nil {
		l.mu.Unlock()
		l.log.Error().Err(err).Uint64("loan", id).Msg("amortization failed")
		return errors.Wrapf(err, "calculate loan %d", id)
	}
	s.Calculated = true
	s.CalculatedAt = time.Now()
	st.schedule = s
	ev := l.appendEvent(Event{Kind: EventScheduleCalculated, LoanID: id, Borrower: ln.Borrower})
	rec := l.recordOf(st, StatusCalculated)
	l.mu.Unlock()

	l.log.Info().Uint64("loan", id).Str("advisor", caller.Address).Dur("took", time.Since(start)).Msg("schedule calculated")
	l.publish(ctx, ev, st, rec)
	return nil
}

// RequestScheduleDecryption asks the oracle to reveal the schedule of a
// loan to its borrower.
func (l *Ledger) RequestScheduleDecryption(ctx context.Context, caller Caller, id uint64) (uuid.UUID, error) {
	l.mu.RLock()
	st, ok := l.loans[id]
	if !ok {
		l.mu.RUnlock()
		return uuid.Nil, errors.Wrapf(ErrLoanNotFound, "loan %d", id)
	}
	if st.loan.Borrower != caller.Address {
		l.mu.RUnlock()
		return uuid.Nil, errors.Wrapf(ErrUnauthorized, "%s does not own loan %d", caller.Address, id)
	}
	if !st.schedule.Calculated {
		l.mu.RUnlock()
		return uuid.Nil, errors.Wrapf(ErrNotCalculated, "loan %d", id)
	}
	if st.decrypted.Revealed {
		l.mu.RUnlock()
		return uuid.Nil, errors.Wrapf(decryption.ErrAlreadyRevealed, "loan %d", id)
	}
	handles := st.schedule.handles()
	l.mu.RUnlock()

	rid, err := l.coord.Request(id, caller.Address, handles)
	if err != nil {
		return uuid.Nil, err
	}

	l.mu.Lock()
	st.requestID = rid
	ev := l.appendEvent(Event{Kind: EventDecryptionRequested, LoanID: id, Borrower: caller.Address, RequestID: rid.String()})
	rec := l.recordOf(st, StatusDecryptionRequested)
	l.mu.Unlock()

	l.publish(ctx, ev, st, rec)
	return rid, nil
}

// ResolveDecryption is the oracle callback. On success the schedule is
// stored as revealed and ScheduleDecrypted is emitted once.
func (l *Ledger) ResolveDecryption(ctx context.Context, requestID uuid.UUID, cleartexts []uint64, proof decryption.Proof) error {
	if err := l.coord.Resolve(requestID, cleartexts, proof); err != nil {
		return err
	}
	req, err := l.coord.Get(requestID)
	if err != nil {
		return err
	}

	l.mu.RLock()
	st, ok := l.loans[req.Subject]
	var rec db.ScheduleRecord
	if ok {
		rec = l.recordOf(st, StatusRevealed)
	}
	l.mu.RUnlock()
	if ok {
		l.writeRecord(ctx, st, rec)
	}
	return nil
}

// Deliver implements decryption.Receiver. It runs under the coordinator's
// request lock, exactly once per revealed loan.
func (l *Ledger) Deliver(r decryption.Resolution) {
	if len(r.Cleartexts) != 3 {
		l.log.Error().Uint64("loan", r.Subject).Int("values", len(r.Cleartexts)).Msg("malformed resolution")
		return
	}

	l.mu.Lock()
	st, ok := l.loans[r.Subject]
	if !ok || st.decrypted.Revealed {
		l.mu.Unlock()
		l.log.Warn().Uint64("loan", r.Subject).Msg("unexpected resolution")
		return
	}
	st.decrypted = DecryptedSchedule{
		MonthlyPayment: uint32(r.Cleartexts[0]),
		TotalInterest:  uint32(r.Cleartexts[1]),
		PayoffTime:     uint32(r.Cleartexts[2]),
		Revealed:       true,
		RevealedAt:     time.Now(),
	}
	ev := l.appendEvent(Event{Kind: EventScheduleDecrypted, LoanID: r.Subject, Borrower: st.loan.Borrower, RequestID: r.RequestID.String()})
	l.mu.Unlock()

	l.log.Info().Uint64("loan", r.Subject).Str("request", r.RequestID.String()).Msg("schedule decrypted")
	l.notify(ev)
}

func (l *Ledger) Loan(id uint64) (Loan, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st, ok := l.loans[id]
	if !ok {
		return Loan{}, errors.Wrapf(ErrLoanNotFound, "loan %d", id)
	}
	return st.loan, nil
}

// Schedule returns the encrypted schedule; Calculated is false until an
// advisor has computed it.
func (l *Ledger) Schedule(id uint64) (Schedule, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st, ok := l.loans[id]
	if !ok {
		return Schedule{}, errors.Wrapf(ErrLoanNotFound, "loan %d", id)
	}
	return st.schedule, nil
}

// DecryptedSchedule returns the revealed schedule to the loan's borrower.
// Revealed is false until the oracle has resolved a request.
func (l *Ledger) DecryptedSchedule(caller Caller, id uint64) (DecryptedSchedule, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st, ok := l.loans[id]
	if !ok {
		return DecryptedSchedule{}, errors.Wrapf(ErrLoanNotFound, "loan %d", id)
	}
	if st.loan.Borrower != caller.Address {
		return DecryptedSchedule{}, errors.Wrapf(ErrUnauthorized, "%s does not own loan %d", caller.Address, id)
	}
	return st.decrypted, nil
}

// LoansOf returns the ids of borrower's loans in submission order.
func (l *Ledger) LoansOf(borrower string) []uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]uint64{}, l.byBorrower[borrower]...)
}

// Events returns the events with a sequence number above since.
func (l *Ledger) Events(since uint64) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if since >= uint64(len(l.events)) {
		return []Event{}
	}
	return append([]Event{}, l.events[since:]...)
}

func (l *Ledger) calculated(id uint64) (Loan, Schedule, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st, ok := l.loans[id]
	if !ok {
		return Loan{}, Schedule{}, errors.Wrapf(ErrLoanNotFound, "loan %d", id)
	}
	if !st.schedule.Calculated {
		return Loan{}, Schedule{}, errors.Wrapf(ErrNotCalculated, "loan %d", id)
	}
	return st.loan, st.schedule, nil
}

// appendEvent stamps and logs ev. l.mu must be held.
func (l *Ledger) appendEvent(ev Event) Event {
	ev.Seq = uint64(len(l.events)) + 1
	ev.At = time.Now()
	l.events = append(l.events, ev)
	return ev
}

func (l *Ledger) notify(ev Event) {
	if l.notifier != nil {
		l.notifier.Notify(ev)
	}
}

func (l *Ledger) publish(ctx context.Context, ev Event, st *state, rec db.ScheduleRecord) {
	l.notify(ev)
	l.writeRecord(ctx, st, rec)
}

// recordData is the data field of a schedule record. It never carries
// cleartext; the revealed schedule is served to the borrower only.
type recordData struct {
	LoanID    uint64    `json:"loanId"`
	Loan      Loan      `json:"loan"`
	Schedule  *Schedule `json:"schedule,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
}

// recordOf builds the record of st. l.mu must be held.
func (l *Ledger) recordOf(st *state, status string) db.ScheduleRecord {
	data := recordData{LoanID: st.loan.ID, Loan: st.loan}
	if st.schedule.Calculated {
		s := st.schedule
		data.Schedule = &s
	}
	if st.requestID != uuid.Nil {
		data.RequestID = st.requestID.String()
	}
	raw, err := json.Marshal(data)
	if err != nil {
		l.log.Error().Err(err).Uint64("loan", st.loan.ID).Msg("marshal schedule record")
	}
	return db.ScheduleRecord{
		Data:       raw,
		Timestamp:  time.Now().UnixMilli(),
		Owner:      st.loan.Borrower,
		LoanAmount: st.loan.LoanAmount,
		Term:       st.loan.TermLabel,
		Status:     status,
	}
}

// writeRecord mirrors the loan to the record store. The ledger stays the
// source of truth, so failures are logged only. Records built before a later
// lifecycle step was written are dropped.
func (l *Ledger) writeRecord(ctx context.Context, st *state, rec db.ScheduleRecord) {
	if l.records == nil {
		return
	}
	id := st.loan.ID
	st.recMu.Lock()
	defer st.recMu.Unlock()
	rank := statusRank[rec.Status]
	if rank < st.written {
		l.log.Debug().Uint64("loan", id).Str("status", rec.Status).Msg("stale schedule record dropped")
		return
	}
	if err := l.records.PutSchedule(ctx, id, rec); err != nil {
		l.log.Error().Err(err).Uint64("loan", id).Str("status", rec.Status).Msg("write schedule record")
		return
	}
	st.written = rank
}
