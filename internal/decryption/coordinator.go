// Package decryption implements the two-phase reveal protocol: a requester
// submits ciphertext handles, the oracle later resolves the request with
// cleartexts and a committee proof, and the plaintext is delivered exactly
// once.
package decryption

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/CamberLoid/Amortiza/internal/fhe"
	"github.com/CamberLoid/Amortiza/internal/logger"
)

// Status of a request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
	// StatusSuperseded marks a pending request whose subject was revealed
	// through another request.
	StatusSuperseded Status = "superseded"
)

// Source gives access to the ciphertexts being revealed. *fhe.Store
// implements it.
type Source interface {
	Payload(h fhe.Handle) ([]byte, error)
	Type(h fhe.Handle) (fhe.Type, error)
}

// Resolution is handed to the Receiver once a request resolves.
type Resolution struct {
	RequestID  uuid.UUID
	Subject    uint64
	Requester  string
	Handles    []fhe.Handle
	Cleartexts []uint64
}

// Receiver gets every successful resolution exactly once.
type Receiver interface {
	Deliver(Resolution)
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(Resolution)

func (f ReceiverFunc) Deliver(r Resolution) { f(r) }

// Request is a decryption request with the payload snapshots taken when it
// was submitted.
type Request struct {
	ID         uuid.UUID    `json:"id"`
	Subject    uint64       `json:"subject"`
	Requester  string       `json:"requester"`
	Handles    []fhe.Handle `json:"handles"`
	Types      []fhe.Type   `json:"types"`
	Payloads   [][]byte     `json:"payloads,omitempty"`
	Digests    []fhe.Digest `json:"digests"`
	Status     Status       `json:"status"`
	Cleartexts []uint64     `json:"cleartexts,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	ResolvedAt time.Time    `json:"resolved_at,omitempty"`
}

func (r *Request) clone() Request {
	c := *r
	c.Handles = append([]fhe.Handle(nil), r.Handles...)
	c.Types = append([]fhe.Type(nil), r.Types...)
	c.Digests = append([]fhe.Digest(nil), r.Digests...)
	c.Cleartexts = append([]uint64(nil), r.Cleartexts...)
	if r.Payloads != nil {
		c.Payloads = make([][]byte, len(r.Payloads))
		for i, p := range r.Payloads {
			c.Payloads[i] = append([]byte(nil), p...)
		}
	}
	return c
}

type pending struct {
	mu  sync.Mutex
	req Request
}

// Coordinator tracks decryption requests. The table mutex only guards
// lookups and the per-subject claim; resolution of a request runs under the
// request's own mutex.
type Coordinator struct {
	source    Source
	committee *Committee
	receiver  Receiver
	log       *logger.Logger

	mu       sync.Mutex
	requests map[uuid.UUID]*pending
	revealed map[uint64]uuid.UUID
}

// NewCoordinator returns a coordinator verifying proofs against committee
// and delivering to receiver.
func NewCoordinator(source Source, committee *Committee, receiver Receiver, log *logger.Logger) *Coordinator {
	if log == nil {
		log = logger.Nop()
	}
	return &Coordinator{
		source:    source,
		committee: committee,
		receiver:  receiver,
		log:       log.WithField("component", "decryption"),
		requests:  make(map[uuid.UUID]*pending),
		revealed:  make(map[uint64]uuid.UUID),
	}
}

// Committee returns the committee proofs are checked against.
func (c *Coordinator) Committee() *Committee { return c.committee }

// Request records a pending request for handles on behalf of requester.
// Authorisation of the requester is the caller's business.
func (c *Coordinator) Request(subject uint64, requester string, handles []fhe.Handle) (uuid.UUID, error) {
	if len(handles) == 0 {
		return uuid.Nil, errors.New("no handles to decrypt")
	}
	if c.Revealed(subject) {
		return uuid.Nil, errors.Wrapf(ErrAlreadyRevealed, "subject %d", subject)
	}

	req := Request{
		Subject:   subject,
		Requester: requester,
		Handles:   append([]fhe.Handle(nil), handles...),
		Types:     make([]fhe.Type, len(handles)),
		Payloads:  make([][]byte, len(handles)),
		Digests:   make([]fhe.Digest, len(handles)),
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
	for i, h := range handles {
		var err error
		if req.Types[i], err = c.source.Type(h); err != nil {
			return uuid.Nil, err
		}
		if req.Payloads[i], err = c.source.Payload(h); err != nil {
			return uuid.Nil, err
		}
		req.Digests[i] = fhe.DigestOf(req.Payloads[i])
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return uuid.Nil, errors.Wrap(err, "request id")
	}
	req.ID = id

	c.mu.Lock()
	if _, done := c.revealed[subject]; done {
		c.mu.Unlock()
		return uuid.Nil, errors.Wrapf(ErrAlreadyRevealed, "subject %d", subject)
	}
	c.requests[id] = &pending{req: req}
	c.mu.Unlock()

	c.log.Info().Str("request", id.String()).Uint64("subject", subject).Int("handles", len(handles)).Msg("decryption requested")
	return id, nil
}

// Resolve completes a request. The proof must attest the cleartexts against
// the digests snapshotted at request time.
func (c *Coordinator) Resolve(id uuid.UUID, cleartexts []uint64, proof Proof) error {
	c.mu.Lock()
	p, ok := c.requests[id]
	c.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrUnknownRequest, "%s", id)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.req.Status != StatusPending {
		return errors.Wrapf(ErrAlreadyRevealed, "request %s is %s", id, p.req.Status)
	}
	// a revealed subject wins over any proof error
	c.mu.Lock()
	winner, done := c.revealed[p.req.Subject]
	c.mu.Unlock()
	if done {
		return p.supersede(winner)
	}
	if err := c.verify(&p.req, cleartexts, proof); err != nil {
		c.log.Warn().Err(err).Str("request", id.String()).Msg("rejected resolution")
		return err
	}

	c.mu.Lock()
	if winner, done := c.revealed[p.req.Subject]; done {
		c.mu.Unlock()
		return p.supersede(winner)
	}
	c.revealed[p.req.Subject] = id
	c.mu.Unlock()

	p.req.Status = StatusResolved
	p.req.Cleartexts = append([]uint64(nil), cleartexts...)
	p.req.ResolvedAt = time.Now()
	p.req.Payloads = nil

	c.log.Info().Str("request", id.String()).Uint64("subject", p.req.Subject).Msg("decryption resolved")
	if c.receiver != nil {
		c.receiver.Deliver(Resolution{
			RequestID:  id,
			Subject:    p.req.Subject,
			Requester:  p.req.Requester,
			Handles:    append([]fhe.Handle(nil), p.req.Handles...),
			Cleartexts: append([]uint64(nil), cleartexts...),
		})
	}
	return nil
}

// supersede marks a pending request whose subject another request revealed.
// p.mu must be held.
func (p *pending) supersede(winner uuid.UUID) error {
	p.req.Status = StatusSuperseded
	p.req.Payloads = nil
	return errors.Wrapf(ErrAlreadyRevealed, "subject %d revealed by %s", p.req.Subject, winner)
}

func (c *Coordinator) verify(req *Request, cleartexts []uint64, proof Proof) error {
	if len(cleartexts) != len(req.Handles) {
		return errors.Wrapf(ErrInvalidProof, "%d cleartexts for %d handles", len(cleartexts), len(req.Handles))
	}
	for i, v := range cleartexts {
		if v&^req.Types[i].Mask() != 0 {
			return errors.Wrapf(ErrInvalidProof, "cleartext %d exceeds %s", i, req.Types[i])
		}
	}
	return c.committee.Verify(Digest(req.ID, req.Digests, cleartexts), proof)
}

// Revealed reports whether a request for subject has resolved.
func (c *Coordinator) Revealed(subject uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.revealed[subject]
	return ok
}

// Get returns a copy of request id.
func (c *Coordinator) Get(id uuid.UUID) (Request, error) {
	c.mu.Lock()
	p, ok := c.requests[id]
	c.mu.Unlock()
	if !ok {
		return Request{}, errors.Wrapf(ErrUnknownRequest, "%s", id)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.req.clone(), nil
}

// Pending returns copies of all pending requests, oldest first, including
// their payload snapshots.
func (c *Coordinator) Pending() []Request {
	c.mu.Lock()
	ps := make([]*pending, 0, len(c.requests))
	for _, p := range c.requests {
		ps = append(ps, p)
	}
	c.mu.Unlock()

	out := make([]Request, 0, len(ps))
	for _, p := range ps {
		p.mu.Lock()
		if p.req.Status == StatusPending {
			out = append(out, p.req.clone())
		}
		p.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
