package fhe

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

// Digest is the keccak-256 hash of a payload.
type Digest [32]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Digest) UnmarshalText(b []byte) error {
	if hex.DecodedLen(len(b)) != len(d) {
		return errors.Errorf("digest must be %d bytes", len(d))
	}
	_, err := hex.Decode(d[:], b)
	return err
}

// DigestOf hashes payload.
func DigestOf(payload []byte) Digest {
	var d Digest
	h := sha3.NewLegacyKeccak256()
	h.Write(payload)
	h.Sum(d[:0])
	return d
}

// cell is a payload shared by every handle cloned from the same ciphertext.
type cell struct {
	mu      sync.Mutex
	typ     Type
	payload []byte
	digest  Digest
	budget  int
	refs    int
}

// entry is one handle. owner is the principal that created the ciphertext
// from a plaintext or a client payload; only such handles are inputs.
// Engine results and clones start unowned and are never inputs, even after
// Grant hands them to a caller.
type entry struct {
	cell      *cell
	createdAt time.Time
	owner     string
	input     bool
}

// ACL is the access entry of a handle.
type ACL struct {
	Owner string `json:"owner,omitempty"`
	Input bool   `json:"input"`
}

// Info is the metadata of a handle.
type Info struct {
	Handle    Handle    `json:"handle"`
	Type      Type      `json:"type"`
	Noise     Noise     `json:"noise"`
	Digest    Digest    `json:"digest"`
	Owner     string    `json:"owner,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store owns ciphertext payloads. The handle table is guarded by an RWMutex,
// every payload cell by its own mutex, so operations on different handles do
// not contend.
type Store struct {
	rt     Runtime
	policy Policy

	mu      sync.RWMutex
	handles map[Handle]*entry
}

// NewStore returns an empty store backed by rt.
func NewStore(rt Runtime, policy Policy) *Store {
	return &Store{
		rt:      rt,
		policy:  policy,
		handles: make(map[Handle]*entry),
	}
}

// Runtime returns the runtime producing the store's payloads.
func (s *Store) Runtime() Runtime { return s.rt }

// Policy returns the noise policy of the store.
func (s *Store) Policy() Policy { return s.policy }

// Encrypt encrypts v as a fresh ciphertext of type t. The handle has no
// owner.
func (s *Store) Encrypt(v uint64, t Type) (Handle, error) {
	return s.EncryptFor("", v, t)
}

// EncryptFor encrypts v on behalf of owner, who may then use the handle as
// an input.
func (s *Store) EncryptFor(owner string, v uint64, t Type) (Handle, error) {
	if !t.Valid() {
		return NilHandle, errors.Wrapf(ErrTypeMismatch, "encrypt as %s", t)
	}
	payload, err := s.rt.Encrypt(v&t.Mask(), t)
	if err != nil {
		return NilHandle, errors.Wrap(err, "encrypt")
	}
	return s.put(t, payload, s.policy.Fresh, owner), nil
}

// Import registers a payload encrypted elsewhere, e.g. by a client holding
// the runtime's public key. The runtime validates the payload first.
func (s *Store) Import(payload []byte, t Type) (Handle, error) {
	return s.ImportFor("", payload, t)
}

// ImportFor is Import on behalf of owner.
func (s *Store) ImportFor(owner string, payload []byte, t Type) (Handle, error) {
	if !t.Valid() {
		return NilHandle, errors.Wrapf(ErrTypeMismatch, "import as %s", t)
	}
	if err := s.rt.Validate(payload, t); err != nil {
		return NilHandle, errors.Wrap(err, "import")
	}
	p := make([]byte, len(payload))
	copy(p, payload)
	return s.put(t, p, s.policy.Fresh, owner), nil
}

// Clone returns a new handle sharing h's payload.
func (s *Store) Clone(h Handle) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.handles[h]
	if !ok {
		return NilHandle, errors.Wrapf(ErrInvalidHandle, "clone %s", h)
	}
	e.cell.mu.Lock()
	e.cell.refs++
	e.cell.mu.Unlock()

	nh := newHandle()
	s.handles[nh] = &entry{cell: e.cell, createdAt: time.Now()}
	return nh, nil
}

// Discard drops h. The payload is released once no handle references it.
func (s *Store) Discard(h Handle) error {
	s.mu.Lock()
	e, ok := s.handles[h]
	if ok {
		delete(s.handles, h)
	}
	s.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrInvalidHandle, "discard %s", h)
	}

	c := e.cell
	c.mu.Lock()
	c.refs--
	if c.refs == 0 {
		c.payload = nil
	}
	c.mu.Unlock()
	return nil
}

// DiscardAs drops h on behalf of owner. Unowned handles and handles of
// other principals are refused with ErrAccessDenied.
func (s *Store) DiscardAs(owner string, h Handle) error {
	acl, err := s.Access(h)
	if err != nil {
		return err
	}
	if owner == "" || acl.Owner != owner {
		return errors.Wrapf(ErrAccessDenied, "%s cannot discard %s", owner, h)
	}
	return s.Discard(h)
}

// Access returns the ACL of h.
func (s *Store) Access(h Handle) (ACL, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.handles[h]
	if !ok {
		return ACL{}, errors.Wrapf(ErrInvalidHandle, "%s", h)
	}
	return ACL{Owner: e.owner, Input: e.input}, nil
}

// Grant gives an unowned handle to owner so they can read and discard it.
// The handle does not become an input.
func (s *Store) Grant(h Handle, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.handles[h]
	if !ok {
		return errors.Wrapf(ErrInvalidHandle, "grant %s", h)
	}
	if e.owner != "" && e.owner != owner {
		return errors.Wrapf(ErrAccessDenied, "%s is owned by %s", h, e.owner)
	}
	e.owner = owner
	return nil
}

// Payload returns a copy of the payload behind h.
func (s *Store) Payload(h Handle) ([]byte, error) {
	c, err := s.lookup(h)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p := make([]byte, len(c.payload))
	copy(p, c.payload)
	return p, nil
}

// Digest returns the keccak-256 digest of h's current payload.
func (s *Store) Digest(h Handle) (Digest, error) {
	c, err := s.lookup(h)
	if err != nil {
		return Digest{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.digest, nil
}

// Noise returns the budget and state of h.
func (s *Store) Noise(h Handle) (Noise, error) {
	c, err := s.lookup(h)
	if err != nil {
		return Noise{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Noise{Budget: c.budget, State: s.policy.Classify(c.budget)}, nil
}

// Type returns the declared width of h.
func (s *Store) Type(h Handle) (Type, error) {
	c, err := s.lookup(h)
	if err != nil {
		return 0, err
	}
	// typ never changes after the cell is created.
	return c.typ, nil
}

// Info returns all metadata of h.
func (s *Store) Info(h Handle) (Info, error) {
	s.mu.RLock()
	e, ok := s.handles[h]
	s.mu.RUnlock()
	if !ok {
		return Info{}, errors.Wrapf(ErrInvalidHandle, "%s", h)
	}
	c := e.cell
	c.mu.Lock()
	defer c.mu.Unlock()
	return Info{
		Handle:    h,
		Type:      c.typ,
		Noise:     Noise{Budget: c.budget, State: s.policy.Classify(c.budget)},
		Digest:    c.digest,
		Owner:     e.owner,
		CreatedAt: e.createdAt,
	}, nil
}

// Len returns the number of live handles.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles)
}

func (s *Store) lookup(h Handle) (*cell, error) {
	s.mu.RLock()
	e, ok := s.handles[h]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrInvalidHandle, "%s", h)
	}
	return e.cell, nil
}

func (s *Store) put(t Type, payload []byte, budget int, owner string) Handle {
	c := &cell{
		typ:     t,
		payload: payload,
		digest:  DigestOf(payload),
		budget:  budget,
		refs:    1,
	}
	h := newHandle()

	s.mu.Lock()
	s.handles[h] = &entry{cell: c, createdAt: time.Now(), owner: owner, input: owner != ""}
	s.mu.Unlock()
	return h
}

// snapshot is an operand resolved to payload bytes.
type snapshot struct {
	typ     Type
	payload []byte
	budget  int
}

// snapshot copies h's payload for an operation of the given cost. If the
// operation would push the result below the floor the cell is refreshed in
// place first, under its own lock.
func (s *Store) snapshot(h Handle, cost int) (snapshot, bool, error) {
	c, err := s.lookup(h)
	if err != nil {
		return snapshot{}, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	refreshed := false
	if s.policy.needsRefresh(c.budget, cost) {
		if err := s.refreshLocked(c); err != nil {
			return snapshot{}, false, err
		}
		refreshed = true
	}
	p := make([]byte, len(c.payload))
	copy(p, c.payload)
	return snapshot{typ: c.typ, payload: p, budget: c.budget}, refreshed, nil
}

// refreshLocked replaces c's payload with a fresh one. c.mu must be held.
func (s *Store) refreshLocked(c *cell) error {
	if c.budget < s.policy.Unrecoverable {
		return errors.Wrapf(ErrNoiseBudgetExhausted, "budget %d below %d", c.budget, s.policy.Unrecoverable)
	}
	payload, err := s.rt.Refresh(c.payload, c.typ)
	if err != nil {
		return errors.Wrap(err, "refresh")
	}
	c.payload = payload
	c.digest = DigestOf(payload)
	c.budget = s.policy.Fresh
	return nil
}

// bootstrap returns a new handle with a refreshed copy of h's payload.
func (s *Store) bootstrap(h Handle) (Handle, error) {
	c, err := s.lookup(h)
	if err != nil {
		return NilHandle, err
	}
	c.mu.Lock()
	if c.budget < s.policy.Unrecoverable {
		c.mu.Unlock()
		return NilHandle, errors.Wrapf(ErrNoiseBudgetExhausted, "budget %d below %d", c.budget, s.policy.Unrecoverable)
	}
	payload, err := s.rt.Refresh(c.payload, c.typ)
	t := c.typ
	c.mu.Unlock()
	if err != nil {
		return NilHandle, errors.Wrap(err, "bootstrap")
	}
	return s.put(t, payload, s.policy.Fresh, ""), nil
}
