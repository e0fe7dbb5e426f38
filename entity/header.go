package entity

import "fmt"

// Header is the in-memory ledger embedded in every aggregate, read-model
// wrapper, and outbox message. Its invariants:
//   - pending[i].Sequence == Version + 1 + i
//   - Replaying implies no new pending entries are appended
//   - ID may be set only when empty or to the same value
type Header struct {
	id        string
	version   uint64
	pending   []Record
	events    []Record
	replaying bool
	metadata  map[string]string
}

// NewHeader returns a zero-value header ready for a brand-new entity.
func NewHeader() *Header {
	return &Header{metadata: make(map[string]string)}
}

// ID returns the entity's stable key, empty if not yet set.
func (h *Header) ID() string { return h.id }

// SetID assigns the entity's id. It fails if already set to a different
// value; setting the same value again is a no-op success.
func (h *Header) SetID(id string) error {
	if h.id != "" && h.id != id {
		return fmt.Errorf("entity: id already set to %q, cannot reassign to %q", h.id, id)
	}
	h.id = id
	return nil
}

// Version is the count of durably committed events; 0 for a new entity.
func (h *Header) Version() uint64 { return h.version }

// Pending returns the uncommitted events recorded since load, in order.
func (h *Header) Pending() []Record {
	out := make([]Record, len(h.pending))
	copy(out, h.pending)
	return out
}

// Events returns the committed history loaded for this entity (may be
// partial if hydrated from a snapshot).
func (h *Header) Events() []Record {
	out := make([]Record, len(h.events))
	copy(out, h.events)
	return out
}

// Replaying reports whether the hydrate loop is currently applying events.
func (h *Header) Replaying() bool { return h.replaying }

// MetadataSet stores a transient, per-command key. Not persisted; copied
// into event records at digest time.
func (h *Header) MetadataSet(key, value string) {
	if h.metadata == nil {
		h.metadata = make(map[string]string)
	}
	h.metadata[key] = value
}

// MetadataGet reads a transient metadata key.
func (h *Header) MetadataGet(key string) (string, bool) {
	v, ok := h.metadata[key]
	return v, ok
}

// Digest records a new event. While Replaying it is a no-op, matching the
// hydrate loop's expectation that apply() never re-records history.
func (h *Header) Digest(name string, payload []byte, version uint32) Record {
	if h.replaying {
		return Record{}
	}
	if version == 0 {
		version = 1
	}
	seq := h.version + uint64(len(h.pending)) + 1
	r := Record{
		EventName: name,
		Version:   version,
		Payload:   append([]byte(nil), payload...),
		Sequence:  seq,
		Timestamp: nowMillis(),
		Metadata:  cloneMetadata(h.metadata),
	}
	h.pending = append(h.pending, r)
	return r
}

func cloneMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// BeginReplay marks the header as replaying, suppressing Digest. Called by
// hydrate implementations (package aggregate); not for use by command code.
func (h *Header) BeginReplay() { h.replaying = true }

// EndReplay clears the replaying flag. Called by hydrate implementations.
func (h *Header) EndReplay() { h.replaying = false }

// LoadCommitted seeds the header's committed state prior to a hydrate pass:
// startVersion is the version implied by a snapshot (0 if none), and events
// is the ordered tail of records to replay starting at sequence
// startVersion+1. Version becomes the sequence of the last event replayed,
// or startVersion if events is empty (a snapshot with nothing committed
// after it, or a full load of an entity with no events).
func (h *Header) LoadCommitted(startVersion uint64, events []Record) {
	h.events = append([]Record(nil), events...)
	if n := len(events); n > 0 {
		h.version = events[n-1].Sequence
	} else {
		h.version = startVersion
	}
}

// ApplyCommit moves pending into the committed log and advances Version.
// Called by the repository after a successful Commit.
func (h *Header) ApplyCommit() {
	h.events = append(h.events, h.pending...)
	h.version += uint64(len(h.pending))
	h.pending = nil
}

// ResetPending discards uncommitted events without advancing Version, used
// when a commit attempt fails and the caller intends to reload.
func (h *Header) ResetPending() {
	h.pending = nil
}
