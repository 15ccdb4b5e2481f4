// Package audit records money movement events as a hash-chained,
// append-only trail. Each entry commits to its predecessor, so removing
// or editing a line breaks verification from that point on.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Entry is one audited event.
type Entry struct {
	Seq       uint64 `json:"seq"`
	At        string `json:"at"`
	Actor     string `json:"actor"`
	Action    string `json:"action"`
	Reference string `json:"reference,omitempty"`
	Detail    string `json:"detail,omitempty"`
	PrevHash  string `json:"prev_hash"`
	Hash      string `json:"hash"`
}

// Trail appends hash-chained entries and optionally streams them as JSON
// lines to a sink. Safe for concurrent use.
type Trail struct {
	mu       sync.Mutex
	seq      uint64
	prevHash string
	sink     io.Writer
	now      func() time.Time
}

// NewTrail starts a fresh chain anchored at the zero hash. A nil sink
// keeps the trail in memory only.
func NewTrail(sink io.Writer) *Trail {
	return &Trail{
		prevHash: strings.Repeat("0", 64),
		sink:     sink,
		now:      time.Now,
	}
}

// Append records one event and returns the sealed entry.
func (t *Trail) Append(actor, action, reference, detail string) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	e := &Entry{
		Seq:       t.seq,
		At:        t.now().UTC().Format(time.RFC3339Nano),
		Actor:     actor,
		Action:    action,
		Reference: reference,
		Detail:    detail,
		PrevHash:  t.prevHash,
	}
	e.Hash = seal(e)
	t.prevHash = e.Hash

	if t.sink != nil {
		if err := json.NewEncoder(t.sink).Encode(e); err != nil {
			return nil, fmt.Errorf("write audit entry: %w", err)
		}
	}
	return e, nil
}

func seal(e *Entry) string {
	input := fmt.Sprintf("%s|%d|%s|%s|%s|%s|%s",
		e.PrevHash, e.Seq, e.At, e.Actor, e.Action, e.Reference, e.Detail)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether the entries form an unbroken, untampered chain.
func Verify(entries []*Entry) bool {
	for i, e := range entries {
		if i > 0 && e.PrevHash != entries[i-1].Hash {
			return false
		}
		if seal(e) != e.Hash {
			return false
		}
	}
	return true
}
