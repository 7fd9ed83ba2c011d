// Package session persists the aggregator's cookie set between runs so the
// SMS challenge is only needed once per remembered device.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Session is an opaque mapping of cookie names to values. Its format is
// owned by the aggregator; nothing here validates the contents.
type Session map[string]string

// Clone returns an independent copy of s.
func (s Session) Clone() Session {
	out := make(Session, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// IsEmpty reports whether s holds no tokens.
func (s Session) IsEmpty() bool {
	return len(s) == 0
}

// Names returns the token names in sorted order.
func (s Session) Names() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Store loads and saves a Session. Load never fails: missing, unreadable or
// malformed state is logged and an empty Session is returned.
type Store interface {
	Load(ctx context.Context) Session
	Save(ctx context.Context, s Session) error
	Clear(ctx context.Context) error
	Location() string
	Close() error
}

// IOError describes a session read or write that failed.
type IOError struct {
	Op       string
	Location string
	Err      error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("session %s %s: %v", e.Op, e.Location, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// NewStore returns a GCS-backed store for gs:// locations and a file store
// for everything else.
func NewStore(ctx context.Context, location string) (Store, error) {
	if strings.HasPrefix(location, "gs://") {
		return NewGCSStore(ctx, location)
	}
	return NewFileStore(location), nil
}

func decode(data []byte) (Session, error) {
	s := Session{}
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, err
	}
	if s == nil {
		// a literal "null" document
		s = Session{}
	}
	return s, nil
}

func encode(s Session) ([]byte, error) {
	if s == nil {
		s = Session{}
	}
	return json.Marshal(s)
}
