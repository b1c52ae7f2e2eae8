package session

import "sort"

// Session is the persisted identity unit keyed by SessionID.
//
// A Session returned by the Store is a snapshot; mutate the record through Store methods,
// never by writing a modified Session back.
type Session struct {
	SchemaVersion uint8
	SessionID     string
	UserUUID      string

	// ConnectionIDs lists every live connection bound to the session, sorted.
	ConnectionIDs []string

	CreatedAt int64
	ExpiresAt int64
}

// Authenticated reports whether a user has been established on the session.
func (s *Session) Authenticated() bool {
	return s != nil && s.UserUUID != ""
}

// HasConnection reports whether connectionID is bound to the session.
func (s *Session) HasConnection(connectionID string) bool {
	if s == nil {
		return false
	}
	i := sort.SearchStrings(s.ConnectionIDs, connectionID)
	return i < len(s.ConnectionIDs) && s.ConnectionIDs[i] == connectionID
}

// Outcome classifies a store lookup.
type Outcome uint8

const (
	// OutcomeFound means the record exists and Lookup.Session is set.
	OutcomeFound Outcome = iota
	// OutcomeNotFound means the record is absent or past its expiry.
	OutcomeNotFound
	// OutcomeUnavailable means the store could not answer; Lookup.Err is set.
	OutcomeUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Lookup is the tagged result of [Store.Load]. Callers switch on Outcome once.
type Lookup struct {
	Outcome Outcome
	Session *Session
	Err     error
}

// BindStatus is the result of a connection bind.
type BindStatus uint8

const (
	// BindNotFound means the session record does not exist.
	BindNotFound BindStatus = iota
	// BindNoUser means the session exists but is anonymous; nothing was written.
	BindNoUser
	// BindBound means the connection field is present after the call.
	BindBound
)
