package session

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	// CurrentSchemaVersion is written to the v field of every new record.
	CurrentSchemaVersion = 1

	fieldVersion    = "v"
	fieldSessionID  = "sid"
	fieldUserUUID   = "uid"
	fieldCreatedAt  = "created_at"
	fieldExpiresAt  = "expires_at"
	connFieldPrefix = "conn:"
)

// ErrCorruptRecord is returned when a stored hash cannot be decoded.
var ErrCorruptRecord = errors.New("corrupt session record")

func connectionField(connectionID string) string {
	return connFieldPrefix + connectionID
}

// encodeFields flattens the scalar attributes for HSET. Connection fields are never written
// here; they are owned by the bind/unbind scripts.
func encodeFields(s *Session) ([]any, error) {
	if s == nil {
		return nil, errors.New("nil session")
	}
	if s.SessionID == "" {
		return nil, errors.New("empty session id")
	}
	if len(s.UserUUID) > 255 {
		return nil, errors.New("user uuid too long")
	}

	return []any{
		fieldVersion, strconv.Itoa(CurrentSchemaVersion),
		fieldSessionID, s.SessionID,
		fieldUserUUID, s.UserUUID,
		fieldCreatedAt, strconv.FormatInt(s.CreatedAt, 10),
		fieldExpiresAt, strconv.FormatInt(s.ExpiresAt, 10),
	}, nil
}

// decodeFields rebuilds a Session from HGETALL output. Unknown fields are ignored so newer
// writers do not break older readers.
func decodeFields(sessionID string, fields map[string]string) (*Session, error) {
	s := &Session{SessionID: sessionID}

	version, ok := fields[fieldVersion]
	if !ok {
		return nil, fmt.Errorf("%w: missing schema version", ErrCorruptRecord)
	}
	v, err := strconv.ParseUint(version, 10, 8)
	if err != nil || v == 0 || v > CurrentSchemaVersion {
		return nil, fmt.Errorf("%w: unsupported session schema version %q", ErrCorruptRecord, version)
	}
	s.SchemaVersion = uint8(v)

	if sid := fields[fieldSessionID]; sid != "" && sid != sessionID {
		return nil, fmt.Errorf("%w: session id mismatch", ErrCorruptRecord)
	}
	s.UserUUID = fields[fieldUserUUID]

	if s.CreatedAt, err = parseUnix(fields, fieldCreatedAt); err != nil {
		return nil, err
	}
	if s.ExpiresAt, err = parseUnix(fields, fieldExpiresAt); err != nil {
		return nil, err
	}

	for name := range fields {
		if id, ok := strings.CutPrefix(name, connFieldPrefix); ok && id != "" {
			s.ConnectionIDs = append(s.ConnectionIDs, id)
		}
	}
	sort.Strings(s.ConnectionIDs)

	return s, nil
}

func parseUnix(fields map[string]string, name string) (int64, error) {
	raw, ok := fields[name]
	if !ok {
		return 0, fmt.Errorf("%w: missing %s", ErrCorruptRecord, name)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s", ErrCorruptRecord, name)
	}
	return v, nil
}
