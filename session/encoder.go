package session

import (
	"encoding/json"
	"errors"
	"fmt"
)

const snapshotFormatVersion = 1

// ErrSnapshotCorrupt is returned when a persisted snapshot cannot be decoded.
var ErrSnapshotCorrupt = errors.New("session snapshot corrupt")

type envelope struct {
	Version  int       `json:"v"`
	Snapshot *Snapshot `json:"snapshot"`
}

// Encode serializes s with the current format version.
func Encode(s *Snapshot) ([]byte, error) {
	if s == nil {
		return nil, errors.New("nil snapshot")
	}
	return json.Marshal(envelope{Version: snapshotFormatVersion, Snapshot: s})
}

// Decode parses data produced by Encode. Unknown versions and snapshots
// without a usable token pair are rejected.
func Decode(data []byte) (*Snapshot, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	if env.Version != snapshotFormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrSnapshotCorrupt, env.Version)
	}
	if env.Snapshot == nil || !env.Snapshot.Tokens.Valid() || env.Snapshot.User.ID == "" {
		return nil, fmt.Errorf("%w: incomplete snapshot", ErrSnapshotCorrupt)
	}
	return env.Snapshot, nil
}
