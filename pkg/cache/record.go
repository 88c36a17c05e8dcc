package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// recordVersion is bumped whenever the persisted layout changes. Records with
// any other version are rejected as undecodable.
const recordVersion = 1

// record is the single artifact every backend persists per key. Payload and
// timestamp always travel together so a partial write cannot split them.
type record struct {
	Version   int             `json:"version"`
	FetchedAt int64           `json:"fetchedAt"`
	Payload   json.RawMessage `json:"payload"`
}

func encodeEntry[V any](key string, payload V, fetchedAt int64) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &StorageError{Op: "encode", Key: key, Err: err}
	}
	data, err := json.Marshal(record{Version: recordVersion, FetchedAt: fetchedAt, Payload: raw})
	if err != nil {
		return nil, &StorageError{Op: "encode", Key: key, Err: err}
	}
	return data, nil
}

func decodeEntry[V any](key string, data []byte) (Entry[V], error) {
	var zero Entry[V]
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return zero, &StorageError{Op: "decode", Key: key, Err: err}
	}
	if rec.Version != recordVersion {
		return zero, &StorageError{Op: "decode", Key: key, Err: fmt.Errorf("unsupported record version %d", rec.Version)}
	}
	if len(rec.Payload) == 0 {
		return zero, &StorageError{Op: "decode", Key: key, Err: errors.New("record has no payload")}
	}
	var payload V
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return zero, &StorageError{Op: "decode", Key: key, Err: fmt.Errorf("payload: %w", err)}
	}
	return Entry[V]{Payload: payload, FetchedAt: rec.FetchedAt}, nil
}

// escapeKey turns an opaque key into a name safe for file names, object names
// and document IDs.
func escapeKey(key string) (string, error) {
	if key == "" {
		return "", errors.New("key cannot be empty")
	}
	return url.QueryEscape(key), nil
}
