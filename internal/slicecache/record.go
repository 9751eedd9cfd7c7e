package slicecache

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zeebo/xxh3"
)

// Durable records are framed as: version (1 byte) | xxh3 of payload (8 bytes) | payload.
const (
	recordVersion    = 1
	recordHeaderSize = 1 + 8
)

var errEmptyPayload = errors.New("empty payload")

func encodeRecord(payload []byte) []byte {
	out := make([]byte, recordHeaderSize+len(payload))
	out[0] = recordVersion
	binary.BigEndian.PutUint64(out[1:recordHeaderSize], xxh3.Hash(payload))
	copy(out[recordHeaderSize:], payload)
	return out
}

func decodeRecord(record []byte) ([]byte, error) {
	if len(record) < recordHeaderSize {
		return nil, fmt.Errorf("record too short (%d bytes)", len(record))
	}
	if record[0] != recordVersion {
		return nil, fmt.Errorf("unsupported record version %d", record[0])
	}
	payload := record[recordHeaderSize:]
	if len(payload) == 0 {
		return nil, errEmptyPayload
	}
	want := binary.BigEndian.Uint64(record[1:recordHeaderSize])
	if got := xxh3.Hash(payload); got != want {
		return nil, fmt.Errorf("checksum mismatch: %016x != %016x", got, want)
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}
