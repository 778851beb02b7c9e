package store

import (
	"bytes"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/gzip"
)

// Snapshot encodes the current state as CBOR, for handing state to another
// store instance in-process (fixtures, store hand-off). Values must be
// CBOR-encodable; decoded numeric types follow CBOR defaults.
func (s *Store) Snapshot() ([]byte, error) {
	data, err := cbor.Marshal(s.Get())
	if err != nil {
		return nil, fmt.Errorf("store: encode snapshot: %w", err)
	}
	return data, nil
}

// SnapshotCompressed returns the CBOR snapshot wrapped in gzip.
func (s *Store) SnapshotCompressed() ([]byte, error) {
	data, err := s.Snapshot()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("store: compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("store: compress snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Restore returns a module seeding a new store from a Snapshot payload. The
// decoded mapping is applied as an EventInit delta before later modules' init
// handlers run.
func Restore(data []byte) Module {
	return func(s *Store) error {
		var snap map[string]any
		if err := cbor.Unmarshal(data, &snap); err != nil {
			return fmt.Errorf("store: decode snapshot: %w", err)
		}

		s.On(EventInit, func(State, any, *Store) (Result, error) {
			return Settled(Delta(snap)), nil
		})
		return nil
	}
}

// RestoreCompressed is Restore for SnapshotCompressed payloads.
func RestoreCompressed(data []byte) Module {
	return func(s *Store) error {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("store: open snapshot: %w", err)
		}
		raw, err := io.ReadAll(zr)
		if err != nil {
			return fmt.Errorf("store: read snapshot: %w", err)
		}
		if err := zr.Close(); err != nil {
			return fmt.Errorf("store: read snapshot: %w", err)
		}
		return Restore(raw)(s)
	}
}
