package termlog

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var entriesBucket = []byte("term_entries")

// entry values are a fixed little-endian layout; keys are big-endian term ids
// so that bbolt's byte-wise ordering matches term order.
const entryValueLength = 8*5 + 4 + 1 + 4

// BoltStore persists term entries in a bbolt file.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) the term log store at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("termlog: open store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entriesBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("termlog: init store: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load() ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		return b.ForEach(func(k, v []byte) error {
			e, err := decodeEntry(k, v)
			if err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *BoltStore) Append(e Entry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		k := termKey(e.LeadershipTermID)
		if b.Get(k) != nil {
			return fmt.Errorf("termlog: term %d already stored", e.LeadershipTermID)
		}
		return b.Put(k, encodeEntry(e))
	})
}

func (s *BoltStore) UpdateLogPosition(leadershipTermID, logPosition int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		k := termKey(leadershipTermID)
		v := b.Get(k)
		if v == nil {
			return fmt.Errorf("termlog: term %d not stored", leadershipTermID)
		}
		updated := make([]byte, len(v))
		copy(updated, v)
		binary.LittleEndian.PutUint64(updated[16:24], uint64(logPosition))
		return b.Put(k, updated)
	})
}

func (s *BoltStore) Close() error { return s.db.Close() }

func termKey(leadershipTermID int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(leadershipTermID))
	return k
}

func encodeEntry(e Entry) []byte {
	v := make([]byte, entryValueLength)
	binary.LittleEndian.PutUint64(v[0:8], uint64(e.RecordingID))
	binary.LittleEndian.PutUint64(v[8:16], uint64(e.TermBaseLogPosition))
	binary.LittleEndian.PutUint64(v[16:24], uint64(e.LogPosition))
	binary.LittleEndian.PutUint64(v[24:32], uint64(e.Timestamp))
	binary.LittleEndian.PutUint64(v[32:40], 0) // reserved
	binary.LittleEndian.PutUint32(v[40:44], uint32(e.Type))
	if e.IsValid {
		v[44] = 1
	}
	binary.LittleEndian.PutUint32(v[45:49], uint32(e.MemberID))
	return v
}

func decodeEntry(k, v []byte) (Entry, error) {
	if len(k) != 8 || len(v) < entryValueLength {
		return Entry{}, fmt.Errorf("termlog: corrupt entry record (key %d bytes, value %d bytes)", len(k), len(v))
	}
	return Entry{
		LeadershipTermID:    int64(binary.BigEndian.Uint64(k)),
		RecordingID:         int64(binary.LittleEndian.Uint64(v[0:8])),
		TermBaseLogPosition: int64(binary.LittleEndian.Uint64(v[8:16])),
		LogPosition:         int64(binary.LittleEndian.Uint64(v[16:24])),
		Timestamp:           int64(binary.LittleEndian.Uint64(v[24:32])),
		Type:                EntryType(int32(binary.LittleEndian.Uint32(v[40:44]))),
		IsValid:             v[44] == 1,
		MemberID:            int32(binary.LittleEndian.Uint32(v[45:49])),
	}, nil
}
