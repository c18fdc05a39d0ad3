package driven

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.etcd.io/bbolt"

	"github.com/alorle/hls-proxy/internal/port/driven"
)

const (
	segmentsBucket = "segments"
)

// SegmentBoltDBStore implements the SegmentStore port using BoltDB.
type SegmentBoltDBStore struct {
	db  *bbolt.DB
	ttl time.Duration
	now func() time.Time
}

// NewSegmentBoltDBStore creates a new BoltDB-backed segment store whose
// entries expire after ttl. It initializes the required bucket if it doesn't exist.
func NewSegmentBoltDBStore(db *bbolt.DB, ttl time.Duration) (*SegmentBoltDBStore, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}

	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(segmentsBucket))
		return err
	})
	if err != nil {
		return nil, err
	}

	return &SegmentBoltDBStore{db: db, ttl: ttl, now: time.Now}, nil
}

// segmentDTO is used for JSON serialization.
type segmentDTO struct {
	URL         string    `json:"url"`
	ContentType string    `json:"content_type"`
	Data        []byte    `json:"data"`
	StoredAt    time.Time `json:"stored_at"`
}

// Get returns the cached segment for url. Entries older than the TTL are
// reported as ErrSegmentExpired and left for DeleteExpired.
func (s *SegmentBoltDBStore) Get(ctx context.Context, url string) (driven.Segment, error) {
	if err := ctx.Err(); err != nil {
		return driven.Segment{}, err
	}

	var seg driven.Segment
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(segmentsBucket))
		if bucket == nil {
			return errors.New("segments bucket not found")
		}

		data := bucket.Get([]byte(url))
		if data == nil {
			return driven.ErrSegmentNotFound
		}

		var dto segmentDTO
		if err := json.Unmarshal(data, &dto); err != nil {
			return err
		}
		if s.expired(dto.StoredAt) {
			return driven.ErrSegmentExpired
		}

		seg = driven.Segment(dto)
		return nil
	})

	return seg, err
}

// Put stores seg, replacing any previous copy. A zero StoredAt is set to now.
func (s *SegmentBoltDBStore) Put(ctx context.Context, seg driven.Segment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if seg.URL == "" {
		return errors.New("segment url cannot be empty")
	}
	if seg.StoredAt.IsZero() {
		seg.StoredAt = s.now()
	}

	data, err := json.Marshal(segmentDTO(seg))
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(segmentsBucket))
		if bucket == nil {
			return errors.New("segments bucket not found")
		}
		return bucket.Put([]byte(seg.URL), data)
	})
}

// DeleteExpired removes every entry older than the TTL.
func (s *SegmentBoltDBStore) DeleteExpired(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(segmentsBucket))
		if bucket == nil {
			return errors.New("segments bucket not found")
		}

		var stale [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var dto segmentDTO
			if err := json.Unmarshal(v, &dto); err != nil || s.expired(dto.StoredAt) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		// Deleting while iterating with ForEach is not allowed
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})

	return removed, err
}

// Ping verifies the database is readable.
func (s *SegmentBoltDBStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(segmentsBucket)) == nil {
			return errors.New("segments bucket not found")
		}
		return nil
	})
}

func (s *SegmentBoltDBStore) expired(storedAt time.Time) bool {
	return s.now().Sub(storedAt) > s.ttl
}
