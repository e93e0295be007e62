package courier

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// ============================================================================
// Store
// ============================================================================

// Store is the durable local state behind a session: the per-account resume
// cursor, the call log, and locally hidden message ids ("delete for me").
// It is a small Pebble database, one per client install.
type Store struct {
	db  *pebble.DB
	log *zap.Logger

	// seq disambiguates call-log keys sharing a nanosecond timestamp.
	seq uint64
}

// CallRecord is one persisted call-log entry.
type CallRecord struct {
	CallID    string        `json:"call_id"`
	ChatID    string        `json:"chat_id"`
	Mode      string        `json:"mode"`
	Initiator string        `json:"initiator"`
	Peer      string        `json:"peer,omitempty"`
	StartedAt int64         `json:"started_at"`
	Duration  int64         `json:"duration"`
	Reason    CallEndReason `json:"reason"`
}

// OpenStore opens (or creates) the local database at path.
func OpenStore(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		log.Error("store open failed", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("open store: %w", err)
	}
	log.Info("store opened", zap.String("path", path))
	return &Store{db: db, log: log}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// ============================================================================
// Resume cursor
// ============================================================================

func cursorKey(username string) []byte {
	return []byte("cursor:" + username)
}

// Cursor returns the persisted resume cursor for an account, zero when none.
func (s *Store) Cursor(username string) int64 {
	val, closer, err := s.db.Get(cursorKey(username))
	if err != nil {
		return 0
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(val))
}

// SetCursor advances the persisted cursor. A value at or below the stored
// one is ignored, so replays and races can never move the cursor backwards.
func (s *Store) SetCursor(username string, id int64) error {
	if id <= s.Cursor(username) {
		return nil
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	if err := s.db.Set(cursorKey(username), buf[:], pebble.Sync); err != nil {
		s.log.Error("cursor write failed",
			zap.String("username", username),
			zap.Int64("id", id),
			zap.Error(err))
		return err
	}
	return nil
}

// ============================================================================
// Call log
// ============================================================================

// AppendCallLog persists one finished call.
func (s *Store) AppendCallLog(rec CallRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	n := atomic.AddUint64(&s.seq, 1)
	key := fmt.Sprintf("calllog:%020d-%06d", rec.StartedAt, n)
	if err := s.db.Set([]byte(key), data, pebble.Sync); err != nil {
		s.log.Error("call log write failed", zap.String("call_id", rec.CallID), zap.Error(err))
		return err
	}
	return nil
}

// CallLog returns up to limit call records, newest first.
func (s *Store) CallLog(limit int) ([]CallRecord, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("calllog:"),
		UpperBound: []byte("calllog;"), // ';' is ':'+1
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []CallRecord
	for ok := iter.Last(); ok; ok = iter.Prev() {
		if limit > 0 && len(out) >= limit {
			break
		}
		var rec CallRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			s.log.Warn("skipping corrupt call record", zap.ByteString("key", iter.Key()))
			continue
		}
		out = append(out, rec)
	}
	return out, iter.Error()
}

// ============================================================================
// Hidden messages ("delete for me")
// ============================================================================

func hiddenKey(username string, messageID int64) []byte {
	return []byte(fmt.Sprintf("hidden:%s:%020d", username, messageID))
}

// HideMessage records a message as locally hidden for an account.
func (s *Store) HideMessage(username string, messageID int64) error {
	if err := s.db.Set(hiddenKey(username, messageID), []byte{1}, pebble.Sync); err != nil {
		s.log.Error("hide write failed", zap.Int64("message_id", messageID), zap.Error(err))
		return err
	}
	return nil
}

// IsHidden reports whether a message is locally hidden.
func (s *Store) IsHidden(username string, messageID int64) bool {
	_, closer, err := s.db.Get(hiddenKey(username, messageID))
	if err != nil {
		return false
	}
	closer.Close()
	return true
}

// HiddenIDs returns every hidden message id for an account.
func (s *Store) HiddenIDs(username string) ([]int64, error) {
	prefix := "hidden:" + username + ":"
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte("hidden:" + username + ";"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []int64
	for ok := iter.First(); ok; ok = iter.Next() {
		raw := string(iter.Key())[len(prefix):]
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, iter.Error()
}
