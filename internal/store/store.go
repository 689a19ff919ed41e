// Package store persists users, chats, chat administrators and transcription
// statistics in a bbolt database. Values are JSON documents keyed by id.
package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"voice-transcriber-bot/internal/service/eligibility"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

var (
	bucketUsers          = []byte("users")
	bucketChats          = []byte("chats")
	bucketAdministrators = []byte("administrators")
	bucketTranscriptions = []byte("transcriptions")
)

// Store is a bbolt-backed store. Safe for concurrent use.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketChats, bucketAdministrators, bucketTranscriptions} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.db.Path()
}

func idKey(id int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(id))
	return k
}

func pairKey(a, b int64) []byte {
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k[:8], uint64(a))
	binary.BigEndian.PutUint64(k[8:], uint64(b))
	return k
}

func get(tx *bolt.Tx, bucket, key []byte, v any) error {
	raw := tx.Bucket(bucket).Get(key)
	if raw == nil {
		return ErrNotFound
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}

func put(tx *bolt.Tx, bucket, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", bucket, err)
	}
	return tx.Bucket(bucket).Put(key, raw)
}

// --- users ---

// User returns the user with the given id.
func (s *Store) User(id int64) (*User, error) {
	var u User
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx, bucketUsers, idKey(id), &u)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// SaveUser inserts or replaces a user.
func (s *Store) SaveUser(u *User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		s.stampUser(u)
		return put(tx, bucketUsers, idKey(u.ID), u)
	})
}

// UpdateUser applies fn to the stored user, creating it first if missing,
// and saves the result in the same transaction.
func (s *Store) UpdateUser(id int64, fn func(u *User)) (*User, error) {
	var u User
	err := s.db.Update(func(tx *bolt.Tx) error {
		err := get(tx, bucketUsers, idKey(id), &u)
		if errors.Is(err, ErrNotFound) {
			u = User{ID: id}
		} else if err != nil {
			return err
		}
		fn(&u)
		u.ID = id
		s.stampUser(&u)
		return put(tx, bucketUsers, idKey(id), &u)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) stampUser(u *User) {
	now := s.now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
}

// Superusers returns every user flagged as superuser, ordered by id.
func (s *Store) Superusers() ([]User, error) {
	var out []User
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(_, raw []byte) error {
			var u User
			if err := json.Unmarshal(raw, &u); err != nil {
				return fmt.Errorf("decode users: %w", err)
			}
			if u.Superuser {
				out = append(out, u)
			}
			return nil
		})
	})
	return out, err
}

// Subject implements eligibility.Directory.
func (s *Store) Subject(_ context.Context, userID int64) (eligibility.Subject, error) {
	u, err := s.User(userID)
	if errors.Is(err, ErrNotFound) {
		return eligibility.Subject{}, eligibility.ErrUnknownUser
	}
	if err != nil {
		return eligibility.Subject{}, err
	}
	return u.Subject(), nil
}

// --- chats ---

// Chat returns the chat with the given id.
func (s *Store) Chat(id int64) (*Chat, error) {
	var c Chat
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx, bucketChats, idKey(id), &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveChat inserts or replaces a chat.
func (s *Store) SaveChat(c *Chat) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if c.CreatedAt.IsZero() {
			c.CreatedAt = s.now().UTC()
		}
		return put(tx, bucketChats, idKey(c.ID), c)
	})
}

// UpdateChat applies fn to the stored chat, creating it first if missing.
func (s *Store) UpdateChat(id int64, fn func(c *Chat)) (*Chat, error) {
	var c Chat
	err := s.db.Update(func(tx *bolt.Tx) error {
		err := get(tx, bucketChats, idKey(id), &c)
		if errors.Is(err, ErrNotFound) {
			c = Chat{ID: id, CreatedAt: s.now().UTC()}
		} else if err != nil {
			return err
		}
		fn(&c)
		c.ID = id
		return put(tx, bucketChats, idKey(id), &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// --- administrators ---

// ReplaceAdministrators swaps the full administrator list of a chat and
// records when it was fetched.
func (s *Store) ReplaceAdministrators(chatID int64, admins []Administrator) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAdministrators)
		prefix := idKey(chatID)

		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			stale = append(stale, append([]byte{}, k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		now := s.now().UTC()
		for i := range admins {
			admins[i].ChatID = chatID
			admins[i].UpdatedAt = now
			if err := put(tx, bucketAdministrators, pairKey(chatID, admins[i].UserID), &admins[i]); err != nil {
				return err
			}
		}

		var chat Chat
		err := get(tx, bucketChats, idKey(chatID), &chat)
		if errors.Is(err, ErrNotFound) {
			chat = Chat{ID: chatID, CreatedAt: now}
		} else if err != nil {
			return err
		}
		chat.AdministratorsFetchedAt = now
		return put(tx, bucketChats, idKey(chatID), &chat)
	})
}

// SaveAdministrator inserts or replaces one administrator.
func (s *Store) SaveAdministrator(a *Administrator) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		a.UpdatedAt = s.now().UTC()
		return put(tx, bucketAdministrators, pairKey(a.ChatID, a.UserID), a)
	})
}

// DeleteAdministrator removes one administrator. Missing records are ignored.
func (s *Store) DeleteAdministrator(chatID, userID int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAdministrators).Delete(pairKey(chatID, userID))
	})
}

// Administrator returns one administrator of a chat.
func (s *Store) Administrator(chatID, userID int64) (*Administrator, error) {
	var a Administrator
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx, bucketAdministrators, pairKey(chatID, userID), &a)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Administrators returns the administrators of a chat, ordered by user id.
func (s *Store) Administrators(chatID int64) ([]Administrator, error) {
	var out []Administrator
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := idKey(chatID)
		c := tx.Bucket(bucketAdministrators).Cursor()
		for k, raw := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, raw = c.Next() {
			var a Administrator
			if err := json.Unmarshal(raw, &a); err != nil {
				return fmt.Errorf("decode administrators: %w", err)
			}
			out = append(out, a)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, err
}

func hasPrefix(k, prefix []byte) bool {
	return len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix)
}

// --- transcriptions ---

// AddTranscription appends a transcription record.
func (s *Store) AddTranscription(r *TranscriptionRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTranscriptions)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = s.now().UTC()
		}
		return put(tx, bucketTranscriptions, idKey(int64(seq)), r)
	})
}

// DefaultEstimateWindow is the audio-duration window, in seconds, averaged by
// EstimatedDuration.
const DefaultEstimateWindow = 20

// EstimatedDuration returns the mean response time, in seconds, of successful
// transcriptions whose audio duration is within window/2 seconds of duration.
// ok is false when there is no such transcription.
func (s *Store) EstimatedDuration(duration, window int) (seconds float64, ok bool, err error) {
	if window <= 0 {
		window = DefaultEstimateWindow
	}
	half := float64(window) / 2
	lo, hi := float64(duration)-half, float64(duration)+half

	var sum float64
	var n int
	err = s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTranscriptions).ForEach(func(_, raw []byte) error {
			var r TranscriptionRecord
			if err := json.Unmarshal(raw, &r); err != nil {
				return fmt.Errorf("decode transcriptions: %w", err)
			}
			d := float64(r.AudioDuration)
			if r.Success && d >= lo && d <= hi {
				sum += r.ResponseTime
				n++
			}
			return nil
		})
	})
	if err != nil || n == 0 {
		return 0, false, err
	}
	return sum / float64(n), true, nil
}

// Transcriptions returns the number of stored transcription records.
func (s *Store) Transcriptions() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketTranscriptions).Stats().KeyN
		return nil
	})
	return n, err
}
