// Package session persists session records, opaque refresh tokens and
// the revocation blacklist. One session exists per (tenant, customer);
// a new login overwrites the prior record, which is what invalidates
// it for identity lookups.
package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/otpcore/keyspace"
)

const sessionRecordVersion1 = 1

var (
	// ErrNotFound is returned when no record exists for the key.
	ErrNotFound = errors.New("session not found")
	// ErrRedisUnavailable wraps transport failures. Callers fail closed.
	ErrRedisUnavailable = errors.New("session redis unavailable")
)

// Session is the per-customer login record. IP, user agent and
// fingerprint are request metadata refreshed on every rotation.
type Session struct {
	CustomerID  string
	TokenHash   [32]byte
	IPAddress   string
	UserAgent   string
	Fingerprint string
	CreatedAt   int64
	ExpiresAt   int64
}

// Store reads and writes session records.
type Store struct {
	redis redis.UniversalClient
}

func NewStore(redisClient redis.UniversalClient) *Store {
	return &Store{redis: redisClient}
}

func sessionKey(customerID string) string {
	return keyspace.Key(customerID, "session_"+keyspace.Hash(customerID))
}

// Save overwrites the session for the customer.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	encoded, err := encodeSession(sess)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, sessionKey(sess.CustomerID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get returns the live session for the customer.
func (s *Store) Get(ctx context.Context, customerID string) (*Session, error) {
	data, err := s.redis.Get(ctx, sessionKey(customerID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return decodeSession(data)
}

// Delete removes the session so identity lookups fail immediately even
// while the signed token is still cryptographically valid.
func (s *Store) Delete(ctx context.Context, customerID string) error {
	if err := s.redis.Del(ctx, sessionKey(customerID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func encodeSession(sess *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(sessionRecordVersion1)
	if err := binary.Write(&buf, binary.BigEndian, sess.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, sess.ExpiresAt); err != nil {
		return nil, err
	}
	buf.Write(sess.TokenHash[:])

	for _, field := range []string{sess.CustomerID, sess.IPAddress, sess.UserAgent, sess.Fingerprint} {
		if err := writeString(&buf, field); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func decodeSession(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionRecordVersion1 {
		return nil, errors.New("invalid session record version")
	}

	sess := &Session{}
	if err := binary.Read(reader, binary.BigEndian, &sess.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &sess.ExpiresAt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, sess.TokenHash[:]); err != nil {
		return nil, err
	}

	for _, dst := range []*string{&sess.CustomerID, &sess.IPAddress, &sess.UserAgent, &sess.Fingerprint} {
		v, err := readString(reader)
		if err != nil {
			return nil, err
		}
		*dst = v
	}

	return sess, nil
}

func writeString(buf *bytes.Buffer, v string) error {
	if len(v) > 65535 {
		return errors.New("session field too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(v))); err != nil {
		return err
	}
	buf.WriteString(v)
	return nil
}

func readString(reader *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return "", err
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}
