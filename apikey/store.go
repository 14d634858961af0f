// Package apikey authenticates API keys and resolves which keys under
// the same tenant may transparently share a login session (SSO
// scoping).
package apikey

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/otpcore/keyspace"
)

const keyRecordVersion1 = 1

var (
	// ErrNotFound is returned when no key matches the secret hash.
	ErrNotFound = errors.New("api key not found")
	// ErrRedisUnavailable wraps transport failures. Callers fail closed.
	ErrRedisUnavailable = errors.New("apikey redis unavailable")
)

// Status is the lifecycle state of an API key.
type Status uint8

const (
	StatusActive Status = iota
	StatusRevoked
)

// IsolationMode controls session sharing between keys of one tenant.
type IsolationMode uint8

const (
	// IsolationComplete is the default: no key other than the issuing
	// key may use its sessions.
	IsolationComplete IsolationMode = iota
	// IsolationSelective shares sessions with an explicit allow-list.
	IsolationSelective
	// IsolationNone shares with every key of the tenant, but only when
	// the tenant-wide GlobalSSO flag is also set.
	IsolationNone
)

// Record is one API key. The raw secret exists only in the caller's
// hands; storage indexes its SHA-256.
type Record struct {
	CustomerID    string
	KeyID         string
	Status        Status
	Isolation     IsolationMode
	GlobalSSO     bool
	AllowedKeyIDs []string
	CreatedAt     int64
	LastUsedAt    int64
}

// Store reads and writes API key records, indexed system-scope by the
// secret hash because authentication happens before any tenant is
// known.
type Store struct {
	redis redis.UniversalClient
}

func NewStore(redisClient redis.UniversalClient) *Store {
	return &Store{redis: redisClient}
}

func recordKey(secretHash [32]byte) string {
	return keyspace.Key(keyspace.SystemScope, "apikey_"+hex.EncodeToString(secretHash[:]))
}

// Save stores the record under the secret hash. API keys have no TTL.
func (s *Store) Save(ctx context.Context, secretHash [32]byte, rec *Record) error {
	encoded, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, recordKey(secretHash), encoded, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// GetBySecretHash resolves a raw key's digest to its record.
func (s *Store) GetBySecretHash(ctx context.Context, secretHash [32]byte) (*Record, error) {
	data, err := s.redis.Get(ctx, recordKey(secretHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return decodeRecord(data)
}

// TouchLastUsed stamps the key's last-use time. Best effort: a lost
// update only skews the timestamp.
func (s *Store) TouchLastUsed(ctx context.Context, secretHash [32]byte) error {
	rec, err := s.GetBySecretHash(ctx, secretHash)
	if err != nil {
		return err
	}
	rec.LastUsedAt = time.Now().Unix()
	return s.Save(ctx, secretHash, rec)
}

// SessionScope computes the SSO scope list recorded on sessions
// created under this key.
//
//   - complete: only the issuing key itself
//   - selective: the issuing key plus its allow-list
//   - none + tenant GlobalSSO: the wildcard, any key of the tenant
//   - none without the flag: falls back to complete
func (rec *Record) SessionScope() []string {
	switch rec.Isolation {
	case IsolationSelective:
		scope := append([]string{rec.KeyID}, rec.AllowedKeyIDs...)
		return scope
	case IsolationNone:
		if rec.GlobalSSO {
			return []string{Wildcard}
		}
		return []string{rec.KeyID}
	default:
		return []string{rec.KeyID}
	}
}

func encodeRecord(rec *Record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(keyRecordVersion1)
	buf.WriteByte(byte(rec.Status))
	buf.WriteByte(byte(rec.Isolation))
	if rec.GlobalSSO {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.LastUsedAt); err != nil {
		return nil, err
	}
	if err := writeString(&buf, rec.CustomerID); err != nil {
		return nil, err
	}
	if err := writeString(&buf, rec.KeyID); err != nil {
		return nil, err
	}

	if len(rec.AllowedKeyIDs) > 255 {
		return nil, errors.New("allow list too large")
	}
	buf.WriteByte(byte(len(rec.AllowedKeyIDs)))
	for _, id := range rec.AllowedKeyIDs {
		if err := writeString(&buf, id); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != keyRecordVersion1 {
		return nil, errors.New("invalid api key record version")
	}

	rec := &Record{}

	status, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	rec.Status = Status(status)

	isolation, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	rec.Isolation = IsolationMode(isolation)

	global, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	rec.GlobalSSO = global == 1

	if err := binary.Read(reader, binary.BigEndian, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &rec.LastUsedAt); err != nil {
		return nil, err
	}
	if rec.CustomerID, err = readString(reader); err != nil {
		return nil, err
	}
	if rec.KeyID, err = readString(reader); err != nil {
		return nil, err
	}

	n, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	for i := byte(0); i < n; i++ {
		id, err := readString(reader)
		if err != nil {
			return nil, err
		}
		rec.AllowedKeyIDs = append(rec.AllowedKeyIDs, id)
	}

	return rec, nil
}

func writeString(buf *bytes.Buffer, v string) error {
	if len(v) > 65535 {
		return errors.New("api key field too long")
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
