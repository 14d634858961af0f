// Package otp persists short-lived numeric challenges in Redis and
// enforces single-use, bounded-attempt verification.
package otp

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/otpcore/keyspace"
)

const (
	challengeKeyPrefix      = "otp"
	challengeRecordVersion1 = 1
)

var (
	// ErrNotFound is returned when no live challenge exists for the
	// email+tenant pair, including after single-use consumption or
	// attempt exhaustion deleted it.
	ErrNotFound = errors.New("otp challenge not found")
	// ErrMismatch is returned when the submitted code does not match.
	ErrMismatch = errors.New("otp code mismatch")
	// ErrExpired is returned when a stored challenge is past its expiry.
	ErrExpired = errors.New("otp challenge expired")
	// ErrAttemptsExceeded is returned when the attempt budget is spent;
	// the challenge is deleted and a fresh issue is required.
	ErrAttemptsExceeded = errors.New("otp attempts exceeded")
	// ErrRedisUnavailable wraps transport failures. Callers fail closed.
	ErrRedisUnavailable = errors.New("otp redis unavailable")
)

// Challenge is the stored state of one issued code. The code itself is
// kept only as a SHA-256 digest.
type Challenge struct {
	CustomerID string
	CodeHash   [32]byte
	CreatedAt  int64
	ExpiresAt  int64
	Attempts   uint16
}

// Store reads and writes challenges keyed by (tenant, email hash).
// At most one live challenge exists per key; Save overwrites.
type Store struct {
	redis redis.UniversalClient
}

func NewStore(redisClient redis.UniversalClient) *Store {
	return &Store{redis: redisClient}
}

func (s *Store) key(customerID, emailHash string) string {
	return keyspace.Key(customerID, challengeKeyPrefix+"_"+emailHash)
}

// Save stores the challenge, replacing any prior challenge for the
// same email+tenant.
func (s *Store) Save(ctx context.Context, customerID, emailHash string, rec *Challenge, ttl time.Duration) error {
	encoded, err := encodeChallenge(rec)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(customerID, emailHash), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Consume verifies a submitted code hash against the stored challenge.
// Attempts are incremented before the comparison is evaluated, the
// comparison is constant time, and a matching consume deletes the
// record so the code can never be replayed. The read-modify-write runs
// under WATCH so concurrent verifies for the same challenge cannot
// both succeed.
func (s *Store) Consume(ctx context.Context, customerID, emailHash string, providedHash [32]byte, maxAttempts int) (*Challenge, error) {
	const maxRetries = 4
	key := s.key(customerID, emailHash)

	for i := 0; i < maxRetries; i++ {
		var matched *Challenge

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			rec, err := decodeChallenge(data)
			if err != nil {
				return err
			}

			now := time.Now()
			if now.Unix() > rec.ExpiresAt {
				if err := txDelete(ctx, tx, key); err != nil {
					return err
				}
				return ErrExpired
			}

			rec.Attempts++
			if int(rec.Attempts) > maxAttempts {
				if err := txDelete(ctx, tx, key); err != nil {
					return err
				}
				return ErrAttemptsExceeded
			}

			if subtle.ConstantTimeCompare(rec.CodeHash[:], providedHash[:]) != 1 {
				if int(rec.Attempts) >= maxAttempts {
					if err := txDelete(ctx, tx, key); err != nil {
						return err
					}
					return ErrAttemptsExceeded
				}

				ttl := time.Until(time.Unix(rec.ExpiresAt, 0))
				if ttl <= 0 {
					if err := txDelete(ctx, tx, key); err != nil {
						return err
					}
					return ErrExpired
				}

				updated, err := encodeChallenge(rec)
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrMismatch
			}

			if err := txDelete(ctx, tx, key); err != nil {
				return err
			}

			matched = rec
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrNotFound
			case errors.Is(err, ErrExpired), errors.Is(err, ErrMismatch), errors.Is(err, ErrAttemptsExceeded):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, ErrNotFound
}

// Delete removes any live challenge for the email+tenant pair.
func (s *Store) Delete(ctx context.Context, customerID, emailHash string) error {
	if err := s.redis.Del(ctx, s.key(customerID, emailHash)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func txDelete(ctx context.Context, tx *redis.Tx, key string) error {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		return nil
	})
	return err
}

func encodeChallenge(rec *Challenge) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(challengeRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, rec.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.ExpiresAt); err != nil {
		return nil, err
	}

	if len(rec.CustomerID) > 255 {
		return nil, errors.New("challenge customer id too long")
	}
	buf.WriteByte(byte(len(rec.CustomerID)))
	buf.WriteString(rec.CustomerID)
	buf.Write(rec.CodeHash[:])

	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (*Challenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersion1 {
		return nil, errors.New("invalid challenge record version")
	}

	rec := &Challenge{}

	if err := binary.Read(reader, binary.BigEndian, &rec.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &rec.ExpiresAt); err != nil {
		return nil, err
	}

	idLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(reader, id); err != nil {
		return nil, err
	}
	rec.CustomerID = string(id)

	if _, err := io.ReadFull(reader, rec.CodeHash[:]); err != nil {
		return nil, err
	}

	return rec, nil
}
