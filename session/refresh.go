package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/otpcore/keyspace"
)

const refreshRecordVersion1 = 1

// RefreshRecord is the stored state behind one opaque refresh token.
// AbsoluteExpiresAt is fixed at first login and inherited unchanged by
// every rotation; it is the hard lifetime ceiling for the whole chain.
type RefreshRecord struct {
	CustomerID        string
	KeyID             string
	SSOScope          []string
	CreatedAt         int64
	AbsoluteExpiresAt int64
}

// RefreshStore indexes refresh tokens by the SHA-256 of the raw value.
// Tokens are stored in the system scope because a refresh request
// carries no tenant context until the record is read.
type RefreshStore struct {
	redis redis.UniversalClient
}

func NewRefreshStore(redisClient redis.UniversalClient) *RefreshStore {
	return &RefreshStore{redis: redisClient}
}

func refreshKey(tokenHash [32]byte) string {
	return keyspace.Key(keyspace.SystemScope, "refresh_"+hex.EncodeToString(tokenHash[:]))
}

// Save stores the record under the token hash. TTL runs to the
// absolute expiry so abandoned chains clean themselves up.
func (s *RefreshStore) Save(ctx context.Context, tokenHash [32]byte, rec *RefreshRecord) error {
	ttl := time.Until(time.Unix(rec.AbsoluteExpiresAt, 0))
	if ttl <= 0 {
		return errors.New("refresh record already past absolute expiry")
	}

	encoded, err := encodeRefreshRecord(rec)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, refreshKey(tokenHash), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Consume atomically reads and deletes the record (GETDEL), so a
// refresh token is spent the moment it is looked up, success or not.
// Two concurrent refreshes with the same token cannot both observe it.
func (s *RefreshStore) Consume(ctx context.Context, tokenHash [32]byte) (*RefreshRecord, error) {
	data, err := s.redis.GetDel(ctx, refreshKey(tokenHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return decodeRefreshRecord(data)
}

func encodeRefreshRecord(rec *RefreshRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(refreshRecordVersion1)
	if err := binary.Write(&buf, binary.BigEndian, rec.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.AbsoluteExpiresAt); err != nil {
		return nil, err
	}
	if err := writeString(&buf, rec.CustomerID); err != nil {
		return nil, err
	}
	if err := writeString(&buf, rec.KeyID); err != nil {
		return nil, err
	}

	if len(rec.SSOScope) > 255 {
		return nil, errors.New("sso scope too large")
	}
	buf.WriteByte(byte(len(rec.SSOScope)))
	for _, entry := range rec.SSOScope {
		if err := writeString(&buf, entry); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func decodeRefreshRecord(data []byte) (*RefreshRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != refreshRecordVersion1 {
		return nil, errors.New("invalid refresh record version")
	}

	rec := &RefreshRecord{}
	if err := binary.Read(reader, binary.BigEndian, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &rec.AbsoluteExpiresAt); err != nil {
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
	if n > 0 {
		rec.SSOScope = make([]string, 0, n)
		for i := byte(0); i < n; i++ {
			entry, err := readString(reader)
			if err != nil {
				return nil, err
			}
			rec.SSOScope = append(rec.SSOScope, entry)
		}
	}

	return rec, nil
}
