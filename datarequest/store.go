// Package datarequest persists the consent workflow through which a
// privileged requester obtains the decryption key for a data owner's
// double-encrypted field. The requester/owner pair is the one
// intentionally cross-tenant relationship in the system, so records
// live in the system scope under unguessable IDs while the owner-side
// index stays inside the owner's tenant.
package datarequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/otpcore/keyspace"
)

// Request status values. Expiry is evaluated lazily on read; there is
// no background sweep.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusExpired  = "expired"
)

var (
	// ErrNotFound is returned for unknown or fully lapsed requests.
	ErrNotFound = errors.New("data request not found")
	// ErrRedisUnavailable wraps transport failures. Callers fail closed.
	ErrRedisUnavailable = errors.New("datarequest redis unavailable")
)

// Request is one consent request. EncryptedRequestKey is the only form
// in which the request key is ever persisted.
type Request struct {
	RequestID           string `json:"request_id"`
	RequesterID         string `json:"requester_id"`
	RequesterEmail      string `json:"requester_email"`
	TargetUserID        string `json:"target_user_id"`
	TargetCustomerID    string `json:"target_customer_id"`
	DataType            string `json:"data_type"`
	Reason              string `json:"reason"`
	Status              string `json:"status"`
	EncryptedRequestKey []byte `json:"encrypted_request_key,omitempty"`
	CreatedAt           int64  `json:"created_at"`
	ExpiresAt           int64  `json:"expires_at"`
}

// Store reads and writes requests plus the owner- and requester-side
// indexes that let each party list what concerns them.
type Store struct {
	redis     redis.UniversalClient
	retention time.Duration
}

// NewStore creates a request store. retention bounds how long records
// stay readable after their consent window lapses, so an expired
// request can still be listed with its terminal status.
func NewStore(redisClient redis.UniversalClient, retention time.Duration) *Store {
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	return &Store{redis: redisClient, retention: retention}
}

func requestKey(requestID string) string {
	return keyspace.Key(keyspace.SystemScope, "datareq_"+requestID)
}

func ownerIndexKey(targetCustomerID, targetUserID string) string {
	return keyspace.Key(targetCustomerID, "datareq_owner_"+keyspace.Hash(targetUserID))
}

func requesterIndexKey(requesterID string) string {
	return keyspace.Key(keyspace.SystemScope, "datareq_requester_"+keyspace.Hash(requesterID))
}

// Create persists a new pending request and registers it on both
// indexes.
func (s *Store) Create(ctx context.Context, req *Request) error {
	if err := s.save(ctx, req); err != nil {
		return err
	}

	pipe := s.redis.Pipeline()
	pipe.SAdd(ctx, ownerIndexKey(req.TargetCustomerID, req.TargetUserID), req.RequestID)
	pipe.Expire(ctx, ownerIndexKey(req.TargetCustomerID, req.TargetUserID), s.retention)
	pipe.SAdd(ctx, requesterIndexKey(req.RequesterID), req.RequestID)
	pipe.Expire(ctx, requesterIndexKey(req.RequesterID), s.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get loads a request, lazily downgrading a pending record past its
// consent window to expired.
func (s *Store) Get(ctx context.Context, requestID string) (*Request, error) {
	data, err := s.redis.Get(ctx, requestKey(requestID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	req := &Request{}
	if err := json.Unmarshal(data, req); err != nil {
		return nil, fmt.Errorf("corrupt data request record: %v", err)
	}

	if req.Status == StatusPending && time.Now().Unix() > req.ExpiresAt {
		req.Status = StatusExpired
		// Persisting the downgrade is best effort; the read already
		// reports the terminal state either way.
		_ = s.save(ctx, req)
	}

	return req, nil
}

// Update rewrites the record after a state transition.
func (s *Store) Update(ctx context.Context, req *Request) error {
	return s.save(ctx, req)
}

// ListByOwner returns every request targeting the owner.
func (s *Store) ListByOwner(ctx context.Context, targetCustomerID, targetUserID string) ([]*Request, error) {
	return s.list(ctx, ownerIndexKey(targetCustomerID, targetUserID))
}

// ListByRequester returns every request created by the requester.
func (s *Store) ListByRequester(ctx context.Context, requesterID string) ([]*Request, error) {
	return s.list(ctx, requesterIndexKey(requesterID))
}

func (s *Store) list(ctx context.Context, indexKey string) ([]*Request, error) {
	ids, err := s.redis.SMembers(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	requests := make([]*Request, 0, len(ids))
	for _, id := range ids {
		req, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, nil
}

func (s *Store) save(ctx context.Context, req *Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, requestKey(req.RequestID), data, s.retention).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
