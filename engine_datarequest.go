package otpcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/otpcore/datarequest"
	"github.com/MrEthical07/otpcore/internal"
)

// DataRequestInput describes a new consent request.
type DataRequestInput struct {
	RequesterID      string
	RequesterEmail   string
	TargetUserID     string
	TargetCustomerID string
	DataType         string
	Reason           string
}

// CreateDataRequest opens a pending consent request against the data
// owner. The request expires after the configured consent window
// unless the owner decides it first.
func (e *Engine) CreateDataRequest(ctx context.Context, input DataRequestInput) (*datarequest.Request, error) {
	if strings.TrimSpace(input.RequesterID) == "" ||
		strings.TrimSpace(input.TargetUserID) == "" ||
		strings.TrimSpace(input.TargetCustomerID) == "" ||
		strings.TrimSpace(input.DataType) == "" {
		return nil, ErrValidation
	}

	now := time.Now()
	req := &datarequest.Request{
		RequestID:        uuid.NewString(),
		RequesterID:      input.RequesterID,
		RequesterEmail:   input.RequesterEmail,
		TargetUserID:     input.TargetUserID,
		TargetCustomerID: input.TargetCustomerID,
		DataType:         input.DataType,
		Reason:           input.Reason,
		Status:           datarequest.StatusPending,
		CreatedAt:        now.Unix(),
		ExpiresAt:        now.Add(e.config.DataRequest.TTL).Unix(),
	}

	if err := e.requestStore.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	e.metricInc(MetricDataRequestCreated)
	e.emitAudit(ctx, auditEventDataRequestCreated, true, input.TargetCustomerID, "", nil, func() map[string]string {
		return map[string]string{
			"request_id": req.RequestID,
			"data_type":  input.DataType,
		}
	})

	return req, nil
}

// ApproveDataRequest records the owner's consent. A fresh request key
// is minted, sealed under the requester's token, and only the
// ciphertext is stored; the plaintext key does not outlive this call.
func (e *Engine) ApproveDataRequest(ctx context.Context, requestID, ownerUserID, requesterToken string) (*datarequest.Request, error) {
	if requesterToken == "" {
		return nil, ErrValidation
	}

	req, err := e.loadOwnedRequest(ctx, requestID, ownerUserID)
	if err != nil {
		return nil, err
	}
	if req.Status != datarequest.StatusPending {
		return nil, ErrRequestNotPending
	}

	key, err := internal.NewRequestKey()
	if err != nil {
		return nil, err
	}
	sealed, err := datarequest.Seal(requesterToken, req.RequestID, key)
	if err != nil {
		return nil, err
	}

	req.Status = datarequest.StatusApproved
	req.EncryptedRequestKey = sealed
	if err := e.requestStore.Update(ctx, req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	e.metricInc(MetricDataRequestApproved)
	e.emitAudit(ctx, auditEventDataRequestApproved, true, req.TargetCustomerID, "", nil, func() map[string]string {
		return map[string]string{
			"request_id": req.RequestID,
		}
	})

	return req, nil
}

// RejectDataRequest marks the request rejected. Rejecting an already
// rejected request is a no-op; any other terminal state is an error.
func (e *Engine) RejectDataRequest(ctx context.Context, requestID, ownerUserID string) (*datarequest.Request, error) {
	req, err := e.loadOwnedRequest(ctx, requestID, ownerUserID)
	if err != nil {
		return nil, err
	}
	if req.Status == datarequest.StatusRejected {
		return req, nil
	}
	if req.Status != datarequest.StatusPending {
		return nil, ErrRequestNotPending
	}

	req.Status = datarequest.StatusRejected
	if err := e.requestStore.Update(ctx, req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	e.metricInc(MetricDataRequestRejected)
	e.emitAudit(ctx, auditEventDataRequestRejected, true, req.TargetCustomerID, "", nil, func() map[string]string {
		return map[string]string{
			"request_id": req.RequestID,
		}
	})

	return req, nil
}

// ResolveRequestKey recovers the plaintext request key for an approved
// request. Only the exact requester token sealed at approval time can
// open it; that binding is the consent guarantee.
func (e *Engine) ResolveRequestKey(ctx context.Context, requestID, requesterID, requesterToken string) ([]byte, error) {
	req, err := e.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != requesterID {
		e.emitAudit(ctx, auditEventDataRequestKeyResolved, false, req.TargetCustomerID, "", ErrForbidden, nil)
		return nil, ErrForbidden
	}
	if req.Status != datarequest.StatusApproved {
		return nil, ErrForbidden
	}

	key, err := datarequest.Open(requesterToken, req.RequestID, req.EncryptedRequestKey)
	if err != nil {
		e.emitAudit(ctx, auditEventDataRequestKeyResolved, false, req.TargetCustomerID, "", ErrForbidden, func() map[string]string {
			return map[string]string{
				"request_id": req.RequestID,
				"reason":     "token_mismatch",
			}
		})
		return nil, ErrForbidden
	}

	e.metricInc(MetricDataRequestKeyResolved)
	e.emitAudit(ctx, auditEventDataRequestKeyResolved, true, req.TargetCustomerID, "", nil, func() map[string]string {
		return map[string]string{
			"request_id": req.RequestID,
		}
	})

	return key, nil
}

// ListDataRequestsForOwner returns the requests targeting the owner.
func (e *Engine) ListDataRequestsForOwner(ctx context.Context, targetCustomerID, targetUserID string) ([]*datarequest.Request, error) {
	reqs, err := e.requestStore.ListByOwner(ctx, targetCustomerID, targetUserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return reqs, nil
}

// ListDataRequestsByRequester returns the requests the requester
// opened, across tenants.
func (e *Engine) ListDataRequestsByRequester(ctx context.Context, requesterID string) ([]*datarequest.Request, error) {
	reqs, err := e.requestStore.ListByRequester(ctx, requesterID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return reqs, nil
}

func (e *Engine) getRequest(ctx context.Context, requestID string) (*datarequest.Request, error) {
	req, err := e.requestStore.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, datarequest.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return req, nil
}

// loadOwnedRequest loads a request and enforces that the acting
// identity is exactly its target owner.
func (e *Engine) loadOwnedRequest(ctx context.Context, requestID, ownerUserID string) (*datarequest.Request, error) {
	req, err := e.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if ownerUserID == "" || req.TargetUserID != ownerUserID {
		return nil, ErrForbidden
	}
	return req, nil
}
