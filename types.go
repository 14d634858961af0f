package otpcore

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/MrEthical07/otpcore/internal/audit"
)

// Plan is the tenant's billing tier. It only matters to the core as a
// quota ceiling; everything else about plans belongs to the directory.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanStarter    Plan = "starter"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// CustomerStatus is the lifecycle state of a tenant account.
type CustomerStatus string

const (
	CustomerActive    CustomerStatus = "active"
	CustomerSuspended CustomerStatus = "suspended"
	CustomerCancelled CustomerStatus = "cancelled"
	CustomerPending   CustomerStatus = "pending"
)

// Customer is the slice of the tenant record the core reads. The
// directory owns the rest.
type Customer struct {
	CustomerID  string
	Email       string
	DisplayName string
	Plan        Plan
	Status      CustomerStatus
}

// CustomerDirectory is implemented by the embedding application. It is
// the only path from an email address to a tenant identity;
// EnsureCustomer must create the record when none exists, and a
// provisioning failure fails the whole authentication.
type CustomerDirectory interface {
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)
	EnsureCustomer(ctx context.Context, email string) (*Customer, error)
	IsSuperAdmin(ctx context.Context, email string) (bool, error)
}

// Notifier delivers the one-time code. Rendering and transport are out
// of scope here; a nil notifier means the caller handles delivery out
// of band.
type Notifier interface {
	SendOTP(ctx context.Context, email, code string) error
}

// OTPRequestResult reports the admission outcome of an issued code.
type OTPRequestResult struct {
	Remaining int
	ResetAt   time.Time
}

// TokenPair is a freshly minted credential set. RefreshExpiresAt is the
// absolute ceiling of the rotation chain, fixed at first login.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	CSRF             string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	CustomerID       string
}

// Identity is derived exclusively from verified access-token claims.
// It never carries PII looked up from a secondary store.
type Identity struct {
	CustomerID   string
	TokenID      string
	Scope        string
	CSRF         string
	SSOScope     []string
	IsSuperAdmin bool
	DisplayName  string
	ExpiresAt    time.Time
}

// AuthKind tags the variant of an AuthContext.
type AuthKind uint8

const (
	// AuthAnonymous means the request carried no usable credential.
	AuthAnonymous AuthKind = iota
	// AuthAPIKey means a valid API key authenticated the request.
	AuthAPIKey
	// AuthJWT means a signed access token authenticated the request.
	AuthJWT
)

// AuthContext is the single resolution of the credential fallback
// chain: API key first, then signed token, then anonymous. Downstream
// code switches on Kind instead of re-probing headers.
type AuthContext struct {
	Kind       AuthKind
	CustomerID string

	// KeyID and SSOScope are set for AuthAPIKey.
	KeyID    string
	SSOScope []string

	// Identity is set for AuthJWT.
	Identity *Identity
}

// AuditEvent is the structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the engine's dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink discards all audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based AuditSink.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes JSON-encoded events to an io.Writer, one per
// line.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a ChannelSink with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a JSONWriterSink that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
