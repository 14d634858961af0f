package otpcore

import (
	"context"
	"time"

	"github.com/MrEthical07/otpcore/apikey"
	"github.com/MrEthical07/otpcore/datarequest"
	internalaudit "github.com/MrEthical07/otpcore/internal/audit"
	"github.com/MrEthical07/otpcore/jwt"
	"github.com/MrEthical07/otpcore/otp"
	"github.com/MrEthical07/otpcore/rate"
	"github.com/MrEthical07/otpcore/session"
)

// superAdminRemaining is the remaining count reported for exempt
// identities; they are never counted against a window.
const superAdminRemaining = 999999

// Engine is the authentication and session core. All methods are safe
// for concurrent use after Build.
type Engine struct {
	config       Config
	directory    CustomerDirectory
	notifier     Notifier
	jwtManager   *jwt.Manager
	otpStore     *otp.Store
	sessionStore *session.Store
	refreshStore *session.RefreshStore
	blacklist    *session.Blacklist
	apiKeyStore  *apikey.Store
	requestStore *datarequest.Store
	limiter      *rate.Limiter
	audit        *internalaudit.Dispatcher
	metrics      *Metrics
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded because
// the dispatch buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of all counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// planLimits resolves the admission ceilings for a plan, falling back
// to the free tier for unknown or empty plans.
func (e *Engine) planLimits(plan Plan) PlanLimits {
	if limits, ok := e.config.RateLimit.PlanLimits[plan]; ok {
		return limits
	}
	return e.config.RateLimit.PlanLimits[PlanFree]
}

// customerUsable loads a customer and rejects inactive tenants.
func (e *Engine) customerUsable(ctx context.Context, customerID string) (*Customer, error) {
	cust, err := e.directory.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, ErrProvisioningFailed
	}
	if cust == nil {
		return nil, ErrProvisioningFailed
	}
	if cust.Status != CustomerActive {
		return nil, ErrCustomerInactive
	}
	return cust, nil
}

func nowUnix() int64 {
	return time.Now().Unix()
}
