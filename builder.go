package otpcore

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/otpcore/apikey"
	"github.com/MrEthical07/otpcore/datarequest"
	internalaudit "github.com/MrEthical07/otpcore/internal/audit"
	"github.com/MrEthical07/otpcore/jwt"
	"github.com/MrEthical07/otpcore/otp"
	"github.com/MrEthical07/otpcore/rate"
	"github.com/MrEthical07/otpcore/session"
)

// Builder assembles an Engine. Configure it once, call Build once, and
// treat the resulting Engine as immutable.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	directory CustomerDirectory
	notifier  Notifier
	auditSink AuditSink

	built bool
}

// New returns a Builder carrying the default configuration.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the builder's configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing every store.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithDirectory sets the customer directory collaborator.
func (b *Builder) WithDirectory(directory CustomerDirectory) *Builder {
	b.directory = directory
	return b
}

// WithNotifier sets the OTP delivery collaborator.
func (b *Builder) WithNotifier(notifier Notifier) *Builder {
	b.notifier = notifier
	return b
}

// WithAuditSink sets the destination for audit events.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires up the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.directory == nil {
		return nil, errors.New("customer directory required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:       cfg,
		directory:    b.directory,
		notifier:     b.notifier,
		jwtManager:   jm,
		otpStore:     otp.NewStore(b.redis),
		sessionStore: session.NewStore(b.redis),
		refreshStore: session.NewRefreshStore(b.redis),
		blacklist:    session.NewBlacklist(b.redis),
		apiKeyStore:  apikey.NewStore(b.redis),
		requestStore: datarequest.NewStore(b.redis, cfg.DataRequest.Retention),
	}

	engine.limiter = rate.New(b.redis, rate.Config{
		Window:         cfg.RateLimit.Window,
		StatsRetention: cfg.RateLimit.StatsRetention,
		MaxSamples:     cfg.RateLimit.MaxSamples,
	})
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true

	return engine, nil
}
