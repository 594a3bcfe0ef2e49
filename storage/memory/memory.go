package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/uma-oauth/instrumentation"
	"github.com/giantswarm/uma-oauth/security"
	"github.com/giantswarm/uma-oauth/storage"
)

const (
	// tokenIDLogLength is the number of characters of a token value that may be logged
	tokenIDLogLength = 8

	defaultCleanupInterval = time.Minute
)

// consumedToken remembers a redeemed refresh token so a second redemption
// can be told apart from an unknown value.
type consumedToken struct {
	token     *storage.Token
	expiresAt time.Time
}

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	clients  map[string]*storage.Client
	owners   map[string]*storage.ResourceOwner
	tokens   map[string]*storage.Token
	consumed map[string]consumedToken
	codes    map[string]*storage.AuthorizationCode
	tickets  map[string]*storage.Ticket
	consents map[string]*storage.Consent
	replay   map[string]time.Time

	resourceSets map[string]*storage.ResourceSet
	policies     map[string]*storage.Policy

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// lock-free sizes for the storage gauges
	tokensCount  atomic.Int64
	clientsCount atomic.Int64
	codesCount   atomic.Int64
	ticketsCount atomic.Int64

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

var (
	_ storage.ClientStore        = (*Store)(nil)
	_ storage.ResourceOwnerStore = (*Store)(nil)
	_ storage.TokenStore         = (*Store)(nil)
	_ storage.FlowStore          = (*Store)(nil)
	_ storage.TicketStore        = (*Store)(nil)
	_ storage.ConsentStore       = (*Store)(nil)
	_ storage.ResourceSetStore   = (*Store)(nil)
	_ storage.PolicyStore        = (*Store)(nil)
	_ storage.ReplayCache        = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(defaultCleanupInterval)
}

// NewWithInterval creates a new in-memory store with a custom cleanup interval.
// Non-positive intervals use the default.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		owners:          make(map[string]*storage.ResourceOwner),
		tokens:          make(map[string]*storage.Token),
		consumed:        make(map[string]consumedToken),
		codes:           make(map[string]*storage.AuthorizationCode),
		tickets:         make(map[string]*storage.Ticket),
		consents:        make(map[string]*storage.Consent),
		replay:          make(map[string]time.Time),
		resourceSets:    make(map[string]*storage.ResourceSet),
		policies:        make(map[string]*storage.Policy),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation enables tracing, operation metrics and size gauges
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.refreshCountsLocked()
	s.mu.Unlock()

	if inst == nil {
		return
	}
	err := inst.RegisterStorageSizeCallbacks(instrumentation.StorageSizes{
		Tokens:  s.tokensCount.Load,
		Clients: s.clientsCount.Load,
		Codes:   s.codesCount.Load,
		Tickets: s.ticketsCount.Load,
	})
	if err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

// Stats is a snapshot of the number of stored items
type Stats struct {
	Tokens  int
	Clients int
	Codes   int
	Tickets int
}

// Stats returns the current item counts
func (s *Store) Stats() Stats {
	return Stats{
		Tokens:  int(s.tokensCount.Load()),
		Clients: int(s.clientsCount.Load()),
		Codes:   int(s.codesCount.Load()),
		Tickets: int(s.ticketsCount.Load()),
	}
}

// Stop gracefully stops the cleanup goroutine. It is safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// refreshCountsLocked publishes map sizes to the gauges. Caller holds mu.
func (s *Store) refreshCountsLocked() {
	s.tokensCount.Store(int64(len(s.tokens)))
	s.clientsCount.Store(int64(len(s.clients)))
	s.codesCount.Store(int64(len(s.codes)))
	s.ticketsCount.Store(int64(len(s.tickets)))
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cleaned := 0

	for value, tok := range s.tokens {
		if security.IsTokenExpired(tok.ExpiresAt()) {
			delete(s.tokens, value)
			cleaned++
		}
	}
	for value, c := range s.consumed {
		if now.After(c.expiresAt) {
			delete(s.consumed, value)
			cleaned++
		}
	}
	for code, ac := range s.codes {
		if security.IsTokenExpired(ac.ExpiresAt) {
			delete(s.codes, code)
			cleaned++
		}
	}
	for id, t := range s.tickets {
		if security.IsTokenExpired(t.ExpiresAt) {
			delete(s.tickets, id)
			cleaned++
		}
	}
	for id, exp := range s.replay {
		if now.After(exp) {
			delete(s.replay, id)
			cleaned++
		}
	}

	s.refreshCountsLocked()

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, "memory"),
		))
}

// recordStorageOperation records metrics for a storage operation and sets span status.
// Not-found style sentinels count as a result, not as an error.
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	result := "success"
	if err != nil {
		result = "error"
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, float64(time.Since(startTime).Microseconds())/1000)
}

// observe wraps a storage operation with a span and a metric.
func (s *Store) observe(ctx context.Context, operation string, fn func(context.Context) error) error {
	ctx, span := s.startStorageSpan(ctx, operation)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	s.recordStorageOperation(ctx, span, operation, err, start)
	return err
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{storage.ErrInvalidInput}, args...)...)
}
