// Package recordstore keeps the four owner-keyed record maps and the
// admission gate that guards writes to them.
//
// A Store is created once per backend with New, which measures the cost of
// one insertion and persists it. Later processes attach to the same backend
// with Open and reuse the persisted cost.
package recordstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/neardns/neardns/pkg/admission"
	"github.com/neardns/neardns/pkg/kvstore"
	"github.com/neardns/neardns/pkg/mlog"
	"github.com/neardns/neardns/pkg/record"
)

const (
	stateNamespace = "s"
	costKey        = "cost_of_insertion"
)

var (
	ErrAlreadyInitialized = errors.New("store already initialized")
	ErrNotInitialized     = errors.New("store not initialized")
	ErrInvalidKind        = errors.New("invalid record kind")
)

type Opts struct {
	Logger *zap.Logger
	// Audit receives write audit lines. Defaults to Logger named "audit".
	Audit AuditSink
	// MetricsReg is optional.
	MetricsReg prometheus.Registerer
}

// Store is safe for concurrent use. Writes are serialized and never
// observed half done by reads going through the same Store.
type Store struct {
	backend kvstore.Backend
	gate    *admission.Gate
	logger  *zap.Logger
	audit   AuditSink
	metrics *metrics

	mu sync.RWMutex
}

// New initializes a fresh backend: it measures cost_of_insertion with a
// probe in the A namespace and persists it.
func New(ctx context.Context, backend kvstore.Backend, opts Opts) (*Store, error) {
	_, initialized, err := backend.Get(ctx, stateNamespace, costKey)
	if err != nil {
		return nil, fmt.Errorf("read store state: %w", err)
	}
	if initialized {
		return nil, ErrAlreadyInitialized
	}

	cost, err := admission.Measure(ctx, backend, record.A.Namespace())
	if err != nil {
		return nil, fmt.Errorf("measure cost of insertion: %w", err)
	}
	if _, err := backend.Insert(ctx, stateNamespace, costKey, strconv.FormatUint(uint64(cost), 10)); err != nil {
		return nil, fmt.Errorf("persist store state: %w", err)
	}
	s, err := newStore(backend, cost, opts)
	if err != nil {
		return nil, err
	}
	s.logger.Info("store initialized", zap.Uint64("cost_of_insertion", uint64(cost)))
	return s, nil
}

// Open attaches to a backend initialized by New.
func Open(ctx context.Context, backend kvstore.Backend, opts Opts) (*Store, error) {
	v, ok, err := backend.Get(ctx, stateNamespace, costKey)
	if err != nil {
		return nil, fmt.Errorf("read store state: %w", err)
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	cost, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupted store state %q: %w", v, err)
	}
	return newStore(backend, record.Amount(cost), opts)
}

// OpenOrNew opens backend, initializing it first if needed.
// created reports whether New ran.
func OpenOrNew(ctx context.Context, backend kvstore.Backend, opts Opts) (s *Store, created bool, err error) {
	s, err = Open(ctx, backend, opts)
	if errors.Is(err, ErrNotInitialized) {
		s, err = New(ctx, backend, opts)
		return s, err == nil, err
	}
	return s, false, err
}

func newStore(backend kvstore.Backend, cost record.Amount, opts Opts) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = mlog.Nop()
	}
	audit := opts.Audit
	if audit == nil {
		audit = NewZapSink(logger.Named("audit"))
	}
	m := newMetrics()
	if opts.MetricsReg != nil {
		if err := m.register(opts.MetricsReg); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	m.cost.Set(float64(cost))
	return &Store{
		backend: backend,
		gate:    admission.NewGate(cost),
		logger:  logger,
		audit:   audit,
		metrics: m,
	}, nil
}

// Cost returns the measured cost_of_insertion.
func (s *Store) Cost() record.Amount {
	return s.gate.Cost()
}

// Get returns the record of owner, or "" if none was ever written.
func (s *Store) Get(ctx context.Context, kind record.Kind, owner record.Owner) (string, error) {
	v, _, err := s.Lookup(ctx, kind, owner)
	return v, err
}

// Lookup is Get with a presence flag, so an empty record can be told apart
// from a missing one.
func (s *Store) Lookup(ctx context.Context, kind record.Kind, owner record.Owner) (string, bool, error) {
	if !kind.Valid() {
		return "", false, ErrInvalidKind
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.metrics.reads.WithLabelValues(kind.String()).Inc()
	v, ok, err := s.backend.Get(ctx, kind.Namespace(), string(owner))
	if err != nil {
		return "", false, fmt.Errorf("get %s record: %w", kind, err)
	}
	return v, ok, nil
}

// upsert stores value for owner without consulting the gate.
func (s *Store) upsert(ctx context.Context, kind record.Kind, owner record.Owner, value string) (record.Action, error) {
	if !kind.Valid() {
		return 0, ErrInvalidKind
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced, err := s.backend.Insert(ctx, kind.Namespace(), string(owner), value)
	if err != nil {
		return 0, fmt.Errorf("upsert %s record: %w", kind, err)
	}
	action := record.Created
	if replaced {
		action = record.Updated
	}
	s.metrics.writes.WithLabelValues(kind.String(), action.Verb()).Inc()
	s.audit.Audit(FormatAudit(action, kind, value, owner))
	return action, nil
}

// Set admits the write against attached and then upserts it. A refused
// write returns an *admission.InsufficientPaymentError and changes nothing.
func (s *Store) Set(ctx context.Context, kind record.Kind, owner record.Owner, attached record.Amount, value string) (record.Action, error) {
	if !kind.Valid() {
		return 0, ErrInvalidKind
	}
	if err := s.gate.Check(attached); err != nil {
		s.metrics.denied.WithLabelValues(kind.String()).Inc()
		s.logger.Debug("write denied",
			zap.Stringer("kind", kind),
			zap.String("account", string(owner)),
			zap.Uint64("attached", uint64(attached)),
			zap.Uint64("required", uint64(s.gate.Cost())),
		)
		return 0, err
	}
	return s.upsert(ctx, kind, owner, value)
}

// Close closes the backend.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Close()
}
