package recordstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/neardns/neardns/pkg/admission"
	"github.com/neardns/neardns/pkg/kvstore"
	"github.com/neardns/neardns/pkg/record"
)

// metered bills a flat perEntry bytes for every live entry.
type metered struct {
	*kvstore.Memory
	perEntry uint64
	n        uint64
}

func newMetered(perEntry uint64) *metered {
	return &metered{Memory: kvstore.NewMemory(), perEntry: perEntry}
}

func (b *metered) Insert(ctx context.Context, ns, key, value string) (bool, error) {
	replaced, err := b.Memory.Insert(ctx, ns, key, value)
	if err == nil && !replaced {
		b.n++
	}
	return replaced, err
}

func (b *metered) Remove(ctx context.Context, ns, key string) (bool, error) {
	removed, err := b.Memory.Remove(ctx, ns, key)
	if removed {
		b.n--
	}
	return removed, err
}

func (b *metered) Usage(context.Context) (uint64, error) {
	return b.n * b.perEntry, nil
}

type lines struct {
	mu sync.Mutex
	l  []string
}

func (l *lines) Audit(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.l = append(l.l, line)
}

func (l *lines) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.l...)
}

func newTestStore(t *testing.T, cost uint64) (*Store, *lines) {
	t.Helper()
	audit := new(lines)
	s, err := New(context.Background(), newMetered(cost), Opts{Audit: audit})
	require.NoError(t, err)
	require.Equal(t, record.Amount(cost), s.Cost())
	return s, audit
}

func TestScenario(t *testing.T) {
	ctx := context.Background()
	s, audit := newTestStore(t, 97)

	action, err := s.Set(ctx, record.A, "carol", 100, "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, record.Created, action)
	v, err := s.Get(ctx, record.A, "carol")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", v)

	action, err = s.Set(ctx, record.A, "carol", 100, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, record.Updated, action)
	v, err = s.Get(ctx, record.A, "carol")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", v)

	_, err = s.Set(ctx, record.TXT, "dave", 50, "hello")
	e, ok := admission.IsInsufficientPayment(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, record.Amount(50), e.Attached)
	assert.Equal(t, record.Amount(97), e.Required)
	v, err = s.Get(ctx, record.TXT, "dave")
	require.NoError(t, err)
	assert.Equal(t, "", v)

	assert.Equal(t, []string{
		"set A record '127.0.0.1' for account 'carol'",
		"update A record '10.0.0.1' for account 'carol'",
	}, audit.all())
}

func TestAdmissionThreshold(t *testing.T) {
	ctx := context.Background()
	s, audit := newTestStore(t, 97)

	_, err := s.Set(ctx, record.AAAA, "erin", 97, "::1")
	require.NoError(t, err)

	_, err = s.Set(ctx, record.AAAA, "erin", 96, "::2")
	require.ErrorIs(t, err, admission.ErrInsufficientPayment)
	v, err := s.Get(ctx, record.AAAA, "erin")
	require.NoError(t, err)
	assert.Equal(t, "::1", v)
	assert.Len(t, audit.all(), 1)

	_, err = s.Set(ctx, record.AAAA, "erin", 1<<40, "::3")
	require.NoError(t, err)
	v, err = s.Get(ctx, record.AAAA, "erin")
	require.NoError(t, err)
	assert.Equal(t, "::3", v)
}

func TestDeniedWriteLeavesBackendUntouched(t *testing.T) {
	ctx := context.Background()
	b := newMetered(97)
	s, err := New(ctx, b, Opts{})
	require.NoError(t, err)
	before, err := b.Usage(ctx)
	require.NoError(t, err)

	for _, k := range record.Kinds() {
		_, err := s.Set(ctx, k, "frank", 0, "x")
		require.ErrorIs(t, err, admission.ErrInsufficientPayment)
	}
	after, err := b.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestReadDefault(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, 97)
	for _, k := range record.Kinds() {
		v, ok, err := s.Lookup(ctx, k, "nobody")
		require.NoError(t, err)
		assert.False(t, ok, k.String())
		assert.Equal(t, "", v, k.String())
	}
}

func TestEmptyValueIsPresent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, 1)
	_, err := s.Set(ctx, record.TXT, "carol", 1, "")
	require.NoError(t, err)

	v, err := s.Get(ctx, record.TXT, "carol")
	require.NoError(t, err)
	assert.Equal(t, "", v)
	_, ok, err := s.Lookup(ctx, record.TXT, "carol")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCrossKindIndependence(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, 97)
	_, err := s.Set(ctx, record.A, "carol", 97, "127.0.0.1")
	require.NoError(t, err)
	for _, k := range []record.Kind{record.AAAA, record.ContentHash, record.TXT} {
		v, err := s.Get(ctx, k, "carol")
		require.NoError(t, err)
		assert.Equal(t, "", v, k.String())
	}
}

func TestOwnerIsolation(t *testing.T) {
	ctx := context.Background()
	s, audit := newTestStore(t, 97)
	_, err := s.Set(ctx, record.A, "x", 97, "anything")
	require.NoError(t, err)
	action, err := s.Set(ctx, record.A, "y", 97, "anything")
	require.NoError(t, err)
	assert.Equal(t, record.Created, action)

	for _, o := range []record.Owner{"x", "y"} {
		v, err := s.Get(ctx, record.A, o)
		require.NoError(t, err)
		assert.Equal(t, "anything", v)
	}
	v, err := s.Get(ctx, record.A, "anything")
	require.NoError(t, err)
	assert.Equal(t, "", v)
	assert.Equal(t, []string{
		"set A record 'anything' for account 'x'",
		"set A record 'anything' for account 'y'",
	}, audit.all())
}

func TestContentHashAuditLabel(t *testing.T) {
	s, audit := newTestStore(t, 97)
	_, err := s.Set(context.Background(), record.ContentHash, "carol", 97, "ipfs_cid")
	require.NoError(t, err)
	assert.Equal(t, []string{"set content_hash record 'ipfs_cid' for account 'carol'"}, audit.all())
}

func TestInvalidKind(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, 97)
	_, err := s.Set(ctx, record.Kind(0), "carol", 100, "x")
	assert.ErrorIs(t, err, ErrInvalidKind)
	_, err = s.Get(ctx, record.Kind(42), "carol")
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestAlreadyInitialized(t *testing.T) {
	ctx := context.Background()
	b := kvstore.NewMemory()
	s, err := New(ctx, b, Opts{})
	require.NoError(t, err)
	assert.Equal(t, record.Amount(1+admission.ProbeKeyLen+admission.ProbeValueLen+kvstore.EntryOverhead), s.Cost())

	_, err = New(ctx, b, Opts{})
	assert.ErrorIs(t, err, ErrAlreadyInitialized)

	// The first store keeps working.
	_, err = s.Set(ctx, record.A, "carol", s.Cost(), "127.0.0.1")
	require.NoError(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	b := newMetered(97)

	_, err := Open(ctx, b, Opts{})
	require.ErrorIs(t, err, ErrNotInitialized)

	s, created, err := OpenOrNew(ctx, b, Opts{})
	require.NoError(t, err)
	assert.True(t, created)
	_, err = s.Set(ctx, record.TXT, "carol", 97, "hi")
	require.NoError(t, err)

	// A different per-entry price must not trigger a new measurement.
	b.perEntry = 500
	s2, created, err := OpenOrNew(ctx, b, Opts{})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, record.Amount(97), s2.Cost())
	v, err := s2.Get(ctx, record.TXT, "carol")
	require.NoError(t, err)
	assert.Equal(t, "hi", v)
}

func TestOpenCorruptedState(t *testing.T) {
	ctx := context.Background()
	b := kvstore.NewMemory()
	_, err := b.Insert(ctx, stateNamespace, costKey, "lots")
	require.NoError(t, err)
	_, err = Open(ctx, b, Opts{})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotInitialized))
}

func TestZapAuditSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s, err := New(context.Background(), kvstore.NewMemory(), Opts{Logger: zap.New(core)})
	require.NoError(t, err)
	_, err = s.Set(context.Background(), record.AAAA, "carol", s.Cost(), "::1")
	require.NoError(t, err)

	entries := logs.FilterLoggerName("audit").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "set AAAA record '::1' for account 'carol'", entries[0].Message)
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	s, err := New(ctx, newMetered(97), Opts{MetricsReg: reg})
	require.NoError(t, err)

	_, err = s.Set(ctx, record.A, "carol", 97, "1")
	require.NoError(t, err)
	_, err = s.Set(ctx, record.A, "carol", 97, "2")
	require.NoError(t, err)
	_, err = s.Set(ctx, record.A, "dave", 1, "3")
	require.Error(t, err)
	_, err = s.Get(ctx, record.A, "carol")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.writes.WithLabelValues("A", "set")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.writes.WithLabelValues("A", "update")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.denied.WithLabelValues("A")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.reads.WithLabelValues("A")))
	assert.Equal(t, 97.0, testutil.ToFloat64(s.metrics.cost))

	// Registering twice on one registry is an error.
	_, err = Open(ctx, s.backend, Opts{MetricsReg: reg})
	assert.Error(t, err)
}

func TestConcurrentWritesAndReads(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, kvstore.NewMemory(), Opts{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, err := s.Set(ctx, record.TXT, "carol", s.Cost(), "v")
				assert.NoError(t, err)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				v, err := s.Get(ctx, record.TXT, "carol")
				assert.NoError(t, err)
				assert.Contains(t, []string{"", "v"}, v)
			}
		}()
	}
	wg.Wait()
}

func TestBackendErrorAbortsWrite(t *testing.T) {
	ctx := context.Background()
	b := kvstore.NewMemory()
	audit := new(lines)
	s, err := New(ctx, b, Opts{Audit: audit})
	require.NoError(t, err)
	require.NoError(t, b.Close())

	_, err = s.Set(ctx, record.A, "carol", s.Cost(), "x")
	assert.ErrorIs(t, err, kvstore.ErrClosed)
	assert.Empty(t, audit.all())
}
