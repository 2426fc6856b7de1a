package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/neardns/neardns/pkg/kvstore"
	"github.com/neardns/neardns/pkg/record"
)

func TestMeasureMemory(t *testing.T) {
	ctx := context.Background()
	b := kvstore.NewMemory()
	_, err := b.Insert(ctx, "a", "carol", "127.0.0.1")
	require.NoError(t, err)
	before, err := b.Usage(ctx)
	require.NoError(t, err)

	cost, err := Measure(ctx, b, "a")
	require.NoError(t, err)
	assert.Equal(t, record.Amount(1+ProbeKeyLen+ProbeValueLen+kvstore.EntryOverhead), cost)

	after, err := b.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	v, ok, err := b.Get(ctx, "a", "carol")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "127.0.0.1", v)
}

func TestMeasureTracksOverhead(t *testing.T) {
	ctx := context.Background()
	small, err := Measure(ctx, kvstore.NewMemory(kvstore.WithEntryOverhead(0)), "a")
	require.NoError(t, err)
	large, err := Measure(ctx, kvstore.NewMemory(kvstore.WithEntryOverhead(100)), "a")
	require.NoError(t, err)
	assert.Equal(t, record.Amount(100), large-small)
}

func TestMeasureRejectsOccupiedProbeKey(t *testing.T) {
	ctx := context.Background()
	b := kvstore.NewMemory()
	_, err := b.Insert(ctx, "a", strings.Repeat("a", ProbeKeyLen), "x")
	require.NoError(t, err)
	_, err = Measure(ctx, b, "a")
	assert.Error(t, err)
}

func TestCostUniformAcrossKinds(t *testing.T) {
	ctx := context.Background()
	sqlite, err := kvstore.OpenSQL("sqlite", ":memory:", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	for name, b := range map[string]kvstore.Backend{
		"memory": kvstore.NewMemory(),
		"sqlite": sqlite,
	} {
		t.Run(name, func(t *testing.T) {
			costs := make(map[record.Kind]record.Amount)
			for _, k := range record.Kinds() {
				cost, err := Measure(ctx, b, k.Namespace())
				require.NoError(t, err)
				costs[k] = cost
			}
			require.Len(t, costs, 4)
			for k, cost := range costs {
				assert.Equal(t, costs[record.A], cost, k.String())
			}
		})
	}
}

// flat bills nothing, which must not produce a zero cost.
type flat struct{ *kvstore.Memory }

func (flat) Usage(context.Context) (uint64, error) { return 10, nil }

func TestMeasureRejectsNoGrowth(t *testing.T) {
	_, err := Measure(context.Background(), flat{kvstore.NewMemory()}, "a")
	assert.Error(t, err)
}

func TestGateCheck(t *testing.T) {
	g := NewGate(97)
	assert.Equal(t, record.Amount(97), g.Cost())
	assert.NoError(t, g.Check(97))
	assert.NoError(t, g.Check(1000))

	err := g.Check(96)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientPayment))
	assert.Equal(t, "attached deposit '96' < cost_of_insertion '97'", err.Error())

	wrapped := fmt.Errorf("set_txt: %w", g.Check(50))
	e, ok := IsInsufficientPayment(wrapped)
	require.True(t, ok)
	assert.Equal(t, record.Amount(50), e.Attached)
	assert.Equal(t, record.Amount(97), e.Required)

	_, ok = IsInsufficientPayment(errors.New("other"))
	assert.False(t, ok)
}
