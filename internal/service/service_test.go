package service

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemawatch/internal/config"
	"schemawatch/internal/contracts"
	"schemawatch/internal/metrics"
	"schemawatch/internal/schema"
	"schemawatch/internal/stream"
)

const daiAddress = "0x6B175474E89094C44Da98b954EedeAC495271d0F"

// mockExecutor records submitted calls and lets tests push result events
type mockExecutor struct {
	mu        sync.Mutex
	calls     []schema.CallDescriptor
	observers []func(stream.Event)
}

func (m *mockExecutor) Subscribe(fn func(stream.Event)) stream.Subscription {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
	return stream.NewSubscription(nil)
}

func (m *mockExecutor) SubmitCalls(descs []schema.CallDescriptor) {
	m.mu.Lock()
	m.calls = append(m.calls, descs...)
	m.mu.Unlock()
}

func (m *mockExecutor) push(eventType string, value any) {
	m.mu.Lock()
	observers := append([]func(stream.Event){}, m.observers...)
	m.mu.Unlock()
	for _, fn := range observers {
		fn(stream.Event{Type: eventType, Value: value})
	}
}

func (m *mockExecutor) submitted() []schema.CallDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]schema.CallDescriptor{}, m.calls...)
}

func newTestService(t *testing.T) (*Service, *mockExecutor) {
	t.Helper()
	book, err := contracts.New(map[string]string{"DAI": daiAddress}, "DAI")
	require.NoError(t, err)

	svc := New(book, Options{
		ScriptTimeout: time.Second,
		Metrics:       metrics.New(),
		Logger:        zerolog.Nop(),
	})
	exec := &mockExecutor{}
	require.NoError(t, svc.Connect(exec))
	return svc, exec
}

func balanceSchema(observe ...string) schema.LogicalSchema {
	return schema.LogicalSchema{
		ContractName:   "DAI",
		ContractCall:   "balanceOf(address)(uint256)",
		CallArgs:       []schema.CallArg{{Value: "0xab"}},
		ReturnKeys:     []schema.ReturnKey{{Key: "balance"}},
		ObservableKeys: [][]string{observe},
	}
}

func doubled(deps ...[]string) schema.DerivedSchema {
	return schema.DerivedSchema{
		ObservableKeys: []string{"dai", "double"},
		Dependencies:   deps,
		Fn: schema.Combine(func(values []any) (any, error) {
			return values[0].(int) * 2, nil
		}, zerolog.Nop()),
	}
}

func TestService_RegisterBeforeConnect(t *testing.T) {
	svc := New(nil, Options{Logger: zerolog.Nop()})

	reg, err := svc.RegisterLogicalSchema([]schema.LogicalSchema{balanceSchema("dai", "balance")})
	assert.ErrorIs(t, err, schema.ErrUnconfiguredExecutor)
	assert.Equal(t, 0, reg.Len())

	assert.ErrorIs(t, svc.Connect(nil), schema.ErrUnconfiguredExecutor)
}

func TestService_LogicalValueIsObservable(t *testing.T) {
	svc, exec := newTestService(t)

	reg, err := svc.RegisterLogicalSchema([]schema.LogicalSchema{balanceSchema("dai", "balance")})
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())
	assert.Same(t, reg, svc.Snapshot())

	require.Len(t, exec.submitted(), 1)

	_, ok := svc.Latest("dai.balance")
	assert.False(t, ok, "no value before the first result")

	exec.push("DAI.balanceOf.0xab.balance", 10)
	exec.push("DAI.balanceOf.0xab.balance", 11)

	v, ok := svc.Latest("dai.balance")
	require.True(t, ok)
	assert.Equal(t, 11, v)

	_, ok = svc.Lookup("dai")
	assert.False(t, ok, "internal node is not a stream")
	_, ok = svc.Latest("missing.path")
	assert.False(t, ok)
}

func TestService_SnapshotsAreNotMutated(t *testing.T) {
	svc, _ := newTestService(t)

	first, err := svc.RegisterLogicalSchema([]schema.LogicalSchema{balanceSchema("a")})
	require.NoError(t, err)
	second, err := svc.RegisterLogicalSchema([]schema.LogicalSchema{balanceSchema("b")})
	require.NoError(t, err)

	assert.Equal(t, 1, first.Len())
	assert.Equal(t, 2, second.Len())
	assert.True(t, second.Has([]string{"a"}))
}

func TestService_DerivedPendingUntilRetried(t *testing.T) {
	svc, exec := newTestService(t)

	svc.RegisterDerivedSchema([]schema.DerivedSchema{doubled([]string{"dai", "balance"})})
	assert.Equal(t, []string{"dai.double"}, svc.Pending())
	_, ok := svc.Lookup("dai.double")
	assert.False(t, ok)

	_, err := svc.RegisterLogicalSchema([]schema.LogicalSchema{balanceSchema("dai", "balance")})
	require.NoError(t, err)
	assert.Equal(t, []string{"dai.double"}, svc.Pending(), "nothing retries automatically")

	svc.RetryPending()
	assert.Empty(t, svc.Pending())

	exec.push("DAI.balanceOf.0xab.balance", 21)
	v, ok := svc.Latest("dai.double")
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestService_RetryPendingResolvesReversedChain(t *testing.T) {
	svc, exec := newTestService(t)

	_, err := svc.RegisterLogicalSchema([]schema.LogicalSchema{balanceSchema("dai", "balance")})
	require.NoError(t, err)

	chain := func(path, dep string) schema.DerivedSchema {
		d := doubled([]string{dep})
		d.ObservableKeys = []string{path}
		return d
	}
	svc.RegisterDerivedSchema([]schema.DerivedSchema{
		chain("a", "b"),
		chain("b", "c"),
		{
			ObservableKeys: []string{"c"},
			Dependencies:   [][]string{{"dai", "balance"}},
			Fn:             doubled([]string{"dai", "balance"}).Fn,
		},
	})
	require.Equal(t, []string{"a", "b"}, svc.Pending())

	svc.RetryPending()
	assert.Empty(t, svc.Pending())

	exec.push("DAI.balanceOf.0xab.balance", 5)
	v, ok := svc.Latest("a")
	require.True(t, ok)
	assert.Equal(t, 40, v)
}

func TestService_LatestRunsCombinerOncePerRead(t *testing.T) {
	svc, exec := newTestService(t)

	_, err := svc.RegisterLogicalSchema([]schema.LogicalSchema{balanceSchema("dai", "balance")})
	require.NoError(t, err)

	var runs atomic.Int64
	svc.RegisterDerivedSchema([]schema.DerivedSchema{{
		ObservableKeys: []string{"dai", "double"},
		Dependencies:   [][]string{{"dai", "balance"}},
		Fn: schema.Combine(func(values []any) (any, error) {
			runs.Add(1)
			return values[0].(int) * 2, nil
		}, zerolog.Nop()),
	}})
	require.Empty(t, svc.Pending())

	for i := 0; i < 10000; i++ {
		exec.push("DAI.balanceOf.0xab.balance", i)
	}
	assert.Equal(t, int64(0), runs.Load(), "nothing observes the derived path yet")

	v, ok := svc.Latest("dai.double")
	require.True(t, ok)
	assert.Equal(t, 19998, v)
	assert.Equal(t, int64(1), runs.Load())

	_, ok = svc.Latest("dai.double")
	require.True(t, ok)
	assert.Equal(t, int64(2), runs.Load())
}

func TestService_NewDerivedSupersedesPending(t *testing.T) {
	svc, _ := newTestService(t)

	svc.RegisterDerivedSchema([]schema.DerivedSchema{doubled([]string{"never"})})
	require.Equal(t, []string{"dai.double"}, svc.Pending())

	_, err := svc.RegisterLogicalSchema([]schema.LogicalSchema{balanceSchema("dai", "balance")})
	require.NoError(t, err)
	svc.RegisterDerivedSchema([]schema.DerivedSchema{doubled([]string{"dai", "balance"})})

	assert.Empty(t, svc.Pending())
	_, ok := svc.Lookup("dai.double")
	assert.True(t, ok)
}

func TestService_Disconnect(t *testing.T) {
	svc := New(nil, Options{Logger: zerolog.Nop()})
	svc.Disconnect()
	svc.Disconnect()

	assert.ErrorIs(t, svc.Connect(&mockExecutor{}), ErrDisconnected)

	connected, _ := newTestService(t)
	connected.Disconnect()
	connected.Disconnect()
	_, err := connected.RegisterLogicalSchema([]schema.LogicalSchema{balanceSchema("x")})
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestService_LoadDefinitions(t *testing.T) {
	svc, exec := newTestService(t)

	defs, err := config.ParseDefinitions([]byte(`
logical:
  - contract: STABLE
    call: balanceOf(address)(uint256)
    args: ["0xab"]
    returns:
      - key: balance
        transform: units:2
    observe: [dai.balance]
derived:
  - observe: dai.tripled
    dependencies: [dai.doubled]
    fn: "function (d) { return d / 2 * 3 }"
  - observe: dai.doubled
    dependencies: [dai.balance]
    fn: "(b) => b * 2"
`), ".yaml")
	require.NoError(t, err)

	require.NoError(t, svc.LoadDefinitions(defs))
	assert.Empty(t, svc.Pending(), "out-of-order derived entries resolve on retry")
	assert.Equal(t, 3, svc.Snapshot().Len())

	calls := exec.submitted()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Returns, 1)
	assert.Equal(t, "STABLE.balanceOf.0xab.balance", calls[0].Returns[0].Key)
	assert.NotNil(t, calls[0].Returns[0].Transform)

	exec.push("STABLE.balanceOf.0xab.balance", 2.5)
	v, ok := svc.Latest("dai.tripled")
	require.True(t, ok)
	assert.EqualValues(t, 7.5, v)
}

func TestService_LoadDefinitions_RejectsBeforeRegistering(t *testing.T) {
	svc, exec := newTestService(t)

	err := svc.LoadDefinitions(&config.Definitions{
		Logical: []config.LogicalDefinition{{
			Contract: "DAI",
			Call:     "totalSupply()(uint256)",
			Returns:  []config.ReturnDefinition{{Key: "supply", Transform: "bogus"}},
			Observe:  []string{"dai.supply"},
		}},
	})
	assert.Error(t, err)

	err = svc.LoadDefinitions(&config.Definitions{
		Derived: []config.DerivedDefinition{{Observe: "x", Fn: "not a function ("}},
	})
	assert.Error(t, err)

	assert.Empty(t, exec.submitted())
	assert.Equal(t, 0, svc.Snapshot().Len())
}
