package multicall

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemawatch/internal/metrics"
	"schemawatch/internal/schema"
	"schemawatch/internal/stream"
)

var (
	dai   = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	alice = "0x00000000000000000000000000000000000000a1"
	bob   = "0x00000000000000000000000000000000000000b0"
)

type callHandler func(target common.Address, input []byte) ([]byte, bool)

// fakeNode executes aggregate3 by dispatching each inner call on its selector
type fakeNode struct {
	mu       sync.Mutex
	handlers map[string]callHandler
	requests int
	err      error
}

func newFakeNode() *fakeNode {
	return &fakeNode{handlers: make(map[string]callHandler)}
}

func (f *fakeNode) handle(signature string, h callHandler) {
	sig, err := schema.ParseSignature(signature)
	if err != nil {
		panic(err)
	}
	selector := sig.Selector()
	f.mu.Lock()
	f.handlers[hex.EncodeToString(selector[:])] = h
	f.mu.Unlock()
}

func (f *fakeNode) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	if f.err != nil {
		return nil, f.err
	}

	method := multicallABI.Methods[aggregate3]
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	calls := reflect.ValueOf(args[0])
	results := make([]result, calls.Len())
	for i := range results {
		elem := calls.Index(i)
		target := elem.FieldByName("Target").Interface().(common.Address)
		data := elem.FieldByName("CallData").Bytes()
		h := f.handlers[hex.EncodeToString(data[:4])]
		if h == nil {
			continue
		}
		out, ok := h(target, data[4:])
		results[i] = result{Success: ok, ReturnData: out}
	}
	return method.Outputs.Pack(results)
}

func (f *fakeNode) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func pack(t *testing.T, types []string, values ...any) []byte {
	t.Helper()
	args, err := arguments(types)
	require.NoError(t, err)
	out, err := args.Pack(values...)
	require.NoError(t, err)
	return out
}

// balances serves balanceOf(address) from a mutable map
type balances struct {
	mu     sync.Mutex
	values map[common.Address]*big.Int
}

func (b *balances) set(owner string, v int64) {
	b.mu.Lock()
	b.values[common.HexToAddress(owner)] = big.NewInt(v)
	b.mu.Unlock()
}

func (b *balances) handler(t *testing.T) callHandler {
	return func(_ common.Address, input []byte) ([]byte, bool) {
		owner := common.BytesToAddress(input[12:32])
		b.mu.Lock()
		v, ok := b.values[owner]
		b.mu.Unlock()
		if !ok {
			return nil, false
		}
		return pack(t, []string{"uint256"}, v), true
	}
}

func balanceCall(owner string) schema.CallDescriptor {
	return schema.CallDescriptor{
		Target:  dai,
		Call:    []any{"balanceOf(address)(uint256)", owner},
		Returns: []schema.ReturnSpec{{Key: "DAI.balanceOf." + owner + ".balance"}},
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []stream.Event
}

func (l *eventLog) add(e stream.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []stream.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]stream.Event(nil), l.events...)
}

func newTestWatcher(t *testing.T, node *fakeNode, cfg Config) (*Watcher, *eventLog) {
	t.Helper()
	w, err := NewWatcher(cfg, node, metrics.New(), zerolog.Nop())
	require.NoError(t, err)
	log := &eventLog{}
	w.Subscribe(log.add)
	return w, log
}

func TestWatcher_PollEmitsChangedValues(t *testing.T) {
	node := newFakeNode()
	bal := &balances{values: map[common.Address]*big.Int{}}
	bal.set(alice, 42)
	bal.set(bob, 7)
	node.handle("balanceOf(address)(uint256)", bal.handler(t))

	w, log := newTestWatcher(t, node, Config{})
	w.SubmitCalls([]schema.CallDescriptor{balanceCall(alice)})
	w.SubmitCalls([]schema.CallDescriptor{balanceCall(bob)})
	assert.Equal(t, 2, w.Len())

	require.NoError(t, w.Poll(context.Background()))
	events := log.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, "DAI.balanceOf."+alice+".balance", events[0].Type)
	assert.Equal(t, 0, big.NewInt(42).Cmp(events[0].Value.(*big.Int)))
	assert.Equal(t, "DAI.balanceOf."+bob+".balance", events[1].Type)

	// unchanged values are not emitted again
	require.NoError(t, w.Poll(context.Background()))
	assert.Len(t, log.snapshot(), 2)

	bal.set(bob, 8)
	require.NoError(t, w.Poll(context.Background()))
	events = log.snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, "DAI.balanceOf."+bob+".balance", events[2].Type)
	assert.Equal(t, 0, big.NewInt(8).Cmp(events[2].Value.(*big.Int)))
}

func TestWatcher_ChunksByMaxCalls(t *testing.T) {
	node := newFakeNode()
	bal := &balances{values: map[common.Address]*big.Int{}}
	owners := []string{
		"0x0000000000000000000000000000000000000001",
		"0x0000000000000000000000000000000000000002",
		"0x0000000000000000000000000000000000000003",
		"0x0000000000000000000000000000000000000004",
		"0x0000000000000000000000000000000000000005",
	}
	var descs []schema.CallDescriptor
	for i, owner := range owners {
		bal.set(owner, int64(i))
		descs = append(descs, balanceCall(owner))
	}
	node.handle("balanceOf(address)(uint256)", bal.handler(t))

	w, log := newTestWatcher(t, node, Config{MaxCalls: 2})
	w.SubmitCalls(descs)

	require.NoError(t, w.Poll(context.Background()))
	assert.Equal(t, 3, node.requestCount())
	assert.Len(t, log.snapshot(), 5)
}

func TestWatcher_RevertedCallSkipped(t *testing.T) {
	node := newFakeNode()
	bal := &balances{values: map[common.Address]*big.Int{}}
	bal.set(alice, 1)
	node.handle("balanceOf(address)(uint256)", bal.handler(t))

	w, log := newTestWatcher(t, node, Config{AllowFailure: true})
	w.SubmitCalls([]schema.CallDescriptor{balanceCall(bob), balanceCall(alice)})

	require.NoError(t, w.Poll(context.Background()))
	events := log.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "DAI.balanceOf."+alice+".balance", events[0].Type)
}

func TestWatcher_MultipleReturnsAndTransforms(t *testing.T) {
	node := newFakeNode()
	node.handle("getReserves()(uint112,uint112,uint32)", func(common.Address, []byte) ([]byte, bool) {
		return pack(t, []string{"uint112", "uint112", "uint32"}, big.NewInt(100), big.NewInt(200), uint32(1700000000)), true
	})

	toString := func(v any) (any, error) { return v.(*big.Int).String(), nil }
	w, log := newTestWatcher(t, node, Config{})
	w.SubmitCalls([]schema.CallDescriptor{{
		Target: dai,
		Call:   []any{"getReserves()(uint112,uint112,uint32)"},
		Returns: []schema.ReturnSpec{
			{Key: "PAIR.getReserves..reserve0", Transform: toString},
			{Key: "PAIR.getReserves..reserve1"},
			{Key: "PAIR.getReserves..timestamp"},
		},
	}})

	require.NoError(t, w.Poll(context.Background()))
	events := log.snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, "100", events[0].Value)
	assert.Equal(t, uint32(1700000000), events[2].Value)
}

func TestWatcher_DecodeTransformFailureSkipsCall(t *testing.T) {
	node := newFakeNode()
	bal := &balances{values: map[common.Address]*big.Int{}}
	bal.set(alice, 1)
	node.handle("balanceOf(address)(uint256)", bal.handler(t))

	desc := balanceCall(alice)
	desc.Returns[0].Transform = func(any) (any, error) { return nil, errors.New("boom") }

	w, log := newTestWatcher(t, node, Config{})
	w.SubmitCalls([]schema.CallDescriptor{desc})
	require.NoError(t, w.Poll(context.Background()))
	assert.Empty(t, log.snapshot())
}

func TestWatcher_RejectsInvalidDescriptors(t *testing.T) {
	w, _ := newTestWatcher(t, newFakeNode(), Config{})
	w.SubmitCalls([]schema.CallDescriptor{
		{Target: dai, Call: []any{"bal(addr)(uint)", "0xabc"}, Returns: []schema.ReturnSpec{{Key: "k"}}},
		{Target: dai, Call: []any{"balanceOf(address)(uint256)"}, Returns: []schema.ReturnSpec{{Key: "k"}}},
		{Target: dai, Call: []any{"balanceOf(address)(uint256)", "not-an-address"}, Returns: []schema.ReturnSpec{{Key: "k"}}},
		{Target: dai, Call: []any{"broken"}},
	})
	assert.Equal(t, 0, w.Len())
}

func TestWatcher_PollError(t *testing.T) {
	node := newFakeNode()
	node.err = errors.New("node down")

	w, log := newTestWatcher(t, node, Config{})
	w.SubmitCalls([]schema.CallDescriptor{balanceCall(alice)})

	err := w.Poll(context.Background())
	assert.ErrorContains(t, err, "node down")
	assert.Empty(t, log.snapshot())
}

func TestWatcher_PollWithoutCalls(t *testing.T) {
	node := newFakeNode()
	w, _ := newTestWatcher(t, node, Config{})
	require.NoError(t, w.Poll(context.Background()))
	assert.Equal(t, 0, node.requestCount())
}

func TestWatcher_StartTriggerStop(t *testing.T) {
	node := newFakeNode()
	bal := &balances{values: map[common.Address]*big.Int{}}
	bal.set(alice, 1)
	node.handle("balanceOf(address)(uint256)", bal.handler(t))

	w, log := newTestWatcher(t, node, Config{PollInterval: time.Hour})
	w.SubmitCalls([]schema.CallDescriptor{balanceCall(alice)})

	w.Start(context.Background())
	require.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)

	bal.set(alice, 2)
	w.Trigger(100)
	require.Eventually(t, func() bool { return len(log.snapshot()) == 2 }, 2*time.Second, 5*time.Millisecond)

	w.Stop()
	w.Stop()

	bal.set(alice, 3)
	w.Trigger(101)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, log.snapshot(), 2)
}

func TestWatcher_ConnectsToResultStream(t *testing.T) {
	node := newFakeNode()
	bal := &balances{values: map[common.Address]*big.Int{}}
	bal.set(alice, 5)
	node.handle("balanceOf(address)(uint256)", bal.handler(t))

	w, err := NewWatcher(Config{}, node, nil, zerolog.Nop())
	require.NoError(t, err)
	rs := stream.NewResultStream(0, zerolog.Nop())
	require.NoError(t, rs.Connect(w))

	w.SubmitCalls([]schema.CallDescriptor{balanceCall(alice)})
	require.NoError(t, w.Poll(context.Background()))

	v, ok := stream.Latest(stream.Values(rs, "DAI.balanceOf."+alice+".balance"))
	require.True(t, ok)
	assert.Equal(t, 0, big.NewInt(5).Cmp(v.(*big.Int)))
}

func TestNewWatcher_Defaults(t *testing.T) {
	w, err := NewWatcher(Config{}, newFakeNode(), nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(DefaultAddress), w.cfg.Address)
	assert.Equal(t, DefaultMaxCalls, w.cfg.MaxCalls)
	assert.Equal(t, DefaultPollInterval, w.cfg.PollInterval)

	_, err = NewWatcher(Config{}, nil, nil, zerolog.Nop())
	assert.Error(t, err)
}
