package synth

import (
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reentrantLedger calls back into the engine from inside a transfer,
// simulating a hostile collateral-token hook.
type reentrantLedger struct {
	*MemLedger
	engine  *Engine
	lastErr error
}

func (l *reentrantLedger) Credit(user string, amount *big.Int) error {
	if l.engine != nil {
		_, l.lastErr = l.engine.Burn(user, "sBTC", big.NewInt(1))
	}
	return l.MemLedger.Credit(user, amount)
}

func TestReentrantCallRejected(t *testing.T) {
	inner := NewMemLedger()
	hostile := &reentrantLedger{MemLedger: inner}
	engine := NewEngine(Config{Owner: testOwner, Collateral: hostile})
	hostile.engine = engine

	_, err := engine.CreateAsset(testOwner, "sBTC", scaledPrice(10), 1500)
	require.NoError(t, err)
	inner.Fund("alice", big.NewInt(1000))
	require.NoError(t, engine.Mint("alice", "sBTC", big.NewInt(100), big.NewInt(3)))

	// The burn's credit callback re-enters Burn; the inner call must be
	// rejected while the outer one completes normally.
	returned, err := engine.Burn("alice", "sBTC", big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, int64(33), returned.Int64())
	assert.ErrorIs(t, hostile.lastErr, ErrReentrantCall)

	pos, ok := engine.GetPosition("alice", "sBTC")
	require.True(t, ok)
	assert.Equal(t, int64(2), pos.Synthetic.Int64())
	assertSupplyInvariant(t, engine, "sBTC")
}

// parkingLedger blocks its first Credit until released, holding the
// enclosing engine operation in flight.
type parkingLedger struct {
	*MemLedger
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (l *parkingLedger) Credit(user string, amount *big.Int) error {
	l.once.Do(func() {
		close(l.entered)
		<-l.release
	})
	return l.MemLedger.Credit(user, amount)
}

func TestConcurrentCallersSerialize(t *testing.T) {
	inner := NewMemLedger()
	parking := &parkingLedger{
		MemLedger: inner,
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	engine := NewEngine(Config{Owner: testOwner, Collateral: parking})

	_, err := engine.CreateAsset(testOwner, "sBTC", scaledPrice(10), 1500)
	require.NoError(t, err)
	inner.Fund("alice", big.NewInt(1000))
	inner.Fund("bob", big.NewInt(1000))
	require.NoError(t, engine.Mint("alice", "sBTC", big.NewInt(150), big.NewInt(10)))

	// Park alice's burn inside its credit callback
	burnDone := make(chan error, 1)
	go func() {
		_, err := engine.Burn("alice", "sBTC", big.NewInt(10))
		burnDone <- err
	}()
	<-parking.entered

	// A distinct caller arriving mid-operation must queue behind the lock,
	// not be rejected as re-entrant.
	mintDone := make(chan error, 1)
	go func() {
		mintDone <- engine.Mint("bob", "sBTC", big.NewInt(150), big.NewInt(10))
	}()

	close(parking.release)
	require.NoError(t, <-burnDone)
	require.NoError(t, <-mintDone)

	assert.Equal(t, int64(10), engine.GetAsset("sBTC").TotalSupply.Int64())
	assertSupplyInvariant(t, engine, "sBTC")
}

func TestSupplyInvariantAcrossMixedOperations(t *testing.T) {
	engine, ledger := newTestEngine(t)
	_, err := engine.CreateAsset(testOwner, "sBTC", scaledPrice(10), 1500)
	require.NoError(t, err)

	users := []string{"alice", "bob", "carol"}
	for _, u := range users {
		ledger.Fund(u, big.NewInt(10000))
	}

	require.NoError(t, engine.Mint("alice", "sBTC", big.NewInt(300), big.NewInt(10)))
	assertSupplyInvariant(t, engine, "sBTC")
	require.NoError(t, engine.Mint("bob", "sBTC", big.NewInt(600), big.NewInt(20)))
	assertSupplyInvariant(t, engine, "sBTC")
	require.NoError(t, engine.Mint("carol", "sBTC", big.NewInt(160), big.NewInt(10)))
	assertSupplyInvariant(t, engine, "sBTC")

	_, err = engine.Burn("bob", "sBTC", big.NewInt(7))
	require.NoError(t, err)
	assertSupplyInvariant(t, engine, "sBTC")

	// Price doubles; carol's thin position goes underwater
	require.NoError(t, engine.UpdatePrice(testOwner, "sBTC", scaledPrice(20)))
	require.NoError(t, engine.Liquidate("bob", "carol", "sBTC"))
	assertSupplyInvariant(t, engine, "sBTC")

	_, err = engine.Burn("alice", "sBTC", big.NewInt(10))
	require.NoError(t, err)
	assertSupplyInvariant(t, engine, "sBTC")

	// Total synthetic outstanding equals bob's remainder
	assert.Equal(t, int64(13), engine.GetAsset("sBTC").TotalSupply.Int64())
}

func TestEventOrdering(t *testing.T) {
	sink := NewChanSink(16)
	ledger := NewMemLedger()
	engine := NewEngine(Config{Owner: testOwner, Collateral: ledger, Sink: sink})

	_, err := engine.CreateAsset(testOwner, "sBTC", scaledPrice(10), 1500)
	require.NoError(t, err)
	ledger.Fund("alice", big.NewInt(1000))
	require.NoError(t, engine.Mint("alice", "sBTC", big.NewInt(150), big.NewInt(10)))
	_, err = engine.Burn("alice", "sBTC", big.NewInt(10))
	require.NoError(t, err)

	want := []EventType{EventAssetCreated, EventPositionOpened, EventPositionClosed}
	for _, wt := range want {
		ev := <-sink.C
		assert.Equal(t, wt, ev.Type())
	}
}
