package store

import (
	"math/big"
	"testing"

	"github.com/luxfi/database/memdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/synth/pkg/synth"
)

func scaledPrice(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), big.NewInt(synth.PriceScale))
}

func TestSnapshotRoundTrip(t *testing.T) {
	ledger := synth.NewMemLedger()
	engine := synth.NewEngine(synth.Config{Owner: "owner", Collateral: ledger})

	_, err := engine.CreateAsset("owner", "sBTC", scaledPrice(100), 1500)
	require.NoError(t, err)
	_, err = engine.CreateAsset("owner", "sETH", scaledPrice(10), 1200)
	require.NoError(t, err)

	ledger.Fund("alice", big.NewInt(10000))
	ledger.Fund("bob", big.NewInt(10000))
	require.NoError(t, engine.Mint("alice", "sBTC", big.NewInt(300), big.NewInt(2)))
	require.NoError(t, engine.Mint("bob", "sBTC", big.NewInt(600), big.NewInt(4)))
	require.NoError(t, engine.Mint("alice", "sETH", big.NewInt(120), big.NewInt(10)))
	require.NoError(t, engine.SetLiquidationPenalty("owner", 750))

	db := memdb.New()
	s := New(db)
	require.NoError(t, s.SaveSnapshot(engine.Snapshot()))

	loaded, err := s.LoadSnapshot()
	require.NoError(t, err)

	restored := synth.NewEngine(synth.Config{Owner: "owner", Collateral: ledger})
	require.NoError(t, restored.Restore(loaded))

	// Assets in creation order with prices and supply intact
	assets := restored.ListAssets()
	require.Len(t, assets, 2)
	assert.Equal(t, "sBTC", assets[0].Symbol)
	assert.Equal(t, "sETH", assets[1].Symbol)
	assert.Equal(t, int64(6), assets[0].TotalSupply.Int64())
	assert.Equal(t, int64(10), assets[1].TotalSupply.Int64())
	assert.Equal(t, 0, assets[0].Price.Cmp(scaledPrice(100)))
	assert.Equal(t, uint64(750), restored.LiquidationPenaltyBps())

	pos, ok := restored.GetPosition("alice", "sBTC")
	require.True(t, ok)
	assert.Equal(t, int64(300), pos.Collateral.Int64())
	assert.Equal(t, int64(2), pos.Synthetic.Int64())

	// Restored engine keeps operating
	_, err = restored.Burn("bob", "sBTC", big.NewInt(4))
	require.NoError(t, err)
	assert.Equal(t, int64(2), restored.GetAsset("sBTC").TotalSupply.Int64())
}

func TestSaveSnapshotPrunesClosedPositions(t *testing.T) {
	ledger := synth.NewMemLedger()
	engine := synth.NewEngine(synth.Config{Owner: "owner", Collateral: ledger})

	_, err := engine.CreateAsset("owner", "sBTC", scaledPrice(100), 1500)
	require.NoError(t, err)
	ledger.Fund("alice", big.NewInt(10000))
	ledger.Fund("bob", big.NewInt(10000))
	require.NoError(t, engine.Mint("alice", "sBTC", big.NewInt(300), big.NewInt(2)))
	require.NoError(t, engine.Mint("bob", "sBTC", big.NewInt(600), big.NewInt(4)))

	s := New(memdb.New())
	require.NoError(t, s.SaveSnapshot(engine.Snapshot()))

	// Close alice's position entirely, then snapshot again over the same db
	_, err = engine.Burn("alice", "sBTC", big.NewInt(2))
	require.NoError(t, err)
	require.NoError(t, s.SaveSnapshot(engine.Snapshot()))

	loaded, err := s.LoadSnapshot()
	require.NoError(t, err)
	require.Len(t, loaded.Positions, 1)
	assert.Equal(t, "bob", loaded.Positions[0].User)

	// The reload must satisfy the supply invariant
	restored := synth.NewEngine(synth.Config{Owner: "owner", Collateral: ledger})
	require.NoError(t, restored.Restore(loaded))
	assert.Equal(t, int64(4), restored.GetAsset("sBTC").TotalSupply.Int64())
	_, ok := restored.GetPosition("alice", "sBTC")
	assert.False(t, ok)
}

func TestLoadSnapshotFreshDatabase(t *testing.T) {
	s := New(memdb.New())

	snap, err := s.LoadSnapshot()
	require.NoError(t, err)
	assert.Empty(t, snap.Assets)
	assert.Empty(t, snap.Positions)
	assert.Equal(t, uint64(synth.DefaultLiquidationPenaltyBps), snap.PenaltyBps)
}

func TestRestoreRejectsCorruptSupply(t *testing.T) {
	ledger := synth.NewMemLedger()
	engine := synth.NewEngine(synth.Config{Owner: "owner", Collateral: ledger})
	_, err := engine.CreateAsset("owner", "sBTC", scaledPrice(100), 1500)
	require.NoError(t, err)
	ledger.Fund("alice", big.NewInt(1000))
	require.NoError(t, engine.Mint("alice", "sBTC", big.NewInt(300), big.NewInt(2)))

	snap := engine.Snapshot()
	snap.Assets[0].TotalSupply = big.NewInt(99) // corrupt

	fresh := synth.NewEngine(synth.Config{Owner: "owner", Collateral: ledger})
	err = fresh.Restore(snap)
	assert.Error(t, err)
	assert.Empty(t, fresh.ListAssets())
}
