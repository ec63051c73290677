// Package store persists ledger state (assets, positions, engine
// parameters) in a luxfi/database key-value store.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/log"

	"github.com/luxfi/synth/pkg/synth"
)

const (
	assetPrefix    = "asset:"
	positionPrefix = "position:"
	assetOrderKey  = "assetorder"
	penaltyKey     = "penaltybps"
)

// Store reads and writes ledger snapshots
type Store struct {
	db     database.Database
	logger log.Logger
}

// New creates a store on top of an open database
func New(db database.Database) *Store {
	return &Store{
		db:     db,
		logger: log.Root().New("module", "store"),
	}
}

// assetRecord is the persisted form of a synthetic asset
type assetRecord struct {
	Key             string    `json:"key"`
	Symbol          string    `json:"symbol"`
	Price           *big.Int  `json:"price"`
	TotalSupply     *big.Int  `json:"totalSupply"`
	RatioBps        uint64    `json:"ratioBps"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"createdAt"`
	LastPriceUpdate time.Time `json:"lastPriceUpdate"`
}

// positionRecord is the persisted form of a position
type positionRecord struct {
	User            string    `json:"user"`
	AssetKey        string    `json:"assetKey"`
	Symbol          string    `json:"symbol"`
	Collateral      *big.Int  `json:"collateral"`
	Synthetic       *big.Int  `json:"synthetic"`
	LastUpdatePrice *big.Int  `json:"lastUpdatePrice"`
	OpenedAt        time.Time `json:"openedAt"`
	LastUpdate      time.Time `json:"lastUpdate"`
}

// SaveSnapshot writes the engine's full state in one batch
func (s *Store) SaveSnapshot(snap *synth.Snapshot) error {
	batch := s.db.NewBatch()
	defer batch.Reset()

	order := make([]string, 0, len(snap.Assets))
	for _, asset := range snap.Assets {
		order = append(order, asset.Key.String())
		rec := assetRecord{
			Key:             asset.Key.String(),
			Symbol:          asset.Symbol,
			Price:           asset.Price,
			TotalSupply:     asset.TotalSupply,
			RatioBps:        asset.CollateralRatioBps,
			Active:          asset.Active,
			CreatedAt:       asset.CreatedAt,
			LastPriceUpdate: asset.LastPriceUpdate,
		}
		value, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal asset %s: %w", asset.Symbol, err)
		}
		if err := batch.Put([]byte(assetPrefix+rec.Key), value); err != nil {
			return err
		}
	}

	orderBytes, err := json.Marshal(order)
	if err != nil {
		return err
	}
	if err := batch.Put([]byte(assetOrderKey), orderBytes); err != nil {
		return err
	}

	symbols := make(map[synth.AssetKey]string, len(snap.Assets))
	for _, asset := range snap.Assets {
		symbols[asset.Key] = asset.Symbol
	}
	live := make(map[string]bool, len(snap.Positions))
	for _, pos := range snap.Positions {
		rec := positionRecord{
			User:            pos.User,
			AssetKey:        pos.Asset.String(),
			Symbol:          symbols[pos.Asset],
			Collateral:      pos.Collateral,
			Synthetic:       pos.Synthetic,
			LastUpdatePrice: pos.LastUpdatePrice,
			OpenedAt:        pos.OpenedAt,
			LastUpdate:      pos.LastUpdate,
		}
		value, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal position %s/%s: %w", pos.User, rec.Symbol, err)
		}
		key := positionPrefix + rec.AssetKey + ":" + pos.User
		live[key] = true
		if err := batch.Put([]byte(key), value); err != nil {
			return err
		}
	}

	// Positions closed since the last snapshot must not survive on disk,
	// or reload would resurrect them and break the supply invariant.
	iter := s.db.NewIteratorWithPrefix([]byte(positionPrefix))
	for iter.Next() {
		key := string(iter.Key())
		if live[key] {
			continue
		}
		if err := batch.Delete([]byte(key)); err != nil {
			iter.Release()
			return err
		}
	}
	if err := iter.Error(); err != nil {
		iter.Release()
		return err
	}
	iter.Release()

	penalty := make([]byte, 8)
	binary.BigEndian.PutUint64(penalty, snap.PenaltyBps)
	if err := batch.Put([]byte(penaltyKey), penalty); err != nil {
		return err
	}

	if err := batch.Write(); err != nil {
		return err
	}
	s.logger.Info("snapshot saved",
		"assets", len(snap.Assets), "positions", len(snap.Positions))
	return nil
}

// LoadSnapshot reads the persisted state. A fresh database yields an empty
// snapshot, not an error.
func (s *Store) LoadSnapshot() (*synth.Snapshot, error) {
	snap := &synth.Snapshot{PenaltyBps: synth.DefaultLiquidationPenaltyBps}

	orderBytes, err := s.db.Get([]byte(assetOrderKey))
	if err == database.ErrNotFound {
		return snap, nil
	}
	if err != nil {
		return nil, err
	}

	var order []string
	if err := json.Unmarshal(orderBytes, &order); err != nil {
		return nil, fmt.Errorf("unmarshal asset order: %w", err)
	}

	for _, hexKey := range order {
		value, err := s.db.Get([]byte(assetPrefix + hexKey))
		if err != nil {
			return nil, fmt.Errorf("load asset %s: %w", hexKey, err)
		}
		var rec assetRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal asset %s: %w", hexKey, err)
		}
		snap.Assets = append(snap.Assets, synth.SyntheticAsset{
			Key:                synth.DeriveAssetKey(rec.Symbol),
			Symbol:             rec.Symbol,
			Price:              rec.Price,
			TotalSupply:        rec.TotalSupply,
			CollateralRatioBps: rec.RatioBps,
			Active:             rec.Active,
			CreatedAt:          rec.CreatedAt,
			LastPriceUpdate:    rec.LastPriceUpdate,
		})
	}

	iter := s.db.NewIteratorWithPrefix([]byte(positionPrefix))
	defer iter.Release()
	for iter.Next() {
		var rec positionRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal position %s: %w", iter.Key(), err)
		}
		snap.Positions = append(snap.Positions, synth.Position{
			User:            rec.User,
			Asset:           synth.DeriveAssetKey(rec.Symbol),
			Collateral:      rec.Collateral,
			Synthetic:       rec.Synthetic,
			LastUpdatePrice: rec.LastUpdatePrice,
			OpenedAt:        rec.OpenedAt,
			LastUpdate:      rec.LastUpdate,
		})
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	if penalty, err := s.db.Get([]byte(penaltyKey)); err == nil && len(penalty) == 8 {
		snap.PenaltyBps = binary.BigEndian.Uint64(penalty)
	} else if err != nil && err != database.ErrNotFound {
		return nil, err
	}

	s.logger.Info("snapshot loaded",
		"assets", len(snap.Assets), "positions", len(snap.Positions))
	return snap, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}
