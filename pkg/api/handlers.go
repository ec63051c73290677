package api

import (
	"encoding/json"
)

// AssetResult is the wire form of an asset snapshot
type AssetResult struct {
	Key         string `json:"key"`
	Symbol      string `json:"symbol"`
	Price       string `json:"price"`
	TotalSupply string `json:"totalSupply"`
	RatioBps    uint64 `json:"ratioBps"`
	Active      bool   `json:"active"`
}

// PositionResult is the wire form of a position snapshot
type PositionResult struct {
	User            string `json:"user"`
	Symbol          string `json:"symbol"`
	Collateral      string `json:"collateral"`
	Synthetic       string `json:"synthetic"`
	LastUpdatePrice string `json:"lastUpdatePrice"`
}

type createAssetParams struct {
	Caller   string `json:"caller"`
	Symbol   string `json:"symbol"`
	Price    string `json:"price"`
	RatioBps uint64 `json:"ratioBps"`
}

func (s *JSONRPCServer) createAsset(params json.RawMessage) (interface{}, *RPCError) {
	var p createAssetParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
	}
	price, err := parsePrice(p.Price)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
	}
	key, err := s.engine.CreateAsset(p.Caller, p.Symbol, price, p.RatioBps)
	if err != nil {
		return nil, rpcError(err)
	}
	return map[string]string{"key": key.String()}, nil
}

type updatePriceParams struct {
	Caller string `json:"caller"`
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

func (s *JSONRPCServer) updatePrice(params json.RawMessage) (interface{}, *RPCError) {
	var p updatePriceParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
	}
	price, err := parsePrice(p.Price)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
	}
	if err := s.engine.UpdatePrice(p.Caller, p.Symbol, price); err != nil {
		return nil, rpcError(err)
	}
	return map[string]bool{"updated": true}, nil
}

type symbolParams struct {
	Symbol string `json:"symbol"`
}

func (s *JSONRPCServer) getAsset(params json.RawMessage) (interface{}, *RPCError) {
	var p symbolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
	}
	asset := s.engine.GetAsset(p.Symbol)
	return AssetResult{
		Key:         asset.Key.String(),
		Symbol:      asset.Symbol,
		Price:       formatPrice(asset.Price),
		TotalSupply: asset.TotalSupply.String(),
		RatioBps:    asset.CollateralRatioBps,
		Active:      asset.Active,
	}, nil
}

func (s *JSONRPCServer) listAssets() (interface{}, *RPCError) {
	assets := s.engine.ListAssets()
	out := make([]AssetResult, 0, len(assets))
	for _, asset := range assets {
		out = append(out, AssetResult{
			Key:         asset.Key.String(),
			Symbol:      asset.Symbol,
			Price:       formatPrice(asset.Price),
			TotalSupply: asset.TotalSupply.String(),
			RatioBps:    asset.CollateralRatioBps,
			Active:      asset.Active,
		})
	}
	return out, nil
}

type mintParams struct {
	User       string `json:"user"`
	Symbol     string `json:"symbol"`
	Collateral string `json:"collateral"`
	Synthetic  string `json:"synthetic"`
}

func (s *JSONRPCServer) mint(params json.RawMessage) (interface{}, *RPCError) {
	var p mintParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
	}
	collateral, err := parseAmount(p.Collateral)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
	}
	synthetic, err := parseAmount(p.Synthetic)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
	}
	if err := s.engine.Mint(p.User, p.Symbol, collateral, synthetic); err != nil {
		return nil, rpcError(err)
	}
	return map[string]bool{"minted": true}, nil
}

type burnParams struct {
	User      string `json:"user"`
	Symbol    string `json:"symbol"`
	Synthetic string `json:"synthetic"`
}

func (s *JSONRPCServer) burn(params json.RawMessage) (interface{}, *RPCError) {
	var p burnParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
	}
	synthetic, err := parseAmount(p.Synthetic)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
	}
	returned, err := s.engine.Burn(p.User, p.Symbol, synthetic)
	if err != nil {
		return nil, rpcError(err)
	}
	return map[string]string{"collateralReturned": returned.String()}, nil
}

type userSymbolParams struct {
	User   string `json:"user"`
	Symbol string `json:"symbol"`
}

func (s *JSONRPCServer) getPosition(params json.RawMessage) (interface{}, *RPCError) {
	var p userSymbolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
	}
	pos, ok := s.engine.GetPosition(p.User, p.Symbol)
	if !ok {
		return nil, &RPCError{Code: CodeNotFound, Message: "no open position"}
	}
	return PositionResult{
		User:            pos.User,
		Symbol:          p.Symbol,
		Collateral:      pos.Collateral.String(),
		Synthetic:       pos.Synthetic.String(),
		LastUpdatePrice: formatPrice(pos.LastUpdatePrice),
	}, nil
}

type userParams struct {
	User string `json:"user"`
}

func (s *JSONRPCServer) getBalance(params json.RawMessage) (interface{}, *RPCError) {
	if s.balances == nil {
		return nil, &RPCError{Code: MethodNotFound, Message: "balance queries not enabled"}
	}
	var p userParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
	}
	return map[string]string{"balance": s.balances.Balance(p.User).String()}, nil
}

func (s *JSONRPCServer) isLiquidatable(params json.RawMessage) (interface{}, *RPCError) {
	var p userSymbolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
	}
	eligible, err := s.engine.IsLiquidatable(p.User, p.Symbol)
	if err != nil {
		return nil, rpcError(err)
	}
	return map[string]bool{"liquidatable": eligible}, nil
}

type liquidateParams struct {
	Liquidator string `json:"liquidator"`
	Target     string `json:"target"`
	Symbol     string `json:"symbol"`
}

func (s *JSONRPCServer) liquidate(params json.RawMessage) (interface{}, *RPCError) {
	var p liquidateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
	}
	if err := s.engine.Liquidate(p.Liquidator, p.Target, p.Symbol); err != nil {
		return nil, rpcError(err)
	}
	return map[string]bool{"liquidated": true}, nil
}

type setPenaltyParams struct {
	Caller string `json:"caller"`
	Bps    uint64 `json:"bps"`
}

func (s *JSONRPCServer) setPenalty(params json.RawMessage) (interface{}, *RPCError) {
	var p setPenaltyParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
	}
	if err := s.engine.SetLiquidationPenalty(p.Caller, p.Bps); err != nil {
		return nil, rpcError(err)
	}
	return map[string]bool{"updated": true}, nil
}
