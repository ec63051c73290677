package api

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/synth/pkg/synth"
)

const owner = "owner"

func newTestServer(t *testing.T) (*JSONRPCServer, *synth.MemLedger) {
	t.Helper()
	ledger := synth.NewMemLedger()
	engine := synth.NewEngine(synth.Config{
		Owner:      owner,
		Collateral: ledger,
	})
	return NewJSONRPCServer(engine), ledger
}

func call(t *testing.T, s *JSONRPCServer, method string, params interface{}) JSONRPCResponse {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		require.NoError(t, err)
		raw = b
	}
	body, err := json.Marshal(JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  raw,
		ID:      1,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func result(t *testing.T, resp JSONRPCResponse, out interface{}) {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected RPC error: %v", resp.Error)
	b, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, out))
}

func TestCreateAndGetAsset(t *testing.T) {
	s, _ := newTestServer(t)

	resp := call(t, s, "synth_createAsset", createAssetParams{
		Caller:   owner,
		Symbol:   "sBTC",
		Price:    "50000",
		RatioBps: 1500,
	})
	var created map[string]string
	result(t, resp, &created)
	assert.Equal(t, synth.DeriveAssetKey("sBTC").String(), created["key"])

	resp = call(t, s, "synth_getAsset", symbolParams{Symbol: "sBTC"})
	var asset AssetResult
	result(t, resp, &asset)
	assert.Equal(t, "sBTC", asset.Symbol)
	assert.Equal(t, "50000", asset.Price)
	assert.Equal(t, uint64(1500), asset.RatioBps)
	assert.True(t, asset.Active)
	assert.Equal(t, "0", asset.TotalSupply)
}

func TestGetAssetAbsentReturnsZeroRecord(t *testing.T) {
	s, _ := newTestServer(t)

	resp := call(t, s, "synth_getAsset", symbolParams{Symbol: "sNOPE"})
	var asset AssetResult
	result(t, resp, &asset)
	assert.False(t, asset.Active)
	assert.Equal(t, "0", asset.Price)
	assert.Equal(t, "0", asset.TotalSupply)
}

func TestListAssetsOrder(t *testing.T) {
	s, _ := newTestServer(t)

	for _, sym := range []string{"sBTC", "sETH", "sSOL"} {
		resp := call(t, s, "synth_createAsset", createAssetParams{
			Caller: owner, Symbol: sym, Price: "10", RatioBps: 1500,
		})
		result(t, resp, &map[string]string{})
	}

	resp := call(t, s, "synth_listAssets", nil)
	var assets []AssetResult
	result(t, resp, &assets)
	require.Len(t, assets, 3)
	assert.Equal(t, "sBTC", assets[0].Symbol)
	assert.Equal(t, "sETH", assets[1].Symbol)
	assert.Equal(t, "sSOL", assets[2].Symbol)
}

func TestMintBurnRoundTrip(t *testing.T) {
	s, ledger := newTestServer(t)
	ledger.Fund("alice", big.NewInt(1000))

	resp := call(t, s, "synth_createAsset", createAssetParams{
		Caller: owner, Symbol: "sETH", Price: "2", RatioBps: 1500,
	})
	result(t, resp, &map[string]string{})

	resp = call(t, s, "synth_mint", mintParams{
		User: "alice", Symbol: "sETH", Collateral: "300", Synthetic: "100",
	})
	var minted map[string]bool
	result(t, resp, &minted)
	assert.True(t, minted["minted"])
	assert.Equal(t, int64(700), ledger.Balance("alice").Int64())

	resp = call(t, s, "synth_getPosition", userSymbolParams{
		User: "alice", Symbol: "sETH",
	})
	var pos PositionResult
	result(t, resp, &pos)
	assert.Equal(t, "300", pos.Collateral)
	assert.Equal(t, "100", pos.Synthetic)

	resp = call(t, s, "synth_burn", burnParams{
		User: "alice", Symbol: "sETH", Synthetic: "100",
	})
	var burned map[string]string
	result(t, resp, &burned)
	assert.Equal(t, "300", burned["collateralReturned"])
	assert.Equal(t, int64(1000), ledger.Balance("alice").Int64())
}

func TestErrorCodeMapping(t *testing.T) {
	s, ledger := newTestServer(t)
	ledger.Fund("alice", big.NewInt(1000))

	// Ratio below floor
	resp := call(t, s, "synth_createAsset", createAssetParams{
		Caller: owner, Symbol: "sLOW", Price: "1", RatioBps: 1000,
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidInput, resp.Error.Code)

	// Unauthorized caller
	resp = call(t, s, "synth_createAsset", createAssetParams{
		Caller: "mallory", Symbol: "sBAD", Price: "1", RatioBps: 1500,
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeUnauthorized, resp.Error.Code)

	// Unknown asset
	resp = call(t, s, "synth_mint", mintParams{
		User: "alice", Symbol: "sGHOST", Collateral: "10", Synthetic: "1",
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeNotFound, resp.Error.Code)

	// Under-collateralized mint
	resp = call(t, s, "synth_createAsset", createAssetParams{
		Caller: owner, Symbol: "sOK", Price: "2", RatioBps: 1500,
	})
	result(t, resp, &map[string]string{})
	resp = call(t, s, "synth_mint", mintParams{
		User: "alice", Symbol: "sOK", Collateral: "100", Synthetic: "100",
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodePolicyViolation, resp.Error.Code)

	// Ledger debit failure
	resp = call(t, s, "synth_mint", mintParams{
		User: "broke", Symbol: "sOK", Collateral: "300", Synthetic: "100",
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeTransferFailed, resp.Error.Code)
}

func TestLiquidateOverRPC(t *testing.T) {
	s, ledger := newTestServer(t)
	ledger.Fund("alice", big.NewInt(200))

	resp := call(t, s, "synth_createAsset", createAssetParams{
		Caller: owner, Symbol: "sBTC", Price: "50", RatioBps: 1500,
	})
	result(t, resp, &map[string]string{})

	resp = call(t, s, "synth_mint", mintParams{
		User: "alice", Symbol: "sBTC", Collateral: "120", Synthetic: "1",
	})
	result(t, resp, &map[string]bool{})

	resp = call(t, s, "synth_isLiquidatable", userSymbolParams{
		User: "alice", Symbol: "sBTC",
	})
	var eligible map[string]bool
	result(t, resp, &eligible)
	assert.False(t, eligible["liquidatable"])

	resp = call(t, s, "synth_updatePrice", updatePriceParams{
		Caller: owner, Symbol: "sBTC", Price: "100",
	})
	result(t, resp, &map[string]bool{})

	resp = call(t, s, "synth_isLiquidatable", userSymbolParams{
		User: "alice", Symbol: "sBTC",
	})
	result(t, resp, &eligible)
	assert.True(t, eligible["liquidatable"])

	resp = call(t, s, "synth_liquidate", liquidateParams{
		Liquidator: "bob", Target: "alice", Symbol: "sBTC",
	})
	var liq map[string]bool
	result(t, resp, &liq)
	assert.True(t, liq["liquidated"])
	assert.Equal(t, int64(3), ledger.Balance("bob").Int64())

	resp = call(t, s, "synth_getPosition", userSymbolParams{
		User: "alice", Symbol: "sBTC",
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeNotFound, resp.Error.Code)
}

func TestGetBalance(t *testing.T) {
	s, ledger := newTestServer(t)

	// Not enabled until a reader is attached
	resp := call(t, s, "synth_getBalance", userParams{User: "alice"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, MethodNotFound, resp.Error.Code)

	s.WithBalances(ledger)
	ledger.Fund("alice", big.NewInt(42))

	resp = call(t, s, "synth_getBalance", userParams{User: "alice"})
	var bal map[string]string
	result(t, resp, &bal)
	assert.Equal(t, "42", bal["balance"])

	resp = call(t, s, "synth_getBalance", userParams{User: "nobody"})
	result(t, resp, &bal)
	assert.Equal(t, "0", bal["balance"])
}

func TestSetLiquidationPenalty(t *testing.T) {
	s, _ := newTestServer(t)

	resp := call(t, s, "synth_setLiquidationPenalty", setPenaltyParams{
		Caller: owner, Bps: 750,
	})
	var updated map[string]bool
	result(t, resp, &updated)
	assert.True(t, updated["updated"])

	resp = call(t, s, "synth_setLiquidationPenalty", setPenaltyParams{
		Caller: "mallory", Bps: 100,
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeUnauthorized, resp.Error.Code)
}

func TestProtocolErrors(t *testing.T) {
	s, _ := newTestServer(t)

	// Unknown method
	resp := call(t, s, "synth_unknown", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, MethodNotFound, resp.Error.Code)

	// Wrong JSON-RPC version
	body := []byte(`{"jsonrpc":"1.0","method":"synth_listAssets","id":1}`)
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	var versioned JSONRPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &versioned))
	require.NotNil(t, versioned.Error)
	assert.Equal(t, InvalidRequest, versioned.Error.Code)

	// GET is rejected
	req = httptest.NewRequest(http.MethodGet, "/rpc", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	// Malformed price
	resp = call(t, s, "synth_createAsset", createAssetParams{
		Caller: owner, Symbol: "sX", Price: "not-a-number", RatioBps: 1500,
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, InvalidParams, resp.Error.Code)
}

func TestPriceParsing(t *testing.T) {
	p, err := parsePrice("50000.25")
	require.NoError(t, err)
	expected, _ := new(big.Int).SetString("50000250000000000000000", 10)
	assert.Equal(t, 0, p.Cmp(expected))
	assert.Equal(t, "50000.25", formatPrice(p))

	_, err = parsePrice("")
	assert.Error(t, err)

	a, err := parseAmount("12345678901234567890")
	require.NoError(t, err)
	assert.Equal(t, "12345678901234567890", a.String())

	_, err = parseAmount("1.5")
	assert.Error(t, err)
}
