package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"paylock/core/state"
	"paylock/crypto"
	"paylock/native/escrow"
	"paylock/native/token"
	"paylock/storage"
)

type testResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

type testHarness struct {
	server     *Server
	manager    *state.Manager
	ledger     *token.StateLedger
	arbitrator crypto.Address
	buyer      crypto.Address
	seller     crypto.Address
}

func newTestAccount(t *testing.T) crypto.Address {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key.PubKey().Address()
}

func toRaw(addr crypto.Address) [20]byte {
	var out [20]byte
	copy(out[:], addr.Bytes())
	return out
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	ledger, err := token.NewStateLedger("PLT", manager)
	require.NoError(t, err)
	registry := token.NewRegistry()
	registry.Register(ledger)

	arbitrator := newTestAccount(t)
	engine := escrow.NewEngine(toRaw(arbitrator))
	engine.SetState(manager)
	engine.SetVault(state.VaultAddress())
	engine.SetTokens(registry)

	return &testHarness{
		server:     NewServer(engine, manager, registry),
		manager:    manager,
		ledger:     ledger,
		arbitrator: arbitrator,
		buyer:      newTestAccount(t),
		seller:     newTestAccount(t),
	}
}

func (h *testHarness) fundNative(t *testing.T, addr crypto.Address, amount int64) {
	t.Helper()
	account, err := h.manager.GetAccount(addr.Bytes())
	require.NoError(t, err)
	account.EnsureBalance().Balance.SetInt64(amount)
	require.NoError(t, h.manager.PutAccount(addr.Bytes(), account))
	require.NoError(t, h.manager.Commit())
}

func (h *testHarness) call(t *testing.T, method string, params interface{}, headers map[string]string) testResponse {
	t.Helper()
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		req["params"] = []interface{}{params}
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	recorder := httptest.NewRecorder()
	h.server.handle(recorder, httpReq)

	var resp testResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	return resp
}

func (h *testHarness) mustCall(t *testing.T, method string, params interface{}) json.RawMessage {
	t.Helper()
	resp := h.call(t, method, params, nil)
	require.Nil(t, resp.Error, "method %s: %+v", method, resp.Error)
	return resp.Result
}

func TestNativeLifecycleOverRPC(t *testing.T) {
	h := newTestHarness(t)
	h.fundNative(t, h.buyer, 100)

	var created createResult
	raw := h.mustCall(t, "escrow_create", map[string]string{
		"from":   h.buyer.String(),
		"seller": h.seller.String(),
		"asset":  "native",
		"amount": "60",
	})
	require.NoError(t, json.Unmarshal(raw, &created))
	require.Equal(t, uint64(1), created.ID)

	var agreement AgreementResult
	raw = h.mustCall(t, "escrow_get", map[string]uint64{"id": created.ID})
	require.NoError(t, json.Unmarshal(raw, &agreement))
	require.Equal(t, "AWAITING_PAYMENT", agreement.State)
	require.Equal(t, h.buyer.String(), agreement.Buyer)
	require.Equal(t, "60", agreement.Amount)
	require.Equal(t, "native", agreement.Asset)

	h.mustCall(t, "escrow_deposit", map[string]interface{}{
		"id": created.ID, "from": h.buyer.String(), "value": "60",
	})
	h.mustCall(t, "escrow_confirm", map[string]interface{}{
		"id": created.ID, "from": h.buyer.String(),
	})

	raw = h.mustCall(t, "escrow_get", map[string]uint64{"id": created.ID})
	require.NoError(t, json.Unmarshal(raw, &agreement))
	require.Equal(t, "COMPLETE", agreement.State)

	var balance string
	raw = h.mustCall(t, "bank_getBalance", map[string]string{"address": h.seller.String()})
	require.NoError(t, json.Unmarshal(raw, &balance))
	require.Equal(t, "60", balance)

	var count uint64
	raw = h.mustCall(t, "escrow_count", nil)
	require.NoError(t, json.Unmarshal(raw, &count))
	require.Equal(t, uint64(1), count)

	var events []map[string]interface{}
	raw = h.mustCall(t, "escrow_listEvents", map[string]uint64{"id": created.ID})
	require.NoError(t, json.Unmarshal(raw, &events))
	require.Len(t, events, 3)
}

func TestDisputeLifecycleOverRPC(t *testing.T) {
	h := newTestHarness(t)
	require.NoError(t, h.ledger.Mint(toRaw(h.buyer), bigInt(t, "40")))
	require.NoError(t, h.ledger.Approve(toRaw(h.buyer), state.VaultAddress(), bigInt(t, "40")))
	require.NoError(t, h.manager.Commit())

	var created createResult
	raw := h.mustCall(t, "escrow_create", map[string]string{
		"from":   h.buyer.String(),
		"seller": h.seller.String(),
		"asset":  "PLT",
		"amount": "40",
	})
	require.NoError(t, json.Unmarshal(raw, &created))

	h.mustCall(t, "escrow_deposit", map[string]interface{}{
		"id": created.ID, "from": h.buyer.String(),
	})
	h.mustCall(t, "escrow_dispute", map[string]interface{}{
		"id": created.ID, "from": h.buyer.String(),
	})
	h.mustCall(t, "escrow_resolve", map[string]interface{}{
		"id": created.ID, "from": h.arbitrator.String(), "buyerWins": true,
	})

	var balance string
	raw = h.mustCall(t, "bank_getBalance", map[string]string{
		"address": h.buyer.String(), "token": "PLT",
	})
	require.NoError(t, json.Unmarshal(raw, &balance))
	require.Equal(t, "40", balance)
}

func TestArbitratorEndpoint(t *testing.T) {
	h := newTestHarness(t)
	var arbitrator string
	raw := h.mustCall(t, "escrow_arbitrator", nil)
	require.NoError(t, json.Unmarshal(raw, &arbitrator))
	require.Equal(t, h.arbitrator.String(), arbitrator)
}

func TestEngineErrorsMapToCodes(t *testing.T) {
	h := newTestHarness(t)
	h.fundNative(t, h.buyer, 100)
	h.mustCall(t, "escrow_create", map[string]string{
		"from":   h.buyer.String(),
		"seller": h.seller.String(),
		"asset":  "native",
		"amount": "10",
	})

	// Deposit from a stranger fails authorization.
	resp := h.call(t, "escrow_deposit", map[string]interface{}{
		"id": 1, "from": h.seller.String(), "value": "10",
	}, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	// Unknown agreement is an invalid-params failure.
	resp = h.call(t, "escrow_confirm", map[string]interface{}{
		"id": 99, "from": h.buyer.String(),
	}, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	// Malformed address fails before reaching the engine.
	resp = h.call(t, "escrow_deposit", map[string]interface{}{
		"id": 1, "from": "garbage", "value": "10",
	}, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestRequestValidation(t *testing.T) {
	h := newTestHarness(t)

	resp := h.call(t, "no_such_method", nil, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)

	recorder := httptest.NewRecorder()
	h.server.handle(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
	var methodResp testResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &methodResp))
	require.NotNil(t, methodResp.Error)
	require.Equal(t, codeInvalidRequest, methodResp.Error.Code)

	recorder = httptest.NewRecorder()
	h.server.handle(recorder, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{not json"))))
	var parseResp testResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &parseResp))
	require.NotNil(t, parseResp.Error)
	require.Equal(t, codeParseError, parseResp.Error.Code)
}

func TestBearerTokenGuardsMutatingMethods(t *testing.T) {
	t.Setenv("PAYLOCK_RPC_TOKEN", "secret")
	h := newTestHarness(t)
	h.fundNative(t, h.buyer, 100)

	params := map[string]string{
		"from":   h.buyer.String(),
		"seller": h.seller.String(),
		"asset":  "native",
		"amount": "10",
	}
	resp := h.call(t, "escrow_create", params, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	resp = h.call(t, "escrow_create", params, map[string]string{"Authorization": "Bearer wrong"})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	resp = h.call(t, "escrow_create", params, map[string]string{"Authorization": "Bearer secret"})
	require.Nil(t, resp.Error)

	// Read methods stay open.
	resp = h.call(t, "escrow_count", nil, nil)
	require.Nil(t, resp.Error)
}

func TestConcurrentReadsAndWrites(t *testing.T) {
	h := newTestHarness(t)
	h.fundNative(t, h.buyer, 1_000_000)

	createParams := map[string]string{
		"from":   h.buyer.String(),
		"seller": h.seller.String(),
		"asset":  "native",
		"amount": "1",
	}

	// Writers create agreements while readers hit every query method.
	// Overlapping goroutines must never corrupt the state overlay; the
	// race detector guards the locking discipline here.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				resp := h.call(t, "escrow_create", createParams, nil)
				if resp.Error != nil {
					t.Errorf("create: %+v", resp.Error)
					return
				}
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				h.call(t, "escrow_get", map[string]uint64{"id": 1}, nil)
				h.call(t, "escrow_count", nil, nil)
				h.call(t, "escrow_listEvents", map[string]uint64{"id": 1}, nil)
				h.call(t, "bank_getBalance", map[string]string{"address": h.buyer.String()}, nil)
				h.call(t, "escrow_arbitrator", nil, nil)
			}
		}()
	}
	wg.Wait()

	var count uint64
	raw := h.mustCall(t, "escrow_count", nil)
	require.NoError(t, json.Unmarshal(raw, &count))
	require.Equal(t, uint64(100), count)
}

func bigInt(t *testing.T, raw string) *big.Int {
	t.Helper()
	value, ok := new(big.Int).SetString(raw, 10)
	require.True(t, ok)
	return value
}
