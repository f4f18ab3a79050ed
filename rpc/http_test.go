package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"vaultswap/core/events"
	"vaultswap/native/escrow"
	"vaultswap/state"
	"vaultswap/storage"
)

type testEnv struct {
	server *Server
	engine *escrow.Engine
	ledger *state.Manager
	log    *events.Log
	now    int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ledger := state.NewManager(storage.NewMemDB())
	log := events.NewLog(64)
	engine := escrow.NewEngine()
	engine.SetLedger(ledger)
	engine.SetEmitter(log)
	env := &testEnv{server: NewServer(engine, ledger, log), engine: engine, ledger: ledger, log: log, now: 1_700_000_000}
	engine.SetNowFunc(func() int64 { return env.now })
	env.server.authToken = ""
	return env
}

func (env *testEnv) call(t *testing.T, method string, params interface{}, headers map[string]string) (*httptest.ResponseRecorder, RPCResponse) {
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
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, httpReq)
	var resp RPCResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response %q: %v", rec.Body.String(), err)
	}
	return rec, resp
}

func (env *testEnv) mustResult(t *testing.T, method string, params interface{}, out interface{}) {
	t.Helper()
	rec, resp := env.call(t, method, params, nil)
	if resp.Error != nil {
		t.Fatalf("%s failed with status %d: %+v", method, rec.Code, resp.Error)
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("remarshal result: %v", err)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("decode %s result: %v", method, err)
		}
	}
}

func addrHex(fill byte) string {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return fmt.Sprintf("0x%040x", addr)
}

func (env *testEnv) seed(t *testing.T, address, asset, amount string) {
	t.Helper()
	env.mustResult(t, "balance_credit", balanceCreditParams{Address: address, Asset: asset, Amount: amount}, nil)
}

func (env *testEnv) initiate(t *testing.T) (escrowResult, string, string) {
	t.Helper()
	buyer := addrHex(0x11)
	seller := addrHex(0x22)
	var res escrowResult
	env.mustResult(t, "escrow_initiate", initiateParams{
		ID:            "swap-1",
		Buyer:         buyer,
		Seller:        seller,
		DepositAsset:  "native",
		DepositAmount: "500",
		ReceiveAsset:  "usdc",
		ReceiveAmount: "900",
		Expiry:        env.now + 3600,
	}, &res)
	return res, buyer, seller
}

func TestMethodNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec, resp := env.call(t, "escrow_unknown", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found error, got %+v", resp.Error)
	}
}

func TestMalformedBody(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{not json")))
	env.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestInitiateReturnsRecord(t *testing.T) {
	env := newTestEnv(t)
	res, buyer, seller := env.initiate(t)
	if res.State != "pending" {
		t.Fatalf("expected pending state, got %q", res.State)
	}
	if res.Buyer != buyer || res.Seller != seller {
		t.Fatalf("unexpected parties: %q / %q", res.Buyer, res.Seller)
	}
	if res.Key == "" || res.VaultAddress == "" {
		t.Fatalf("expected derived key and vault address, got %+v", res)
	}
	if res.DepositAmount != "500" || res.ReceiveAmount != "900" {
		t.Fatalf("unexpected amounts: %+v", res)
	}
}

func TestInitiateRejectsMalformedAddress(t *testing.T) {
	env := newTestEnv(t)
	rec, resp := env.call(t, "escrow_initiate", initiateParams{
		ID:            "swap-1",
		Buyer:         "0x1234",
		Seller:        addrHex(0x22),
		DepositAsset:  "native",
		DepositAmount: "500",
		ReceiveAsset:  "usdc",
		ReceiveAmount: "900",
		Expiry:        env.now + 3600,
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid params, got %+v", resp.Error)
	}
}

func TestFullExchangeOverRPC(t *testing.T) {
	env := newTestEnv(t)
	res, buyer, seller := env.initiate(t)
	env.seed(t, buyer, "native", "1000")
	env.seed(t, seller, "usdc", "2000")

	var status statusResult
	env.mustResult(t, "escrow_accept", actorParams{Key: res.Key, Caller: seller}, &status)
	if status.State != "active" {
		t.Fatalf("expected active after accept, got %q", status.State)
	}
	env.mustResult(t, "escrow_fund", actorParams{Key: res.Key, Caller: buyer}, &status)
	if status.State != "funded" {
		t.Fatalf("expected funded, got %q", status.State)
	}
	env.mustResult(t, "escrow_sendAsset", actorParams{Key: res.Key, Caller: seller}, &status)
	if status.State != "asset_sent" {
		t.Fatalf("expected asset_sent, got %q", status.State)
	}
	env.mustResult(t, "escrow_confirm", actorParams{Key: res.Key, Caller: buyer}, &status)
	if status.State != "released" {
		t.Fatalf("expected released, got %q", status.State)
	}

	var balance balanceResult
	env.mustResult(t, "balance_get", balanceGetParams{Address: buyer, Asset: "usdc"}, &balance)
	if balance.Amount != "900" {
		t.Fatalf("buyer should hold 900 USDC, got %s", balance.Amount)
	}
	env.mustResult(t, "balance_get", balanceGetParams{Address: seller, Asset: "native"}, &balance)
	if balance.Amount != "500" {
		t.Fatalf("seller should hold 500 native, got %s", balance.Amount)
	}

	env.mustResult(t, "escrow_close", actorParams{Key: res.Key, Caller: buyer}, &status)
	rec, resp := env.call(t, "escrow_get", keyParams{Key: res.Key}, nil)
	if rec.Code != http.StatusNotFound || resp.Error == nil || resp.Error.Code != codeEscrowNotFound {
		t.Fatalf("closed escrow should be gone, got status %d error %+v", rec.Code, resp.Error)
	}
}

func TestUnauthorizedTransitionMapsToForbidden(t *testing.T) {
	env := newTestEnv(t)
	res, buyer, _ := env.initiate(t)
	rec, resp := env.call(t, "escrow_accept", actorParams{Key: res.Key, Caller: buyer}, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeEscrowForbidden {
		t.Fatalf("expected forbidden code, got %+v", resp.Error)
	}
}

func TestExpiredAcceptMapsToConflict(t *testing.T) {
	env := newTestEnv(t)
	res, _, seller := env.initiate(t)
	env.now += 7200
	rec, resp := env.call(t, "escrow_accept", actorParams{Key: res.Key, Caller: seller}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeEscrowExpired {
		t.Fatalf("expected expired code, got %+v", resp.Error)
	}
}

func TestInsufficientBalanceMapsToBalanceCode(t *testing.T) {
	env := newTestEnv(t)
	res, buyer, seller := env.initiate(t)
	var status statusResult
	env.mustResult(t, "escrow_accept", actorParams{Key: res.Key, Caller: seller}, &status)
	rec, resp := env.call(t, "escrow_fund", actorParams{Key: res.Key, Caller: buyer}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeEscrowBalance {
		t.Fatalf("expected balance code, got %+v", resp.Error)
	}
}

func TestEventsListing(t *testing.T) {
	env := newTestEnv(t)
	res, _, seller := env.initiate(t)
	var status statusResult
	env.mustResult(t, "escrow_accept", actorParams{Key: res.Key, Caller: seller}, &status)

	var results []eventResult
	env.mustResult(t, "escrow_events", eventsParams{Prefix: "escrow.", Limit: 10}, &results)
	if len(results) != 2 {
		t.Fatalf("expected 2 events, got %d", len(results))
	}
	if results[0].Type != escrow.EventTypeCreated || results[1].Type != escrow.EventTypeAccepted {
		t.Fatalf("unexpected event order: %+v", results)
	}
	if results[1].Attributes["id"] != "swap-1" {
		t.Fatalf("expected id attribute, got %+v", results[1].Attributes)
	}
}

func TestAuthTokenRequired(t *testing.T) {
	env := newTestEnv(t)
	env.server.authToken = "sesame"

	rec, resp := env.call(t, "escrow_initiate", initiateParams{
		ID:            "swap-1",
		Buyer:         addrHex(0x11),
		Seller:        addrHex(0x22),
		DepositAsset:  "native",
		DepositAmount: "500",
		ReceiveAsset:  "usdc",
		ReceiveAmount: "900",
		Expiry:        env.now + 3600,
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized code, got %+v", resp.Error)
	}

	rec, resp = env.call(t, "escrow_initiate", initiateParams{
		ID:            "swap-1",
		Buyer:         addrHex(0x11),
		Seller:        addrHex(0x22),
		DepositAsset:  "native",
		DepositAmount: "500",
		ReceiveAsset:  "usdc",
		ReceiveAmount: "900",
		Expiry:        env.now + 3600,
	}, map[string]string{"Authorization": "Bearer sesame"})
	if rec.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("expected success with token, got status %d error %+v", rec.Code, resp.Error)
	}

	// reads stay open
	rec, _ = env.call(t, "escrow_events", eventsParams{Limit: 10}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected events without token, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
