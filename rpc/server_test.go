package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"nhbbridge/core/state"
	"nhbbridge/crypto"
	"nhbbridge/native/bridge"
	"nhbbridge/native/bridge/committee"
	"nhbbridge/native/bridge/decimals"
	"nhbbridge/native/bridge/message"
	"nhbbridge/native/bridge/quorum"
	"nhbbridge/observability/metrics"
	"nhbbridge/storage"
)

const (
	localChain  uint8 = 2
	remoteChain uint8 = 1
)

var recipient = common.Address{0xca, 0xfe}

type fixture struct {
	t      *testing.T
	engine *bridge.Engine
	server *httptest.Server
	keys   []*crypto.PrivateKey
}

func newFixture(t *testing.T, limit RateLimit) *fixture {
	t.Helper()
	table, err := decimals.NewTable([]decimals.Asset{{ID: 1, Symbol: "NHB", NativeDecimals: 18, ForeignDecimals: 9}})
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine, err := bridge.NewEngine(state.NewManager(storage.NewMemDB()), bridge.Config{
		ChainID:       localChain,
		Policy:        quorum.DefaultPolicy(),
		Assets:        table,
		WindowSeconds: 3600,
		Logger:        logger,
		Metrics:       metrics.Bridge(),
		Now:           func() time.Time { return time.Unix(1_700_000_000, 0) },
	})
	require.NoError(t, err)

	f := &fixture{t: t, engine: engine}
	for i := 0; i < 2; i++ {
		key, err := crypto.GeneratePrivateKey()
		require.NoError(t, err)
		f.keys = append(f.keys, key)
	}
	ctx := context.Background()
	require.NoError(t, engine.Initialize(ctx, bridge.Genesis{Members: []committee.Member{
		{Address: f.keys[0].PubKey().Address(), Stake: 7000},
		{Address: f.keys[1].PubKey().Address(), Stake: 3000},
	}}))
	require.NoError(t, engine.Fund(ctx, 1, uint256.NewInt(10_000_000_000_000_000_000)))

	f.server = httptest.NewServer(New(Config{Bridge: engine, Logger: logger, RateLimit: limit}).Handler())
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) instruction(nonce uint64, amount uint64, signers ...int) message.SignedInstruction {
	f.t.Helper()
	msg, err := message.New(nonce, remoteChain, message.TokenTransfer{
		Sender:      []byte("sender"),
		TargetChain: localChain,
		Target:      recipient,
		AssetID:     1,
		Amount:      amount,
	})
	require.NoError(f.t, err)
	inst := message.SignedInstruction{Message: msg}
	for _, i := range signers {
		sig, err := crypto.Sign(msg.Hash().Bytes(), f.keys[i])
		require.NoError(f.t, err)
		inst.Signatures = append(inst.Signatures, hexutil.Bytes(sig))
	}
	return inst
}

func (f *fixture) post(path string, body any) (*http.Response, map[string]any) {
	f.t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(f.t, err)
	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(f.t, err)
	return resp, decodeBody(f.t, resp)
}

func (f *fixture) get(path string) (*http.Response, map[string]any) {
	f.t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(f.t, err)
	return resp, decodeBody(f.t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	out := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestSubmitSettlesTransfer(t *testing.T) {
	f := newFixture(t, RateLimit{})
	resp, body := f.post("/v1/instructions", f.instruction(0, 1_000_000_000, 0))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "settled", body["status"])
	require.EqualValues(t, 7000, body["approvedStake"])
	require.NotEmpty(t, resp.Header.Get(RequestIDHeader))

	resp, body = f.get("/v1/nonces/token_transfer")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, body["next"])

	resp, body = f.get("/v1/processed/token_transfer/1/0")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["processed"])

	resp, body = f.get("/v1/assets")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assets := body["assets"].([]any)
	require.Len(t, assets, 1)
	require.Equal(t, "9000000000000000000", assets[0].(map[string]any)["custody"])
}

func TestSubmitRejectsInsufficientStake(t *testing.T) {
	f := newFixture(t, RateLimit{})
	resp, body := f.post("/v1/instructions", f.instruction(0, 1, 1))
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "rejected", body["status"])
	require.Equal(t, "InsufficientStake", body["kind"])

	_, body = f.get("/v1/nonces/0")
	require.EqualValues(t, 0, body["next"])
}

func TestExecuteChecksPathType(t *testing.T) {
	f := newFixture(t, RateLimit{})
	resp, body := f.post("/v1/instructions/blocklist", f.instruction(0, 1, 0))
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, "TypeMismatch", body["kind"])

	resp, _ = f.post("/v1/instructions/nonsense", f.instruction(0, 1, 0))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReplayConflicts(t *testing.T) {
	f := newFixture(t, RateLimit{})
	inst := f.instruction(0, 1, 0)
	resp, _ := f.post("/v1/instructions/token_transfer", inst)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := f.post("/v1/instructions/token_transfer", inst)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "NonceMismatch", body["kind"])
}

func TestVerifyDoesNotExecute(t *testing.T) {
	f := newFixture(t, RateLimit{})
	resp, body := f.post("/v1/verify/token_transfer", f.instruction(0, 1, 0, 1))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["valid"])
	require.EqualValues(t, 10_000, body["approvedStake"])
	require.EqualValues(t, 6667, body["requiredStake"])

	resp, body = f.post("/v1/verify/token_transfer", f.instruction(0, 1, 1))
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, false, body["valid"])

	next, err := f.engine.ExpectedNonce(message.TypeTokenTransfer)
	require.NoError(t, err)
	require.Zero(t, next)
}

func TestRejectsMalformedBody(t *testing.T) {
	f := newFixture(t, RateLimit{})
	resp, err := http.Post(f.server.URL+"/v1/instructions", "application/json", strings.NewReader(`{"message":`))
	require.NoError(t, err)
	body := decodeBody(t, resp)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid instruction body", body["error"])
}

func TestCommitteeQueries(t *testing.T) {
	f := newFixture(t, RateLimit{})
	resp, body := f.get("/v1/committee")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["members"], 2)
	require.EqualValues(t, 10_000, body["eligibleStake"])

	addr := f.keys[0].PubKey().Address()
	resp, body = f.get("/v1/committee/" + crypto.FormatAddress(addr))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, addr.Hex(), body["address"])
	require.EqualValues(t, 7000, body["stake"])

	resp, _ = f.get("/v1/committee/" + common.Address{0x01}.Hex())
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.get("/v1/committee/garbage")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQuoteAndPaused(t *testing.T) {
	f := newFixture(t, RateLimit{})
	resp, body := f.get("/v1/assets/1/quote?amount=1500000000100000000")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1_500_000_000, body["foreign"])
	require.Equal(t, "100000000", body["dust"])

	resp, body = f.get("/v1/assets/9/quote?amount=1")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "UnsupportedAsset", body["kind"])

	resp, _ = f.get("/v1/assets/1/quote?amount=-4")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.get("/v1/paused")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, false, body["paused"])
}

func TestHealthAndRequestID(t *testing.T) {
	f := newFixture(t, RateLimit{})
	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "trace-me")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body := decodeBody(t, resp)
	require.Equal(t, "trace-me", resp.Header.Get(RequestIDHeader))
	require.Equal(t, "ok", body["status"])
	require.EqualValues(t, localChain, body["chainId"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, RateLimit{})
	resp, _ := f.post("/v1/instructions", f.instruction(0, 1, 0))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err := http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(raw), "nhb_bridge_instructions_total")
}

func TestRateLimiterThrottlesClient(t *testing.T) {
	f := newFixture(t, RateLimit{RequestsPerMinute: 1, Burst: 2})
	for i := 0; i < 2; i++ {
		resp, _ := f.get("/v1/paused")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, _ := f.get("/v1/paused")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp, _ = f.get("/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	now := time.Unix(0, 0)
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 1, Burst: 1}, nil)
	limiter.clockNow = func() time.Time { return now }
	require.True(t, limiter.allow("a"))
	require.False(t, limiter.allow("a"))

	now = now.Add(visitorTTL + time.Second)
	require.True(t, limiter.allow("b"))
	require.Len(t, limiter.visitors, 1)
}
