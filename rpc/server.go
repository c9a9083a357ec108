// Package rpc exposes the bridge engine over HTTP.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	bridgeerrors "nhbbridge/core/errors"
	"nhbbridge/crypto"
	"nhbbridge/native/bridge"
	"nhbbridge/native/bridge/committee"
	"nhbbridge/native/bridge/decimals"
	"nhbbridge/native/bridge/message"
	"nhbbridge/native/bridge/quorum"
)

const maxBodyBytes = 1 << 20

// Bridge is the engine surface served over HTTP.
type Bridge interface {
	Submit(ctx context.Context, inst message.SignedInstruction) (*bridge.Receipt, error)
	Execute(ctx context.Context, expected message.Type, inst message.SignedInstruction) (*bridge.Receipt, error)
	Verify(sigs [][]byte, msg message.Message, expected message.Type) (quorum.Tally, error)
	ExpectedNonce(t message.Type) (uint64, error)
	IsProcessed(t message.Type, sourceChain uint8, nonce uint64) (bool, error)
	Member(addr common.Address) (committee.Member, bool, error)
	Members() ([]committee.Member, error)
	Stakes() (committee.Stakes, error)
	Paused() (bool, error)
	Assets() []decimals.Asset
	Quote(id uint8, amount *uint256.Int) (uint64, *uint256.Int, error)
	Custody(id uint8) (*uint256.Int, error)
	Policy() quorum.Policy
	ChainID() uint8
}

// Config wires the server.
type Config struct {
	Bridge    Bridge
	Logger    *slog.Logger
	RateLimit RateLimit
}

// Server routes HTTP requests to the bridge engine.
type Server struct {
	bridge  Bridge
	logger  *slog.Logger
	limiter *RateLimiter
	router  http.Handler
}

// New constructs the router. A zero RateLimit disables throttling.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{bridge: cfg.Bridge, logger: logger}
	if cfg.RateLimit.RequestsPerMinute > 0 {
		srv.limiter = NewRateLimiter(cfg.RateLimit, logger)
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.accessLog)

	r.Get("/healthz", s.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		if s.limiter != nil {
			api.Use(s.limiter.Middleware)
		}
		api.Post("/instructions", s.SubmitInstruction)
		api.Post("/instructions/{type}", s.ExecuteInstruction)
		api.Post("/verify/{type}", s.VerifyInstruction)
		api.Get("/nonces/{type}", s.GetNonce)
		api.Get("/processed/{type}/{chain}/{nonce}", s.GetProcessed)
		api.Get("/committee", s.ListCommittee)
		api.Get("/committee/{address}", s.GetMember)
		api.Get("/assets", s.ListAssets)
		api.Get("/assets/{id}/quote", s.QuoteAsset)
		api.Get("/paused", s.GetPaused)
	})
	return r
}

// Health reports liveness together with the bridge's chain id.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "chainId": s.bridge.ChainID()})
}

// SubmitInstruction routes a signed instruction by its message type.
func (s *Server) SubmitInstruction(w http.ResponseWriter, r *http.Request) {
	inst, ok := decodeInstruction(w, r)
	if !ok {
		return
	}
	receipt, err := s.bridge.Submit(r.Context(), inst)
	writeReceipt(w, receipt, err)
}

// ExecuteInstruction runs a signed instruction through the entry point named
// in the path; a message of another type is rejected.
func (s *Server) ExecuteInstruction(w http.ResponseWriter, r *http.Request) {
	expected, ok := pathType(w, r)
	if !ok {
		return
	}
	inst, ok := decodeInstruction(w, r)
	if !ok {
		return
	}
	receipt, err := s.bridge.Execute(r.Context(), expected, inst)
	writeReceipt(w, receipt, err)
}

type tallyResponse struct {
	Required    uint64   `json:"requiredStake"`
	Approved    uint64   `json:"approvedStake"`
	Signers     []string `json:"signers"`
	Blocklisted []string `json:"blocklisted"`
	Malformed   int      `json:"malformedSignatures"`
	Valid       bool     `json:"valid"`
	Kind        string   `json:"kind,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// VerifyInstruction checks quorum without executing anything.
func (s *Server) VerifyInstruction(w http.ResponseWriter, r *http.Request) {
	expected, ok := pathType(w, r)
	if !ok {
		return
	}
	inst, ok := decodeInstruction(w, r)
	if !ok {
		return
	}
	tally, err := s.bridge.Verify(inst.RawSignatures(), inst.Message, expected)
	resp := tallyResponse{
		Required:    tally.Required,
		Approved:    tally.Approved,
		Signers:     hexAddresses(tally.Signers),
		Blocklisted: hexAddresses(tally.Blocklisted),
		Malformed:   tally.Malformed,
		Valid:       err == nil,
	}
	status := http.StatusOK
	if err != nil {
		resp.Kind = bridgeerrors.Kind(err)
		resp.Error = err.Error()
		status = statusFor(err)
	}
	writeJSON(w, status, resp)
}

// GetNonce returns the next nonce accepted for a message type.
func (s *Server) GetNonce(w http.ResponseWriter, r *http.Request) {
	t, ok := pathType(w, r)
	if !ok {
		return
	}
	next, err := s.bridge.ExpectedNonce(t)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"type": t.String(), "next": next})
}

// GetProcessed reports whether a token transfer has settled.
func (s *Server) GetProcessed(w http.ResponseWriter, r *http.Request) {
	t, ok := pathType(w, r)
	if !ok {
		return
	}
	chain, err := strconv.ParseUint(chi.URLParam(r, "chain"), 10, 8)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid source chain"))
		return
	}
	nonce, err := strconv.ParseUint(chi.URLParam(r, "nonce"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid nonce"))
		return
	}
	processed, err := s.bridge.IsProcessed(t, uint8(chain), nonce)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"type":        t.String(),
		"sourceChain": chain,
		"nonce":       nonce,
		"processed":   processed,
	})
}

type memberResponse struct {
	Address     string `json:"address"`
	Bech32      string `json:"bech32"`
	Stake       uint64 `json:"stake"`
	Blocklisted bool   `json:"blocklisted"`
}

func toMemberResponse(m committee.Member) memberResponse {
	return memberResponse{
		Address:     m.Address.Hex(),
		Bech32:      crypto.FormatAddress(m.Address),
		Stake:       m.Stake,
		Blocklisted: m.Blocklisted,
	}
}

// ListCommittee returns the members, stake totals and thresholds.
func (s *Server) ListCommittee(w http.ResponseWriter, r *http.Request) {
	members, err := s.bridge.Members()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	stakes, err := s.bridge.Stakes()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	out := make([]memberResponse, len(members))
	for i, m := range members {
		out[i] = toMemberResponse(m)
	}
	policy := s.bridge.Policy()
	writeJSON(w, http.StatusOK, map[string]any{
		"members":          out,
		"totalStake":       stakes.Total,
		"blocklistedStake": stakes.Blocklisted,
		"eligibleStake":    stakes.Eligible(),
		"thresholds": map[string]uint64{
			"tokenTransfer":    policy.TokenTransfer,
			"blocklist":        policy.Blocklist,
			"updateLimit":      policy.UpdateLimit,
			"emergencyPause":   policy.EmergencyPause,
			"emergencyUnpause": policy.EmergencyUnpause,
		},
	})
}

// GetMember looks up one member by hex or bech32 address.
func (s *Server) GetMember(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	member, ok, err := s.bridge.Member(addr)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("not a committee member"))
		return
	}
	writeJSON(w, http.StatusOK, toMemberResponse(member))
}

type assetResponse struct {
	ID              uint8  `json:"id"`
	Symbol          string `json:"symbol"`
	NativeDecimals  uint8  `json:"nativeDecimals"`
	ForeignDecimals uint8  `json:"foreignDecimals"`
	Custody         string `json:"custody,omitempty"`
}

// ListAssets returns the bridged assets and their custody when the vault
// exposes it.
func (s *Server) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets := s.bridge.Assets()
	out := make([]assetResponse, len(assets))
	for i, a := range assets {
		out[i] = assetResponse{
			ID:              a.ID,
			Symbol:          a.Symbol,
			NativeDecimals:  a.NativeDecimals,
			ForeignDecimals: a.ForeignDecimals,
		}
		if custody, err := s.bridge.Custody(a.ID); err == nil {
			out[i].Custody = custody.Dec()
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": out})
}

// QuoteAsset converts a native amount to foreign units and reports the dust.
func (s *Server) QuoteAsset(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 8)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid asset id"))
		return
	}
	amount, err := uint256.FromDecimal(strings.TrimSpace(r.URL.Query().Get("amount")))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("amount must be a decimal integer"))
		return
	}
	foreign, dust, err := s.bridge.Quote(uint8(id), amount)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"assetId": id,
		"native":  amount.Dec(),
		"foreign": foreign,
		"dust":    dust.Dec(),
	})
}

// GetPaused reports whether the bridge is frozen.
func (s *Server) GetPaused(w http.ResponseWriter, r *http.Request) {
	paused, err := s.bridge.Paused()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}

func decodeInstruction(w http.ResponseWriter, r *http.Request) (message.SignedInstruction, bool) {
	var inst message.SignedInstruction
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&inst); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid instruction body"))
		return inst, false
	}
	return inst, true
}

func pathType(w http.ResponseWriter, r *http.Request) (message.Type, bool) {
	t, err := message.ParseType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return 0, false
	}
	return t, true
}

func writeReceipt(w http.ResponseWriter, receipt *bridge.Receipt, err error) {
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
	}
	if receipt == nil {
		writeError(w, status, err)
		return
	}
	writeJSON(w, status, receipt)
}

// statusFor maps the bridge error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch bridgeerrors.Kind(err) {
	case "":
		return http.StatusOK
	case "NotInitialized", "BridgePaused":
		return http.StatusServiceUnavailable
	case "NonceMismatch", "AlreadyProcessed", "PauseUnchanged", "Reentrant", "AlreadyInitialized":
		return http.StatusConflict
	case "InsufficientStake", "UnknownSigner", "DuplicateSigner":
		return http.StatusForbidden
	case "UnsupportedAsset":
		return http.StatusNotFound
	case "Internal":
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

func hexAddresses(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := map[string]string{"error": http.StatusText(status)}
	if err != nil {
		body["error"] = err.Error()
		if kind := bridgeerrors.Kind(err); kind != "Internal" {
			body["kind"] = kind
		}
	}
	writeJSON(w, status, body)
}
