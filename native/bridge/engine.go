// Package bridge authorises and settles committee-signed cross-chain
// instructions. Every instruction runs as one atomic unit: quorum
// verification, nonce consumption, payload handling and settlement either all
// commit together or leave no trace.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	bridgeerrors "nhbbridge/core/errors"
	"nhbbridge/core/events"
	"nhbbridge/core/state"
	"nhbbridge/native/bridge/committee"
	"nhbbridge/native/bridge/decimals"
	"nhbbridge/native/bridge/message"
	"nhbbridge/native/bridge/quorum"
	"nhbbridge/native/bridge/sequencer"
	nativecommon "nhbbridge/native/common"
	"nhbbridge/native/limiter"
	"nhbbridge/native/vault"
	"nhbbridge/observability/metrics"
)

// Vault releases custody to recipients. Implementations are bound to the
// staged state of a single instruction.
type Vault interface {
	Transfer(ctx context.Context, assetID uint8, to common.Address, amount *uint256.Int) error
}

// Limiter tracks aggregate settled volume per asset.
type Limiter interface {
	UpdateVolume(ctx context.Context, assetID uint8, amount uint64) error
	SetLimit(ctx context.Context, assetID uint8, limit uint64) error
}

// VaultFactory binds a Vault to an instruction's staged state.
type VaultFactory func(kv state.KV) Vault

// LimiterFactory binds a Limiter to an instruction's staged state.
type LimiterFactory func(kv state.KV) Limiter

// Config wires the engine's policy and collaborators.
type Config struct {
	// ChainID is this chain's id; transfers targeting another chain are
	// rejected.
	ChainID uint8
	Policy  quorum.Policy
	Assets  *decimals.Table
	// WindowSeconds sizes the reference limiter's fixed windows.
	WindowSeconds uint32
	Vault         VaultFactory
	Limiter       LimiterFactory
	Emitter       events.Emitter
	Logger        *slog.Logger
	Metrics       *metrics.BridgeMetrics
	Now           func() time.Time
}

// AssetLimit seeds an asset's window limit at genesis.
type AssetLimit struct {
	AssetID uint8
	Limit   uint64
}

// Genesis is the one-time bridge setup.
type Genesis struct {
	Members []committee.Member
	Limits  []AssetLimit
}

type inFlightKey struct{}

// Engine serialises instruction processing over a state manager.
type Engine struct {
	mu       sync.Mutex
	settling atomic.Bool
	state   *state.Manager
	chainID uint8
	policy  quorum.Policy
	assets  *decimals.Table
	vault   VaultFactory
	limiter LimiterFactory
	emitter events.Emitter
	logger  *slog.Logger
	metrics *metrics.BridgeMetrics
	tracer  trace.Tracer
}

// NewEngine validates cfg and fills defaults: the reference vault and
// limiter, a no-op emitter and the default logger.
func NewEngine(mgr *state.Manager, cfg Config) (*Engine, error) {
	if mgr == nil {
		return nil, errors.New("bridge: state manager required")
	}
	if cfg.Assets == nil {
		return nil, errors.New("bridge: asset table required")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if cfg.Vault == nil {
		cfg.Vault = func(kv state.KV) Vault { return referenceVault{vault.New(kv)} }
	}
	if cfg.Limiter == nil {
		window := cfg.WindowSeconds
		cfg.Limiter = func(kv state.KV) Limiter { return referenceLimiter{limiter.New(kv, window, now)} }
	}
	if cfg.Emitter == nil {
		cfg.Emitter = events.NoopEmitter{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		state:   mgr,
		chainID: cfg.ChainID,
		policy:  cfg.Policy,
		assets:  cfg.Assets,
		vault:   cfg.Vault,
		limiter: cfg.Limiter,
		emitter: cfg.Emitter,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		tracer:  otel.Tracer("nhbbridge/engine"),
	}, nil
}

// enter rejects calls made while a collaborator is being called out to,
// whichever context they carry, and serialises everyone else. The returned
// context carries the in-flight marker handed to collaborators.
func (e *Engine) enter(ctx context.Context) (context.Context, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if owner, ok := ctx.Value(inFlightKey{}).(*Engine); ok && owner == e {
		return nil, nil, bridgeerrors.ErrReentrant
	}
	if e.settling.Load() {
		return nil, nil, bridgeerrors.ErrReentrant
	}
	e.mu.Lock()
	return context.WithValue(ctx, inFlightKey{}, e), e.mu.Unlock, nil
}

// callOut runs fn, which calls into a vault or limiter, with the engine
// marked as settling. The caller must hold e.mu.
func (e *Engine) callOut(fn func() error) error {
	e.settling.Store(true)
	defer e.settling.Store(false)
	return fn()
}

// Initialize stores the committee and the initial asset limits. It succeeds
// at most once per state.
func (e *Engine) Initialize(ctx context.Context, genesis Genesis) error {
	ctx, release, err := e.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	tx := e.state.Begin()
	defer tx.Discard()

	registry := committee.NewRegistry(tx, nil)
	if err := registry.Initialize(genesis.Members); err != nil {
		return err
	}
	lim := e.limiter(tx)
	for _, l := range genesis.Limits {
		if _, err := e.assets.Asset(l.AssetID); err != nil {
			return err
		}
		if err := e.callOut(func() error { return lim.SetLimit(ctx, l.AssetID, l.Limit) }); err != nil {
			return fmt.Errorf("bridge: seed limit: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.logger.Info("bridge initialised", "members", len(genesis.Members), "limits", len(genesis.Limits))
	return nil
}

// Initialized reports whether Initialize has completed.
func (e *Engine) Initialized() (bool, error) {
	return committee.NewRegistry(e.state, nil).Initialized()
}

func (e *Engine) requireInitialized() error {
	ok, err := e.Initialized()
	if err != nil {
		return err
	}
	if !ok {
		return bridgeerrors.ErrNotInitialized
	}
	return nil
}

// Verify runs quorum verification against committed state without executing
// anything.
func (e *Engine) Verify(sigs [][]byte, msg message.Message, expected message.Type) (quorum.Tally, error) {
	if err := e.requireInitialized(); err != nil {
		return quorum.Tally{}, err
	}
	registry := committee.NewRegistry(e.state, nil)
	pause := nativecommon.NewPauseStore(e.state).Module(nativecommon.ModuleBridge)
	return quorum.NewVerifier(registry, pause, e.policy).Verify(sigs, msg, expected)
}

// ExpectedNonce returns the nonce the next message of type t must carry.
func (e *Engine) ExpectedNonce(t message.Type) (uint64, error) {
	return sequencer.New(e.state).Expected(t)
}

// IsProcessed reports whether a token transfer has settled.
func (e *Engine) IsProcessed(t message.Type, sourceChain uint8, nonce uint64) (bool, error) {
	return sequencer.NewProcessedSet(e.state).IsProcessed(t, sourceChain, nonce)
}

// Member looks up a committee member.
func (e *Engine) Member(addr common.Address) (committee.Member, bool, error) {
	return committee.NewRegistry(e.state, nil).Member(addr)
}

// Members lists the committee ordered by address.
func (e *Engine) Members() ([]committee.Member, error) {
	return committee.NewRegistry(e.state, nil).Members()
}

// Stakes summarises total and blocklisted stake.
func (e *Engine) Stakes() (committee.Stakes, error) {
	return committee.NewRegistry(e.state, nil).Stakes()
}

// Paused reports whether the bridge is frozen.
func (e *Engine) Paused() (bool, error) {
	return nativecommon.NewPauseStore(e.state).IsPaused(nativecommon.ModuleBridge)
}

// Quote narrows a native amount of asset id and reports the dust that
// would stay in custody.
func (e *Engine) Quote(id uint8, amount *uint256.Int) (uint64, *uint256.Int, error) {
	return e.assets.Quote(id, amount)
}

// Assets lists the bridged assets.
func (e *Engine) Assets() []decimals.Asset {
	return e.assets.Assets()
}

// Policy returns the configured thresholds.
func (e *Engine) Policy() quorum.Policy {
	return e.policy
}

// ChainID returns the chain id transfers must target.
func (e *Engine) ChainID() uint8 {
	return e.chainID
}

type custodian interface {
	Fund(assetID uint8, amount *uint256.Int) error
	Custody(assetID uint8) (*uint256.Int, error)
}

// Fund adds amount to the custody of asset id. It is only available when the
// configured vault keeps custody itself.
func (e *Engine) Fund(ctx context.Context, id uint8, amount *uint256.Int) error {
	_, release, err := e.enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	if _, err := e.assets.Asset(id); err != nil {
		return err
	}
	tx := e.state.Begin()
	defer tx.Discard()
	c, ok := e.vault(tx).(custodian)
	if !ok {
		return errors.New("bridge: vault does not support funding")
	}
	if err := e.callOut(func() error { return c.Fund(id, amount) }); err != nil {
		return err
	}
	return tx.Commit()
}

// Custody returns the amount of asset id held by the vault.
func (e *Engine) Custody(id uint8) (*uint256.Int, error) {
	c, ok := e.vault(e.state).(custodian)
	if !ok {
		return nil, errors.New("bridge: vault does not expose custody")
	}
	return c.Custody(id)
}

type referenceVault struct {
	*vault.Vault
}

func (v referenceVault) Transfer(_ context.Context, assetID uint8, to common.Address, amount *uint256.Int) error {
	return v.Vault.Transfer(assetID, to, amount)
}

type referenceLimiter struct {
	*limiter.Limiter
}

func (l referenceLimiter) UpdateVolume(_ context.Context, assetID uint8, amount uint64) error {
	return l.Limiter.UpdateVolume(assetID, amount)
}

func (l referenceLimiter) SetLimit(_ context.Context, assetID uint8, limit uint64) error {
	return l.Limiter.SetLimit(assetID, limit)
}
