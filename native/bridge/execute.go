package bridge

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	bridgeerrors "nhbbridge/core/errors"
	"nhbbridge/core/events"
	"nhbbridge/core/state"
	"nhbbridge/native/bridge/committee"
	"nhbbridge/native/bridge/message"
	"nhbbridge/native/bridge/quorum"
	"nhbbridge/native/bridge/sequencer"
	nativecommon "nhbbridge/native/common"
)

// ExecuteTokenTransfer releases funds for a committee-approved transfer.
func (e *Engine) ExecuteTokenTransfer(ctx context.Context, sigs [][]byte, msg message.Message) (*Receipt, error) {
	return e.execute(ctx, message.TypeTokenTransfer, sigs, msg)
}

// ExecuteBlocklist applies a committee-approved blocklist change.
func (e *Engine) ExecuteBlocklist(ctx context.Context, sigs [][]byte, msg message.Message) (*Receipt, error) {
	return e.execute(ctx, message.TypeBlocklist, sigs, msg)
}

// ExecuteEmergencyOp freezes or unfreezes the bridge.
func (e *Engine) ExecuteEmergencyOp(ctx context.Context, sigs [][]byte, msg message.Message) (*Receipt, error) {
	return e.execute(ctx, message.TypeEmergencyOp, sigs, msg)
}

// ExecuteUpdateLimit replaces an asset's window limit.
func (e *Engine) ExecuteUpdateLimit(ctx context.Context, sigs [][]byte, msg message.Message) (*Receipt, error) {
	return e.execute(ctx, message.TypeUpdateLimit, sigs, msg)
}

// Execute runs inst through the entry point for expected.
func (e *Engine) Execute(ctx context.Context, expected message.Type, inst message.SignedInstruction) (*Receipt, error) {
	return e.execute(ctx, expected, inst.RawSignatures(), inst.Message)
}

// Submit routes inst by the type carried in its message.
func (e *Engine) Submit(ctx context.Context, inst message.SignedInstruction) (*Receipt, error) {
	return e.Execute(ctx, inst.Message.Type, inst)
}

// staged bundles the views of one instruction's transaction.
type staged struct {
	tx        *state.Tx
	buffer    *events.Buffer
	registry  *committee.Registry
	pause     nativecommon.ModulePause
	pauses    *nativecommon.PauseStore
	sequencer *sequencer.Sequencer
	processed *sequencer.ProcessedSet
	vault     Vault
	limiter   Limiter
}

func (e *Engine) stage() *staged {
	tx := e.state.Begin()
	buffer := &events.Buffer{}
	pauses := nativecommon.NewPauseStore(tx)
	return &staged{
		tx:        tx,
		buffer:    buffer,
		registry:  committee.NewRegistry(tx, buffer),
		pause:     pauses.Module(nativecommon.ModuleBridge),
		pauses:    pauses,
		sequencer: sequencer.New(tx),
		processed: sequencer.NewProcessedSet(tx),
		vault:     e.vault(tx),
		limiter:   e.limiter(tx),
	}
}

func (e *Engine) execute(ctx context.Context, expected message.Type, sigs [][]byte, msg message.Message) (*Receipt, error) {
	receipt := newReceipt(msg)
	ctx, release, err := e.enter(ctx)
	if err != nil {
		receipt.reject(err)
		return receipt, err
	}
	defer release()

	ctx, span := e.tracer.Start(ctx, "bridge.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("bridge.type", msg.Type.String()),
		attribute.String("bridge.nonce", strconv.FormatUint(msg.Nonce, 10)),
		attribute.Int("bridge.source_chain", int(msg.SourceChain)),
		attribute.String("bridge.hash", receipt.Hash.Hex()),
	)

	if err := e.run(ctx, expected, sigs, msg, receipt); err != nil {
		receipt.reject(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		kind := bridgeerrors.Kind(err)
		e.metrics.ObserveRejected(msg.Type.String(), kind)
		e.logger.WarnContext(ctx, "bridge instruction rejected",
			"type", msg.Type.String(),
			"nonce", msg.Nonce,
			"source_chain", msg.SourceChain,
			"hash", receipt.Hash.Hex(),
			"status_reached", receipt.Trail[len(receipt.Trail)-2].String(),
			"kind", kind,
			"error", err)
		return receipt, err
	}

	span.SetAttributes(attribute.String("bridge.approved_stake", strconv.FormatUint(receipt.Tally.Approved, 10)))
	span.SetStatus(codes.Ok, "settled")
	e.metrics.ObserveAccepted(msg.Type.String(), receipt.Tally.Approved, receipt.Tally.Malformed)
	for _, evt := range receipt.Events {
		switch evt := evt.(type) {
		case events.TokensClaimed:
			e.metrics.AddSettled(evt.AssetID, evt.ForeignAmount)
		case events.EmergencyOp:
			e.metrics.SetPaused(evt.Frozen)
		}
	}
	if next, err := e.ExpectedNonce(msg.Type); err == nil {
		e.metrics.SetNextNonce(msg.Type.String(), next)
	}
	e.logger.InfoContext(ctx, "bridge instruction settled",
		"type", msg.Type.String(),
		"nonce", msg.Nonce,
		"source_chain", msg.SourceChain,
		"hash", receipt.Hash.Hex(),
		"approved_stake", receipt.Tally.Approved,
		"required_stake", receipt.Tally.Required,
		"events", len(receipt.Events))
	return receipt, nil
}

// run performs every step against a staged transaction and commits only when
// all of them succeed. Events reach the emitter after the commit.
func (e *Engine) run(ctx context.Context, expected message.Type, sigs [][]byte, msg message.Message, receipt *Receipt) error {
	if err := e.requireInitialized(); err != nil {
		return err
	}
	s := e.stage()
	defer s.tx.Discard()

	tally, err := quorum.NewVerifier(s.registry, s.pause, e.policy).Verify(sigs, msg, expected)
	receipt.Tally = tally
	if err != nil {
		return err
	}
	receipt.advance(StatusVerified)

	if err := s.sequencer.ConsumeNext(msg.Type, msg.Nonce); err != nil {
		return err
	}
	receipt.advance(StatusSequenced)

	payload, err := msg.Decode()
	if err != nil {
		return err
	}
	h := &handler{ctx: ctx, engine: e, staged: s, msg: msg}
	if err := message.Dispatch(payload, h); err != nil {
		return err
	}

	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("bridge: commit: %w", err)
	}
	receipt.Events = s.buffer.Events()
	s.buffer.Flush(e.emitter)
	receipt.advance(StatusSettled)
	return nil
}

// handler applies a decoded payload to the staged state.
type handler struct {
	ctx    context.Context
	engine *Engine
	staged *staged
	msg    message.Message
}

func (h *handler) guard() error {
	return nativecommon.Guard(h.staged.pauses, nativecommon.ModuleBridge)
}

func (h *handler) HandleTokenTransfer(p message.TokenTransfer) error {
	if err := h.guard(); err != nil {
		return err
	}
	if p.TargetChain != h.engine.chainID {
		return fmt.Errorf("%w: transfer targets chain %d, this is chain %d", bridgeerrors.ErrMalformedPayload, p.TargetChain, h.engine.chainID)
	}
	s := h.staged
	if err := s.processed.Check(h.msg.Type, h.msg.SourceChain, h.msg.Nonce); err != nil {
		return err
	}
	native, err := h.engine.assets.ToNative(p.AssetID, p.Amount)
	if err != nil {
		return err
	}
	if err := h.engine.callOut(func() error { return s.limiter.UpdateVolume(h.ctx, p.AssetID, p.Amount) }); err != nil {
		return fmt.Errorf("%w: limiter: %w", bridgeerrors.ErrSettlementFailed, err)
	}
	if err := h.engine.callOut(func() error { return s.vault.Transfer(h.ctx, p.AssetID, p.Target, native) }); err != nil {
		return fmt.Errorf("%w: vault: %w", bridgeerrors.ErrSettlementFailed, err)
	}
	if err := s.processed.MarkProcessed(h.msg.Type, h.msg.SourceChain, h.msg.Nonce); err != nil {
		return err
	}
	s.buffer.Emit(events.TokensClaimed{
		SourceChain:   h.msg.SourceChain,
		Nonce:         h.msg.Nonce,
		AssetID:       p.AssetID,
		Recipient:     p.Target,
		ForeignAmount: p.Amount,
		NativeAmount:  native,
	})
	return nil
}

func (h *handler) HandleBlocklist(p message.Blocklist) error {
	return h.staged.registry.SetBlocklist(p.Members, p.Blocked)
}

func (h *handler) HandleEmergencyOp(p message.EmergencyOp) error {
	paused, err := h.staged.pause.IsPaused()
	if err != nil {
		return err
	}
	if paused == p.Freeze {
		return fmt.Errorf("%w: paused=%t", bridgeerrors.ErrPauseUnchanged, paused)
	}
	if err := h.staged.pause.SetPaused(p.Freeze); err != nil {
		return err
	}
	h.staged.buffer.Emit(events.EmergencyOp{Frozen: p.Freeze})
	return nil
}

func (h *handler) HandleUpdateLimit(p message.UpdateLimit) error {
	if err := h.guard(); err != nil {
		return err
	}
	if _, err := h.engine.assets.Asset(p.AssetID); err != nil {
		return err
	}
	if err := h.engine.callOut(func() error { return h.staged.limiter.SetLimit(h.ctx, p.AssetID, p.Limit) }); err != nil {
		return fmt.Errorf("%w: limiter: %w", bridgeerrors.ErrSettlementFailed, err)
	}
	h.staged.buffer.Emit(events.LimitUpdated{AssetID: p.AssetID, Limit: p.Limit})
	return nil
}
