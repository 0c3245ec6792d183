package picture

import (
	"encoding/json"
	"fmt"

	"github.com/tessera-chain/tessera/core"
	"github.com/tessera-chain/tessera/events"
	"github.com/tessera-chain/tessera/vm"
)

// handleRevealRequest escrows an exact-price payment for one tile and emits
// the reveal_requested event the off-chain unlocking agent listens for.
// The payment is gone even if the agent never fulfills; that is an
// operational risk of the agent, not a protocol concern.
func handleRevealRequest(ctx *vm.Context, payload json.RawMessage) error {
	var p core.RevealRequestPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode reveal_request payload: %w", err)
	}

	game, err := ctx.State.GetGame(p.GameID)
	if err != nil {
		return fmt.Errorf("game %q not found: %w", p.GameID, err)
	}
	if err := game.RequestReveal(p.TileIndex, p.Payment); err != nil {
		return err
	}

	payer, err := ctx.State.GetAccount(ctx.Tx.From)
	if err != nil {
		return err
	}
	if payer.Balance < p.Payment {
		return fmt.Errorf("insufficient balance for reveal: have %d need %d", payer.Balance, p.Payment)
	}
	payer.Balance -= p.Payment
	if err := ctx.State.SetAccount(payer); err != nil {
		return err
	}
	if err := ctx.State.SetGame(game); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventRevealRequested,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data: map[string]any{
				"game_id":    p.GameID,
				"tile_index": p.TileIndex,
				"unlock_ref": game.UnlockRefs[p.TileIndex],
				"requester":  ctx.Tx.From,
			},
		})
	}
	return nil
}

// handleRevealFulfill publishes a decrypted tile key. The sender must hold
// the game's oracle capability. Re-fulfilling an already-open tile is a
// silent no-op (the agent delivers at-least-once), and fulfillment is
// allowed after the game is solved so spectators keep seeing tiles.
func handleRevealFulfill(ctx *vm.Context, payload json.RawMessage) error {
	var p core.RevealFulfillPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode reveal_fulfill payload: %w", err)
	}
	if p.Key == "" {
		return fmt.Errorf("key required")
	}

	cap, err := ctx.State.GetCapability(p.CapabilityID)
	if err != nil {
		return fmt.Errorf("capability %q not found: %w", p.CapabilityID, err)
	}
	if cap.Holder != ctx.Tx.From {
		return fmt.Errorf("caller does not hold capability %q", p.CapabilityID)
	}
	if cap.GameID != p.GameID {
		return fmt.Errorf("capability %q is for game %q, not %q", p.CapabilityID, cap.GameID, p.GameID)
	}

	game, err := ctx.State.GetGame(p.GameID)
	if err != nil {
		return fmt.Errorf("game %q not found: %w", p.GameID, err)
	}
	changed, err := game.FulfillReveal(p.TileIndex, p.Key)
	if err != nil {
		return err
	}
	if !changed {
		return nil // replayed fulfillment; no event, no error
	}
	if err := ctx.State.SetGame(game); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventTileRevealed,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data: map[string]any{
				"game_id":    p.GameID,
				"tile_index": p.TileIndex,
			},
		})
	}
	return nil
}
