package picture

import (
	"encoding/json"
	"fmt"

	"github.com/tessera-chain/tessera/core"
	"github.com/tessera-chain/tessera/crypto"
	"github.com/tessera-chain/tessera/events"
	"github.com/tessera-chain/tessera/vm"
)

// handleOracleTransfer hands an unlocking capability to a new holder.
// Only the current holder can do this; the capability itself is never
// destroyed.
func handleOracleTransfer(ctx *vm.Context, payload json.RawMessage) error {
	var p core.OracleTransferPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode oracle_transfer payload: %w", err)
	}
	if _, err := crypto.PubKeyFromHex(p.To); err != nil {
		return fmt.Errorf("invalid to pubkey: %w", err)
	}

	cap, err := ctx.State.GetCapability(p.CapabilityID)
	if err != nil {
		return fmt.Errorf("capability %q not found: %w", p.CapabilityID, err)
	}
	if cap.Holder != ctx.Tx.From {
		return fmt.Errorf("caller does not hold capability %q", p.CapabilityID)
	}

	cap.Holder = p.To
	if err := ctx.State.SetCapability(cap); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventOracleHandoff,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data: map[string]any{
				"capability_id": p.CapabilityID,
				"game_id":       cap.GameID,
				"from":          ctx.Tx.From,
				"to":            p.To,
			},
		})
	}
	return nil
}
