// Package picture implements the guess-the-picture game module: paid tile
// reveals feeding a pooled prize, an oracle capability gating key
// publication, and a commit/reveal protocol for the winning guess.
package picture

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tessera-chain/tessera/core"
	"github.com/tessera-chain/tessera/crypto"
	"github.com/tessera-chain/tessera/events"
	"github.com/tessera-chain/tessera/vm"
)

func init() {
	vm.Register(core.TxGameCreate, handleGameCreate)
	vm.Register(core.TxRevealRequest, handleRevealRequest)
	vm.Register(core.TxRevealFulfill, handleRevealFulfill)
	vm.Register(core.TxCommitGuess, handleCommitGuess)
	vm.Register(core.TxSolve, handleSolve)
	vm.Register(core.TxOracleTransfer, handleOracleTransfer)
}

// handleGameCreate builds a new game from the construction vectors and mints
// its oracle capability to the named holder. Game and capability IDs are
// derived from the tx ID, so they are unique without a counter.
func handleGameCreate(ctx *vm.Context, payload json.RawMessage) error {
	var p core.GameCreatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode game_create payload: %w", err)
	}
	if p.Oracle == "" {
		p.Oracle = ctx.Tx.From
	} else if _, err := crypto.PubKeyFromHex(p.Oracle); err != nil {
		return fmt.Errorf("invalid oracle pubkey: %w", err)
	}

	solveDelay := int64(-1) // negative selects the default
	if p.SolveDelayMS != nil {
		if *p.SolveDelayMS < 0 {
			return fmt.Errorf("solve_delay_ms must be >= 0")
		}
		solveDelay = *p.SolveDelayMS * int64(time.Millisecond)
	}

	gameID := crypto.Hash([]byte(ctx.Tx.ID + ":game"))
	game, err := core.NewGame(gameID, ctx.Tx.From, p.AnswerDigest, p.ManifestURI,
		p.TilePrice, p.LockedSecrets, p.UnlockRefs, solveDelay, ctx.Block.Header.Timestamp)
	if err != nil {
		return err
	}
	if err := ctx.State.SetGame(game); err != nil {
		return err
	}

	cap := &core.OracleCapability{
		ID:     crypto.Hash([]byte(ctx.Tx.ID + ":oracle:" + gameID)),
		GameID: gameID,
		Holder: p.Oracle,
	}
	if err := ctx.State.SetCapability(cap); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventGameCreated,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data: map[string]any{
				"game_id":       gameID,
				"creator":       ctx.Tx.From,
				"tile_count":    game.TileCount,
				"tile_price":    game.TilePrice,
				"capability_id": cap.ID,
				"oracle":        cap.Holder,
			},
		})
	}
	return nil
}
