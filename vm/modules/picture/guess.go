package picture

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tessera-chain/tessera/core"
	"github.com/tessera-chain/tessera/events"
	"github.com/tessera-chain/tessera/vm"
)

// handleCommitGuess seals the sender's guess digest. A re-commit before
// solving silently replaces the previous one.
func handleCommitGuess(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CommitGuessPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode commit_guess payload: %w", err)
	}

	game, err := ctx.State.GetGame(p.GameID)
	if err != nil {
		return fmt.Errorf("game %q not found: %w", p.GameID, err)
	}
	if err := game.CommitGuess(ctx.Tx.From, p.Digest, ctx.Block.Header.Timestamp); err != nil {
		return err
	}
	if err := ctx.State.SetGame(game); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventGuessCommitted,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data: map[string]any{
				"game_id": p.GameID,
				"player":  ctx.Tx.From,
			},
		})
	}
	return nil
}

// handleSolve adjudicates a revealed guess and, on success, settles the game:
// the whole prize pool moves to the winner in the same transaction that flips
// the solved flag.
//
// A wrong guess is NOT a failed transaction: the commitment it spent must
// stay spent, so the handler persists the consumption, emits guess_rejected
// and returns nil. Returning the error instead would roll the consumption
// back (and make the tx unmineable), which would let a player retry a
// commitment forever. Missing commitment, solved game and too-fresh
// commitment are genuine aborts and leave no trace.
func handleSolve(ctx *vm.Context, payload json.RawMessage) error {
	var p core.SolvePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode solve payload: %w", err)
	}

	game, err := ctx.State.GetGame(p.GameID)
	if err != nil {
		return fmt.Errorf("game %q not found: %w", p.GameID, err)
	}

	payout, err := game.Solve(ctx.Tx.From, p.Answer, p.PlayerSalt, p.GameSalt, ctx.Block.Header.Timestamp)
	if errors.Is(err, core.ErrIncorrectAnswer) {
		if serr := ctx.State.SetGame(game); serr != nil {
			return serr
		}
		if ctx.Emitter != nil {
			ctx.Emitter.Emit(events.Event{
				Type:        events.EventGuessRejected,
				TxID:        ctx.Tx.ID,
				BlockHeight: ctx.Block.Header.Height,
				Data: map[string]any{
					"game_id": p.GameID,
					"player":  ctx.Tx.From,
					"reason":  err.Error(),
				},
			})
		}
		return nil
	}
	if err != nil {
		return err
	}

	if err := ctx.State.SetGame(game); err != nil {
		return err
	}
	winner, err := ctx.State.GetAccount(ctx.Tx.From)
	if err != nil {
		return err
	}
	winner.Balance += payout
	if err := ctx.State.SetAccount(winner); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventGameSolved,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data: map[string]any{
				"game_id": p.GameID,
				"winner":  ctx.Tx.From,
				"payout":  payout,
			},
		})
	}
	return nil
}
