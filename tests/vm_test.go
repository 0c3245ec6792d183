package tests

import (
	"testing"

	"github.com/tessera-chain/tessera/core"
	"github.com/tessera-chain/tessera/crypto"
	"github.com/tessera-chain/tessera/events"
	"github.com/tessera-chain/tessera/internal/testutil"
	"github.com/tessera-chain/tessera/storage"
	"github.com/tessera-chain/tessera/vm"
	"github.com/tessera-chain/tessera/wallet"

	// Register VM modules
	_ "github.com/tessera-chain/tessera/vm/modules/economy"
	_ "github.com/tessera-chain/tessera/vm/modules/picture"
)

func newInMemState(t *testing.T) core.State {
	t.Helper()
	return storage.NewStateDB(testutil.NewMemDB())
}

// TestTokenTransfer verifies that the economy transfer handler moves tokens.
func TestTokenTransfer(t *testing.T) {
	state := newInMemState(t)
	emitter := events.NewEmitter()
	exec := vm.NewExecutor(state, emitter)

	sender, _ := wallet.Generate()
	receiver, _ := wallet.Generate()

	_ = state.SetAccount(&core.Account{Address: sender.PubKey(), Balance: 1000})

	tx, err := sender.Transfer("test-chain", receiver.PubKey(), 300, 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	block := core.NewBlock(1, "0000", sender.PubKey(), []*core.Transaction{tx})
	if err := exec.ExecuteTx(block, tx); err != nil {
		t.Fatalf("ExecuteTx: %v", err)
	}

	senderAcc, _ := state.GetAccount(sender.PubKey())
	if senderAcc.Balance != 700 {
		t.Errorf("sender balance: got %d want 700", senderAcc.Balance)
	}
	receiverAcc, _ := state.GetAccount(receiver.PubKey())
	if receiverAcc.Balance != 300 {
		t.Errorf("receiver balance: got %d want 300", receiverAcc.Balance)
	}
}

// TestNonceReplay verifies that replaying a transaction with the same nonce fails.
func TestNonceReplay(t *testing.T) {
	state := newInMemState(t)
	exec := vm.NewExecutor(state, events.NewEmitter())

	w, _ := wallet.Generate()
	_ = state.SetAccount(&core.Account{Address: w.PubKey(), Balance: 1000})

	block := core.NewBlock(1, "0000", w.PubKey(), nil)

	tx1, _ := w.Transfer("test-chain", "aabb", 1, 0, 0)
	if err := exec.ExecuteTx(block, tx1); err != nil {
		t.Fatalf("first tx: %v", err)
	}
	// Replay (same nonce=0, already consumed)
	if err := exec.ExecuteTx(block, tx1); err == nil {
		t.Error("replay should fail due to nonce mismatch")
	}
}

// TestPictureGameFlow plays a full round through the executor: create game,
// pay for a reveal, publish the key, commit and solve.
func TestPictureGameFlow(t *testing.T) {
	state := newInMemState(t)
	emitter := events.NewEmitter()
	exec := vm.NewExecutor(state, emitter)

	creator, _ := wallet.Generate() // also holds the oracle capability
	player, _ := wallet.Generate()
	_ = state.SetAccount(&core.Account{Address: creator.PubKey(), Balance: 1000})
	_ = state.SetAccount(&core.Account{Address: player.PubKey(), Balance: 1000})

	block := core.NewBlock(1, "0000", creator.PubKey(), nil)

	// Create the game with the freshness check disabled so commit and solve
	// can land in the same block.
	noDelay := int64(0)
	createTx, err := creator.NewTx("test-chain", core.TxGameCreate, 0, 0, core.GameCreatePayload{
		AnswerDigest:  crypto.AnswerDigest("capybara"),
		ManifestURI:   "ipfs://manifest",
		TilePrice:     100,
		LockedSecrets: []string{"s0", "s1"},
		UnlockRefs:    []string{"r0", "r1"},
		SolveDelayMS:  &noDelay,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := exec.ExecuteTx(block, createTx); err != nil {
		t.Fatalf("game create: %v", err)
	}

	// Mirror the handler's deterministic ID derivation.
	gameID := crypto.Hash([]byte(createTx.ID + ":game"))
	capID := crypto.Hash([]byte(createTx.ID + ":oracle:" + gameID))

	// Player pays for tile 0.
	revealTx, _ := player.RequestReveal("test-chain", gameID, 0, 100, 0, 0)
	if err := exec.ExecuteTx(block, revealTx); err != nil {
		t.Fatalf("reveal request: %v", err)
	}
	game, err := state.GetGame(gameID)
	if err != nil {
		t.Fatal(err)
	}
	if game.PrizePool != 100 {
		t.Errorf("prize pool: got %d want 100", game.PrizePool)
	}

	// The capability holder publishes the key.
	fulfillTx, _ := creator.NewTx("test-chain", core.TxRevealFulfill, 1, 0, core.RevealFulfillPayload{
		CapabilityID: capID,
		GameID:       gameID,
		TileIndex:    0,
		Key:          "deadbeef",
	})
	if err := exec.ExecuteTx(block, fulfillTx); err != nil {
		t.Fatalf("reveal fulfill: %v", err)
	}
	game, _ = state.GetGame(gameID)
	if !game.TileRevealed(0) {
		t.Error("tile 0 should be revealed")
	}

	// Commit then solve.
	commitTx, _ := player.CommitGuess("test-chain", gameID, "capybara", "s", 1, 0)
	if err := exec.ExecuteTx(block, commitTx); err != nil {
		t.Fatalf("commit guess: %v", err)
	}
	solveTx, _ := player.Solve("test-chain", gameID, "capybara", "s", 2, 0)
	if err := exec.ExecuteTx(block, solveTx); err != nil {
		t.Fatalf("solve: %v", err)
	}

	game, _ = state.GetGame(gameID)
	if !game.Solved {
		t.Error("game should be solved")
	}
	if game.Winner != player.PubKey() {
		t.Error("winner should be the player")
	}
	playerAcc, _ := state.GetAccount(player.PubKey())
	if playerAcc.Balance != 1000 {
		t.Errorf("player balance: got %d want 1000 (100 spent, 100 won back)", playerAcc.Balance)
	}
}

// TestWrongGuessExecutesAsSuccess verifies that a failed guess is still an
// accepted transaction: the nonce advances and the spent commitment persists.
func TestWrongGuessExecutesAsSuccess(t *testing.T) {
	state := newInMemState(t)
	exec := vm.NewExecutor(state, events.NewEmitter())

	creator, _ := wallet.Generate()
	player, _ := wallet.Generate()
	_ = state.SetAccount(&core.Account{Address: creator.PubKey(), Balance: 1000})
	_ = state.SetAccount(&core.Account{Address: player.PubKey(), Balance: 1000})

	block := core.NewBlock(1, "0000", creator.PubKey(), nil)

	noDelay := int64(0)
	createTx, _ := creator.NewTx("test-chain", core.TxGameCreate, 0, 0, core.GameCreatePayload{
		AnswerDigest:  crypto.AnswerDigest("capybara"),
		TilePrice:     100,
		LockedSecrets: []string{"s0"},
		UnlockRefs:    []string{"r0"},
		SolveDelayMS:  &noDelay,
	})
	if err := exec.ExecuteTx(block, createTx); err != nil {
		t.Fatalf("game create: %v", err)
	}
	gameID := crypto.Hash([]byte(createTx.ID + ":game"))

	commitTx, _ := player.CommitGuess("test-chain", gameID, "wrong", "s", 0, 0)
	if err := exec.ExecuteTx(block, commitTx); err != nil {
		t.Fatalf("commit guess: %v", err)
	}

	solveTx, _ := player.Solve("test-chain", gameID, "wrong", "s", 1, 0)
	if err := exec.ExecuteTx(block, solveTx); err != nil {
		t.Fatalf("wrong-guess solve should be an accepted tx, got: %v", err)
	}

	game, _ := state.GetGame(gameID)
	if game.Solved {
		t.Error("game must not be solved by a wrong guess")
	}
	if _, ok := game.Commitments[player.PubKey()]; ok {
		t.Error("commitment should be spent even though the guess failed")
	}
	acc, _ := state.GetAccount(player.PubKey())
	if acc.Nonce != 2 {
		t.Errorf("player nonce: got %d want 2 (both txs accepted)", acc.Nonce)
	}
}
