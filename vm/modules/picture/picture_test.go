package picture

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-chain/tessera/core"
	"github.com/tessera-chain/tessera/crypto"
	"github.com/tessera-chain/tessera/events"
	"github.com/tessera-chain/tessera/internal/testutil"
	"github.com/tessera-chain/tessera/vm"
)

const (
	testAnswer = "capybara"
	testSalt   = "player-salt"
)

// testEnv wires a fresh in-memory state with an event recorder.
type testEnv struct {
	state    core.State
	emitter  *events.Emitter
	recorded []events.Event
	txSeq    int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{state: testutil.NewStateDB(), emitter: events.NewEmitter()}
	for _, typ := range []events.EventType{
		events.EventGameCreated, events.EventRevealRequested, events.EventTileRevealed,
		events.EventGuessCommitted, events.EventGuessRejected, events.EventGameSolved,
		events.EventOracleHandoff,
	} {
		env.emitter.Subscribe(typ, func(ev events.Event) {
			env.recorded = append(env.recorded, ev)
		})
	}
	return env
}

// ctx builds a handler context for a transaction sent by from at timestamp ts.
func (env *testEnv) ctx(from string, ts int64) *vm.Context {
	env.txSeq++
	block := core.NewBlock(1, "prev", from, nil)
	block.Header.Timestamp = ts
	return &vm.Context{
		State:   env.state,
		Block:   block,
		Tx:      &core.Transaction{ID: fmt.Sprintf("tx-%03d", env.txSeq), From: from},
		Emitter: env.emitter,
	}
}

func (env *testEnv) lastEvent(t *testing.T, typ events.EventType) events.Event {
	t.Helper()
	for i := len(env.recorded) - 1; i >= 0; i-- {
		if env.recorded[i].Type == typ {
			return env.recorded[i]
		}
	}
	t.Fatalf("no %s event recorded", typ)
	return events.Event{}
}

func (env *testEnv) countEvents(typ events.EventType) int {
	n := 0
	for _, ev := range env.recorded {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func newPubKey(t *testing.T) string {
	t.Helper()
	_, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return pub.Hex()
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

// createGame runs handleGameCreate and returns the derived game and
// capability IDs. A zero solveDelayMS disables the commit freshness check.
func (env *testEnv) createGame(t *testing.T, creator, oracle string, solveDelayMS *int64) (gameID, capID string) {
	t.Helper()
	ctx := env.ctx(creator, 1000)
	payload := mustMarshal(t, core.GameCreatePayload{
		AnswerDigest:  crypto.AnswerDigest(testAnswer),
		ManifestURI:   "ipfs://manifest",
		TilePrice:     100,
		LockedSecrets: []string{"s0", "s1", "s2"},
		UnlockRefs:    []string{"r0", "r1", "r2"},
		Oracle:        oracle,
		SolveDelayMS:  solveDelayMS,
	})
	require.NoError(t, handleGameCreate(ctx, payload))
	gameID = crypto.Hash([]byte(ctx.Tx.ID + ":game"))
	capID = crypto.Hash([]byte(ctx.Tx.ID + ":oracle:" + gameID))
	return gameID, capID
}

func noDelay() *int64 {
	d := int64(0)
	return &d
}

func TestCreateGameMintsCapability(t *testing.T) {
	env := newTestEnv(t)
	creator := newPubKey(t)
	oracle := newPubKey(t)

	gameID, capID := env.createGame(t, creator, oracle, nil)

	game, err := env.state.GetGame(gameID)
	require.NoError(t, err)
	assert.Equal(t, creator, game.Creator)
	assert.Equal(t, 3, game.TileCount)
	assert.Equal(t, core.DefaultSolveDelay, game.SolveDelay, "unset delay selects the default")

	cap, err := env.state.GetCapability(capID)
	require.NoError(t, err)
	assert.Equal(t, gameID, cap.GameID)
	assert.Equal(t, oracle, cap.Holder)

	ev := env.lastEvent(t, events.EventGameCreated)
	assert.Equal(t, gameID, ev.Data["game_id"])
	assert.Equal(t, capID, ev.Data["capability_id"])
}

func TestCreateGameOracleDefaultsToSender(t *testing.T) {
	env := newTestEnv(t)
	creator := newPubKey(t)

	_, capID := env.createGame(t, creator, "", noDelay())

	cap, err := env.state.GetCapability(capID)
	require.NoError(t, err)
	assert.Equal(t, creator, cap.Holder)
}

func TestCreateGameRejectsBadOracle(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.ctx(newPubKey(t), 1000)
	payload := mustMarshal(t, core.GameCreatePayload{
		AnswerDigest:  crypto.AnswerDigest(testAnswer),
		TilePrice:     100,
		LockedSecrets: []string{"s0"},
		UnlockRefs:    []string{"r0"},
		Oracle:        "not-a-pubkey",
	})
	assert.Error(t, handleGameCreate(ctx, payload))
}

func TestRevealRequestPaysIntoPool(t *testing.T) {
	env := newTestEnv(t)
	creator := newPubKey(t)
	player := newPubKey(t)
	gameID, _ := env.createGame(t, creator, "", noDelay())

	require.NoError(t, env.state.SetAccount(&core.Account{Address: player, Balance: 500}))

	ctx := env.ctx(player, 2000)
	payload := mustMarshal(t, core.RevealRequestPayload{GameID: gameID, TileIndex: 1, Payment: 100})
	require.NoError(t, handleRevealRequest(ctx, payload))

	game, err := env.state.GetGame(gameID)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), game.PrizePool)

	acc, err := env.state.GetAccount(player)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), acc.Balance)

	ev := env.lastEvent(t, events.EventRevealRequested)
	assert.Equal(t, "r1", ev.Data["unlock_ref"], "event carries the agent's correlation ID")
}

func TestRevealRequestInsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	player := newPubKey(t)
	gameID, _ := env.createGame(t, newPubKey(t), "", noDelay())

	require.NoError(t, env.state.SetAccount(&core.Account{Address: player, Balance: 50}))

	ctx := env.ctx(player, 2000)
	payload := mustMarshal(t, core.RevealRequestPayload{GameID: gameID, TileIndex: 0, Payment: 100})
	assert.Error(t, handleRevealRequest(ctx, payload))
}

func TestRevealFulfillRequiresCapability(t *testing.T) {
	env := newTestEnv(t)
	creator := newPubKey(t)
	oracle := newPubKey(t)
	intruder := newPubKey(t)
	gameID, capID := env.createGame(t, creator, oracle, noDelay())

	payload := mustMarshal(t, core.RevealFulfillPayload{
		CapabilityID: capID, GameID: gameID, TileIndex: 0, Key: "key-0",
	})

	// Creator minted the game but handed the capability away: not even they
	// can publish keys now.
	assert.Error(t, handleRevealFulfill(env.ctx(creator, 3000), payload))
	assert.Error(t, handleRevealFulfill(env.ctx(intruder, 3000), payload))

	require.NoError(t, handleRevealFulfill(env.ctx(oracle, 3000), payload))

	game, err := env.state.GetGame(gameID)
	require.NoError(t, err)
	assert.True(t, game.TileRevealed(0))
	assert.Equal(t, 1, env.countEvents(events.EventTileRevealed))

	// Redelivery is a silent no-op: no error, no second event.
	require.NoError(t, handleRevealFulfill(env.ctx(oracle, 3001), payload))
	assert.Equal(t, 1, env.countEvents(events.EventTileRevealed))
}

func TestRevealFulfillWrongGame(t *testing.T) {
	env := newTestEnv(t)
	oracle := newPubKey(t)
	_, capID := env.createGame(t, newPubKey(t), oracle, noDelay())
	otherGame, _ := env.createGame(t, newPubKey(t), oracle, noDelay())

	payload := mustMarshal(t, core.RevealFulfillPayload{
		CapabilityID: capID, GameID: otherGame, TileIndex: 0, Key: "key",
	})
	assert.Error(t, handleRevealFulfill(env.ctx(oracle, 3000), payload),
		"a capability only opens the game it was minted for")
}

func TestCommitAndSolveWin(t *testing.T) {
	env := newTestEnv(t)
	player := newPubKey(t)
	gameID, _ := env.createGame(t, newPubKey(t), "", noDelay())

	require.NoError(t, env.state.SetAccount(&core.Account{Address: player, Balance: 500}))

	// Fund the pool with two paid reveals.
	for _, tile := range []int{0, 1} {
		payload := mustMarshal(t, core.RevealRequestPayload{GameID: gameID, TileIndex: tile, Payment: 100})
		require.NoError(t, handleRevealRequest(env.ctx(player, 2000), payload))
	}

	commit := mustMarshal(t, core.CommitGuessPayload{
		GameID: gameID, Digest: crypto.CommitDigest(testAnswer, testSalt),
	})
	require.NoError(t, handleCommitGuess(env.ctx(player, 3000), commit))

	solve := mustMarshal(t, core.SolvePayload{GameID: gameID, Answer: testAnswer, PlayerSalt: testSalt})
	require.NoError(t, handleSolve(env.ctx(player, 4000), solve))

	game, err := env.state.GetGame(gameID)
	require.NoError(t, err)
	assert.True(t, game.Solved)
	assert.Equal(t, player, game.Winner)
	assert.Equal(t, uint64(0), game.PrizePool)

	acc, err := env.state.GetAccount(player)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), acc.Balance, "200 spent on reveals, 200 won back")

	ev := env.lastEvent(t, events.EventGameSolved)
	assert.Equal(t, player, ev.Data["winner"])
	assert.Equal(t, uint64(200), ev.Data["payout"])
}

func TestWrongGuessIsAcceptedTx(t *testing.T) {
	env := newTestEnv(t)
	player := newPubKey(t)
	gameID, _ := env.createGame(t, newPubKey(t), "", noDelay())
	require.NoError(t, env.state.SetAccount(&core.Account{Address: player, Balance: 100}))

	commit := mustMarshal(t, core.CommitGuessPayload{
		GameID: gameID, Digest: crypto.CommitDigest("wrong", testSalt),
	})
	require.NoError(t, handleCommitGuess(env.ctx(player, 3000), commit))

	// The handler succeeds so the spent commitment survives the block; the
	// rejection is reported as an event instead of a tx failure.
	solve := mustMarshal(t, core.SolvePayload{GameID: gameID, Answer: "wrong", PlayerSalt: testSalt})
	require.NoError(t, handleSolve(env.ctx(player, 4000), solve))

	ev := env.lastEvent(t, events.EventGuessRejected)
	assert.Equal(t, player, ev.Data["player"])

	game, err := env.state.GetGame(gameID)
	require.NoError(t, err)
	assert.False(t, game.Solved)
	assert.NotContains(t, game.Commitments, player, "failed guess spent the commitment")
}

func TestSolveTooFreshAborts(t *testing.T) {
	env := newTestEnv(t)
	player := newPubKey(t)
	gameID, _ := env.createGame(t, newPubKey(t), "", nil) // default delay stays on
	require.NoError(t, env.state.SetAccount(&core.Account{Address: player, Balance: 100}))

	commit := mustMarshal(t, core.CommitGuessPayload{
		GameID: gameID, Digest: crypto.CommitDigest(testAnswer, testSalt),
	})
	require.NoError(t, handleCommitGuess(env.ctx(player, 5000), commit))

	// Solving in effectively the same instant must fail the whole tx.
	solve := mustMarshal(t, core.SolvePayload{GameID: gameID, Answer: testAnswer, PlayerSalt: testSalt})
	err := handleSolve(env.ctx(player, 5001), solve)
	assert.ErrorIs(t, err, core.ErrCommitTooFresh)

	game, gerr := env.state.GetGame(gameID)
	require.NoError(t, gerr)
	assert.Contains(t, game.Commitments, player, "commitment stays live for a later solve")
}

func TestOracleTransfer(t *testing.T) {
	env := newTestEnv(t)
	oracle := newPubKey(t)
	successor := newPubKey(t)
	intruder := newPubKey(t)
	gameID, capID := env.createGame(t, newPubKey(t), oracle, noDelay())

	payload := mustMarshal(t, core.OracleTransferPayload{CapabilityID: capID, To: successor})

	assert.Error(t, handleOracleTransfer(env.ctx(intruder, 3000), payload),
		"only the holder can hand off the capability")

	require.NoError(t, handleOracleTransfer(env.ctx(oracle, 3000), payload))

	cap, err := env.state.GetCapability(capID)
	require.NoError(t, err)
	assert.Equal(t, successor, cap.Holder)

	ev := env.lastEvent(t, events.EventOracleHandoff)
	assert.Equal(t, oracle, ev.Data["from"])
	assert.Equal(t, successor, ev.Data["to"])

	// The previous holder lost fulfillment rights with the handoff.
	fulfill := mustMarshal(t, core.RevealFulfillPayload{
		CapabilityID: capID, GameID: gameID, TileIndex: 0, Key: "key",
	})
	assert.Error(t, handleRevealFulfill(env.ctx(oracle, 3001), fulfill))
	require.NoError(t, handleRevealFulfill(env.ctx(successor, 3002), fulfill))
}

func TestOracleTransferRejectsBadRecipient(t *testing.T) {
	env := newTestEnv(t)
	oracle := newPubKey(t)
	_, capID := env.createGame(t, newPubKey(t), oracle, noDelay())

	payload := mustMarshal(t, core.OracleTransferPayload{CapabilityID: capID, To: "zzzz"})
	assert.Error(t, handleOracleTransfer(env.ctx(oracle, 3000), payload))
}

func TestFulfillAfterSolved(t *testing.T) {
	env := newTestEnv(t)
	oracle := newPubKey(t)
	player := newPubKey(t)
	gameID, capID := env.createGame(t, newPubKey(t), oracle, noDelay())
	require.NoError(t, env.state.SetAccount(&core.Account{Address: player, Balance: 100}))

	commit := mustMarshal(t, core.CommitGuessPayload{
		GameID: gameID, Digest: crypto.CommitDigest(testAnswer, testSalt),
	})
	require.NoError(t, handleCommitGuess(env.ctx(player, 3000), commit))
	solve := mustMarshal(t, core.SolvePayload{GameID: gameID, Answer: testAnswer, PlayerSalt: testSalt})
	require.NoError(t, handleSolve(env.ctx(player, 4000), solve))

	// Pending fulfillments still land after settlement.
	fulfill := mustMarshal(t, core.RevealFulfillPayload{
		CapabilityID: capID, GameID: gameID, TileIndex: 2, Key: "key-2",
	})
	require.NoError(t, handleRevealFulfill(env.ctx(oracle, 5000), fulfill))

	game, err := env.state.GetGame(gameID)
	require.NoError(t, err)
	assert.True(t, game.TileRevealed(2))
}
