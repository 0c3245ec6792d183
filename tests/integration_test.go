package tests

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/tessera-chain/tessera/config"
	"github.com/tessera-chain/tessera/consensus"
	"github.com/tessera-chain/tessera/core"
	"github.com/tessera-chain/tessera/crypto"
	"github.com/tessera-chain/tessera/events"
	"github.com/tessera-chain/tessera/indexer"
	"github.com/tessera-chain/tessera/internal/testutil"
	"github.com/tessera-chain/tessera/network"
	"github.com/tessera-chain/tessera/rpc"
	"github.com/tessera-chain/tessera/storage"
	"github.com/tessera-chain/tessera/vm"
	"github.com/tessera-chain/tessera/wallet"

	_ "github.com/tessera-chain/tessera/vm/modules/economy"
	_ "github.com/tessera-chain/tessera/vm/modules/picture"
)

const testChainID = "test-chain"

// rpcCall is a helper that sends a JSON-RPC request and decodes the result.
func rpcCall(t *testing.T, url, method string, params any) json.RawMessage {
	t.Helper()
	body := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	}
	data, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("rpc %s: %v", method, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		t.Fatalf("rpc %s decode: %v (raw: %s)", method, err, raw)
	}
	if rpcResp.Error != nil {
		t.Fatalf("rpc %s error: [%d] %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result
}

// sendTx signs and submits a transaction via RPC.
func sendTx(t *testing.T, url string, tx *core.Transaction) string {
	t.Helper()
	data, _ := json.Marshal(tx)
	var params json.RawMessage = data
	result := rpcCall(t, url, "sendTx", params)
	var out struct {
		TxID string `json:"tx_id"`
	}
	json.Unmarshal(result, &out)
	t.Logf("  -> tx submitted: %s", out.TxID)
	return out.TxID
}

// waitUntil polls cond every 100ms until it returns true or the deadline hits.
// Blocks are produced on a timer, so this is how tests wait for a tx to land.
func waitUntil(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func getBalance(t *testing.T, url, addr string) uint64 {
	t.Helper()
	result := rpcCall(t, url, "getBalance", map[string]string{"address": addr})
	var bal struct {
		Balance uint64 `json:"balance"`
	}
	json.Unmarshal(result, &bal)
	return bal.Balance
}

func getGame(t *testing.T, url, id string) core.Game {
	t.Helper()
	result := rpcCall(t, url, "getGame", map[string]string{"id": id})
	var g core.Game
	json.Unmarshal(result, &g)
	return g
}

// startTestNode starts a full node (P2P + RPC + consensus) and returns cleanup func.
func startTestNode(t *testing.T, w *wallet.Wallet) (rpcURL string, cleanup func()) {
	t.Helper()

	db := testutil.NewMemDB()
	stateDB := storage.NewStateDB(db)
	blockStore := testutil.NewMemBlockStore()
	bc := core.NewBlockchain(blockStore)
	if err := bc.Init(); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		NodeID:      "test-node",
		DataDir:     "./data",
		MaxBlockTxs: 500,
		Validators:  []string{w.PubKey()},
		Genesis: config.GenesisConfig{
			ChainID: testChainID,
			Alloc:   map[string]uint64{w.PubKey(): 10_000_000},
		},
	}

	// Genesis
	genesis, err := config.CreateGenesisBlock(cfg, stateDB, w.PrivKey())
	if err != nil {
		t.Fatal(err)
	}
	if err := bc.AddBlock(genesis); err != nil {
		t.Fatal(err)
	}

	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter)
	mempool := core.NewMempool()
	exec := vm.NewExecutor(stateDB, emitter)
	poa := consensus.New(cfg, bc, stateDB, mempool, exec, emitter, w.PrivKey())

	// P2P on random port
	node := network.NewNode("test-node", ":0", mempool, nil)
	_ = network.NewSyncer(node, bc, poa, exec, stateDB)
	if err := node.Start(); err != nil {
		t.Fatal(err)
	}

	// RPC on random port
	handler := rpc.NewHandler(bc, mempool, stateDB, idx, testChainID)
	rpcServer := rpc.NewServer(":0", handler, "")
	if err := rpcServer.Start(); err != nil {
		t.Fatal(err)
	}

	rpcAddr := rpcServer.Addr().String()
	url := fmt.Sprintf("http://%s/", rpcAddr)

	// Consensus
	done := make(chan struct{})
	go poa.Run(200*time.Millisecond, done)

	// Wait for at least one produced block past genesis.
	waitUntil(t, "first block", func() bool {
		result := rpcCall(t, url, "getBlockHeight", map[string]any{})
		var h int64
		json.Unmarshal(result, &h)
		return h >= 1
	})

	return url, func() {
		close(done)
		rpcServer.Stop()
		node.Stop()
	}
}

func TestPictureGameIntegration(t *testing.T) {
	if os.Getenv("SKIP_INTEGRATION") != "" {
		t.Skip("SKIP_INTEGRATION set")
	}

	// The game server is validator, game creator and oracle in one.
	gameServer, _ := wallet.Generate()
	player, _ := wallet.Generate()

	t.Logf("Game Server: %s", gameServer.PubKey())
	t.Logf("Player:      %s", player.PubKey())

	url, cleanup := startTestNode(t, gameServer)
	defer cleanup()

	var gsNonce uint64
	var gameID, capID string

	t.Run("1_FundPlayer", func(t *testing.T) {
		tx, _ := gameServer.Transfer(testChainID, player.PubKey(), 100_000, gsNonce, 10)
		sendTx(t, url, tx)
		gsNonce++

		waitUntil(t, "player funded", func() bool {
			return getBalance(t, url, player.PubKey()) == 100_000
		})
		t.Logf("  Player balance: %d", getBalance(t, url, player.PubKey()))
	})

	t.Run("2_CreateGame", func(t *testing.T) {
		noDelay := int64(0)
		tx, _ := gameServer.NewTx(testChainID, core.TxGameCreate, gsNonce, 10, core.GameCreatePayload{
			AnswerDigest:  crypto.AnswerDigest("capybara"),
			ManifestURI:   "ipfs://bafy.../manifest.json",
			TilePrice:     100,
			LockedSecrets: []string{"enc-key-0", "enc-key-1", "enc-key-2", "enc-key-3"},
			UnlockRefs:    []string{"ref-0", "ref-1", "ref-2", "ref-3"},
			SolveDelayMS:  &noDelay,
		})
		txID := sendTx(t, url, tx)
		gsNonce++

		// IDs are derived deterministically from the creating tx.
		gameID = crypto.Hash([]byte(txID + ":game"))
		capID = crypto.Hash([]byte(txID + ":oracle:" + gameID))

		waitUntil(t, "game created", func() bool {
			result := rpcCall(t, url, "getGamesByCreator", map[string]string{"creator": gameServer.PubKey()})
			var ids []string
			json.Unmarshal(result, &ids)
			return len(ids) == 1 && ids[0] == gameID
		})

		game := getGame(t, url, gameID)
		if game.TileCount != 4 {
			t.Fatalf("tile count = %d, want 4", game.TileCount)
		}
		if game.TilePrice != 100 {
			t.Fatalf("tile price = %d, want 100", game.TilePrice)
		}

		result := rpcCall(t, url, "getCapability", map[string]string{"id": capID})
		var cap core.OracleCapability
		json.Unmarshal(result, &cap)
		if cap.Holder != gameServer.PubKey() {
			t.Fatalf("capability holder = %s, want game server", cap.Holder)
		}
		t.Logf("  Game %s created, capability held by game server", gameID[:16])
	})

	t.Run("3_PaidReveal", func(t *testing.T) {
		tx, _ := player.RequestReveal(testChainID, gameID, 1, 100, 0, 10)
		sendTx(t, url, tx)

		waitUntil(t, "prize pool funded", func() bool {
			return getGame(t, url, gameID).PrizePool == 100
		})

		result := rpcCall(t, url, "getPendingReveals", map[string]string{"game_id": gameID})
		var pending []int
		json.Unmarshal(result, &pending)
		if len(pending) != 1 || pending[0] != 1 {
			t.Fatalf("pending reveals = %v, want [1]", pending)
		}

		tileIdx := 1
		result = rpcCall(t, url, "getTileKey", map[string]any{"game_id": gameID, "tile_index": tileIdx})
		var tile struct {
			Revealed bool    `json:"revealed"`
			Key      *string `json:"key"`
		}
		json.Unmarshal(result, &tile)
		if tile.Revealed {
			t.Fatal("tile should still be locked before fulfillment")
		}
		t.Logf("  Tile 1 paid for, pool = 100, pending = %v", pending)
	})

	t.Run("4_FulfillReveal", func(t *testing.T) {
		tx, _ := gameServer.NewTx(testChainID, core.TxRevealFulfill, gsNonce, 10, core.RevealFulfillPayload{
			CapabilityID: capID,
			GameID:       gameID,
			TileIndex:    1,
			Key:          "plain-key-1",
		})
		sendTx(t, url, tx)
		gsNonce++

		waitUntil(t, "tile revealed", func() bool {
			result := rpcCall(t, url, "getTileKey", map[string]any{"game_id": gameID, "tile_index": 1})
			var tile struct {
				Revealed bool `json:"revealed"`
			}
			json.Unmarshal(result, &tile)
			return tile.Revealed
		})

		// The pending queue drains once the key is on chain.
		result := rpcCall(t, url, "getPendingReveals", map[string]string{"game_id": gameID})
		var pending []int
		json.Unmarshal(result, &pending)
		if len(pending) != 0 {
			t.Fatalf("pending reveals = %v, want empty", pending)
		}
		t.Log("  Tile 1 key published, pending queue empty")
	})

	t.Run("5_CommitAndSolve", func(t *testing.T) {
		balanceBefore := getBalance(t, url, player.PubKey())

		commitTx, _ := player.CommitGuess(testChainID, gameID, "capybara", "my-salt", 1, 10)
		sendTx(t, url, commitTx)

		waitUntil(t, "commitment stored", func() bool {
			g := getGame(t, url, gameID)
			_, ok := g.Commitments[player.PubKey()]
			return ok
		})

		solveTx, _ := player.Solve(testChainID, gameID, "capybara", "my-salt", 2, 10)
		sendTx(t, url, solveTx)

		waitUntil(t, "game solved", func() bool {
			return getGame(t, url, gameID).Solved
		})

		game := getGame(t, url, gameID)
		if game.Winner != player.PubKey() {
			t.Fatalf("winner = %s, want player", game.Winner)
		}
		if game.PrizePool != 0 {
			t.Fatalf("prize pool after settlement = %d, want 0", game.PrizePool)
		}

		// Player paid two fees of 10 and won the pool of 100.
		want := balanceBefore - 20 + 100
		if got := getBalance(t, url, player.PubKey()); got != want {
			t.Fatalf("player balance = %d, want %d", got, want)
		}
		t.Logf("  Player solved the picture and took the pool (balance %d)", want)
	})
}
