// Package indexer maintains secondary indexes over committed blocks so game
// frontends and unlocking agents can query without scanning full state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tessera-chain/tessera/core"
	"github.com/tessera-chain/tessera/events"
	"github.com/tessera-chain/tessera/storage"
)

const (
	prefixCreatorGames  = "idx:creator:game:"
	prefixPendingReveal = "idx:pending:"
)

// Indexer subscribes to chain events and updates secondary lookup tables.
// The pending-reveal queue is what an unlocking agent polls: a tile enters
// it on reveal_requested and leaves on tile_revealed.
type Indexer struct {
	db      storage.DB
	emitter *events.Emitter
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db, emitter: emitter}
	emitter.Subscribe(events.EventGameCreated, idx.onGameCreated)
	emitter.Subscribe(events.EventRevealRequested, idx.onRevealRequested)
	emitter.Subscribe(events.EventTileRevealed, idx.onTileRevealed)
	return idx
}

// GetGamesByCreator returns all game IDs created by the given pubkey.
func (idx *Indexer) GetGamesByCreator(creator string) ([]string, error) {
	return idx.getList(prefixCreatorGames + creator)
}

// GetPendingReveals returns the tile indices of a game that were paid for
// but not yet fulfilled, in request order.
func (idx *Indexer) GetPendingReveals(gameID string) ([]int, error) {
	ids, err := idx.getList(prefixPendingReveal + gameID)
	if err != nil {
		return nil, err
	}
	tiles := make([]int, 0, len(ids))
	for _, s := range ids {
		var n int
		if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
			return nil, fmt.Errorf("indexer: bad tile entry %q: %w", s, err)
		}
		tiles = append(tiles, n)
	}
	return tiles, nil
}

// ---- event handlers ----

func (idx *Indexer) onGameCreated(ev events.Event) {
	creator, _ := ev.Data["creator"].(string)
	gameID, _ := ev.Data["game_id"].(string)
	if creator == "" || gameID == "" {
		return
	}
	_ = idx.addToList(prefixCreatorGames+creator, gameID)
}

func (idx *Indexer) onRevealRequested(ev events.Event) {
	gameID, _ := ev.Data["game_id"].(string)
	tile, ok := toInt(ev.Data["tile_index"])
	if gameID == "" || !ok {
		return
	}
	_ = idx.addToList(prefixPendingReveal+gameID, fmt.Sprintf("%d", tile))
}

func (idx *Indexer) onTileRevealed(ev events.Event) {
	gameID, _ := ev.Data["game_id"].(string)
	tile, ok := toInt(ev.Data["tile_index"])
	if gameID == "" || !ok {
		return
	}
	_ = idx.removeFromList(prefixPendingReveal+gameID, fmt.Sprintf("%d", tile))
}

// toInt widens the numeric types an event payload may carry. Events that
// round-tripped through JSON hold float64.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// ---- list helpers ----

func (idx *Indexer) getList(key string) ([]string, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil // empty list
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}

func (idx *Indexer) addToList(key, value string) error {
	ids, _ := idx.getList(key)
	ids = append(ids, value)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}

func (idx *Indexer) removeFromList(key, value string) error {
	ids, _ := idx.getList(key)
	filtered := ids[:0]
	for _, id := range ids {
		if id != value {
			filtered = append(filtered, id)
		}
	}
	data, err := json.Marshal(filtered)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}
