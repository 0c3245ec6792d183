package core

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/tessera-chain/tessera/crypto"
)

// DefaultSolveDelay is the commit-to-solve minimum applied when a game's
// creator does not choose one. It defaults on to close the same-block
// commit-and-solve window; creators opt out with an explicit 0.
const DefaultSolveDelay = int64(30 * time.Second)

// NewGame validates the construction-time vectors and builds a Game with all
// tiles locked and an empty prize pool. lockedSecrets fixes the tile count;
// unlockRefs must have the same length. solveDelay < 0 selects
// DefaultSolveDelay, 0 disables the freshness check.
func NewGame(id, creator, answerDigest, manifestURI string, tilePrice uint64,
	lockedSecrets, unlockRefs []string, solveDelay, createdAt int64) (*Game, error) {

	if len(lockedSecrets) == 0 {
		return nil, fmt.Errorf("no tile secrets supplied: %w", ErrInvalidPayment)
	}
	if len(unlockRefs) != len(lockedSecrets) {
		return nil, fmt.Errorf("unlock refs length %d does not match %d tile secrets: %w",
			len(unlockRefs), len(lockedSecrets), ErrInvalidPayment)
	}
	if tilePrice == 0 {
		return nil, fmt.Errorf("tile price must be > 0: %w", ErrInvalidPayment)
	}
	if err := validDigest(answerDigest); err != nil {
		return nil, fmt.Errorf("answer digest: %w", err)
	}
	if solveDelay < 0 {
		solveDelay = DefaultSolveDelay
	}

	return &Game{
		ID:            id,
		Creator:       creator,
		AnswerDigest:  answerDigest,
		ManifestURI:   manifestURI,
		TileCount:     len(lockedSecrets),
		TilePrice:     tilePrice,
		SolveDelay:    solveDelay,
		LockedSecrets: lockedSecrets,
		UnlockRefs:    unlockRefs,
		RevealedKeys:  make([]*string, len(lockedSecrets)),
		Commitments:   map[string]Commitment{},
		CreatedAt:     createdAt,
	}, nil
}

// TileRevealed reports whether tile i's key has been published.
// Out-of-range indexes read as not revealed.
func (g *Game) TileRevealed(i int) bool {
	return i >= 0 && i < g.TileCount && g.RevealedKeys[i] != nil
}

// RequestReveal escrows an exact-price payment for unlocking tile tileIndex.
// The payment is merged into the prize pool irreversibly; the actual key
// publication happens later, out of band, via FulfillReveal. On any error
// the game is unchanged.
func (g *Game) RequestReveal(tileIndex int, payment uint64) error {
	if g.Solved {
		return ErrAlreadySolved
	}
	if tileIndex < 0 || tileIndex >= g.TileCount {
		return fmt.Errorf("tile %d of %d: %w", tileIndex, g.TileCount, ErrInvalidTileIndex)
	}
	if payment != g.TilePrice {
		return fmt.Errorf("paid %d, price is %d: %w", payment, g.TilePrice, ErrInvalidPayment)
	}
	if g.RevealedKeys[tileIndex] != nil {
		return fmt.Errorf("tile %d: %w", tileIndex, ErrTileAlreadyRevealed)
	}
	g.PrizePool += payment
	return nil
}

// FulfillReveal publishes the decrypted key for tileIndex. It reports whether
// the call changed state: publishing an already-revealed tile is a silent
// no-op so that at-least-once delivery from the unlocking agent never errors
// or double-fires events. Fulfillment stays allowed after the game is solved
// so onlookers can keep opening tiles; that relaxation is deliberate.
func (g *Game) FulfillReveal(tileIndex int, key string) (bool, error) {
	if tileIndex < 0 || tileIndex >= g.TileCount {
		return false, fmt.Errorf("tile %d of %d: %w", tileIndex, g.TileCount, ErrInvalidTileIndex)
	}
	if g.RevealedKeys[tileIndex] != nil {
		return false, nil
	}
	k := key
	g.RevealedKeys[tileIndex] = &k
	return true, nil
}

// CommitGuess stores the caller's sealed guess. A prior live commitment by
// the same player is dropped without ceremony: last commit wins. Committing
// to a digest rather than the plaintext answer is what stops an observer
// from copying a pending winning transaction.
func (g *Game) CommitGuess(player, digest string, now int64) error {
	if g.Solved {
		return ErrAlreadySolved
	}
	if err := validDigest(digest); err != nil {
		return err
	}
	g.Commitments[player] = Commitment{Digest: digest, CommittedAt: now}
	return nil
}

// Solve adjudicates the caller's revealed guess against their commitment and
// the game's answer digest. On success it settles the game: Solved flips,
// Winner is fixed, and the returned payout is the entire prize pool, which
// is zeroed in the same step. The caller is responsible for crediting the
// payout to the winner's account.
//
// The commitment is consumed by any adjudicated attempt, pass or fail; only
// ErrNoCommitment, ErrAlreadySolved and ErrCommitTooFresh leave it alone.
//
// gameSalt is carried for protocol extensibility but not mixed into the
// correctness hash: the answer digest is keccak(answer) alone. See
// crypto.AnswerDigest for the dictionary-guessing caveat.
func (g *Game) Solve(player, answer, playerSalt, gameSalt string, now int64) (uint64, error) {
	_ = gameSalt

	if g.Solved {
		return 0, ErrAlreadySolved
	}
	cmt, ok := g.Commitments[player]
	if !ok {
		return 0, ErrNoCommitment
	}
	if g.SolveDelay > 0 && now-cmt.CommittedAt < g.SolveDelay {
		return 0, fmt.Errorf("solve %dns after commit, minimum is %dns: %w",
			now-cmt.CommittedAt, g.SolveDelay, ErrCommitTooFresh)
	}

	// The commitment is spent from here on, whatever the outcome.
	delete(g.Commitments, player)

	// Step A, self-consistency: the caller must be revealing the same claim
	// they committed to, not one lifted from someone else's transaction.
	if crypto.CommitDigest(answer, playerSalt) != cmt.Digest {
		return 0, fmt.Errorf("reveal does not match commitment: %w", ErrIncorrectAnswer)
	}

	// Step B, correctness against the digest fixed at creation.
	if crypto.AnswerDigest(answer) != g.AnswerDigest {
		return 0, fmt.Errorf("guess does not match answer digest: %w", ErrIncorrectAnswer)
	}

	payout := g.PrizePool
	g.PrizePool = 0
	g.Solved = true
	g.Winner = player
	return payout, nil
}

// validDigest requires a 64-char lowercase-safe hex string (a keccak-256).
func validDigest(d string) error {
	if len(d) != 64 {
		return fmt.Errorf("digest must be 64 hex chars, got %d", len(d))
	}
	if _, err := hex.DecodeString(d); err != nil {
		return fmt.Errorf("digest is not hex: %w", err)
	}
	return nil
}
