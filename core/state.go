package core

// Account holds a participant's token balance and replay-protection nonce.
// Address is the hex-encoded ed25519 public key.
type Account struct {
	Address string `json:"address"` // pubkey hex
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// Commitment is a sealed guess: the digest a player fixed before revealing,
// and the block timestamp at which it was accepted. It is created by the
// player's commit, consumed by that same player's solve, and never read by
// anyone else.
type Commitment struct {
	Digest      string `json:"digest"`
	CommittedAt int64  `json:"committed_at"`
}

// Game is the authoritative state of one guess-the-picture round: an image
// cut into TileCount tiles, each tile's decryption key locked until a player
// pays for a reveal, and a pooled prize paid to whoever names the subject
// first. All mutating operations live in game.go; fields are exported for
// serialisation and read-side queries only.
type Game struct {
	ID           string `json:"id"`
	Creator      string `json:"creator"` // pubkey hex, immutable
	AnswerDigest string `json:"answer_digest"`
	ManifestURI  string `json:"manifest_uri"` // off-chain tile layout reference
	TileCount    int    `json:"tile_count"`
	TilePrice    uint64 `json:"tile_price"`

	// SolveDelay is the minimum elapsed time (ns) between a player's commit
	// and their solve; 0 disables the check.
	SolveDelay int64 `json:"solve_delay"`

	// LockedSecrets and UnlockRefs are construction-time vectors of length
	// TileCount: the re-encrypted per-tile key material and the correlation
	// IDs the external unlocking service needs. Never mutated after creation.
	LockedSecrets []string `json:"locked_secrets"`
	UnlockRefs    []string `json:"unlock_refs"`

	// RevealedKeys has one slot per tile; nil means locked. A slot moves
	// nil -> key at most once and never regresses.
	RevealedKeys []*string `json:"revealed_keys"`

	PrizePool uint64 `json:"prize_pool"`
	Solved    bool   `json:"solved"`
	Winner    string `json:"winner,omitempty"` // set at settlement, then fixed

	// Commitments maps player pubkey to that player's single live
	// commitment. A re-commit before solving silently replaces the old entry.
	Commitments map[string]Commitment `json:"commitments"`

	CreatedAt int64 `json:"created_at"`
}

// OracleCapability is the unforgeable token that authorises publishing
// decrypted tile keys for one game. It is minted exactly once at game
// creation and held by exactly one owner at a time; the holder may transfer
// it. Possession (Holder matching the signature-verified tx sender) is the
// sole authorization proof fulfillment requires.
type OracleCapability struct {
	ID     string `json:"id"`
	GameID string `json:"game_id"`
	Holder string `json:"holder"` // pubkey hex
}

// State is the full blockchain state interface. Implementations must be
// snapshot-able so the executor can roll back failed transactions.
type State interface {
	// Accounts
	GetAccount(address string) (*Account, error)
	SetAccount(account *Account) error

	// Games
	GetGame(id string) (*Game, error)
	SetGame(g *Game) error

	// Oracle capabilities
	GetCapability(id string) (*OracleCapability, error)
	SetCapability(c *OracleCapability) error

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing. Call this before signing a block.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	// Always call ComputeRoot() first to obtain the root for the block header.
	Commit() error
}
