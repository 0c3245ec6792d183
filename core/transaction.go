package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tessera-chain/tessera/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxTransfer       TxType = "transfer"
	TxGameCreate     TxType = "game_create"
	TxRevealRequest  TxType = "reveal_request"
	TxRevealFulfill  TxType = "reveal_fulfill"
	TxCommitGuess    TxType = "commit_guess"
	TxSolve          TxType = "solve"
	TxOracleTransfer TxType = "oracle_transfer"
)

// Transaction is the atomic unit of work on the chain.
// From holds the sender's full hex-encoded ed25519 public key (64 chars).
// ChainID pins the transaction to one network so it cannot be replayed on
// another. Signature covers all fields except Signature itself.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"` // hex-encoded ed25519 public key
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields that are covered by the signature.
type signingBody struct {
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans Signature).
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (tx *Transaction) Hash() string {
	body := signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Fee:       tx.Fee,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks the signature and that From is a valid public key.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return fmt.Errorf("invalid from (must be ed25519 pubkey hex): %w", err)
	}
	return crypto.Verify(pub, []byte(tx.Hash()), tx.Signature)
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(chainID string, typ TxType, from string, nonce, fee uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Fee:       fee,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// TransferPayload transfers native tokens.
type TransferPayload struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// GameCreatePayload opens a new guess-the-picture game. LockedSecrets fixes
// the tile count; UnlockRefs must match it in length. Oracle names the
// pubkey that receives the game's unlocking capability. SolveDelayMS is the
// commit-to-solve minimum in milliseconds: nil selects the default, an
// explicit 0 disables the check.
type GameCreatePayload struct {
	AnswerDigest  string   `json:"answer_digest"`
	ManifestURI   string   `json:"manifest_uri"`
	TilePrice     uint64   `json:"tile_price"`
	LockedSecrets []string `json:"locked_secrets"`
	UnlockRefs    []string `json:"unlock_refs"`
	Oracle        string   `json:"oracle"` // capability recipient pubkey hex
	SolveDelayMS  *int64   `json:"solve_delay_ms,omitempty"`
}

// RevealRequestPayload pays for unlocking one tile. Payment must equal the
// game's tile price exactly.
type RevealRequestPayload struct {
	GameID    string `json:"game_id"`
	TileIndex int    `json:"tile_index"`
	Payment   uint64 `json:"payment"`
}

// RevealFulfillPayload publishes a decrypted tile key. Only the holder of
// the named capability may send it.
type RevealFulfillPayload struct {
	CapabilityID string `json:"capability_id"`
	GameID       string `json:"game_id"`
	TileIndex    int    `json:"tile_index"`
	Key          string `json:"key"` // opaque key bytes, hex-encoded
}

// CommitGuessPayload seals a guess: Digest = keccak(answer || player salt).
type CommitGuessPayload struct {
	GameID string `json:"game_id"`
	Digest string `json:"digest"`
}

// SolvePayload reveals a previously committed guess. GameSalt is accepted
// for protocol extensibility; the current correctness check ignores it.
type SolvePayload struct {
	GameID     string `json:"game_id"`
	Answer     string `json:"answer"`
	PlayerSalt string `json:"player_salt"`
	GameSalt   string `json:"game_salt,omitempty"`
}

// OracleTransferPayload hands an unlocking capability to a new holder.
type OracleTransferPayload struct {
	CapabilityID string `json:"capability_id"`
	To           string `json:"to"` // recipient pubkey hex
}
