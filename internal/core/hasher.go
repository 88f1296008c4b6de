package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"OptionLedger/internal/event"
	"OptionLedger/internal/ledger"
)

const GenesisHashSeed = "OptionLedger:genesis:v1"

// StateHasher chains a hash over every applied command:
// state_hash[N] = SHA-256(prev_hash || sequence || digest[N])
type StateHasher struct {
	prevHash [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{prevHash: sha256.Sum256([]byte(GenesisHashSeed))}
}

func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])
	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	h.prevHash = hash
	return hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash resets the chain tip (used during recovery)
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}

// computeStateDigest builds canonical bytes for one command: its payload, the
// domain events it emitted and the journals it produced, in order.
func computeStateDigest(payload []byte, emitted []event.Emitted, batch *ledger.Batch) ([]byte, error) {
	digest := make([]byte, 0, len(payload)+256)
	digest = appendChunk(digest, payload)

	for _, e := range emitted {
		body, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("digest %s: %w", e.Name(), err)
		}
		digest = appendChunk(digest, []byte(e.Name()))
		digest = appendChunk(digest, body)
	}

	if batch != nil {
		for _, j := range batch.Journals {
			digest = appendChunk(digest, []byte(j.DebitAccount.AccountPath()))
			digest = appendChunk(digest, []byte(j.CreditAccount.AccountPath()))
			digest = appendChunk(digest, j.Amount.Units().Bytes())
		}
	}
	return digest, nil
}

// appendChunk writes a 4-byte LE length prefix followed by b.
func appendChunk(buf, b []byte) []byte {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(b)))
	buf = append(buf, n[:]...)
	return append(buf, b...)
}
