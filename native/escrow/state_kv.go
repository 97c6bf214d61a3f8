package escrow

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"escrowd/storage"
)

const (
	keyPrefixEscrow     = "escrow/"
	keyPrefixPayerIndex = "index/payer/"
	keyPrefixPayeeIndex = "index/payee/"
)

// KVState is an EngineState backed by a key-value database. Escrow records and
// participant indices are stored as JSON documents; records are decoded fresh
// on every read so callers never observe shared mutable state.
type KVState struct {
	mu sync.Mutex
	db storage.Database
}

// NewKVState wraps the supplied database as an escrow registry.
func NewKVState(db storage.Database) *KVState {
	return &KVState{db: db}
}

type storedMilestone struct {
	Amount      string `json:"amount"`
	Released    bool   `json:"released"`
	Description string `json:"description"`
}

type storedEscrow struct {
	ID             string            `json:"id"`
	Payer          string            `json:"payer"`
	Payee          string            `json:"payee"`
	Arbitrator     string            `json:"arbitrator,omitempty"`
	AssetKind      uint8             `json:"assetKind"`
	AssetToken     string            `json:"assetToken,omitempty"`
	TotalAmount    string            `json:"totalAmount"`
	ReleasedAmount string            `json:"releasedAmount"`
	Deadline       int64             `json:"deadline"`
	CreatedAt      int64             `json:"createdAt"`
	Status         uint8             `json:"status"`
	Milestones     []storedMilestone `json:"milestones"`
}

// EscrowPut persists the supplied escrow after revalidating its invariants.
func (s *KVState) EscrowPut(esc *Escrow) error {
	sanitized, err := SanitizeEscrow(esc)
	if err != nil {
		return err
	}
	record := storedEscrow{
		ID:             hex.EncodeToString(sanitized.ID[:]),
		Payer:          hex.EncodeToString(sanitized.Payer[:]),
		Payee:          hex.EncodeToString(sanitized.Payee[:]),
		AssetKind:      uint8(sanitized.Asset.Kind),
		AssetToken:     sanitized.Asset.Token,
		TotalAmount:    sanitized.TotalAmount.String(),
		ReleasedAmount: sanitized.ReleasedAmount.String(),
		Deadline:       sanitized.Deadline,
		CreatedAt:      sanitized.CreatedAt,
		Status:         uint8(sanitized.Status),
	}
	if sanitized.HasArbitrator() {
		record.Arbitrator = hex.EncodeToString(sanitized.Arbitrator[:])
	}
	record.Milestones = make([]storedMilestone, len(sanitized.Milestones))
	for i, ms := range sanitized.Milestones {
		record.Milestones[i] = storedMilestone{
			Amount:      ms.Amount.String(),
			Released:    ms.Released,
			Description: ms.Description,
		}
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode escrow: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Put(escrowKey(sanitized.ID), encoded)
}

// EscrowGet loads the escrow with the supplied identifier.
func (s *KVState) EscrowGet(id [32]byte) (*Escrow, bool) {
	s.mu.Lock()
	raw, err := s.db.Get(escrowKey(id))
	s.mu.Unlock()
	if err != nil {
		return nil, false
	}
	var record storedEscrow
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, false
	}
	esc, err := record.decode()
	if err != nil {
		return nil, false
	}
	return esc, true
}

// IndexAppend records the escrow id under the participant's secondary index.
func (s *KVState) IndexAppend(role IndexRole, addr [20]byte, id [32]byte) error {
	key, err := indexKey(role, addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, err := s.readIndex(key)
	if err != nil {
		return err
	}
	ids = append(ids, hex.EncodeToString(id[:]))
	encoded, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	return s.db.Put(key, encoded)
}

// IndexList returns the escrow ids recorded under the participant's index in
// insertion order.
func (s *KVState) IndexList(role IndexRole, addr [20]byte) ([][32]byte, error) {
	key, err := indexKey(role, addr)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	entries, err := s.readIndex(key)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	ids := make([][32]byte, 0, len(entries))
	for _, entry := range entries {
		id, err := decodeID(entry)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *KVState) readIndex(key []byte) ([]string, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	return ids, nil
}

func (r storedEscrow) decode() (*Escrow, error) {
	id, err := decodeID(r.ID)
	if err != nil {
		return nil, err
	}
	payer, err := decodeAddress(r.Payer)
	if err != nil {
		return nil, err
	}
	payee, err := decodeAddress(r.Payee)
	if err != nil {
		return nil, err
	}
	var arbitrator [20]byte
	if r.Arbitrator != "" {
		if arbitrator, err = decodeAddress(r.Arbitrator); err != nil {
			return nil, err
		}
	}
	total, ok := new(big.Int).SetString(r.TotalAmount, 10)
	if !ok {
		return nil, fmt.Errorf("decode escrow: malformed total amount %q", r.TotalAmount)
	}
	released, ok := new(big.Int).SetString(r.ReleasedAmount, 10)
	if !ok {
		return nil, fmt.Errorf("decode escrow: malformed released amount %q", r.ReleasedAmount)
	}
	milestones := make([]*Milestone, len(r.Milestones))
	for i, ms := range r.Milestones {
		amount, ok := new(big.Int).SetString(ms.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("decode escrow: malformed milestone amount %q", ms.Amount)
		}
		milestones[i] = &Milestone{
			Amount:      amount,
			Released:    ms.Released,
			Description: ms.Description,
		}
	}
	return &Escrow{
		ID:             id,
		Payer:          payer,
		Payee:          payee,
		Arbitrator:     arbitrator,
		Asset:          Asset{Kind: AssetKind(r.AssetKind), Token: r.AssetToken},
		TotalAmount:    total,
		ReleasedAmount: released,
		Deadline:       r.Deadline,
		CreatedAt:      r.CreatedAt,
		Status:         Status(r.Status),
		Milestones:     milestones,
	}, nil
}

func escrowKey(id [32]byte) []byte {
	return []byte(keyPrefixEscrow + hex.EncodeToString(id[:]))
}

func indexKey(role IndexRole, addr [20]byte) ([]byte, error) {
	switch role {
	case IndexPayer:
		return []byte(keyPrefixPayerIndex + hex.EncodeToString(addr[:])), nil
	case IndexPayee:
		return []byte(keyPrefixPayeeIndex + hex.EncodeToString(addr[:])), nil
	default:
		return nil, fmt.Errorf("unknown index role %d", role)
	}
}

func decodeID(value string) ([32]byte, error) {
	var id [32]byte
	raw, err := hex.DecodeString(value)
	if err != nil || len(raw) != len(id) {
		return id, fmt.Errorf("decode escrow: malformed identifier %q", value)
	}
	copy(id[:], raw)
	return id, nil
}

func decodeAddress(value string) ([20]byte, error) {
	var addr [20]byte
	raw, err := hex.DecodeString(value)
	if err != nil || len(raw) != len(addr) {
		return addr, fmt.Errorf("decode escrow: malformed address %q", value)
	}
	copy(addr[:], raw)
	return addr, nil
}
