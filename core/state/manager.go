package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"paylock/storage"
)

const (
	agreementRecordPrefix = "escrow/agreement/"
	agreementCountLabel   = "escrow/agreement/count"
	accountPrefix         = "account/"
	tokenBalancePrefix    = "token/balance/"
	tokenAllowancePrefix  = "token/allowance/"
	eventCountPrefix      = "escrow/events/count/"
	eventRecordPrefix     = "escrow/events/record/"
	vaultLabel            = "paylock/escrow/vault"
)

// Manager mediates every read and write between the escrow service and its
// key-value store. Writes accumulate in an in-memory overlay with an undo
// journal, so a failed operation can revert to a snapshot and a successful one
// commits atomically. The manager is not safe for concurrent use; the engine
// serializes access.
type Manager struct {
	db      storage.Database
	overlay map[string][]byte

	journal        []journalEntry
	validRevisions []revision
	nextRevisionID int
}

type journalEntry struct {
	key        string
	prev       []byte
	hadOverlay bool
}

type revision struct {
	id           int
	journalIndex int
}

// NewManager wraps the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:      db,
		overlay: make(map[string][]byte),
	}
}

func (m *Manager) get(key []byte) ([]byte, bool, error) {
	if value, ok := m.overlay[string(key)]; ok {
		if value == nil {
			return nil, false, nil
		}
		return append([]byte(nil), value...), true, nil
	}
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (m *Manager) set(key, value []byte) {
	k := string(key)
	prev, hadOverlay := m.overlay[k]
	m.journal = append(m.journal, journalEntry{key: k, prev: prev, hadOverlay: hadOverlay})
	m.overlay[k] = append([]byte(nil), value...)
}

// Snapshot returns an identifier for the current write position. Reverting to
// it undoes every write made after this call.
func (m *Manager) Snapshot() int {
	id := m.nextRevisionID
	m.nextRevisionID++
	m.validRevisions = append(m.validRevisions, revision{id, len(m.journal)})
	return id
}

// RevertToSnapshot replays the undo journal back to the supplied snapshot and
// invalidates every snapshot taken after it.
func (m *Manager) RevertToSnapshot(revid int) {
	idx := sort.Search(len(m.validRevisions), func(i int) bool {
		return m.validRevisions[i].id >= revid
	})
	if idx == len(m.validRevisions) || m.validRevisions[idx].id != revid {
		panic(fmt.Errorf("revision id %v cannot be reverted", revid))
	}
	target := m.validRevisions[idx].journalIndex
	for i := len(m.journal) - 1; i >= target; i-- {
		entry := m.journal[i]
		if entry.hadOverlay {
			m.overlay[entry.key] = entry.prev
		} else {
			delete(m.overlay, entry.key)
		}
	}
	m.journal = m.journal[:target]
	m.validRevisions = m.validRevisions[:idx]
}

// Commit flushes the overlay to the underlying database in one atomic batch
// and resets the journal. A write failure persists nothing and leaves the
// overlay intact so the caller can retry.
func (m *Manager) Commit() error {
	if len(m.overlay) > 0 {
		if err := m.db.WriteBatch(m.overlay); err != nil {
			return fmt.Errorf("state: commit: %w", err)
		}
	}
	m.overlay = make(map[string][]byte)
	m.journal = m.journal[:0]
	m.validRevisions = m.validRevisions[:0]
	return nil
}

// VaultAddress returns the module-owned custody address funds are held under
// between deposit and release. Derived from a fixed label so every node
// computes the same address.
func VaultAddress() [20]byte {
	hash := ethcrypto.Keccak256([]byte(vaultLabel))
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

func agreementKey(id uint64) []byte {
	buf := make([]byte, len(agreementRecordPrefix)+8)
	copy(buf, agreementRecordPrefix)
	binary.BigEndian.PutUint64(buf[len(agreementRecordPrefix):], id)
	return ethcrypto.Keccak256(buf)
}

func agreementCountKey() []byte {
	return ethcrypto.Keccak256([]byte(agreementCountLabel))
}

func accountKey(addr []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr)
	return ethcrypto.Keccak256(buf)
}

func tokenBalanceKey(symbol string, addr [20]byte) []byte {
	buf := make([]byte, 0, len(tokenBalancePrefix)+len(symbol)+1+len(addr))
	buf = append(buf, tokenBalancePrefix...)
	buf = append(buf, symbol...)
	buf = append(buf, '/')
	buf = append(buf, addr[:]...)
	return ethcrypto.Keccak256(buf)
}

func tokenAllowanceKey(symbol string, owner, spender [20]byte) []byte {
	buf := make([]byte, 0, len(tokenAllowancePrefix)+len(symbol)+1+len(owner)+len(spender))
	buf = append(buf, tokenAllowancePrefix...)
	buf = append(buf, symbol...)
	buf = append(buf, '/')
	buf = append(buf, owner[:]...)
	buf = append(buf, spender[:]...)
	return ethcrypto.Keccak256(buf)
}

func eventCountKey(id uint64) []byte {
	buf := make([]byte, len(eventCountPrefix)+8)
	copy(buf, eventCountPrefix)
	binary.BigEndian.PutUint64(buf[len(eventCountPrefix):], id)
	return ethcrypto.Keccak256(buf)
}

func eventRecordKey(id, seq uint64) []byte {
	buf := make([]byte, len(eventRecordPrefix)+16)
	copy(buf, eventRecordPrefix)
	binary.BigEndian.PutUint64(buf[len(eventRecordPrefix):], id)
	binary.BigEndian.PutUint64(buf[len(eventRecordPrefix)+8:], seq)
	return ethcrypto.Keccak256(buf)
}
