package state

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"paylock/core/types"
	"paylock/native/escrow"
)

type storedAgreement struct {
	ID         uint64
	Buyer      [20]byte
	Seller     [20]byte
	AssetKind  uint8
	AssetToken string
	Amount     *big.Int
	State      uint8
}

func newStoredAgreement(a *escrow.Agreement) *storedAgreement {
	amount := big.NewInt(0)
	if a.Amount != nil {
		amount = new(big.Int).Set(a.Amount)
	}
	return &storedAgreement{
		ID:         a.ID,
		Buyer:      a.Buyer,
		Seller:     a.Seller,
		AssetKind:  uint8(a.Asset.Kind),
		AssetToken: a.Asset.Token,
		Amount:     amount,
		State:      uint8(a.State),
	}
}

func (s *storedAgreement) toAgreement() (*escrow.Agreement, error) {
	out := &escrow.Agreement{
		ID:     s.ID,
		Buyer:  s.Buyer,
		Seller: s.Seller,
		Asset:  escrow.Asset{Kind: escrow.AssetKind(s.AssetKind), Token: s.AssetToken},
		Amount: big.NewInt(0),
		State:  escrow.AgreementState(s.State),
	}
	if s.Amount != nil {
		out.Amount = new(big.Int).Set(s.Amount)
	}
	return escrow.SanitizeAgreement(out)
}

// AgreementPut persists an agreement record after sanitising it.
func (m *Manager) AgreementPut(a *escrow.Agreement) error {
	sanitized, err := escrow.SanitizeAgreement(a)
	if err != nil {
		return err
	}
	raw, err := rlp.EncodeToBytes(newStoredAgreement(sanitized))
	if err != nil {
		return fmt.Errorf("state: encode agreement: %w", err)
	}
	m.set(agreementKey(sanitized.ID), raw)
	return nil
}

// AgreementGet loads the agreement stored under an id.
func (m *Manager) AgreementGet(id uint64) (*escrow.Agreement, bool) {
	raw, ok, err := m.get(agreementKey(id))
	if err != nil || !ok {
		return nil, false
	}
	var stored storedAgreement
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false
	}
	agreement, err := stored.toAgreement()
	if err != nil {
		return nil, false
	}
	return agreement, true
}

// AgreementCount returns the id of the most recently created agreement, which
// is also the number of agreements ever created.
func (m *Manager) AgreementCount() (uint64, error) {
	raw, ok, err := m.get(agreementCountKey())
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("state: malformed agreement counter")
	}
	return binary.BigEndian.Uint64(raw), nil
}

// SetAgreementCount records the monotonically increasing agreement counter.
func (m *Manager) SetAgreementCount(count uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, count)
	m.set(agreementCountKey(), buf)
	return nil
}

// EventsAppend adds an event to the agreement's append-only log.
func (m *Manager) EventsAppend(id uint64, evt *types.Event) error {
	if evt == nil {
		return fmt.Errorf("state: nil event")
	}
	seq, err := m.eventsCount(id)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("state: encode event: %w", err)
	}
	m.set(eventRecordKey(id, seq), raw)
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq+1)
	m.set(eventCountKey(id), buf)
	return nil
}

// EventsList returns every event appended for an agreement, oldest first.
func (m *Manager) EventsList(id uint64) ([]types.Event, error) {
	count, err := m.eventsCount(id)
	if err != nil {
		return nil, err
	}
	out := make([]types.Event, 0, count)
	for seq := uint64(0); seq < count; seq++ {
		raw, ok, err := m.get(eventRecordKey(id, seq))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("state: missing event %d for agreement %d", seq, id)
		}
		var evt types.Event
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, fmt.Errorf("state: decode event: %w", err)
		}
		out = append(out, evt)
	}
	return out, nil
}

func (m *Manager) eventsCount(id uint64) (uint64, error) {
	raw, ok, err := m.get(eventCountKey(id))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("state: malformed event counter")
	}
	return binary.BigEndian.Uint64(raw), nil
}
