package custody

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/segmentio/encoding/json"
)

type EventType string

const (
	EvCreated            EventType = "created"
	EvDeposited          EventType = "deposited"
	EvWithdrawn          EventType = "withdrawn"
	EvHeirDesignated     EventType = "heir_designated"
	EvInheritanceClaimed EventType = "inheritance_claimed"
)

// Event 每次成功的状态变更产生一条，携带变更后的完整状态，回放时直接覆盖即可
type Event struct {
	Seq       uint64
	Type      EventType
	Account   common.Address
	Actor     common.Address
	Amount    *uint256.Int
	Nonce     uint64         // 仅 created：creator 的第几个账户
	PrevOwner common.Address // 仅 inheritance_claimed

	Owner        common.Address
	Heir         common.Address
	LastActivity time.Time
	Balance      *uint256.Int

	At        time.Time
	RequestID string
}

// State 账户的可观察状态
type State struct {
	Account      common.Address
	Owner        common.Address
	Heir         common.Address
	LastActivity time.Time
	Balance      *uint256.Int
}

func (e Event) State() State {
	return State{
		Account:      e.Account,
		Owner:        e.Owner,
		Heir:         e.Heir,
		LastActivity: e.LastActivity,
		Balance:      cloneInt(e.Balance),
	}
}

// uint256 在 JSON 里统一用十进制字符串
type eventJSON struct {
	Seq          uint64    `json:"seq"`
	Type         EventType `json:"type"`
	Account      string    `json:"account"`
	Actor        string    `json:"actor"`
	Amount       string    `json:"amount,omitempty"`
	Nonce        uint64    `json:"nonce,omitempty"`
	PrevOwner    string    `json:"prevOwner,omitempty"`
	Owner        string    `json:"owner"`
	Heir         string    `json:"heir"`
	LastActivity time.Time `json:"lastActivity"`
	Balance      string    `json:"balance"`
	At           time.Time `json:"at"`
	RequestID    string    `json:"requestId,omitempty"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	aux := eventJSON{
		Seq:          e.Seq,
		Type:         e.Type,
		Account:      e.Account.Hex(),
		Actor:        e.Actor.Hex(),
		Nonce:        e.Nonce,
		Owner:        e.Owner.Hex(),
		Heir:         e.Heir.Hex(),
		LastActivity: e.LastActivity,
		Balance:      decString(e.Balance),
		At:           e.At,
		RequestID:    e.RequestID,
	}
	if e.Amount != nil {
		aux.Amount = e.Amount.Dec()
	}
	if e.PrevOwner != (common.Address{}) {
		aux.PrevOwner = e.PrevOwner.Hex()
	}
	return json.Marshal(&aux)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var aux eventJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	for _, s := range []string{aux.Account, aux.Actor, aux.Owner, aux.Heir} {
		if s != "" && !common.IsHexAddress(s) {
			return fmt.Errorf("custody: invalid address %q in event", s)
		}
	}
	balance, err := parseDec(aux.Balance)
	if err != nil {
		return fmt.Errorf("custody: invalid balance: %w", err)
	}
	*e = Event{
		Seq:          aux.Seq,
		Type:         aux.Type,
		Account:      common.HexToAddress(aux.Account),
		Actor:        common.HexToAddress(aux.Actor),
		Nonce:        aux.Nonce,
		Owner:        common.HexToAddress(aux.Owner),
		Heir:         common.HexToAddress(aux.Heir),
		LastActivity: aux.LastActivity,
		Balance:      balance,
		At:           aux.At,
		RequestID:    aux.RequestID,
	}
	if aux.Amount != "" {
		if e.Amount, err = parseDec(aux.Amount); err != nil {
			return fmt.Errorf("custody: invalid amount: %w", err)
		}
	}
	if aux.PrevOwner != "" {
		e.PrevOwner = common.HexToAddress(aux.PrevOwner)
	}
	return nil
}

func decString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func parseDec(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	return uint256.FromDecimal(s)
}

func cloneInt(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}
