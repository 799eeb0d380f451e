package models

import (
	"strings"

	"github.com/pkg/errors"
)

// Account: which exchange account a monitor or order belongs to.
type Account string

const (
	AccountPrimary Account = "primary"
	AccountMirror  Account = "mirror"
)

func (a Account) Valid() bool {
	return a == AccountPrimary || a == AccountMirror
}

// Side: position side, as OKX posSide.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// CloseSide returns the order side that reduces a position of this side.
func (s Side) CloseSide() string {
	if s == SideShort {
		return "buy"
	}
	return "sell"
}

var ErrInvalidKey = errors.New("invalid monitor key")

// MonitorKey identifies one monitor: symbol + side + account.
type MonitorKey struct {
	Symbol  string
	Side    Side
	Account Account
}

func NewKey(symbol string, side Side, account Account) MonitorKey {
	return MonitorKey{Symbol: symbol, Side: side, Account: account}
}

// String renders "{symbol}_{side}_{account}".
func (k MonitorKey) String() string {
	return k.Symbol + "_" + string(k.Side) + "_" + string(k.Account)
}

func (k MonitorKey) Validate() error {
	if k.Symbol == "" {
		return errors.Wrap(ErrInvalidKey, "empty symbol")
	}
	if !k.Side.Valid() {
		return errors.Wrapf(ErrInvalidKey, "side %q", k.Side)
	}
	if !k.Account.Valid() {
		return errors.Wrapf(ErrInvalidKey, "account %q", k.Account)
	}
	return nil
}

// Counterpart returns the same symbol/side on the other account.
func (k MonitorKey) Counterpart() MonitorKey {
	other := AccountMirror
	if k.Account == AccountMirror {
		other = AccountPrimary
	}
	return MonitorKey{Symbol: k.Symbol, Side: k.Side, Account: other}
}

// ParseKey parses "{symbol}_{side}_{account}" from the right, so the symbol
// itself may contain separators. Unsuffixed (legacy) keys are rejected.
func ParseKey(raw string) (MonitorKey, error) {
	i := strings.LastIndexByte(raw, '_')
	if i <= 0 || i >= len(raw)-1 {
		return MonitorKey{}, errors.Wrapf(ErrInvalidKey, "%q: no account suffix", raw)
	}
	account := Account(raw[i+1:])
	rest := raw[:i]

	j := strings.LastIndexByte(rest, '_')
	if j <= 0 || j >= len(rest)-1 {
		return MonitorKey{}, errors.Wrapf(ErrInvalidKey, "%q: no side", raw)
	}

	k := MonitorKey{Symbol: rest[:j], Side: Side(rest[j+1:]), Account: account}
	if err := k.Validate(); err != nil {
		return MonitorKey{}, errors.Wrapf(err, "%q", raw)
	}
	return k, nil
}
