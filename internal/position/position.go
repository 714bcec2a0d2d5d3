// Package position tracks recurring-order (DCA) positions across snapshots
// and reports which positions appeared or disappeared.
package position

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// RawRecord is a position as delivered by a snapshot source. Amounts are
// base-10 integers in the input asset's smallest unit.
type RawRecord struct {
	Key            string `json:"publicKey"`
	User           string `json:"user,omitempty"`
	InputAsset     string `json:"inputMint"`
	OutputAsset    string `json:"outputMint"`
	Deposited      string `json:"inDeposited"`
	Withdrawn      string `json:"inWithdrawn"`
	AmountPerCycle string `json:"inAmountPerCycle"`
	CycleFrequency string `json:"cycleFrequency"`
}

// Position is a validated recurring order.
type Position struct {
	Key            string
	User           string
	InputAsset     string
	OutputAsset    string
	Deposited      *big.Int
	Withdrawn      *big.Int
	AmountPerCycle *big.Int
	// CycleFrequency is the interval between cycles in seconds.
	CycleFrequency int64
}

// Remaining is Deposited - Withdrawn. It never aliases the position's fields.
func (p Position) Remaining() *big.Int {
	d, w := p.Deposited, p.Withdrawn
	if d == nil {
		d = new(big.Int)
	}
	if w == nil {
		w = new(big.Int)
	}
	return new(big.Int).Sub(d, w)
}

// ErrInvariant marks records that fail validation.
var ErrInvariant = errors.New("position data invariant violated")

// InvariantError describes a record dropped because its data is corrupt.
type InvariantError struct {
	Key    string
	Field  string
	Reason string
}

func (e *InvariantError) Error() string {
	key := e.Key
	if key == "" {
		key = "<no key>"
	}
	return fmt.Sprintf("position %s: %s: %s", key, e.Field, e.Reason)
}

func (e *InvariantError) Is(target error) bool { return target == ErrInvariant }

// Parse validates a raw record.
func Parse(r RawRecord) (Position, error) {
	key := strings.TrimSpace(r.Key)
	bad := func(field, reason string) (Position, error) {
		return Position{}, &InvariantError{Key: key, Field: field, Reason: reason}
	}
	if key == "" {
		return bad("publicKey", "missing")
	}
	p := Position{
		Key:         key,
		User:        strings.TrimSpace(r.User),
		InputAsset:  strings.TrimSpace(r.InputAsset),
		OutputAsset: strings.TrimSpace(r.OutputAsset),
	}
	if p.InputAsset == "" {
		return bad("inputMint", "missing")
	}
	if p.OutputAsset == "" {
		return bad("outputMint", "missing")
	}

	var err error
	if p.Deposited, err = parseUnsigned(r.Deposited); err != nil {
		return bad("inDeposited", err.Error())
	}
	if p.Withdrawn, err = parseUnsigned(r.Withdrawn); err != nil {
		return bad("inWithdrawn", err.Error())
	}
	if p.AmountPerCycle, err = parseUnsigned(r.AmountPerCycle); err != nil {
		return bad("inAmountPerCycle", err.Error())
	}
	freq, err := strconv.ParseInt(strings.TrimSpace(r.CycleFrequency), 10, 64)
	if err != nil {
		return bad("cycleFrequency", "not an integer")
	}
	if freq <= 0 {
		return bad("cycleFrequency", "must be positive")
	}
	p.CycleFrequency = freq

	if p.Deposited.Cmp(p.Withdrawn) < 0 {
		return bad("inWithdrawn", fmt.Sprintf("withdrawn %s exceeds deposited %s", p.Withdrawn, p.Deposited))
	}
	return p, nil
}

func parseUnsigned(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("missing")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("not a base-10 integer: %q", s)
	}
	if v.Sign() < 0 {
		return nil, errors.New("negative")
	}
	return v, nil
}
