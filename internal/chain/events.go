package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"liquidator/internal/core"
)

// Filter queries and decoders for the factory's loan lifecycle events. The
// collectors subscribe with the query and hand raw logs back to the matching
// decoder.

func (c *Client) eventQuery(name string, fromBlock uint64) ethereum.FilterQuery {
	q := ethereum.FilterQuery{
		Addresses: []common.Address{c.cfg.Factory},
		Topics:    [][]common.Hash{{c.factoryABI.Events[name].ID}},
	}
	if fromBlock > 0 {
		q.FromBlock = new(big.Int).SetUint64(fromBlock)
	}
	return q
}

// OriginationQuery matches ClearRequest logs from fromBlock onward.
func (c *Client) OriginationQuery(fromBlock uint64) ethereum.FilterQuery {
	return c.eventQuery("ClearRequest", fromBlock)
}

// RepayQuery matches RepayLoan logs.
func (c *Client) RepayQuery() ethereum.FilterQuery { return c.eventQuery("RepayLoan", 0) }

// ExtendQuery matches ExtendLoan logs.
func (c *Client) ExtendQuery() ethereum.FilterQuery { return c.eventQuery("ExtendLoan", 0) }

// DefaultQuery matches DefaultLoan logs.
func (c *Client) DefaultQuery() ethereum.FilterQuery { return c.eventQuery("DefaultLoan", 0) }

func (c *Client) parseClearRequest(lg gethtypes.Log) (core.Origination, error) {
	out, err := c.factoryABI.Unpack("ClearRequest", lg.Data)
	if err != nil {
		return core.Origination{}, fmt.Errorf("unpack ClearRequest: %w", err)
	}
	cooler, ok := out[0].(common.Address)
	if !ok {
		return core.Origination{}, fmt.Errorf("unexpected ClearRequest layout")
	}
	reqID, err := toUint256(out[1])
	if err != nil {
		return core.Origination{}, err
	}
	loanID, err := toUint256(out[2])
	if err != nil {
		return core.Origination{}, err
	}
	return core.Origination{Cooler: cooler, RequestID: reqID, LoanID: loanID}, nil
}

func (c *Client) parseLoanRef(name string, lg gethtypes.Log) (common.Address, *uint256.Int, error) {
	out, err := c.factoryABI.Unpack(name, lg.Data)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("unpack %s: %w", name, err)
	}
	cooler, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("unexpected %s layout", name)
	}
	loanID, err := toUint256(out[1])
	if err != nil {
		return common.Address{}, nil, err
	}
	return cooler, loanID, nil
}

// DecodeOrigination turns a ClearRequest log into a LoanOriginated event.
func (c *Client) DecodeOrigination(lg gethtypes.Log) (core.Event, error) {
	origination, err := c.parseClearRequest(lg)
	if err != nil {
		return nil, err
	}
	return core.LoanOriginated{Origination: origination}, nil
}

// DecodeRepay turns a RepayLoan log into a LoanRepaid event.
func (c *Client) DecodeRepay(lg gethtypes.Log) (core.Event, error) {
	cooler, loanID, err := c.parseLoanRef("RepayLoan", lg)
	if err != nil {
		return nil, err
	}
	return core.LoanRepaid{Cooler: cooler, LoanID: loanID}, nil
}

// DecodeExtend turns an ExtendLoan log into a LoanExtended event.
func (c *Client) DecodeExtend(lg gethtypes.Log) (core.Event, error) {
	cooler, loanID, err := c.parseLoanRef("ExtendLoan", lg)
	if err != nil {
		return nil, err
	}
	return core.LoanExtended{Cooler: cooler, LoanID: loanID}, nil
}

// DecodeDefault turns a DefaultLoan log into a LoanDefaulted event.
func (c *Client) DecodeDefault(lg gethtypes.Log) (core.Event, error) {
	cooler, loanID, err := c.parseLoanRef("DefaultLoan", lg)
	if err != nil {
		return nil, err
	}
	return core.LoanDefaulted{Cooler: cooler, LoanID: loanID}, nil
}

func toUint256(v interface{}) (*uint256.Int, error) {
	b, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("expected uint256, got %T", v)
	}
	u, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("value out of uint256 range")
	}
	return u, nil
}
