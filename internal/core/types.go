package core

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// Loan is the on-chain view of a single loan: the current collateral backing
// it and the unix timestamp after which it is in default. Both values are only
// ever produced by querying the ledger, never derived locally.
type Loan struct {
	Collateral *uint256.Int
	Expiry     *uint256.Int
}

// Origination identifies one loan cleared against a cooler contract.
type Origination struct {
	Cooler    common.Address
	RequestID *uint256.Int
	LoanID    *uint256.Int
}

// Event is the tagged union delivered by the collectors, processed strictly
// in arrival order by the engine.
type Event interface {
	isEvent()
}

// NewBlock marks the arrival of a chain head. Timestamp is the block's unix
// timestamp and is the "now" used by the profitability decision.
type NewBlock struct {
	Number    uint64
	Timestamp uint64
}

// LoanOriginated is emitted when a new loan request is cleared.
type LoanOriginated struct {
	Origination
}

// LoanRepaid is emitted when a borrower repays part or all of a loan.
type LoanRepaid struct {
	Cooler common.Address
	LoanID *uint256.Int
}

// LoanExtended is emitted when a loan's expiry is pushed out.
type LoanExtended struct {
	Cooler common.Address
	LoanID *uint256.Int
}

// LoanDefaulted is emitted when a defaulted loan is processed on-chain.
type LoanDefaulted struct {
	Cooler common.Address
	LoanID *uint256.Int
}

func (NewBlock) isEvent()       {}
func (LoanOriginated) isEvent() {}
func (LoanRepaid) isEvent()     {}
func (LoanExtended) isEvent()   {}
func (LoanDefaulted) isEvent()  {}

// Action is what the engine hands back to the executor.
type Action interface {
	isAction()
}

// SubmitTx asks the executor to sign and broadcast an unsigned claim
// transaction. GasBid is an optional priority-fee hint; nil means the
// executor picks the current network price.
type SubmitTx struct {
	Tx     *gethtypes.Transaction
	GasBid *big.Int
}

func (SubmitTx) isAction() {}
