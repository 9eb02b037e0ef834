// Package fee implements the system-loan fee reserve.
//
// Every transaction starts with a loan of cost units it may spend before any
// fee is locked. Loan-funded consumption accrues XRD debt ("owed"); locked
// fees fund a balance that repays the debt. Once the loan is exhausted the
// debt is repaid in full and further consumption is drawn straight from the
// balance. Debt that is still outstanding at finalization is bad debt.
package fee

import (
	"errors"
	"fmt"
	"math"

	"github.com/fortiblox/X1-Engine/internal/types"
)

// Default reserve parameters.
const (
	DefaultCostUnitLimit = uint32(100_000_000)
	DefaultSystemLoan    = uint32(10_000_000)
)

// DefaultCostUnitPrice is the default XRD price of one cost unit.
var DefaultCostUnitPrice = types.MustParseDecimal("0.0000001")

var (
	// ErrInsufficientBalance is returned when the locked balance cannot cover a cost.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrOverflow is returned when a counter or amount overflows.
	ErrOverflow = errors.New("fee reserve overflow")

	// ErrLimitExceeded is returned when the cost unit limit would be exceeded.
	ErrLimitExceeded = errors.New("cost unit limit exceeded")

	// ErrLoanRepaymentFailed is returned when the balance cannot repay the loan.
	ErrLoanRepaymentFailed = errors.New("loan repayment failed")
)

// AbortReason explains why execution was intentionally terminated.
type AbortReason string

// Abort reasons.
const (
	AbortReasonConfiguredAbortTriggeredOnFeeLoanRepayment AbortReason = "ConfiguredAbortTriggeredOnFeeLoanRepayment"
)

// AbortError terminates the transaction with an Abort outcome.
type AbortError struct {
	Reason AbortReason
}

func (e *AbortError) Error() string {
	return "aborted: " + string(e.Reason)
}

// IsAbort returns the abort reason if err carries an AbortError.
func IsAbort(err error) (AbortReason, bool) {
	var abort *AbortError
	if errors.As(err, &abort) {
		return abort.Reason, true
	}
	return "", false
}

// Params configures a Reserve.
type Params struct {
	// CostUnitPrice is the XRD price of one cost unit.
	CostUnitPrice types.Decimal

	// TipPercentage is added on top of the price for execution costs.
	TipPercentage uint16

	// CostUnitLimit caps total consumption.
	CostUnitLimit uint32

	// SystemLoan is the number of cost units available before any fee is locked.
	SystemLoan uint32

	// AbortWhenLoanRepaid aborts the transaction right after the loan is
	// repaid. Used for preview runs.
	AbortWhenLoanRepaid bool
}

// DefaultParams returns default reserve parameters.
func DefaultParams() Params {
	return Params{
		CostUnitPrice: DefaultCostUnitPrice,
		CostUnitLimit: DefaultCostUnitLimit,
		SystemLoan:    DefaultSystemLoan,
	}
}

// Payment is a fee locked from a vault.
type Payment struct {
	Source     types.NodeID
	Amount     types.Decimal
	Contingent bool
}

// Reserve is the system-loan fee reserve of one transaction.
// It is not safe for concurrent use.
type Reserve struct {
	costUnitPrice types.Decimal
	tipPercentage uint16

	payments []Payment

	remainingLoan    uint32
	remainingBalance types.Decimal
	owed             types.Decimal

	totalConsumed uint32
	limit         uint32

	deferred      [reasonCount]uint32
	deferredTotal uint32
	execution     [reasonCount]uint32
	royalty       map[types.NodeID]uint32

	executionPrice types.Decimal
	royaltyPrice   types.Decimal

	abortWhenLoanRepaid bool
}

// NewReserve creates a reserve with the full system loan available.
func NewReserve(p Params) (*Reserve, error) {
	tip, err := p.CostUnitPrice.Percent(uint64(p.TipPercentage))
	if err != nil {
		return nil, fmt.Errorf("%w: tip", ErrOverflow)
	}
	execPrice, err := p.CostUnitPrice.CheckedAdd(tip)
	if err != nil {
		return nil, fmt.Errorf("%w: execution price", ErrOverflow)
	}
	return &Reserve{
		costUnitPrice:       p.CostUnitPrice,
		tipPercentage:       p.TipPercentage,
		remainingLoan:       p.SystemLoan,
		limit:               p.CostUnitLimit,
		royalty:             make(map[types.NodeID]uint32),
		executionPrice:      execPrice,
		royaltyPrice:        p.CostUnitPrice,
		abortWhenLoanRepaid: p.AbortWhenLoanRepaid,
	}, nil
}

// NoFeeReserve returns a reserve with a zero price.
func NoFeeReserve() *Reserve {
	r, _ := NewReserve(Params{CostUnitLimit: DefaultCostUnitLimit, SystemLoan: DefaultSystemLoan})
	return r
}

func checkedAdd(a, b uint32) (uint32, error) {
	if a > math.MaxUint32-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

func checkedMultiply(amount uint32, multiplier int) (uint32, error) {
	if multiplier < 0 || uint64(multiplier) > math.MaxUint32 {
		return 0, ErrOverflow
	}
	product := uint64(amount) * uint64(multiplier)
	if product > math.MaxUint32 {
		return 0, ErrOverflow
	}
	return uint32(product), nil
}

func cost(price types.Decimal, units uint32) (types.Decimal, error) {
	c, err := price.CheckedMulUint64(uint64(units))
	if err != nil {
		return types.Decimal{}, ErrOverflow
	}
	return c, nil
}

// consume draws units at price, first from the loan, then from the balance.
func (r *Reserve) consume(units uint32, price types.Decimal) error {
	total, err := checkedAdd(r.totalConsumed, units)
	if err != nil {
		return err
	}
	if total > r.limit {
		return ErrLimitExceeded
	}

	switch {
	case r.remainingLoan >= units:
		c, err := cost(price, units)
		if err != nil {
			return err
		}
		owed, err := r.owed.CheckedAdd(c)
		if err != nil {
			return ErrOverflow
		}
		r.owed = owed
		r.remainingLoan -= units

	case r.remainingLoan == 0:
		fromBalance, err := cost(price, units)
		if err != nil {
			return err
		}
		if r.remainingBalance.LessThan(fromBalance) {
			return ErrInsufficientBalance
		}
		r.remainingBalance, _ = r.remainingBalance.CheckedSub(fromBalance)

	default:
		fromBalance, err := cost(price, units-r.remainingLoan)
		if err != nil {
			return err
		}
		if r.remainingBalance.LessThan(fromBalance) {
			return ErrInsufficientBalance
		}
		fromLoan, err := cost(price, r.remainingLoan)
		if err != nil {
			return err
		}
		owed, err := r.owed.CheckedAdd(fromLoan)
		if err != nil {
			return ErrOverflow
		}
		r.owed = owed
		r.remainingLoan = 0
		r.remainingBalance, _ = r.remainingBalance.CheckedSub(fromBalance)
	}

	r.totalConsumed = total
	return nil
}

// repayIfLoanExhausted repays everything as soon as the loan runs out.
func (r *Reserve) repayIfLoanExhausted() error {
	if r.remainingLoan == 0 && !r.FullyRepaid() {
		return r.RepayAll()
	}
	return nil
}

// ConsumeDeferred records pre-execution costs. They are charged by RepayAll.
func (r *Reserve) ConsumeDeferred(units uint32, multiplier int, reason CostingReason) error {
	if units == 0 {
		return nil
	}
	consumed, err := checkedMultiply(units, multiplier)
	if err != nil {
		return err
	}
	perReason, err := checkedAdd(r.deferred[reason], consumed)
	if err != nil {
		return err
	}
	total, err := checkedAdd(r.deferredTotal, consumed)
	if err != nil {
		return err
	}
	r.deferred[reason] = perReason
	r.deferredTotal = total
	return nil
}

// ConsumeExecution charges execution cost units to reason.
func (r *Reserve) ConsumeExecution(units uint32, reason CostingReason) error {
	if units == 0 {
		return nil
	}
	if err := r.consume(units, r.executionPrice); err != nil {
		return err
	}
	perReason, err := checkedAdd(r.execution[reason], units)
	if err != nil {
		return err
	}
	r.execution[reason] = perReason
	return r.repayIfLoanExhausted()
}

// ConsumeMultipliedExecution charges unitsPer * multiplier cost units to reason.
func (r *Reserve) ConsumeMultipliedExecution(unitsPer uint32, multiplier int, reason CostingReason) error {
	if multiplier == 0 {
		return nil
	}
	units, err := checkedMultiply(unitsPer, multiplier)
	if err != nil {
		return err
	}
	return r.ConsumeExecution(units, reason)
}

// ConsumeRoyalty charges royalty cost units owed to the recipient vault.
// Royalties are charged at the execution price and paid out at the plain
// cost unit price.
func (r *Reserve) ConsumeRoyalty(units uint32, recipient types.NodeID) error {
	if units == 0 {
		return nil
	}
	if err := r.consume(units, r.executionPrice); err != nil {
		return err
	}
	perRecipient, err := checkedAdd(r.royalty[recipient], units)
	if err != nil {
		return err
	}
	r.royalty[recipient] = perRecipient
	return r.repayIfLoanExhausted()
}

// RepayAll charges the deferred costs and repays the loan debt from the
// balance. With AbortWhenLoanRepaid set, a successful repayment returns an
// AbortError.
func (r *Reserve) RepayAll() error {
	var sum uint32
	for _, v := range r.deferred {
		var err error
		if sum, err = checkedAdd(sum, v); err != nil {
			return err
		}
	}
	if err := r.consume(sum, r.executionPrice); err != nil {
		return err
	}
	for i := range r.deferred {
		r.execution[i] += r.deferred[i]
		r.deferred[i] = 0
	}
	r.deferredTotal = 0

	if r.remainingBalance.LessThan(r.owed) {
		return ErrLoanRepaymentFailed
	}
	r.remainingBalance, _ = r.remainingBalance.CheckedSub(r.owed)
	r.owed = types.ZeroDecimal

	if r.abortWhenLoanRepaid {
		return &AbortError{Reason: AbortReasonConfiguredAbortTriggeredOnFeeLoanRepayment}
	}
	return nil
}

// RevertRoyaltyCharges drops every royalty charge from the unit counters.
func (r *Reserve) RevertRoyaltyCharges() {
	r.totalConsumed -= r.totalRoyaltyUnits()
	clear(r.royalty)
}

// LockFee registers a fee payment from source. A non-contingent payment is
// available to draw from immediately. A contingent one is only collected at
// finalization and only if the transaction succeeds.
func (r *Reserve) LockFee(source types.NodeID, amount types.Decimal, contingent bool) error {
	if !contingent {
		balance, err := r.remainingBalance.CheckedAdd(amount)
		if err != nil {
			return ErrOverflow
		}
		r.remainingBalance = balance
	}
	r.payments = append(r.payments, Payment{Source: source, Amount: amount, Contingent: contingent})
	return nil
}

// FullyRepaid reports whether no debt or deferred cost is outstanding.
func (r *Reserve) FullyRepaid() bool {
	return r.owed.IsZero() && r.deferredTotal == 0
}

// RemainingLoan returns the unspent loan in cost units.
func (r *Reserve) RemainingLoan() uint32 { return r.remainingLoan }

// RemainingBalance returns the undrawn XRD balance.
func (r *Reserve) RemainingBalance() types.Decimal { return r.remainingBalance }

// Owed returns the XRD debt accrued against the loan.
func (r *Reserve) Owed() types.Decimal { return r.owed }

// TotalConsumed returns the cost units consumed so far.
func (r *Reserve) TotalConsumed() uint32 { return r.totalConsumed }

// CostUnitLimit returns the cost unit limit.
func (r *Reserve) CostUnitLimit() uint32 { return r.limit }

// ExecutionPrice returns the price including the tip.
func (r *Reserve) ExecutionPrice() types.Decimal { return r.executionPrice }

// Royalty returns a copy of the per-recipient royalty units.
func (r *Reserve) Royalty() map[types.NodeID]uint32 {
	out := make(map[types.NodeID]uint32, len(r.royalty))
	for k, v := range r.royalty {
		out[k] = v
	}
	return out
}

func (r *Reserve) totalExecutionUnits() uint32 {
	var sum uint32
	for _, v := range r.execution {
		sum += v
	}
	return sum
}

func (r *Reserve) totalRoyaltyUnits() uint32 {
	var sum uint32
	for _, v := range r.royalty {
		sum += v
	}
	return sum
}

// Finalize reports the reserve's final state.
func (r *Reserve) Finalize() *Summary {
	s := &Summary{
		CostUnitLimit:          r.limit,
		CostUnitPrice:          r.costUnitPrice,
		TipPercentage:          r.tipPercentage,
		TotalCostUnitsConsumed: r.totalConsumed,
		BadDebtXRD:             r.owed,
		Payments:               append([]Payment(nil), r.payments...),
		ExecutionBreakdown:     make(map[CostingReason]uint32, reasonCount),
		RoyaltyBreakdown:       r.Royalty(),
	}
	// Totals are bounded by the u32 unit counters, so they cannot overflow 256 bits.
	s.TotalExecutionCostXRD, _ = cost(r.executionPrice, r.totalExecutionUnits())
	s.TotalRoyaltyCostXRD, _ = cost(r.royaltyPrice, r.totalRoyaltyUnits())
	for i, v := range r.execution {
		s.ExecutionBreakdown[CostingReason(i)] = v
	}
	return s
}
