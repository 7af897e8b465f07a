// Package execution realizes target portfolios and forced closes as BUY and
// SELL transactions. It is the sole mutator of cash and of the open-position
// set's membership: sells free cash before buys, costs are deducted on both
// legs, and a transaction that would drive cash negative is an invariant
// violation that aborts the run.
package execution

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/quantfolio/backtest-engine/internal/risk"
	"github.com/quantfolio/backtest-engine/internal/selection"
	"github.com/quantfolio/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// shares are tracked to 8 decimal places
const sharePrecision = 8

// Executor converts decisions into transactions against the position book.
type Executor struct {
	logger *zap.Logger
	cost   CostModel
	book   *risk.Manager
	cash   decimal.Decimal
	ns     uuid.UUID
	seq    int
}

// NewExecutor creates an executor holding the run's starting cash.
// Transaction IDs are name-based UUIDs derived from runID and a per-run
// sequence number, so identical runs produce identical transaction logs.
func NewExecutor(logger *zap.Logger, cost CostModel, book *risk.Manager, runID string, initialCash decimal.Decimal) *Executor {
	return &Executor{
		logger: logger,
		cost:   cost,
		book:   book,
		cash:   initialCash,
		ns:     uuid.NewSHA1(uuid.NameSpaceOID, []byte(runID)),
	}
}

func (e *Executor) nextID(date time.Time, action types.Action, symbol string) string {
	e.seq++
	name := fmt.Sprintf("%s|%s|%s|%d", date.Format("2006-01-02"), action, symbol, e.seq)
	return uuid.NewSHA1(e.ns, []byte(name)).String()
}

// Cash returns the current cash balance.
func (e *Executor) Cash() decimal.Decimal { return e.cash }

// PortfolioValue returns cash plus the market value of open positions.
func (e *Executor) PortfolioValue(prices map[string]decimal.Decimal) decimal.Decimal {
	return e.cash.Add(e.book.MarketValue(prices))
}

// ExecuteExits closes the positions named by the risk manager. Each
// instruction yields exactly one SELL tagged with the instruction's reason.
func (e *Executor) ExecuteExits(date time.Time, exits []risk.ExitInstruction) ([]types.Transaction, error) {
	sells := make([]types.Transaction, 0, len(exits))
	for _, exit := range exits {
		tx, err := e.sell(date, exit.Symbol, exit.Price, exit.Reason)
		if err != nil {
			return sells, err
		}
		sells = append(sells, tx)
	}
	return sells, nil
}

// Rebalance moves current holdings toward the target: deselected positions
// are sold first, then new selections are bought in rank order from the
// freed cash. Positions that remain selected are left untouched. A BUY that
// would dip into the cash reserve is rejected and logged, not resized.
func (e *Executor) Rebalance(date time.Time, target selection.TargetPortfolio, prices map[string]decimal.Decimal, scores map[string]types.ScoreResult) (sells, buys []types.Transaction, err error) {
	// Sells first: free the cash before any buy is attempted.
	for _, sym := range e.book.Symbols() {
		if _, keep := target.Weights[sym]; keep {
			continue
		}
		price, ok := prices[sym]
		if !ok {
			// No price this step; hold rather than guess an exit price.
			e.logger.Warn("Deselected position held for lack of price",
				zap.String("symbol", sym),
				zap.Time("date", date),
			)
			continue
		}
		tx, err := e.sell(date, sym, price, types.ExitRebalance)
		if err != nil {
			return sells, buys, err
		}
		sells = append(sells, tx)
	}

	value := e.PortfolioValue(prices)
	reserveFloor := value.Mul(decimal.NewFromFloat(target.CashReserve))

	for _, sym := range target.Selected {
		if e.book.Held(sym) {
			continue
		}
		price, ok := prices[sym]
		if !ok {
			continue
		}

		// The weight's budget covers gross plus cost; size the order down by
		// the estimated cost so the full trade fits inside it.
		budget := value.Mul(decimal.NewFromFloat(target.Weights[sym]))
		shares := budget.Sub(e.cost.Cost(budget)).DivRound(price, sharePrecision)
		if shares.LessThanOrEqual(decimal.Zero) {
			continue
		}

		gross := shares.Mul(price)
		cost := e.cost.Cost(gross)
		required := gross.Add(cost)

		available := e.cash.Sub(reserveFloor)
		if required.GreaterThan(available) {
			e.logger.Info("Buy rejected: insufficient cash after reserve",
				zap.String("symbol", sym),
				zap.String("required", required.String()),
				zap.String("available", available.String()),
			)
			continue
		}

		tx, err := e.buy(date, sym, shares, price, gross, cost, scores[sym])
		if err != nil {
			return sells, buys, err
		}
		buys = append(buys, tx)
	}

	return sells, buys, nil
}

func (e *Executor) buy(date time.Time, symbol string, shares, price, gross, cost decimal.Decimal, score types.ScoreResult) (types.Transaction, error) {
	e.cash = e.cash.Sub(gross).Sub(cost)
	if e.cash.IsNegative() {
		return types.Transaction{}, &types.InvariantViolationError{
			Op:     "buy",
			Detail: fmt.Sprintf("cash went negative (%s) buying %s", e.cash.String(), symbol),
		}
	}

	if ok := e.book.Open(types.Position{
		Symbol:       symbol,
		Shares:       shares,
		EntryPrice:   price,
		EntryDate:    date,
		EntryCost:    cost,
		EntryScore:   score.Score,
		EntryQuality: score.QualityScore,
		Sector:       score.Sector,
		PeakPrice:    price,
	}); !ok {
		return types.Transaction{}, &types.InvariantViolationError{
			Op:     "buy",
			Detail: fmt.Sprintf("position already open for %s", symbol),
		}
	}

	e.logger.Debug("Buy executed",
		zap.String("symbol", symbol),
		zap.String("shares", shares.String()),
		zap.String("price", price.String()),
		zap.String("cost", cost.String()),
	)

	return types.Transaction{
		ID:         e.nextID(date, types.ActionBuy, symbol),
		Date:       date,
		Action:     types.ActionBuy,
		Symbol:     symbol,
		Shares:     shares,
		Price:      price,
		GrossValue: gross,
		Cost:       cost,
	}, nil
}

func (e *Executor) sell(date time.Time, symbol string, price decimal.Decimal, reason types.ExitReason) (types.Transaction, error) {
	pos, held := e.book.Remove(symbol)
	if !held {
		return types.Transaction{}, &types.InvariantViolationError{
			Op:     "sell",
			Detail: fmt.Sprintf("no open position for %s", symbol),
		}
	}

	gross := pos.Shares.Mul(price)
	cost := e.cost.Cost(gross)
	e.cash = e.cash.Add(gross).Sub(cost)
	if e.cash.IsNegative() {
		return types.Transaction{}, &types.InvariantViolationError{
			Op:     "sell",
			Detail: fmt.Sprintf("cash went negative (%s) selling %s", e.cash.String(), symbol),
		}
	}

	// Realized PnL is net of both legs' transaction costs.
	realized := price.Sub(pos.EntryPrice).Mul(pos.Shares).Sub(cost).Sub(pos.EntryCost)
	basis := pos.EntryPrice.Mul(pos.Shares)
	var pct float64
	if basis.IsPositive() {
		pct, _ = realized.Div(basis).Float64()
	}
	holdingDays := int(date.Sub(pos.EntryDate).Hours() / 24)

	e.logger.Debug("Sell executed",
		zap.String("symbol", symbol),
		zap.String("reason", string(reason)),
		zap.String("realizedPnl", realized.String()),
		zap.Int("holdingDays", holdingDays),
	)

	return types.Transaction{
		ID:             e.nextID(date, types.ActionSell, symbol),
		Date:           date,
		Action:         types.ActionSell,
		Symbol:         symbol,
		Shares:         pos.Shares,
		Price:          price,
		GrossValue:     gross,
		Cost:           cost,
		RealizedPnL:    realized,
		RealizedPnLPct: pct,
		HoldingDays:    holdingDays,
		Reason:         reason,
	}, nil
}
