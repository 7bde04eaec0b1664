package pricing

import "github.com/shopspring/decimal"

// Instrument describes a tradable symbol. ContractSize is units of the
// base currency per lot. USDQuoted pairs settle P&L directly in USD;
// USD-base pairs (USDJPY, ...) need the delta converted at the mark.
type Instrument struct {
	Symbol       string
	ContractSize decimal.Decimal
	USDQuoted    bool
	MinLot       decimal.Decimal
	MaxLot       decimal.Decimal
}

var standardLot = decimal.NewFromInt(100000)

var instruments = map[string]Instrument{
	"EURUSD": {Symbol: "EURUSD", ContractSize: standardLot, USDQuoted: true},
	"GBPUSD": {Symbol: "GBPUSD", ContractSize: standardLot, USDQuoted: true},
	"AUDUSD": {Symbol: "AUDUSD", ContractSize: standardLot, USDQuoted: true},
	"NZDUSD": {Symbol: "NZDUSD", ContractSize: standardLot, USDQuoted: true},
	"USDJPY": {Symbol: "USDJPY", ContractSize: standardLot, USDQuoted: false},
	"USDCHF": {Symbol: "USDCHF", ContractSize: standardLot, USDQuoted: false},
	"USDCAD": {Symbol: "USDCAD", ContractSize: standardLot, USDQuoted: false},
	"XAUUSD": {Symbol: "XAUUSD", ContractSize: decimal.NewFromInt(100), USDQuoted: true},
}

var (
	defaultMinLot = decimal.NewFromFloat(0.01)
	defaultMaxLot = decimal.NewFromInt(100)
)

// LookupInstrument returns the instrument for a symbol, false when the
// symbol is not tradable.
func LookupInstrument(symbol string) (Instrument, bool) {
	inst, ok := instruments[symbol]
	if !ok {
		return Instrument{}, false
	}
	if !inst.MinLot.GreaterThan(decimal.Zero) {
		inst.MinLot = defaultMinLot
	}
	if !inst.MaxLot.GreaterThan(decimal.Zero) {
		inst.MaxLot = defaultMaxLot
	}
	return inst, true
}

// Symbols returns the supported instrument set.
func Symbols() []string {
	out := make([]string, 0, len(instruments))
	for s := range instruments {
		out = append(out, s)
	}
	return out
}
