package pnl

import (
	"testing"

	"fx-arena/internal/pricing"
	"fx-arena/internal/types"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func mustInstrument(t *testing.T, symbol string) pricing.Instrument {
	t.Helper()
	inst, ok := pricing.LookupInstrument(symbol)
	if !ok {
		t.Fatalf("instrument %s not found", symbol)
	}
	return inst
}

func TestUnrealizedPnLLong(t *testing.T) {
	inst := mustInstrument(t, "EURUSD")
	got := UnrealizedPnL(types.PositionSideLong, dec("1.1000"), dec("1.1050"), dec("1"), inst)
	if !got.Equal(dec("500")) {
		t.Fatalf("long pnl = %s, want 500", got)
	}
}

func TestUnrealizedPnLShort(t *testing.T) {
	inst := mustInstrument(t, "EURUSD")
	got := UnrealizedPnL(types.PositionSideShort, dec("1.1000"), dec("1.1050"), dec("1"), inst)
	if !got.Equal(dec("-500")) {
		t.Fatalf("short pnl = %s, want -500", got)
	}
}

func TestUnrealizedPnLUSDBasePair(t *testing.T) {
	inst := mustInstrument(t, "USDJPY")
	// 1 lot long from 150.00 to 150.50: 0.50 * 100000 JPY, converted at the mark.
	got := UnrealizedPnL(types.PositionSideLong, dec("150.00"), dec("150.50"), dec("1"), inst)
	want := dec("0.50").Mul(dec("100000")).Div(dec("150.50"))
	if !got.Equal(want) {
		t.Fatalf("usdjpy pnl = %s, want %s", got, want)
	}
}

func TestUnrealizedPnLGold(t *testing.T) {
	inst := mustInstrument(t, "XAUUSD")
	got := UnrealizedPnL(types.PositionSideLong, dec("2000"), dec("2010"), dec("1"), inst)
	if !got.Equal(dec("1000")) {
		t.Fatalf("gold pnl = %s, want 1000 (contract size 100)", got)
	}
}

func TestUnrealizedPnLInvalidInputs(t *testing.T) {
	inst := mustInstrument(t, "EURUSD")
	if got := UnrealizedPnL(types.PositionSideLong, dec("0"), dec("1.1"), dec("1"), inst); !got.IsZero() {
		t.Fatalf("zero entry should give zero pnl, got %s", got)
	}
	if got := UnrealizedPnL(types.PositionSideLong, dec("1.1"), dec("1.1"), dec("-1"), inst); !got.IsZero() {
		t.Fatalf("negative qty should give zero pnl, got %s", got)
	}
}

func TestMarginRequired(t *testing.T) {
	inst := mustInstrument(t, "EURUSD")
	// 1 lot at 1.1000 with 100x leverage: 110000 / 100 = 1100.
	got := MarginRequired(dec("1"), dec("1.1000"), dec("100"), inst)
	if !got.Equal(dec("1100")) {
		t.Fatalf("margin = %s, want 1100", got)
	}
	if got := MarginRequired(dec("1"), dec("1.1"), dec("0"), inst); !got.IsZero() {
		t.Fatalf("zero leverage should give zero margin, got %s", got)
	}
}

func TestMarginRequiredUSDBase(t *testing.T) {
	inst := mustInstrument(t, "USDJPY")
	// Base currency is USD so notional ignores the price.
	got := MarginRequired(dec("1"), dec("150"), dec("50"), inst)
	if !got.Equal(dec("2000")) {
		t.Fatalf("usdjpy margin = %s, want 2000", got)
	}
}

func TestValidateQuantity(t *testing.T) {
	inst := mustInstrument(t, "EURUSD")
	cases := []struct {
		qty     string
		wantErr bool
	}{
		{"0.01", false},
		{"1", false},
		{"100", false},
		{"0", true},
		{"-1", true},
		{"0.005", true},
		{"100.01", true},
	}
	for _, tc := range cases {
		err := ValidateQuantity(dec(tc.qty), inst)
		if (err != nil) != tc.wantErr {
			t.Errorf("ValidateQuantity(%s) err = %v, wantErr = %v", tc.qty, err, tc.wantErr)
		}
	}
}

func TestValidateStopLossTakeProfit(t *testing.T) {
	entry := dec("1.1000")
	below := dec("1.0900")
	above := dec("1.1100")

	if err := ValidateStopLossTakeProfit(types.PositionSideLong, entry, nil, nil); err != nil {
		t.Fatalf("nil SL/TP should pass: %v", err)
	}
	if err := ValidateStopLossTakeProfit(types.PositionSideLong, entry, &below, &above); err != nil {
		t.Fatalf("valid long SL/TP rejected: %v", err)
	}
	if err := ValidateStopLossTakeProfit(types.PositionSideLong, entry, &above, nil); err == nil {
		t.Fatal("long SL above entry should be rejected")
	}
	if err := ValidateStopLossTakeProfit(types.PositionSideLong, entry, nil, &below); err == nil {
		t.Fatal("long TP below entry should be rejected")
	}
	if err := ValidateStopLossTakeProfit(types.PositionSideShort, entry, &above, &below); err != nil {
		t.Fatalf("valid short SL/TP rejected: %v", err)
	}
	if err := ValidateStopLossTakeProfit(types.PositionSideShort, entry, &below, nil); err == nil {
		t.Fatal("short SL below entry should be rejected")
	}
	zero := dec("0")
	if err := ValidateStopLossTakeProfit(types.PositionSideLong, entry, &zero, nil); err == nil {
		t.Fatal("zero SL should be rejected")
	}
}

func TestSlippagePips(t *testing.T) {
	// Buy filled 1 pip worse than requested.
	got := SlippagePips("EURUSD", dec("1.1000"), dec("1.1001"), types.OrderSideBuy)
	if !got.Equal(dec("1")) {
		t.Fatalf("buy slippage = %s, want 1", got)
	}
	// Sell filled 1 pip worse (lower).
	got = SlippagePips("EURUSD", dec("1.1000"), dec("1.0999"), types.OrderSideSell)
	if !got.Equal(dec("1")) {
		t.Fatalf("sell slippage = %s, want 1", got)
	}
	// JPY pip is 0.01.
	got = SlippagePips("USDJPY", dec("150.00"), dec("150.02"), types.OrderSideBuy)
	if !got.Equal(dec("2")) {
		t.Fatalf("jpy slippage = %s, want 2", got)
	}
}
