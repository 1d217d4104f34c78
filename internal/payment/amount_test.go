package payment

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestToMinorUnits(t *testing.T) {
	var tests = []struct {
		name     string
		amount   string
		decimals int
		want     string
		wantErr  bool
	}{
		{name: "whole units", amount: "10", decimals: 6, want: "10000000"},
		{name: "fractional", amount: "0.015", decimals: 6, want: "15000"},
		{name: "full precision", amount: "1.234567", decimals: 6, want: "1234567"},
		{name: "nine decimals", amount: "0.000000001", decimals: 9, want: "1"},
		{name: "zero", amount: "0", decimals: 6, wantErr: true},
		{name: "negative", amount: "-1", decimals: 6, wantErr: true},
		{name: "too precise", amount: "0.0000001", decimals: 6, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			amount, err := decimal.NewFromString(tt.amount)
			require.NoError(t, err)

			units, err := ToMinorUnits(amount, tt.decimals)
			if tt.wantErr {
				var vErr *ValidationError
				require.ErrorAs(t, err, &vErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, units.String())
		})
	}
}

func TestFromMinorUnits_RoundTrip(t *testing.T) {
	amount := decimal.RequireFromString("12.345678")

	units, err := ToMinorUnits(amount, 6)
	require.NoError(t, err)

	back := FromMinorUnits(units, 6)
	require.True(t, amount.Equal(back), "got %s", back)
}
