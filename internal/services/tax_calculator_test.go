package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeLineTotals(t *testing.T) {
	tests := []struct {
		name             string
		qty, price, rate string
		net, vat, gross  string
	}{
		{"two lessons at 19%", "2", "50.00", "19", "100.00", "19.00", "119.00"},
		// 99.99 * 0.19 = 18.9981, rounds half-up to 19.00
		{"three at 33.33", "3", "33.33", "19", "99.99", "19.00", "118.99"},
		{"half cent rounds up", "1", "0.50", "7", "0.50", "0.04", "0.54"},
		{"fractional hours", "1.5", "45.00", "19", "67.50", "12.83", "80.33"},
		{"tax free course", "1", "890.00", "0", "890.00", "0.00", "890.00"},
		{"free item", "1", "0", "19", "0.00", "0.00", "0.00"},
		{"rounded net", "0.333", "10.00", "19", "3.33", "0.63", "3.96"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeLineTotals(d(tt.qty), d(tt.price), d(tt.rate))
			require.NoError(t, err)
			assert.Equal(t, tt.net, got.Net.StringFixed(2))
			assert.Equal(t, tt.vat, got.Vat.StringFixed(2))
			assert.Equal(t, tt.gross, got.Gross.StringFixed(2))
			assert.True(t, got.Net.Add(got.Vat).Equal(got.Gross))
		})
	}
}

func TestComputeLineTotalsRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name             string
		qty, price, rate string
	}{
		{"zero quantity", "0", "10.00", "19"},
		{"negative quantity", "-1", "10.00", "19"},
		{"negative price", "1", "-0.01", "19"},
		{"sub-cent price", "1", "10.005", "19"},
		{"negative rate", "1", "10.00", "-1"},
		{"rate above 100", "1", "10.00", "100.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputeLineTotals(d(tt.qty), d(tt.price), d(tt.rate))
			assert.ErrorIs(t, err, ErrInvalidLineItem)
		})
	}
}

func TestComputeInvoiceTotalsSumsComponents(t *testing.T) {
	// 0.005 vat per line would drift by a cent per line if gross were rounded separately
	var lines []LineTotals
	for i := 0; i < 25; i++ {
		l, err := ComputeLineTotals(d("1"), d("0.05"), d("10"))
		require.NoError(t, err)
		lines = append(lines, l)
	}
	total := ComputeInvoiceTotals(lines)

	sumNet, sumVat := decimal.Zero, decimal.Zero
	for _, l := range lines {
		sumNet = sumNet.Add(l.Net)
		sumVat = sumVat.Add(l.Vat)
	}
	assert.True(t, total.Net.Equal(sumNet))
	assert.True(t, total.Vat.Equal(sumVat))
	assert.True(t, total.Net.Add(total.Vat).Equal(total.Gross))
	assert.Equal(t, "1.25", total.Net.StringFixed(2))
	assert.Equal(t, "0.25", total.Vat.StringFixed(2))
}

func TestComputeInvoiceTotalsEmpty(t *testing.T) {
	total := ComputeInvoiceTotals(nil)
	assert.True(t, total.Gross.IsZero())
}

func TestDominantVatRate(t *testing.T) {
	mk := func(net, rate string) LineTotals {
		return LineTotals{Net: d(net), VatRate: d(rate)}
	}
	// 7% carries 110 against 100 at 19%
	assert.True(t, DominantVatRate([]LineTotals{mk("100", "19"), mk("50", "7"), mk("60", "7")}, d("19")).Equal(d("7")))
	assert.True(t, DominantVatRate([]LineTotals{mk("10", "0"), mk("40", "7")}, d("19")).Equal(d("7")))
	assert.True(t, DominantVatRate([]LineTotals{mk("10", "7"), mk("10", "19")}, d("0")).Equal(d("19")))
	assert.True(t, DominantVatRate(nil, d("19")).Equal(d("19")))
}
