package services

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const moneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// LineTotals are the rounded amounts of one line item
type LineTotals struct {
	Net     decimal.Decimal
	Vat     decimal.Decimal
	Gross   decimal.Decimal
	VatRate decimal.Decimal
}

// InvoiceTotals are the sums over all line items
type InvoiceTotals struct {
	Net   decimal.Decimal
	Vat   decimal.Decimal
	Gross decimal.Decimal
}

// RoundMoney rounds half-up to cents. Amounts handled here are never negative,
// where decimal's half-away-from-zero equals half-up.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyPlaces)
}

// ComputeLineTotals derives net, vat and gross of a line item.
// Net and vat are rounded once each from the unrounded quantity x price
// product; gross is their sum, so net + vat == gross holds exactly.
func ComputeLineTotals(quantity, unitPrice, vatRate decimal.Decimal) (LineTotals, error) {
	if !quantity.IsPositive() {
		return LineTotals{}, fmt.Errorf("%w: quantity must be positive, got %s", ErrInvalidLineItem, quantity)
	}
	if unitPrice.IsNegative() {
		return LineTotals{}, fmt.Errorf("%w: unit price must not be negative, got %s", ErrInvalidLineItem, unitPrice)
	}
	if !unitPrice.Equal(unitPrice.Round(moneyPlaces)) {
		return LineTotals{}, fmt.Errorf("%w: unit price has more than two decimals: %s", ErrInvalidLineItem, unitPrice)
	}
	if vatRate.IsNegative() || vatRate.GreaterThan(hundred) {
		return LineTotals{}, fmt.Errorf("%w: vat rate must be between 0 and 100, got %s", ErrInvalidLineItem, vatRate)
	}

	rawNet := quantity.Mul(unitPrice)
	rawVat := rawNet.Mul(vatRate).Div(hundred)

	net := RoundMoney(rawNet)
	vat := RoundMoney(rawVat)
	return LineTotals{
		Net:     net,
		Vat:     vat,
		Gross:   net.Add(vat),
		VatRate: vatRate,
	}, nil
}

// ComputeInvoiceTotals sums net and vat independently; gross is net + vat,
// never a sum of per-line gross amounts.
func ComputeInvoiceTotals(lines []LineTotals) InvoiceTotals {
	net, vat := decimal.Zero, decimal.Zero
	for _, l := range lines {
		net = net.Add(l.Net)
		vat = vat.Add(l.Vat)
	}
	return InvoiceTotals{Net: net, Vat: vat, Gross: net.Add(vat)}
}

// DominantVatRate is the rate carrying the largest net amount. Ties go to the higher rate.
// Without lines it returns fallback.
func DominantVatRate(lines []LineTotals, fallback decimal.Decimal) decimal.Decimal {
	if len(lines) == 0 {
		return fallback
	}
	type bucket struct {
		rate decimal.Decimal
		net  decimal.Decimal
	}
	var buckets []bucket
	for _, l := range lines {
		found := false
		for i := range buckets {
			if buckets[i].rate.Equal(l.VatRate) {
				buckets[i].net = buckets[i].net.Add(l.Net)
				found = true
				break
			}
		}
		if !found {
			buckets = append(buckets, bucket{rate: l.VatRate, net: l.Net})
		}
	}

	best := buckets[0]
	for _, b := range buckets[1:] {
		if b.net.GreaterThan(best.net) || (b.net.Equal(best.net) && b.rate.GreaterThan(best.rate)) {
			best = b
		}
	}
	return best.rate
}
