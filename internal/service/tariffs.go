package service

import (
	"math"
	"strconv"
	"strings"

	"github.com/digkill/tryon/internal/models"
)

// Bundle is a credit package sold on the site.
type Bundle struct {
	SKU     string
	Price   int
	Credits int
}

var DefaultBundles = []Bundle{
	{SKU: "on_the_go", Price: 320, Credits: 10},
	{SKU: "starter", Price: 800, Credits: 25},
	{SKU: "standard", Price: 1600, Credits: 60},
}

type Tariffs struct {
	bundles        []Bundle
	pricePerCredit int
	tolerance      int
}

func NewTariffs(bundles []Bundle, pricePerCredit, tolerance int) *Tariffs {
	if pricePerCredit <= 0 {
		pricePerCredit = 32
	}
	if tolerance < 0 {
		tolerance = 0
	}
	return &Tariffs{bundles: bundles, pricePerCredit: pricePerCredit, tolerance: tolerance}
}

func (t *Tariffs) Bundle(sku string) (Bundle, bool) {
	for _, b := range t.bundles {
		if strings.EqualFold(b.SKU, sku) {
			return b, true
		}
	}
	return Bundle{}, false
}

// Credits converts a payment into a credit quantity. Known SKUs win; without
// one the amount is matched against bundle prices, then priced per credit.
func (t *Tariffs) Credits(ev models.PaymentEvent) int {
	total := 0
	matched := false
	for _, p := range ev.Products {
		b, ok := t.Bundle(p.SKU)
		if !ok {
			continue
		}
		matched = true
		if p.Quantity > 0 {
			total += b.Credits * p.Quantity
		}
	}
	if matched {
		return total
	}
	return t.CreditsForAmount(ev.Amount)
}

// CreditsForAmount prices a bare amount. An amount within the tolerance of a
// bundle price buys that bundle, which absorbs rounding in discounted checkouts.
func (t *Tariffs) CreditsForAmount(raw string) int {
	amount, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(raw), ",", "."), 64)
	if err != nil || amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0
	}
	for _, b := range t.bundles {
		if math.Abs(amount-float64(b.Price)) <= float64(t.tolerance) {
			return b.Credits
		}
	}
	return int(math.Floor(amount / float64(t.pricePerCredit)))
}
