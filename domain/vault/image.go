package vault

// PricePoint is one exported reference-price sample.
type PricePoint struct {
	Rate uint64
	Ts   int64
}

// Image is the vault's persistent form.
type Image struct {
	Balances [3]uint64
	Loans    []FlashLoan
	PerBase  []PricePoint
	PerQuote []PricePoint
}

func exportRing(r *priceRing) []PricePoint {
	out := make([]PricePoint, 0, len(r.samples))
	for _, s := range r.samples {
		out = append(out, PricePoint{Rate: s.rate, Ts: s.ts})
	}
	return out
}

func loadRing(r *priceRing, pts []PricePoint) {
	r.samples = make([]pricePoint, 0, len(pts))
	for _, p := range pts {
		r.samples = append(r.samples, pricePoint{rate: p.Rate, ts: p.Ts})
	}
}

// Export captures balances, open loans, and both price rings.
func (v *Vault) Export() Image {
	img := Image{
		Balances: v.balances,
		Loans:    make([]FlashLoan, 0, len(v.loans)),
		PerBase:  exportRing(&v.perBase),
		PerQuote: exportRing(&v.perQuote),
	}
	for _, fl := range v.loans {
		img.Loans = append(img.Loans, fl)
	}
	return img
}

// Load fills an empty vault from an exported image.
func (v *Vault) Load(img Image) {
	v.balances = img.Balances
	for _, fl := range img.Loans {
		v.loans[fl.Receipt] = fl
	}
	loadRing(&v.perBase, img.PerBase)
	loadRing(&v.perQuote, img.PerQuote)
}
