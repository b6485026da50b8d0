package state

import (
	"sort"

	"njord/pkg/fixed"

	"github.com/google/uuid"
)

// Volumes aggregates one epoch of trading.
type Volumes struct {
	Epoch         uint64
	TotalVolume   uint64
	StakedVolume  uint64
	FeesCollected uint64 // fee-asset equivalent

	// per qualifying maker: fees its volume generated and liquidity it
	// provided, the inputs of the rebate formula
	QualifiedFees      map[uuid.UUID]uint64
	QualifiedLiquidity map[uuid.UUID]uint64
	UnqualifiedFees    uint64
}

func newVolumes(epoch uint64) Volumes {
	return Volumes{
		Epoch:              epoch,
		QualifiedFees:      make(map[uuid.UUID]uint64),
		QualifiedLiquidity: make(map[uuid.UUID]uint64),
	}
}

// History keeps the live epoch's aggregates, immutable closed epochs,
// and the pending maker rebates computed at rollover.
type History struct {
	epoch   uint64
	current Volumes
	archive map[uint64]Volumes

	// windowEpochs bounds the trailing volume window feeding the
	// phase-out median (28 days' worth of epochs).
	windowEpochs int
	trailing     []uint64

	rebates map[uuid.UUID]uint64
	burn    uint64
}

func NewHistory(epoch uint64, windowEpochs int) *History {
	if windowEpochs < 1 {
		windowEpochs = 1
	}
	return &History{
		epoch:        epoch,
		current:      newVolumes(epoch),
		archive:      make(map[uint64]Volumes),
		windowEpochs: windowEpochs,
		rebates:      make(map[uuid.UUID]uint64),
	}
}

// Update lazily rolls the live epoch into immutable storage and
// computes maker rebates for it. Calling it twice in one epoch is a
// no-op.
func (h *History) Update(epoch uint64) {
	if epoch <= h.epoch {
		return
	}
	h.closeEpoch()
	h.epoch = epoch
	h.current = newVolumes(epoch)
}

func (h *History) closeEpoch() {
	closed := h.current

	h.trailing = append(h.trailing, closed.TotalVolume)
	if len(h.trailing) > h.windowEpochs {
		h.trailing = h.trailing[len(h.trailing)-h.windowEpochs:]
	}

	h.payRebates(&closed)
	h.archive[closed.Epoch] = closed
}

// payRebates applies the phase-out rebate formula to every qualifying
// maker of the closed epoch:
//
//	rebate_i = F_i * (1 + sumUnqualifiedFees/sumQualifiedFees)
//	               * (1 - (sumLiquidity - L_i)/phaseOut)
//
// clamped at zero, with the total capped by the fees the epoch
// actually collected. Any surplus is marked for burn.
func (h *History) payRebates(closed *Volumes) {
	if len(closed.QualifiedFees) == 0 {
		h.burn += closed.FeesCollected
		return
	}
	var sumFees, sumLiq uint64
	for _, f := range closed.QualifiedFees {
		sumFees += f
	}
	for _, l := range closed.QualifiedLiquidity {
		sumLiq += l
	}
	phaseOut := h.phaseOut()

	// deterministic account order
	makers := make([]uuid.UUID, 0, len(closed.QualifiedFees))
	for id := range closed.QualifiedFees {
		makers = append(makers, id)
	}
	sort.Slice(makers, func(i, j int) bool {
		return makers[i].String() < makers[j].String()
	})

	boost := fixed.Scaling
	if sumFees > 0 {
		boost += fixed.Div(closed.UnqualifiedFees, sumFees)
	}

	budget := closed.FeesCollected
	var paid uint64
	for _, id := range makers {
		fees := closed.QualifiedFees[id]
		liq := closed.QualifiedLiquidity[id]

		var fade uint64
		others := sumLiq - liq
		if phaseOut == 0 || others >= phaseOut {
			fade = 0
		} else {
			fade = fixed.Scaling - fixed.Div(others, phaseOut)
		}

		r := fixed.Mul(fixed.Mul(fees, boost), fade)
		if r > budget-paid {
			r = budget - paid
		}
		if r == 0 {
			continue
		}
		h.rebates[id] += r
		paid += r
	}
	h.burn += budget - paid
}

// phaseOut derives the per-epoch phase-out constant from the median
// trailing epoch volume.
func (h *History) phaseOut() uint64 {
	if len(h.trailing) == 0 {
		return 0
	}
	s := make([]uint64, len(h.trailing))
	copy(s, h.trailing)
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	return s[len(s)/2]
}

// AddFill folds one maker fill into the live epoch.
func (h *History) AddFill(maker uuid.UUID, baseQty, feeAssetFees uint64, qualified bool) {
	h.current.TotalVolume += baseQty
	h.current.FeesCollected += feeAssetFees
	if qualified {
		h.current.StakedVolume += baseQty
		h.current.QualifiedFees[maker] += feeAssetFees
		h.current.QualifiedLiquidity[maker] += baseQty
	} else {
		h.current.UnqualifiedFees += feeAssetFees
	}
}

// ClaimRebate pops an account's pending rebate.
func (h *History) ClaimRebate(id uuid.UUID) uint64 {
	r := h.rebates[id]
	if r > 0 {
		delete(h.rebates, id)
	}
	return r
}

// Closed returns the immutable record of a closed epoch.
func (h *History) Closed(epoch uint64) (Volumes, bool) {
	v, ok := h.archive[epoch]
	return v, ok
}

// Current returns the live epoch's aggregates.
func (h *History) Current() Volumes { return h.current }

// BurnBalance is the fee surplus marked for burn rather than
// distribution.
func (h *History) BurnBalance() uint64 { return h.burn }
