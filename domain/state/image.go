package state

import "github.com/google/uuid"

// AccountImage is an Account with its open-order set flattened for
// encoding.
type AccountImage struct {
	Owner      uuid.UUID
	Epoch      uint64
	OpenOrders []uint64

	Settled Balances
	Owed    Balances

	TakerVolume    uint64
	MakerVolume    uint64
	FeeAssetVolume uint64

	ActiveStake   uint64
	InactiveStake uint64

	VotedProposal *uuid.UUID
}

// GovernanceImage captures the fee schedule, this epoch's proposals,
// and the queued winner by its proposer.
type GovernanceImage struct {
	Epoch       uint64
	Params      TradeParams
	Proposals   map[uuid.UUID]Proposal
	Queued      *uuid.UUID
	VotingPower uint64
	Quorum      uint64
}

// HistoryImage is the epoch ledger in full: the live epoch, the closed
// archive, the trailing volume window, and unpaid rebates.
type HistoryImage struct {
	Epoch        uint64
	Current      Volumes
	Archive      map[uint64]Volumes
	WindowEpochs int
	Trailing     []uint64
	Rebates      map[uuid.UUID]uint64
	Burn         uint64
}

// Image is one pool's complete accounting state.
type Image struct {
	Governance GovernanceImage
	History    HistoryImage
	Accounts   []AccountImage
}

// Export captures the whole accounting state.
func (s *State) Export() Image {
	img := Image{
		Governance: s.gov.export(),
		History:    s.hist.export(),
		Accounts:   make([]AccountImage, 0, len(s.accounts)),
	}
	for _, a := range s.accounts {
		ai := AccountImage{
			Owner:          a.Owner,
			Epoch:          a.Epoch,
			OpenOrders:     make([]uint64, 0, len(a.OpenOrders)),
			Settled:        a.Settled,
			Owed:           a.Owed,
			TakerVolume:    a.TakerVolume,
			MakerVolume:    a.MakerVolume,
			FeeAssetVolume: a.FeeAssetVolume,
			ActiveStake:    a.ActiveStake,
			InactiveStake:  a.InactiveStake,
		}
		for id := range a.OpenOrders {
			ai.OpenOrders = append(ai.OpenOrders, id)
		}
		if a.VotedProposal != nil {
			p := *a.VotedProposal
			ai.VotedProposal = &p
		}
		img.Accounts = append(img.Accounts, ai)
	}
	return img
}

// Load fills an empty State from an exported image.
func (s *State) Load(img Image) {
	s.gov.restore(img.Governance)
	s.hist.restore(img.History)
	for _, ai := range img.Accounts {
		a := newAccount(ai.Owner, ai.Epoch)
		for _, id := range ai.OpenOrders {
			a.OpenOrders[id] = struct{}{}
		}
		a.Settled = ai.Settled
		a.Owed = ai.Owed
		a.TakerVolume = ai.TakerVolume
		a.MakerVolume = ai.MakerVolume
		a.FeeAssetVolume = ai.FeeAssetVolume
		a.ActiveStake = ai.ActiveStake
		a.InactiveStake = ai.InactiveStake
		if ai.VotedProposal != nil {
			p := *ai.VotedProposal
			a.VotedProposal = &p
		}
		s.accounts[a.Owner] = a
	}
}

func (g *Governance) export() GovernanceImage {
	img := GovernanceImage{
		Epoch:       g.epoch,
		Params:      g.params,
		Proposals:   make(map[uuid.UUID]Proposal, len(g.proposals)),
		VotingPower: g.votingPower,
		Quorum:      g.quorum,
	}
	for id, p := range g.proposals {
		img.Proposals[id] = *p
		if g.queued == p {
			q := id
			img.Queued = &q
		}
	}
	return img
}

func (g *Governance) restore(img GovernanceImage) {
	g.epoch = img.Epoch
	g.params = img.Params
	g.votingPower = img.VotingPower
	g.quorum = img.Quorum
	g.proposals = make(map[uuid.UUID]*Proposal, len(img.Proposals))
	for id, p := range img.Proposals {
		cp := p
		g.proposals[id] = &cp
	}
	if img.Queued != nil {
		g.queued = g.proposals[*img.Queued]
	}
}

func cloneVolumes(v Volumes) Volumes {
	c := v
	c.QualifiedFees = make(map[uuid.UUID]uint64, len(v.QualifiedFees))
	c.QualifiedLiquidity = make(map[uuid.UUID]uint64, len(v.QualifiedLiquidity))
	for id, f := range v.QualifiedFees {
		c.QualifiedFees[id] = f
	}
	for id, l := range v.QualifiedLiquidity {
		c.QualifiedLiquidity[id] = l
	}
	return c
}

func (h *History) export() HistoryImage {
	img := HistoryImage{
		Epoch:        h.epoch,
		Current:      cloneVolumes(h.current),
		Archive:      make(map[uint64]Volumes, len(h.archive)),
		WindowEpochs: h.windowEpochs,
		Trailing:     append([]uint64(nil), h.trailing...),
		Rebates:      make(map[uuid.UUID]uint64, len(h.rebates)),
		Burn:         h.burn,
	}
	for e, v := range h.archive {
		img.Archive[e] = v
	}
	for id, r := range h.rebates {
		img.Rebates[id] = r
	}
	return img
}

func (h *History) restore(img HistoryImage) {
	h.epoch = img.Epoch
	h.current = img.Current
	h.archive = img.Archive
	h.windowEpochs = img.WindowEpochs
	h.trailing = img.Trailing
	h.rebates = img.Rebates
	h.burn = img.Burn
}
