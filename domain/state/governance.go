package state

import (
	"errors"
	"math/big"
	"math/bits"

	"njord/pkg/fixed"

	"github.com/google/uuid"
)

// Fee rates are billionths of notional. Proposals must stay inside
// these bounds.
const (
	MinTakerFee = uint64(250_000)   // 0.025%
	MaxTakerFee = uint64(1_000_000) // 0.1%
	MinMakerFee = uint64(125_000)
	MaxMakerFee = uint64(500_000)

	DefaultTakerFee      = uint64(1_000_000)
	DefaultMakerFee      = uint64(500_000)
	DefaultStakeRequired = 100 * fixed.Scaling

	// VotingPowerCutoff is the stake beyond which voting power grows
	// sub-linearly.
	VotingPowerCutoff = 1000 * fixed.Scaling
)

var (
	ErrNoStake           = errors.New("state: account has no active stake")
	ErrProposalExists    = errors.New("state: account already proposed this epoch")
	ErrProposalNotFound  = errors.New("state: proposal not found")
	ErrFeeOutOfBounds    = errors.New("state: proposed fees outside governance bounds")
	ErrMakerExceedsTaker = errors.New("state: maker fee above taker fee")
)

// TradeParams is one pool's fee schedule.
type TradeParams struct {
	TakerFee      uint64
	MakerFee      uint64
	StakeRequired uint64
}

func DefaultTradeParams() TradeParams {
	return TradeParams{
		TakerFee:      DefaultTakerFee,
		MakerFee:      DefaultMakerFee,
		StakeRequired: DefaultStakeRequired,
	}
}

// Proposal is a fee-schedule change with its running yes-vote tally.
type Proposal struct {
	Params TradeParams
	Votes  uint64
}

// Governance holds the live fee schedule, the proposal queued for the
// next epoch, and this epoch's proposals. Proposals and votes reset at
// every rollover; a proposal wins by reaching quorum, half the total
// voting power measured at rollover, and must still hold quorum when
// the epoch turns.
type Governance struct {
	epoch       uint64
	params      TradeParams
	queued      *Proposal
	proposals   map[uuid.UUID]*Proposal
	votingPower uint64
	quorum      uint64
}

func NewGovernance(epoch uint64) *Governance {
	return &Governance{
		epoch:     epoch,
		params:    DefaultTradeParams(),
		proposals: make(map[uuid.UUID]*Proposal),
	}
}

// Update rolls governance into epoch: the queued proposal goes live if
// its final tally still meets quorum, proposals and votes reset, quorum
// is re-pinned to half the current voting power. Idempotent within one
// epoch.
func (g *Governance) Update(epoch uint64) {
	if epoch <= g.epoch {
		return
	}
	g.epoch = epoch
	if g.queued != nil && g.queued.Votes >= g.quorum {
		g.params = g.queued.Params
	}
	g.queued = nil
	g.proposals = make(map[uuid.UUID]*Proposal)
	g.quorum = g.votingPower / 2
}

func (g *Governance) Params() TradeParams { return g.params }

// NextParams is the schedule in force after the next rollover, as of
// the current tallies.
func (g *Governance) NextParams() TradeParams {
	if g.queued != nil {
		return g.queued.Params
	}
	return g.params
}

func (g *Governance) Quorum() uint64 { return g.quorum }

// AddProposal registers one proposal per staked account per epoch.
func (g *Governance) AddProposal(proposer uuid.UUID, p TradeParams) error {
	if _, ok := g.proposals[proposer]; ok {
		return ErrProposalExists
	}
	if p.TakerFee < MinTakerFee || p.TakerFee > MaxTakerFee ||
		p.MakerFee < MinMakerFee || p.MakerFee > MaxMakerFee {
		return ErrFeeOutOfBounds
	}
	if p.MakerFee > p.TakerFee {
		return ErrMakerExceedsTaker
	}
	g.proposals[proposer] = &Proposal{Params: p}
	return nil
}

// AdjustVote moves power from one proposal to another. Either side may
// be nil (first vote, vote removal). When a tally reaches quorum the
// proposal is queued for the next epoch.
func (g *Governance) AdjustVote(from, to *uuid.UUID, power uint64) error {
	if from != nil {
		if p, ok := g.proposals[*from]; ok {
			p.Votes -= fixed.Min(p.Votes, power)
			if g.queued == p && p.Votes < g.quorum {
				g.queued = nil
			}
		}
	}
	if to == nil {
		return nil
	}
	p, ok := g.proposals[*to]
	if !ok {
		return ErrProposalNotFound
	}
	p.Votes += power
	if g.quorum > 0 && p.Votes >= g.quorum {
		g.queued = p
	}
	return nil
}

// AdjustVotingPower tracks a stake change for quorum accounting.
func (g *Governance) AdjustVotingPower(before, after uint64) {
	g.votingPower = g.votingPower + after - before
}

// VotingPower maps stake to voting power: linear up to the cutoff,
// square-root beyond it, damping large holders.
func VotingPower(stake uint64) uint64 {
	if stake <= VotingPowerCutoff {
		return stake
	}
	return VotingPowerCutoff + sqrtFixed(stake-VotingPowerCutoff)
}

// sqrtFixed returns sqrt(x) where x and the result are 10^9 scaled:
// sqrt_fixed(x) = floor(sqrt(x * 10^9)).
func sqrtFixed(x uint64) uint64 {
	hi, lo := bits.Mul64(x, fixed.Scaling)
	n := new(big.Int).SetUint64(hi)
	n.Lsh(n, 64)
	n.Or(n, new(big.Int).SetUint64(lo))
	return n.Sqrt(n).Uint64()
}
