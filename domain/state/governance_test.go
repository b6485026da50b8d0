package state

import (
	"testing"

	"njord/pkg/fixed"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var (
	ann = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	ben = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

func TestVotingPowerLinearBelowCutoff(t *testing.T) {
	require.Equal(t, uint64(0), VotingPower(0))
	require.Equal(t, 500*fixed.Scaling, VotingPower(500*fixed.Scaling))
	require.Equal(t, VotingPowerCutoff, VotingPower(VotingPowerCutoff))
}

func TestVotingPowerSubLinearAboveCutoff(t *testing.T) {
	// 4.0 above the cutoff contributes sqrt(4.0) == 2.0
	got := VotingPower(VotingPowerCutoff + 4*fixed.Scaling)
	require.Equal(t, VotingPowerCutoff+2*fixed.Scaling, got)

	// strictly sub-linear: doubling excess stake less than doubles power
	p1 := VotingPower(VotingPowerCutoff+100*fixed.Scaling) - VotingPowerCutoff
	p2 := VotingPower(VotingPowerCutoff+200*fixed.Scaling) - VotingPowerCutoff
	require.Less(t, p2, 2*p1)
}

func TestProposalBounds(t *testing.T) {
	g := NewGovernance(1)
	err := g.AddProposal(ann, TradeParams{TakerFee: MaxTakerFee + 1, MakerFee: MinMakerFee, StakeRequired: 1})
	require.ErrorIs(t, err, ErrFeeOutOfBounds)

	err = g.AddProposal(ann, TradeParams{TakerFee: MinTakerFee, MakerFee: MaxMakerFee, StakeRequired: 1})
	require.ErrorIs(t, err, ErrMakerExceedsTaker)

	ok := TradeParams{TakerFee: 500_000, MakerFee: 250_000, StakeRequired: 50 * fixed.Scaling}
	require.NoError(t, g.AddProposal(ann, ok))
	require.ErrorIs(t, g.AddProposal(ann, ok), ErrProposalExists)
}

func TestQuorumBelowHalfLeavesNextParams(t *testing.T) {
	// Scenario: 40% of voting power says yes while quorum is 50%.
	g := NewGovernance(1)
	g.AdjustVotingPower(0, 100*fixed.Scaling)
	g.Update(2) // quorum pinned at 50

	prop := TradeParams{TakerFee: 500_000, MakerFee: 250_000, StakeRequired: 1}
	require.NoError(t, g.AddProposal(ann, prop))
	require.NoError(t, g.AdjustVote(nil, &ann, 40*fixed.Scaling))

	require.Equal(t, DefaultTradeParams(), g.NextParams())
	g.Update(3)
	require.Equal(t, DefaultTradeParams(), g.Params())
}

func TestQuorumReachedActivatesNextEpoch(t *testing.T) {
	g := NewGovernance(1)
	g.AdjustVotingPower(0, 100*fixed.Scaling)
	g.Update(2)

	prop := TradeParams{TakerFee: 500_000, MakerFee: 250_000, StakeRequired: 1}
	require.NoError(t, g.AddProposal(ann, prop))
	require.NoError(t, g.AdjustVote(nil, &ann, 50*fixed.Scaling))

	// queued but not live yet
	require.Equal(t, prop, g.NextParams())
	require.Equal(t, DefaultTradeParams(), g.Params())

	g.Update(3)
	require.Equal(t, prop, g.Params())
}

func TestWithdrawnQuorumDoesNotActivate(t *testing.T) {
	g := NewGovernance(1)
	g.AdjustVotingPower(0, 100*fixed.Scaling)
	g.Update(2)

	prop := TradeParams{TakerFee: 500_000, MakerFee: 250_000, StakeRequired: 1}
	require.NoError(t, g.AddProposal(ann, prop))
	require.NoError(t, g.AdjustVote(nil, &ann, 60*fixed.Scaling))
	require.Equal(t, prop, g.NextParams())

	// the vote moves away before the boundary, so the final tally rules
	require.NoError(t, g.AdjustVote(&ann, nil, 60*fixed.Scaling))
	require.Equal(t, DefaultTradeParams(), g.NextParams())

	g.Update(3)
	require.Equal(t, DefaultTradeParams(), g.Params())
}

func TestVoteMoveBetweenProposals(t *testing.T) {
	g := NewGovernance(1)
	g.AdjustVotingPower(0, 100*fixed.Scaling)
	g.Update(2)

	a := TradeParams{TakerFee: 500_000, MakerFee: 250_000, StakeRequired: 1}
	b := TradeParams{TakerFee: 300_000, MakerFee: 150_000, StakeRequired: 1}
	require.NoError(t, g.AddProposal(ann, a))
	require.NoError(t, g.AddProposal(ben, b))

	require.NoError(t, g.AdjustVote(nil, &ann, 30*fixed.Scaling))
	require.NoError(t, g.AdjustVote(&ann, &ben, 30*fixed.Scaling))
	require.Equal(t, uint64(0), g.proposals[ann].Votes)
	require.Equal(t, 30*fixed.Scaling, g.proposals[ben].Votes)
}

func TestProposalsResetEachEpoch(t *testing.T) {
	g := NewGovernance(1)
	g.Update(2)
	require.NoError(t, g.AddProposal(ann, TradeParams{TakerFee: 500_000, MakerFee: 250_000, StakeRequired: 1}))
	g.Update(3)
	require.Empty(t, g.proposals)
	// same proposer may propose again in a new epoch
	require.NoError(t, g.AddProposal(ann, TradeParams{TakerFee: 500_000, MakerFee: 250_000, StakeRequired: 1}))
}
