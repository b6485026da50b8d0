package service

import (
	"encoding/json"

	"njord/infra/wal"

	"github.com/pkg/errors"
)

// Replay rebuilds every pool from the journal. It must run before the
// exchange accepts traffic. Commands re-execute in sequence order with
// emission gated off. Per-command failures (a cancel whose order never
// rested, a rejected FOK) are expected replay outcomes, not errors:
// they failed identically when first executed.
func (s *Exchange) Replay(walDir string) error {
	s.replaying = true
	defer func() { s.replaying = false }()

	// Records at or below the restored snapshot cut are already part of
	// the loaded state.
	base := s.seq.Current()
	lastSeq, err := wal.Replay(walDir, func(rec *wal.Record) error {
		if rec.Seq <= base {
			return nil
		}
		var cmd Command
		if err := json.Unmarshal(rec.Data, &cmd); err != nil {
			return errors.Wrapf(err, "service: decode command seq %d", rec.Seq)
		}
		s.applyReplayed(rec.Type, cmd)
		return nil
	})
	if err != nil {
		return err
	}

	if lastSeq < base {
		lastSeq = base
	}
	s.seq.Reset(lastSeq)
	s.log.WithField("last_seq", lastSeq).Info("journal replay complete")
	return nil
}

func (s *Exchange) applyReplayed(t wal.RecordType, cmd Command) {
	if t == wal.RecordCreatePool {
		s.ensurePool(cmd)
		return
	}

	p, ok := s.registry.Get(cmd.Pair)
	if !ok {
		s.log.WithField("pair", cmd.Pair.String()).Warn("replay references unknown pair")
		return
	}
	c := cred(cmd)

	switch t {
	case wal.RecordPlaceLimit:
		_, _ = p.PlaceLimitOrder(c, cmd.Side, cmd.Price, cmd.Qty, cmd.Type, cmd.Policy, cmd.ExpireTs, cmd.FeeAsset, cmd.Ts)
	case wal.RecordPlaceMarket:
		_, _ = p.PlaceMarketOrder(c, cmd.Side, cmd.Qty, cmd.Policy, cmd.FeeAsset, cmd.Ts)
	case wal.RecordModify:
		_ = p.ModifyOrder(c, cmd.OrderID, cmd.NewQty, cmd.Ts)
	case wal.RecordCancel:
		_ = p.CancelOrder(c, cmd.OrderID, cmd.Ts)
	case wal.RecordCancelAll:
		_, _ = p.CancelAll(c, cmd.Ts)
	case wal.RecordWithdraw:
		_ = p.WithdrawSettled(c, cmd.Ts)
	case wal.RecordWithdrawAll:
		_, _ = p.WithdrawAll(c, cmd.Ts)
	case wal.RecordStake:
		_ = p.Stake(c, cmd.Amount, cmd.Ts)
	case wal.RecordUnstake:
		_ = p.Unstake(c, cmd.Ts)
	case wal.RecordProposal:
		_ = p.SubmitProposal(c, cmd.Params, cmd.Ts)
	case wal.RecordVote:
		_ = p.Vote(c, cmd.Proposal, cmd.Ts)
	case wal.RecordPricePoint:
		_ = p.AddReferencePricePoint(cmd.Rate, cmd.Ts, cmd.IsBase)
	case wal.RecordSweep:
		_ = p.SweepExpired(cmd.Ts)
	default:
		s.log.WithField("type", t).Warn("replay skipping unknown record type")
	}
}
