// Package wal is the command journal: every accepted mutating command
// is framed, checksummed, and appended to a segmented log before it
// executes, so a restart can rebuild every pool by replay.
package wal

import "time"

type RecordType uint8

const (
	RecordCreatePool RecordType = iota
	RecordPlaceLimit
	RecordPlaceMarket
	RecordModify
	RecordCancel
	RecordCancelAll
	RecordWithdraw
	RecordStake
	RecordUnstake
	RecordProposal
	RecordVote
	RecordPricePoint
	RecordSweep
	RecordWithdrawAll
)

type Record struct {
	Type RecordType
	Seq  uint64
	Time int64
	Data []byte
}

func NewRecord(t RecordType, seq uint64, data []byte) *Record {
	return &Record{
		Type: t,
		Seq:  seq,
		Time: time.Now().UnixNano(),
		Data: data,
	}
}
