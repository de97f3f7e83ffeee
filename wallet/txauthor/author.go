// Package txauthor assembles the spend plans handed to a transaction
// builder: the notes being spent, the keys authorizing them and their
// authentication paths against a common anchor.
package txauthor

import (
	"fmt"

	"github.com/zsasuite/zsawallet/commitmenttree"
	"github.com/zsasuite/zsawallet/shielded"
	"github.com/zsasuite/zsawallet/wtxmgr"
)

// Input is a note selected for spending.
type Input struct {
	Record      *wtxmgr.NoteRecord
	SpendingKey shielded.SpendingKey
	AuthPath    *commitmenttree.AuthPath
}

// SumInputValues sums up the values of the notes being spent.
func SumInputValues(inputs []*Input) (total uint64) {
	for _, in := range inputs {
		total += in.Record.Note.Value
	}
	return total
}

// InputSource provides notes to spend in order to reach some target value.
// If the target value can not be satisfied, this can be signaled by
// returning a total value less than the target or by returning a more
// detailed error implementing InputSourceError.
type InputSource func(target uint64) (total uint64, inputs []*Input, err error)

// InputSourceError describes the failure to provide enough input value from
// unspent notes to meet a target value.  A typed error is used so input
// sources can provide their own implementations describing the reason for
// the error, for example, due to notes that are not witnessed yet rather than
// the wallet not having enough value.
type InputSourceError interface {
	error
	InputSourceError()
}

// InsufficientFundsError is the default implementation of InputSourceError.
type InsufficientFundsError struct {
	Required  uint64
	Available uint64
}

// InputSourceError marks the error as an InputSourceError.
func (*InsufficientFundsError) InputSourceError() {}

// Error implements the error interface.
func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: %d required, %d available",
		e.Required, e.Available)
}

// SpendPlan holds the notes selected to pay some value of one asset. Every
// authentication path leads to Anchor.
type SpendPlan struct {
	Asset  shielded.AssetBase
	Anchor shielded.MerkleHash
	Inputs []*Input

	// Total is the value of every input, Change what is left of it once
	// the target is paid.
	Total  uint64
	Change uint64
}

// NewSpendPlan selects inputs paying target from fetchInputs, which is
// called exactly once. If it cannot provide enough value an InputSourceError
// is returned.
func NewSpendPlan(target uint64, asset shielded.AssetBase,
	anchor shielded.MerkleHash, fetchInputs InputSource) (*SpendPlan, error) {

	total, inputs, err := fetchInputs(target)
	if err != nil {
		return nil, err
	}
	if total < target {
		return nil, &InsufficientFundsError{
			Required:  target,
			Available: total,
		}
	}

	return &SpendPlan{
		Asset:  asset,
		Anchor: anchor,
		Inputs: inputs,
		Total:  total,
		Change: total - target,
	}, nil
}

// Verify checks that every input is a note of the plan's asset and that its
// authentication path leads to the anchor.
func (p *SpendPlan) Verify() error {
	if sum := SumInputValues(p.Inputs); sum != p.Total {
		return fmt.Errorf("inputs sum to %d, plan total is %d", sum,
			p.Total)
	}
	for i, in := range p.Inputs {
		note := &in.Record.Note
		if note.Asset != p.Asset {
			return fmt.Errorf("input %d is a note of asset %v, "+
				"want %v", i, note.Asset, p.Asset)
		}
		if !in.AuthPath.Verify(note.Commitment(), p.Anchor) {
			return fmt.Errorf("input %d at position %d does not "+
				"lead to anchor %v", i, in.AuthPath.Position,
				p.Anchor)
		}
	}
	return nil
}
