package txauthor

import (
	"crypto/rand"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zsasuite/zsawallet/commitmenttree"
	"github.com/zsasuite/zsawallet/shielded"
	"github.com/zsasuite/zsawallet/wtxmgr"
)

var testAsset = shielded.NativeAsset

// witnessed appends a note of each value to a new tree and returns the
// inputs spending them with the current root.
func witnessed(t *testing.T, values ...uint64) ([]*Input,
	shielded.MerkleHash) {

	tree := commitmenttree.New()
	records := make([]*wtxmgr.NoteRecord, 0, len(values))
	for i, v := range values {
		var rho shielded.Nullifier
		rho[0] = byte(i + 1)
		note, err := shielded.NewNote(shielded.Address{}, v, testAsset,
			rho, rand.Reader)
		require.NoError(t, err)

		_, err = tree.Append(note.Commitment())
		require.NoError(t, err)
		_, err = tree.Mark()
		require.NoError(t, err)
		records = append(records, &wtxmgr.NoteRecord{
			ID:   uint64(i + 1),
			Note: note,
		})
	}

	inputs := make([]*Input, 0, len(records))
	for i, r := range records {
		path, err := tree.Witness(uint64(i), 0)
		require.NoError(t, err)
		inputs = append(inputs, &Input{Record: r, AuthPath: path})
	}
	root, err := tree.Root(0)
	require.NoError(t, err)
	return inputs, root
}

func makeInputSource(inputs []*Input) InputSource {
	return func(target uint64) (uint64, []*Input, error) {
		var total uint64
		var selected []*Input
		for _, in := range inputs {
			if total >= target {
				break
			}
			total += in.Record.Note.Value
			selected = append(selected, in)
		}
		return total, selected, nil
	}
}

func TestNewSpendPlan(t *testing.T) {
	t.Parallel()

	inputs, root := witnessed(t, 5, 7, 11)

	tests := []struct {
		name   string
		target uint64
		inputs int
		change uint64
		err    error
	}{
		{"zero", 0, 0, 0, nil},
		{"one input", 5, 1, 0, nil},
		{"change", 6, 2, 6, nil},
		{"all", 23, 3, 0, nil},
		{"insufficient", 24, 0, 0, &InsufficientFundsError{24, 23}},
	}
	for _, test := range tests {
		plan, err := NewSpendPlan(test.target, testAsset, root,
			makeInputSource(inputs))
		if test.err != nil {
			require.Equal(t, test.err, err, test.name)
			continue
		}
		require.NoError(t, err, test.name)
		require.Len(t, plan.Inputs, test.inputs, test.name)
		require.Equal(t, test.change, plan.Change, test.name)
		require.Equal(t, SumInputValues(plan.Inputs), plan.Total, test.name)
		require.NoError(t, plan.Verify(), test.name)
	}
}

type unwitnessedError struct{}

func (unwitnessedError) Error() string     { return "notes not witnessed" }
func (unwitnessedError) InputSourceError() {}

func TestInputSourceError(t *testing.T) {
	t.Parallel()

	source := func(uint64) (uint64, []*Input, error) {
		return 0, nil, unwitnessedError{}
	}
	_, err := NewSpendPlan(1, testAsset, shielded.MerkleHash{}, source)
	var sourceErr InputSourceError
	require.True(t, errors.As(err, &sourceErr))
	require.Equal(t, unwitnessedError{}, sourceErr)
}

func TestVerifyWrongAnchor(t *testing.T) {
	t.Parallel()

	inputs, root := witnessed(t, 5, 7)
	plan, err := NewSpendPlan(12, testAsset, root, makeInputSource(inputs))
	require.NoError(t, err)
	require.NoError(t, plan.Verify())

	// A path of another position does not authenticate the note.
	plan.Inputs[0].AuthPath, plan.Inputs[1].AuthPath =
		plan.Inputs[1].AuthPath, plan.Inputs[0].AuthPath
	require.Error(t, plan.Verify())
}
