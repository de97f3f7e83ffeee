package cfgutil

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

func TestAmountFlag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value   string
		zatoshi uint64
		valid   bool
	}{
		{"1", 1e8, true},
		{"0.0001 ZEC", 1e4, true},
		{"21000000", 21e14, true},
		{"0.00000001", 1, true},
		{"ZEC", 0, false},
		{"", 0, false},
	}
	for _, test := range tests {
		var a AmountFlag
		err := a.UnmarshalFlag(test.value)
		if !test.valid {
			require.Error(t, err, test.value)
			continue
		}
		require.NoError(t, err, test.value)
		require.Equal(t, test.zatoshi, a.Zatoshi(), test.value)
	}

	a := NewAmountFlag(btcutil.Amount(150000000))
	s, err := a.MarshalFlag()
	require.NoError(t, err)
	require.Equal(t, "1.5 ZEC", s)

	require.Zero(t, NewAmountFlag(-1).Zatoshi())
}

func TestExplicitString(t *testing.T) {
	t.Parallel()

	e := NewExplicitString("default")
	require.False(t, e.ExplicitlySet())
	v, err := e.MarshalFlag()
	require.NoError(t, err)
	require.Equal(t, "default", v)

	require.NoError(t, e.UnmarshalFlag("default"))
	require.True(t, e.ExplicitlySet())
	require.Equal(t, "default", e.Value)
}
