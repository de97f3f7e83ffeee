package shielded

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

var testSeed = bytes.Repeat([]byte{0x42}, 32)

func testKeys(t *testing.T, account uint32) (SpendingKey, FullViewingKey) {
	t.Helper()

	sk, err := SpendingKeyFromSeed(testSeed, 1, account)
	require.NoError(t, err)
	return sk, sk.FullViewingKey()
}

func TestSpendingKeyDerivation(t *testing.T) {
	t.Parallel()

	sk0, _ := testKeys(t, 0)
	again, _ := testKeys(t, 0)
	sk1, _ := testKeys(t, 1)
	require.Equal(t, sk0, again)
	require.NotEqual(t, sk0, sk1)

	mainnet, err := SpendingKeyFromSeed(testSeed, 133, 0)
	require.NoError(t, err)
	require.NotEqual(t, sk0, mainnet)

	_, err = SpendingKeyFromSeed(testSeed[:16], 1, 0)
	require.ErrorIs(t, err, ErrInvalidSeedLen)

	_, err = SpendingKeyFromSeed(testSeed, 1, HardenedKeyStart)
	require.Error(t, err)
}

func TestAddressOwnership(t *testing.T) {
	t.Parallel()

	_, fvk := testKeys(t, 0)
	_, other := testKeys(t, 1)

	ext := fvk.IVK(ExternalScope)
	internal := fvk.IVK(InternalScope)
	require.NotEqual(t, ext, internal)

	addr, err := fvk.AddressAt(0, ExternalScope)
	require.NoError(t, err)
	require.True(t, ext.Owns(addr))
	require.False(t, internal.Owns(addr))
	require.False(t, other.IVK(ExternalScope).Owns(addr))

	addr1, err := fvk.AddressAt(1, ExternalScope)
	require.NoError(t, err)
	require.NotEqual(t, addr, addr1)
	require.True(t, ext.Owns(addr1))

	scope, ok := fvk.Scope(internal)
	require.True(t, ok)
	require.Equal(t, InternalScope, scope)

	decoded, err := DecodeAddress(addr.String())
	require.NoError(t, err)
	require.Equal(t, addr, decoded)

	_, err = AddressFromBytes(addr.Bytes()[1:])
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestTrialDecryption(t *testing.T) {
	t.Parallel()

	_, fvk := testKeys(t, 0)
	_, other := testKeys(t, 1)

	addr, err := fvk.AddressAt(0, ExternalScope)
	require.NoError(t, err)

	var rho Nullifier
	_, _ = rand.Read(rho[:])
	note, err := NewNote(addr, 1000, NativeAsset, rho, rand.Reader)
	require.NoError(t, err)

	memo := MemoFromText("lunch")
	action, err := EncryptNote(&note, &memo, rand.Reader)
	require.NoError(t, err)
	require.Equal(t, note.Commitment(), action.Cmx)
	require.Equal(t, rho, action.Nullifier)

	ivk := fvk.IVK(ExternalScope)
	got, gotMemo, ok := action.TryDecrypt(&ivk)
	require.True(t, ok)
	require.Equal(t, note, got)
	require.Equal(t, memo, gotMemo)

	otherIvk := other.IVK(ExternalScope)
	_, _, ok = action.TryDecrypt(&otherIvk)
	require.False(t, ok)

	// A tampered commitment must not decrypt even though the ciphertext
	// authenticates.
	tampered := *action
	tampered.Cmx[0] ^= 1
	_, _, ok = tampered.TryDecrypt(&ivk)
	require.False(t, ok)

	dummy, err := DummyAction(rand.Reader)
	require.NoError(t, err)
	_, _, ok = dummy.TryDecrypt(&ivk)
	require.False(t, ok)
}

func TestNullifier(t *testing.T) {
	t.Parallel()

	_, fvk := testKeys(t, 0)
	_, other := testKeys(t, 1)

	addr, err := fvk.AddressAt(0, ExternalScope)
	require.NoError(t, err)

	note, err := NewNote(addr, 5, NativeAsset, Nullifier{1}, rand.Reader)
	require.NoError(t, err)

	nf := note.Nullifier(&fvk)
	require.Equal(t, nf, note.Nullifier(&fvk))
	require.NotEqual(t, nf, note.Nullifier(&other))

	var decoded Note
	require.NoError(t, decoded.Deserialize(note.Serialize()))
	require.Equal(t, nf, decoded.Nullifier(&fvk))
}

func TestEmptyRoots(t *testing.T) {
	t.Parallel()

	require.Equal(t, EmptyLeaf, EmptyRoot(0))
	require.Equal(t,
		MerkleCRH(4, EmptyRoot(4), EmptyRoot(4)), EmptyRoot(5),
	)
	require.NotEqual(t, EmptyRoot(31), EmptyRoot(32))
}

func TestIssueBundle(t *testing.T) {
	t.Parallel()

	ik, err := IssuanceKeyFromSeed(testSeed, 1)
	require.NoError(t, err)
	vk := ik.ValidatingKey()

	_, fvk := testKeys(t, 0)
	addr, err := fvk.AddressAt(0, ExternalScope)
	require.NoError(t, err)

	descHash := AssetDescHash("gold")
	asset := DeriveAsset(vk, descHash)
	require.False(t, asset.IsNative())

	note, err := NewNote(addr, 77, asset, Nullifier{9}, rand.Reader)
	require.NoError(t, err)

	bundle := &IssueBundle{Actions: []IssueAction{{
		AssetDescHash: descHash,
		Notes:         []Note{note},
	}}}
	require.NoError(t, bundle.Sign(ik))
	require.Equal(t, vk, bundle.Ik)
	require.NoError(t, bundle.Verify())

	bundle.Actions[0].Notes[0].Value++
	require.Error(t, bundle.Verify())

	bundle.Actions[0].Notes[0].Value--
	bundle.Actions[0].Notes[0].Asset = NativeAsset
	require.Error(t, bundle.Verify())
}

func TestTransactionCodec(t *testing.T) {
	t.Parallel()

	ik, err := IssuanceKeyFromSeed(testSeed, 1)
	require.NoError(t, err)
	_, fvk := testKeys(t, 0)
	addr, err := fvk.AddressAt(0, ExternalScope)
	require.NoError(t, err)

	descHash := AssetDescHash("silver")
	asset := DeriveAsset(ik.ValidatingKey(), descHash)
	issued, err := NewNote(addr, 10, asset, Nullifier{3}, rand.Reader)
	require.NoError(t, err)

	dummy, err := DummyAction(rand.Reader)
	require.NoError(t, err)

	tx := &Transaction{
		Version: TxVersionZSA,
		Actions: []Action{*dummy},
		Burns:   []Burn{{Asset: asset, Amount: 3}},
		Issuance: &IssueBundle{Actions: []IssueAction{{
			AssetDescHash: descHash,
			Notes:         []Note{issued},
			Finalize:      true,
		}}},
	}
	require.NoError(t, tx.Issuance.Sign(ik))

	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))

	decoded, err := DecodeTransaction(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, tx, decoded)
	require.Equal(t, tx.TxHash(), decoded.TxHash())
	require.NoError(t, decoded.Issuance.Verify())

	cmxs := decoded.Commitments()
	require.Len(t, cmxs, 2)
	require.Equal(t, dummy.Cmx, cmxs[0])
	require.Equal(t, issued.Commitment(), cmxs[1])

	raw := buf.Bytes()
	raw[0] = 4
	_, err = DecodeTransaction(raw)
	require.True(t, errors.Is(err, ErrUnsupportedTxVersion))
}
