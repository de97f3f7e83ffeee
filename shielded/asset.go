package shielded

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"golang.org/x/crypto/blake2b"
)

// AssetBaseSize is the size of an asset identifier.
const AssetBaseSize = 32

// purposeIssuance is the ZIP-32 purpose for issuance keys.
const purposeIssuance = 227

var (
	assetDigestDomain = []byte("ZSA-Asset-Digest")
	issuanceDomain    = []byte("ZIP32ZSAIssue_V1")
)

// ErrInvalidIssuanceKey is returned for malformed issuance keys.
var ErrInvalidIssuanceKey = errors.New("invalid issuance key")

// AssetBase identifies the asset a note carries.
type AssetBase [AssetBaseSize]byte

// NativeAsset is the asset base of ZEC.
var NativeAsset = AssetBase(blake2b.Sum256([]byte("z.cash:Orchard-cv ZEC")))

// IsNative returns whether the asset is ZEC.
func (a AssetBase) IsNative() bool {
	return a == NativeAsset
}

// String returns the hex encoding of the asset base.
func (a AssetBase) String() string {
	if a.IsNative() {
		return "ZEC"
	}
	return hex.EncodeToString(a[:])
}

// DecodeAssetBase parses the String form of an asset base.
func DecodeAssetBase(s string) (AssetBase, error) {
	var a AssetBase
	if s == "" || s == "ZEC" {
		return NativeAsset, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != AssetBaseSize {
		return a, fmt.Errorf("invalid asset base %q", s)
	}
	copy(a[:], b)
	return a, nil
}

// IssuanceValidatingKey is the x-only public key of an issuer.
type IssuanceValidatingKey [32]byte

// IssuanceKey is the secret key an issuer signs issue bundles with.
type IssuanceKey struct {
	priv *btcec.PrivateKey
}

// IssuanceKeyFromSeed derives the issuance key at m/227'/coinType'/0'.
func IssuanceKeyFromSeed(seed []byte, coinType uint32) (*IssuanceKey, error) {
	if len(seed) < MinSeedBytes || len(seed) > MaxSeedBytes {
		return nil, ErrInvalidSeedLen
	}

	h, _ := blake2b.New512(issuanceDomain)
	h.Write(seed)
	i := h.Sum(nil)

	var sk, chainCode [KeySize]byte
	copy(sk[:], i[:32])
	copy(chainCode[:], i[32:])
	for _, index := range []uint32{purposeIssuance, coinType, 0} {
		sk, chainCode = deriveChild(sk, chainCode, index+HardenedKeyStart)
	}

	priv, _ := btcec.PrivKeyFromBytes(sk[:])
	return &IssuanceKey{priv: priv}, nil
}

// ValidatingKey returns the public half of the issuance key.
func (ik *IssuanceKey) ValidatingKey() IssuanceValidatingKey {
	var vk IssuanceValidatingKey
	copy(vk[:], schnorr.SerializePubKey(ik.priv.PubKey()))
	return vk
}

// Sign produces a BIP-340 signature over a 32-byte digest.
func (ik *IssuanceKey) Sign(digest [32]byte) ([64]byte, error) {
	var out [64]byte
	sig, err := schnorr.Sign(ik.priv, digest[:])
	if err != nil {
		return out, err
	}
	copy(out[:], sig.Serialize())
	return out, nil
}

// Verify checks a BIP-340 signature over digest.
func (vk IssuanceValidatingKey) Verify(digest [32]byte, sig [64]byte) error {
	pub, err := schnorr.ParsePubKey(vk[:])
	if err != nil {
		return ErrInvalidIssuanceKey
	}
	s, err := schnorr.ParseSignature(sig[:])
	if err != nil {
		return err
	}
	if !s.Verify(digest[:], pub) {
		return errors.New("issuance signature verification failed")
	}
	return nil
}

// AssetDescHash hashes a human readable asset description.
func AssetDescHash(desc string) [32]byte {
	return sha256.Sum256([]byte(desc))
}

// DeriveAsset returns the asset base issued by vk under descHash.
func DeriveAsset(vk IssuanceValidatingKey, descHash [32]byte) AssetBase {
	h, _ := blake2b.New256(assetDigestDomain)
	h.Write([]byte{0x00})
	h.Write(vk[:])
	h.Write(descHash[:])

	var a AssetBase
	copy(a[:], h.Sum(nil))
	return a
}
