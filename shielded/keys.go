package shielded

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
)

const (
	// KeySize is the size of every raw key component.
	KeySize = 32

	// MinSeedBytes is the minimum number of bytes allowed for a seed.
	MinSeedBytes = 32

	// MaxSeedBytes is the maximum number of bytes allowed for a seed.
	MaxSeedBytes = 252

	// HardenedKeyStart is the index at which a hardened child starts.
	// Every level of the account path is hardened.
	HardenedKeyStart = 0x80000000

	// purposeShielded is the ZIP-32 purpose for the shielded pool.
	purposeShielded = 32
)

var (
	// ErrInvalidSeedLen describes an error in which the provided seed or
	// seed length is not in the allowed range.
	ErrInvalidSeedLen = fmt.Errorf("seed length must be between %d and "+
		"%d bytes", MinSeedBytes, MaxSeedBytes)

	// ErrInvalidKey is returned when serialized key material is malformed.
	ErrInvalidKey = errors.New("invalid key encoding")
)

// Domain separators for the keyed hashes below.
var (
	masterKeyDomain  = []byte("ZcashIP32Orchard")
	expandSeedDomain = []byte("Zcash_ExpandSeed")
	ivkDomain        = []byte("Zcash_OrchardIVK")
)

// prfExpand tags used to derive key components from a spending key.
const (
	prfAk         = 0x06
	prfNk         = 0x07
	prfRivk       = 0x08
	prfPsi        = 0x09
	prfRivkIntern = 0x83
	prfChild      = 0x81
)

// Scope distinguishes between the external (receiving) and internal
// (change) branch of an account.
type Scope uint8

const (
	// ExternalScope addresses are handed out to payers.
	ExternalScope Scope = 0

	// InternalScope addresses receive change.
	InternalScope Scope = 1
)

// String returns the scope as a human-readable string.
func (s Scope) String() string {
	switch s {
	case ExternalScope:
		return "external"
	case InternalScope:
		return "internal"
	default:
		return fmt.Sprintf("unknown scope %d", uint8(s))
	}
}

// Scopes lists both scopes in derivation order.
var Scopes = []Scope{ExternalScope, InternalScope}

// SpendingKey is the root secret of an account.
type SpendingKey [KeySize]byte

// FullViewingKey allows detecting incoming notes and computing the
// nullifiers of received notes, but not spending them.
type FullViewingKey struct {
	Ak   [KeySize]byte
	Nk   [KeySize]byte
	Rivk [KeySize]byte
}

// IncomingViewingKey allows trial decryption of notes sent to any
// address diversified from it.
type IncomingViewingKey struct {
	Dk  [KeySize]byte
	Ivk [KeySize]byte
}

// FullViewingKeySize is the size of a serialized full viewing key.
const FullViewingKeySize = 3 * KeySize

// IncomingViewingKeySize is the size of a serialized incoming viewing key.
const IncomingViewingKeySize = 2 * KeySize

func prfExpand(sk []byte, tag byte, extra ...[]byte) [64]byte {
	h, _ := blake2b.New512(expandSeedDomain)
	h.Write(sk)
	h.Write([]byte{tag})
	for _, e := range extra {
		h.Write(e)
	}
	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SpendingKeyFromSeed derives the spending key for the given account using
// the hardened path m/32'/coinType'/account'.
func SpendingKeyFromSeed(seed []byte, coinType, account uint32) (SpendingKey, error) {
	if len(seed) < MinSeedBytes || len(seed) > MaxSeedBytes {
		return SpendingKey{}, ErrInvalidSeedLen
	}
	if coinType >= HardenedKeyStart || account >= HardenedKeyStart {
		return SpendingKey{}, fmt.Errorf("path element out of range")
	}

	h, _ := blake2b.New512(masterKeyDomain)
	h.Write(seed)
	i := h.Sum(nil)

	var sk, chainCode [KeySize]byte
	copy(sk[:], i[:32])
	copy(chainCode[:], i[32:])

	path := []uint32{purposeShielded, coinType, account}
	for _, index := range path {
		sk, chainCode = deriveChild(sk, chainCode, index+HardenedKeyStart)
	}
	return SpendingKey(sk), nil
}

func deriveChild(sk, chainCode [KeySize]byte, index uint32) ([KeySize]byte,
	[KeySize]byte) {

	var rawIndex [4]byte
	binary.LittleEndian.PutUint32(rawIndex[:], index)

	i := prfExpand(chainCode[:], prfChild, sk[:], rawIndex[:])

	var childSk, childChain [KeySize]byte
	copy(childSk[:], i[:32])
	copy(childChain[:], i[32:])
	return childSk, childChain
}

// FullViewingKey derives the full viewing key of the spending key.
func (sk SpendingKey) FullViewingKey() FullViewingKey {
	var fvk FullViewingKey
	ak := prfExpand(sk[:], prfAk)
	nk := prfExpand(sk[:], prfNk)
	rivk := prfExpand(sk[:], prfRivk)
	copy(fvk.Ak[:], ak[:32])
	copy(fvk.Nk[:], nk[:32])
	copy(fvk.Rivk[:], rivk[:32])
	return fvk
}

// Bytes returns the canonical encoding of the full viewing key.
func (fvk FullViewingKey) Bytes() []byte {
	b := make([]byte, 0, FullViewingKeySize)
	b = append(b, fvk.Ak[:]...)
	b = append(b, fvk.Nk[:]...)
	b = append(b, fvk.Rivk[:]...)
	return b
}

// FullViewingKeyFromBytes decodes a full viewing key.
func FullViewingKeyFromBytes(b []byte) (FullViewingKey, error) {
	var fvk FullViewingKey
	if len(b) != FullViewingKeySize {
		return fvk, ErrInvalidKey
	}
	copy(fvk.Ak[:], b[0:32])
	copy(fvk.Nk[:], b[32:64])
	copy(fvk.Rivk[:], b[64:96])
	return fvk, nil
}

// rivkFor returns the commitment randomness used for the scope.
func (fvk FullViewingKey) rivkFor(scope Scope) []byte {
	if scope == ExternalScope {
		return fvk.Rivk[:]
	}
	internal := prfExpand(fvk.Rivk[:], prfRivkIntern, fvk.Ak[:], fvk.Nk[:])
	return internal[:32]
}

// IVK derives the incoming viewing key for the scope.
func (fvk FullViewingKey) IVK(scope Scope) IncomingViewingKey {
	h, _ := blake2b.New512(ivkDomain)
	h.Write(fvk.Ak[:])
	h.Write(fvk.Nk[:])
	h.Write(fvk.rivkFor(scope))
	k := h.Sum(nil)

	var ivk IncomingViewingKey
	copy(ivk.Ivk[:], k[:32])
	copy(ivk.Dk[:], k[32:])
	clampScalar(&ivk.Ivk)
	return ivk
}

// AddressAt returns the j-th diversified address of the scope.
func (fvk FullViewingKey) AddressAt(j uint64, scope Scope) (Address, error) {
	return fvk.IVK(scope).AddressAt(j)
}

// Scope reports which scope of the full viewing key produced ivk.
func (fvk FullViewingKey) Scope(ivk IncomingViewingKey) (Scope, bool) {
	for _, scope := range Scopes {
		if fvk.IVK(scope) == ivk {
			return scope, true
		}
	}
	return 0, false
}

// Bytes returns the canonical encoding of the incoming viewing key.
func (ivk IncomingViewingKey) Bytes() []byte {
	b := make([]byte, 0, IncomingViewingKeySize)
	b = append(b, ivk.Dk[:]...)
	b = append(b, ivk.Ivk[:]...)
	return b
}

// IncomingViewingKeyFromBytes decodes an incoming viewing key.
func IncomingViewingKeyFromBytes(b []byte) (IncomingViewingKey, error) {
	var ivk IncomingViewingKey
	if len(b) != IncomingViewingKeySize {
		return ivk, ErrInvalidKey
	}
	copy(ivk.Dk[:], b[0:32])
	copy(ivk.Ivk[:], b[32:64])
	return ivk, nil
}

// Compare orders incoming viewing keys by their canonical encoding.
func (ivk IncomingViewingKey) Compare(other IncomingViewingKey) int {
	return bytes.Compare(ivk.Bytes(), other.Bytes())
}

// diversifier derives the j-th diversifier of the key.
func (ivk IncomingViewingKey) diversifier(j uint64) Diversifier {
	var rawIndex [8]byte
	binary.LittleEndian.PutUint64(rawIndex[:], j)

	h, _ := blake2b.New256(ivk.Dk[:])
	h.Write(rawIndex[:])

	var d Diversifier
	copy(d[:], h.Sum(nil))
	return d
}

// AddressAt returns the j-th diversified address of the key.
func (ivk IncomingViewingKey) AddressAt(j uint64) (Address, error) {
	return ivk.AddressFor(ivk.diversifier(j))
}

// AddressFor returns the address of the key for diversifier d.
func (ivk IncomingViewingKey) AddressFor(d Diversifier) (Address, error) {
	pkd, err := curve25519.X25519(ivk.Ivk[:], d.base())
	if err != nil {
		return Address{}, err
	}
	addr := Address{Diversifier: d}
	copy(addr.PkD[:], pkd)
	return addr, nil
}

// Owns returns whether addr was diversified from the key.
func (ivk IncomingViewingKey) Owns(addr Address) bool {
	derived, err := ivk.AddressFor(addr.Diversifier)
	if err != nil {
		return false
	}
	return derived == addr
}

func clampScalar(k *[KeySize]byte) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}
