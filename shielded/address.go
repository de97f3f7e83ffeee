package shielded

import (
	"bytes"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/blake2b"
)

const (
	// DiversifierSize is the size of an address diversifier.
	DiversifierSize = 11

	// AddressSize is the size of a raw address.
	AddressSize = DiversifierSize + KeySize
)

// ErrInvalidAddress is returned when a raw address cannot be decoded.
var ErrInvalidAddress = errors.New("invalid raw address")

var diversifyHashDomain = []byte("z.cash:Orchard-gd")

// Diversifier selects one of the many unlinkable addresses of a key.
type Diversifier [DiversifierSize]byte

// base maps the diversifier to the group element g_d.
func (d Diversifier) base() []byte {
	h := blake2b.Sum256(append(append([]byte{}, diversifyHashDomain...),
		d[:]...))
	h[31] &= 127
	return h[:]
}

// Address is a diversified shielded payment address.
type Address struct {
	Diversifier Diversifier
	PkD         [KeySize]byte
}

// Bytes returns the raw 43-byte encoding of the address.
func (a Address) Bytes() []byte {
	b := make([]byte, 0, AddressSize)
	b = append(b, a.Diversifier[:]...)
	b = append(b, a.PkD[:]...)
	return b
}

// String returns the hex encoding of the raw address.
func (a Address) String() string {
	return hex.EncodeToString(a.Bytes())
}

// Compare orders addresses by their raw encoding.
func (a Address) Compare(other Address) int {
	return bytes.Compare(a.Bytes(), other.Bytes())
}

// AddressFromBytes decodes a raw address.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressSize {
		return a, ErrInvalidAddress
	}
	copy(a.Diversifier[:], b[:DiversifierSize])
	copy(a.PkD[:], b[DiversifierSize:])
	return a, nil
}

// DecodeAddress decodes the hex form produced by Address.String.
func DecodeAddress(s string) (Address, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, ErrInvalidAddress
	}
	return AddressFromBytes(b)
}
