// Package core defines the types a program needs to run inside the VM.
// Program authors only need the interfaces in this package.
package core

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// AddressLength is the size in bytes of a program or account address.
const AddressLength = 32

// Address identifies a program or an account on chain.
type Address [AddressLength]byte

var ZeroAddress = Address{}

// String returns the base58 form of the address.
func (addr Address) String() string {
	return base58.Encode(addr[:])
}

func (addr Address) IsZero() bool {
	return addr == ZeroAddress
}

// MarshalText encodes the address as base58 so it reads naturally in json and yaml.
func (addr Address) MarshalText() ([]byte, error) {
	return []byte(addr.String()), nil
}

func (addr *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*addr = parsed
	return nil
}

// ParseAddress decodes a base58 address and checks its length.
func ParseAddress(str string) (Address, error) {
	raw, err := base58.Decode(str)
	if err != nil {
		return ZeroAddress, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, str, err)
	}
	if len(raw) != AddressLength {
		return ZeroAddress, fmt.Errorf("%w: %q decodes to %d bytes", ErrInvalidAddress, str, len(raw))
	}
	return Address(raw), nil
}

// MustParseAddress is ParseAddress for constants; it panics on bad input.
func MustParseAddress(str string) Address {
	addr, err := ParseAddress(str)
	if err != nil {
		panic(err)
	}
	return addr
}

// AccountMeta describes an account passed to an instruction.
type AccountMeta struct {
	Address    Address `json:"address"`
	IsSigner   bool    `json:"is_signer,omitempty"`
	IsWritable bool    `json:"is_writable,omitempty"`
}

// Context is the read-only view of one invocation handed to a program.
// It is owned by the host and only valid until the handler returns.
type Context interface {
	// ProgramID returns the address the program was invoked under
	ProgramID() Address

	// Accounts returns the accounts supplied by the caller
	Accounts() []AccountMeta

	// Log writes a formatted message to the host execution log
	Log(format string, args ...any)
}
