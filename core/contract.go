package core

import (
	"errors"
)

// Framework errors returned by the host around a program's own logic.
var (
	ErrInvalidAddress              = errors.New("invalid address")
	ErrInstructionMissing          = errors.New("instruction missing")
	ErrInstructionFallbackNotFound = errors.New("instruction fallback not found")
	ErrInstructionDidNotDecode     = errors.New("instruction did not deserialize")
	ErrAccountNotEnoughKeys        = errors.New("not enough account keys given to the instruction")
	ErrDeclaredProgramIDMismatch   = errors.New("declared program id does not match the actual program id")
	ErrProgramNotFound             = errors.New("program not found")
	ErrCustomProgramError          = errors.New("custom program error")
	ErrCallDepthExceeded           = errors.New("call depth exceeded")
)

// Handler runs one instruction. args holds the instruction data that follows
// the discriminator.
type Handler func(ctx Context, args []byte) error

// Instruction is one entry of a program's dispatch table.
type Instruction struct {
	// Name is the instruction name as callers see it, e.g. "initialize"
	Name string

	// Accounts is the number of accounts the instruction requires
	Accounts int

	Handler Handler
}

// Program is a natively compiled program: the id it was built with and its
// dispatch table.
type Program struct {
	Name         string
	DeclaredID   Address
	Instructions []Instruction
}

// Instruction looks up an instruction by name.
func (p *Program) Instruction(name string) (Instruction, bool) {
	for _, ix := range p.Instructions {
		if ix.Name == name {
			return ix, true
		}
	}
	return Instruction{}, false
}
