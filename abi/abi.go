// Package abi describes the instructions a program accepts and how callers
// address them on the wire.
package abi

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
	"unicode"

	"github.com/govm-net/greeter/core"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DiscriminatorLength is the number of leading instruction-data bytes that
// select the instruction.
const DiscriminatorLength = 8

// contextType is the first parameter every instruction handler takes.
const contextType = "core.Context"

// Discriminator is the instruction selector: sha256("global:<name>")[:8].
type Discriminator [DiscriminatorLength]byte

// ABI represents the instruction interface of a program
type ABI struct {
	ProgramName  string        `json:"program_name,omitempty" yaml:"program_name,omitempty"`
	Instructions []Instruction `json:"instructions" yaml:"instructions"`
}

// Instruction represents one entry point of the program
type Instruction struct {
	Name          string        `json:"name" yaml:"name"`
	Handler       string        `json:"handler,omitempty" yaml:"handler,omitempty"`
	Discriminator Discriminator `json:"discriminator" yaml:"discriminator,flow"`
	AccountsType  string        `json:"accounts_type,omitempty" yaml:"accounts_type,omitempty"`
	Accounts      []Parameter   `json:"accounts" yaml:"accounts"`
	Args          []Parameter   `json:"args" yaml:"args"`
}

// Parameter represents an instruction argument or account field
type Parameter struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
}

var (
	lower = cases.Lower(language.Und)
	title = cases.Title(language.Und)
)

// InstructionName converts a Go handler name to the instruction name callers
// use: "Initialize" -> "initialize", "SetGreeting" -> "set_greeting".
func InstructionName(handler string) string {
	var words []string
	start := 0
	runes := []rune(handler)
	for i := 1; i < len(runes); i++ {
		if unicode.IsUpper(runes[i]) && !unicode.IsUpper(runes[i-1]) {
			words = append(words, string(runes[start:i]))
			start = i
		}
	}
	words = append(words, string(runes[start:]))
	for i, w := range words {
		words[i] = lower.String(w)
	}
	return strings.Join(words, "_")
}

// HandlerName converts an instruction name back to its Go handler name:
// "set_greeting" -> "SetGreeting".
func HandlerName(name string) string {
	words := strings.Split(name, "_")
	for i, w := range words {
		words[i] = title.String(w)
	}
	return strings.Join(words, "")
}

// NewDiscriminator computes the selector of an instruction name.
func NewDiscriminator(name string) Discriminator {
	sum := sha256.Sum256([]byte("global:" + name))
	var d Discriminator
	copy(d[:], sum[:DiscriminatorLength])
	return d
}

// Encode builds instruction data for name followed by the encoded args.
func Encode(name string, args []byte) []byte {
	d := NewDiscriminator(name)
	data := make([]byte, 0, DiscriminatorLength+len(args))
	data = append(data, d[:]...)
	return append(data, args...)
}

// Resolve selects the instruction addressed by data and returns the argument
// bytes that follow the discriminator.
func (a *ABI) Resolve(data []byte) (*Instruction, []byte, error) {
	if len(data) < DiscriminatorLength {
		return nil, nil, core.ErrInstructionMissing
	}
	for i := range a.Instructions {
		d := a.Instructions[i].Discriminator
		if bytes.Equal(d[:], data[:DiscriminatorLength]) {
			return &a.Instructions[i], data[DiscriminatorLength:], nil
		}
	}
	return nil, nil, fmt.Errorf("%w: discriminator %x", core.ErrInstructionFallbackNotFound, data[:DiscriminatorLength])
}

// Instruction looks up an instruction by name.
func (a *ABI) Instruction(name string) (*Instruction, bool) {
	for i := range a.Instructions {
		if a.Instructions[i].Name == name {
			return &a.Instructions[i], true
		}
	}
	return nil, false
}

// FromProgram derives the ABI of a native program from its dispatch table.
func FromProgram(p *core.Program) *ABI {
	out := &ABI{ProgramName: p.Name, Instructions: make([]Instruction, 0, len(p.Instructions))}
	for _, ix := range p.Instructions {
		accounts := make([]Parameter, 0, ix.Accounts)
		for i := 0; i < ix.Accounts; i++ {
			accounts = append(accounts, Parameter{Name: fmt.Sprintf("account_%d", i)})
		}
		out.Instructions = append(out.Instructions, Instruction{
			Name:          ix.Name,
			Handler:       HandlerName(ix.Name),
			Discriminator: NewDiscriminator(ix.Name),
			Accounts:      accounts,
			Args:          []Parameter{},
		})
	}
	return out
}

// ExtractABI extracts the instruction interface from program source code.
// Every exported function whose first parameter is core.Context is an
// instruction; its second parameter names the accounts struct, the rest are
// arguments.
func ExtractABI(code []byte) (*ABI, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "", code, parser.AllErrors)
	if err != nil {
		return nil, fmt.Errorf("failed to parse program: %w", err)
	}

	structs := make(map[string]*ast.StructType)
	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.TYPE {
			continue
		}
		for _, spec := range gen.Specs {
			ts := spec.(*ast.TypeSpec)
			if st, ok := ts.Type.(*ast.StructType); ok {
				structs[ts.Name.Name] = st
			}
		}
	}

	abi := &ABI{
		ProgramName:  file.Name.Name,
		Instructions: make([]Instruction, 0),
	}

	for _, decl := range file.Decls {
		funcDecl, ok := decl.(*ast.FuncDecl)
		if !ok || funcDecl.Recv != nil || !funcDecl.Name.IsExported() {
			continue
		}
		params := extractParameters(funcDecl.Type.Params)
		if len(params) == 0 || params[0].Type != contextType {
			continue
		}

		name := InstructionName(funcDecl.Name.Name)
		ix := Instruction{
			Name:          name,
			Handler:       funcDecl.Name.Name,
			Discriminator: NewDiscriminator(name),
			Accounts:      []Parameter{},
			Args:          []Parameter{},
		}
		if len(params) > 1 {
			ix.AccountsType = strings.TrimPrefix(params[1].Type, "*")
			if st, ok := structs[ix.AccountsType]; ok {
				ix.Accounts = extractParameters(st.Fields)
			}
			ix.Args = append(ix.Args, params[2:]...)
		}
		abi.Instructions = append(abi.Instructions, ix)
	}

	return abi, nil
}

// extractParameters extracts parameter information from a field list
func extractParameters(fieldList *ast.FieldList) []Parameter {
	params := make([]Parameter, 0)
	if fieldList == nil {
		return params
	}

	for _, field := range fieldList.List {
		typeStr := getTypeString(field.Type)
		if len(field.Names) == 0 {
			params = append(params, Parameter{Type: typeStr})
			continue
		}
		for _, name := range field.Names {
			params = append(params, Parameter{
				Name: name.Name,
				Type: typeStr,
			})
		}
	}

	return params
}

// getTypeString converts an ast.Expr to its string representation
func getTypeString(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + getTypeString(t.X)
	case *ast.ArrayType:
		if t.Len == nil {
			return "[]" + getTypeString(t.Elt)
		}
		if lit, ok := t.Len.(*ast.BasicLit); ok {
			return fmt.Sprintf("[%s]%s", lit.Value, getTypeString(t.Elt))
		}
		return "[...]" + getTypeString(t.Elt)
	case *ast.SelectorExpr:
		return fmt.Sprintf("%s.%s", getTypeString(t.X), t.Sel.Name)
	case *ast.MapType:
		return fmt.Sprintf("map[%s]%s", getTypeString(t.Key), getTypeString(t.Value))
	case *ast.InterfaceType:
		return "interface{}"
	case *ast.StructType:
		return "struct{}"
	default:
		return fmt.Sprintf("%T", t)
	}
}

// String returns a string representation of the ABI
func (a *ABI) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Program: %s\n", a.ProgramName))

	sb.WriteString("\nInstructions:\n")
	for _, ix := range a.Instructions {
		sb.WriteString(fmt.Sprintf("  %s(", ix.Name))
		for i, arg := range ix.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s %s", arg.Name, arg.Type))
		}
		sb.WriteString(fmt.Sprintf(") discriminator=%x accounts=%d\n", ix.Discriminator[:], len(ix.Accounts)))
	}

	return sb.String()
}
