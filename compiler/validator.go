// Package compiler checks natively compiled program source against the rules
// the host places on programs.
package compiler

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"

	"github.com/govm-net/greeter/abi"
	"github.com/govm-net/greeter/api"
)

// RestrictedCommentPrefixes are directives program source may not carry.
var RestrictedCommentPrefixes = []string{
	"go:",
	"+build",
	"-build",
	"line ",
	"export",
	"extern",
	"cgo",
}

// Validator checks program source before it is built into the host.
type Validator struct {
	config api.ProgramConfig
}

// NewValidator creates a validator with the given configuration.
func NewValidator(config api.ProgramConfig) *Validator {
	return &Validator{
		config: config,
	}
}

// Validate checks that code is a well-formed program: only allowed imports, no
// restricted statements or directives, and at least one instruction. It
// returns the program's ABI.
func (v *Validator) Validate(code []byte) (*abi.ABI, error) {
	if len(code) > v.config.MaxCodeSize {
		return nil, fmt.Errorf("program size exceeds maximum allowed size of %d bytes", v.config.MaxCodeSize)
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "", code, parser.AllErrors|parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("failed to parse program: %w", err)
	}

	if err := v.validateImports(file); err != nil {
		return nil, err
	}
	if err := validateNoRestrictedKeywords(file); err != nil {
		return nil, err
	}
	if err := validateNoDirectives(fset, file); err != nil {
		return nil, err
	}

	programABI, err := abi.ExtractABI(code)
	if err != nil {
		return nil, err
	}
	if len(programABI.Instructions) == 0 {
		return nil, errors.New("program must have at least one instruction")
	}
	return programABI, nil
}

// validateImports checks that the program only imports allowed packages.
func (v *Validator) validateImports(file *ast.File) error {
	for _, imp := range file.Imports {
		importPath := strings.Trim(imp.Path.Value, "\"")
		allowed := false
		for _, allowedImport := range v.config.AllowedImports {
			if importPath == allowedImport || strings.HasPrefix(importPath, allowedImport+"/") {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("import %s is not allowed", importPath)
		}
	}
	return nil
}

func validateNoRestrictedKeywords(file *ast.File) error {
	visitor := &restrictedKeywordVisitor{}
	ast.Walk(visitor, file)
	if visitor.foundKeyword != "" {
		return fmt.Errorf("restricted keyword '%s' found in program", visitor.foundKeyword)
	}
	return nil
}

// restrictedKeywordVisitor is an AST visitor that detects restricted keywords.
type restrictedKeywordVisitor struct {
	foundKeyword string
}

// Visit implements the ast.Visitor interface.
func (v *restrictedKeywordVisitor) Visit(node ast.Node) ast.Visitor {
	if node == nil || v.foundKeyword != "" {
		return nil
	}

	switch n := node.(type) {
	case *ast.GoStmt:
		v.foundKeyword = "go"
	case *ast.SelectStmt:
		v.foundKeyword = "select"
	case *ast.CallExpr:
		if ident, ok := n.Fun.(*ast.Ident); ok && ident.Name == "recover" {
			v.foundKeyword = "recover"
		}
	}
	if v.foundKeyword != "" {
		return nil
	}
	return v
}

// validateNoDirectives rejects line comments that act as compiler directives.
// Directives have no space after the slashes.
func validateNoDirectives(fset *token.FileSet, file *ast.File) error {
	for _, group := range file.Comments {
		for _, comment := range group.List {
			text, ok := strings.CutPrefix(comment.Text, "//")
			if !ok {
				continue
			}
			for _, prefix := range RestrictedCommentPrefixes {
				if strings.HasPrefix(text, prefix) {
					return fmt.Errorf("restricted directive '//%s' found at line %d", strings.TrimSpace(prefix), fset.Position(comment.Pos()).Line)
				}
			}
		}
	}
	return nil
}
