package codegen

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"

	"seagent/internal/sandbox"
)

// Structural validation errors.
var (
	ErrNotPackageMain = errors.New("tool must declare package main")
	ErrMissingMarker  = errors.New("tool must carry a // seatool: marker comment")
	ErrMissingRunTool = errors.New("tool must declare func RunTool(input string) (string, error)")
	ErrMissingTests   = errors.New("tool must declare at least one TestXxx func() error")
)

// Validate checks generated source structurally before it reaches the
// sandbox: package main, the seatool marker, a well-formed RunTool, at
// least one test function, and only allowlisted imports.
func Validate(code, toolName string) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, toolName+".go", code, parser.ParseComments)
	if err != nil {
		return fmt.Errorf("tool source does not parse: %w", err)
	}

	if file.Name.Name != "main" {
		return ErrNotPackageMain
	}
	if !hasMarker(file) {
		return ErrMissingMarker
	}
	if err := sandbox.CheckImports(code); err != nil {
		return err
	}

	var haveRunTool, haveTest bool
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv != nil {
			continue
		}
		switch {
		case fn.Name.Name == "RunTool":
			if !isRunToolSignature(fn.Type) {
				return ErrMissingRunTool
			}
			haveRunTool = true
		case fn.Name.Name == "main":
			return fmt.Errorf("tool must not declare func main")
		case strings.HasPrefix(fn.Name.Name, "Test") && len(fn.Name.Name) > len("Test"):
			if isTestSignature(fn.Type) {
				haveTest = true
			}
		}
	}

	if !haveRunTool {
		return ErrMissingRunTool
	}
	if !haveTest {
		return ErrMissingTests
	}
	return nil
}

func hasMarker(file *ast.File) bool {
	for _, group := range file.Comments {
		for _, comment := range group.List {
			if strings.HasPrefix(comment.Text, "// seatool:") {
				return true
			}
		}
	}
	return false
}

// isRunToolSignature checks for func(string) (string, error).
func isRunToolSignature(ft *ast.FuncType) bool {
	if ft.Params == nil || countFields(ft.Params) != 1 || !isIdent(ft.Params.List[0].Type, "string") {
		return false
	}
	if ft.Results == nil || countFields(ft.Results) != 2 {
		return false
	}
	return isIdent(ft.Results.List[0].Type, "string") && isIdent(lastType(ft.Results), "error")
}

// isTestSignature checks for func() error.
func isTestSignature(ft *ast.FuncType) bool {
	if ft.Params != nil && countFields(ft.Params) != 0 {
		return false
	}
	return ft.Results != nil && countFields(ft.Results) == 1 && isIdent(ft.Results.List[0].Type, "error")
}

// countFields counts declared names, not field groups, so
// (a, b string) counts as two.
func countFields(fields *ast.FieldList) int {
	n := 0
	for _, f := range fields.List {
		if len(f.Names) == 0 {
			n++
			continue
		}
		n += len(f.Names)
	}
	return n
}

func lastType(fields *ast.FieldList) ast.Expr {
	return fields.List[len(fields.List)-1].Type
}

func isIdent(expr ast.Expr, name string) bool {
	ident, ok := expr.(*ast.Ident)
	return ok && ident.Name == name
}
