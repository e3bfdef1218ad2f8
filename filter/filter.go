// Package filter selects incidents with CEL expressions.
//
// An expression sees these variables:
//
//	id          string               incident ID
//	title       string               raw title
//	description string               raw description
//	text        string               normalized title and description
//	attributes  map(string, string)  free-form incident attributes
//
// and must evaluate to a bool, e.g.
//
//	text.contains("ransom") && attributes["region"] == "eu"
package filter

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/zero-day-ai/threatmap/incident"
	"github.com/zero-day-ai/threatmap/threaterr"
)

// Filter is a compiled selection expression. The zero value and a nil
// *Filter match every incident. A Filter is safe for concurrent use.
type Filter struct {
	expr    string
	program cel.Program
}

func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("title", cel.StringType),
		cel.Variable("description", cel.StringType),
		cel.Variable("text", cel.StringType),
		cel.Variable("attributes", cel.MapType(cel.StringType, cel.StringType)),
	)
}

// Compile parses and type-checks expr. An empty expression yields a filter
// that matches everything.
func Compile(expr string) (*Filter, error) {
	const op = "filter.Compile"

	expr = strings.TrimSpace(expr)
	if expr == "" {
		return &Filter{}, nil
	}

	env, err := newEnv()
	if err != nil {
		return nil, threaterr.Configuration(op, "expression", "failed to build CEL environment").WithCause(err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, threaterr.Configuration(op, "expression", fmt.Sprintf("invalid expression %q", expr)).WithCause(issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, threaterr.Configuration(op, "expression",
			fmt.Sprintf("expression %q must evaluate to bool, got %s", expr, ast.OutputType()))
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, threaterr.Configuration(op, "expression", fmt.Sprintf("failed to plan expression %q", expr)).WithCause(err)
	}

	return &Filter{expr: expr, program: program}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(expr string) *Filter {
	f, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return f
}

// String returns the source expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.expr
}

// Matches evaluates the filter against inc. Evaluation errors, such as a
// lookup of a missing attribute key, are returned with a false result.
func (f *Filter) Matches(inc incident.Incident) (bool, error) {
	if f == nil || f.program == nil {
		return true, nil
	}

	attrs := inc.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}

	out, _, err := f.program.Eval(map[string]any{
		"id":          inc.ID,
		"title":       inc.Title,
		"description": inc.Description,
		"text":        inc.Text(),
		"attributes":  attrs,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate filter %q on incident %s: %w", f.expr, inc.ID, err)
	}

	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter %q returned %T, want bool", f.expr, out.Value())
	}
	return matched, nil
}
