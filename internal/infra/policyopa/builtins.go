package policyopa

import "github.com/open-policy-agent/opa/ast"

// allowedBuiltins is everything the escalation policy may call. Network and
// clock builtins are deliberately absent so evaluation depends on input only.
var allowedBuiltins = map[string]struct{}{
	"assign":     {},
	"count":      {},
	"eq":         {},
	"equal":      {},
	"gt":         {},
	"gte":        {},
	"is_number":  {},
	"is_string":  {},
	"lower":      {},
	"lt":         {},
	"lte":        {},
	"neq":        {},
	"object.get": {},
	"sort":       {},
	"sprintf":    {},
	"startswith": {},
	"upper":      {},
}

func filterBuiltins(builtins []*ast.Builtin) []*ast.Builtin {
	allowed := make([]*ast.Builtin, 0, len(builtins))
	for _, builtin := range builtins {
		if _, ok := allowedBuiltins[builtin.Name]; !ok {
			continue
		}
		allowed = append(allowed, builtin)
	}
	return allowed
}
