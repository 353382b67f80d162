package policyopa

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"govgate/internal/domain"
	cryptoinfra "govgate/internal/infra/crypto"
	"govgate/internal/usecase"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
)

var _ usecase.EscalationPolicy = (*Engine)(nil)

const (
	defaultQuery  = "data.govgate.escalation.result"
	defaultModule = "escalation.rego"
)

//go:embed escalation.rego
var escalationModule string

type escalationResult struct {
	Escalate bool     `json:"escalate"`
	Reasons  []string `json:"reasons"`
}

// Engine evaluates the escalation policy. Settings can be swapped at runtime;
// each evaluation sees one consistent settings value and its hash.
type Engine struct {
	query  rego.PreparedEvalQuery
	module string
	state  atomic.Pointer[engineState]
}

type engineState struct {
	settings   Settings
	input      map[string]any
	policyHash string
}

func NewEngine(ctx context.Context, settings Settings) (*Engine, error) {
	return newEngine(ctx, defaultModule, escalationModule, settings)
}

func newEngine(ctx context.Context, name, module string, settings Settings) (*Engine, error) {
	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	r := rego.New(
		rego.Query(defaultQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
		rego.Module(name, module),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile escalation policy: %w", err)
	}
	if err := assertNoForbiddenBuiltins(compiler); err != nil {
		return nil, err
	}
	engine := &Engine{query: prepared, module: module}
	if err := engine.SetSettings(settings); err != nil {
		return nil, err
	}
	return engine, nil
}

// SetSettings replaces the thresholds. Invalid settings leave the current
// ones in place.
func (e *Engine) SetSettings(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	input := settings.input()
	hash, err := cryptoinfra.HashCanonical(map[string]any{
		"module":   e.module,
		"settings": input,
	})
	if err != nil {
		return fmt.Errorf("hash policy: %w", err)
	}
	e.state.Store(&engineState{settings: settings, input: input, policyHash: hash})
	return nil
}

func (e *Engine) Settings() Settings {
	return e.state.Load().settings
}

func (e *Engine) PolicyHash() string {
	return e.state.Load().policyHash
}

func (e *Engine) Evaluate(ctx context.Context, in domain.EscalationPolicyInput) (domain.EscalationVerdict, error) {
	if e == nil {
		return domain.EscalationVerdict{}, errors.New("policy engine is nil")
	}
	state := e.state.Load()
	payload := in.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	scope := make([]any, 0, len(in.Scope))
	for _, s := range in.Scope {
		scope = append(scope, s)
	}
	input := map[string]any{
		"request": map[string]any{
			"type":       in.Type,
			"subject_id": in.SubjectID,
			"scope":      scope,
			"payload":    payload,
		},
		"settings": state.input,
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return domain.EscalationVerdict{}, fmt.Errorf("%w: %v", domain.ErrPolicyEvaluationFailure, err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return domain.EscalationVerdict{}, fmt.Errorf("%w: empty policy result", domain.ErrPolicyEvaluationFailure)
	}
	result, err := decodeEscalationResult(results[0].Expressions[0].Value)
	if err != nil {
		return domain.EscalationVerdict{}, fmt.Errorf("%w: %v", domain.ErrPolicyEvaluationFailure, err)
	}
	sort.Strings(result.Reasons)
	return domain.EscalationVerdict{
		Escalate:   result.Escalate,
		Reasons:    result.Reasons,
		PolicyHash: state.policyHash,
	}, nil
}

func decodeEscalationResult(value any) (escalationResult, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return escalationResult{}, err
	}
	var result escalationResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return escalationResult{}, err
	}
	return result, nil
}

func assertNoForbiddenBuiltins(compiler *ast.Compiler) error {
	if compiler == nil {
		return errors.New("policy compiler is nil")
	}
	forbidden := make(map[string]struct{})
	for _, module := range compiler.Modules {
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			name := call[0].Value.String()
			if _, ok := ast.BuiltinMap[name]; !ok {
				return false
			}
			if _, ok := allowedBuiltins[name]; ok {
				return false
			}
			forbidden[name] = struct{}{}
			return false
		})
	}
	if len(forbidden) == 0 {
		return nil
	}
	names := make([]string, 0, len(forbidden))
	for name := range forbidden {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("forbidden builtins: %s", strings.Join(names, ", "))
}
