package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/shikra/internal/domain"
)

// CustomEngine evaluates operator-defined CEL rules that supplement the
// fixed catalog. A custom rule whose expression evaluates to true
// contributes its weight to its category, subject to the same category
// caps as catalog rules. The fixed catalog semantics are never affected.
type CustomEngine struct {
	mu    sync.RWMutex
	rules []*compiledCustomRule // load order, for deterministic output
	env   *cel.Env
	caps  map[domain.Category]float64
}

type compiledCustomRule struct {
	config  *domain.CustomRule
	program cel.Program
}

// NewCustomEngine creates a custom rule engine with the transaction
// variables exposed to CEL expressions.
func NewCustomEngine(caps map[domain.Category]float64) (*CustomEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("sender_vpa", cel.StringType),
		cel.Variable("receiver_vpa", cel.StringType),
		cel.Variable("page_context", cel.StringType),
		cel.Variable("state", cel.StringType),
		cel.Variable("is_new_counterparty", cel.BoolType),
		cel.Variable("device_change", cel.BoolType),
		cel.Variable("location_change", cel.BoolType),
		cel.Variable("requires_pin", cel.BoolType),
		cel.Variable("anomaly_score", cel.DoubleType),
		cel.Variable("prior_small_transfers", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &CustomEngine{
		env:  env,
		caps: caps,
	}, nil
}

// ValidateRule compiles and validates a rule without loading it.
func (e *CustomEngine) ValidateRule(cfg *domain.CustomRule) error {
	_, err := e.compile(cfg)
	return err
}

// LoadRule compiles and appends a rule. Rules evaluate in load order.
func (e *CustomEngine) LoadRule(cfg *domain.CustomRule) error {
	compiled, err := e.compile(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, existing := range e.rules {
		if existing.config.ID == cfg.ID {
			return fmt.Errorf("custom rule %s already loaded", cfg.ID)
		}
	}
	e.rules = append(e.rules, compiled)
	return nil
}

// RulesCount returns the number of loaded custom rules.
func (e *CustomEngine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// LoadedRules returns the loaded rule configurations in load order.
func (e *CustomEngine) LoadedRules() []*domain.CustomRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.CustomRule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r.config)
	}
	return out
}

// Evaluate runs every loaded rule against a transaction and returns the
// triggered ones in load order.
func (e *CustomEngine) Evaluate(txn *domain.Transaction) []domain.TriggeredRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.rules) == 0 {
		return nil
	}

	activation := map[string]any{
		"amount":                txn.Amount,
		"channel":               txn.Channel,
		"sender_vpa":            txn.SenderVPA,
		"receiver_vpa":          txn.ReceiverVPA,
		"page_context":          txn.PageContext,
		"state":                 txn.State,
		"is_new_counterparty":   txn.IsNewCounterparty,
		"device_change":         txn.DeviceChange,
		"location_change":       txn.LocationChange,
		"requires_pin":          txn.RequiresPIN,
		"anomaly_score":         txn.AnomalyScore,
		"prior_small_transfers": int64(len(txn.PriorSmallTransfers)),
	}

	var hits []domain.TriggeredRule
	for _, rule := range e.rules {
		out, _, err := rule.program.Eval(activation)
		if err != nil {
			// A rule that cannot evaluate is treated as non-triggering;
			// one bad rule must not poison the transaction.
			continue
		}
		if fired, ok := out.(types.Bool); ok && bool(fired) {
			hits = append(hits, domain.TriggeredRule{
				ID:          rule.config.ID,
				Score:       rule.config.Weight,
				Category:    rule.config.Category,
				Description: rule.config.Description,
			})
		}
	}
	return hits
}

// Close clears all loaded rules.
func (e *CustomEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = nil
	return nil
}

func (e *CustomEngine) compile(cfg *domain.CustomRule) (*compiledCustomRule, error) {
	if cfg == nil {
		return nil, fmt.Errorf("rule config is required")
	}
	if cfg.ID == "" {
		return nil, fmt.Errorf("custom rule id is required")
	}
	if cfg.Weight <= 0 || cfg.Weight > 1 {
		return nil, fmt.Errorf("custom rule %s: weight must be in (0,1], got %v", cfg.ID, cfg.Weight)
	}
	if _, ok := e.caps[cfg.Category]; !ok {
		return nil, fmt.Errorf("custom rule %s: undefined category %q", cfg.ID, cfg.Category)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile custom rule %s: %w", cfg.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("custom rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for custom rule %s: %w", cfg.ID, err)
	}

	return &compiledCustomRule{config: cfg, program: program}, nil
}
