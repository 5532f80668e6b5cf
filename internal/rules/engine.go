package rules

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// compiledRule pairs a rule with its compiled pattern.
type compiledRule struct {
	rule Rule
	re   *regexp.Regexp
}

// Engine matches queries against an ordered rule table.
type Engine struct {
	rules []compiledRule
}

// NewEngine compiles a rule table into an engine. Rules are evaluated
// in the given order; the first match wins.
func NewEngine(table []Rule) (*Engine, error) {
	compiled := make([]compiledRule, 0, len(table))
	for i, rule := range table {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		re := regexp.MustCompile("(?i)" + rule.Pattern)
		compiled = append(compiled, compiledRule{rule: rule, re: re})
	}
	return &Engine{rules: compiled}, nil
}

// NewDefaultEngine compiles the built-in rule table.
func NewDefaultEngine() *Engine {
	engine, err := NewEngine(DefaultRules())
	if err != nil {
		// The built-in table is static and always compiles.
		panic(err)
	}
	return engine
}

// ruleFile is the YAML shape of an external rules file.
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadFile reads a rule table from a YAML file.
func LoadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing rules file: %w", err)
	}
	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("rules file %s contains no rules", path)
	}

	return file.Rules, nil
}

// Match searches the query against the rule table and returns the
// first match, or false when no rule applies.
func (e *Engine) Match(query string) (*Match, bool) {
	for _, cr := range e.rules {
		if cr.re.MatchString(query) {
			return &Match{
				Tool:    cr.rule.Tool,
				Layer:   cr.rule.Kind.Layer(),
				Confirm: cr.rule.Confirm,
				Pattern: cr.rule.Pattern,
			}, true
		}
	}
	return nil, false
}

// Len returns the number of rules in the engine.
func (e *Engine) Len() int {
	return len(e.rules)
}
