package alert

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"argus/core"
)

// ruleFile is the on-disk shape of a rules file
type ruleFile struct {
	Rules []*core.AlertRule `yaml:"rules"`
}

// LoadRulesFile reads alert rules from a YAML file and validates them
func LoadRulesFile(path string) ([]*core.AlertRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules parses and validates YAML rule definitions
func ParseRules(data []byte) ([]*core.AlertRule, error) {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}

	validate := validator.New()
	seen := make(map[string]bool, len(file.Rules))
	for i, rule := range file.Rules {
		if err := validate.Struct(rule); err != nil {
			return nil, fmt.Errorf("invalid rule at index %d: %w", i, err)
		}
		if rule.Severity != "" && !rule.Severity.IsValid() {
			return nil, fmt.Errorf("invalid rule %q: unknown severity %q", rule.Name, rule.Severity)
		}
		if seen[rule.Name] {
			return nil, fmt.Errorf("duplicate rule name %q", rule.Name)
		}
		seen[rule.Name] = true

		if rule.Escalation != nil {
			for j, level := range rule.Escalation.Levels {
				if level.Delay <= 0 {
					return nil, fmt.Errorf("invalid rule %q: escalation level %d has no delay", rule.Name, j+1)
				}
			}
		}
	}
	return file.Rules, nil
}
