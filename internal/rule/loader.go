package rule

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"rule-broker/internal/logger"
)

// RulesLoader handles loading rules from the filesystem
type RulesLoader struct {
	logger *logger.Logger
}

// NewRulesLoader creates a new rules loader
func NewRulesLoader(log *logger.Logger) *RulesLoader {
	return &RulesLoader{
		logger: log,
	}
}

// LoadFromDirectory loads all .json, .yaml and .yml rule files from a
// directory and its subdirectories. A file holds one rule or a list.
func (l *RulesLoader) LoadFromDirectory(path string) ([]Rule, error) {
	var rules []Rule

	err := filepath.Walk(path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		ext := strings.ToLower(filepath.Ext(path))
		if info.IsDir() || (ext != ".json" && ext != ".yaml" && ext != ".yml") {
			return nil
		}

		l.logger.Debug("loading rule file", "path", path)

		data, err := os.ReadFile(path)
		if err != nil {
			l.logger.Error("failed to read rule file",
				"path", path,
				"error", err)
			return err
		}

		if ext != ".json" {
			if data, err = yamlToJSON(data); err != nil {
				l.logger.Error("failed to parse rule file",
					"path", path,
					"error", err)
				return fmt.Errorf("%s: %w", path, err)
			}
		}

		ruleSet, err := decodeRules(data)
		if err != nil {
			l.logger.Error("failed to parse rule file",
				"path", path,
				"error", err)
			return fmt.Errorf("%s: %w", path, err)
		}

		for i := range ruleSet {
			if err := Validate(&ruleSet[i]); err != nil {
				return fmt.Errorf("%s: rule %d: %w", path, i, err)
			}
		}

		l.logger.Debug("successfully loaded rules",
			"path", path,
			"count", len(ruleSet))

		rules = append(rules, ruleSet...)
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	l.logger.Info("rules loaded successfully",
		"totalRules", len(rules))

	return rules, nil
}

func decodeRules(data []byte) ([]Rule, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var ruleSet []Rule
		if err := json.Unmarshal(trimmed, &ruleSet); err != nil {
			return nil, err
		}
		return ruleSet, nil
	}

	var single Rule
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, err
	}
	return []Rule{single}, nil
}

// yamlToJSON lets YAML rule files share the JSON decoding path
func yamlToJSON(data []byte) ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return json.Marshal(doc)
}
