package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models caseflow.yml.
type Config struct {
	Workspace struct {
		ID string `yaml:"id"`
	} `yaml:"workspace"`
	Jurisdictions struct {
		Catalog map[string]JurisdictionRule `yaml:"catalog"`
		Default JurisdictionRule            `yaml:"default"`
	} `yaml:"jurisdictions"`
	Scan struct {
		ProhibitedTerms []string `yaml:"prohibited_terms"`
	} `yaml:"scan"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// JurisdictionRule carries the serious-cause windows for one jurisdiction.
type JurisdictionRule struct {
	Description   string `yaml:"description"`
	DecisionDays  int    `yaml:"decision_days"`
	DismissalDays int    `yaml:"dismissal_days"`
	BusinessDays  bool   `yaml:"business_days"`
	WorksCouncil  bool   `yaml:"works_council"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from a workspace directory.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with cf config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Workspace.ID == "" {
		return fmt.Errorf("config.workspace.id is required")
	}
	if c.Jurisdictions.Default.DecisionDays <= 0 || c.Jurisdictions.Default.DismissalDays <= 0 {
		return fmt.Errorf("config.jurisdictions.default must set positive decision_days and dismissal_days")
	}
	for code, rule := range c.Jurisdictions.Catalog {
		if code == "" {
			return fmt.Errorf("config.jurisdictions.catalog contains empty code")
		}
		if rule.DecisionDays <= 0 {
			return fmt.Errorf("jurisdiction %s has non-positive decision_days", code)
		}
		if rule.DismissalDays <= 0 {
			return fmt.Errorf("jurisdiction %s has non-positive dismissal_days", code)
		}
	}
	for _, term := range c.Scan.ProhibitedTerms {
		if term == "" {
			return fmt.Errorf("config.scan.prohibited_terms contains empty term")
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// Rule returns the rule for a jurisdiction code plus whether it was an
// explicit catalog entry. Callers surface confirmed=false to the user; the
// fallback window is never silent.
func (c *Config) Rule(code string) (rule JurisdictionRule, confirmed bool) {
	if r, ok := c.Jurisdictions.Catalog[code]; ok {
		return r, true
	}
	return c.Jurisdictions.Default, false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "caseflow.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(workspaceID string) string {
	return fmt.Sprintf(defaultTemplate, workspaceID)
}

// Default returns the default Config struct for a workspace.
func Default(workspaceID string) *Config {
	var cfg Config
	cfg.Workspace.ID = workspaceID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, workspaceID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `workspace:
  id: %s

jurisdictions:
  catalog:
    BE:
      description: "Belgium: serious-cause dismissal, 3 business days to decide, 3 more to dismiss"
      decision_days: 3
      dismissal_days: 3
      business_days: true
      works_council: true
    NL:
      description: "Netherlands: urgent-dismissal pathway, suspension expected before dismissal"
      decision_days: 5
      dismissal_days: 10
      business_days: true
      works_council: true
    FR:
      description: "France: faute grave, restricted investigation window"
      decision_days: 5
      dismissal_days: 30
      business_days: true
      works_council: true
    DE:
      description: "Germany: two-week declaration window from knowledge of facts"
      decision_days: 10
      dismissal_days: 14
      business_days: false

  default:
    description: "Fallback window for jurisdictions without a confirmed rule"
    decision_days: 5
    dismissal_days: 10
    business_days: true

scan:
  prohibited_terms:
    - guilty
    - liar
    - criminal
    - fraudster
`
