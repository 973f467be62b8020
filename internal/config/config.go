package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models payline.yml.
type Config struct {
	Company struct {
		Name        string `yaml:"name"`
		BSB         string `yaml:"bsb"`
		AccountNo   string `yaml:"account_number"`
		AccountName string `yaml:"account_name"`
		BankCode    string `yaml:"bank_code"`
		APCAUserID  string `yaml:"apca_user_id"`
	} `yaml:"company"`
	Payroll struct {
		OrdinaryHours        float64 `yaml:"ordinary_hours"`
		AllowApprovedToDraft bool    `yaml:"allow_approved_to_draft"`
	} `yaml:"payroll"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	Webhooks []Webhook `yaml:"webhooks"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

type Webhook struct {
	Name   string   `yaml:"name"`
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

// Permission ids the engine checks. The config may only reference these.
var KnownPermissions = []string{
	"payroll.read",
	"payroll.edit",
	"payroll.approve",
	"payroll.post",
	"payroll.export",
	"employees.manage",
	"periods.manage",
	"keys.manage",
	"events.read",
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run pl init first", path)
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
	if c.Company.Name == "" {
		return fmt.Errorf("config.company.name is required")
	}
	if c.Payroll.OrdinaryHours < 0 {
		return fmt.Errorf("config.payroll.ordinary_hours must not be negative")
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["admin"]; !ok {
			return fmt.Errorf("config.rbac.roles must include admin")
		}
		known := map[string]bool{}
		for _, p := range KnownPermissions {
			known[p] = true
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
				if !known[perm] {
					return fmt.Errorf("role %s references unknown permission %s", roleID, perm)
				}
			}
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "payline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(companyName string) string {
	return fmt.Sprintf(defaultTemplate, companyName)
}

// Default returns the default Config struct for a company.
func Default(companyName string) *Config {
	var cfg Config
	cfg.Company.Name = companyName
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, companyName))).Decode(&cfg)
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

const defaultTemplate = `company:
  name: %s
  bsb: ""
  account_number: ""
  account_name: ""
  bank_code: ""
  apca_user_id: ""

payroll:
  ordinary_hours: 38
  allow_approved_to_draft: false

rbac:
  roles:
    admin:
      description: "Full access"
      permissions:
        - payroll.read
        - payroll.edit
        - payroll.approve
        - payroll.post
        - payroll.export
        - employees.manage
        - periods.manage
        - keys.manage
        - events.read

    payroll-officer:
      description: "Prepares runs and maintains employee data"
      permissions:
        - payroll.read
        - payroll.edit
        - payroll.export
        - employees.manage
        - periods.manage
        - events.read

    payroll-manager:
      description: "Reviews, approves and posts runs"
      permissions:
        - payroll.read
        - payroll.approve
        - payroll.post
        - payroll.export
        - events.read

webhooks: []
`
