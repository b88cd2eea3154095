package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"deedflow/internal/stage"
)

// Config models deedflow.yml. It carries the stage-entry task catalog that the
// transition engine instantiates when a transaction enters a new stage, plus
// timeline and webhook settings.
type Config struct {
	Platform struct {
		Name string `yaml:"name"`
	} `yaml:"platform"`
	Tasks struct {
		AutoGenerate bool                      `yaml:"auto_generate"`
		Stages       map[string][]TaskTemplate `yaml:"stages"`
	} `yaml:"tasks"`
	Documents struct {
		// When set, advancing into a stage also requires its approved
		// documents (deed before recording, disclosure before signing).
		// Off by default: tasks alone gate advancement.
		RequireStageApprovals bool `yaml:"require_stage_approvals"`
	} `yaml:"documents"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// TaskTemplate describes one task to create when a transaction enters a stage.
type TaskTemplate struct {
	Title        string `yaml:"title"`
	Description  string `yaml:"description"`
	Type         string `yaml:"type"`
	AssignedRole string `yaml:"assigned_role"`
	Blocking     bool   `yaml:"blocking"`
	Priority     string `yaml:"priority"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

var validTaskTypes = map[string]bool{
	"document_upload": true, "document_sign": true, "document_review": true,
	"payment": true, "verification": true, "inspection": true,
	"approval": true, "notification": true, "other": true,
}

var validPriorities = map[string]bool{
	"low": true, "normal": true, "high": true, "critical": true,
}

var validRoles = map[string]bool{
	"buyer": true, "seller": true, "buyer_agent": true, "seller_agent": true,
	"loan_officer": true, "title_officer": true,
}

// Validate ensures the catalog only references known stages, task types,
// priorities and assignable roles.
func (c *Config) Validate() error {
	for stageName, templates := range c.Tasks.Stages {
		if !stage.Valid(stage.Stage(stageName)) {
			return fmt.Errorf("tasks.stages references unknown stage %s", stageName)
		}
		for i, tpl := range templates {
			if tpl.Title == "" {
				return fmt.Errorf("stage %s template %d has empty title", stageName, i)
			}
			if tpl.Type != "" && !validTaskTypes[tpl.Type] {
				return fmt.Errorf("stage %s template %q has unknown task type %s", stageName, tpl.Title, tpl.Type)
			}
			if tpl.Priority != "" && !validPriorities[tpl.Priority] {
				return fmt.Errorf("stage %s template %q has unknown priority %s", stageName, tpl.Title, tpl.Priority)
			}
			if tpl.AssignedRole != "" && !validRoles[tpl.AssignedRole] {
				return fmt.Errorf("stage %s template %q assigns unknown role %s", stageName, tpl.Title, tpl.AssignedRole)
			}
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhooks[%d] has empty url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "deedflow.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config when the workspace has no
// deedflow.yml.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
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

// Default returns the built-in config: auto-generation on, with the standard
// closing task catalog.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns the default config YAML for writing to disk.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `platform:
  name: deedflow

documents:
  require_stage_approvals: false

tasks:
  auto_generate: true
  stages:
    offer_accepted:
      - title: Deposit earnest money
        description: Buyer must deposit earnest money to escrow account
        type: payment
        assigned_role: buyer
        blocking: true
        priority: critical
      - title: Upload proof of funds
        description: Upload bank statement or pre-approval letter
        type: document_upload
        assigned_role: buyer
        blocking: true
        priority: high
      - title: Open escrow account
        description: Title company to open escrow account
        type: other
        assigned_role: title_officer
        blocking: true
        priority: high
    title_search_ordered:
      - title: Order title search
        description: Title company to search property records
        type: other
        assigned_role: title_officer
        blocking: true
        priority: critical
      - title: Review title report
        description: Review title search results for issues
        type: document_review
        assigned_role: title_officer
        blocking: true
        priority: high
    lender_underwriting:
      - title: Submit loan application
        description: Complete and submit mortgage application
        type: other
        assigned_role: buyer
        blocking: true
        priority: critical
      - title: Schedule home inspection
        description: Hire inspector and schedule inspection
        type: inspection
        assigned_role: buyer
        blocking: false
        priority: normal
      - title: Order appraisal
        description: Lender to order property appraisal
        type: other
        assigned_role: loan_officer
        blocking: true
        priority: high
      - title: Verify employment
        description: Lender to verify buyer employment and income
        type: verification
        assigned_role: loan_officer
        blocking: true
        priority: high
    clear_to_close:
      - title: Obtain clear to close
        description: Final underwriting approval from lender
        type: approval
        assigned_role: loan_officer
        blocking: true
        priority: critical
      - title: Upload insurance policy
        description: Provide proof of homeowners insurance
        type: document_upload
        assigned_role: buyer
        blocking: true
        priority: high
    final_documents_prepared:
      - title: Prepare closing disclosure
        description: Title company prepares final settlement statement
        type: other
        assigned_role: title_officer
        blocking: true
        priority: critical
      - title: Review closing disclosure
        description: Buyer and seller review closing costs
        type: document_review
        assigned_role: buyer
        blocking: true
        priority: high
      - title: Prepare deed
        description: Title company prepares property deed
        type: other
        assigned_role: title_officer
        blocking: true
        priority: high
    funding_and_signing:
      - title: Wire down payment
        description: Buyer to wire down payment funds to escrow
        type: payment
        assigned_role: buyer
        blocking: true
        priority: critical
      - title: Sign closing documents
        description: Buyer and seller sign all closing documents
        type: document_sign
        assigned_role: buyer
        blocking: true
        priority: critical
      - title: Lender funds loan
        description: Lender wires loan amount to escrow
        type: payment
        assigned_role: loan_officer
        blocking: true
        priority: critical
    recording_complete:
      - title: Record deed
        description: County recorder records deed and transfer
        type: other
        assigned_role: title_officer
        blocking: true
        priority: critical
      - title: Disburse funds
        description: Escrow disburses funds to seller and vendors
        type: payment
        assigned_role: title_officer
        blocking: true
        priority: high
`
