package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"caseflow/internal/domain"
)

// Config models caseflow.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"auth"`
	Database struct {
		BusyTimeoutMS int `yaml:"busy_timeout_ms"`
	} `yaml:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Push      PushConfig      `yaml:"push"`
	Billing   struct {
		Currency string `yaml:"currency"`
		// Recipients are age public keys invoice payloads are sealed to.
		Recipients []string `yaml:"recipients"`
		// KeyFile holds a generated identity when no recipients are configured.
		KeyFile string `yaml:"key_file"`
	} `yaml:"billing"`
	Telemetry struct {
		Enabled         bool `yaml:"enabled"`
		IntervalSeconds int  `yaml:"interval_seconds"`
	} `yaml:"telemetry"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Catalog struct {
		Topics   []TopicConfig  `yaml:"topics"`
		Statuses []StatusConfig `yaml:"statuses"`
		Rules    []RuleConfig   `yaml:"rules"`
	} `yaml:"catalog"`
	Staff []StaffConfig `yaml:"staff"`
}

type SchedulerConfig struct {
	Enabled          *bool    `yaml:"enabled"`
	IntervalSeconds  int      `yaml:"interval_seconds"`
	StaleMinutes     int      `yaml:"stale_minutes"`
	TerminalStatuses []string `yaml:"terminal_statuses"`
	SLASweep         *bool    `yaml:"sla_sweep"`
}

type PushConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	MaxRetries     int      `yaml:"max_retries"`
	Events         []string `yaml:"events"`
}

type TopicConfig struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

func (t TopicConfig) Topic() domain.Topic {
	if t.Name == "" {
		return domain.Topic{Code: t.Code, Name: t.Code}
	}
	return domain.Topic{Code: t.Code, Name: t.Name}
}

type StatusConfig struct {
	Code            string `yaml:"code"`
	Name            string `yaml:"name"`
	Terminal        bool   `yaml:"terminal"`
	Kind            string `yaml:"kind"`
	InvoiceTemplate string `yaml:"invoice_template"`
}

type RuleConfig struct {
	Topic        string   `yaml:"topic"`
	From         string   `yaml:"from"`
	To           string   `yaml:"to"`
	Enabled      *bool    `yaml:"enabled"`
	SLAHours     *int     `yaml:"sla_hours"`
	RequiredData []string `yaml:"required_data"`
	RequiredMime []string `yaml:"required_mime"`
}

type StaffConfig struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Role         string   `yaml:"role"`
	Active       *bool    `yaml:"active"`
	PrimaryTopic string   `yaml:"primary_topic"`
	Topics       []string `yaml:"topics"`
	DefaultRate  *float64 `yaml:"default_rate"`
}

// Status converts the entry into its domain form. The config must be valid.
func (s StatusConfig) Status() domain.Status {
	kind, _ := domain.ParseStatusKind(s.Kind)
	out := domain.Status{Code: s.Code, Name: s.Name, IsTerminal: s.Terminal, Kind: kind}
	if out.Name == "" {
		out.Name = s.Code
	}
	if s.InvoiceTemplate != "" {
		tmpl := s.InvoiceTemplate
		out.InvoiceTemplate = &tmpl
	}
	return out
}

func (r RuleConfig) Rule() domain.TransitionRule {
	return domain.TransitionRule{
		TopicCode:         r.Topic,
		FromStatus:        r.From,
		ToStatus:          r.To,
		Enabled:           r.Enabled == nil || *r.Enabled,
		SLAHours:          r.SLAHours,
		RequiredDataKeys:  domain.StringList(r.RequiredData),
		RequiredMimeTypes: domain.StringList(r.RequiredMime),
	}
}

func (s StaffConfig) Staff(createdAt string) (domain.Staff, error) {
	role, err := domain.ParseRole(s.Role)
	if err != nil {
		return domain.Staff{}, err
	}
	out := domain.Staff{
		ID:          s.ID,
		Name:        s.Name,
		Role:        role,
		Active:      s.Active == nil || *s.Active,
		DefaultRate: s.DefaultRate,
		CreatedAt:   createdAt,
	}
	if out.Name == "" {
		out.Name = s.ID
	}
	if s.PrimaryTopic != "" {
		topic := s.PrimaryTopic
		out.PrimaryTopic = &topic
	}
	return out, nil
}

// SchedulerEnabled defaults to true.
func (c *Config) SchedulerEnabled() bool {
	return c.Scheduler.Enabled == nil || *c.Scheduler.Enabled
}

func (c *Config) SLASweepEnabled() bool {
	return c.Scheduler.SLASweep == nil || *c.Scheduler.SLASweep
}

func (c *Config) SchedulerInterval() time.Duration {
	if c.Scheduler.IntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Scheduler.IntervalSeconds) * time.Second
}

// StaleAfter is how old an unassigned case must be before auto-assignment.
func (c *Config) StaleAfter() time.Duration {
	if c.Scheduler.StaleMinutes < 0 {
		return 0
	}
	if c.Scheduler.StaleMinutes == 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Scheduler.StaleMinutes) * time.Minute
}

func (c *Config) PushTimeout() time.Duration {
	if c.Push.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Push.TimeoutSeconds) * time.Second
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	topics := map[string]bool{}
	for i, t := range c.Catalog.Topics {
		if strings.TrimSpace(t.Code) == "" {
			return fmt.Errorf("config.catalog.topics[%d].code is required", i)
		}
		if topics[t.Code] {
			return fmt.Errorf("topic %s defined twice", t.Code)
		}
		topics[t.Code] = true
	}
	statuses := map[string]bool{}
	for i, s := range c.Catalog.Statuses {
		if strings.TrimSpace(s.Code) == "" {
			return fmt.Errorf("config.catalog.statuses[%d].code is required", i)
		}
		if statuses[s.Code] {
			return fmt.Errorf("status %s defined twice", s.Code)
		}
		statuses[s.Code] = true
		if _, err := domain.ParseStatusKind(s.Kind); err != nil {
			return fmt.Errorf("status %s: %w", s.Code, err)
		}
		if s.InvoiceTemplate != "" && !strings.EqualFold(s.Kind, string(domain.KindInvoice)) {
			return fmt.Errorf("status %s: invoice_template requires kind INVOICE", s.Code)
		}
	}
	edges := map[string]bool{}
	for i, r := range c.Catalog.Rules {
		if r.Topic == "" || r.From == "" || r.To == "" {
			return fmt.Errorf("config.catalog.rules[%d] needs topic, from and to", i)
		}
		if r.From == r.To {
			return fmt.Errorf("rule %s %s -> %s is a no-op", r.Topic, r.From, r.To)
		}
		if len(statuses) > 0 && (!statuses[r.From] || !statuses[r.To]) {
			return fmt.Errorf("rule %s %s -> %s references an unknown status", r.Topic, r.From, r.To)
		}
		key := r.Topic + "|" + r.From + "|" + r.To
		if edges[key] {
			return fmt.Errorf("rule %s %s -> %s defined twice", r.Topic, r.From, r.To)
		}
		edges[key] = true
		if r.SLAHours != nil && *r.SLAHours <= 0 {
			return fmt.Errorf("rule %s %s -> %s: sla_hours must be positive", r.Topic, r.From, r.To)
		}
	}
	for _, code := range c.Scheduler.TerminalStatuses {
		if len(statuses) > 0 && !statuses[code] {
			return fmt.Errorf("scheduler.terminal_statuses references unknown status %s", code)
		}
	}
	staff := map[string]bool{}
	for i, s := range c.Staff {
		if s.ID == "" {
			return fmt.Errorf("config.staff[%d].id is required", i)
		}
		if staff[s.ID] {
			return fmt.Errorf("staff %s defined twice", s.ID)
		}
		staff[s.ID] = true
		role, err := domain.ParseRole(s.Role)
		if err != nil {
			return fmt.Errorf("staff %s: %w", s.ID, err)
		}
		if !role.IsStaff() {
			return fmt.Errorf("staff %s: role %s is not a staff role", s.ID, role)
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "caseflow.yml")
}

// KeyFilePath resolves the billing key file relative to the workspace.
func (c *Config) KeyFilePath(workspace string) string {
	path := c.Billing.KeyFile
	if path == "" {
		path = filepath.Join(".caseflow", "invoice.key")
	}
	if filepath.IsAbs(path) {
		return path
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, path)
}

// Load reads and validates config from workspace, falling back to Default when absent.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := FromYAML([]byte(DefaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
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

const DefaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v1

auth:
  jwt_secret: ""
  allow_legacy_actor_header: false

database:
  busy_timeout_ms: 5000

scheduler:
  interval_seconds: 60
  stale_minutes: 10
  sla_sweep: true

push:
  url: ""
  timeout_seconds: 5
  max_retries: 3

billing:
  currency: RUB
  key_file: .caseflow/invoice.key

telemetry:
  enabled: false
  interval_seconds: 30

log:
  level: info

catalog:
  topics:
    - {code: civil, name: Civil law}
    - {code: family, name: Family law}
    - {code: migration, name: Migration}
  statuses:
    - {code: NEW, name: New}
    - {code: IN_PROGRESS, name: In progress}
    - {code: WAITING_CLIENT, name: Waiting for client}
    - code: AWAITING_PAYMENT
      name: Awaiting payment
      kind: INVOICE
      invoice_template: "Legal services for case {track_number} ({topic_code}): {amount}"
    - {code: PAID, name: Paid, kind: PAID}
    - {code: RESOLVED, name: Resolved, terminal: true}
    - {code: CLOSED, name: Closed, terminal: true}
    - {code: REJECTED, name: Rejected, terminal: true}
  rules: []
`
