// Package config provides YAML-based configuration loading for Caboose.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // tenant timezones must resolve on minimal hosts

	"gopkg.in/yaml.v3"
)

// Config is the top-level Caboose configuration, loaded from caboose.yaml.
type Config struct {
	Database         DatabaseConfig   `yaml:"database"`
	Tenants          []TenantConfig   `yaml:"tenants"`
	BusinessHours    HoursConfig      `yaml:"business_hours"`
	Escalation       EscalationConfig `yaml:"escalation"`
	Templates        []string         `yaml:"templates"`
	TerminalStatuses []string         `yaml:"terminal_statuses"`
	Analyzer         AnalyzerConfig   `yaml:"analyzer"`
	Gateway          GatewayConfig    `yaml:"gateway"`
	Dispatch         DispatchConfig   `yaml:"dispatch"`
	Intake           IntakeConfig     `yaml:"intake"`
	Notify           NotifyConfig     `yaml:"notify"`
	Server           ServerConfig     `yaml:"server"`
	Telemetry        TelemetryConfig  `yaml:"telemetry"`
	Log              LogConfig        `yaml:"log"`
}

// DatabaseConfig holds connection settings for the schedule store.
type DatabaseConfig struct {
	Driver      string `yaml:"driver"` // "mysql" or "sqlite"
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	PasswordEnv string `yaml:"password_env"`
	Name        string `yaml:"name"`
	Path        string `yaml:"path"` // sqlite file
}

// Password resolves the database password from the environment.
func (d DatabaseConfig) Password() string {
	if d.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(d.PasswordEnv)
}

// TenantConfig identifies one tenant whose leads are followed up.
type TenantConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Timezone    string `yaml:"timezone"`
	CountryCode string `yaml:"country_code"`
	Instance    string `yaml:"instance"` // gateway instance/sender for this tenant
}

// Location loads the tenant's IANA timezone.
func (t TenantConfig) Location() (*time.Location, error) {
	return time.LoadLocation(t.Timezone)
}

// HoursConfig defines the operating window.
type HoursConfig struct {
	OpenHour  int      `yaml:"open_hour"`
	CloseHour int      `yaml:"close_hour"`
	Weekdays  []string `yaml:"weekdays"`
}

// EscalationConfig lists the waits before attempts 1..N.
type EscalationConfig struct {
	Intervals []time.Duration `yaml:"intervals"`
}

// AnalyzerConfig controls the AI judgment step.
type AnalyzerConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Provider  string        `yaml:"provider"`
	Model     string        `yaml:"model"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout"`
	Turns     int           `yaml:"turns"`
}

// APIKey resolves the AI provider key from the environment.
func (a AnalyzerConfig) APIKey() string {
	if a.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(a.APIKeyEnv)
}

// GatewayConfig holds outbound messaging gateway settings.
type GatewayConfig struct {
	BaseURL     string        `yaml:"base_url"`
	TokenEnv    string        `yaml:"token_env"`
	Timeout     time.Duration `yaml:"timeout"`
	SendDelay   time.Duration `yaml:"send_delay"`
	TypingDelay time.Duration `yaml:"typing_delay"`
	MaxLength   int           `yaml:"max_length"`
}

// Token resolves the gateway bearer token from the environment.
func (g GatewayConfig) Token() string {
	if g.TokenEnv == "" {
		return ""
	}
	return os.Getenv(g.TokenEnv)
}

// DispatchConfig controls the dispatch loop.
type DispatchConfig struct {
	Cron       string        `yaml:"cron"`
	BatchSize  int           `yaml:"batch_size"`
	RowTimeout time.Duration `yaml:"row_timeout"`
}

// IntakeConfig controls the intake scanner.
type IntakeConfig struct {
	Cron            string        `yaml:"cron"`
	Lookback        time.Duration `yaml:"lookback"`
	EchoWindow      time.Duration `yaml:"echo_window"`
	TranscriptTurns int           `yaml:"transcript_turns"`
}

// NotifyConfig configures optional operator alerts.
type NotifyConfig struct {
	Platform  string `yaml:"platform"` // "slack", "discord", or empty
	TokenEnv  string `yaml:"token_env"`
	ChannelID string `yaml:"channel_id"`
}

// Token resolves the notifier bot token from the environment.
func (n NotifyConfig) Token() string {
	if n.TokenEnv == "" {
		return ""
	}
	return os.Getenv(n.TokenEnv)
}

// ServerConfig configures the HTTP trigger API.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// TelemetryConfig configures OpenTelemetry metrics.
type TelemetryConfig struct {
	Enabled     bool          `yaml:"enabled"`
	ServiceName string        `yaml:"service_name"`
	Interval    time.Duration `yaml:"interval"` // export period
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// DefaultTemplates are the fallback messages for attempts 1..8.
var DefaultTemplates = []string{
	"Oi {name}, conseguiu ver minha última mensagem?",
	"{name}, fiquei no aguardo do seu retorno. Posso te ajudar com mais alguma informação?",
	"Oi {name}! Passando para saber se ainda tem interesse. Qualquer dúvida estou por aqui.",
	"{name}, separei um horário para conversarmos. Quer que eu te envie as opções?",
	"Oi {name}, tudo bem? Não quero que você perca essa oportunidade.",
	"{name}, ainda faz sentido conversarmos sobre isso?",
	"Oi {name}, vou deixar seu atendimento em aberto por mais alguns dias.",
	"{name}, esta é minha última mensagem. Se quiser retomar, é só responder aqui.",
}

// DefaultTerminalStatuses are funnel states after which follow-up stops.
var DefaultTerminalStatuses = []string{"agendado", "perdido", "ganhos"}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Tenant returns the tenant with the given ID.
func (c *Config) Tenant(id string) (TenantConfig, bool) {
	for _, t := range c.Tenants {
		if t.ID == id {
			return t, true
		}
	}
	return TenantConfig{}, false
}

// ParsedWeekdays converts the configured weekday names.
func (h HoursConfig) ParsedWeekdays() ([]time.Weekday, error) {
	var out []time.Weekday
	for _, name := range h.Weekdays {
		d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
		out = append(out, d)
	}
	return out, nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "caboose"
		}
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "caboose.db"
	}

	for i := range c.Tenants {
		if c.Tenants[i].Timezone == "" {
			c.Tenants[i].Timezone = "America/Sao_Paulo"
		}
		if c.Tenants[i].CountryCode == "" {
			c.Tenants[i].CountryCode = "55"
		}
		if c.Tenants[i].Name == "" {
			c.Tenants[i].Name = c.Tenants[i].ID
		}
		if c.Tenants[i].Instance == "" {
			c.Tenants[i].Instance = c.Tenants[i].ID
		}
	}

	if c.BusinessHours.OpenHour == 0 && c.BusinessHours.CloseHour == 0 {
		c.BusinessHours.OpenHour = 8
		c.BusinessHours.CloseHour = 18
	}
	if len(c.Escalation.Intervals) == 0 {
		c.Escalation.Intervals = []time.Duration{
			10 * time.Minute, time.Hour, 4 * time.Hour, 24 * time.Hour,
			48 * time.Hour, 72 * time.Hour, 84 * time.Hour, 96 * time.Hour,
		}
	}
	if len(c.Templates) == 0 {
		c.Templates = append([]string(nil), DefaultTemplates...)
	}
	if len(c.TerminalStatuses) == 0 {
		c.TerminalStatuses = append([]string(nil), DefaultTerminalStatuses...)
	}

	if c.Analyzer.Provider == "" {
		c.Analyzer.Provider = "gemini"
	}
	if c.Analyzer.Model == "" {
		c.Analyzer.Model = "gemini-2.0-flash"
	}
	if c.Analyzer.APIKeyEnv == "" {
		c.Analyzer.APIKeyEnv = "GOOGLE_API_KEY"
	}
	if c.Analyzer.Timeout == 0 {
		c.Analyzer.Timeout = 20 * time.Second
	}
	if c.Analyzer.Turns == 0 {
		c.Analyzer.Turns = 10
	}

	if c.Gateway.Timeout == 0 {
		c.Gateway.Timeout = 30 * time.Second
	}
	if c.Gateway.SendDelay == 0 {
		c.Gateway.SendDelay = 3 * time.Second
	}
	if c.Gateway.TypingDelay == 0 {
		c.Gateway.TypingDelay = 1200 * time.Millisecond
	}
	if c.Gateway.MaxLength == 0 {
		c.Gateway.MaxLength = 4096
	}

	if c.Dispatch.Cron == "" {
		c.Dispatch.Cron = "*/2 * * * *"
	}
	if c.Dispatch.BatchSize == 0 {
		c.Dispatch.BatchSize = 50
	}
	if c.Dispatch.RowTimeout == 0 {
		c.Dispatch.RowTimeout = 10 * time.Second
	}

	if c.Intake.Cron == "" {
		c.Intake.Cron = "*/5 * * * *"
	}
	if c.Intake.Lookback == 0 {
		c.Intake.Lookback = 24 * time.Hour
	}
	if c.Intake.EchoWindow == 0 {
		c.Intake.EchoWindow = 2 * time.Minute
	}
	if c.Intake.TranscriptTurns == 0 {
		c.Intake.TranscriptTurns = 10
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "caboose"
	}
	if c.Telemetry.Interval == 0 {
		c.Telemetry.Interval = time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string

	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (mysql, sqlite)", c.Database.Driver))
	}

	if len(c.Tenants) == 0 {
		errs = append(errs, "at least one tenant is required")
	}
	seen := make(map[string]bool)
	for i, t := range c.Tenants {
		if t.ID == "" {
			errs = append(errs, fmt.Sprintf("tenants[%d].id is required", i))
			continue
		}
		if seen[t.ID] {
			errs = append(errs, fmt.Sprintf("tenants[%d].id %q is duplicated", i, t.ID))
		}
		seen[t.ID] = true
		if _, err := t.Location(); err != nil {
			errs = append(errs, fmt.Sprintf("tenants[%d].timezone %q: %v", i, t.Timezone, err))
		}
	}

	bh := c.BusinessHours
	if bh.OpenHour < 0 || bh.CloseHour > 24 || bh.OpenHour >= bh.CloseHour {
		errs = append(errs, fmt.Sprintf("business_hours %d-%d is not a valid window", bh.OpenHour, bh.CloseHour))
	}
	if _, err := bh.ParsedWeekdays(); err != nil {
		errs = append(errs, "business_hours.weekdays: "+err.Error())
	}

	for i, d := range c.Escalation.Intervals {
		if d <= 0 {
			errs = append(errs, fmt.Sprintf("escalation.intervals[%d] must be positive", i))
		}
	}
	if len(c.Templates) < len(c.Escalation.Intervals) {
		errs = append(errs, fmt.Sprintf("templates: %d configured, %d escalation stages need one each",
			len(c.Templates), len(c.Escalation.Intervals)))
	}
	for i, tmpl := range c.Templates {
		if strings.TrimSpace(tmpl) == "" {
			errs = append(errs, fmt.Sprintf("templates[%d] is empty", i))
		}
	}

	if c.Analyzer.Enabled && c.Analyzer.Provider != "gemini" {
		errs = append(errs, fmt.Sprintf("analyzer.provider %q is not supported (gemini)", c.Analyzer.Provider))
	}

	if c.Gateway.BaseURL == "" {
		errs = append(errs, "gateway.base_url is required")
	}
	if c.Dispatch.BatchSize < 0 {
		errs = append(errs, "dispatch.batch_size must not be negative")
	}

	switch c.Notify.Platform {
	case "":
	case "slack", "discord":
		if c.Notify.ChannelID == "" {
			errs = append(errs, "notify.channel_id is required when notify.platform is set")
		}
	default:
		errs = append(errs, fmt.Sprintf("notify.platform %q is not supported (slack, discord)", c.Notify.Platform))
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not supported (text, json)", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
