package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFileNames are looked up in the workspace root when no config path is given.
var DefaultFileNames = []string{".gauntlet.yml", ".gauntlet.yaml", "gauntlet.yml"}

const (
	toolsFileName   = "tools.yml"
	promptsDirName  = "prompts"
	defaultToolName = "gauntlet"
)

var promptExtensions = []string{".md", ".txt"}

// ErrMissingTemplate is returned when no command template exists for a tool.
var ErrMissingTemplate = errors.New("tool command template not configured")

// Config represents the gauntlet configuration. It is built once per run and
// passed by reference to the orchestrator and every stage.
type Config struct {
	Workspace        string         `yaml:"workspace"`
	ProjectConfigDir string         `yaml:"projectConfigDir,omitempty"`
	Format           string         `yaml:"format" validate:"oneof=sarif json text markdown"`
	FailOn           string         `yaml:"failOn" validate:"oneof=none note warning error low medium high critical"`
	Concurrency      int            `yaml:"concurrency" validate:"gte=1,lte=64"`
	ToolTimeout      int            `yaml:"toolTimeoutSeconds" validate:"gte=1"`
	Report           ReportConfig   `yaml:"report"`
	Tools            ToolTable      `yaml:"tools"`
	Analyzer         AnalyzerConfig `yaml:"analyzer"`
	Stages           []StageConfig  `yaml:"stages" validate:"dive"`
	Consolidate      *StageConfig   `yaml:"consolidate,omitempty"`
	Cache            CacheConfig    `yaml:"cache"`
	Privacy          PrivacyConfig  `yaml:"privacy"`
	Log              LogConfig      `yaml:"log"`
	Trace            TraceConfig    `yaml:"trace"`

	// Prompts holds prompt templates keyed by file stem, loaded from
	// prompts/ next to the config file and the project config dir.
	Prompts map[string]string `yaml:"-"`
	// ProjectConfigLoaded records whether a project-level override was merged.
	ProjectConfigLoaded bool `yaml:"-"`
}

// ReportConfig describes the SARIF tool driver.
type ReportConfig struct {
	ToolName       string `yaml:"toolName" validate:"required"`
	ToolVersion    string `yaml:"toolVersion"`
	InformationURI string `yaml:"informationUri,omitempty"`
	Organization   string `yaml:"organization,omitempty"`
}

// AnalyzerConfig configures the OpenAI-compatible client used by analyzer stages.
type AnalyzerConfig struct {
	BaseURL        string  `yaml:"baseUrl,omitempty"`
	APIKeyEnv      string  `yaml:"apiKeyEnv"`
	Model          string  `yaml:"model,omitempty"`
	MaxTokens      int     `yaml:"maxTokens" validate:"gte=0"`
	Temperature    float32 `yaml:"temperature" validate:"gte=0,lte=2"`
	TimeoutSeconds int     `yaml:"timeoutSeconds" validate:"gte=0"`
	MaxFileBytes   int     `yaml:"maxFileBytes" validate:"gte=0"`

	// RequestsPerMinute caps completions across all stages; 0 is unlimited.
	RequestsPerMinute int `yaml:"requestsPerMinute,omitempty" validate:"gte=0"`
}

// StageConfig enables and parameterizes one analyzer stage.
type StageConfig struct {
	Name      string   `yaml:"name" validate:"required"`
	Enabled   *bool    `yaml:"enabled,omitempty"`
	When      string   `yaml:"when,omitempty"`
	Model     string   `yaml:"model,omitempty"`
	Prompt    string   `yaml:"prompt,omitempty"`
	Languages []string `yaml:"languages,omitempty"`
}

// IsEnabled reports whether the stage should be added to the graph.
func (s StageConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// CacheConfig controls caching of analyzer responses.
type CacheConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Dir        string `yaml:"dir,omitempty"`
	TTLSeconds int    `yaml:"ttlSeconds" validate:"gte=0"`
}

// PrivacyConfig controls redaction of content sent to analyzers.
type PrivacyConfig struct {
	RedactSecrets bool     `yaml:"redactSecrets"`
	RedactPaths   []string `yaml:"redactPaths,omitempty"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format,omitempty" validate:"omitempty,oneof=console json"`
}

// TraceConfig selects where stage spans are exported.
type TraceConfig struct {
	Exporter string `yaml:"exporter" validate:"oneof=none stdout otlp"`
	// Endpoint is the OTLP gRPC receiver, host:port.
	Endpoint string `yaml:"endpoint,omitempty"`
	Insecure bool   `yaml:"insecure,omitempty"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Workspace:   ".",
		Format:      "sarif",
		FailOn:      "none",
		Concurrency: min(runtime.NumCPU(), 8),
		ToolTimeout: 120,
		Report: ReportConfig{
			ToolName:    defaultToolName,
			ToolVersion: "0.1.0",
		},
		Tools: ToolTable{},
		Analyzer: AnalyzerConfig{
			APIKeyEnv:      "OPENAI_API_KEY",
			MaxTokens:      4096,
			TimeoutSeconds: 300,
			MaxFileBytes:   100000,
		},
		Cache: CacheConfig{
			Enabled:    false,
			TTLSeconds: 86400,
		},
		Privacy: PrivacyConfig{
			RedactSecrets: true,
			RedactPaths:   []string{"**/.env", "**/*secrets*"},
		},
		Log: LogConfig{
			Level: "info",
		},
		Trace: TraceConfig{
			Exporter: "none",
			Endpoint: "localhost:4317",
		},
		Prompts: map[string]string{},
	}
}

// Options tells Load where to look for configuration.
type Options struct {
	// Path is an explicit config file. Empty means search the workspace.
	Path string
	// Workspace overrides the workspace root.
	Workspace string
	// Overrides come from CLI flags (only non-zero values should be set).
	Overrides map[string]string
}

// Load builds the effective config by merging:
// defaults <- file <- project override dir <- env <- overrides.
func Load(opts Options) (*Config, error) {
	cfg := Default()

	if opts.Workspace != "" {
		cfg.Workspace = opts.Workspace
	}

	path, err := resolvePath(opts.Path, cfg.Workspace)
	if err != nil {
		return nil, err
	}
	if path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		mergeFile(&cfg, fileCfg)
		if err := loadPrompts(&cfg, filepath.Join(filepath.Dir(path), promptsDirName)); err != nil {
			return nil, err
		}
		// A workspace given on the command line wins over the file.
		if opts.Workspace != "" {
			cfg.Workspace = opts.Workspace
		}
	}

	if err := mergeEnv(&cfg); err != nil {
		return nil, err
	}
	if err := mergeOverrides(&cfg, opts.Overrides); err != nil {
		return nil, err
	}

	if cfg.ProjectConfigDir != "" {
		if err := mergeProjectDir(&cfg); err != nil {
			return nil, err
		}
	}

	abs, err := filepath.Abs(cfg.Workspace)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace: %w", err)
	}
	cfg.Workspace = abs

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func resolvePath(explicit, workspace string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return explicit, nil
	}
	for _, name := range DefaultFileNames {
		p := filepath.Join(workspace, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// LoadFile parses a single YAML config file.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

func mergeFile(dst *Config, src Config) {
	if src.Workspace != "" {
		dst.Workspace = src.Workspace
	}
	if src.ProjectConfigDir != "" {
		dst.ProjectConfigDir = src.ProjectConfigDir
	}
	if src.Format != "" {
		dst.Format = src.Format
	}
	if src.FailOn != "" {
		dst.FailOn = src.FailOn
	}
	if src.Concurrency > 0 {
		dst.Concurrency = src.Concurrency
	}
	if src.ToolTimeout > 0 {
		dst.ToolTimeout = src.ToolTimeout
	}
	if src.Report.ToolName != "" {
		dst.Report.ToolName = src.Report.ToolName
	}
	if src.Report.ToolVersion != "" {
		dst.Report.ToolVersion = src.Report.ToolVersion
	}
	if src.Report.InformationURI != "" {
		dst.Report.InformationURI = src.Report.InformationURI
	}
	if src.Report.Organization != "" {
		dst.Report.Organization = src.Report.Organization
	}
	dst.Tools = dst.Tools.Merge(src.Tools)
	mergeAnalyzer(&dst.Analyzer, src.Analyzer)
	if len(src.Stages) > 0 {
		dst.Stages = mergeStages(dst.Stages, src.Stages)
	}
	if src.Consolidate != nil {
		dst.Consolidate = src.Consolidate
	}
	if src.Cache.Dir != "" {
		dst.Cache.Dir = src.Cache.Dir
	}
	if src.Cache.TTLSeconds > 0 {
		dst.Cache.TTLSeconds = src.Cache.TTLSeconds
	}
	// Bools can't distinguish unset from false in a plain merge; a file that
	// enables the cache wins, otherwise the default stands.
	dst.Cache.Enabled = src.Cache.Enabled || dst.Cache.Enabled
	if len(src.Privacy.RedactPaths) > 0 {
		dst.Privacy.RedactPaths = src.Privacy.RedactPaths
	}
	if src.Log.Level != "" {
		dst.Log.Level = src.Log.Level
	}
	if src.Log.Format != "" {
		dst.Log.Format = src.Log.Format
	}
	if src.Trace.Exporter != "" {
		dst.Trace.Exporter = src.Trace.Exporter
	}
	if src.Trace.Endpoint != "" {
		dst.Trace.Endpoint = src.Trace.Endpoint
	}
	dst.Trace.Insecure = src.Trace.Insecure || dst.Trace.Insecure
}

func mergeAnalyzer(dst *AnalyzerConfig, src AnalyzerConfig) {
	if src.BaseURL != "" {
		dst.BaseURL = src.BaseURL
	}
	if src.APIKeyEnv != "" {
		dst.APIKeyEnv = src.APIKeyEnv
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.MaxTokens > 0 {
		dst.MaxTokens = src.MaxTokens
	}
	if src.Temperature > 0 {
		dst.Temperature = src.Temperature
	}
	if src.TimeoutSeconds > 0 {
		dst.TimeoutSeconds = src.TimeoutSeconds
	}
	if src.MaxFileBytes > 0 {
		dst.MaxFileBytes = src.MaxFileBytes
	}
	if src.RequestsPerMinute > 0 {
		dst.RequestsPerMinute = src.RequestsPerMinute
	}
}

// mergeStages replaces stages with the same name in place and appends new ones,
// so the base ordering is preserved.
func mergeStages(base, override []StageConfig) []StageConfig {
	out := make([]StageConfig, len(base))
	copy(out, base)
	index := make(map[string]int, len(out))
	for i, s := range out {
		index[s.Name] = i
	}
	for _, s := range override {
		if i, ok := index[s.Name]; ok {
			out[i] = s
			continue
		}
		index[s.Name] = len(out)
		out = append(out, s)
	}
	return out
}

// mergeProjectDir merges tools.yml and prompts/ from the project-specific
// config dir, resolved relative to the workspace.
func mergeProjectDir(cfg *Config) error {
	dir := cfg.ProjectConfigDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(cfg.Workspace, dir)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		// A missing project dir is not an error; defaults apply.
		return nil
	}

	toolsPath := filepath.Join(dir, toolsFileName)
	if data, err := os.ReadFile(toolsPath); err == nil {
		var tools ToolTable
		if err := yaml.Unmarshal(data, &tools); err != nil {
			return fmt.Errorf("parsing %s: %w", toolsPath, err)
		}
		cfg.Tools = cfg.Tools.Merge(tools)
		cfg.ProjectConfigLoaded = true
	}

	before := len(cfg.Prompts)
	if err := loadPrompts(cfg, filepath.Join(dir, promptsDirName)); err != nil {
		return err
	}
	if len(cfg.Prompts) != before {
		cfg.ProjectConfigLoaded = true
	}
	return nil
}

func loadPrompts(cfg *Config, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading prompts directory: %w", err)
	}
	if cfg.Prompts == nil {
		cfg.Prompts = map[string]string{}
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if !hasString(promptExtensions, ext) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("reading prompt %s: %w", e.Name(), err)
		}
		cfg.Prompts[strings.TrimSuffix(e.Name(), ext)] = string(data)
	}
	return nil
}

func mergeEnv(cfg *Config) error {
	if v := os.Getenv("GAUNTLET_WORKSPACE"); v != "" {
		cfg.Workspace = v
	}
	if v := os.Getenv("GAUNTLET_FORMAT"); v != "" {
		cfg.Format = v
	}
	if v := os.Getenv("GAUNTLET_FAIL_ON"); v != "" {
		cfg.FailOn = v
	}
	if v := os.Getenv("GAUNTLET_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("GAUNTLET_ANALYZER_BASE_URL"); v != "" {
		cfg.Analyzer.BaseURL = v
	}
	if v := os.Getenv("GAUNTLET_ANALYZER_MODEL"); v != "" {
		cfg.Analyzer.Model = v
	}
	if v := os.Getenv("GAUNTLET_TRACE_EXPORTER"); v != "" {
		cfg.Trace.Exporter = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Trace.Endpoint = v
	}
	if v := os.Getenv("GAUNTLET_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GAUNTLET_CONCURRENCY must be an integer: %w", err)
		}
		cfg.Concurrency = n
	}
	if v := os.Getenv("GAUNTLET_TOOL_TIMEOUT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GAUNTLET_TOOL_TIMEOUT must be an integer: %w", err)
		}
		cfg.ToolTimeout = n
	}
	return nil
}

func mergeOverrides(cfg *Config, overrides map[string]string) error {
	if overrides == nil {
		return nil
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := overrides[k]
		if v == "" {
			continue
		}
		if err := SetField(cfg, k, v); err != nil {
			return err
		}
	}
	return nil
}

// SetField sets a single config field by key name. Returns error if key is unknown.
func SetField(cfg *Config, key, value string) error {
	switch key {
	case "workspace":
		cfg.Workspace = value
	case "projectConfigDir":
		cfg.ProjectConfigDir = value
	case "format":
		cfg.Format = value
	case "failOn":
		cfg.FailOn = value
	case "concurrency":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("concurrency must be an integer: %w", err)
		}
		cfg.Concurrency = n
	case "toolTimeoutSeconds":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("toolTimeoutSeconds must be an integer: %w", err)
		}
		cfg.ToolTimeout = n
	case "analyzer.model":
		cfg.Analyzer.Model = value
	case "analyzer.baseUrl":
		cfg.Analyzer.BaseURL = value
	case "log.level":
		cfg.Log.Level = value
	case "log.format":
		cfg.Log.Format = value
	case "trace.exporter":
		cfg.Trace.Exporter = value
	case "trace.endpoint":
		cfg.Trace.Endpoint = value
	case "cache.enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("cache.enabled must be a boolean: %w", err)
		}
		cfg.Cache.Enabled = b
	case "privacy.redactSecrets":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("privacy.redactSecrets must be a boolean: %w", err)
		}
		cfg.Privacy.RedactSecrets = b
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return data, nil
}

// Save writes cfg as YAML to path, creating parent directories.
func Save(path string, cfg *Config) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// ToolTimeoutDuration returns the default per-tool timeout.
func (c *Config) ToolTimeoutDuration() time.Duration {
	return time.Duration(c.ToolTimeout) * time.Second
}

// ToolCommandTemplate returns the command template for a tool.
func (c *Config) ToolCommandTemplate(category, key string) (string, bool) {
	spec, ok := c.Tools.Lookup(category, key)
	if !ok || strings.TrimSpace(spec.Command) == "" {
		return "", false
	}
	return spec.Command, true
}

// ToolSpec returns the resolved spec for a tool, with defaults applied.
func (c *Config) ToolSpec(category, key string) (ToolSpec, error) {
	spec, ok := c.Tools.Lookup(category, key)
	if !ok || strings.TrimSpace(spec.Command) == "" {
		return ToolSpec{}, fmt.Errorf("%s.%s: %w", category, key, ErrMissingTemplate)
	}
	return spec.resolved(category, key, c.ToolTimeoutDuration()), nil
}

// StageByName returns the configured analyzer stage with the given name.
func (c *Config) StageByName(name string) (StageConfig, bool) {
	for _, s := range c.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageConfig{}, false
}

// Prompt returns a loaded prompt template by name.
func (c *Config) Prompt(name string) (string, bool) {
	p, ok := c.Prompts[name]
	return p, ok
}

// CacheDir returns the configured cache directory or the platform default.
func (c *Config) CacheDir() (string, error) {
	if c.Cache.Dir != "" {
		return c.Cache.Dir, nil
	}
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "gauntlet"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Caches", "gauntlet"), nil
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, "gauntlet", "cache"), nil
		}
		return filepath.Join(home, "AppData", "Local", "gauntlet", "cache"), nil
	default:
		return filepath.Join(home, ".cache", "gauntlet"), nil
	}
}

func hasString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
