package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"llmcouncil/internal/core"
	"llmcouncil/internal/util"

	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"
)

// CouncilConfig is the roster, chairman and timeouts of the council. It is
// loaded once at startup and never changes afterwards.
type CouncilConfig struct {
	Models          []core.ModelSpec
	Chairman        core.ModelSpec
	Timeout         time.Duration
	ChairmanTimeout time.Duration
	PeerReview      bool
}

// modelEntry is a roster entry as written in the council file. It is separate
// from core.ModelSpec so that api_key can be read but never written back out.
type modelEntry struct {
	Name   string `yaml:"name" json:"name"`
	URL    string `yaml:"url" json:"url"`
	APIKey string `yaml:"api_key" json:"api_key"`
}

// councilFile is the on-disk council description. Durations are strings in
// Go syntax ("90s") or plain seconds ("90").
type councilFile struct {
	OllamaURL       string       `yaml:"ollama_url" json:"ollama_url"`
	Timeout         string       `yaml:"timeout" json:"timeout"`
	ChairmanTimeout string       `yaml:"chairman_timeout" json:"chairman_timeout"`
	PeerReview      bool         `yaml:"peer_review" json:"peer_review"`
	Chairman        modelEntry   `yaml:"chairman" json:"chairman"`
	Models          []modelEntry `yaml:"models" json:"models"`
}

// DefaultCouncilConfig returns the built-in council used when no file exists.
func DefaultCouncilConfig() CouncilConfig {
	models := make([]core.ModelSpec, 0, len(core.DefaultCouncilModels))
	for _, name := range core.DefaultCouncilModels {
		models = append(models, core.ModelSpec{Name: name, URL: core.DefaultOllamaURL})
	}
	return CouncilConfig{
		Models:          models,
		Chairman:        core.ModelSpec{Name: core.DefaultChairmanModel, URL: core.DefaultOllamaURL},
		Timeout:         core.DefaultModelTimeout,
		ChairmanTimeout: core.DefaultModelTimeout,
	}
}

// LoadCouncilConfig reads the council file at path and applies environment
// overrides. A missing file yields the default council. YAML is used for
// .yaml and .yml files, JSON for anything else.
func LoadCouncilConfig(path string) (CouncilConfig, error) {
	var file councilFile

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // G304: path from config, not user input
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return CouncilConfig{}, fmt.Errorf("failed to read %s: %w", path, err)
		default:
			if err := decodeCouncilFile(path, data, &file); err != nil {
				return CouncilConfig{}, err
			}
		}
	}

	cfg, err := file.resolve()
	if err != nil {
		return CouncilConfig{}, fmt.Errorf("invalid council config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return CouncilConfig{}, err
	}
	return cfg, nil
}

func decodeCouncilFile(path string, data []byte, file *councilFile) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, file); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		if err := sonic.Unmarshal(data, file); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	return nil
}

// resolve merges defaults, file values and environment overrides, in that
// order of increasing precedence.
func (f councilFile) resolve() (CouncilConfig, error) {
	cfg := DefaultCouncilConfig()
	for i := range cfg.Models {
		cfg.Models[i].URL = ""
	}
	cfg.Chairman.URL = ""

	baseURL := core.DefaultOllamaURL
	if f.OllamaURL != "" {
		baseURL = f.OllamaURL
	}
	baseURL = util.GetEnvWithDefault("OLLAMA_URL", baseURL)

	if len(f.Models) > 0 {
		cfg.Models = make([]core.ModelSpec, 0, len(f.Models))
		for _, entry := range f.Models {
			cfg.Models = append(cfg.Models, entry.spec())
		}
	}
	if names := util.ParseEnvList(os.Getenv("COUNCIL_MODELS")); len(names) > 0 {
		cfg.Models = make([]core.ModelSpec, 0, len(names))
		for _, name := range names {
			cfg.Models = append(cfg.Models, core.ModelSpec{Name: name})
		}
	}

	if f.Chairman.Name != "" {
		cfg.Chairman = f.Chairman.spec()
	}
	if name := os.Getenv("CHAIRMAN_MODEL"); name != "" {
		cfg.Chairman = core.ModelSpec{Name: strings.TrimSpace(name)}
	}

	for i := range cfg.Models {
		if cfg.Models[i].URL == "" {
			cfg.Models[i].URL = baseURL
		}
	}
	if cfg.Chairman.URL == "" {
		cfg.Chairman.URL = baseURL
	}

	if f.Timeout != "" {
		d, err := util.ParseDuration(f.Timeout)
		if err != nil {
			return cfg, fmt.Errorf("timeout: %w", err)
		}
		cfg.Timeout = d
		cfg.ChairmanTimeout = d
	}
	if f.ChairmanTimeout != "" {
		d, err := util.ParseDuration(f.ChairmanTimeout)
		if err != nil {
			return cfg, fmt.Errorf("chairman_timeout: %w", err)
		}
		cfg.ChairmanTimeout = d
	}
	if raw := os.Getenv("MODEL_TIMEOUT"); raw != "" {
		d, err := util.ParseDuration(raw)
		if err != nil {
			return cfg, fmt.Errorf("MODEL_TIMEOUT: %w", err)
		}
		cfg.Timeout = d
		if f.ChairmanTimeout == "" {
			cfg.ChairmanTimeout = d
		}
	}
	cfg.PeerReview = f.PeerReview
	if raw := strings.TrimSpace(os.Getenv("PEER_REVIEW")); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return cfg, fmt.Errorf("PEER_REVIEW: %w", err)
		}
		cfg.PeerReview = enabled
	}
	if raw := os.Getenv("CHAIRMAN_TIMEOUT"); raw != "" {
		d, err := util.ParseDuration(raw)
		if err != nil {
			return cfg, fmt.Errorf("CHAIRMAN_TIMEOUT: %w", err)
		}
		cfg.ChairmanTimeout = d
	}

	return cfg, nil
}

func (e modelEntry) spec() core.ModelSpec {
	return core.ModelSpec{
		Name:   strings.TrimSpace(e.Name),
		URL:    strings.TrimSpace(e.URL),
		APIKey: e.APIKey,
	}
}

// Validate reports configuration errors that would make every round fail.
func (c CouncilConfig) Validate() error {
	if err := core.ValidateRoster(c.Models); err != nil {
		return err
	}
	if err := core.ValidateChairman(c.Chairman); err != nil {
		return err
	}
	if c.Timeout <= 0 || c.ChairmanTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", core.ErrInvalidModel)
	}
	return nil
}

// ModelNames returns the roster names in order.
func (c CouncilConfig) ModelNames() []string {
	names := make([]string, len(c.Models))
	for i, m := range c.Models {
		names[i] = m.Name
	}
	return names
}
