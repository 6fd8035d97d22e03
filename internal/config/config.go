// Package config provides configuration loading and management for buildmend.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Build      BuildConfig      `json:"build"      mapstructure:"build"`
	Classifier ClassifierConfig `json:"classifier" mapstructure:"classifier"`
	Context    ContextConfig    `json:"context"    mapstructure:"context"`
	Model      ModelConfig      `json:"model"      mapstructure:"model"`
	Embedding  EmbeddingConfig  `json:"embedding"  mapstructure:"embedding"`
	Repair     RepairConfig     `json:"repair"     mapstructure:"repair"`
	Memo       MemoConfig       `json:"memo"       mapstructure:"memo"`
	Retention  RetentionConfig  `json:"retention"  mapstructure:"retention"`
}

// BuildConfig describes how the compiler is invoked.
type BuildConfig struct {
	Compiler string   `json:"compiler"          mapstructure:"compiler"`
	Sources  []string `json:"sources"           mapstructure:"sources"`
	Output   string   `json:"output,omitempty"  mapstructure:"output"`
	Flags    []string `json:"flags,omitempty"   mapstructure:"flags"`
	Dir      string   `json:"dir,omitempty"     mapstructure:"dir"`
	Command  string   `json:"command,omitempty" mapstructure:"command"`
}

// ClassifierConfig bounds diagnostic parsing.
type ClassifierConfig struct {
	MaxIssues int `json:"max_issues" mapstructure:"max_issues"`
}

// ContextConfig controls source excerpts handed to the model.
type ContextConfig struct {
	Window      int `json:"window"       mapstructure:"window"`
	HeaderLines int `json:"header_lines" mapstructure:"header_lines"`
	RelatedK    int `json:"related_k"    mapstructure:"related_k"`
}

// ModelConfig selects and tunes the completion backend.
type ModelConfig struct {
	Provider               string        `json:"provider"                mapstructure:"provider"`
	Name                   string        `json:"name"                    mapstructure:"name"`
	BaseURL                string        `json:"base_url,omitempty"      mapstructure:"base_url"`
	APIKey                 string        `json:"api_key,omitempty"       mapstructure:"api_key"`
	APIKeyEnv              string        `json:"api_key_env,omitempty"   mapstructure:"api_key_env"`
	Timeout                time.Duration `json:"timeout"                 mapstructure:"timeout"`
	MaxOutputTokens        int           `json:"max_output_tokens"       mapstructure:"max_output_tokens"`
	Stop                   []string      `json:"stop,omitempty"          mapstructure:"stop"`
	ReasoningTemperature   float64       `json:"reasoning_temperature"   mapstructure:"reasoning_temperature"`
	StructuringTemperature float64       `json:"structuring_temperature" mapstructure:"structuring_temperature"`
}

// EmbeddingConfig selects the embedding backend used by the similarity index.
type EmbeddingConfig struct {
	Provider   string   `json:"provider"              mapstructure:"provider"`
	Name       string   `json:"name,omitempty"        mapstructure:"name"`
	BaseURL    string   `json:"base_url,omitempty"    mapstructure:"base_url"`
	APIKeyEnv  string   `json:"api_key_env,omitempty" mapstructure:"api_key_env"`
	ChunkLines int      `json:"chunk_lines"           mapstructure:"chunk_lines"`
	Extensions []string `json:"extensions,omitempty"  mapstructure:"extensions"`
}

// RepairConfig holds the controller policy.
type RepairConfig struct {
	MaxRetries          int      `json:"max_retries"             mapstructure:"max_retries"`
	RegressionThreshold int      `json:"regression_threshold"    mapstructure:"regression_threshold"`
	Ignore              []string `json:"ignore,omitempty"        mapstructure:"ignore"`
	BranchPrefix        string   `json:"branch_prefix,omitempty" mapstructure:"branch_prefix"`
	Baseline            string   `json:"baseline,omitempty"      mapstructure:"baseline"`
}

// MemoConfig controls the issue to fix cache.
type MemoConfig struct {
	Enabled bool   `json:"enabled"        mapstructure:"enabled"`
	Path    string `json:"path,omitempty" mapstructure:"path"`
}

// RetentionConfig bounds how many past sessions are kept on disk.
type RetentionConfig struct {
	KeepLast int `json:"keep_last" mapstructure:"keep_last"`
	KeepDays int `json:"keep_days" mapstructure:"keep_days"`
}

// Default returns the configuration used when a key is not set.
func Default() Config {
	return Config{
		Build: BuildConfig{
			Compiler: "gcc",
			Output:   "a.out",
			Flags:    []string{"-Wall"},
		},
		Classifier: ClassifierConfig{MaxIssues: 200},
		Context: ContextConfig{
			Window:      5,
			HeaderLines: 5,
			RelatedK:    2,
		},
		Model: ModelConfig{
			Provider:               "ollama",
			Name:                   "qwen2.5-coder:7b",
			BaseURL:                "http://localhost:11434",
			Timeout:                180 * time.Second,
			MaxOutputTokens:        1024,
			Stop:                   []string{"User:", "System:"},
			ReasoningTemperature:   0.3,
			StructuringTemperature: 0.0,
		},
		Embedding: EmbeddingConfig{
			Provider:   "none",
			ChunkLines: 50,
			Extensions: []string{".c", ".h", ".cpp", ".hpp"},
		},
		Repair: RepairConfig{
			MaxRetries:          4,
			RegressionThreshold: 20,
			Ignore:              []string{".buildmend/", "__pycache__", "logs/", ".pyc"},
			BranchPrefix:        "ai-fix-",
		},
		Memo:      MemoConfig{Enabled: true},
		Retention: RetentionConfig{KeepLast: 50, KeepDays: 30},
	}
}

// Validate checks cross-field constraints that the schema cannot express.
func (c Config) Validate() error {
	if c.Repair.MaxRetries <= 0 {
		return fmt.Errorf("repair.max_retries must be > 0")
	}
	if c.Repair.RegressionThreshold <= 0 {
		return fmt.Errorf("repair.regression_threshold must be > 0")
	}
	if c.Classifier.MaxIssues <= 0 {
		return fmt.Errorf("classifier.max_issues must be > 0")
	}
	if c.Model.Timeout <= 0 {
		return fmt.Errorf("model.timeout must be > 0")
	}
	return nil
}

// Validate reports whether a compiler invocation can be constructed.
func (b BuildConfig) Validate() error {
	if b.Command == "" && (b.Compiler == "" || len(b.Sources) == 0) {
		return fmt.Errorf("build requires either command or compiler with sources")
	}
	return nil
}
