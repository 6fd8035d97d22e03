package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. BUILDMEND_REPAIR_MAX_RETRIES.
const EnvPrefix = "BUILDMEND"

// Load reads the config file at path (when it exists), validates it against
// the schema, then layers it over defaults with environment overrides on top.
func Load(v *viper.Viper, path string) (Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		settings, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		if settings != nil {
			if err := ValidateSettings(settings); err != nil {
				return Config{}, err
			}
			if err := v.MergeConfigMap(settings); err != nil {
				return Config{}, fmt.Errorf("merge config: %w", err)
			}
		}
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// readFile returns the raw settings of the config file, or nil when it does
// not exist.
func readFile(path string) (map[string]any, error) {
	fv := viper.New()
	fv.SetConfigFile(path)
	if err := fv.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return fv.AllSettings(), nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("build.compiler", d.Build.Compiler)
	v.SetDefault("build.output", d.Build.Output)
	v.SetDefault("build.flags", d.Build.Flags)
	v.SetDefault("classifier.max_issues", d.Classifier.MaxIssues)
	v.SetDefault("context.window", d.Context.Window)
	v.SetDefault("context.header_lines", d.Context.HeaderLines)
	v.SetDefault("context.related_k", d.Context.RelatedK)
	v.SetDefault("model.provider", d.Model.Provider)
	v.SetDefault("model.name", d.Model.Name)
	v.SetDefault("model.base_url", d.Model.BaseURL)
	v.SetDefault("model.timeout", d.Model.Timeout.String())
	v.SetDefault("model.max_output_tokens", d.Model.MaxOutputTokens)
	v.SetDefault("model.stop", d.Model.Stop)
	v.SetDefault("model.reasoning_temperature", d.Model.ReasoningTemperature)
	v.SetDefault("model.structuring_temperature", d.Model.StructuringTemperature)
	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.chunk_lines", d.Embedding.ChunkLines)
	v.SetDefault("embedding.extensions", d.Embedding.Extensions)
	v.SetDefault("repair.max_retries", d.Repair.MaxRetries)
	v.SetDefault("repair.regression_threshold", d.Repair.RegressionThreshold)
	v.SetDefault("repair.ignore", d.Repair.Ignore)
	v.SetDefault("repair.branch_prefix", d.Repair.BranchPrefix)
	v.SetDefault("memo.enabled", d.Memo.Enabled)
	v.SetDefault("retention.keep_last", d.Retention.KeepLast)
	v.SetDefault("retention.keep_days", d.Retention.KeepDays)
}

// secondsToDurationHook lets plain numbers in YAML mean seconds.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != durationType || from == durationType {
			return data, nil
		}
		switch n := data.(type) {
		case int:
			return time.Duration(n) * time.Second, nil
		case int64:
			return time.Duration(n) * time.Second, nil
		case float64:
			return time.Duration(n * float64(time.Second)), nil
		}
		return data, nil
	}
}
