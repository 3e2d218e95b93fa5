// Package config assembles the installer configuration once at startup.
//
// Values are resolved by viper with the precedence flag > environment >
// hzinstall.yaml > default. Commands apply positional arguments on top.
// Nothing below cmd/ reads the environment; components receive a *Config.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"hzinstall/internal/monitorcfg"
	"hzinstall/internal/reposync"
	"hzinstall/internal/security"
	"hzinstall/pkg/fileutil"
)

// FileName is the optional config file searched in fileutil.DefaultConfigPaths.
const FileName = "hzinstall.yaml"

const (
	DefaultInstallDir = "/opt/hetzner-web"
	DefaultBranch     = "main"
	DefaultListen     = ":8090"
	DefaultDBPath     = "/var/lib/hzinstall/history.db"
)

// Config holds all installer configuration.
type Config struct {
	RepoURL       string `mapstructure:"repo_url" yaml:"repo_url"`
	Branch        string `mapstructure:"branch" yaml:"branch"`
	InstallDir    string `mapstructure:"install_dir" yaml:"install_dir"`
	SyncStrategy  string `mapstructure:"sync_strategy" yaml:"sync_strategy"`
	MapDuplicates string `mapstructure:"map_duplicates" yaml:"map_duplicates"`

	// Monitor overrides consumed by monitorcfg.Generate.
	Monitor monitorcfg.Env `mapstructure:",squash" yaml:",inline"`

	WithAutomation bool   `mapstructure:"with_automation" yaml:"with_automation"`
	Backup         bool   `mapstructure:"backup" yaml:"backup"`
	LogFile        string `mapstructure:"log_file" yaml:"log_file"`
	DBPath         string `mapstructure:"db_path" yaml:"db_path"`
	Verbose        bool   `mapstructure:"verbose" yaml:"verbose"`

	// Webhook receiver and registration.
	Listen        string `mapstructure:"listen" yaml:"listen"`
	ServerLog     string `mapstructure:"server_log" yaml:"server_log"`
	WebhookSecret string `mapstructure:"webhook_secret" yaml:"webhook_secret"`
	WebhookURL    string `mapstructure:"webhook_url" yaml:"webhook_url"`
	GitHubToken   string `mapstructure:"github_token" yaml:"github_token"`
}

// envBindings maps config keys to the environment variables that set them.
// When a key lists several variables the first one set wins.
var envBindings = map[string][]string{
	"repo_url":       {"REPO_URL"},
	"branch":         {"BRANCH"},
	"install_dir":    {"INSTALL_DIR"},
	"sync_strategy":  {"SYNC_STRATEGY"},
	"map_duplicates": {"MAP_DUPLICATES"},

	"hetzner_api_token":  {"HETZNER_API_TOKEN"},
	"limit_gb":           {"LIMIT_GB"},
	"check_interval":     {"CHECK_INTERVAL"},
	"exceed_action":      {"EXCEED_ACTION"},
	"telegram_bot_token": {"TELEGRAM_BOT_TOKEN"},
	"telegram_chat_id":   {"TELEGRAM_CHAT_ID"},
	"cf_api_token":       {"CF_API_TOKEN"},
	"cf_zone_id":         {"CF_ZONE_ID"},
	"cf_record_map":      {"CF_RECORD_MAP"},
	"server_type":        {"SERVER_TYPE"},
	"location":           {"LOCATION"},
	"snapshot_map":       {"SNAPSHOT_MAP"},

	"log_file":       {"HZINSTALL_LOG_FILE"},
	"db_path":        {"HZINSTALL_DB"},
	"listen":         {"HZINSTALL_LISTEN"},
	"server_log":     {"HZINSTALL_SERVER_LOG"},
	"webhook_secret": {"WEBHOOK_SECRET"},
	"webhook_url":    {"WEBHOOK_URL"},
	"github_token":   {"GITHUB_TOKEN", "GH_TOKEN"},
}

// EnvVars returns every recognized environment variable, sorted by config key.
func EnvVars() []string {
	keys := make([]string, 0, len(envBindings))
	for k := range envBindings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	for _, k := range keys {
		out = append(out, envBindings[k]...)
	}
	return out
}

// LoadOptions controls where Load looks.
type LoadOptions struct {
	// ConfigFile is an explicit file path; it must exist when set.
	ConfigFile string
	// SearchPaths replaces fileutil.DefaultConfigPaths(FileName) when set.
	SearchPaths []string
	// Flags are bound by their names with '-' replaced by '_'.
	Flags *pflag.FlagSet
}

// Load resolves the configuration. It returns the config file used, if any.
func Load(opts LoadOptions) (*Config, string, error) {
	v := viper.New()

	v.SetDefault("branch", DefaultBranch)
	v.SetDefault("install_dir", DefaultInstallDir)
	v.SetDefault("sync_strategy", string(reposync.StrategyReset))
	v.SetDefault("map_duplicates", string(monitorcfg.DuplicatesReject))
	v.SetDefault("listen", DefaultListen)
	v.SetDefault("db_path", DefaultDBPath)

	for key, names := range envBindings {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, "", fmt.Errorf("binding environment for %s: %w", key, err)
		}
	}

	if opts.Flags != nil {
		var bindErr error
		opts.Flags.VisitAll(func(f *pflag.Flag) {
			if bindErr != nil {
				return
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			bindErr = v.BindPFlag(key, f)
		})
		if bindErr != nil {
			return nil, "", fmt.Errorf("binding flags: %w", bindErr)
		}
	}

	path := opts.ConfigFile
	if path == "" {
		search := opts.SearchPaths
		if search == nil {
			search = fileutil.DefaultConfigPaths(FileName)
		}
		path = fileutil.SearchPathsOptional(search)
	} else if !fileutil.FileExists(path) {
		return nil, "", fmt.Errorf("config file not found: %s", path)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, "", fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, path, nil
}

// Validate checks the values every command depends on.
func (c *Config) Validate() error {
	var errs []error

	if c.InstallDir == "" {
		errs = append(errs, errors.New("install directory cannot be empty"))
	}
	if err := security.ValidateBranchName(c.Branch); err != nil {
		errs = append(errs, fmt.Errorf("branch: %w", err))
	}
	if c.RepoURL != "" {
		if err := security.ValidateRepoURL(c.RepoURL); err != nil {
			errs = append(errs, fmt.Errorf("repo url: %w", err))
		}
	}
	if _, err := reposync.ParseStrategy(c.SyncStrategy); err != nil {
		errs = append(errs, err)
	}
	if _, err := monitorcfg.ParseDuplicatePolicy(c.MapDuplicates); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ResolveInstallDir makes InstallDir absolute so stages and history records
// agree on one path.
func (c *Config) ResolveInstallDir() error {
	abs, err := filepath.Abs(c.InstallDir)
	if err != nil {
		return fmt.Errorf("resolving install directory: %w", err)
	}
	c.InstallDir = abs
	return nil
}

// Strategy returns the parsed sync strategy. Call Validate first.
func (c *Config) Strategy() reposync.Strategy {
	s, _ := reposync.ParseStrategy(c.SyncStrategy)
	return s
}

// Duplicates returns the parsed map duplicate policy. Call Validate first.
func (c *Config) Duplicates() monitorcfg.DuplicatePolicy {
	p, _ := monitorcfg.ParseDuplicatePolicy(c.MapDuplicates)
	return p
}

// Secrets returns values that must never appear in logs.
func (c *Config) Secrets() []string {
	secrets := c.Monitor.Secrets()
	for _, s := range []string{c.WebhookSecret, c.GitHubToken} {
		if s != "" {
			secrets = append(secrets, s)
		}
	}
	return secrets
}
