// Package monitorcfg synthesizes the monitor's config.yaml from environment overrides.
//
// Generation is all-or-nothing: without HETZNER_API_TOKEN nothing is generated and
// the packaged example is used instead (see package bootstrap). With the token set,
// every field falls back to a default so the document is always complete.
//
// Write always overwrites its target. This is the opposite of bootstrap.Ensure,
// which never touches an existing file.
package monitorcfg

import (
	"embed"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"hzinstall/internal/failure"
	"hzinstall/internal/mapenc"
	"hzinstall/internal/security"
	"hzinstall/pkg/fileutil"
	"hzinstall/pkg/templates"
)

//go:embed templates/*.template
var embedded embed.FS

// TemplateName is the registry name of the config document template.
const TemplateName = "monitor-config"

// Defaults applied when the corresponding variable is unset.
const (
	DefaultLimitGB       = 18000
	DefaultCheckInterval = 5
	DefaultExceedAction  = "delete_rebuild"
	DefaultServerType    = "cx43"
	DefaultLocation      = "nbg1"

	DefaultSMTPServer = "smtp.gmail.com"
	DefaultSMTPPort   = 587
	DefaultLogLevel   = "INFO"
	DefaultLogFile    = "hetzner_monitor.log"
	DefaultLogMaxSize = 10 * 1024 * 1024
	DefaultLogBackups = 5
	DefaultNamePrefix = "auto-"
)

// Placeholder pairs keep map sections non-empty when no mapping is given.
const (
	placeholderKey      = "123456"
	placeholderRecord   = "server1.example.com"
	placeholderSnapshot = "987654321"
)

// Sections lists the top-level keys of a rendered document in order.
var Sections = []string{
	"hetzner",
	"traffic",
	"scheduler",
	"telegram",
	"cloudflare",
	"notifications",
	"logging",
	"whitelist",
	"server_template",
	"snapshot_map",
}

// Env is the snapshot of variables the generator reads. Empty means unset.
type Env struct {
	HetznerAPIToken  string `mapstructure:"hetzner_api_token" yaml:"hetzner_api_token"`
	LimitGB          string `mapstructure:"limit_gb" yaml:"limit_gb"`
	CheckInterval    string `mapstructure:"check_interval" yaml:"check_interval"`
	ExceedAction     string `mapstructure:"exceed_action" yaml:"exceed_action"`
	TelegramBotToken string `mapstructure:"telegram_bot_token" yaml:"telegram_bot_token"`
	TelegramChatID   string `mapstructure:"telegram_chat_id" yaml:"telegram_chat_id"`
	CFAPIToken       string `mapstructure:"cf_api_token" yaml:"cf_api_token"`
	CFZoneID         string `mapstructure:"cf_zone_id" yaml:"cf_zone_id"`
	CFRecordMap      string `mapstructure:"cf_record_map" yaml:"cf_record_map"`
	ServerType       string `mapstructure:"server_type" yaml:"server_type"`
	Location         string `mapstructure:"location" yaml:"location"`
	SnapshotMap      string `mapstructure:"snapshot_map" yaml:"snapshot_map"`
}

// Secrets returns the credential values set in env, for redacting logs.
func (e Env) Secrets() []string {
	var out []string
	for _, s := range []string{e.HetznerAPIToken, e.TelegramBotToken, e.CFAPIToken} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// DuplicatePolicy decides what happens when a map variable repeats a key.
type DuplicatePolicy string

const (
	// DuplicatesReject fails generation and names the repeated keys.
	DuplicatesReject DuplicatePolicy = "reject"
	// DuplicatesKeep emits every pair verbatim in input order.
	DuplicatesKeep DuplicatePolicy = "keep"
)

// ParseDuplicatePolicy parses a policy name. Empty selects DuplicatesReject.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(s) {
	case "", DuplicatesReject:
		return DuplicatesReject, nil
	case DuplicatesKeep:
		return DuplicatesKeep, nil
	default:
		return "", fmt.Errorf("invalid duplicate policy %q (want %q or %q)", s, DuplicatesReject, DuplicatesKeep)
	}
}

// Options tunes generation.
type Options struct {
	Duplicates DuplicatePolicy
}

type Hetzner struct {
	APIToken string
}

type Traffic struct {
	LimitGB             int
	CheckInterval       int
	ExceedAction        string
	ConfirmBeforeDelete bool
	WarningThresholds   []int
}

type Scheduler struct {
	Enabled bool
}

type Telegram struct {
	Enabled  bool
	BotToken string
	ChatID   string
	NotifyOn []string
}

type Cloudflare struct {
	APIToken  string
	ZoneID    string
	RecordMap []mapenc.Pair
}

// Email is the notifications.email section. It is scaffolding only and
// always generated disabled.
type Email struct {
	Enabled    bool
	SMTPServer string
	SMTPPort   int
	From       string
	To         string
	Password   string
}

type Logging struct {
	Level       string
	File        string
	MaxSize     int64
	BackupCount int
}

type ServerTemplate struct {
	ServerType      string
	Location        string
	NamePrefix      string
	UseOriginalName bool
}

// Document is the full monitor configuration in rendering order.
type Document struct {
	Hetzner        Hetzner
	Traffic        Traffic
	Scheduler      Scheduler
	Telegram       Telegram
	Cloudflare     Cloudflare
	Email          Email
	Logging        Logging
	ServerTemplate ServerTemplate
	SnapshotMap    []mapenc.Pair
}

// Generate builds the document for env. It returns ok=false, and no document,
// when HETZNER_API_TOKEN is unset: the caller should fall back to the example file.
func Generate(env Env, opts Options) (*Document, bool, error) {
	if env.HetznerAPIToken == "" {
		return nil, false, nil
	}

	const op = "generating monitor config"

	limitGB, err := intOr("LIMIT_GB", env.LimitGB, DefaultLimitGB)
	if err != nil {
		return nil, false, failure.Precondition(op, err)
	}
	checkInterval, err := intOr("CHECK_INTERVAL", env.CheckInterval, DefaultCheckInterval)
	if err != nil {
		return nil, false, failure.Precondition(op, err)
	}

	recordMap, err := mapOr("CF_RECORD_MAP", env.CFRecordMap, mapenc.Pair{Key: placeholderKey, Value: placeholderRecord}, opts)
	if err != nil {
		return nil, false, failure.Precondition(op, err)
	}
	snapshotMap, err := mapOr("SNAPSHOT_MAP", env.SnapshotMap, mapenc.Pair{Key: placeholderKey, Value: placeholderSnapshot}, opts)
	if err != nil {
		return nil, false, failure.Precondition(op, err)
	}

	doc := &Document{
		Hetzner: Hetzner{APIToken: env.HetznerAPIToken},
		Traffic: Traffic{
			LimitGB:             limitGB,
			CheckInterval:       checkInterval,
			ExceedAction:        stringOr(env.ExceedAction, DefaultExceedAction),
			ConfirmBeforeDelete: false,
			WarningThresholds:   []int{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
		Scheduler: Scheduler{Enabled: false},
		Telegram: Telegram{
			Enabled:  true,
			BotToken: env.TelegramBotToken,
			ChatID:   env.TelegramChatID,
			NotifyOn: []string{"traffic_warning", "traffic_exceeded", "server_rebuilt"},
		},
		Cloudflare: Cloudflare{
			APIToken:  env.CFAPIToken,
			ZoneID:    env.CFZoneID,
			RecordMap: recordMap,
		},
		Email: Email{
			Enabled:    false,
			SMTPServer: DefaultSMTPServer,
			SMTPPort:   DefaultSMTPPort,
		},
		Logging: Logging{
			Level:       DefaultLogLevel,
			File:        DefaultLogFile,
			MaxSize:     DefaultLogMaxSize,
			BackupCount: DefaultLogBackups,
		},
		ServerTemplate: ServerTemplate{
			ServerType:      stringOr(env.ServerType, DefaultServerType),
			Location:        stringOr(env.Location, DefaultLocation),
			NamePrefix:      DefaultNamePrefix,
			UseOriginalName: true,
		},
		SnapshotMap: snapshotMap,
	}
	return doc, true, nil
}

func stringOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func intOr(name, v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", name, v)
	}
	return n, nil
}

func mapOr(name, raw string, placeholder mapenc.Pair, opts Options) ([]mapenc.Pair, error) {
	pairs := mapenc.Parse(raw)
	if len(pairs) == 0 {
		return []mapenc.Pair{placeholder}, nil
	}
	if opts.Duplicates != DuplicatesKeep {
		if dups := mapenc.Duplicates(pairs); len(dups) > 0 {
			return nil, fmt.Errorf("%s repeats keys: %s", name, strings.Join(dups, ", "))
		}
	}
	return pairs, nil
}

// Templates returns a registry over the embedded templates. Files in
// searchDirs (or templates.DefaultSearchDirs) override them.
func Templates(searchDirs ...string) *templates.Registry {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		panic(err)
	}
	return templates.New(sub, searchDirs...)
}

type view struct {
	*Document
	RecordMapLines   []string
	SnapshotMapLines []string
}

// Render renders doc with the default template registry.
func Render(doc *Document) ([]byte, error) {
	return RenderWith(Templates(), doc)
}

// RenderWith renders doc using reg's monitor-config template.
func RenderWith(reg *templates.Registry, doc *Document) ([]byte, error) {
	out, err := reg.RenderWithGoTemplate(TemplateName, view{
		Document:         doc,
		RecordMapLines:   mapenc.Lines(doc.Cloudflare.RecordMap, "    "),
		SnapshotMapLines: mapenc.Lines(doc.SnapshotMap, "  "),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render monitor config: %w", err)
	}
	return []byte(out), nil
}

var now = time.Now

// BackupPath returns the name a backup of path taken at t would get.
func BackupPath(path string, t time.Time) string {
	return path + ".bak." + t.Format("20060102150405")
}

// Write renders doc and writes it to path, replacing any existing content.
// With backup set and path present, the prior file is first copied aside;
// the backup's path is returned.
func Write(path string, doc *Document, backup bool) (string, error) {
	content, err := Render(doc)
	if err != nil {
		return "", err
	}
	return WriteFile(path, content, backup)
}

// WriteFile writes rendered content to path with the same overwrite and
// backup rules as Write.
func WriteFile(path string, content []byte, backup bool) (string, error) {
	const op = "writing monitor config"

	var backupPath string
	if backup && fileutil.FileExists(path) {
		backupPath = BackupPath(path, now())
		if err := fileutil.CopyFile(path, backupPath); err != nil {
			return "", failure.ExternalOperation(op, err)
		}
	}

	f, err := security.CreateSecureFile(path, security.PermConfigFile)
	if err != nil {
		return "", failure.ExternalOperation(op, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return "", failure.ExternalOperation(op, fmt.Errorf("failed to write %s: %w", path, err))
	}
	if err := f.Close(); err != nil {
		return "", failure.ExternalOperation(op, err)
	}
	return backupPath, nil
}
