// Package migrate merges the settings of the legacy single-script monitor
// (module-level constants in its main.py) into the monitor's config.yaml.
//
// Only keys the legacy script sets are touched; the rest of the document,
// comments included, is kept. A few values are forced: the traffic exceed
// action becomes "rebuild" and Telegram notifications are enabled.
package migrate

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"hzinstall/internal/failure"
	"hzinstall/internal/monitorcfg"
	"hzinstall/pkg/fileutil"
)

// ExampleFile is the packaged configuration used as the base when the
// destination does not exist yet.
const ExampleFile = "config.example.yaml"

// Options selects the files a migration reads and writes.
type Options struct {
	// Source is the legacy monitor script.
	Source string
	// Dest is the config.yaml to update.
	Dest string
	// Example is the base document when Dest is missing. Empty means
	// config.example.yaml next to Dest.
	Example string
}

// Result describes a completed migration.
type Result struct {
	Dest string
	// Base is the file the merged document started from, empty if none existed.
	Base string
	// Backup is where the previous Dest was copied, empty if there was none.
	Backup string
	// Applied lists the dotted keys that were set, in order.
	Applied []string
	// Skipped explains legacy values that were ignored.
	Skipped []string
}

// Run merges opts.Source into opts.Dest. An existing destination is backed up
// as <dest>.bak.<timestamp> before it is replaced.
func Run(opts Options) (*Result, error) {
	const op = "migrating legacy settings"

	if opts.Source == "" || opts.Dest == "" {
		return nil, failure.Precondition(op, errors.New("source and destination are required"))
	}
	if opts.Example == "" {
		opts.Example = filepath.Join(filepath.Dir(opts.Dest), ExampleFile)
	}

	legacy, err := LoadLegacy(opts.Source)
	if err != nil {
		return nil, err
	}

	res := &Result{Dest: opts.Dest}
	for _, candidate := range []string{opts.Dest, opts.Example} {
		if fileutil.FileExists(candidate) {
			res.Base = candidate
			break
		}
	}

	doc, err := loadDocument(res.Base)
	if err != nil {
		return nil, err
	}

	applied, skipped := Apply(doc, legacy)
	res.Applied = applied
	res.Skipped = append(append([]string(nil), legacy.Skipped...), skipped...)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, failure.ExternalOperation(op, fmt.Errorf("failed to encode %s: %w", opts.Dest, err))
	}
	if err := enc.Close(); err != nil {
		return nil, failure.ExternalOperation(op, err)
	}

	backup, err := monitorcfg.WriteFile(opts.Dest, buf.Bytes(), true)
	if err != nil {
		return nil, err
	}
	res.Backup = backup

	return res, nil
}

// loadDocument parses path as YAML. A missing path or an empty file gives an
// empty mapping.
func loadDocument(path string) (*yaml.Node, error) {
	const op = "loading monitor config"

	doc := &yaml.Node{Kind: yaml.DocumentNode}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, failure.ExternalOperation(op, err)
		}
		if err := yaml.Unmarshal(data, doc); err != nil {
			return nil, failure.StateConflict(op, fmt.Errorf("%s: %w", path, err))
		}
	}

	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		doc = &yaml.Node{Kind: yaml.DocumentNode}
		doc.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}
	if doc.Content[0].Kind != yaml.MappingNode {
		return nil, failure.StateConflict(op, fmt.Errorf("%s: top level is not a mapping", path))
	}
	return doc, nil
}

// Apply sets the values legacy carries on doc, a document or mapping node.
// It returns the dotted keys it set and the values it had to skip.
func Apply(doc *yaml.Node, legacy *Legacy) (applied, skipped []string) {
	root := doc
	if root.Kind == yaml.DocumentNode {
		root = root.Content[0]
	}

	set := func(section *yaml.Node, path, key string, value *yaml.Node) {
		setKey(section, key, value)
		applied = append(applied, path+"."+key)
	}

	hetzner := mapping(root, "hetzner")
	if v := legacy.Get("HETZNER_TOKEN"); truthy(v) {
		set(hetzner, "hetzner", "api_token", clone(v))
	}

	var servers []*yaml.Node
	if v := legacy.Get("SERVERS"); truthy(v) {
		if v.Kind == yaml.SequenceNode {
			for i, server := range v.Content {
				if server.Kind != yaml.MappingNode {
					skipped = append(skipped, fmt.Sprintf("SERVERS[%d]: not a dict", i))
					continue
				}
				servers = append(servers, server)
			}
		} else {
			skipped = append(skipped, "SERVERS: not a list")
		}
	}

	// The monitor enforces one limit, so the largest per-server limit wins.
	traffic := mapping(root, "traffic")
	var limitTB float64
	for _, server := range servers {
		v := lookup(server, "limit_tb")
		if !truthy(v) {
			continue
		}
		tb, err := toFloat(v)
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("SERVERS %s: limit_tb is not a number: %q", pyStr(lookup(server, "name")), v.Value))
			continue
		}
		limitTB = math.Max(limitTB, tb)
	}
	if limitTB > 0 {
		set(traffic, "traffic", "limit_gb", integer(int(limitTB*1024)))
	}
	if v := legacy.Get("CHECK_INTERVAL"); truthy(v) {
		seconds, err := toFloat(v)
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("CHECK_INTERVAL: not a number: %q", v.Value))
		} else {
			set(traffic, "traffic", "check_interval", integer(IntervalMinutes(seconds)))
		}
	}
	set(traffic, "traffic", "exceed_action", str("rebuild"))

	telegram := mapping(root, "telegram")
	set(telegram, "telegram", "enabled", boolean(true))
	if v := legacy.Get("TG_BOT_TOKEN"); truthy(v) {
		set(telegram, "telegram", "bot_token", clone(v))
	}
	if v := legacy.Get("TG_CHAT_ID"); truthy(v) {
		set(telegram, "telegram", "chat_id", str(pyStr(v)))
	}
	if v := legacy.Get("NOTIFY_LEVELS"); truthy(v) {
		levels := clone(v)
		if levels.Kind == yaml.SequenceNode {
			levels.Style = yaml.FlowStyle
		}
		set(telegram, "telegram", "notify_levels", levels)
	}
	if v := legacy.Get("DAILY_REPORT_TIME"); truthy(v) {
		set(telegram, "telegram", "daily_report_time", clone(v))
	}

	cloudflare := mapping(root, "cloudflare")
	if v := legacy.Get("CF_API_TOKEN"); truthy(v) {
		set(cloudflare, "cloudflare", "api_token", clone(v))
	}
	set(cloudflare, "cloudflare", "sync_on_start", boolean(truthy(legacy.Get("CF_ENABLE"))))

	// Each server with a DNS record gets its own entry; the first zone
	// becomes the default unless one is configured already.
	recordMap := mapping(cloudflare, "record_map")
	token := lookup(cloudflare, "api_token")
	if token == nil {
		token = null()
	}
	zone := lookup(cloudflare, "zone_id")
	if !truthy(zone) {
		zone = nil
	}
	for _, server := range servers {
		name, record, zoneID := lookup(server, "name"), lookup(server, "cf_domain"), lookup(server, "cf_zone_id")
		if !truthy(name) || !truthy(record) || !truthy(zoneID) {
			continue
		}
		entry := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		setKey(entry, "record", clone(record))
		setKey(entry, "zone_id", clone(zoneID))
		setKey(entry, "api_token", clone(token))
		set(recordMap, "cloudflare.record_map", pyStr(name), entry)
		if zone == nil {
			zone = zoneID
		}
	}
	if zone != nil {
		set(cloudflare, "cloudflare", "zone_id", clone(zone))
	}

	rebuild := mapping(root, "rebuild")
	snapshots := mapping(rebuild, "snapshot_id_map")
	for _, server := range servers {
		name, snapshot := lookup(server, "name"), lookup(server, "snapshot_id")
		if truthy(name) && truthy(snapshot) {
			set(snapshots, "rebuild.snapshot_id_map", pyStr(name), clone(snapshot))
		}
	}

	return applied, skipped
}

// IntervalMinutes converts a legacy check interval in seconds to whole
// minutes, rounding half to even, never below one.
func IntervalMinutes(seconds float64) int {
	minutes := int(math.RoundToEven(seconds / 60))
	if minutes < 1 {
		return 1
	}
	return minutes
}

// truthy follows Python truthiness for a literal; nil is false.
func truthy(n *yaml.Node) bool {
	if n == nil {
		return false
	}
	switch n.Kind {
	case yaml.SequenceNode, yaml.MappingNode:
		return len(n.Content) > 0
	}
	switch n.Tag {
	case "!!null":
		return false
	case "!!bool":
		return n.Value == "true"
	case "!!int", "!!float":
		f, err := strconv.ParseFloat(n.Value, 64)
		return err != nil || f != 0
	}
	return n.Value != ""
}

// toFloat converts a scalar literal the way Python's float() does.
func toFloat(n *yaml.Node) (float64, error) {
	if n == nil || n.Kind != yaml.ScalarNode || n.Tag == "!!null" {
		return 0, errors.New("not a number")
	}
	if n.Tag == "!!bool" {
		if n.Value == "true" {
			return 1, nil
		}
		return 0, nil
	}
	return strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(n.Value), "_", ""), 64)
}

// pyStr renders a scalar literal the way Python's str() does.
func pyStr(n *yaml.Node) string {
	if n == nil {
		return "None"
	}
	switch n.Tag {
	case "!!null":
		return "None"
	case "!!bool":
		if n.Value == "true" {
			return "True"
		}
		return "False"
	}
	return n.Value
}

func clone(n *yaml.Node) *yaml.Node {
	c := *n
	c.Content = make([]*yaml.Node, len(n.Content))
	for i, child := range n.Content {
		c.Content[i] = clone(child)
	}
	return &c
}

// mapping returns the mapping under key in m, replacing a value of any other
// kind and appending the key if absent.
func mapping(m *yaml.Node, key string) *yaml.Node {
	if v := lookup(m, key); v != nil {
		if v.Kind != yaml.MappingNode {
			*v = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", HeadComment: v.HeadComment, LineComment: v.LineComment}
		}
		return v
	}
	v := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, v)
	return v
}

// setKey replaces the value of key in m, keeping its comments.
func setKey(m *yaml.Node, key string, value *yaml.Node) {
	if v := lookup(m, key); v != nil {
		value.LineComment = v.LineComment
		value.HeadComment = v.HeadComment
		value.FootComment = v.FootComment
		*v = *value
		return
	}
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, value)
}

func lookup(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func str(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func integer(v int) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(v)}
}

func boolean(v bool) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(v)}
}
