package migrate

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"hzinstall/internal/failure"
)

// DefaultSource is where the legacy monitor kept its settings.
const DefaultSource = "/root/hetzner_monitor/main.py"

// Wanted lists the module-level settings read from a legacy monitor script.
var Wanted = []string{
	"HETZNER_TOKEN",
	"TG_BOT_TOKEN",
	"TG_CHAT_ID",
	"CF_ENABLE",
	"CF_API_TOKEN",
	"NOTIFY_LEVELS",
	"CHECK_INTERVAL",
	"DAILY_REPORT_TIME",
	"SERVERS",
}

// Legacy holds the literal settings assigned at the top level of a legacy
// monitor script.
type Legacy struct {
	// Values maps each wanted name to its value. A later assignment replaces
	// an earlier one.
	Values  map[string]*yaml.Node
	// Skipped explains wanted assignments whose value is not a literal.
	Skipped []string
}

// Get returns the value assigned to name, or nil.
func (l *Legacy) Get(name string) *yaml.Node {
	return l.Values[name]
}

var assignment = regexp.MustCompile(`(?m)^([A-Za-z_][A-Za-z0-9_]*)[ \t]*=`)

// LoadLegacy reads the legacy monitor script at path.
func LoadLegacy(path string) (*Legacy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, failure.Precondition("reading legacy settings", err)
	}
	return ParseLegacy(data), nil
}

// ParseLegacy collects the wanted NAME = <literal> statements of a Python
// module. Nothing is executed. Values built from calls, names or operators
// are reported in Skipped and leave any earlier literal in place.
func ParseLegacy(src []byte) *Legacy {
	wanted := make(map[string]bool, len(Wanted))
	for _, name := range Wanted {
		wanted[name] = true
	}

	l := &Legacy{Values: make(map[string]*yaml.Node)}
	for _, m := range assignment.FindAllSubmatchIndex(src, -1) {
		name := string(src[m[2]:m[3]])
		start := m[1]
		// NAME == value is a comparison.
		if !wanted[name] || (start < len(src) && src[start] == '=') {
			continue
		}

		p := &literalParser{src: src, pos: start}
		v, err := p.value()
		if err == nil {
			err = p.end()
		}
		if err != nil {
			l.Skipped = append(l.Skipped, fmt.Sprintf("%s: not a literal: %v", name, err))
			continue
		}
		l.Values[name] = v
	}
	return l
}
