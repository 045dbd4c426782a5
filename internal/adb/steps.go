package adb

import (
	"fmt"
	"sort"
	"strings"
)

// Step is one unit of work executed against a device. The three variants
// match the automation channel's action kinds: raw shell commands,
// broadcast intents to the controlled app, and shared-preference rewrites
// applied before launch.
type Step interface {
	// shellCommand renders the step as the shell command executed via
	// `adb -s <device> shell`.
	shellCommand() string
}

// RenderStep returns the shell command a step would execute, for
// logging and inspection outside this package.
func RenderStep(s Step) string {
	return s.shellCommand()
}

// ShellStep runs a raw shell command on the device.
type ShellStep struct {
	Command string
}

func (s ShellStep) shellCommand() string {
	return s.Command
}

// BroadcastStep sends a broadcast intent to the controlled application.
//
// Extras are rendered as string extras (--es key value), sorted by key so
// the command line is deterministic.
type BroadcastStep struct {
	Action  string
	Package string
	Extras  map[string]string
}

func (s BroadcastStep) shellCommand() string {
	var b strings.Builder
	b.WriteString("am broadcast -a ")
	b.WriteString(s.Action)
	if s.Package != "" {
		b.WriteString(" -p ")
		b.WriteString(s.Package)
	}

	keys := make([]string, 0, len(s.Extras))
	for k := range s.Extras {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " --es %s %q", k, s.Extras[k])
	}

	return b.String()
}

// PrefStep rewrites one entry in the app's shared-preferences XML via
// run-as and sed. The app must be debuggable for run-as to work.
//
// Type selects the XML element form: "string" entries hold the value as
// element text, every other type ("boolean", "int", "long", "float")
// holds it in a value attribute.
type PrefStep struct {
	Package string
	File    string // preferences file name without the .xml suffix
	Key     string
	Value   string
	Type    string
}

func (s PrefStep) shellCommand() string {
	path := fmt.Sprintf("/data/data/%s/shared_prefs/%s.xml", s.Package, s.File)

	var sedExpr string
	if s.Type == "string" {
		sedExpr = fmt.Sprintf(
			`s|<string name="%s">[^<]*</string>|<string name="%s">%s</string>|`,
			s.Key, s.Key, s.Value,
		)
	} else {
		sedExpr = fmt.Sprintf(
			`s|name="%s" value="[^"]*"|name="%s" value="%s"|`,
			s.Key, s.Key, s.Value,
		)
	}

	return fmt.Sprintf(`run-as %s sed -i '%s' %s`, s.Package, sedExpr, path)
}
