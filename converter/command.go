package converter

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// Placeholders understood by command templates.
const (
	PlaceholderInput   = "${INPUT}"
	PlaceholderOutDir  = "${OUTDIR}"
	PlaceholderOutBase = "${OUTBASE}"
	PlaceholderTmpDir  = "${TMPDIR}"
	PlaceholderDPI     = "${DPI}"
	PlaceholderPage    = "${PAGE}"
	PlaceholderLayout  = "${LAYOUT}"
	PlaceholderFilter  = "${FILTER}"
	PlaceholderExt     = "${EXT}"
)

var placeholders = []string{
	PlaceholderInput, PlaceholderOutDir, PlaceholderOutBase, PlaceholderTmpDir,
	PlaceholderDPI, PlaceholderPage, PlaceholderLayout, PlaceholderFilter, PlaceholderExt,
}

// Template is an external command split into arguments once, with
// placeholders substituted per invocation. Nothing goes through a shell.
type Template struct {
	args []string
}

// ParseTemplate splits command and rejects shell metacharacters outside of
// placeholders. The command must reference ${INPUT}.
func ParseTemplate(command string) (*Template, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid command syntax: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("command is empty")
	}

	hasInput := false
	for _, arg := range args {
		if strings.Contains(arg, PlaceholderInput) {
			hasInput = true
		}
		stripped := arg
		for _, p := range placeholders {
			stripped = strings.ReplaceAll(stripped, p, "")
		}
		if strings.ContainsAny(stripped, "|&;`$()<>") {
			return nil, fmt.Errorf("disallowed character found in argument: %s", arg)
		}
	}
	if !hasInput {
		return nil, fmt.Errorf("command must include the input placeholder '%s'", PlaceholderInput)
	}
	return &Template{args: args}, nil
}

// Binary is the program the template runs.
func (t *Template) Binary() string {
	return t.args[0]
}

// Expand substitutes vars into a fresh argument list. Arguments that end up
// empty are dropped so optional flags can be switched off.
func (t *Template) Expand(vars map[string]string) []string {
	out := make([]string, 0, len(t.args))
	for _, arg := range t.args {
		for k, v := range vars {
			arg = strings.ReplaceAll(arg, k, v)
		}
		if arg == "" {
			continue
		}
		out = append(out, arg)
	}
	return out
}
