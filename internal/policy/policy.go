// Package policy decides how a command is allowed to run.
//
// Resolution is pure: given the execution mode and the command text, it
// produces an immutable execution spec or rejects the command. Restricted
// mode rejects by static inspection of the text before any process is
// spawned; unrestricted mode passes the command through unchanged. The
// denylist is a table, extendable from configuration, never a scatter of
// constants.
package policy

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	shellwords "github.com/mattn/go-shellwords"
)

// Mode selects the capability level a command runs under.
type Mode int

const (
	// Restricted is the default: reduced-capability interpreter plus
	// static denylist inspection.
	Restricted Mode = iota
	// Unrestricted is the opt-in full-capability mode.
	Unrestricted
)

// String returns the string representation of a Mode.
func (m Mode) String() string {
	switch m {
	case Restricted:
		return "restricted"
	case Unrestricted:
		return "unrestricted"
	default:
		return "unknown"
	}
}

// ParseMode parses a mode name. Unknown names resolve to Restricted, the
// safe default.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), "unrestricted") {
		return Unrestricted
	}
	return Restricted
}

// Spec is the sandbox-resolved description of one execution. Immutable
// once produced.
type Spec struct {
	// Interpreter is the shell binary path.
	Interpreter string
	// Args is the full argument vector passed to the interpreter.
	Args []string
	// Env is the environment the process receives.
	Env []string
	// Dir is the working directory.
	Dir string
	// Mode the spec was resolved under.
	Mode Mode
	// Command is the original command text.
	Command string
	// NoOp marks an empty or whitespace-only input; the session loop
	// short-circuits these without spawning.
	NoOp bool
}

// ViolationError reports a command rejected by restricted-mode
// inspection. No process is spawned for a rejected command.
type ViolationError struct {
	Command string
	Rule    string
	Reason  string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("policy violation (%s): %s", e.Rule, e.Reason)
}

// Config carries the policy table inputs.
type Config struct {
	// Shell is the interpreter path. Default /bin/bash. Both modes run
	// `shell -c command`; restricted mode differs only in the inspection
	// and the sanitized environment.
	Shell string
	// PermittedTree is the directory subtree cd may target in restricted
	// mode. Also the working directory for spawned commands.
	PermittedTree string
	// PermittedDirs are directories explicit executable paths may live
	// in under restricted mode. Default: /usr/local/bin, /usr/bin, /bin.
	PermittedDirs []string
	// EnvAllowlist names variables that may be assigned or carried into
	// the restricted environment beyond the base set.
	EnvAllowlist []string
	// ExtraDenied adds command names to the built-in denied table.
	ExtraDenied []string
}

// deniedBuiltins is the built-in denylist: operations known to escape the
// restricted interpreter or mutate state the sandbox must control.
var deniedBuiltins = map[string]string{
	"export":   "environment export is not permitted in restricted mode",
	"unset":    "environment mutation is not permitted in restricted mode",
	"declare":  "variable declaration is not permitted in restricted mode",
	"typeset":  "variable declaration is not permitted in restricted mode",
	"readonly": "variable declaration is not permitted in restricted mode",
	"eval":     "eval is not permitted in restricted mode",
	"exec":     "exec replaces the supervised process and is not permitted",
	"source":   "sourcing scripts is not permitted in restricted mode",
	".":        "sourcing scripts is not permitted in restricted mode",
	"trap":     "signal trap redefinition is not permitted in restricted mode",
	"set":      "shell option mutation is not permitted in restricted mode",
	"enable":   "builtin redefinition is not permitted in restricted mode",
	"builtin":  "builtin dispatch is not permitted in restricted mode",
	"command":  "builtin bypass is not permitted in restricted mode",
	"ulimit":   "resource limit mutation is not permitted in restricted mode",
	"alias":    "alias definition is not permitted in restricted mode",
	"function": "shell function definition is not permitted in restricted mode",
}

// Policy resolves execution specs. Construct once per session with the
// session's environment snapshot; resolution is deterministic thereafter.
type Policy struct {
	shell         string
	tree          string
	permittedDirs []string
	envAllow      map[string]bool
	denied        map[string]string
	env           []string
	logger        *slog.Logger
}

// New creates a policy over the given environment snapshot.
func New(cfg Config, env []string, logger *slog.Logger) *Policy {
	shell := cfg.Shell
	if shell == "" {
		shell = "/bin/bash"
	}
	dirs := cfg.PermittedDirs
	if len(dirs) == 0 {
		dirs = []string{"/usr/local/bin", "/usr/bin", "/bin"}
	}

	denied := make(map[string]string, len(deniedBuiltins)+len(cfg.ExtraDenied))
	for k, v := range deniedBuiltins {
		denied[k] = v
	}
	for _, name := range cfg.ExtraDenied {
		if name = strings.TrimSpace(name); name != "" {
			denied[name] = "denied by configured policy"
		}
	}

	allow := make(map[string]bool, len(cfg.EnvAllowlist))
	for _, name := range cfg.EnvAllowlist {
		allow[name] = true
	}

	return &Policy{
		shell:         shell,
		tree:          cfg.PermittedTree,
		permittedDirs: dirs,
		envAllow:      allow,
		denied:        denied,
		env:           env,
		logger:        logger,
	}
}

// Resolve produces the execution spec for one command. Pure over the
// policy's construction-time inputs: resolving the same (mode, command)
// pair twice yields identical specs.
func (p *Policy) Resolve(mode Mode, command string) (*Spec, error) {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return &Spec{Mode: mode, NoOp: true}, nil
	}

	if mode == Unrestricted {
		return &Spec{
			Interpreter: p.shell,
			Args:        []string{"-c", trimmed},
			Env:         append([]string(nil), p.env...),
			Dir:         p.tree,
			Mode:        mode,
			Command:     trimmed,
		}, nil
	}

	if err := p.inspect(trimmed); err != nil {
		p.logger.Debug("command rejected",
			slog.String("command", trimmed),
			slog.String("reason", err.Error()),
		)
		return nil, err
	}

	// The inspection above and the sanitized env are the enforcement
	// boundary. The interpreter runs without --restricted so the
	// allowances (cd within the tree, executables under permitted dirs)
	// stay usable.
	return &Spec{
		Interpreter: p.shell,
		Args:        []string{"-c", trimmed},
		Env:         p.restrictedEnv(),
		Dir:         p.tree,
		Mode:        mode,
		Command:     trimmed,
	}, nil
}

// inspect applies the static denylist to the command text.
func (p *Policy) inspect(command string) error {
	if containsUnquoted(command, "<(") || containsUnquoted(command, ">(") {
		return &ViolationError{Command: command, Rule: "process-substitution",
			Reason: "process substitution is not permitted in restricted mode"}
	}
	if redirectsToAbsolute(command) {
		return &ViolationError{Command: command, Rule: "redirect-path",
			Reason: "redirection to an absolute path is not permitted in restricted mode"}
	}
	if containsUnquoted(command, "()") {
		return &ViolationError{Command: command, Rule: "function-definition",
			Reason: "shell function definition is not permitted in restricted mode"}
	}

	for _, segment := range splitStatements(command) {
		if err := p.inspectSegment(command, segment); err != nil {
			return err
		}
	}
	return nil
}

func (p *Policy) inspectSegment(command, segment string) error {
	tokens, err := shellwords.Parse(segment)
	if err != nil {
		return &ViolationError{Command: command, Rule: "unparseable",
			Reason: fmt.Sprintf("command could not be parsed: %v", err)}
	}

	// Leading NAME=value assignments: only allowlisted names may be set.
	for len(tokens) > 0 {
		name, ok := assignmentName(tokens[0])
		if !ok {
			break
		}
		if !p.envAllow[name] {
			return &ViolationError{Command: command, Rule: "env-assignment",
				Reason: fmt.Sprintf("setting %s is not permitted in restricted mode", name)}
		}
		tokens = tokens[1:]
	}
	if len(tokens) == 0 {
		return nil
	}

	head := tokens[0]
	if reason, ok := p.denied[head]; ok {
		return &ViolationError{Command: command, Rule: head, Reason: reason}
	}
	if head == "cd" {
		return p.inspectCd(command, tokens)
	}
	if strings.ContainsRune(head, '/') {
		return p.inspectExecutablePath(command, head)
	}
	return nil
}

// inspectCd permits cd only within the session's permitted tree.
func (p *Policy) inspectCd(command string, tokens []string) error {
	target := p.tree
	if len(tokens) > 1 && tokens[1] != "" && tokens[1] != "-" {
		target = tokens[1]
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(p.tree, target)
	}
	target = filepath.Clean(target)
	if !withinDir(p.tree, target) {
		return &ViolationError{Command: command, Rule: "cd",
			Reason: fmt.Sprintf("cd outside %s is not permitted in restricted mode", p.tree)}
	}
	return nil
}

// inspectExecutablePath permits explicit paths only inside the permitted
// directory set or the session tree.
func (p *Policy) inspectExecutablePath(command, head string) error {
	path := head
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.tree, path)
	}
	path = filepath.Clean(path)
	for _, dir := range p.permittedDirs {
		if withinDir(dir, path) {
			return nil
		}
	}
	if p.tree != "" && withinDir(p.tree, path) {
		return nil
	}
	return &ViolationError{Command: command, Rule: "executable-path",
		Reason: fmt.Sprintf("executable %s is outside the permitted directories", head)}
}

// restrictedEnv builds the sanitized environment: a minimal base plus
// allowlisted variables carried from the session snapshot. The session
// environment is never inherited wholesale.
func (p *Policy) restrictedEnv() []string {
	env := []string{
		"PATH=" + strings.Join(p.permittedDirs, ":"),
	}
	carry := map[string]bool{"HOME": true, "LANG": true, "TERM": true, "TZ": true}
	for _, kv := range p.env {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if carry[name] || p.envAllow[name] {
			env = append(env, kv)
		}
	}
	return env
}

func assignmentName(token string) (string, bool) {
	name, _, ok := strings.Cut(token, "=")
	if !ok || name == "" {
		return "", false
	}
	for i, r := range name {
		if r == '_' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
			continue
		}
		if i > 0 && r >= '0' && r <= '9' {
			continue
		}
		return "", false
	}
	return name, true
}

func withinDir(dir, path string) bool {
	if dir == "" {
		return false
	}
	dir = filepath.Clean(dir)
	if path == dir {
		return true
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}
