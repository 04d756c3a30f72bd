package session

import (
	"os"
	"os/exec"
	"strings"

	"github.com/google/uuid"
	shellwords "github.com/mattn/go-shellwords"

	"github.com/jkaninda/kamanda/internal/policy"
)

// shellBuiltins are names the interpreter resolves itself; their
// presence marks a line as shell syntax even though PATH lookup fails.
var shellBuiltins = map[string]bool{
	"cd": true, "pwd": true, "echo": true, "true": true, "false": true,
	"test": true, "[": true, "exit": true, "export": true, "unset": true,
	"exec": true, "eval": true, "source": true, ".": true, "set": true,
	"ulimit": true, "umask": true, "wait": true, "read": true, "type": true,
}

// classify builds the execution request for one input line. A line is a
// direct command when its first token is a known builtin, an executable
// on PATH, or an existing executable path; anything else is treated as a
// natural-language task. The "!" and "?" prefixes force the decision.
func (s *Session) classify(line string) *Request {
	req := &Request{
		ID:   uuid.New().String(),
		Raw:  line,
		Mode: s.opts.Mode,
	}

	if strings.TrimSpace(line) == "" {
		// Resolves to the no-op spec downstream; nothing is spawned.
		req.Kind = DirectCommand
		return req
	}

	switch {
	case strings.HasPrefix(line, "!"):
		req.Kind = DirectCommand
		req.Command = strings.TrimSpace(strings.TrimPrefix(line, "!"))
		return req
	case strings.HasPrefix(line, "?"):
		req.Kind = NaturalLanguageTask
		req.Raw = strings.TrimSpace(strings.TrimPrefix(line, "?"))
		return req
	case strings.HasPrefix(line, ":unsafe"):
		req.Mode = policy.Unrestricted
		req.Kind = DirectCommand
		req.Command = strings.TrimSpace(strings.TrimPrefix(line, ":unsafe"))
		return req
	}

	tokens, err := shellwords.Parse(line)
	if err != nil || len(tokens) == 0 {
		req.Kind = NaturalLanguageTask
		return req
	}

	head := tokens[0]
	if looksExecutable(head) {
		req.Kind = DirectCommand
		req.Command = line
		return req
	}

	req.Kind = NaturalLanguageTask
	return req
}

func looksExecutable(head string) bool {
	if shellBuiltins[head] {
		return true
	}
	if strings.ContainsRune(head, '/') {
		info, err := os.Stat(head)
		return err == nil && !info.IsDir() && info.Mode()&0111 != 0
	}
	_, err := exec.LookPath(head)
	return err == nil
}
