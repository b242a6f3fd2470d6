package tools

import (
	"fmt"
	"slices"
	"strings"
)

// Command gating for run_command (CWE-78). Arguments go to exec.Command
// directly, never through a shell, so metacharacters in arguments are
// literal text; the checks here stop command names outside the allowlist
// and subcommands that execute arbitrary code.
var (
	// File reading commands (cat, head, tail, grep) are deliberately
	// absent: read_file and list_directory enforce path confinement,
	// arbitrary readers would not.
	allowedCommands = []string{
		"ls", "wc", "sort", "uniq", "tree",
		"pwd", "date", "whoami", "hostname", "uname",
		"df", "du", "free", "ps",
		"git", "go", "npm", "yarn",
		"echo", "printf", "which", "whereis",
	}

	// First argument must not match: these turn an allowlisted binary
	// into an arbitrary-code runner.
	blockedSubcommands = map[string][]string{
		"go":   {"run", "generate", "tool"},
		"npm":  {"run", "exec", "start", "explore"},
		"yarn": {"run", "exec", "start"},
		"git":  {"filter-branch", "config", "difftool", "mergetool"},
	}

	dangerousArgPatterns = []string{
		"rm -rf /",
		"rm -rf /*",
		"rm -rf ~",
		"mkfs",
		"dd if=/dev/zero",
		"dd if=/dev/urandom",
		"shutdown",
		"reboot",
		"sudo su",
	}
)

const shellMetachars = ";|&`\n><$()"

const maxArgLen = 10000

func validateCommand(name string, args []string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return fmt.Errorf("command cannot be empty")
	}
	if i := strings.IndexAny(name, shellMetachars); i >= 0 {
		return fmt.Errorf("command name contains shell metacharacter %q", string(name[i]))
	}
	if !slices.Contains(allowedCommands, name) {
		return fmt.Errorf("command %q is not allowed", name)
	}
	if blocked, ok := blockedSubcommands[name]; ok && len(args) > 0 {
		sub := strings.ToLower(strings.TrimSpace(args[0]))
		if slices.Contains(blocked, sub) {
			return fmt.Errorf("subcommand %q is not allowed with %q", args[0], name)
		}
	}
	for i, arg := range args {
		if err := validateArgument(arg); err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
	}
	return nil
}

func validateArgument(arg string) error {
	if strings.Contains(arg, "\x00") {
		return fmt.Errorf("contains null byte")
	}
	if len(arg) > maxArgLen {
		return fmt.Errorf("too long (%d bytes, max %d)", len(arg), maxArgLen)
	}
	lower := strings.ToLower(arg)
	for _, pattern := range dangerousArgPatterns {
		if strings.Contains(lower, pattern) {
			return fmt.Errorf("contains dangerous pattern %q", pattern)
		}
	}
	return nil
}
