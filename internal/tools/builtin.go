package tools

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// RootFunc resolves the workspace root at execution time, so the builtins
// follow the live session when the active workspace changes.
type RootFunc func() string

// RegisterBuiltins registers the built-in workspace tools, rooted at
// whatever root returns when they run. Read-only tools run without
// approval; tools that mutate the workspace or run commands require
// confirmation.
func RegisterBuiltins(r *Registry, root RootFunc) error {
	builtins := []Tool{
		&listDirectoryTool{root: root},
		&readFileTool{root: root},
		&writeFileTool{root: root},
		&runCommandTool{root: root},
	}
	for _, t := range builtins {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// resolveWorkspacePath joins a relative path onto the workspace root and
// rejects anything that escapes it (path traversal, CWE-22). Symbolic
// links are resolved before the containment check, so a link inside the
// workspace pointing outside is rejected rather than followed.
func resolveWorkspacePath(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		rel = strings.TrimPrefix(rel, string(filepath.Separator))
	}
	abs := filepath.Join(root, rel)
	if !within(root, abs) {
		return "", fmt.Errorf("path %q escapes the workspace", rel)
	}

	rootReal, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	real, err := realpath(abs)
	if err != nil {
		return "", err
	}
	if !within(rootReal, real) {
		return "", fmt.Errorf("path %q escapes the workspace", rel)
	}
	return real, nil
}

// realpath resolves symlinks in the longest existing prefix of path and
// rejoins the remainder, so containment checks see the real target even
// for files that do not exist yet. A dangling symlink on the way is an
// error: creating files through one would land at its hidden target.
func realpath(path string) (string, error) {
	suffix := ""
	p := path
	for {
		real, err := filepath.EvalSymlinks(p)
		if err == nil {
			return filepath.Join(real, suffix), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("resolve path: %w", err)
		}
		if _, lerr := os.Lstat(p); lerr == nil {
			return "", fmt.Errorf("broken symbolic link at %s", p)
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("resolve path: %w", err)
		}
		suffix = filepath.Join(filepath.Base(p), suffix)
		p = parent
	}
}

func within(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

type listDirectoryTool struct {
	root RootFunc
}

func (t *listDirectoryTool) Name() string        { return "list_directory" }
func (t *listDirectoryTool) DisplayName() string { return "List directory" }
func (t *listDirectoryTool) Description() string {
	return "List the files and directories under a workspace-relative path."
}
func (t *listDirectoryTool) RequiresConfirmation() bool { return false }
func (t *listDirectoryTool) ConfirmationPrompt(map[string]any) string {
	return ""
}

func (t *listDirectoryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Workspace-relative directory path; empty for the workspace root",
			},
		},
	}
}

func (t *listDirectoryTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	rel, _ := args["path"].(string)
	dir, err := resolveWorkspacePath(t.root(), rel)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	return &Result{
		Content: map[string]any{"entries": names},
		Display: strings.Join(names, "\n"),
	}, nil
}

type readFileTool struct {
	root RootFunc
}

func (t *readFileTool) Name() string        { return "read_file" }
func (t *readFileTool) DisplayName() string { return "Read file" }
func (t *readFileTool) Description() string {
	return "Read the content of a file in the workspace."
}
func (t *readFileTool) RequiresConfirmation() bool { return false }
func (t *readFileTool) ConfirmationPrompt(map[string]any) string {
	return ""
}

func (t *readFileTool) Parameters() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"path"},
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Workspace-relative file path"},
		},
	}
}

func (t *readFileTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	rel, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	path, err := resolveWorkspacePath(t.root(), rel)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path) // #nosec G304 -- path confined to the workspace above
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return &Result{
		Content: map[string]any{"content": string(content)},
		Display: fmt.Sprintf("Read %s (%d bytes)", rel, len(content)),
	}, nil
}

type writeFileTool struct {
	root RootFunc
}

func (t *writeFileTool) Name() string        { return "write_file" }
func (t *writeFileTool) DisplayName() string { return "Write file" }
func (t *writeFileTool) Description() string {
	return "Write content to a file in the workspace."
}
func (t *writeFileTool) RequiresConfirmation() bool { return true }

func (t *writeFileTool) ConfirmationPrompt(args map[string]any) string {
	path, _ := args["path"].(string)
	return fmt.Sprintf("Write to %s? This will overwrite any existing content.", path)
}

func (t *writeFileTool) Parameters() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"path", "content"},
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "Workspace-relative file path"},
			"content": map[string]any{"type": "string", "description": "Content to write"},
		},
	}
}

func (t *writeFileTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	rel, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	content, err := stringArg(args, "content")
	if err != nil {
		return nil, err
	}
	path, err := resolveWorkspacePath(t.root(), rel)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}
	return &Result{
		Content: map[string]any{"written": len(content), "path": rel},
		Display: fmt.Sprintf("Wrote %d bytes to %s", len(content), rel),
	}, nil
}

type runCommandTool struct {
	root RootFunc
}

func (t *runCommandTool) Name() string        { return "run_command" }
func (t *runCommandTool) DisplayName() string { return "Run command" }
func (t *runCommandTool) Description() string {
	return "Run an allowlisted command in the workspace directory. " +
		"Arguments are passed directly, not through a shell."
}
func (t *runCommandTool) RequiresConfirmation() bool { return true }

func (t *runCommandTool) ConfirmationPrompt(args map[string]any) string {
	command, _ := args["command"].(string)
	return fmt.Sprintf("Run `%s` in the workspace?", command)
}

func (t *runCommandTool) Parameters() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"command"},
		"properties": map[string]any{
			"command": map[string]any{"type": "string", "description": "Shell command to run"},
		},
	}
}

func (t *runCommandTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	command, err := stringArg(args, "command")
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("command cannot be empty")
	}
	name, cmdArgs := fields[0], fields[1:]
	if err := validateCommand(name, cmdArgs); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, name, cmdArgs...) // #nosec G204 -- command name allowlisted above
	cmd.Dir = t.root()
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return &Result{
		Content: map[string]any{"output": string(out)},
		Display: strings.TrimSpace(string(out)),
	}, nil
}
