package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedRoot(dir string) RootFunc {
	return func() string { return dir }
}

func TestRegistry(t *testing.T) {
	t.Run("register and lookup", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, RegisterBuiltins(r, fixedRoot(t.TempDir())))

		tool, err := r.Lookup("read_file")
		require.NoError(t, err)
		assert.Equal(t, "read_file", tool.Name())
		assert.False(t, tool.RequiresConfirmation())
	})

	t.Run("unknown tool", func(t *testing.T) {
		r := NewRegistry()
		_, err := r.Lookup("nope")
		assert.ErrorIs(t, err, ErrUnknownTool)
	})

	t.Run("duplicate registration fails", func(t *testing.T) {
		r := NewRegistry()
		root := fixedRoot(t.TempDir())
		require.NoError(t, RegisterBuiltins(r, root))
		assert.Error(t, RegisterBuiltins(r, root))
	})

	t.Run("all sorted by name", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, RegisterBuiltins(r, fixedRoot(t.TempDir())))

		var names []string
		for _, tool := range r.All() {
			names = append(names, tool.Name())
		}
		assert.Equal(t, []string{"list_directory", "read_file", "run_command", "write_file"}, names)
	})
}

func TestResolveWorkspacePath(t *testing.T) {
	// Resolve the temp dir up front so expected paths match the resolved
	// form the function returns.
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	cases := []struct {
		name    string
		rel     string
		want    string
		wantErr bool
	}{
		{"plain relative", "a/b.txt", filepath.Join(root, "a", "b.txt"), false},
		{"empty is root", "", root, false},
		{"dot is root", ".", root, false},
		{"absolute treated as workspace relative", "/a.txt", filepath.Join(root, "a.txt"), false},
		{"traversal escapes", "../outside.txt", "", true},
		{"nested traversal escapes", "a/../../../etc/passwd", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolveWorkspacePath(root, tc.rel)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolveWorkspacePathSymlinks(t *testing.T) {
	t.Run("symlink staying inside resolves to its target", func(t *testing.T) {
		root, err := filepath.EvalSymlinks(t.TempDir())
		require.NoError(t, err)
		require.NoError(t, os.Mkdir(filepath.Join(root, "real"), 0o750))
		require.NoError(t, os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "link")))

		got, err := resolveWorkspacePath(root, "link/a.txt")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "real", "a.txt"), got)
	})

	t.Run("symlink escaping the workspace is rejected", func(t *testing.T) {
		outside := t.TempDir()
		root := t.TempDir()
		require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))

		_, err := resolveWorkspacePath(root, "link/x")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "escapes the workspace")
	})

	t.Run("dangling symlink is rejected", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.Symlink(filepath.Join(root, "gone"), filepath.Join(root, "link")))

		_, err := resolveWorkspacePath(root, "link")
		require.Error(t, err)
	})
}

func TestValidateCommand(t *testing.T) {
	cases := []struct {
		name    string
		cmd     string
		args    []string
		wantErr string
	}{
		{"allowed plain", "ls", []string{"-la"}, ""},
		{"allowed mixed case", "LS", nil, ""},
		{"allowed subcommand", "git", []string{"status"}, ""},
		{"empty", "", nil, "cannot be empty"},
		{"metacharacter in name", "ls;id", nil, "metacharacter"},
		{"not allowlisted", "curl", []string{"example.com"}, "not allowed"},
		{"blocked subcommand", "go", []string{"run", "main.go"}, "not allowed"},
		{"null byte argument", "echo", []string{"a\x00b"}, "null byte"},
		{"dangerous pattern argument", "echo", []string{"rm -rf /"}, "dangerous pattern"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateCommand(tc.cmd, tc.args)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestBuiltinTools(t *testing.T) {
	ctx := context.Background()

	t.Run("list directory", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o600))
		require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o750))

		tool := &listDirectoryTool{root: fixedRoot(root)}
		res, err := tool.Execute(ctx, map[string]any{"path": ""})
		require.NoError(t, err)

		content := res.Content.(map[string]any)
		assert.ElementsMatch(t, []string{"a.txt", "sub/"}, content["entries"])
	})

	t.Run("read file", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o600))

		tool := &readFileTool{root: fixedRoot(root)}
		res, err := tool.Execute(ctx, map[string]any{"path": "a.txt"})
		require.NoError(t, err)
		assert.Equal(t, "hello", res.Content.(map[string]any)["content"])
	})

	t.Run("read missing file", func(t *testing.T) {
		tool := &readFileTool{root: fixedRoot(t.TempDir())}
		_, err := tool.Execute(ctx, map[string]any{"path": "missing.txt"})
		assert.Error(t, err)
	})

	t.Run("write file requires confirmation", func(t *testing.T) {
		root := t.TempDir()
		tool := &writeFileTool{root: fixedRoot(root)}
		assert.True(t, tool.RequiresConfirmation())
		assert.Contains(t, tool.ConfirmationPrompt(map[string]any{"path": "a.txt"}), "a.txt")

		_, err := tool.Execute(ctx, map[string]any{"path": "dir/a.txt", "content": "data"})
		require.NoError(t, err)

		got, err := os.ReadFile(filepath.Join(root, "dir", "a.txt"))
		require.NoError(t, err)
		assert.Equal(t, "data", string(got))
	})

	t.Run("write rejects escape", func(t *testing.T) {
		tool := &writeFileTool{root: fixedRoot(t.TempDir())}
		_, err := tool.Execute(ctx, map[string]any{"path": "../evil.txt", "content": "x"})
		assert.Error(t, err)
	})

	t.Run("write rejects symlink escape", func(t *testing.T) {
		outside := t.TempDir()
		root := t.TempDir()
		require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))

		tool := &writeFileTool{root: fixedRoot(root)}
		_, err := tool.Execute(ctx, map[string]any{"path": "link/x", "content": "x"})
		require.Error(t, err)
		assert.NoFileExists(t, filepath.Join(outside, "x"))
	})

	t.Run("run command", func(t *testing.T) {
		tool := &runCommandTool{root: fixedRoot(t.TempDir())}
		assert.True(t, tool.RequiresConfirmation())

		res, err := tool.Execute(ctx, map[string]any{"command": "echo hi"})
		require.NoError(t, err)
		assert.Equal(t, "hi", res.Display)
	})

	t.Run("run command failure", func(t *testing.T) {
		tool := &runCommandTool{root: fixedRoot(t.TempDir())}
		_, err := tool.Execute(ctx, map[string]any{"command": "ls definitely-not-here"})
		assert.Error(t, err)
	})

	t.Run("run command outside allowlist", func(t *testing.T) {
		tool := &runCommandTool{root: fixedRoot(t.TempDir())}
		_, err := tool.Execute(ctx, map[string]any{"command": "curl example.com"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not allowed")
	})
}
