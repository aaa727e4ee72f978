package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestMatcher_GlobalPatterns(t *testing.T) {
	root := t.TempDir()
	m, err := New(root, Options{})
	require.NoError(t, err)

	assert.True(t, m.Match(".git", true))
	assert.True(t, m.Match("web/node_modules", true))
	assert.True(t, m.Match("pkg/__pycache__/mod.pyc", false))
	assert.False(t, m.Match("main.go", false))
	assert.False(t, m.Match("", true))
}

func TestMatcher_ProjectFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "# comment\n*.log\n/generated/\n\n")
	writeFile(t, root, ".codeindexignore", "secrets.txt\n")

	m, err := New(root, Options{})
	require.NoError(t, err)

	assert.True(t, m.Match("app.log", false))
	assert.True(t, m.Match("deep/dir/app.log", false))
	assert.True(t, m.Match("generated", true))
	assert.False(t, m.Match("src/generated", true))
	assert.True(t, m.Match("config/secrets.txt", false))
	assert.NotContains(t, m.Patterns(), "# comment")
}

func TestMatcher_SkipProjectFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "*.log\n")

	m, err := New(root, Options{SkipProjectFiles: true})
	require.NoError(t, err)
	assert.False(t, m.Match("app.log", false))
}

func TestMatcher_ExtraPatternsAndExcludePaths(t *testing.T) {
	root := t.TempDir()
	m, err := New(root, Options{
		Patterns:     []string{"*.tmp"},
		ExcludePaths: []string{filepath.Join(root, ".codeindex"), "/elsewhere/data"},
	})
	require.NoError(t, err)

	assert.True(t, m.Match("a/b.tmp", false))
	assert.True(t, m.Match(".codeindex", true))
	assert.True(t, m.Match(".codeindex/metadata.json", false))
	assert.NotContains(t, m.Patterns(), "/../elsewhere/data")
}

func TestMatcher_ProjectTypeDefaults(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "go.mod", "module example.com/x\n")
	writeFile(t, root, "Cargo.toml", "[package]\n")

	m, err := New(root, Options{})
	require.NoError(t, err)
	assert.True(t, m.Match("vendor", true))
	assert.True(t, m.Match("target", true))

	m, err = New(root, Options{SkipProjectTypeDefaults: true})
	require.NoError(t, err)
	assert.False(t, m.Match("vendor", true))
}

func TestMatcher_Reload(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".codeindexignore", "*.bak\n")
	m, err := New(root, Options{})
	require.NoError(t, err)
	assert.True(t, m.Match("x.bak", false))
	assert.False(t, m.Match("x.tmp", false))

	changed, err := m.Reload()
	require.NoError(t, err)
	assert.False(t, changed)

	writeFile(t, root, ".codeindexignore", "*.tmp\n")
	changed, err = m.Reload()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, m.Match("x.bak", false))
	assert.True(t, m.Match("x.tmp", false))

	t.Run("explicit patterns never reload", func(t *testing.T) {
		fixed := FromPatterns(root, []string{"*.md"})
		changed, err := fixed.Reload()
		require.NoError(t, err)
		assert.False(t, changed)
		assert.True(t, fixed.Match("README.md", false))
	})
}

func TestIsIgnoreFile(t *testing.T) {
	assert.True(t, IsIgnoreFile(".gitignore"))
	assert.True(t, IsIgnoreFile(".codeindexignore"))
	assert.False(t, IsIgnoreFile("sub/.gitignore"))
	assert.False(t, IsIgnoreFile("main.go"))
}

func TestDetectProjectTypes(t *testing.T) {
	root := t.TempDir()
	assert.Empty(t, DetectProjectTypes(root))

	writeFile(t, root, "package.json", "{}")
	writeFile(t, root, "pyproject.toml", "")
	writeFile(t, root, "App.csproj", "<Project/>")

	assert.Equal(t, []ProjectType{ProjectDotNet, ProjectJavaScript, ProjectPython}, DetectProjectTypes(root))
}

func TestFromPatterns(t *testing.T) {
	m := FromPatterns("/root", []string{"", "# x", "*.md"})
	assert.Equal(t, []string{"*.md"}, m.Patterns())
	assert.True(t, m.Match("README.md", false))
}
