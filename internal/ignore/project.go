package ignore

import (
	"os"
	"path/filepath"
	"sort"
)

// ProjectType identifies a language ecosystem by its marker files
type ProjectType string

const (
	ProjectGo         ProjectType = "go"
	ProjectPython     ProjectType = "python"
	ProjectJavaScript ProjectType = "javascript"
	ProjectRust       ProjectType = "rust"
	ProjectJava       ProjectType = "java"
	ProjectRuby       ProjectType = "ruby"
	ProjectPHP        ProjectType = "php"
	ProjectDotNet     ProjectType = "dotnet"
)

// markers maps marker file globs at the project root to their project type
var markers = map[ProjectType][]string{
	ProjectGo:         {"go.mod", "go.work"},
	ProjectPython:     {"pyproject.toml", "setup.py", "requirements.txt", "Pipfile"},
	ProjectJavaScript: {"package.json", "tsconfig.json"},
	ProjectRust:       {"Cargo.toml"},
	ProjectJava:       {"pom.xml", "build.gradle", "build.gradle.kts"},
	ProjectRuby:       {"Gemfile"},
	ProjectPHP:        {"composer.json"},
	ProjectDotNet:     {"*.csproj", "*.sln", "*.fsproj"},
}

var defaultPatterns = map[ProjectType][]string{
	ProjectGo:         {"vendor/", "bin/", "*.test", "*.out"},
	ProjectPython:     {"venv/", ".venv/", "env/", "*.egg-info/", ".pytest_cache/", ".mypy_cache/", ".tox/", "build/", "dist/"},
	ProjectJavaScript: {"dist/", "build/", "coverage/", ".next/", ".nuxt/", ".cache/", "*.min.js"},
	ProjectRust:       {"target/"},
	ProjectJava:       {"target/", "build/", ".gradle/", "*.class", "*.jar"},
	ProjectRuby:       {"vendor/bundle/", ".bundle/", "coverage/"},
	ProjectPHP:        {"vendor/"},
	ProjectDotNet:     {"bin/", "obj/", "packages/"},
}

// DetectProjectTypes returns every project type whose marker exists at root,
// sorted by name
func DetectProjectTypes(root string) []ProjectType {
	var found []ProjectType
	for pt, globs := range markers {
		if hasAnyMarker(root, globs) {
			found = append(found, pt)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i] < found[j] })
	return found
}

// DefaultPatterns returns the build and dependency output patterns for pt
func DefaultPatterns(pt ProjectType) []string {
	return append([]string{}, defaultPatterns[pt]...)
}

func hasAnyMarker(root string, globs []string) bool {
	for _, g := range globs {
		matches, err := filepath.Glob(filepath.Join(root, g))
		if err != nil {
			continue
		}
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && !info.IsDir() {
				return true
			}
		}
	}
	return false
}
