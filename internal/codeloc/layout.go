package codeloc

import (
	"io/fs"
	"path"
	"sort"
	"strings"
)

// Layout is the detected module layout of a repository.
type Layout string

const (
	LayoutFlatModule    Layout = "flat-module"
	LayoutNestedPackage Layout = "nested-package"
	LayoutPackageInit   Layout = "package-init"
	LayoutUnknown       Layout = "unknown"
)

// initFiles mark a directory as a package.
var initFiles = []string{"__init__.py", "index.ts", "index.js", "mod.rs"}

// Project is the layout metadata reported alongside a scan.
type Project struct {
	Language      Language `json:"language"`
	Manifest      string   `json:"manifest,omitempty"`
	Layout        Layout   `json:"layout"`
	SourceDirs    []string `json:"sourceDirs"`
	SymbolBackend string   `json:"symbolBackend"`
}

// DetectProject inspects manifests and the declared source directories.
func DetectProject(fsys fs.FS, sourceDirs []string) Project {
	lang, manifest := detectLanguage(fsys)
	return Project{
		Language:      lang,
		Manifest:      manifest,
		Layout:        DetectLayout(fsys, sourceDirs),
		SourceDirs:    append([]string{}, sourceDirs...),
		SymbolBackend: SymbolBackend,
	}
}

func detectLanguage(fsys fs.FS) (Language, string) {
	// Manifest files in priority order
	manifests := []struct {
		path string
		lang Language
	}{
		{"go.mod", LangGo},
		{"package.json", LangJavaScript},
		{"Cargo.toml", LangRust},
		{"pyproject.toml", LangPython},
		{"requirements.txt", LangPython},
		{"setup.py", LangPython},
		{"pom.xml", LangJava},
		{"build.gradle", LangJava},
		{"build.gradle.kts", LangKotlin},
	}
	for _, m := range manifests {
		if isFile(fsys, m.path) {
			lang := m.lang
			if m.path == "package.json" && isFile(fsys, "tsconfig.json") {
				lang = LangTypeScript
			}
			return lang, m.path
		}
	}
	return LangUnknown, ""
}

// DetectLayout classifies the top-level entries of the source directories
// (or the root when none exist). Package-init wins over nested-package, which
// wins over flat-module.
func DetectLayout(fsys fs.FS, sourceDirs []string) Layout {
	bases := existingDirs(fsys, sourceDirs)
	if len(bases) == 0 {
		bases = []string{"."}
	}

	var initPkgs, nested, flat int
	for _, base := range bases {
		entries, err := fs.ReadDir(fsys, base)
		if err != nil {
			continue
		}
		for _, e := range entries {
			name := e.Name()
			if strings.HasPrefix(name, ".") {
				continue
			}
			full := path.Join(base, name)
			if !e.IsDir() {
				if LanguageFor(name) != LangUnknown {
					flat++
				}
				continue
			}
			switch {
			case hasInitFile(fsys, full):
				initPkgs++
			case hasNamedModule(fsys, full, name):
				nested++
			}
		}
	}

	switch {
	case initPkgs > 0:
		return LayoutPackageInit
	case nested > 0:
		return LayoutNestedPackage
	case flat > 0:
		return LayoutFlatModule
	default:
		return LayoutUnknown
	}
}

func existingDirs(fsys fs.FS, dirs []string) []string {
	var out []string
	for _, d := range dirs {
		if isDir(fsys, d) {
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out
}

func hasInitFile(fsys fs.FS, dir string) bool {
	for _, f := range initFiles {
		if isFile(fsys, path.Join(dir, f)) {
			return true
		}
	}
	return false
}

// hasNamedModule reports whether dir/<name>.<ext> exists for a source extension.
func hasNamedModule(fsys fs.FS, dir, name string) bool {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		if strings.TrimSuffix(n, path.Ext(n)) == name && LanguageFor(n) != LangUnknown {
			return true
		}
	}
	return false
}

func isFile(fsys fs.FS, p string) bool {
	if !fs.ValidPath(p) {
		return false
	}
	info, err := fs.Stat(fsys, p)
	return err == nil && !info.IsDir()
}

func isDir(fsys fs.FS, p string) bool {
	if !fs.ValidPath(p) {
		return false
	}
	info, err := fs.Stat(fsys, p)
	return err == nil && info.IsDir()
}
