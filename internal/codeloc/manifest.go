package codeloc

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	toml2 "github.com/pelletier/go-toml/v2"
	"golang.org/x/mod/modfile"
)

// Manifest file names read from the repository root.
const (
	PyprojectFile = "pyproject.toml"
	ModulesFile   = "MODULES.toml"
	GoModFile     = "go.mod"
)

// ManifestEntry maps a module prefix onto a directory. An empty Module maps
// every top-level module into Dir.
type ManifestEntry struct {
	Module string
	Dir    string
	Source string
}

// Manifest is the build-manifest module map of a repository.
type Manifest struct {
	Entries  []ManifestEntry
	GoModule string
}

// Empty reports whether no manifest declared anything.
func (m *Manifest) Empty() bool {
	return m == nil || (len(m.Entries) == 0 && m.GoModule == "")
}

type pyproject struct {
	Tool struct {
		Setuptools struct {
			PackageDir map[string]string `toml:"package-dir"`
		} `toml:"setuptools"`
		Poetry struct {
			Packages []struct {
				Include string `toml:"include"`
				From    string `toml:"from"`
			} `toml:"packages"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

type modulesFile struct {
	Version int `toml:"version"`
	Modules []struct {
		ID   string `toml:"id"`
		Name string `toml:"name"`
		Path string `toml:"path"`
	} `toml:"module"`
}

// LoadManifest reads pyproject.toml, MODULES.toml and go.mod from the root of
// fsys. Missing files are skipped; malformed ones are returned as errors while
// the remaining manifests still load.
func LoadManifest(fsys fs.FS) (*Manifest, []error) {
	m := &Manifest{}
	var errs []error

	if data, err := fs.ReadFile(fsys, PyprojectFile); err == nil {
		var py pyproject
		if _, err := toml.Decode(string(data), &py); err != nil {
			errs = append(errs, fmt.Errorf("failed to parse %s: %w", PyprojectFile, err))
		} else {
			for module, dir := range py.Tool.Setuptools.PackageDir {
				m.Entries = append(m.Entries, ManifestEntry{Module: module, Dir: cleanDir(dir), Source: PyprojectFile})
			}
			for _, p := range py.Tool.Poetry.Packages {
				if p.Include == "" {
					continue
				}
				m.Entries = append(m.Entries, ManifestEntry{
					Module: p.Include,
					Dir:    cleanDir(path.Join(p.From, p.Include)),
					Source: PyprojectFile,
				})
			}
		}
	}

	if data, err := fs.ReadFile(fsys, ModulesFile); err == nil {
		var mf modulesFile
		if err := toml2.Unmarshal(data, &mf); err != nil {
			errs = append(errs, fmt.Errorf("failed to parse %s: %w", ModulesFile, err))
		} else {
			for _, mod := range mf.Modules {
				if mod.Path == "" {
					continue
				}
				names := []string{mod.Name}
				if mod.ID != mod.Name {
					names = append(names, mod.ID)
				}
				for _, name := range names {
					if name != "" {
						m.Entries = append(m.Entries, ManifestEntry{Module: name, Dir: cleanDir(mod.Path), Source: ModulesFile})
					}
				}
			}
		}
	}

	if data, err := fs.ReadFile(fsys, GoModFile); err == nil {
		f, err := modfile.ParseLax(GoModFile, data, nil)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to parse %s: %w", GoModFile, err))
		} else if f.Module != nil {
			m.GoModule = f.Module.Mod.Path
		}
	}

	// Longest module prefix first, then name, for deterministic matching.
	sort.SliceStable(m.Entries, func(i, j int) bool {
		a, b := moduleParts(m.Entries[i].Module), moduleParts(m.Entries[j].Module)
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		if m.Entries[i].Module != m.Entries[j].Module {
			return m.Entries[i].Module < m.Entries[j].Module
		}
		return m.Entries[i].Dir < m.Entries[j].Dir
	})
	return m, errs
}

func cleanDir(d string) string {
	d = path.Clean(strings.ReplaceAll(d, "\\", "/"))
	if d == "." {
		return ""
	}
	return strings.TrimPrefix(d, "./")
}

// moduleParts splits a dotted or slashed module path.
func moduleParts(module string) []string {
	if module == "" {
		return nil
	}
	return strings.FieldsFunc(module, func(r rune) bool { return r == '.' || r == '/' })
}
