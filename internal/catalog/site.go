package catalog

import (
	"encoding/json"
	"html/template"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// pageTemplate renders the mirror's front page: every mirrored package with
// a link to its git mirror and download links per release.
var pageTemplate = template.Must(template.New("index").Parse(`<!doctype html>
<html><head><meta charset="UTF-8"><title>Elm packages</title></head><body><h1>Elm package mirror</h1>
{{range .}}<dl><dt><strong>{{.Name}}</strong> (<a href="git/{{.Name}}">Git</a>)</dt><dd>{{.Summary}}<br><strong>Releases:</strong> {{range $i, $v := .Versions}}{{if $i}}, {{end}}<a href="zipball{{$v.Href}}" download="{{$v.Download}}">{{$v.Version}}</a>{{end}}</dd></dl>
{{end}}</body></html>
`))

// sitePackage is one package on the rendered page.
type sitePackage struct {
	Name     string
	Summary  string
	Versions []siteVersion
}

// siteVersion is one downloadable release of a package.
type siteVersion struct {
	Name    string
	Version string
}

// Href is the zipball link target relative to the package's archive dir.
func (v siteVersion) Href() string {
	return "/" + v.Name + "/" + v.Version + ".zip"
}

// Download is the suggested filename for the zipball link.
func (v siteVersion) Download() string {
	_, repo, _ := strings.Cut(v.Name, "/")
	return repo + "-" + v.Version + ".zip"
}

// WriteIndexHTML gathers all downloaded descriptions under descriptionsRoot
// and renders the catalog page at pagePath. Unparseable description files
// are skipped with a warning.
func WriteIndexHTML(descriptionsRoot, pagePath string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	packages, err := gatherDescriptions(descriptionsRoot, logger)
	if err != nil {
		return err
	}

	f, err := os.Create(pagePath)
	if err != nil {
		return err
	}

	if err := pageTemplate.Execute(f, packages); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}

// gatherDescriptions reads every description file in the tree and groups
// releases by package, sorted by name and release version.
func gatherDescriptions(root string, logger *slog.Logger) ([]sitePackage, error) {
	paths, err := filepath.Glob(filepath.Join(root, "*", "*", "*.json"))
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*sitePackage)
	for _, path := range paths {
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			logger.Warn("unreadable description", "path", path, "error", readErr)
			continue
		}

		var desc Description
		if jsonErr := json.Unmarshal(data, &desc); jsonErr != nil {
			logger.Warn("unparseable description", "path", path, "error", jsonErr)
			continue
		}
		if strings.Count(desc.Name, "/") != 1 {
			logger.Warn("description with malformed package name", "path", path, "name", desc.Name)
			continue
		}

		pkg, ok := byName[desc.Name]
		if !ok {
			pkg = &sitePackage{Name: desc.Name}
			byName[desc.Name] = pkg
		}
		pkg.Summary = desc.Summary
		pkg.Versions = append(pkg.Versions, siteVersion{Name: desc.Name, Version: desc.Version})
	}

	packages := make([]sitePackage, 0, len(byName))
	for _, pkg := range byName {
		sortVersions(pkg.Versions)
		packages = append(packages, *pkg)
	}

	sort.Slice(packages, func(i, j int) bool {
		return packages[i].Name < packages[j].Name
	})

	return packages, nil
}

// sortVersions orders releases oldest first, semver-aware.
func sortVersions(versions []siteVersion) {
	sort.SliceStable(versions, func(i, j int) bool {
		vi, erri := semver.StrictNewVersion(versions[i].Version)
		vj, errj := semver.StrictNewVersion(versions[j].Version)
		if erri == nil && errj == nil {
			return vi.LessThan(vj)
		}
		return versions[i].Version < versions[j].Version
	})
}
