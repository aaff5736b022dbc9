package verify

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Kind is the detected project ecosystem.
type Kind string

const (
	KindRust    Kind = "rust"
	KindGo      Kind = "go"
	KindNode    Kind = "node"
	KindPython  Kind = "python"
	KindUnknown Kind = "unknown"
)

// ProjectInfo describes a detected project.
type ProjectInfo struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name,omitempty"`
}

// marker maps a manifest file to its ecosystem. Order matters: the first
// match wins when a directory carries several manifests.
type marker struct {
	file string
	kind Kind
}

var markers = []marker{
	{"Cargo.toml", KindRust},
	{"go.mod", KindGo},
	{"package.json", KindNode},
	{"pyproject.toml", KindPython},
	{"requirements.txt", KindPython},
}

// Detect inspects root for ecosystem marker files. Absence of all markers
// yields KindUnknown. The project name is pulled from the manifest when the
// format carries one.
func Detect(root string) ProjectInfo {
	for _, m := range markers {
		path := filepath.Join(root, m.file)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return ProjectInfo{
			Kind: m.kind,
			Name: manifestName(m.kind, path),
		}
	}
	return ProjectInfo{Kind: KindUnknown}
}

// cargoManifest is the subset of Cargo.toml we read.
type cargoManifest struct {
	Package struct {
		Name string `toml:"name"`
	} `toml:"package"`
}

// pyProject is the subset of pyproject.toml we read.
type pyProject struct {
	Project struct {
		Name string `toml:"name"`
	} `toml:"project"`
}

// nodeManifest is the subset of package.json we read during detection.
type nodeManifest struct {
	Name string `json:"name"`
}

func manifestName(kind Kind, path string) string {
	switch kind {
	case KindRust:
		var m cargoManifest
		if _, err := toml.DecodeFile(path, &m); err != nil {
			return ""
		}
		return m.Package.Name

	case KindPython:
		if filepath.Base(path) != "pyproject.toml" {
			return ""
		}
		var m pyProject
		if _, err := toml.DecodeFile(path, &m); err != nil {
			return ""
		}
		return m.Project.Name

	case KindNode:
		data, err := os.ReadFile(path)
		if err != nil {
			return ""
		}
		var m nodeManifest
		if err := json.Unmarshal(data, &m); err != nil {
			return ""
		}
		return m.Name

	case KindGo:
		return goModuleName(path)
	}
	return ""
}

// goModuleName reads the module line from go.mod.
func goModuleName(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if rest, ok := strings.CutPrefix(line, "module "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}
