package verify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// defaultCommands lists the commands run per detected kind when the caller
// supplied none. Test commands are optional: their failure warns but never
// blocks the pipeline.
var defaultCommands = map[Kind][]Command{
	KindRust: {
		{Phase: PhaseBuild, Cmd: "cargo build", Expect: "project compiles"},
		{Phase: PhaseCheck, Cmd: "cargo clippy --all-targets", Expect: "no lint errors", Optional: true},
		{Phase: PhaseTest, Cmd: "cargo test", Expect: "tests pass", Optional: true},
	},
	KindGo: {
		{Phase: PhaseBuild, Cmd: "go build ./...", Expect: "project compiles"},
		{Phase: PhaseCheck, Cmd: "go vet ./...", Expect: "vet is clean"},
		{Phase: PhaseTest, Cmd: "go test ./...", Expect: "tests pass", Optional: true},
	},
	KindNode: {
		{Phase: PhaseBuild, Cmd: "npm run build", Expect: "project builds"},
		{Phase: PhaseTest, Cmd: "npm test", Expect: "tests pass", Optional: true},
		{Phase: PhaseRun, Cmd: "npm start", Expect: "application starts"},
	},
	KindPython: {
		{Phase: PhaseCheck, Cmd: "python -m compileall -q .", Expect: "sources compile"},
		{Phase: PhaseTest, Cmd: "python -m pytest", Expect: "tests pass", Optional: true},
	},
	KindUnknown: nil,
}

// DefaultCommands returns a copy of the default command set for kind.
func DefaultCommands(kind Kind) []Command {
	src := defaultCommands[kind]
	out := make([]Command, len(src))
	copy(out, src)
	return out
}

// requiredNodeScripts are the package.json scripts the node defaults rely
// on. npm start is long-running, so instead of executing it the engine
// checks the script exists.
var requiredNodeScripts = []string{"build", "test", "start"}

// missingNodeScripts returns the required scripts absent from the
// package.json in root, sorted for stable reporting.
func missingNodeScripts(root string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(root, "package.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read package.json: %w", err)
	}

	var manifest struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse package.json: %w", err)
	}

	var missing []string
	for _, name := range requiredNodeScripts {
		if _, ok := manifest.Scripts[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing, nil
}

// LoadCommands parses an ordered command declaration list from YAML, as
// produced by an upstream plan stage:
//
//	commands:
//	  - phase: build
//	    cmd: go build ./...
//	    expect: project compiles
//	  - phase: test
//	    cmd: go test ./...
//	    optional: true
func LoadCommands(data []byte) ([]Command, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse command declarations: %w", err)
	}

	var declared struct {
		Commands []Command `koanf:"commands"`
	}
	if err := k.Unmarshal("", &declared); err != nil {
		return nil, fmt.Errorf("failed to decode command declarations: %w", err)
	}

	for i, cmd := range declared.Commands {
		if cmd.Cmd == "" {
			return nil, fmt.Errorf("command %d has no cmd", i)
		}
		switch cmd.Phase {
		case PhaseBuild, PhaseTest, PhaseCheck, PhaseRun:
		default:
			return nil, fmt.Errorf("command %d has invalid phase %q", i, cmd.Phase)
		}
	}
	return declared.Commands, nil
}
