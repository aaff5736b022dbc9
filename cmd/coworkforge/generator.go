package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sopaco/cowork-forge-sub001/internal/orchestrator"
	"github.com/sopaco/cowork-forge-sub001/internal/verify"
)

// fileGenerator reads stage content prepared by a human (or an upstream
// tool) from an input directory. Each stage consumes <dir>/<stage>.json
// (verbatim payload) or <dir>/<stage>.md (wrapped as {"content": ...}).
// A missing file fails the stage as retryable: prepare the file, then
// resume the session.
//
// Verification commands for the coding and check stages are declared in
// <dir>/commands.yaml when present.
type fileGenerator struct {
	dir string
}

func newFileGenerator(dir string) *fileGenerator {
	return &fileGenerator{dir: dir}
}

func (g *fileGenerator) Generate(_ context.Context, stage orchestrator.Stage, session *orchestrator.Session) (*orchestrator.Generated, error) {
	payload, summary, err := g.readStageInput(stage)
	if err != nil {
		return nil, err
	}

	commands, err := g.readCommands()
	if err != nil {
		return nil, err
	}

	return &orchestrator.Generated{
		Payload:  payload,
		Summary:  summary,
		Lineage:  completedArtifacts(session),
		Commands: commands,
	}, nil
}

func (g *fileGenerator) readStageInput(stage orchestrator.Stage) (json.RawMessage, []string, error) {
	jsonPath := filepath.Join(g.dir, string(stage)+".json")
	if data, err := os.ReadFile(jsonPath); err == nil {
		if !json.Valid(data) {
			return nil, nil, fmt.Errorf("%s is not valid JSON", jsonPath)
		}
		return data, []string{fmt.Sprintf("%s input from %s", stage, filepath.Base(jsonPath))}, nil
	}

	mdPath := filepath.Join(g.dir, string(stage)+".md")
	data, err := os.ReadFile(mdPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("no input for stage %s: create %s or %s and resume",
			stage, jsonPath, mdPath)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read stage input: %w", err)
	}

	payload, err := json.Marshal(map[string]string{"content": string(data)})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode stage input: %w", err)
	}
	return payload, summarize(string(data)), nil
}

func (g *fileGenerator) readCommands() ([]verify.Command, error) {
	data, err := os.ReadFile(filepath.Join(g.dir, "commands.yaml"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read command declarations: %w", err)
	}
	return verify.LoadCommands(data)
}

// summarize returns the first non-empty line of a document, stripped of
// Markdown heading markers.
func summarize(content string) []string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		if line != "" {
			return []string{line}
		}
	}
	return nil
}

// completedArtifacts lists the artifact ids of every completed stage, in
// pipeline order, as lineage for the next artifact.
func completedArtifacts(session *orchestrator.Session) []string {
	var ids []string
	for _, stage := range orchestrator.AllStages() {
		if st := session.Status(stage); st != nil && st.State == orchestrator.StateCompleted && st.ArtifactID != "" {
			ids = append(ids, st.ArtifactID)
		}
	}
	return ids
}

// stdinApprover asks the operator to approve each gate on the terminal.
type stdinApprover struct {
	in *bufio.Reader
}

func newStdinApprover() *stdinApprover {
	return &stdinApprover{in: bufio.NewReader(os.Stdin)}
}

func (a *stdinApprover) Confirm(ctx context.Context, prompt string) (bool, error) {
	type answer struct {
		ok  bool
		err error
	}
	ch := make(chan answer, 1)

	go func() {
		fmt.Fprintf(os.Stderr, "%s [y/N] ", prompt)
		line, err := a.in.ReadString('\n')
		if err != nil {
			ch <- answer{err: err}
			return
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			ch <- answer{ok: true}
		default:
			ch <- answer{ok: false}
		}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-ch:
		return a.ok, a.err
	}
}
