// Package orchestrator sequences the production pipeline stage by stage.
// It enforces dependency order, persists session state after every
// transition, applies human-in-the-loop gates and supports mid-pipeline
// restart with bounded retry.
package orchestrator

import "fmt"

// Stage is one named step of the production workflow.
type Stage string

const (
	StageIdea         Stage = "idea"
	StageRequirements Stage = "requirements"
	StageDesign       Stage = "design"
	StagePlan         Stage = "plan"
	StageCoding       Stage = "coding"
	StageCheck        Stage = "check"
	StageDelivery     Stage = "delivery"
)

// AllStages returns the stages in pipeline order.
func AllStages() []Stage {
	return []Stage{
		StageIdea,
		StageRequirements,
		StageDesign,
		StagePlan,
		StageCoding,
		StageCheck,
		StageDelivery,
	}
}

// ParseStage validates a stage name from external input.
func ParseStage(name string) (Stage, error) {
	for _, s := range AllStages() {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q", name)
}

// StageSpec declares what a stage needs before it runs and how its output
// is validated and approved.
type StageSpec struct {
	// DependsOn lists the stages that must be Completed first.
	DependsOn []Stage

	// Verifying stages run the verification engine over the project and
	// fold the result into the Completed status's Verified flag.
	Verifying bool

	// Gated stages require human approval after completion before the
	// run may advance.
	Gated bool
}

// Registry maps each stage to its spec. Stages are swappable through the
// registry so tests can shrink the pipeline or rewire dependencies.
type Registry struct {
	order []Stage
	specs map[Stage]StageSpec
}

// NewRegistry returns the default seven-stage pipeline: a linear chain
// where coding and check are verifying and the content-producing stages
// are gated.
func NewRegistry() *Registry {
	return &Registry{
		order: AllStages(),
		specs: map[Stage]StageSpec{
			StageIdea:         {Gated: true},
			StageRequirements: {DependsOn: []Stage{StageIdea}, Gated: true},
			StageDesign:       {DependsOn: []Stage{StageRequirements}, Gated: true},
			StagePlan:         {DependsOn: []Stage{StageDesign}, Gated: true},
			StageCoding:       {DependsOn: []Stage{StagePlan}, Verifying: true, Gated: true},
			StageCheck:        {DependsOn: []Stage{StageCoding}, Verifying: true},
			StageDelivery:     {DependsOn: []Stage{StageCheck}},
		},
	}
}

// NewCustomRegistry builds a registry from an explicit stage order and
// spec map. Every stage in order must have a spec, and dependencies must
// name earlier stages only.
func NewCustomRegistry(order []Stage, specs map[Stage]StageSpec) (*Registry, error) {
	if len(order) == 0 {
		return nil, fmt.Errorf("registry needs at least one stage")
	}
	seen := make(map[Stage]int, len(order))
	for i, stage := range order {
		if _, dup := seen[stage]; dup {
			return nil, fmt.Errorf("stage %q appears twice", stage)
		}
		seen[stage] = i
	}
	for i, stage := range order {
		spec, ok := specs[stage]
		if !ok {
			return nil, fmt.Errorf("stage %q has no spec", stage)
		}
		for _, dep := range spec.DependsOn {
			j, ok := seen[dep]
			if !ok {
				return nil, fmt.Errorf("stage %q depends on unknown stage %q", stage, dep)
			}
			if j >= i {
				return nil, fmt.Errorf("stage %q depends on later stage %q", stage, dep)
			}
		}
	}
	return &Registry{order: order, specs: specs}, nil
}

// Order returns the stages in pipeline order.
func (r *Registry) Order() []Stage {
	out := make([]Stage, len(r.order))
	copy(out, r.order)
	return out
}

// Spec returns the spec for stage.
func (r *Registry) Spec(stage Stage) (StageSpec, bool) {
	spec, ok := r.specs[stage]
	return spec, ok
}

// Index returns the position of stage in the pipeline, or -1.
func (r *Registry) Index(stage Stage) int {
	for i, s := range r.order {
		if s == stage {
			return i
		}
	}
	return -1
}
