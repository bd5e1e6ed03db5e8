package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/optiqlabs/optiq/internal/domain"
)

// DefaultStages returns the fixed stage order of the platform pipeline.
func DefaultStages() []Stage {
	return []Stage{
		&triageStage{},
		&dataStage{},
		&optimizationStage{},
		&actionsStage{},
		&reportingStage{},
		&syntheticDataStage{},
		&corpusAdminStage{},
	}
}

func record(state *domain.RequestState, stage string, output json.RawMessage) *domain.RequestState {
	state.RecordStage(domain.StageResult{
		Stage:       stage,
		Status:      domain.StageStatusCompleted,
		Output:      output,
		CompletedAt: time.Now().UTC(),
	})
	return state
}

// triageStage classifies the user request so later stages can branch on
// intent.
type triageStage struct{}

func (s *triageStage) Name() string { return "triage" }

func (s *triageStage) CheckEntryConditions(state *domain.RequestState) bool {
	return state.UserRequest != ""
}

func (s *triageStage) Execute(ctx context.Context, rc *RunContext, state *domain.RequestState) (*domain.RequestState, error) {
	rc.Think("classifying request")

	intent := "general"
	req := strings.ToLower(state.UserRequest)
	switch {
	case strings.Contains(req, "corpus"):
		intent = "corpus"
	case strings.Contains(req, "synthetic"):
		intent = "synthetic"
	case strings.Contains(req, "optimiz"), strings.Contains(req, "gpu"), strings.Contains(req, "utilization"):
		intent = "optimization"
	}

	out, err := json.Marshal(map[string]string{"intent": intent})
	if err != nil {
		return nil, err
	}
	return record(state, s.Name(), out), nil
}

// dataStage gathers the utilization metrics the rest of the pipeline
// works from.
type dataStage struct{}

func (s *dataStage) Name() string { return "data" }

func (s *dataStage) CheckEntryConditions(state *domain.RequestState) bool { return true }

func (s *dataStage) Execute(ctx context.Context, rc *RunContext, state *domain.RequestState) (*domain.RequestState, error) {
	rc.Think("collecting GPU metrics")
	out, err := rc.CallTool(ctx, "gpu.metrics.query", nil)
	if err != nil {
		return nil, err
	}
	return record(state, s.Name(), out), nil
}

// optimizationStage turns collected metrics into a recommendation plan.
type optimizationStage struct{}

func (s *optimizationStage) Name() string { return "optimization" }

func (s *optimizationStage) CheckEntryConditions(state *domain.RequestState) bool {
	return state.StageCompleted("data")
}

func (s *optimizationStage) Execute(ctx context.Context, rc *RunContext, state *domain.RequestState) (*domain.RequestState, error) {
	rc.Think("computing optimization plan")
	metrics := state.StageResults["data"].Output
	out, err := rc.CallTool(ctx, "optimizer.plan", metrics)
	if err != nil {
		return nil, err
	}
	return record(state, s.Name(), out), nil
}

// actionsStage applies the recommended actions.
type actionsStage struct{}

func (s *actionsStage) Name() string { return "actions" }

func (s *actionsStage) CheckEntryConditions(state *domain.RequestState) bool {
	return state.StageCompleted("optimization")
}

func (s *actionsStage) Execute(ctx context.Context, rc *RunContext, state *domain.RequestState) (*domain.RequestState, error) {
	plan := state.StageResults["optimization"].Output
	out, err := rc.CallTool(ctx, "actions.apply", plan)
	if err != nil {
		return nil, err
	}
	return record(state, s.Name(), out), nil
}

// reportingStage renders a user-facing summary of the run so far.
type reportingStage struct{}

func (s *reportingStage) Name() string { return "reporting" }

func (s *reportingStage) CheckEntryConditions(state *domain.RequestState) bool { return true }

func (s *reportingStage) Execute(ctx context.Context, rc *RunContext, state *domain.RequestState) (*domain.RequestState, error) {
	args, err := json.Marshal(map[string]any{
		"run_id": state.RunID,
		"stages": state.ExecutionOrder,
	})
	if err != nil {
		return nil, err
	}
	out, err := rc.CallTool(ctx, "report.render", args)
	if err != nil {
		return nil, err
	}
	return record(state, s.Name(), out), nil
}

// syntheticDataStage generates sample workloads from the collected
// metrics for offline validation of the plan.
type syntheticDataStage struct{}

func (s *syntheticDataStage) Name() string { return "synthetic-data" }

func (s *syntheticDataStage) CheckEntryConditions(state *domain.RequestState) bool {
	return state.StageCompleted("data")
}

func (s *syntheticDataStage) Execute(ctx context.Context, rc *RunContext, state *domain.RequestState) (*domain.RequestState, error) {
	rc.Think("generating synthetic workload samples")
	out, err := rc.CallTool(ctx, "synthetic.generate", state.StageResults["data"].Output)
	if err != nil {
		return nil, err
	}
	return record(state, s.Name(), out), nil
}

// corpusAdminStage reconciles the user's document corpus bookkeeping at
// the end of a run.
type corpusAdminStage struct{}

func (s *corpusAdminStage) Name() string { return "corpus-admin" }

func (s *corpusAdminStage) CheckEntryConditions(state *domain.RequestState) bool { return true }

func (s *corpusAdminStage) Execute(ctx context.Context, rc *RunContext, state *domain.RequestState) (*domain.RequestState, error) {
	out, err := rc.CallTool(ctx, "corpus.stats", nil)
	if err != nil {
		return nil, err
	}
	return record(state, s.Name(), out), nil
}
