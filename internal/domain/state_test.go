package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCloneIsDeep(t *testing.T) {
	s := NewRequestState("u1", "t1", "r1", "optimize")
	s.RecordStage(StageResult{
		Stage:       "data",
		Status:      StageStatusCompleted,
		Output:      json.RawMessage(`{"gpus":4}`),
		Attempts:    1,
		CompletedAt: time.Now().UTC(),
	})

	c := s.Clone()
	c.Status = RunStatusFailed
	c.RecordStage(StageResult{Stage: "optimization", Status: StageStatusCompleted})
	out := c.StageResults["data"]
	out.Output[1] = 'X'
	c.StageResults["data"] = out

	if s.Status != RunStatusPending {
		t.Fatalf("clone mutation leaked into status: %s", s.Status)
	}
	if _, ok := s.StageResults["optimization"]; ok {
		t.Fatalf("clone mutation leaked into stage results")
	}
	if len(s.ExecutionOrder) != 1 {
		t.Fatalf("clone mutation leaked into execution order: %v", s.ExecutionOrder)
	}
	if string(s.StageResults["data"].Output) != `{"gpus":4}` {
		t.Fatalf("clone shares output buffer: %s", s.StageResults["data"].Output)
	}
}

func TestRecordStageSkippedNotInExecutionOrder(t *testing.T) {
	s := NewRequestState("u1", "t1", "r1", "optimize")
	s.RecordStage(StageResult{Stage: "triage", Status: StageStatusCompleted})
	s.RecordStage(StageResult{Stage: "actions", Status: StageStatusSkipped})
	s.RecordStage(StageResult{Stage: "reporting", Status: StageStatusFailed})

	want := []string{"triage", "reporting"}
	if len(s.ExecutionOrder) != len(want) {
		t.Fatalf("unexpected execution order: %v", s.ExecutionOrder)
	}
	for i := range want {
		if s.ExecutionOrder[i] != want[i] {
			t.Fatalf("unexpected execution order: %v", s.ExecutionOrder)
		}
	}
	if _, ok := s.StageResults["actions"]; !ok {
		t.Fatalf("skipped stage must still be recorded in results")
	}
}

func TestStageCompleted(t *testing.T) {
	s := NewRequestState("u1", "t1", "r1", "optimize")
	if s.StageCompleted("data") {
		t.Fatalf("empty state reports completed stage")
	}
	s.RecordStage(StageResult{Stage: "data", Status: StageStatusFailed})
	if s.StageCompleted("data") {
		t.Fatalf("failed stage reported as completed")
	}
	s.RecordStage(StageResult{Stage: "data", Status: StageStatusCompleted})
	if !s.StageCompleted("data") {
		t.Fatalf("completed stage not reported")
	}
}
