package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// NewBuiltinRegistry returns a registry seeded with the platform tools
// the pipeline stages call.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()

	r.MustRegister("gpu.metrics.query", func(ctx context.Context, userID string, args json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"gpus":4,"avg_utilization":0.42,"peak_utilization":0.87,"idle_hours":31}`), nil
	})
	r.MustRegister("optimizer.plan", func(ctx context.Context, userID string, args json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"recommendations":["batch_inference","mixed_precision","consolidate_idle_nodes"]}`), nil
	})
	r.MustRegister("actions.apply", func(ctx context.Context, userID string, args json.RawMessage) (json.RawMessage, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("no actions supplied")
		}
		return json.RawMessage(`{"applied":true}`), nil
	})
	r.MustRegister("report.render", func(ctx context.Context, userID string, args json.RawMessage) (json.RawMessage, error) {
		out, err := json.Marshal(map[string]string{
			"report": "utilization report for " + userID,
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	})
	r.MustRegister("synthetic.generate", func(ctx context.Context, userID string, args json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"samples":128,"profile":"load_test"}`), nil
	})
	r.MustRegister("corpus.stats", func(ctx context.Context, userID string, args json.RawMessage) (json.RawMessage, error) {
		out, err := json.Marshal(map[string]any{
			"owner":     userID,
			"documents": 0,
			"stale":     0,
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	})

	return r
}
