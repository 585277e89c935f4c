package gcp

import (
	"context"
	"encoding/json"
	"fmt"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"

	"github.com/Lllllllleong/reportbatchflow/internal/errors"
)

// WorkflowParent is the resource name executions are created under.
func WorkflowParent(projectID, location, workflowID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID)
}

// WorkflowTrigger starts executions of one workflow.
type WorkflowTrigger struct {
	client *executions.Client
	parent string
}

// NewWorkflowTrigger creates an executions client for the workflow.
func NewWorkflowTrigger(ctx context.Context, projectID, location, workflowID string) (*WorkflowTrigger, error) {
	client, err := executions.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Workflows Executions client")
	}
	return &WorkflowTrigger{client: client, parent: WorkflowParent(projectID, location, workflowID)}, nil
}

// Trigger starts an execution with argument marshalled as JSON and returns its name.
func (t *WorkflowTrigger) Trigger(ctx context.Context, argument any) (string, error) {
	payload, err := json.Marshal(argument)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal workflow payload")
	}
	exec, err := t.client.CreateExecution(ctx, &executionspb.CreateExecutionRequest{
		Parent:    t.parent,
		Execution: &executionspb.Execution{Argument: string(payload)},
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to trigger workflow execution")
	}
	return exec.GetName(), nil
}

// Close releases the executions client.
func (t *WorkflowTrigger) Close() error {
	return t.client.Close()
}
