// Package file provides file-based storage for workflow definitions, one
// JSON document per workflow.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dirigent-io/dirigent/pkg/models"
)

// Store reads and writes workflows under <root>/workflows.
type Store struct {
	root string
}

// NewStore creates a store rooted at the given directory. A file:// prefix
// is accepted and stripped.
func NewStore(root string) *Store {
	return &Store{root: strings.Replace(root, "file://", "", 1)}
}

// Workflows returns all stored workflows sorted by name.
func (s *Store) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	root := os.DirFS(path.Join(s.root, "workflows"))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		workflowID := file[:len(file)-5]

		workflow, err := s.WorkflowByID(ctx, workflowID)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
		}

		if workflow != nil {
			workflows = append(workflows, workflow)
		}
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].Name < workflows[j].Name
	})

	return workflows, nil
}

// WorkflowByID retrieves one workflow. A missing file is (nil, nil).
func (s *Store) WorkflowByID(_ context.Context, workflowID string) (*models.Workflow, error) {
	filePath := filepath.Clean(path.Join(s.root, "workflows", workflowID+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to fetch workflow %s: %w", workflowID, err)
	}

	var workflow models.Workflow

	err = json.Unmarshal(body, &workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", workflowID, err)
	}

	return &workflow, nil
}

// SaveWorkflow validates and persists a workflow, stamping timestamps.
func (s *Store) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	err := workflow.Validate()
	if err != nil {
		return err
	}

	err = os.MkdirAll(path.Join(s.root, "workflows"), 0750)
	if err != nil {
		return fmt.Errorf("failed to create workflows directory: %w", err)
	}

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	data, err := json.MarshalIndent(workflow, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %w", workflow.ID, err)
	}

	filePath := path.Join(s.root, "workflows", workflow.ID+".json")

	return os.WriteFile(filePath, data, 0600)
}

// DeleteWorkflow removes a workflow. Deleting a missing workflow is a no-op.
func (s *Store) DeleteWorkflow(_ context.Context, id string) error {
	filePath := path.Join(s.root, "workflows", id+".json")

	err := os.Remove(filePath)
	if err != nil && os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	return nil
}

// HealthCheck verifies the root directory exists.
func (s *Store) HealthCheck(_ context.Context) error {
	_, err := os.Stat(s.root)
	if os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return err
}

func (s *Store) Close(_ context.Context) error { return nil }
