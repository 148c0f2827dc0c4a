package validation

import (
	"context"

	"github.com/rendis/autoflow/pkg/schema"
)

// Validator checks workflow definitions before they are stored.
type Validator interface {
	ValidateDefinition(ctx context.Context, def *schema.WorkflowDefinition) error
}

// Reporter is a Validator that also exposes warnings.
type Reporter interface {
	Validator
	Validate(ctx context.Context, def *schema.WorkflowDefinition) *schema.ValidationResult
}

var _ Reporter = (*WorkflowValidator)(nil)
