package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_EmptyIsValid(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())
}

func TestValidationResult_AddError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("actions[0].source_attribute_id", ErrCodeValidation, "COPY_FROM requires a source attribute")

	assert.False(t, r.Valid())
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "actions[0].source_attribute_id", r.Errors[0].Path)
	assert.Equal(t, ErrCodeValidation, r.Errors[0].Code)
	assert.Equal(t, SeverityError, r.Errors[0].Severity)
}

func TestValidationResult_AddWarning(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("conditions[0].logical_operator", ErrCodeValidation, "ignored on first condition")

	assert.True(t, r.Valid(), "warnings alone should not make result invalid")
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)
}

func TestValidationResult_Merge(t *testing.T) {
	r1 := &ValidationResult{}
	r1.AddError(PathRoot, ErrCodeValidation, "err1")
	r1.AddWarning(PathRoot, ErrCodeValidation, "warn1")

	r2 := &ValidationResult{}
	r2.AddError("schedule.config", ErrCodeCompile, "err2")
	r2.AddWarning("actions[1]", ErrCodeValidation, "warn2")

	r1.Merge(r2)
	r1.Merge(nil)

	assert.Len(t, r1.Errors, 2)
	assert.Len(t, r1.Warnings, 2)
}

func TestValidationResult_ToError(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning(PathRoot, ErrCodeValidation, "just a warning")
	assert.Nil(t, r.ToError())

	r.AddError("actions[0].action_type", ErrCodeValidation, "unknown action type")
	err := r.ToError()
	require.NotNil(t, err)

	var afErr *AutoflowError
	require.True(t, errors.As(err, &afErr))
	assert.Equal(t, ErrCodeValidation, afErr.Code)
	assert.Equal(t, "actions[0].action_type: unknown action type", afErr.Message)
	assert.Equal(t, 1, afErr.Details["error_count"])

	r.AddError(PathRoot, ErrCodeValidation, "second")
	afErr = r.ToError().(*AutoflowError)
	assert.Equal(t, "2 validation errors; first actions[0].action_type: unknown action type", afErr.Message)
	assert.Equal(t, 1, afErr.Details["warning_count"])
}

func TestIssuePaths(t *testing.T) {
	assert.Equal(t, "conditions[2].operator", ConditionPath(2, "operator"))
	assert.Equal(t, "conditions[0]", ConditionPath(0, ""))
	assert.Equal(t, "actions[1].source_attribute_id", ActionPath(1, "source_attribute_id"))
	assert.Equal(t, "schedule", SchedulePath())
	assert.Equal(t, "schedule.config.cron", SchedulePath("config", "cron"))
}

func TestValidationResult_At(t *testing.T) {
	r := &ValidationResult{}
	r.AddError(ConditionPath(1, "value"), ErrCodeValidation, "not numeric")
	r.AddWarning(ConditionPath(1, "operator"), ErrCodeUnsupportedOperand, "unknown")
	r.AddError(ConditionPath(10, "value"), ErrCodeValidation, "other condition")
	r.AddError(SchedulePath("timezone"), ErrCodeValidation, "bad zone")

	at := r.At(ConditionPath(1, ""))
	require.Len(t, at, 2)
	assert.Equal(t, SeverityError, at[0].Severity)
	assert.Equal(t, SeverityWarning, at[1].Severity)

	assert.Len(t, r.At(PathConditions), 3)
	assert.Len(t, r.At(PathSchedule), 1)
	assert.Empty(t, r.At(PathActions))
}

func TestValidationResult_WarningMessages(t *testing.T) {
	r := &ValidationResult{}
	assert.Empty(t, r.WarningMessages())
	r.AddWarning(ActionPath(0, "source_attribute_id"), ErrCodeValidation, "copies onto itself")
	r.AddWarning(PathRoot, ErrCodeValidation, "whole definition")
	assert.Equal(t, []string{"actions[0].source_attribute_id: copies onto itself", "whole definition"}, r.WarningMessages())
}

func TestAutoflowError_CodeOfWrapped(t *testing.T) {
	base := NewErrorf(ErrCodeNotFound, "workflow %q not found", "wf-1")
	wrapped := fmt.Errorf("load workflow: %w", base)

	assert.Equal(t, ErrCodeNotFound, CodeOf(wrapped))
	assert.True(t, IsNotFound(wrapped))
	assert.Equal(t, "", CodeOf(errors.New("plain")))
	assert.Equal(t, `[NOT_FOUND] workflow "wf-1" not found`, base.Error())
}

func TestAutoflowError_Retryable(t *testing.T) {
	assert.True(t, NewError(ErrCodeStore, "db locked").IsRetryable())
	assert.True(t, NewError(ErrCodeTimeout, "slow").IsRetryable())
	assert.False(t, NewError(ErrCodeValidation, "bad").IsRetryable())

	cause := errors.New("disk full")
	err := NewError(ErrCodeStore, "write").WithCause(cause)
	assert.ErrorIs(t, err, cause)
}
