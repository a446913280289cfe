package schema

import (
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
	r.AddError("edges/e1", ErrCodeValidation, "source node not found")

	assert.False(t, r.Valid())
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "edges/e1", r.Errors[0].Path)
	assert.Equal(t, ErrCodeValidation, r.Errors[0].Code)
	assert.Equal(t, "source node not found", r.Errors[0].Message)
	assert.Equal(t, SeverityError, r.Errors[0].Severity)
}

func TestValidationResult_AddWarning(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("nodes/n3", ErrCodeValidation, "node is disconnected")

	assert.True(t, r.Valid(), "warnings alone should not make result invalid")
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)
}

func TestValidationResult_Merge(t *testing.T) {
	r1 := &ValidationResult{}
	r1.AddError("workflow", ErrCodeValidation, "err1")
	r1.AddWarning("workflow", ErrCodeValidation, "warn1")

	r2 := &ValidationResult{}
	r2.AddError("nodes/a", ErrCodeValidation, "err2")
	r2.AddWarning("nodes/b", ErrCodeValidation, "warn2")

	r1.Merge(r2)

	assert.Len(t, r1.Errors, 2)
	assert.Len(t, r1.Warnings, 2)
}

func TestValidationResult_MergeNil(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("workflow", ErrCodeValidation, "err")
	r.Merge(nil)
	assert.Len(t, r.Errors, 1)
}

func TestValidationResult_Messages(t *testing.T) {
	r := &ValidationResult{}
	r.AddErrorf("nodes/a", ErrCodeValidation, "node %s has no url", "a")
	r.AddWarningf("nodes/b", ErrCodeValidation, "node %s is disconnected", "b")

	assert.Equal(t, []string{"node a has no url"}, r.ErrorMessages())
	assert.Equal(t, []string{"node b is disconnected"}, r.WarningMessages())
}

func TestValidationResult_ToError_Valid(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("workflow", ErrCodeValidation, "just a warning")
	assert.Nil(t, r.ToError())
}

func TestValidationResult_ToError_SingleError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("workflow", ErrCodeValidation, "workflow must have at least one node")

	err := r.ToError()
	require.NotNil(t, err)

	wErr, ok := err.(*WeftError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeValidation, wErr.Code)
	assert.Equal(t, "workflow must have at least one node", wErr.Message)
	assert.Equal(t, 1, wErr.Details["error_count"])
}

func TestValidationResult_ToError_MultipleErrors(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("workflow", ErrCodeValidation, "err1")
	r.AddError("workflow", ErrCodeValidation, "err2")
	r.AddWarning("workflow", ErrCodeValidation, "warn1")

	err := r.ToError()
	require.NotNil(t, err)

	wErr, ok := err.(*WeftError)
	require.True(t, ok)
	assert.Contains(t, wErr.Message, "2 errors")
	assert.Equal(t, 2, wErr.Details["error_count"])
	assert.Equal(t, 1, wErr.Details["warning_count"])
}
