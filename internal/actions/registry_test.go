package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

type stubHandler struct {
	typ schema.ActionType
}

func (s stubHandler) Type() schema.ActionType { return s.typ }
func (s stubHandler) Description() string     { return "stub" }
func (s stubHandler) Compute(context.Context, *RecordContext, store.Action) (*string, error) {
	return nil, nil
}

func TestDefaultRegistry_HasBuiltins(t *testing.T) {
	reg := NewDefaultRegistry(expressions.NewExprEngine())

	for _, typ := range []schema.ActionType{
		schema.ActionUpdateValue, schema.ActionSetDefault, schema.ActionCopyFrom, schema.ActionCalculate,
	} {
		assert.True(t, reg.Has(typ), typ)
	}

	infos := reg.List()
	require.Len(t, infos, 4)
	assert.Equal(t, schema.ActionCalculate, infos[0].Type)
	assert.Equal(t, schema.ActionUpdateValue, infos[3].Type)
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(stubHandler{typ: "NOTIFY"}))

	err := reg.Register(stubHandler{typ: "NOTIFY"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(err))
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(reg.Register(nil)))
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(reg.Register(stubHandler{})))
}

func TestRegistry_GetUnknown(t *testing.T) {
	_, err := NewRegistry().Get(schema.ActionUpdateValue)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeActionUnavailable, schema.CodeOf(err))
}
