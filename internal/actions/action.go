package actions

import (
	"context"

	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

// Handler computes the new value of one action type for one record.
// A nil value with a nil error means "no-op, skip the write".
type Handler interface {
	Type() schema.ActionType
	Description() string
	Compute(ctx context.Context, rc *RecordContext, action store.Action) (*string, error)
}

// AttributeLookup resolves attribute metadata by id.
type AttributeLookup interface {
	GetAttribute(ctx context.Context, id string) (*store.Attribute, error)
}

// RecordContext is the state an action sees for one record: the values read
// when processing of the record started. Writes made by earlier actions on
// the same record are not reflected in Values.
type RecordContext struct {
	RecordID    string
	DataModelID string
	Values      map[string]*string
	Attributes  map[string]*store.Attribute

	lookup AttributeLookup
}

// NewRecordContext builds a RecordContext. attrs may be nil; lookup is used
// for attributes missing from attrs.
func NewRecordContext(recordID, dataModelID string, values map[string]*string, attrs map[string]*store.Attribute, lookup AttributeLookup) *RecordContext {
	if values == nil {
		values = map[string]*string{}
	}
	if attrs == nil {
		attrs = map[string]*store.Attribute{}
	}
	return &RecordContext{
		RecordID:    recordID,
		DataModelID: dataModelID,
		Values:      values,
		Attributes:  attrs,
		lookup:      lookup,
	}
}

// Value returns the snapshot value of attributeID, or nil when unset.
func (rc *RecordContext) Value(attributeID string) *string {
	return rc.Values[attributeID]
}

// Attribute returns attribute metadata from the preloaded map, falling back
// to the lookup.
func (rc *RecordContext) Attribute(ctx context.Context, id string) (*store.Attribute, error) {
	if a, ok := rc.Attributes[id]; ok && a != nil {
		return a, nil
	}
	if rc.lookup == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "attribute %q not found", id)
	}
	return rc.lookup.GetAttribute(ctx, id)
}

// HandlerInfo is a summary of a registered handler for listing.
type HandlerInfo struct {
	Type        schema.ActionType `json:"type"`
	Description string            `json:"description,omitempty"`
}
