package review

import (
	"fmt"

	"github.com/JonMunkholm/bundlewizard/internal/document"
)

// Column names, in table order.
const (
	FieldResourceType = "resourceType"
	FieldID           = "id"
	FieldStatus       = "status"
	FieldName         = "name"
)

// Fields lists the projected columns in display order.
var Fields = []string{FieldResourceType, FieldID, FieldStatus, FieldName}

// Row is the table projection of one document entry.
type Row struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id"`
	Status       string `json:"status"`
	Name         string `json:"name"`
}

// Get returns the value of a column.
func (r Row) Get(field string) string {
	switch field {
	case FieldResourceType:
		return r.ResourceType
	case FieldID:
		return r.ID
	case FieldStatus:
		return r.Status
	case FieldName:
		return r.Name
	}
	return ""
}

func validField(field string) error {
	for _, f := range Fields {
		if f == field {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownField, field)
}

// project derives a row from an entry. Non-object entries and non-string
// values project to empty strings.
func project(entry any) Row {
	res := document.Resource(entry)
	return Row{
		ResourceType: document.StringField(res, FieldResourceType),
		ID:           document.StringField(res, FieldID),
		Status:       document.StringField(res, FieldStatus),
		Name:         document.StringField(res, FieldName),
	}
}

func projectAll(entries []any) []Row {
	rows := make([]Row, len(entries))
	for i, e := range entries {
		rows[i] = project(e)
	}
	return rows
}

// blankEntry is the entry inserted by AddRow.
func blankEntry() map[string]any {
	res := make(map[string]any, len(Fields))
	for _, f := range Fields {
		res[f] = ""
	}
	return map[string]any{"resource": res}
}
