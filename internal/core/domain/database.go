package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// DatabaseStatus is the lifecycle flag of a business database.
type DatabaseStatus string

const (
	DatabaseActive   DatabaseStatus = "active"
	DatabaseInactive DatabaseStatus = "inactive"
)

// BusinessDatabase is a logical collection a business defines.
type BusinessDatabase struct {
	ID          string          `json:"id"`
	BusinessID  string          `json:"business_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	Status      DatabaseStatus  `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// DatabaseStats summarises the contents of a database.
type DatabaseStats struct {
	Tables      int `json:"tables"`
	DataSources int `json:"data_sources"`
	Bindings    int `json:"agent_bindings"`
}

// DatabaseInfo is a database with its statistics.
type DatabaseInfo struct {
	BusinessDatabase
	Statistics DatabaseStats `json:"statistics"`
}

// SchemaDefinition is the accepted shape of a declared schema.
type SchemaDefinition struct {
	Tables []SchemaTable `json:"tables"`
}

// SchemaTable is one declared table.
type SchemaTable struct {
	Name    string         `json:"name"`
	Columns []SchemaColumn `json:"columns"`
}

// SchemaColumn is one declared column.
type SchemaColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ValidateSchema checks a declared schema document.
// An empty document is valid; otherwise it needs a tables list whose
// entries name their columns and column types.
func ValidateSchema(raw json.RawMessage) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return fmt.Errorf("%w: schema must be a JSON object", ErrInvalidInput)
	}
	tablesRaw, ok := top["tables"]
	if !ok {
		return fmt.Errorf("%w: schema must contain 'tables'", ErrInvalidInput)
	}
	var tables []map[string]json.RawMessage
	if err := json.Unmarshal(tablesRaw, &tables); err != nil {
		return fmt.Errorf("%w: 'tables' must be a list", ErrInvalidInput)
	}
	for i, table := range tables {
		if _, ok := table["name"]; !ok {
			return fmt.Errorf("%w: table %d must have 'name'", ErrInvalidInput, i)
		}
		colsRaw, ok := table["columns"]
		if !ok {
			return fmt.Errorf("%w: table %d must have 'columns'", ErrInvalidInput, i)
		}
		var cols []map[string]json.RawMessage
		if err := json.Unmarshal(colsRaw, &cols); err != nil {
			return fmt.Errorf("%w: table %d 'columns' must be a list", ErrInvalidInput, i)
		}
		for j, col := range cols {
			if _, ok := col["name"]; !ok {
				return fmt.Errorf("%w: table %d column %d must have 'name'", ErrInvalidInput, i, j)
			}
			if _, ok := col["type"]; !ok {
				return fmt.Errorf("%w: table %d column %d must have 'type'", ErrInvalidInput, i, j)
			}
		}
	}
	return nil
}
