package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// scanJSONB decodes a jsonb column into dest. pgx hands back []byte, the
// simple protocol a string. A NULL column leaves dest as it was.
func scanJSONB(dest any, src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("jsonb column: cannot scan %T into %T", src, dest)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("jsonb column: %w", err)
	}
	return nil
}

// valueJSONB encodes v for a jsonb parameter; nil stays SQL NULL.
func valueJSONB(v any) (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jsonb column: %w", err)
	}
	return b, nil
}
