package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap is the free-form data attached to a case, stored as a JSON object.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(m))
	if err != nil {
		return nil, fmt.Errorf("marshal data map: %w", err)
	}
	return string(b), nil
}

func (m *JSONMap) Scan(src any) error {
	raw, err := rawJSON(src)
	if err != nil {
		return err
	}
	out := JSONMap{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("unmarshal data map: %w", err)
		}
	}
	*m = out
	return nil
}

// StringList is an ordered list stored as a JSON array.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return nil, nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(src any) error {
	raw, err := rawJSON(src)
	if err != nil {
		return err
	}
	if len(raw) == 0 || string(raw) == "null" {
		*l = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("unmarshal string list: %w", err)
	}
	*l = out
	return nil
}

func rawJSON(src any) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported json column type %T", src)
	}
}
