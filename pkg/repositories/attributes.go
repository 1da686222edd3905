package repositories

import (
	"encoding/json"
	"fmt"
)

// marshalAttributes encodes an attributes map for a JSONB column. Nil maps
// become the empty object so the NOT NULL DEFAULT '{}' columns stay uniform.
func marshalAttributes(attrs map[string]any) ([]byte, error) {
	if attrs == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attributes: %w", err)
	}
	return data, nil
}

func unmarshalAttributes(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	attrs := map[string]any{}
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attributes: %w", err)
	}
	return attrs, nil
}

// marshalStringList encodes a string slice for a JSONB column defaulting
// to '[]'.
func marshalStringList(items []string) ([]byte, error) {
	if items == nil {
		return []byte("[]"), nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal string list: %w", err)
	}
	return data, nil
}

func unmarshalStringList(data []byte) ([]string, error) {
	if len(data) == 0 {
		return []string{}, nil
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal string list: %w", err)
	}
	return items, nil
}
