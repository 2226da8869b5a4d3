package postgresql

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// toJSONB serializes a value for a JSONB column, mapping empty values
// to NULL so the columns stay queryable with IS NULL.
func toJSONB(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if len(v) == 0 {
			return nil, nil
		}
	case []string:
		if len(v) == 0 {
			return nil, nil
		}
	case []map[string]any:
		if len(v) == 0 {
			return nil, nil
		}
	}

	serialized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize jsonb value: %w", err)
	}

	return serialized, nil
}

// fromJSONB deserializes a nullable JSONB column into target.
func fromJSONB(raw []byte, target any) error {
	if len(raw) == 0 {
		return nil
	}

	err := json.Unmarshal(raw, target)
	if err != nil {
		return fmt.Errorf("failed to deserialize jsonb value: %w", err)
	}

	return nil
}

// nullableTime converts sql.NullTime into the *time.Time the models use.
func nullableTime(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}

	t := value.Time

	return &t
}

// timeOrNil converts a *time.Time into a driver-friendly value.
func timeOrNil(value *time.Time) any {
	if value == nil {
		return nil
	}

	return *value
}

// nullableString converts sql.NullString into a plain string.
func nullableString(value sql.NullString) string {
	if !value.Valid {
		return ""
	}

	return value.String
}

// stringOrNil maps empty strings to NULL for nullable UUID columns.
func stringOrNil(value string) any {
	if value == "" {
		return nil
	}

	return value
}
