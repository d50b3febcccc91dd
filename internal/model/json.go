package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// jsonbValue marshals v for storage in a JSONB column.
func jsonbValue(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// jsonbScan unmarshals a JSONB column into dst.
func jsonbScan(src any, dst any) error {
	switch data := src.(type) {
	case []byte:
		return json.Unmarshal(data, dst)
	case string:
		return json.Unmarshal([]byte(data), dst)
	case nil:
		return nil
	default:
		return fmt.Errorf("unsupported jsonb source type %T", src)
	}
}
