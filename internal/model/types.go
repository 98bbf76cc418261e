package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringSlice 以JSON文本存储的字符串数组列
type StringSlice []string

// Value 实现 driver.Valuer 接口
func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan 实现 sql.Scanner 接口
func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for StringSlice: %T", value)
	}

	if len(data) == 0 {
		*s = StringSlice{}
		return nil
	}

	return json.Unmarshal(data, s)
}
