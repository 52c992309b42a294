package utils

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadJSONFile читает JSON-файл и декодирует его в значение типа T.
func LoadJSONFile[T any](filePath string) (T, error) {
	var out T
	data, err := os.ReadFile(filePath)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to decode %s: %w", filePath, err)
	}
	return out, nil
}
