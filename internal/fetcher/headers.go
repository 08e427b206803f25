package fetcher

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadExtraHeaders reads a JSON object of header name to value pairs.
// These are applied after the session defaults, so a captured browser
// profile can override Accept-Language, sec-ch-ua, and friends.
func LoadExtraHeaders(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read headers file: %w", err)
	}
	var headers map[string]string
	if err := json.Unmarshal(data, &headers); err != nil {
		return nil, fmt.Errorf("decode headers file %s: %w", path, err)
	}
	return headers, nil
}
