package globalvars

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a credential blob from a YAML or JSON file. Values may
// be written as JSON strings or as structured YAML, which is re-encoded
// as JSON.
//
//	json1Name: api
//	json1Value:
//	  baseUrl: https://example.com
//	  retries: 3
func LoadFile(path string) (Data, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return parseData(content)
}

func parseData(content []byte) (Data, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("parsing global variables: %w", err)
	}

	data := make(Data, len(raw))

	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			data[k] = ""
		case string:
			data[k] = val
		default:
			encoded, err := json.Marshal(val)
			if err != nil {
				return nil, fmt.Errorf("encoding %s: %w", k, err)
			}

			data[k] = string(encoded)
		}
	}

	return data, nil
}
