package likelihood

import (
	"encoding/json"
	"fmt"
	"os"
)

// ObservedData is one imported dataset's measurement vector, produced by
// the data-import tooling.
type ObservedData struct {
	Values []float64 `json:"values"`
	Sigma  float64   `json:"sigma"`
}

// LoadObserved reads an observed-data artifact from disk.
func LoadObserved(path string) (*ObservedData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read data %s: %w", path, err)
	}

	var obs ObservedData
	if err := json.Unmarshal(data, &obs); err != nil {
		return nil, fmt.Errorf("parse data %s: %w", path, err)
	}
	if len(obs.Values) == 0 {
		return nil, fmt.Errorf("data %s: empty measurement vector", path)
	}
	if obs.Sigma <= 0 {
		obs.Sigma = 1
	}
	return &obs, nil
}
