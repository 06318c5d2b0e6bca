// Package input loads the JSON documents that drive a scan: the target
// embeddings and the person map.
package input

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/andresmejia3/facescan/internal/types"
)

// ErrMalformedInput marks input files that cannot be used.
var ErrMalformedInput = errors.New("malformed input")

// LoadTargets reads an ordered JSON array of embeddings.
func LoadTargets(path string) ([]types.Embedding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read encodings %s: %v", ErrMalformedInput, path, err)
	}
	return ParseTargets(data)
}

// ParseTargets decodes an ordered JSON array of embeddings.
func ParseTargets(data []byte) ([]types.Embedding, error) {
	var targets []types.Embedding
	if err := json.Unmarshal(data, &targets); err != nil {
		return nil, fmt.Errorf("%w: encodings: %v", ErrMalformedInput, err)
	}
	for i, t := range targets {
		if len(t) == 0 {
			return nil, fmt.Errorf("%w: encoding %d is empty", ErrMalformedInput, i)
		}
	}
	return targets, nil
}

// CheckTargets reports targets whose length differs from dim.
func CheckTargets(targets []types.Embedding, dim int) error {
	for i, t := range targets {
		if len(t) != dim {
			return fmt.Errorf("%w: encoding %d has %d values, expected %d", ErrMalformedInput, i, len(t), dim)
		}
	}
	return nil
}

// LoadPersonMap reads a JSON object keyed by stringified target index.
func LoadPersonMap(path string) (types.PersonMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read person map %s: %v", ErrMalformedInput, path, err)
	}
	return ParsePersonMap(data)
}

// ParsePersonMap converts the string-keyed wire form into a PersonMap keyed
// by integer index. Keys must be canonical decimal indices ("1", not "01" or "+1").
func ParsePersonMap(data []byte) (types.PersonMap, error) {
	var raw map[string]types.Identity
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: person map: %v", ErrMalformedInput, err)
	}
	pm := make(types.PersonMap, len(raw))
	for key, id := range raw {
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || strconv.Itoa(idx) != key {
			return nil, fmt.Errorf("%w: person map key %q is not a target index", ErrMalformedInput, key)
		}
		pm[idx] = id
	}
	return pm, nil
}
