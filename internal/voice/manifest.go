package voice

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ManifestFileName is the voice library file expected in the samples directory.
const ManifestFileName = "voices.json"

// ErrInvalidManifest indicates a voices.json that does not match the schema.
var ErrInvalidManifest = errors.New("invalid voice manifest")

const manifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["voices"],
  "properties": {
    "voices": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "file"],
        "properties": {
          "id":          {"type": "string", "minLength": 1},
          "file":        {"type": "string", "minLength": 1},
          "name":        {"type": "string"},
          "description": {"type": "string"},
          "gender":      {"type": "string"},
          "style":       {"type": "string"}
        }
      }
    }
  }
}`

var manifestSchemaLoader = gojsonschema.NewStringLoader(manifestSchema)

type manifestRecord struct {
	ID          string `json:"id"`
	File        string `json:"file"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Gender      string `json:"gender"`
	Style       string `json:"style"`
}

type manifest struct {
	Voices []manifestRecord `json:"voices"`
}

func parseManifest(data []byte) (manifest, error) {
	result, err := gojsonschema.Validate(manifestSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return manifest{}, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			problems = append(problems, resultErr.String())
		}

		return manifest{}, fmt.Errorf("%w: %s", ErrInvalidManifest, strings.Join(problems, "; "))
	}

	var parsed manifest

	err = json.Unmarshal(data, &parsed)
	if err != nil {
		return manifest{}, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	return parsed, nil
}

// FindSamplesDir picks the voice samples directory. Candidates are tried in
// order and the first one holding a manifest wins; the environment override
// should be passed first. When none qualifies the first non-empty candidate is
// returned with found=false.
func FindSamplesDir(candidates ...string) (dir string, found bool) {
	fallback := ""

	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}

		if fallback == "" {
			fallback = candidate
		}

		if fileExists(filepath.Join(candidate, ManifestFileName)) {
			return candidate, true
		}
	}

	return fallback, false
}
