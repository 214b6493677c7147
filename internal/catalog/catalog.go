// Package catalog holds the read-only quick reply and reply text catalogs.
package catalog

import (
	"bytes"
	"embed"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed data/*.yaml
var embedded embed.FS

var validate = validator.New(validator.WithRequiredStructEnabled())

// readSource returns the override file when path is set, otherwise the embedded default.
func readSource(path, name string) ([]byte, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("catalog: read %s: %w", path, err)
		}
		return data, nil
	}
	return embedded.ReadFile("data/" + name)
}

func decodeStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(out)
}
