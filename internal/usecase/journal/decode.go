package journal

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"txflow/internal/errs"
)

// DecodeImportFile reads an import batch from a .toml, .yaml or .yml file.
func DecodeImportFile(path string) (ImportInput, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ImportInput{}, errs.Wrapf(err, "read import file %q", path)
	}
	return DecodeImport(filepath.Ext(path), raw)
}

// DecodeImport decodes raw according to the file extension ext.
func DecodeImport(ext string, raw []byte) (ImportInput, error) {
	var input ImportInput
	switch strings.ToLower(ext) {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&input); err != nil {
			return ImportInput{}, errs.Wrap(err, "decode toml import")
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&input); err != nil {
			return ImportInput{}, errs.Wrap(err, "decode yaml import")
		}
	default:
		return ImportInput{}, fmt.Errorf("unsupported import format %q", ext)
	}
	return input, nil
}
