package config

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/procam/logging"
	"go.viam.com/procam/utils"
)

// Read reads parameters from the given file. Environment variables in the file are expanded before
// it is parsed, fields the file leaves out take their Default value, and the result is validated.
func Read(filePath string, logger logging.Logger) (*CalibrationParameters, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %q", filePath)
	}
	return FromReader(filePath, bytes.NewReader(buf), logger)
}

// FromReader reads parameters from r; originalPath names the source in errors.
func FromReader(originalPath string, r io.Reader, logger logging.Logger) (*CalibrationParameters, error) {
	var raw map[string]interface{}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrapf(err, "cannot parse config %q", originalPath)
	}

	cfg := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Result:      &cfg,
		ErrorUnused: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "error creating decoder")
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, errors.Wrapf(err, "cannot decode config %q", originalPath)
	}
	if err := cfg.Validate(originalPath); err != nil {
		return nil, err
	}
	logger.Debugw("read config", "path", originalPath, "object", cfg.Object, "n_boards", cfg.NBoards)
	return &cfg, nil
}

// Write saves the parameters as indented JSON.
func Write(filePath string, cfg *CalibrationParameters) (err error) {
	if err := utils.EnsureDir(filepath.Dir(filePath)); err != nil {
		return err
	}
	//nolint:gosec
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "writing config %q", filePath)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}
