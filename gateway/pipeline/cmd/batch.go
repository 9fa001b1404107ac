package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/goccy/go-yaml"

	"github.com/byte4ever/repogate/gateway/command"
)

type batchFormat int

const (
	formatJSON batchFormat = iota
	formatYAML
)

// batchFile is the object form of a batch; a bare list of
// commands is accepted too.
type batchFile struct {
	Commands []command.Command `json:"commands" yaml:"commands"`
}

// loadBatch reads a batch file, YAML when its extension is
// .yaml or .yml, JSON otherwise.
func loadBatch(path string) ([]command.Command, error) {
	const errCtx = "loading batch"

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	defer f.Close()

	format := formatJSON

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = formatYAML
	}

	cmds, err := decodeBatch(f, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", errCtx, path, err)
	}

	return cmds, nil
}

// decodeBatch reads either a list of commands or an object
// with a "commands" list.
func decodeBatch(r io.Reader, format batchFormat) ([]command.Command, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading batch: %w", err)
	}

	unmarshal := func(b []byte, v any) error {
		return json.Unmarshal(b, v)
	}

	if format == formatYAML {
		unmarshal = func(b []byte, v any) error {
			return yaml.Unmarshal(b, v)
		}
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty batch")
	}

	if isList(trimmed, format) {
		var cmds []command.Command
		if err := unmarshal(trimmed, &cmds); err != nil {
			return nil, fmt.Errorf("decoding batch: %w", err)
		}

		return cmds, nil
	}

	var bf batchFile
	if err := unmarshal(trimmed, &bf); err != nil {
		return nil, fmt.Errorf("decoding batch: %w", err)
	}

	return bf.Commands, nil
}

// isList reports whether the document is a top-level
// sequence.
func isList(data []byte, format batchFormat) bool {
	if data[0] == '[' {
		return true
	}

	if format != formatYAML {
		return false
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || line == "---" {
			continue
		}

		return strings.HasPrefix(line, "- ") || line == "-"
	}

	return false
}
