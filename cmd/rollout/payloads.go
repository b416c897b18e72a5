package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const maxPayloadLine = 16 << 20

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payloads: %w", err)
	}
	return data, nil
}

// decodeJSON decodes with json.Number so integers in payloads are forwarded
// unchanged.
func decodeJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return dec.Decode(v)
}

// loadPayload reads a single payload object from a JSON or YAML file, or JSON
// from stdin when path is "-".
func loadPayload(path string, stdin io.Reader) (map[string]any, error) {
	data, err := readInput(path, stdin)
	if err != nil {
		return nil, err
	}
	var p map[string]any
	if isYAML(path) {
		err = yaml.Unmarshal(data, &p)
	} else {
		err = decodeJSON(bytes.NewReader(data), &p)
	}
	if err != nil {
		return nil, fmt.Errorf("parse payload %s: %w", path, err)
	}
	if p == nil {
		return nil, fmt.Errorf("parse payload %s: expected an object", path)
	}
	return p, nil
}

// loadPayloads reads a batch: a YAML list of objects for .yaml and .yml files,
// otherwise JSON Lines with blank lines ignored.
func loadPayloads(path string, stdin io.Reader) ([]map[string]any, error) {
	data, err := readInput(path, stdin)
	if err != nil {
		return nil, err
	}

	if isYAML(path) {
		var ps []map[string]any
		if err := yaml.Unmarshal(data, &ps); err != nil {
			return nil, fmt.Errorf("parse payloads %s: %w", path, err)
		}
		for i, p := range ps {
			if p == nil {
				return nil, fmt.Errorf("parse payloads %s: item %d is not an object", path, i)
			}
		}
		return ps, nil
	}

	var ps []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), maxPayloadLine)
	for line := 1; sc.Scan(); line++ {
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var p map[string]any
		if err := decodeJSON(bytes.NewReader(text), &p); err != nil {
			return nil, fmt.Errorf("parse payloads %s line %d: %w", path, line, err)
		}
		if p == nil {
			return nil, fmt.Errorf("parse payloads %s line %d: expected an object", path, line)
		}
		ps = append(ps, p)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read payloads %s: %w", path, err)
	}
	return ps, nil
}
