package catalog

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadFile reads a catalogue file and tags every record with inv.
// Supported formats: .csv, .tsv (header row required) and .json (array of records).
// Records without an id or name are skipped.
func LoadFile(path string, inv Inventory) ([]Process, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv":
		return loadDelimited(path, inv)
	case ".json":
		return loadJSON(path, inv)
	default:
		return nil, fmt.Errorf("unsupported catalogue format %q (supported: .csv, .tsv, .json)", filepath.Ext(path))
	}
}

func loadDelimited(path string, inv Inventory) ([]Process, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	if strings.ToLower(filepath.Ext(path)) == ".tsv" {
		reader.Comma = '\t'
	}
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing catalogue %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, nil
	}

	cols := map[string]int{}
	for i, h := range records[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"id", "name"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("catalogue %s: missing %q column", path, required)
		}
	}

	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	out := make([]Process, 0, len(records)-1)
	for _, row := range records[1:] {
		p := Process{
			ID:        field(row, "id"),
			Name:      field(row, "name"),
			Category:  field(row, "category"),
			Unit:      field(row, "unit"),
			Inventory: inv,
		}
		if p.ID == "" || p.Name == "" {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func loadJSON(path string, inv Inventory) ([]Process, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}

	var raw []Process
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON in %s: %w", path, err)
	}

	out := make([]Process, 0, len(raw))
	for _, p := range raw {
		p.ID = strings.TrimSpace(p.ID)
		p.Name = strings.TrimSpace(p.Name)
		if p.ID == "" || p.Name == "" {
			continue
		}
		p.Inventory = inv
		out = append(out, p)
	}
	return out, nil
}
