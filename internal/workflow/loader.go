package workflow

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/lehigh-university-libraries/retoucher/internal/tools"
)

// stepRow is one workflow step in a parquet file.
type stepRow struct {
	Workflow string `parquet:"workflow"`
	Step     int32  `parquet:"step"`
	Tool     string `parquet:"tool"`
}

// Load reads workflows from a file. The format follows the extension: a
// single JSON document (.json), one workflow per line (.jsonl), or parquet
// rows of (workflow, step, tool).
func Load(path string) ([]Workflow, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".parquet":
		return loadParquet(path)
	case ".jsonl":
		return loadJSONL(path)
	case ".json":
		w, err := loadJSON(path)
		if err != nil {
			return nil, err
		}
		return []Workflow{w}, nil
	default:
		return nil, fmt.Errorf("unsupported file format: %s (supported: .json, .jsonl, .parquet)", ext)
	}
}

// Save writes workflows to a file in the format given by its extension.
func Save(path string, workflows ...Workflow) error {
	for _, w := range workflows {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("refusing to save %q: %w", w.Name, err)
		}
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".parquet":
		return saveParquet(path, workflows)
	case ".jsonl":
		return saveJSONL(path, workflows)
	case ".json":
		if len(workflows) != 1 {
			return fmt.Errorf("a .json file holds exactly one workflow, got %d", len(workflows))
		}
		data, err := json.MarshalIndent(workflows[0], "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal workflow: %w", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("failed to write workflow file: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported file format: %s (supported: .json, .jsonl, .parquet)", ext)
	}
}

// Decode parses a JSON workflow and validates it.
func Decode(r io.Reader) (Workflow, error) {
	var w Workflow
	if err := json.NewDecoder(r).Decode(&w); err != nil {
		return Workflow{}, fmt.Errorf("failed to parse workflow: %w", err)
	}
	if err := w.Validate(); err != nil {
		return Workflow{}, err
	}
	return w, nil
}

func loadJSON(path string) (Workflow, error) {
	file, err := os.Open(path)
	if err != nil {
		return Workflow{}, fmt.Errorf("failed to open workflow file: %w", err)
	}
	defer file.Close()
	return Decode(file)
}

func loadJSONL(path string) ([]Workflow, error) {
	slog.Debug("Opening JSONL file", "path", path)

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workflow file: %w", err)
	}
	defer file.Close()

	var workflows []Workflow
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var w Workflow
		if err := json.Unmarshal(line, &w); err != nil {
			return nil, fmt.Errorf("failed to parse JSON at line %d: %w", lineNum, err)
		}
		if err := w.Validate(); err != nil {
			return nil, fmt.Errorf("invalid workflow at line %d: %w", lineNum, err)
		}
		workflows = append(workflows, w)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading workflow file: %w", err)
	}

	slog.Debug("Finished reading JSONL file", "workflows", len(workflows), "total_lines", lineNum)
	return workflows, nil
}

// closeWriter closes c and reports its error through err unless an earlier
// error is already set.
func closeWriter(c io.Closer, path string, err *error) {
	if cerr := c.Close(); cerr != nil && *err == nil {
		*err = fmt.Errorf("failed to close %s: %w", path, cerr)
	}
}

func saveJSONL(path string, workflows []Workflow) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create workflow file: %w", err)
	}
	defer closeWriter(file, path, &err)

	enc := json.NewEncoder(file)
	for _, w := range workflows {
		if err := enc.Encode(w); err != nil {
			return fmt.Errorf("failed to write workflow %q: %w", w.Name, err)
		}
	}
	return nil
}

func loadParquet(path string) ([]Workflow, error) {
	slog.Debug("Opening Parquet file", "path", path)

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}

	slog.Debug("Parquet file opened successfully", "num_rows", pf.NumRows(), "num_row_groups", len(pf.RowGroups()))

	reader := parquet.NewGenericReader[stepRow](pf)
	defer reader.Close()

	var all []stepRow
	rows := make([]stepRow, 128)
	for {
		n, err := reader.Read(rows)
		all = append(all, rows[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read parquet rows: %w", err)
		}
	}

	return fromRows(all)
}

// fromRows groups rows by workflow name, keeping first-seen order of names
// and ordering steps by their step number.
func fromRows(rows []stepRow) ([]Workflow, error) {
	var order []string
	grouped := map[string][]stepRow{}
	for _, r := range rows {
		if _, ok := grouped[r.Workflow]; !ok {
			order = append(order, r.Workflow)
		}
		grouped[r.Workflow] = append(grouped[r.Workflow], r)
	}

	workflows := make([]Workflow, 0, len(order))
	for _, name := range order {
		steps := grouped[name]
		sort.SliceStable(steps, func(i, j int) bool { return steps[i].Step < steps[j].Step })

		w := Workflow{Name: name}
		for _, s := range steps {
			k, err := tools.ParseKind(s.Tool)
			if err != nil {
				return nil, fmt.Errorf("workflow %q step %d: %w", name, s.Step, err)
			}
			w.Tools = append(w.Tools, k)
		}
		if err := w.Validate(); err != nil {
			return nil, fmt.Errorf("workflow %q: %w", name, err)
		}
		workflows = append(workflows, w)
	}
	return workflows, nil
}

func saveParquet(path string, workflows []Workflow) (err error) {
	var rows []stepRow
	for _, w := range workflows {
		for i, k := range w.Tools {
			rows = append(rows, stepRow{Workflow: w.Name, Step: int32(i + 1), Tool: k.String()})
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}
	defer closeWriter(file, path, &err)

	writer := parquet.NewGenericWriter[stepRow](file)
	if _, err := writer.Write(rows); err != nil {
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}
