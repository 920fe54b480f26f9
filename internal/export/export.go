// Package export dumps accumulated session logs to tab-separated files on
// participant request.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lumoslab/lumos/backend/internal/model/study"
)

// Exporter writes TSV files under outputDir/{condition}/{participant_id}/.
type Exporter struct {
	outputDir string
}

// New returns an exporter rooted at outputDir.
func New(outputDir string) *Exporter {
	return &Exporter{outputDir: outputDir}
}

var responseHeader = []string{
	"connection_id", "participant_id", "app_mode", "app_type", "app_level",
	"processed_at", "interaction_type", "input_data", "output_data", "error",
}

// ResponseLog dumps the session's response log. It returns the written path.
func (e *Exporter) ResponseLog(session study.Session, now time.Time) (string, error) {
	path, err := e.preparePath(session.Condition, session.ParticipantID, "logs", now)
	if err != nil {
		return "", err
	}

	rows := make([][]string, 0, len(session.ResponseLog))
	for _, r := range session.ResponseLog {
		input, err := json.Marshal(r.InputData)
		if err != nil {
			return "", fmt.Errorf("encode input data: %w", err)
		}
		output := "null"
		if r.OutputData != nil {
			b, err := json.Marshal(r.OutputData)
			if err != nil {
				return "", fmt.Errorf("encode output data: %w", err)
			}
			output = string(b)
		}
		rows = append(rows, []string{
			r.ConnectionID, r.ParticipantID, r.Dataset, r.Condition, r.Phase,
			r.ProcessedAt.UTC().Format(time.RFC3339), r.Kind, string(input), output, r.Error,
		})
	}

	if err := writeTSV(path, responseHeader, rows); err != nil {
		return "", err
	}
	return path, nil
}

// PageLogs dumps the free-form page level rows collected by the frontend at
// session end. Columns are the union of row keys, sorted for stable output.
func (e *Exporter) PageLogs(condition, participantID string, data []map[string]any, now time.Time) (string, error) {
	path, err := e.preparePath(condition, participantID, "session_end_page_logs", now)
	if err != nil {
		return "", err
	}

	keySet := make(map[string]struct{})
	for _, row := range data {
		for k := range row {
			keySet[k] = struct{}{}
		}
	}
	header := make([]string, 0, len(keySet))
	for k := range keySet {
		header = append(header, k)
	}
	sort.Strings(header)

	rows := make([][]string, 0, len(data))
	for _, row := range data {
		cells := make([]string, len(header))
		for i, k := range header {
			v, ok := row[k]
			if !ok || v == nil {
				continue
			}
			if s, ok := v.(string); ok {
				cells[i] = s
				continue
			}
			b, err := json.Marshal(v)
			if err != nil {
				return "", fmt.Errorf("encode page log cell %s: %w", k, err)
			}
			cells[i] = string(b)
		}
		rows = append(rows, cells)
	}

	if err := writeTSV(path, header, rows); err != nil {
		return "", err
	}
	return path, nil
}

func (e *Exporter) preparePath(condition, participantID, prefix string, now time.Time) (string, error) {
	dir := filepath.Join(e.outputDir, condition, participantID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	stamp := now.UTC().Format("2006-01-02T15-04-05")
	name := fmt.Sprintf("%s_%s_%s.tsv", prefix, participantID, stamp)
	return filepath.Join(dir, name), nil
}

func writeTSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create log file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = '\t'
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}
