package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aluiziolira/go-scrape-appstore/models"
)

// errNothingWritten is returned by Validate when a sink never received a record.
var errNothingWritten = errors.New("no records written")

// FileReporter is implemented by writers that know which files they produced.
type FileReporter interface {
	Files() []string
}

// CSVWriter writes records to CSV using the fixed column header. The file is
// created on the first Write, so a run without records leaves no file behind.
type CSVWriter struct {
	path   string
	file   *os.File
	writer *csv.Writer
	rows   int
	mu     sync.Mutex
}

// NewCSVWriter prepares a CSV writer for filename.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if filename == "" {
		return nil, fmt.Errorf("csv filename cannot be empty")
	}
	return &CSVWriter{path: filename}, nil
}

func (cw *CSVWriter) open() error {
	if cw.file != nil {
		return nil
	}
	if err := ensureDir(cw.path); err != nil {
		return err
	}

	f, err := os.Create(cw.path)
	if err != nil {
		return fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(models.CSVHeader); err != nil {
		f.Close()
		return fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush csv header: %w", err)
	}

	cw.file = f
	cw.writer = writer
	return nil
}

// Write appends records to the CSV output.
func (cw *CSVWriter) Write(records []*models.GameRecord) error {
	if len(records) == 0 {
		return nil
	}

	cw.mu.Lock()
	defer cw.mu.Unlock()

	if err := cw.open(); err != nil {
		return err
	}
	for _, record := range records {
		if err := cw.writer.Write(record.Row()); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
		cw.rows++
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.file == nil {
		return nil
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate ensures the file has content besides the header.
func (cw *CSVWriter) Validate() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.file == nil || cw.rows == 0 {
		return fmt.Errorf("csv %s: %w", cw.path, errNothingWritten)
	}
	info, err := os.Stat(cw.path)
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}

// Files returns the CSV path once it has been created.
func (cw *CSVWriter) Files() []string {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.file == nil {
		return nil
	}
	return []string{cw.path}
}

// JSONWriter writes newline-delimited JSON records, metadata included.
type JSONWriter struct {
	path    string
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	rows    int
	mu      sync.Mutex
}

// NewJSONWriter prepares a JSON lines writer for filename.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if filename == "" {
		return nil, fmt.Errorf("json filename cannot be empty")
	}
	return &JSONWriter{path: filename}, nil
}

func (jw *JSONWriter) open() error {
	if jw.file != nil {
		return nil
	}
	if err := ensureDir(jw.path); err != nil {
		return err
	}

	f, err := os.Create(jw.path)
	if err != nil {
		return fmt.Errorf("create json file: %w", err)
	}

	jw.file = f
	jw.writer = bufio.NewWriter(f)
	jw.encoder = json.NewEncoder(jw.writer)
	return nil
}

// Write appends records in JSONL format.
func (jw *JSONWriter) Write(records []*models.GameRecord) error {
	if len(records) == 0 {
		return nil
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.open(); err != nil {
		return err
	}
	for _, record := range records {
		if err := jw.encoder.Encode(record); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
		jw.rows++
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}

	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.file == nil {
		return nil
	}
	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.file == nil || jw.rows == 0 {
		return fmt.Errorf("json %s: %w", jw.path, errNothingWritten)
	}
	info, err := os.Stat(jw.path)
	if err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("json file is empty")
	}
	return nil
}

// Files returns the JSON path once it has been created.
func (jw *JSONWriter) Files() []string {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	if jw.file == nil {
		return nil
	}
	return []string{jw.path}
}

// ReadCSV loads a file produced by CSVWriter. Columns are matched by header
// name; missing columns keep their defaults.
func ReadCSV(path string) ([]models.GameRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("csv %s has no header", path)
	}

	index := make(map[string]int, len(rows[0]))
	for i, column := range rows[0] {
		index[column] = i
	}
	known := 0
	for _, column := range models.CSVHeader {
		if _, ok := index[column]; ok {
			known++
		}
	}
	if known == 0 {
		return nil, fmt.Errorf("csv %s: unrecognised header %v", path, rows[0])
	}

	records := make([]models.GameRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		record := models.NewGameRecord("")
		fields := []*string{
			&record.DeveloperName,
			&record.GameName,
			&record.Rating,
			&record.Size,
			&record.AgeLimit,
			&record.Price,
			&record.Genre,
			&record.GameCenterIntegration,
			&record.Achievement,
			&record.Leaderboard,
		}
		for i, column := range models.CSVHeader {
			if at, ok := index[column]; ok && at < len(row) {
				*fields[i] = row[at]
			}
		}
		records = append(records, record)
	}
	return records, nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
