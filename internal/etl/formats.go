package etl

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/segmentio/parquet-go"
)

// errInvalidRecord marks a record that could not be decoded; the reader can
// continue past it.
var errInvalidRecord = errors.New("invalid record")

type recordReader interface {
	// Read returns the next record, io.EOF at the end, or an error wrapping
	// errInvalidRecord for a record that should be skipped.
	Read() (InputRecord, error)
	Close() error
}

type recordWriter interface {
	Write(records []OutputRecord) error
	Close() error
}

func openReader(path string, format FileFormat) (recordReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}

	var r recordReader
	switch format {
	case FormatCSV:
		r, err = newCSVReader(file)
	case FormatParquet:
		r = &parquetReader{file: file, reader: parquet.NewReader(file)}
	case FormatJSON:
		dec := json.NewDecoder(file)
		dec.UseNumber()
		r = &jsonReader{file: file, dec: dec}
	default:
		err = fmt.Errorf("unsupported file format: %s", format)
	}
	if err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

func createWriter(path string, format FileFormat) (recordWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output: %w", err)
	}

	switch format {
	case FormatCSV:
		w := csv.NewWriter(file)
		if err := w.Write([]string{"id", "text", "findings", "pii_types"}); err != nil {
			file.Close()
			return nil, err
		}
		return &csvWriter{file: file, w: w}, nil
	case FormatParquet:
		return &parquetWriter{file: file, w: parquet.NewGenericWriter[OutputRecord](file)}, nil
	case FormatJSON:
		return &jsonWriter{file: file, enc: json.NewEncoder(file)}, nil
	default:
		file.Close()
		return nil, fmt.Errorf("unsupported file format: %s", format)
	}
}

// CSV: a header row naming at least a "text" column; "id" is optional and
// defaults to the 1-based row number.
type csvReader struct {
	file    *os.File
	r       *csv.Reader
	idCol   int
	textCol int
	row     int
}

func newCSVReader(file *os.File) (*csvReader, error) {
	r := csv.NewReader(file)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	c := &csvReader{file: file, r: r, idCol: -1, textCol: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "id":
			c.idCol = i
		case "text":
			c.textCol = i
		}
	}
	if c.textCol < 0 {
		return nil, fmt.Errorf("CSV header has no text column: %v", header)
	}
	return c, nil
}

func (c *csvReader) Read() (InputRecord, error) {
	fields, err := c.r.Read()
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			c.row++
			return InputRecord{}, fmt.Errorf("%w: %v", errInvalidRecord, err)
		}
		return InputRecord{}, err
	}
	c.row++

	if c.textCol >= len(fields) {
		return InputRecord{}, fmt.Errorf("%w: row %d has %d fields", errInvalidRecord, c.row, len(fields))
	}

	record := InputRecord{ID: strconv.Itoa(c.row), Text: fields[c.textCol]}
	if c.idCol >= 0 && c.idCol < len(fields) {
		record.ID = fields[c.idCol]
	}
	return record, nil
}

func (c *csvReader) Close() error { return c.file.Close() }

type csvWriter struct {
	file *os.File
	w    *csv.Writer
}

func (c *csvWriter) Write(records []OutputRecord) error {
	for _, r := range records {
		if err := c.w.Write([]string{r.ID, r.Text, strconv.FormatInt(r.Findings, 10), r.PIITypes}); err != nil {
			return err
		}
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *csvWriter) Close() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		c.file.Close()
		return err
	}
	return c.file.Close()
}

type parquetReader struct {
	file   *os.File
	reader *parquet.Reader
}

func (p *parquetReader) Read() (InputRecord, error) {
	var record InputRecord
	if err := p.reader.Read(&record); err != nil {
		return InputRecord{}, err
	}
	return record, nil
}

func (p *parquetReader) Close() error {
	p.reader.Close()
	return p.file.Close()
}

type parquetWriter struct {
	file *os.File
	w    *parquet.GenericWriter[OutputRecord]
}

func (p *parquetWriter) Write(records []OutputRecord) error {
	_, err := p.w.Write(records)
	return err
}

func (p *parquetWriter) Close() error {
	if err := p.w.Close(); err != nil {
		p.file.Close()
		return err
	}
	return p.file.Close()
}

// JSON: a stream of objects, typically one per line. Numeric ids are
// accepted and kept as their decimal text.
type jsonReader struct {
	file *os.File
	dec  *json.Decoder
}

type jsonInput struct {
	ID   interface{} `json:"id"`
	Text *string     `json:"text"`
}

func (j *jsonReader) Read() (InputRecord, error) {
	var in jsonInput
	if err := j.dec.Decode(&in); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return InputRecord{}, fmt.Errorf("%w: %v", errInvalidRecord, err)
		}
		// Syntax errors leave the decoder unusable.
		return InputRecord{}, err
	}
	if in.Text == nil {
		return InputRecord{}, fmt.Errorf("%w: missing text", errInvalidRecord)
	}

	record := InputRecord{Text: *in.Text}
	switch id := in.ID.(type) {
	case nil:
	case string:
		record.ID = id
	case json.Number:
		record.ID = id.String()
	default:
		return InputRecord{}, fmt.Errorf("%w: id must be a string or number", errInvalidRecord)
	}
	return record, nil
}

func (j *jsonReader) Close() error { return j.file.Close() }

type jsonWriter struct {
	file *os.File
	enc  *json.Encoder
}

func (j *jsonWriter) Write(records []OutputRecord) error {
	for _, r := range records {
		if err := j.enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func (j *jsonWriter) Close() error { return j.file.Close() }
