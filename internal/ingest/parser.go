package ingest

import (
	"encoding/csv"
	"regexp"
	"strconv"
	"strings"

	"equipguard/internal/normalize"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.+-Z]+)`)
	reKV        = regexp.MustCompile(`(?i)([a-zA-Z_]+)=([^\s,]+)`)
)

// Parser turns one ingested line into raw reading fields. A Parser
// remembers a CSV header once it has seen one, so use one per stream.
type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

// ParseLine returns nil fields for blank lines and CSV headers.
func (p *Parser) ParseLine(line string) (*normalize.ReadingFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		if fields, err := ParseJSONBytes([]byte(trim)); err == nil {
			fields.Raw = line
			return fields, nil
		}
	}
	if strings.Contains(trim, ",") && !strings.Contains(trim, "=") {
		fields, err := p.csv.Parse(trim)
		if err != nil {
			return nil, err
		}
		if fields == nil {
			return nil, nil
		}
		fields.Raw = line
		return fields, nil
	}
	fields := parsePlain(trim)
	fields.Raw = line
	return fields, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

// parsePlain handles "2026-02-23 12:34:56 machine=M-001 temperature=71.2 ..."
func parsePlain(line string) *normalize.ReadingFields {
	fields := &normalize.ReadingFields{Extras: map[string]string{}}
	if m := reTimestamp.FindStringSubmatch(line); len(m) >= 2 {
		fields.Timestamp = strings.TrimSpace(m[1])
	}
	for _, match := range reKV.FindAllStringSubmatch(line, -1) {
		assignField(fields, match[1], match[2])
	}
	return fields
}

type CSVParser struct {
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

// Parse reads one CSV record. Without a header, records follow the dataset
// column order; a bare three-column record is taken as the feature vector.
func (p *CSVParser) Parse(line string) (*normalize.ReadingFields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	if looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		return nil, nil
	}
	fields := &normalize.ReadingFields{Extras: map[string]string{}}
	if p.header != nil {
		for i, name := range p.header {
			if i >= len(record) {
				break
			}
			assignField(fields, name, record[i])
		}
		return fields, nil
	}
	switch {
	case len(record) == 3:
		fields.Temperature, fields.Vibration, fields.Voltage = record[0], record[1], record[2]
	case len(record) >= 5:
		fields.Timestamp = record[0]
		fields.MachineID = record[1]
		fields.Temperature = record[2]
		fields.Vibration = record[3]
		fields.Voltage = record[4]
		if len(record) >= 6 {
			fields.Status = record[5]
		}
	default:
		return nil, errUnknownLayout(len(record))
	}
	return fields, nil
}

type errUnknownLayout int

func (e errUnknownLayout) Error() string {
	return "csv record with " + strconv.Itoa(int(e)) + " columns has no known layout"
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		switch canonical(v) {
		case "timestamp", "machine_id", "temperature", "vibration", "voltage":
			return true
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = canonical(v)
	}
	return out
}

// canonical maps the accepted aliases of a column or key to one name.
func canonical(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "timestamp", "time", "ts":
		return "timestamp"
	case "machine_id", "machineid", "machine", "device", "asset":
		return "machine_id"
	case "temperature", "temp":
		return "temperature"
	case "vibration", "vib":
		return "vibration"
	case "voltage", "volt", "volts":
		return "voltage"
	case "status", "label", "state":
		return "status"
	default:
		return strings.ToLower(strings.TrimSpace(name))
	}
}

func assignField(fields *normalize.ReadingFields, name string, value string) {
	value = strings.TrimSpace(value)
	switch key := canonical(name); key {
	case "timestamp":
		fields.Timestamp = value
	case "machine_id":
		fields.MachineID = value
	case "temperature":
		fields.Temperature = value
	case "vibration":
		fields.Vibration = value
	case "voltage":
		fields.Voltage = value
	case "status":
		fields.Status = value
	default:
		if fields.Extras != nil {
			fields.Extras[key] = value
		}
	}
}
