// Package export сериализует трассу, зоны обзора и результаты запроса
// в CSV и JSON для внешней отрисовки.
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jszwec/csvutil"

	"github.com/art-injener/satscan-go/internal/simulation"
	"github.com/art-injener/satscan-go/internal/tracker"
)

// Ошибки экспорта.
var (
	ErrUnknownFormat = errors.New("unknown export format")
	ErrUnknownTable  = errors.New("unknown report table")
)

// Таблицы отчёта для WriteTable.
const (
	TableSamples    = "samples"
	TableFootprints = "footprints"
	TableSegments   = "segments"
	TableMatches    = "matches"
	TablePasses     = "passes"
	TableFailures   = "failures"
)

// Format формат вывода.
type Format string

// Форматы вывода.
const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat разбирает имя формата. Пустая строка означает JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// ContentType возвращает MIME-тип формата.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}

	return "application/json"
}

// SampleRow строка отсчёта трассы.
type SampleRow struct {
	Index int       `csv:"index" json:"index"`
	Time  time.Time `csv:"time" json:"time"`
	Lat   float64   `csv:"lat" json:"lat"`
	Lon   float64   `csv:"lon" json:"lon"`
	Alt   float64   `csv:"alt_km" json:"alt_km"`
}

// FootprintRow строка зоны обзора.
type FootprintRow struct {
	Index               int       `csv:"index" json:"index"`
	Time                time.Time `csv:"time" json:"time"`
	CenterLat           float64   `csv:"center_lat" json:"center_lat"`
	CenterLon           float64   `csv:"center_lon" json:"center_lon"`
	Alt                 float64   `csv:"alt_km" json:"alt_km"`
	MinLat              float64   `csv:"min_lat" json:"min_lat"`
	MaxLat              float64   `csv:"max_lat" json:"max_lat"`
	MinLon              float64   `csv:"min_lon" json:"min_lon"`
	MaxLon              float64   `csv:"max_lon" json:"max_lon"`
	CrossesAntimeridian bool      `csv:"crosses_antimeridian" json:"crosses_antimeridian"`
}

// MatchRow строка попадания точки в зону.
type MatchRow struct {
	Index     int       `csv:"index" json:"index"`
	Time      time.Time `csv:"time" json:"time"`
	CenterLat float64   `csv:"center_lat" json:"center_lat"`
	CenterLon float64   `csv:"center_lon" json:"center_lon"`
	Elevation float64   `csv:"elevation_deg" json:"elevation_deg"`
}

// FailureRow строка отсутствующего отсчёта.
type FailureRow struct {
	Index  int       `csv:"index" json:"index"`
	Time   time.Time `csv:"time" json:"time"`
	Stage  string    `csv:"stage" json:"stage"`
	Reason string    `csv:"reason" json:"reason"`
	Error  string    `csv:"error" json:"error"`
}

// PassRow строка отчёта о пролётах.
type PassRow struct {
	Number       int       `csv:"pass" json:"pass"`
	Start        time.Time `csv:"start" json:"start"`
	End          time.Time `csv:"end" json:"end"`
	Seconds      float64   `csv:"duration_s" json:"duration_s"`
	Samples      int       `csv:"samples" json:"samples"`
	MaxElevation float64   `csv:"max_elevation_deg" json:"max_elevation_deg"`
}

// SegmentRow точка сегмента трассы, разрезанной по антимеридиану.
type SegmentRow struct {
	Segment int     `csv:"segment" json:"segment"`
	Lon     float64 `csv:"lon" json:"lon"`
	Lat     float64 `csv:"lat" json:"lat"`
	TS      int64   `csv:"ts_ms" json:"ts"`
}

// Samples преобразует отсчёты в строки.
func Samples(samples []tracker.GroundSample) []SampleRow {
	rows := make([]SampleRow, len(samples))
	for i, s := range samples {
		rows[i] = SampleRow{Index: s.Index, Time: s.Time.UTC(), Lat: s.Lat, Lon: s.Lon, Alt: s.Alt}
	}

	return rows
}

// Segments разбивает трассу по антимеридиану и нумерует сегменты с нуля.
func Segments(track *tracker.Track) []SegmentRow {
	var rows []SegmentRow
	for i, seg := range track.Segments() {
		for _, p := range seg {
			rows = append(rows, SegmentRow{Segment: i, Lon: p.Lon, Lat: p.Lat, TS: p.TS})
		}
	}

	return rows
}

// Footprints преобразует зоны в строки.
func Footprints(footprints []tracker.Footprint) []FootprintRow {
	rows := make([]FootprintRow, len(footprints))
	for i, fp := range footprints {
		rows[i] = FootprintRow{
			Index:               fp.Index,
			Time:                fp.Time.UTC(),
			CenterLat:           fp.Center.Lat,
			CenterLon:           fp.Center.Lon,
			Alt:                 fp.Alt,
			MinLat:              fp.MinLat,
			MaxLat:              fp.MaxLat,
			MinLon:              fp.MinLon,
			MaxLon:              fp.MaxLon,
			CrossesAntimeridian: fp.CrossesAntimeridian(),
		}
	}

	return rows
}

// Matches преобразует результат запроса в строки.
func Matches(result *tracker.ScanResult) []MatchRow {
	if result == nil {
		return []MatchRow{}
	}

	rows := make([]MatchRow, len(result.Matches))
	for i, m := range result.Matches {
		rows[i] = MatchRow{
			Index:     m.Footprint.Index,
			Time:      m.Time.UTC(),
			CenterLat: m.Footprint.Center.Lat,
			CenterLon: m.Footprint.Center.Lon,
			Elevation: m.Elevation,
		}
	}

	return rows
}

// Failures преобразует отсутствующие отсчёты в строки.
func Failures(failures []tracker.SampleFailure) []FailureRow {
	rows := make([]FailureRow, len(failures))
	for i, f := range failures {
		rows[i] = FailureRow{
			Index:  f.Index,
			Time:   f.Time.UTC(),
			Stage:  string(f.Stage),
			Reason: f.Reason(),
			Error:  f.Err.Error(),
		}
	}

	return rows
}

// Passes преобразует пролёты в строки.
func Passes(passes []tracker.Pass) []PassRow {
	rows := make([]PassRow, len(passes))
	for i, p := range passes {
		rows[i] = PassRow{
			Number:       i + 1,
			Start:        p.Start.UTC(),
			End:          p.End.UTC(),
			Seconds:      p.Duration().Seconds(),
			Samples:      len(p.Matches),
			MaxElevation: p.MaxElevation,
		}
	}

	return rows
}

// Write записывает строки в выбранном формате. CSV всегда содержит заголовок.
func Write[T any](w io.Writer, format Format, rows []T) error {
	switch format {
	case FormatCSV:
		return writeCSV(w, rows)
	case FormatJSON:
		if rows == nil {
			rows = []T{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rows); err != nil {
			return fmt.Errorf("encoding JSON: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, string(format))
	}
}

func writeCSV[T any](w io.Writer, rows []T) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)

	var zero T
	if err := enc.EncodeHeader(zero); err != nil {
		return fmt.Errorf("encoding CSV header: %w", err)
	}

	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("encoding CSV row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("writing CSV: %w", err)
	}

	return nil
}

// ParseTable проверяет имя таблицы. Пустая строка означает samples.
func ParseTable(s string) (string, error) {
	switch t := strings.ToLower(strings.TrimSpace(s)); t {
	case "":
		return TableSamples, nil
	case TableSamples, TableFootprints, TableSegments, TableMatches, TablePasses, TableFailures:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTable, s)
	}
}

// WriteTable записывает одну таблицу отчёта. Без точки запроса таблицы
// matches и passes пусты.
func WriteTable(w io.Writer, format Format, report *simulation.Report, table string) error {
	switch table {
	case TableSamples:
		return Write(w, format, Samples(report.Track.Samples))
	case TableFootprints:
		return Write(w, format, Footprints(report.Footprints))
	case TableSegments:
		return Write(w, format, Segments(report.Track))
	case TableMatches:
		return Write(w, format, Matches(report.Scan))
	case TablePasses:
		return Write(w, format, Passes(report.Passes))
	case TableFailures:
		return Write(w, format, Failures(report.Failures))
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
}

// WriteReport записывает полный отчёт прогона как JSON.
func WriteReport(w io.Writer, report *simulation.Report) error {
	payload := struct {
		*simulation.Report
		FailureRows []FailureRow `json:"failures,omitempty"`
		PassRows    []PassRow    `json:"pass_report,omitempty"`
	}{
		Report:      report,
		FailureRows: Failures(report.Failures),
		PassRows:    Passes(report.Passes),
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	return nil
}

// ReadSamples читает отсчёты из CSV с заголовком SampleRow.
func ReadSamples(r io.Reader) ([]tracker.GroundSample, error) {
	dec, err := csvutil.NewDecoder(csv.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("creating CSV decoder: %w", err)
	}

	var rows []SampleRow
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("decoding samples: %w", err)
	}

	samples := make([]tracker.GroundSample, len(rows))
	for i, row := range rows {
		samples[i] = tracker.GroundSample{Index: row.Index, Time: row.Time, Lat: row.Lat, Lon: row.Lon, Alt: row.Alt}
	}

	return samples, nil
}
