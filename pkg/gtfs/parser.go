package gtfs

import (
	"archive/zip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"ktmtrack/internal/schedule"
)

var ErrMissingFile = errors.New("required file missing from archive")

type Parser struct {
	logger *slog.Logger
}

func NewParser(logger *slog.Logger) *Parser {
	return &Parser{
		logger: logger.With("component", "gtfs_parser"),
	}
}

// Parse reads the four tables the tracker needs. Values are copied as-is;
// schedule.LoadSchedule validates them.
func (p *Parser) Parse(reader *zip.Reader, version string) (*schedule.Feed, error) {
	totalStart := time.Now()
	p.logger.Info("starting GTFS parsing", "version", version)

	fileMap := make(map[string]*zip.File)
	for _, file := range reader.File {
		fileMap[file.Name] = file
		p.logger.Debug("found file in archive",
			"name", file.Name,
			"uncompressed_size", file.UncompressedSize64,
		)
	}

	feed := &schedule.Feed{Version: version}

	steps := []struct {
		name  string
		parse func(*zip.File, *schedule.Feed) error
		count func() int
	}{
		{"routes.txt", p.parseRoutes, func() int { return len(feed.Routes) }},
		{"stops.txt", p.parseStops, func() int { return len(feed.Stops) }},
		{"trips.txt", p.parseTrips, func() int { return len(feed.Trips) }},
		{"stop_times.txt", p.parseStopTimes, func() int { return len(feed.StopTimes) }},
	}

	for _, step := range steps {
		file, ok := fileMap[step.name]
		if !ok {
			return nil, fmt.Errorf("%s: %w", step.name, ErrMissingFile)
		}
		start := time.Now()
		if err := step.parse(file, feed); err != nil {
			return nil, fmt.Errorf("parse %s: %w", step.name, err)
		}
		p.logger.Info("parsed "+step.name,
			"rows", step.count(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	p.logger.Info("GTFS parsing completed",
		"total_duration_ms", time.Since(totalStart).Milliseconds(),
		"routes", len(feed.Routes),
		"stops", len(feed.Stops),
		"trips", len(feed.Trips),
		"stop_times", len(feed.StopTimes),
	)

	return feed, nil
}

func (p *Parser) parseRoutes(file *zip.File, feed *schedule.Feed) error {
	return eachRecord(file, func(line int, rec record) {
		feed.Routes = append(feed.Routes, schedule.RouteRow{
			Line:      line,
			ID:        rec.get("route_id"),
			ShortName: rec.get("route_short_name"),
			LongName:  rec.get("route_long_name"),
			Type:      rec.get("route_type"),
			Color:     rec.get("route_color"),
			TextColor: rec.get("route_text_color"),
		})
	})
}

func (p *Parser) parseStops(file *zip.File, feed *schedule.Feed) error {
	return eachRecord(file, func(line int, rec record) {
		feed.Stops = append(feed.Stops, schedule.StopRow{
			Line: line,
			ID:   rec.get("stop_id"),
			Name: rec.get("stop_name"),
			Lat:  rec.get("stop_lat"),
			Lon:  rec.get("stop_lon"),
		})
	})
}

func (p *Parser) parseTrips(file *zip.File, feed *schedule.Feed) error {
	return eachRecord(file, func(line int, rec record) {
		feed.Trips = append(feed.Trips, schedule.TripRow{
			Line:        line,
			ID:          rec.get("trip_id"),
			RouteID:     rec.get("route_id"),
			ServiceID:   rec.get("service_id"),
			Headsign:    rec.get("trip_headsign"),
			DirectionID: rec.get("direction_id"),
		})
	})
}

func (p *Parser) parseStopTimes(file *zip.File, feed *schedule.Feed) error {
	return eachRecord(file, func(line int, rec record) {
		feed.StopTimes = append(feed.StopTimes, schedule.StopTimeRow{
			Line:         line,
			TripID:       rec.get("trip_id"),
			StopID:       rec.get("stop_id"),
			Sequence:     rec.get("stop_sequence"),
			Arrival:      rec.get("arrival_time"),
			Departure:    rec.get("departure_time"),
			DistTraveled: rec.get("shape_dist_traveled"),
		})
	})
}

type record struct {
	fields []string
	idx    map[string]int
}

func (r record) get(field string) string {
	return getField(r.fields, r.idx, field)
}

func eachRecord(file *zip.File, fn func(line int, rec record)) error {
	rc, err := file.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	idx := makeIndex(header)

	for {
		fields, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line, _ := r.FieldPos(0)
		fn(line, record{fields: fields, idx: idx})
	}
}

func makeIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		idx[strings.TrimSpace(name)] = i
	}
	return idx
}

func getField(record []string, idx map[string]int, field string) string {
	if i, ok := idx[field]; ok && i < len(record) {
		return strings.TrimSpace(record[i])
	}
	return ""
}
