package parse

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/spkg/bom"

	"railtrack.dev/railtrack/storage"
)

func init() {
	// LazyCSVReader required (at least) to survive sloppy use of
	// quotes. The BOM reader strips unicode BOMs if present.
	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		return gocsv.LazyCSVReader(bom.NewReader(in))
	})
}

// Row counts for one file of a schedule archive.
type FileStats struct {
	Rows     int
	Accepted int
	Skipped  int

	// First error seen among skipped rows.
	FirstError error
}

type ImportStats struct {
	Routes    FileStats
	Trips     FileStats
	StopTimes FileStats
}

func (s *ImportStats) Skipped() int {
	return s.Routes.Skipped + s.Trips.Skipped + s.StopTimes.Skipped
}

// Reads routes, trips and stop times from a schedule archive,
// mapping rows with the given mapper and writing records to
// writer. Other files in the archive are ignored.
//
// Malformed rows are skipped and counted. The writer is neither
// committed nor rolled back.
func ParseSchedule(writer storage.ScheduleWriter, buf []byte, mapper Mapper) (*ImportStats, error) {
	file := map[string]*zip.File{
		"routes.txt":     nil,
		"trips.txt":      nil,
		"stop_times.txt": nil,
	}

	r, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, fmt.Errorf("unzipping: %w", err)
	}

	for _, f := range r.File {
		// There should not be any subdirectories. But, some
		// agencies don't care.
		if f.FileInfo().IsDir() {
			continue
		}
		path := strings.Split(f.Name, "/")
		fName := path[len(path)-1]

		if _, found := file[fName]; !found {
			continue
		}
		file[fName] = f
	}

	for _, required := range []string{"routes.txt", "trips.txt", "stop_times.txt"} {
		if file[required] == nil {
			return nil, fmt.Errorf("missing %s", required)
		}
	}

	stats := &ImportStats{}

	stats.Routes, err = eachRow(file["routes.txt"], func(row []string) (bool, error) {
		route, err := mapper.Route(row)
		if err != nil || route == nil {
			return false, err
		}
		return true, writer.WriteRoute(*route)
	})
	if err != nil {
		return nil, fmt.Errorf("parsing routes.txt: %w", err)
	}

	stats.Trips, err = eachRow(file["trips.txt"], func(row []string) (bool, error) {
		trip, err := mapper.Trip(row)
		if err != nil || trip == nil {
			return false, err
		}
		return true, writer.WriteTrip(*trip)
	})
	if err != nil {
		return nil, fmt.Errorf("parsing trips.txt: %w", err)
	}

	err = writer.BeginStopTimes()
	if err != nil {
		return nil, fmt.Errorf("beginning stop_times: %w", err)
	}
	stats.StopTimes, err = eachRow(file["stop_times.txt"], func(row []string) (bool, error) {
		stopTime, err := mapper.StopTime(row)
		if err != nil || stopTime == nil {
			return false, err
		}
		return true, writer.WriteStopTime(*stopTime)
	})
	if err != nil {
		return nil, fmt.Errorf("parsing stop_times.txt: %w", err)
	}
	err = writer.EndStopTimes()
	if err != nil {
		return nil, fmt.Errorf("ending stop_times: %w", err)
	}

	return stats, nil
}

// Calls handle for every row after the header. handle returns
// false with an error for a malformed row, which is skipped, and
// true with an error when writing an accepted row failed, which
// aborts.
func eachRow(f *zip.File, handle func(row []string) (bool, error)) (FileStats, error) {
	stats := FileStats{}

	rc, err := f.Open()
	if err != nil {
		return stats, errors.Wrapf(err, "opening %s", f.Name)
	}
	defer rc.Close()

	reader := gocsv.LazyCSVReader(bom.NewReader(rc))
	if cr, ok := reader.(*csv.Reader); ok {
		// Trailing columns come and go between feed versions.
		cr.FieldsPerRecord = -1
	}

	header := true
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, errors.Wrapf(err, "reading row %d", stats.Rows+1)
		}
		if header {
			header = false
			continue
		}

		stats.Rows++

		accepted, err := handle(row)
		switch {
		case err != nil && accepted:
			return stats, errors.Wrapf(err, "writing row %d", stats.Rows)
		case err != nil:
			stats.Skipped++
			if stats.FirstError == nil {
				stats.FirstError = errors.Wrapf(err, "row %d", stats.Rows)
			}
		case accepted:
			stats.Accepted++
		}
	}

	return stats, nil
}
