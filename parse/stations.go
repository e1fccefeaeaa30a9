package parse

import (
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"railtrack.dev/railtrack/model"
)

// Loads the curated station directory. Columns are identified by
// header name.
type StationCSV struct {
	ID        string `csv:"id"`
	AdminArea string `csv:"admin_area"`
	Code      string `csv:"code"`
	Name      string `csv:"name"`
	TimeZone  string `csv:"time_zone"`
	Website   string `csv:"website"`
}

func ParseStations(data io.Reader) ([]model.Station, error) {
	stations := []model.Station{}
	codes := map[string]bool{}

	i := -1
	err := gocsv.UnmarshalToCallbackWithError(data, func(s *StationCSV) error {
		i++
		code := strings.TrimSpace(s.Code)
		if code == "" {
			return fmt.Errorf("missing code (row %d)", i+1)
		}
		if codes[strings.ToUpper(code)] {
			return fmt.Errorf("repeated code '%s' (row %d)", code, i+1)
		}
		codes[strings.ToUpper(code)] = true

		stations = append(stations, model.Station{
			ID:        strings.TrimSpace(s.ID),
			Code:      code,
			Name:      strings.TrimSpace(s.Name),
			TimeZone:  strings.TrimSpace(s.TimeZone),
			AdminArea: strings.TrimSpace(s.AdminArea),
			Website:   strings.TrimSpace(s.Website),
		})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "unmarshaling stations")
	}

	return stations, nil
}
