package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"railtrack.dev/railtrack/model"
)

// Query helpers shared by the sqlite and postgres implementations.

type queryer interface {
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

type placeholderFunc func(n int) string

func sqlitePlaceholder(n int) string {
	return "?"
}

func psqlPlaceholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func queryTrains(q queryer, placeholder placeholderFunc, filter TrainFilter) ([]model.LiveTrain, error) {
	query := `
SELECT id, number, name, railroad, lat, lon, next_station, arrival_epoch, scheduled_arrival, active
FROM live_trains`

	conditions := []string{}
	params := []interface{}{}
	if filter.NameContains != "" {
		params = append(params, likeContains(filter.NameContains))
		conditions = append(conditions, fmt.Sprintf(`lower(name) LIKE %s ESCAPE '\'`, placeholder(len(params))))
	}
	if filter.RailroadContains != "" {
		params = append(params, likeContains(filter.RailroadContains))
		conditions = append(conditions, fmt.Sprintf(`lower(railroad) LIKE %s ESCAPE '\'`, placeholder(len(params))))
	}
	if filter.HasNumber {
		params = append(params, filter.Number)
		conditions = append(conditions, fmt.Sprintf(`number = %s`, placeholder(len(params))))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY number, id"

	rows, err := q.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("querying trains: %w", err)
	}
	defer rows.Close()

	trains := []model.LiveTrain{}
	for rows.Next() {
		var train model.LiveTrain
		var lat, lon sql.NullFloat64
		err := rows.Scan(
			&train.ID,
			&train.Number,
			&train.Name,
			&train.Railroad,
			&lat,
			&lon,
			&train.NextStation,
			&train.ArrivalEpoch,
			&train.ScheduledArrival,
			&train.Active,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning train: %w", err)
		}
		if lat.Valid {
			train.Lat = &lat.Float64
		}
		if lon.Valid {
			train.Lon = &lon.Float64
		}
		trains = append(trains, train)
	}

	return trains, rows.Err()
}
