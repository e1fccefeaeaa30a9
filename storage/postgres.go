package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"railtrack.dev/railtrack/model"
)

const (
	PSQLStopTimeBatchSize = 5000
)

type PSQLStorage struct {
	db *sql.DB
}

type PSQLScheduleWriter struct {
	source      model.Source
	tx          *sql.Tx
	stopTimeBuf []model.StopTime
}

type PSQLTrainWriter struct {
	tx *sql.Tx
}

const psqlSchema = `
CREATE TABLE IF NOT EXISTS stations (
    code_key TEXT NOT NULL,
    id TEXT NOT NULL,
    code TEXT NOT NULL,
    name TEXT NOT NULL,
    name_key TEXT NOT NULL,
    time_zone TEXT NOT NULL,
    admin_area TEXT NOT NULL,
    website TEXT NOT NULL,
    PRIMARY KEY (code_key)
);

CREATE TABLE IF NOT EXISTS routes (
    source TEXT NOT NULL,
    id TEXT NOT NULL,
    name TEXT NOT NULL,
    PRIMARY KEY (source, id)
);

CREATE TABLE IF NOT EXISTS trips (
    source TEXT NOT NULL,
    id TEXT NOT NULL,
    route_id TEXT NOT NULL,
    number INTEGER NOT NULL,
    destination TEXT NOT NULL,
    PRIMARY KEY (source, id)
);

CREATE TABLE IF NOT EXISTS stop_times (
    source TEXT NOT NULL,
    trip_id TEXT NOT NULL,
    stop_id TEXT NOT NULL,
    stop_sequence INTEGER NOT NULL,
    arrival_time TEXT NOT NULL,
    departure_time TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS stop_times_stop_id ON stop_times (stop_id);
CREATE INDEX IF NOT EXISTS stop_times_source ON stop_times (source);

CREATE TABLE IF NOT EXISTS live_trains (
    id TEXT NOT NULL,
    number INTEGER NOT NULL,
    name TEXT NOT NULL,
    railroad TEXT NOT NULL,
    lat DOUBLE PRECISION,
    lon DOUBLE PRECISION,
    next_station TEXT NOT NULL,
    arrival_epoch BIGINT NOT NULL,
    scheduled_arrival TEXT NOT NULL,
    active BOOLEAN NOT NULL,
    PRIMARY KEY (id)
);`

// Creates a new Postgres Storage using the provided connection string.
//
// If clearDB is true, the database will be cleared on startup. You
// probably only want this for testing.
func NewPSQLStorage(connStr string, clearDB bool) (*PSQLStorage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	err = db.Ping()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if clearDB {
		_, err = db.Exec(`
DROP TABLE IF EXISTS stations;
DROP TABLE IF EXISTS routes;
DROP TABLE IF EXISTS trips;
DROP TABLE IF EXISTS stop_times;
DROP TABLE IF EXISTS live_trains;
`)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("clearing db: %w", err)
		}
	}

	_, err = db.Exec(psqlSchema)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	return &PSQLStorage{db: db}, nil
}

func (s *PSQLStorage) Close() error {
	return s.db.Close()
}

func (s *PSQLStorage) ReplaceStations(stations []model.Station) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`DELETE FROM stations`)
	if err != nil {
		return fmt.Errorf("deleting stations: %w", err)
	}

	stmt, err := tx.Prepare(`
INSERT INTO stations (code_key, id, code, name, name_key, time_zone, admin_area, website)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (code_key) DO UPDATE SET
    id = EXCLUDED.id,
    code = EXCLUDED.code,
    name = EXCLUDED.name,
    name_key = EXCLUDED.name_key,
    time_zone = EXCLUDED.time_zone,
    admin_area = EXCLUDED.admin_area,
    website = EXCLUDED.website`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, station := range stations {
		_, err = stmt.Exec(
			strings.ToUpper(station.Code),
			station.ID,
			station.Code,
			station.Name,
			strings.ToLower(station.Name),
			station.TimeZone,
			station.AdminArea,
			station.Website,
		)
		if err != nil {
			return fmt.Errorf("inserting station %s: %w", station.Code, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	return nil
}

func (s *PSQLStorage) StationByCode(code string) (*model.Station, error) {
	row := s.db.QueryRow(`
SELECT id, code, name, time_zone, admin_area, website
FROM stations
WHERE code_key = $1`, strings.ToUpper(code))

	var station model.Station
	err := row.Scan(
		&station.ID,
		&station.Code,
		&station.Name,
		&station.TimeZone,
		&station.AdminArea,
		&station.Website,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning station: %w", err)
	}

	return &station, nil
}

func (s *PSQLStorage) SearchStations(filter StationFilter) ([]model.Station, error) {
	query := `
SELECT id, code, name, time_zone, admin_area, website
FROM stations`

	conditions := []string{}
	params := []interface{}{}
	if filter.CodeContains != "" {
		params = append(params, likeContains(filter.CodeContains))
		conditions = append(conditions, fmt.Sprintf(`lower(code) LIKE $%d ESCAPE '\'`, len(params)))
	}
	if filter.NameContains != "" {
		params = append(params, likeContains(filter.NameContains))
		conditions = append(conditions, fmt.Sprintf(`name_key LIKE $%d ESCAPE '\'`, len(params)))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY code"

	rows, err := s.db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("querying stations: %w", err)
	}
	defer rows.Close()

	stations := []model.Station{}
	for rows.Next() {
		var station model.Station
		err := rows.Scan(
			&station.ID,
			&station.Code,
			&station.Name,
			&station.TimeZone,
			&station.AdminArea,
			&station.Website,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning station: %w", err)
		}
		stations = append(stations, station)
	}

	return stations, rows.Err()
}

func (s *PSQLStorage) GetScheduleWriter(source model.Source) (ScheduleWriter, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}

	// Replaced wholesale on commit.
	for _, table := range []string{"routes", "trips", "stop_times"} {
		_, err = tx.Exec(`DELETE FROM `+table+` WHERE source = $1`, string(source))
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("deleting %s records: %w", table, err)
		}
	}

	return &PSQLScheduleWriter{
		source: source,
		tx:     tx,
	}, nil
}

func (w *PSQLScheduleWriter) WriteRoute(route model.Route) error {
	_, err := w.tx.Exec(`
INSERT INTO routes (source, id, name)
VALUES ($1, $2, $3)
ON CONFLICT (source, id) DO UPDATE SET name = EXCLUDED.name`,
		string(w.source),
		route.ID,
		route.Name,
	)
	if err != nil {
		return fmt.Errorf("inserting route: %w", err)
	}
	return nil
}

func (w *PSQLScheduleWriter) WriteTrip(trip model.Trip) error {
	_, err := w.tx.Exec(`
INSERT INTO trips (source, id, route_id, number, destination)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (source, id) DO UPDATE SET
    route_id = EXCLUDED.route_id,
    number = EXCLUDED.number,
    destination = EXCLUDED.destination`,
		string(w.source),
		trip.ID,
		trip.RouteID,
		trip.Number,
		trip.Destination,
	)
	if err != nil {
		return fmt.Errorf("inserting trip: %w", err)
	}
	return nil
}

func (w *PSQLScheduleWriter) BeginStopTimes() error {
	return nil
}

func (w *PSQLScheduleWriter) WriteStopTime(stopTime model.StopTime) error {
	w.stopTimeBuf = append(w.stopTimeBuf, stopTime)

	if len(w.stopTimeBuf) >= PSQLStopTimeBatchSize {
		err := w.flushStopTimes()
		if err != nil {
			return fmt.Errorf("flushing stop_times: %w", err)
		}
	}

	return nil
}

func (w *PSQLScheduleWriter) EndStopTimes() error {
	if len(w.stopTimeBuf) > 0 {
		err := w.flushStopTimes()
		if err != nil {
			return fmt.Errorf("flushing stop_times: %w", err)
		}
	}
	return nil
}

func (w *PSQLScheduleWriter) flushStopTimes() error {
	stmt, err := w.tx.Prepare(pq.CopyIn(
		"stop_times", "source", "trip_id", "stop_id", "stop_sequence", "arrival_time", "departure_time",
	))
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, stopTime := range w.stopTimeBuf {
		_, err = stmt.Exec(
			string(w.source),
			stopTime.TripID,
			stopTime.StopID,
			stopTime.StopSequence,
			stopTime.Arrival,
			stopTime.Departure,
		)
		if err != nil {
			return fmt.Errorf("COPY stop_time: %w", err)
		}
	}

	_, err = stmt.Exec()
	if err != nil {
		return fmt.Errorf("executing statement: %w", err)
	}

	w.stopTimeBuf = nil

	return nil
}

func (w *PSQLScheduleWriter) Commit() error {
	if err := w.EndStopTimes(); err != nil {
		w.tx.Rollback()
		return err
	}
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

func (w *PSQLScheduleWriter) Rollback() error {
	w.stopTimeBuf = nil
	err := w.tx.Rollback()
	if err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("rolling back: %w", err)
	}
	return nil
}

func (s *PSQLStorage) Route(source model.Source, id string) (*model.Route, error) {
	row := s.db.QueryRow(`
SELECT id, name FROM routes WHERE source = $1 AND id = $2`, string(source), id)

	route := model.Route{Source: source}
	err := row.Scan(&route.ID, &route.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning route: %w", err)
	}
	return &route, nil
}

func (s *PSQLStorage) Trip(source model.Source, id string) (*model.Trip, error) {
	row := s.db.QueryRow(`
SELECT id, route_id, number, destination FROM trips WHERE source = $1 AND id = $2`, string(source), id)

	trip := model.Trip{Source: source}
	err := row.Scan(&trip.ID, &trip.RouteID, &trip.Number, &trip.Destination)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning trip: %w", err)
	}
	return &trip, nil
}

func (s *PSQLStorage) StopTimesByStop(stopID string) ([]model.StopTime, error) {
	rows, err := s.db.Query(`
SELECT source, trip_id, stop_id, stop_sequence, arrival_time, departure_time
FROM stop_times
WHERE stop_id = $1
ORDER BY source, trip_id, stop_sequence`, stopID)
	if err != nil {
		return nil, fmt.Errorf("querying stop_times: %w", err)
	}
	defer rows.Close()

	stopTimes := []model.StopTime{}
	for rows.Next() {
		var st model.StopTime
		var source string
		err := rows.Scan(
			&source,
			&st.TripID,
			&st.StopID,
			&st.StopSequence,
			&st.Arrival,
			&st.Departure,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning stop_time: %w", err)
		}
		st.Source = model.Source(source)
		stopTimes = append(stopTimes, st)
	}

	return stopTimes, rows.Err()
}

func (s *PSQLStorage) ScheduleCounts(source model.Source) (ScheduleCounts, error) {
	counts := ScheduleCounts{}
	err := s.db.QueryRow(`
SELECT
    (SELECT COUNT(*) FROM routes WHERE source = $1),
    (SELECT COUNT(*) FROM trips WHERE source = $1),
    (SELECT COUNT(*) FROM stop_times WHERE source = $1)`,
		string(source),
	).Scan(&counts.Routes, &counts.Trips, &counts.StopTimes)
	if err != nil {
		return ScheduleCounts{}, fmt.Errorf("counting: %w", err)
	}
	return counts, nil
}

func (s *PSQLStorage) GetTrainWriter() (TrainWriter, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	return &PSQLTrainWriter{tx: tx}, nil
}

func (s *PSQLStorage) Trains(filter TrainFilter) ([]model.LiveTrain, error) {
	return queryTrains(s.db, psqlPlaceholder, filter)
}

func (w *PSQLTrainWriter) MarkAllInactive() error {
	_, err := w.tx.Exec(`UPDATE live_trains SET active = FALSE`)
	if err != nil {
		return fmt.Errorf("marking trains inactive: %w", err)
	}
	return nil
}

func (w *PSQLTrainWriter) UpsertTrain(train model.LiveTrain) error {
	if train.ID == "" {
		return fmt.Errorf("train has no ID")
	}
	_, err := w.tx.Exec(`
INSERT INTO live_trains (id, number, name, railroad, lat, lon, next_station, arrival_epoch, scheduled_arrival, active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
    number = EXCLUDED.number,
    name = EXCLUDED.name,
    railroad = EXCLUDED.railroad,
    lat = EXCLUDED.lat,
    lon = EXCLUDED.lon,
    next_station = EXCLUDED.next_station,
    arrival_epoch = EXCLUDED.arrival_epoch,
    scheduled_arrival = EXCLUDED.scheduled_arrival,
    active = EXCLUDED.active`,
		train.ID,
		train.Number,
		train.Name,
		train.Railroad,
		nullFloat(train.Lat),
		nullFloat(train.Lon),
		train.NextStation,
		train.ArrivalEpoch,
		train.ScheduledArrival,
		train.Active,
	)
	if err != nil {
		return fmt.Errorf("upserting train %s: %w", train.ID, err)
	}
	return nil
}

func (w *PSQLTrainWriter) DeleteInactive() (int, error) {
	res, err := w.tx.Exec(`DELETE FROM live_trains WHERE active = FALSE`)
	if err != nil {
		return 0, fmt.Errorf("deleting inactive trains: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted trains: %w", err)
	}
	return int(n), nil
}

func (w *PSQLTrainWriter) Staged() ([]model.LiveTrain, error) {
	return queryTrains(w.tx, psqlPlaceholder, TrainFilter{})
}

func (w *PSQLTrainWriter) Commit() error {
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

func (w *PSQLTrainWriter) Rollback() error {
	err := w.tx.Rollback()
	if err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("rolling back: %w", err)
	}
	return nil
}
