package storage

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"railtrack.dev/railtrack/model"
)

type SQLiteConfig struct {
	OnDisk    bool
	Directory string
}

type SQLiteStorage struct {
	SQLiteConfig

	db *sql.DB
}

type SQLiteScheduleWriter struct {
	source              model.Source
	tx                  *sql.Tx
	stopTimeInsertQuery *sql.Stmt
}

type SQLiteTrainWriter struct {
	tx *sql.Tx
}

const sqliteSchema = `
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
    lat REAL,
    lon REAL,
    next_station TEXT NOT NULL,
    arrival_epoch INTEGER NOT NULL,
    scheduled_arrival TEXT NOT NULL,
    active INTEGER NOT NULL,
PRIMARY KEY (id)
);`

func NewSQLiteStorage(cfg ...SQLiteConfig) (*SQLiteStorage, error) {
	onDisk := false
	directory := ""
	if len(cfg) > 0 {
		onDisk = cfg[0].OnDisk
		directory = cfg[0].Directory
	}

	sourceName := ":memory:"
	if onDisk {
		sourceName = filepath.Join(directory, "railtrack.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", sourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every connection to :memory: gets its own database.
	if !onDisk {
		db.SetMaxOpenConns(1)
	}

	_, err = db.Exec(sqliteSchema)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	return &SQLiteStorage{
		SQLiteConfig: SQLiteConfig{
			OnDisk:    onDisk,
			Directory: directory,
		},
		db: db,
	}, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) ReplaceStations(stations []model.Station) error {
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
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (code_key) DO UPDATE SET
    id = excluded.id,
    code = excluded.code,
    name = excluded.name,
    name_key = excluded.name_key,
    time_zone = excluded.time_zone,
    admin_area = excluded.admin_area,
    website = excluded.website`)
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

func (s *SQLiteStorage) StationByCode(code string) (*model.Station, error) {
	row := s.db.QueryRow(`
SELECT id, code, name, time_zone, admin_area, website
FROM stations
WHERE code_key = ?`, strings.ToUpper(code))

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

func (s *SQLiteStorage) SearchStations(filter StationFilter) ([]model.Station, error) {
	query := `
SELECT id, code, name, time_zone, admin_area, website
FROM stations`

	conditions := []string{}
	params := []interface{}{}
	if filter.CodeContains != "" {
		conditions = append(conditions, `lower(code) LIKE ? ESCAPE '\'`)
		params = append(params, likeContains(filter.CodeContains))
	}
	if filter.NameContains != "" {
		conditions = append(conditions, `name_key LIKE ? ESCAPE '\'`)
		params = append(params, likeContains(filter.NameContains))
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

func (s *SQLiteStorage) GetScheduleWriter(source model.Source) (ScheduleWriter, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}

	// Replaced wholesale on commit.
	for _, table := range []string{"routes", "trips", "stop_times"} {
		_, err = tx.Exec(`DELETE FROM `+table+` WHERE source = ?`, string(source))
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("deleting %s records: %w", table, err)
		}
	}

	return &SQLiteScheduleWriter{
		source: source,
		tx:     tx,
	}, nil
}

func (w *SQLiteScheduleWriter) WriteRoute(route model.Route) error {
	_, err := w.tx.Exec(`
INSERT OR REPLACE INTO routes (source, id, name)
VALUES (?, ?, ?)`,
		string(w.source),
		route.ID,
		route.Name,
	)
	if err != nil {
		return fmt.Errorf("inserting route: %w", err)
	}
	return nil
}

func (w *SQLiteScheduleWriter) WriteTrip(trip model.Trip) error {
	_, err := w.tx.Exec(`
INSERT OR REPLACE INTO trips (source, id, route_id, number, destination)
VALUES (?, ?, ?, ?, ?)`,
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

func (w *SQLiteScheduleWriter) BeginStopTimes() error {
	stmt, err := w.tx.Prepare(`
INSERT INTO stop_times (source, trip_id, stop_id, stop_sequence, arrival_time, departure_time)
VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	w.stopTimeInsertQuery = stmt
	return nil
}

func (w *SQLiteScheduleWriter) WriteStopTime(stopTime model.StopTime) error {
	if w.stopTimeInsertQuery == nil {
		return fmt.Errorf("BeginStopTimes not called")
	}
	_, err := w.stopTimeInsertQuery.Exec(
		string(w.source),
		stopTime.TripID,
		stopTime.StopID,
		stopTime.StopSequence,
		stopTime.Arrival,
		stopTime.Departure,
	)
	if err != nil {
		return fmt.Errorf("inserting stop_time: %w", err)
	}
	return nil
}

func (w *SQLiteScheduleWriter) EndStopTimes() error {
	if w.stopTimeInsertQuery == nil {
		return nil
	}
	err := w.stopTimeInsertQuery.Close()
	w.stopTimeInsertQuery = nil
	if err != nil {
		return fmt.Errorf("closing statement: %w", err)
	}
	return nil
}

func (w *SQLiteScheduleWriter) Commit() error {
	if err := w.EndStopTimes(); err != nil {
		w.tx.Rollback()
		return err
	}
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

func (w *SQLiteScheduleWriter) Rollback() error {
	w.EndStopTimes()
	err := w.tx.Rollback()
	if err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("rolling back: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Route(source model.Source, id string) (*model.Route, error) {
	row := s.db.QueryRow(`
SELECT id, name FROM routes WHERE source = ? AND id = ?`, string(source), id)

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

func (s *SQLiteStorage) Trip(source model.Source, id string) (*model.Trip, error) {
	row := s.db.QueryRow(`
SELECT id, route_id, number, destination FROM trips WHERE source = ? AND id = ?`, string(source), id)

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

func (s *SQLiteStorage) StopTimesByStop(stopID string) ([]model.StopTime, error) {
	rows, err := s.db.Query(`
SELECT source, trip_id, stop_id, stop_sequence, arrival_time, departure_time
FROM stop_times
WHERE stop_id = ?
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

func (s *SQLiteStorage) ScheduleCounts(source model.Source) (ScheduleCounts, error) {
	counts := ScheduleCounts{}
	err := s.db.QueryRow(`
SELECT
    (SELECT COUNT(*) FROM routes WHERE source = ?),
    (SELECT COUNT(*) FROM trips WHERE source = ?),
    (SELECT COUNT(*) FROM stop_times WHERE source = ?)`,
		string(source), string(source), string(source),
	).Scan(&counts.Routes, &counts.Trips, &counts.StopTimes)
	if err != nil {
		return ScheduleCounts{}, fmt.Errorf("counting: %w", err)
	}
	return counts, nil
}

func (s *SQLiteStorage) GetTrainWriter() (TrainWriter, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	return &SQLiteTrainWriter{tx: tx}, nil
}

func (s *SQLiteStorage) Trains(filter TrainFilter) ([]model.LiveTrain, error) {
	return queryTrains(s.db, sqlitePlaceholder, filter)
}

func (w *SQLiteTrainWriter) MarkAllInactive() error {
	_, err := w.tx.Exec(`UPDATE live_trains SET active = 0`)
	if err != nil {
		return fmt.Errorf("marking trains inactive: %w", err)
	}
	return nil
}

func (w *SQLiteTrainWriter) UpsertTrain(train model.LiveTrain) error {
	if train.ID == "" {
		return fmt.Errorf("train has no ID")
	}
	_, err := w.tx.Exec(`
INSERT INTO live_trains (id, number, name, railroad, lat, lon, next_station, arrival_epoch, scheduled_arrival, active)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    number = excluded.number,
    name = excluded.name,
    railroad = excluded.railroad,
    lat = excluded.lat,
    lon = excluded.lon,
    next_station = excluded.next_station,
    arrival_epoch = excluded.arrival_epoch,
    scheduled_arrival = excluded.scheduled_arrival,
    active = excluded.active`,
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

func (w *SQLiteTrainWriter) DeleteInactive() (int, error) {
	res, err := w.tx.Exec(`DELETE FROM live_trains WHERE active = 0`)
	if err != nil {
		return 0, fmt.Errorf("deleting inactive trains: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted trains: %w", err)
	}
	return int(n), nil
}

func (w *SQLiteTrainWriter) Staged() ([]model.LiveTrain, error) {
	return queryTrains(w.tx, sqlitePlaceholder, TrainFilter{})
}

func (w *SQLiteTrainWriter) Commit() error {
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

func (w *SQLiteTrainWriter) Rollback() error {
	err := w.tx.Rollback()
	if err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("rolling back: %w", err)
	}
	return nil
}
