package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"railtrack.dev/railtrack/model"
)

// In memory implementation of Storage below. Writers build a fresh
// copy of the data and swap it in on Commit().

type MemoryStorage struct {
	mutex     sync.RWMutex
	stations  map[string]model.Station
	schedules map[model.Source]*memorySchedule
	trains    map[string]model.LiveTrain
}

type memorySchedule struct {
	routes          map[string]model.Route
	trips           map[string]model.Trip
	stopTimesByStop map[string][]model.StopTime
	numStopTimes    int
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		stations:  map[string]model.Station{},
		schedules: map[model.Source]*memorySchedule{},
		trains:    map[string]model.LiveTrain{},
	}
}

func (s *MemoryStorage) Close() error {
	return nil
}

func (s *MemoryStorage) ReplaceStations(stations []model.Station) error {
	byCode := make(map[string]model.Station, len(stations))
	for _, station := range stations {
		byCode[strings.ToUpper(station.Code)] = station
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.stations = byCode
	return nil
}

func (s *MemoryStorage) StationByCode(code string) (*model.Station, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	station, found := s.stations[strings.ToUpper(code)]
	if !found {
		return nil, nil
	}
	return &station, nil
}

func (s *MemoryStorage) SearchStations(filter StationFilter) ([]model.Station, error) {
	code := strings.ToLower(filter.CodeContains)
	name := strings.ToLower(filter.NameContains)

	s.mutex.RLock()
	stations := []model.Station{}
	for _, station := range s.stations {
		if code != "" && !strings.Contains(strings.ToLower(station.Code), code) {
			continue
		}
		if name != "" && !strings.Contains(strings.ToLower(station.Name), name) {
			continue
		}
		stations = append(stations, station)
	}
	s.mutex.RUnlock()

	sort.Slice(stations, func(i, j int) bool {
		return stations[i].Code < stations[j].Code
	})
	return stations, nil
}

func (s *MemoryStorage) GetScheduleWriter(source model.Source) (ScheduleWriter, error) {
	return &memoryScheduleWriter{
		storage: s,
		source:  source,
		schedule: &memorySchedule{
			routes:          map[string]model.Route{},
			trips:           map[string]model.Trip{},
			stopTimesByStop: map[string][]model.StopTime{},
		},
	}, nil
}

func (s *MemoryStorage) Route(source model.Source, id string) (*model.Route, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	sched, found := s.schedules[source]
	if !found {
		return nil, nil
	}
	route, found := sched.routes[id]
	if !found {
		return nil, nil
	}
	return &route, nil
}

func (s *MemoryStorage) Trip(source model.Source, id string) (*model.Trip, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	sched, found := s.schedules[source]
	if !found {
		return nil, nil
	}
	trip, found := sched.trips[id]
	if !found {
		return nil, nil
	}
	return &trip, nil
}

func (s *MemoryStorage) StopTimesByStop(stopID string) ([]model.StopTime, error) {
	s.mutex.RLock()
	stopTimes := []model.StopTime{}
	for _, sched := range s.schedules {
		stopTimes = append(stopTimes, sched.stopTimesByStop[stopID]...)
	}
	s.mutex.RUnlock()

	sortStopTimes(stopTimes)
	return stopTimes, nil
}

func (s *MemoryStorage) ScheduleCounts(source model.Source) (ScheduleCounts, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	sched, found := s.schedules[source]
	if !found {
		return ScheduleCounts{}, nil
	}
	return ScheduleCounts{
		Routes:    len(sched.routes),
		Trips:     len(sched.trips),
		StopTimes: sched.numStopTimes,
	}, nil
}

type memoryScheduleWriter struct {
	storage  *MemoryStorage
	source   model.Source
	schedule *memorySchedule
	done     bool
}

func (w *memoryScheduleWriter) WriteRoute(route model.Route) error {
	route.Source = w.source
	w.schedule.routes[route.ID] = route
	return nil
}

func (w *memoryScheduleWriter) WriteTrip(trip model.Trip) error {
	trip.Source = w.source
	w.schedule.trips[trip.ID] = trip
	return nil
}

func (w *memoryScheduleWriter) BeginStopTimes() error {
	return nil
}

func (w *memoryScheduleWriter) WriteStopTime(stopTime model.StopTime) error {
	stopTime.Source = w.source
	w.schedule.stopTimesByStop[stopTime.StopID] = append(w.schedule.stopTimesByStop[stopTime.StopID], stopTime)
	w.schedule.numStopTimes++
	return nil
}

func (w *memoryScheduleWriter) EndStopTimes() error {
	return nil
}

func (w *memoryScheduleWriter) Commit() error {
	if w.done {
		return fmt.Errorf("writer already closed")
	}
	w.done = true

	w.storage.mutex.Lock()
	defer w.storage.mutex.Unlock()
	w.storage.schedules[w.source] = w.schedule
	return nil
}

func (w *memoryScheduleWriter) Rollback() error {
	w.done = true
	return nil
}

func (s *MemoryStorage) GetTrainWriter() (TrainWriter, error) {
	s.mutex.RLock()
	staged := make(map[string]model.LiveTrain, len(s.trains))
	for id, train := range s.trains {
		staged[id] = train
	}
	s.mutex.RUnlock()

	return &memoryTrainWriter{
		storage: s,
		staged:  staged,
	}, nil
}

func (s *MemoryStorage) Trains(filter TrainFilter) ([]model.LiveTrain, error) {
	s.mutex.RLock()
	trains := []model.LiveTrain{}
	for _, train := range s.trains {
		if filter.matches(train) {
			trains = append(trains, train)
		}
	}
	s.mutex.RUnlock()

	sortTrains(trains)
	return trains, nil
}

type memoryTrainWriter struct {
	storage *MemoryStorage
	staged  map[string]model.LiveTrain
	done    bool
}

func (w *memoryTrainWriter) MarkAllInactive() error {
	for id, train := range w.staged {
		train.Active = false
		w.staged[id] = train
	}
	return nil
}

func (w *memoryTrainWriter) UpsertTrain(train model.LiveTrain) error {
	if train.ID == "" {
		return fmt.Errorf("train has no ID")
	}
	w.staged[train.ID] = train
	return nil
}

func (w *memoryTrainWriter) DeleteInactive() (int, error) {
	n := 0
	for id, train := range w.staged {
		if !train.Active {
			delete(w.staged, id)
			n++
		}
	}
	return n, nil
}

func (w *memoryTrainWriter) Staged() ([]model.LiveTrain, error) {
	trains := make([]model.LiveTrain, 0, len(w.staged))
	for _, train := range w.staged {
		trains = append(trains, train)
	}
	sortTrains(trains)
	return trains, nil
}

func (w *memoryTrainWriter) Commit() error {
	if w.done {
		return fmt.Errorf("writer already closed")
	}
	w.done = true

	w.storage.mutex.Lock()
	defer w.storage.mutex.Unlock()
	w.storage.trains = w.staged
	return nil
}

func (w *memoryTrainWriter) Rollback() error {
	w.done = true
	return nil
}
