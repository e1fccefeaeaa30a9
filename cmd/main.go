package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"railtrack.dev/railtrack"
	"railtrack.dev/railtrack/config"
	"railtrack.dev/railtrack/downloader"
	"railtrack.dev/railtrack/metrics"
	"railtrack.dev/railtrack/publisher"
	"railtrack.dev/railtrack/storage"
)

var rootCmd = &cobra.Command{
	Use:          "railtrack",
	Short:        "Passenger train tracker",
	Long:         "Imports rail schedules, builds station timeboards and tracks live trains",
	SilenceUsage: true,
}

var (
	configPath     string
	storageBackend string
	stationsPath   string
	cacheDir       string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVarP(&storageBackend, "storage", "s", "", "Storage backend (memory, sqlite, postgres)")
	rootCmd.PersistentFlags().StringVarP(&stationsPath, "stations", "", "", "Station directory CSV")
	rootCmd.PersistentFlags().StringVarP(&cacheDir, "cache-dir", "", "", "Cache downloads in this directory")
}

func main() {
	railtrack.InitLogging("railtrack")
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// Everything a command needs, plus a func to tear it down.
type app struct {
	config  *config.Config
	manager *railtrack.Manager
	metrics *metrics.Collector
	close   func()
}

func loadApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if storageBackend != "" {
		cfg.Storage.Backend = storageBackend
	}
	if stationsPath != "" {
		cfg.StationsPath = stationsPath
	}
	if cacheDir != "" {
		cfg.Cache.Backend = "filesystem"
		cfg.Cache.Dir = cacheDir
	}
	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	closers := []func(){}
	a := &app{
		config: cfg,
		close: func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		},
	}

	s, err := buildStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}
	closers = append(closers, func() { s.Close() })

	a.manager = railtrack.NewManager(s, cfg)
	a.manager.Downloader, err = buildDownloader(cfg.Cache)
	if err != nil {
		a.close()
		return nil, err
	}
	if rd, ok := a.manager.Downloader.(*downloader.RedisDownloader); ok {
		closers = append(closers, func() { rd.Close() })
	}

	a.manager.Publisher, err = buildPublisher(cfg.Publisher, cfg.Live.PublishName)
	if err != nil {
		a.close()
		return nil, err
	}
	if a.manager.Publisher != nil {
		closers = append(closers, a.manager.Publisher.Close)
	}

	if cfg.MetricsAddr != "" {
		a.metrics = metrics.NewCollector()
		a.manager.Metrics = a.metrics
	}

	return a, nil
}

func buildStorage(cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemoryStorage(), nil
	case "sqlite":
		dir := cfg.SQLiteDir
		if dir == "" {
			dir = "."
		}
		return storage.NewSQLiteStorage(storage.SQLiteConfig{OnDisk: true, Directory: dir})
	case "postgres":
		return storage.NewPSQLStorage(cfg.PostgresURL, false)
	}
	return nil, fmt.Errorf("unknown storage backend '%s'", cfg.Backend)
}

func buildDownloader(cfg config.CacheConfig) (downloader.Downloader, error) {
	switch cfg.Backend {
	case "memory":
		return downloader.NewMemoryDownloader(), nil
	case "filesystem":
		return downloader.NewFilesystem(cfg.Dir)
	case "redis":
		return downloader.NewRedisDownloader(cfg.RedisAddr), nil
	}
	return nil, fmt.Errorf("unknown cache backend '%s'", cfg.Backend)
}

func buildPublisher(cfg config.PublisherConfig, subject string) (publisher.Publisher, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "nats":
		return publisher.NewNATSPublisher(cfg.NATSURL, subject)
	case "kafka":
		return publisher.NewKafkaPublisher(cfg.KafkaBrokers, subject)
	}
	return nil, fmt.Errorf("unknown publisher backend '%s'", cfg.Backend)
}
