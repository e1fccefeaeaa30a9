package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"railtrack.dev/railtrack/config"
	"railtrack.dev/railtrack/model"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Imports the station directory and all schedule sources",
	Args:  cobra.NoArgs,
	RunE:  importSchedules,
}

var only []string

func init() {
	importCmd.Flags().StringSliceVarP(&only, "only", "o", nil, "Import only these sources (amtrak, via, sanjoaquins)")
	rootCmd.AddCommand(importCmd)
}

func importSchedules(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	if len(only) > 0 {
		a.config.Sources, err = selectSources(a.config.Sources, only)
		if err != nil {
			return err
		}
	}

	if a.config.StationsPath != "" {
		err = a.manager.LoadStations(a.config.StationsPath)
		if err != nil {
			return err
		}
	}

	err = a.manager.RefreshSchedule(cmd.Context())
	if err != nil {
		return fmt.Errorf("some sources failed: %w", err)
	}

	return nil
}

func selectSources(sources []config.ScheduleSource, names []string) ([]config.ScheduleSource, error) {
	wanted := map[model.Source]bool{}
	for _, name := range names {
		src, err := model.ParseSource(name)
		if err != nil {
			return nil, err
		}
		wanted[src] = true
	}

	selected := []config.ScheduleSource{}
	for _, s := range sources {
		if wanted[s.Source] {
			selected = append(selected, s)
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("none of %v is configured", names)
	}

	return selected, nil
}
