package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"railtrack.dev/railtrack/model"
	"railtrack.dev/railtrack/storage"
)

var trainsCmd = &cobra.Command{
	Use:   "trains [query]",
	Short: "Lists live trains, optionally matching a name, number or railroad",
	Args:  cobra.RangeArgs(0, 1),
	RunE:  trains,
}

var nearestCmd = &cobra.Command{
	Use:   "nearest <lat> <lng>",
	Short: "Lists the live trains closest to a geographical location",
	Args:  cobra.ExactArgs(2),
	RunE:  nearest,
}

var refresh bool

func init() {
	trainsCmd.Flags().BoolVarP(&refresh, "refresh", "r", false, "Fetch the live snapshot first")
	nearestCmd.Flags().BoolVarP(&refresh, "refresh", "r", false, "Fetch the live snapshot first")
	rootCmd.AddCommand(trainsCmd)
	rootCmd.AddCommand(nearestCmd)
}

func trains(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	if refresh {
		err = a.manager.RefreshTrains(cmd.Context())
		if err != nil {
			return err
		}
	}

	var found []model.LiveTrain
	if len(args) == 0 {
		found, err = a.manager.Trains()
	} else {
		found, err = a.manager.SearchTrains(args[0])
	}
	if err != nil {
		return err
	}

	for _, t := range found {
		fmt.Printf("%5d %-30s %-10s next %-5s %s\n", t.Number, t.Name, t.Railroad, t.NextStation, t.ScheduledArrival)
	}

	return nil
}

func nearest(cmd *cobra.Command, args []string) error {
	lat, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid lat: %w", err)
	}
	lng, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid lng: %w", err)
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	if refresh {
		err = a.manager.RefreshTrains(cmd.Context())
		if err != nil {
			return err
		}
	}

	found, err := a.manager.NearestTrains(lat, lng)
	if err != nil {
		return err
	}

	for _, t := range found {
		fmt.Printf(
			"%5d %-30s %-10s %7.1f km\n",
			t.Number, t.Name, t.Railroad,
			storage.HaversineDistance(lat, lng, *t.Lat, *t.Lon),
		)
	}

	return nil
}
