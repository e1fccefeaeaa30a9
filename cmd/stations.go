package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"railtrack.dev/railtrack/model"
)

var stationsCmd = &cobra.Command{
	Use:   "stations [query]",
	Short: "Searches stations by name, or by code with --code",
	Args:  cobra.RangeArgs(0, 1),
	RunE:  stations,
}

var byCode bool

func init() {
	stationsCmd.Flags().BoolVarP(&byCode, "code", "", false, "Match the query against station codes")
	rootCmd.AddCommand(stationsCmd)
}

func stations(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	var found []model.Station
	switch {
	case len(args) == 0:
		found, err = a.manager.Stations()
	case byCode:
		found, err = a.manager.SearchStationsByCode(args[0])
	default:
		found, err = a.manager.SearchStationsByName(args[0])
	}
	if err != nil {
		return err
	}

	for _, s := range found {
		fmt.Printf("%-5s %-40s %-3s %s\n", s.Code, s.Name, s.AdminArea, s.TimeZone)
	}

	return nil
}
