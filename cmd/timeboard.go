package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var timeboardCmd = &cobra.Command{
	Use:   "timeboard <station_code>",
	Short: "Lists arrivals and departures at a station",
	Args:  cobra.ExactArgs(1),
	RunE:  timeboard,
}

var limit int

func init() {
	timeboardCmd.Flags().IntVarP(&limit, "limit", "l", -1, "Limit the number of rows shown")
	rootCmd.AddCommand(timeboardCmd)
}

func timeboard(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	board, err := a.manager.Timeboard(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("%s %s (%s)\n", board.Code, board.Name, board.AdminArea)
	for i, row := range board.Rows {
		if limit >= 0 && i >= limit {
			break
		}
		fmt.Printf(
			"%s %5d %-28s %-20s arr %s%s dep %s%s\n",
			row.Date,
			row.TrainNumber,
			row.RouteName,
			row.Destination,
			orScheduled(row.Arrival, row.ScheduledArrival),
			lateMark(row.LateArrival),
			orScheduled(row.Departure, row.ScheduledDeparture),
			lateMark(row.LateDeparture),
		)
	}

	return nil
}

func orScheduled(actual, scheduled string) string {
	if actual == "" {
		return scheduled + " (sch)"
	}
	return actual + "      "
}

func lateMark(late bool) string {
	if late {
		return "*"
	}
	return " "
}
