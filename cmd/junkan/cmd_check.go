package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	. "nyiyui.ca/hato/junkan"
	"nyiyui.ca/hato/junkan/tal"
)

type checkTrain struct {
	ID       TrainID     `json:"id"`
	Color    Color       `json:"color"`
	Velocity int         `json:"velocity"`
	Route    string      `json:"route"`
	Segments []SegmentID `json:"segments"`
}

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check the config and print each train's circuit",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			gc, err := c.GuideConf()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			g, err := tal.NewGuide(gc)
			if err != nil {
				return err
			}
			defer g.Close()

			trains := make([]checkTrain, g.Len())
			for i := range trains {
				id := TrainID(i)
				t, _ := g.Train(id)
				ci, _ := g.Circuit(id)
				trains[i] = checkTrain{
					ID:       id,
					Color:    t.Color,
					Velocity: t.Velocity(),
					Route:    ci.String(),
					Segments: ci.Segments(),
				}
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(trains)
			}
			fmt.Fprintf(out, "%d segments, velocity %d to %d\n", len(g.Network.Segments), c.Bounds.Min, c.Bounds.Max)
			for _, t := range trains {
				fmt.Fprintf(out, "train %d: %s at %d: %s\n", int(t.ID), t.Color, t.Velocity, t.Route)
			}
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}
