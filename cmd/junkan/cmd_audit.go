package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	. "nyiyui.ca/hato/junkan"
	"nyiyui.ca/hato/junkan/clock"
	"nyiyui.ca/hato/junkan/config"
	"nyiyui.ca/hato/junkan/tal"
	"nyiyui.ca/hato/junkan/trace"
)

type auditResult struct {
	Laps       []int             `json:"laps"`
	Time       []int             `json:"time"`
	Events     int               `json:"events"`
	Violations []trace.Violation `json:"violations"`
}

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Run every train for some laps in simulated time and check that no segment was ever shared",
		Long: `Runs each train for --laps laps without waiting in real time, records every
acquisition and release, and replays them to find any segment held by two
trains at once. Exits with an error if it finds one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			laps, _ := cmd.Flags().GetInt("laps")
			jsonOut, _ := cmd.Flags().GetBool("json")
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			res, err := audit(cmd.Context(), c, laps)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				if err := json.NewEncoder(out).Encode(res); err != nil {
					return err
				}
			} else {
				for i := range res.Laps {
					fmt.Fprintf(out, "train %d: %d laps in %ds\n", i, res.Laps[i], res.Time[i])
				}
				fmt.Fprintf(out, "%d events\n", res.Events)
				for _, v := range res.Violations {
					fmt.Fprintln(out, v)
				}
			}
			if len(res.Violations) != 0 {
				return fmt.Errorf("%d violations", len(res.Violations))
			}
			return nil
		},
	}
	cmd.Flags().Int("laps", 10, "Laps per train")
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}

func audit(ctx context.Context, c config.Config, laps int) (auditResult, error) {
	if laps < 1 {
		return auditResult{}, fmt.Errorf("laps must be at least 1, not %d", laps)
	}
	gc, err := c.GuideConf()
	if err != nil {
		return auditResult{}, fmt.Errorf("config: %w", err)
	}
	gc.RunID = uuid.New()
	// every event of every lap is kept, so nothing escapes the audit
	store, err := trace.Open(gc.RunID, 1<<20)
	if err != nil {
		return auditResult{}, fmt.Errorf("trace: %w", err)
	}
	defer store.Close()
	clocks := make([]*clock.Fake, len(gc.Trains))
	g, err := tal.NewGuide(gc)
	if err != nil {
		return auditResult{}, err
	}
	defer g.Close()

	res := auditResult{
		Laps: make([]int, g.Len()),
		Time: make([]int, g.Len()),
	}
	errs := make([]error, g.Len())
	var wg sync.WaitGroup
	for i := 0; i < g.Len(); i++ {
		clocks[i] = &clock.Fake{}
		t, _ := g.Train(TrainID(i))
		ci, _ := g.Circuit(TrainID(i))
		p := tal.NewPosition(ci.InitialState())
		r := tal.NewRuntime(tal.RuntimeConf{
			Train:    t,
			Circuit:  ci,
			Position: p,
			Clock:    clocks[i],
			Tracer:   store,
		})
		wg.Add(1)
		go func(i int, r *tal.Runtime) {
			defer wg.Done()
			errs[i] = r.RunLaps(ctx, laps)
			res.Laps[i] = r.Laps()
			res.Time[i] = clocks[i].Now()
		}(i, r)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			return auditResult{}, fmt.Errorf("train %d: %w", i, err)
		}
	}
	res.Events, err = store.Len()
	if err != nil {
		return auditResult{}, err
	}
	res.Violations, err = store.Audit()
	if err != nil {
		return auditResult{}, err
	}
	return res, nil
}
