package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/erh/vmodutils"
	"github.com/urfave/cli/v2"
	"go.viam.com/rdk/logging"
	genericservice "go.viam.com/rdk/services/generic"

	taglocalizer "taglocalizer"
	"taglocalizer/fieldlayout"
	"taglocalizer/framesources"
)

func main() {
	err := realMain()
	if err != nil {
		panic(err)
	}
}

func realMain() error {
	logger := logging.NewLogger("cli")

	app := &cli.App{
		Name:  "tag-localizer",
		Usage: "run the tag localizer against a simulated path or a live machine",
		Commands: []*cli.Command{
			{
				Name:  "simulate",
				Usage: "drive a robot in a straight line past the reef and print accepted estimates",
				Flags: []cli.Flag{
					&cli.Float64SliceFlag{Name: "from", Value: cli.NewFloat64Slice(1.2, 4.026, 0), Usage: "start x,y,yaw_deg"},
					&cli.Float64SliceFlag{Name: "to", Value: cli.NewFloat64Slice(2.2, 4.026, 0), Usage: "end x,y,yaw_deg"},
					&cli.IntFlag{Name: "steps", Value: 50},
					&cli.StringFlag{Name: "alliance", Value: "blue"},
					&cli.StringFlag{Name: "layout", Usage: "tag layout JSON file, blue origin"},
					&cli.Float64Flag{Name: "noise-px", Value: 0.5},
					&cli.Uint64Flag{Name: "seed", Value: 1},
					&cli.BoolFlag{Name: "json", Usage: "print the full report as JSON"},
				},
				Action: func(c *cli.Context) error {
					return simulate(c, logger)
				},
			},
			{
				Name:  "remote",
				Usage: "connect to the machine in the environment and run localizer cycles",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "localizer", Required: true, Usage: "tag-localizer service name"},
					&cli.StringSliceFlag{Name: "camera", Usage: "print the frame system mount of these cameras"},
					&cli.StringFlag{Name: "base-frame", Value: "world"},
					&cli.IntFlag{Name: "cycles", Value: 10},
					&cli.DurationFlag{Name: "interval", Value: 100 * time.Millisecond},
				},
				Action: func(c *cli.Context) error {
					return remote(c, logger)
				},
			},
		},
	}
	return app.Run(os.Args)
}

func waypoint(v []float64) (taglocalizer.Waypoint, error) {
	if len(v) != 3 {
		return taglocalizer.Waypoint{}, fmt.Errorf("waypoint needs x,y,yaw_deg, got %v", v)
	}
	return taglocalizer.Waypoint{X: v[0], Y: v[1], YawDeg: v[2]}, nil
}

func simulate(c *cli.Context, logger logging.Logger) error {
	from, err := waypoint(c.Float64Slice("from"))
	if err != nil {
		return err
	}
	to, err := waypoint(c.Float64Slice("to"))
	if err != nil {
		return err
	}
	alliance, err := fieldlayout.ParseAlliance(c.String("alliance"))
	if err != nil {
		return err
	}
	var layout *fieldlayout.FieldTagLayout
	if path := c.String("layout"); path != "" {
		layout, err = fieldlayout.LoadLayoutJSON(path)
		if err != nil {
			return err
		}
	}

	sim, err := taglocalizer.NewSimulation(logger, taglocalizer.SimulationConfig{
		Path:     taglocalizer.LinearPath(from, to, c.Int("steps")),
		Alliance: alliance,
		Layout:   layout,
		Noise: framesources.SimulatedConfig{
			NoiseStdDevPx: c.Float64("noise-px"),
			Seed:          c.Uint64("seed"),
		},
	})
	if err != nil {
		return err
	}
	report, err := sim.Run(c.Context)
	if err != nil {
		return err
	}

	if c.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	for _, o := range report.Observations {
		fmt.Printf("step %3d t=%.2f truth=(%.3f, %.3f, %.3f) estimate=(%.3f, %.3f, %.3f) std=(%.3f, %.3f, %.3f)\n",
			o.Step, o.Timestamp,
			o.Truth.X, o.Truth.Y, o.Truth.Theta,
			o.Estimate.X, o.Estimate.Y, o.Estimate.Theta,
			o.Confidence.X, o.Confidence.Y, o.Confidence.Heading)
	}
	fmt.Printf("%d cycles, %d accepted, valid cycles per camera %v\n", report.Cycles, len(report.Observations), report.ValidCycles)
	fmt.Printf("mean position error %.3fm, worst %.3fm, mean heading error %.4frad\n",
		report.MeanPositionErrorM, report.WorstPositionErrorM, report.MeanHeadingErrorRad)
	return nil
}

func remote(c *cli.Context, logger logging.Logger) error {
	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}

	machine, err := vmodutils.ConnectToMachineFromEnv(ctx, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to robot: %w", err)
	}
	defer machine.Close(ctx)

	if cameras := c.StringSlice("camera"); len(cameras) > 0 {
		mounts, err := taglocalizer.CameraMounts(ctx, machine, c.String("base-frame"), cameras, logger)
		if err != nil {
			return err
		}
		for name, pose := range mounts {
			fmt.Printf("camera %s: %v\n", name, pose)
		}
	}

	localizer, err := machine.ResourceByName(genericservice.Named(c.String("localizer")))
	if err != nil {
		return fmt.Errorf("failed to get tag localizer: %w", err)
	}
	for i := 0; i < c.Int("cycles"); i++ {
		resp, err := localizer.DoCommand(ctx, map[string]interface{}{"command": "run-cycle"})
		if err != nil {
			return err
		}
		out, err := json.Marshal(resp["results"])
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		time.Sleep(c.Duration("interval"))
	}
	return nil
}
