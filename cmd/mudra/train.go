package main

import (
	"fmt"
	"sort"

	"github.com/urfave/cli/v2"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/logging"
)

func trainAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	dataDir := c.String(flagData)
	if dataDir == "" {
		dataDir = cfg.TrainingDataDir()
	}
	out := c.String(flagOut)
	if out == "" {
		out = cfg.ModelPath()
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Close()

	trainer := classifier.NewTrainer(cfg.Catalog(), logger.Named("train"))
	report, err := trainer.TrainFile(dataDir, out)
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}

	labels := make([]string, 0, len(report.Samples))
	for l := range report.Samples {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	w := c.App.Writer
	for _, l := range labels {
		fmt.Fprintf(w, "%-10s %d samples\n", l, report.Samples[l])
	}
	for _, s := range report.Skipped {
		fmt.Fprintf(w, "skipped %s\n", s)
	}
	if report.Tested > 0 {
		fmt.Fprintf(w, "accuracy %.2f%% on %d held-out samples\n", report.Accuracy*100, report.Tested)
	} else {
		fmt.Fprintln(w, "accuracy not measured, too few samples to hold any out")
	}
	fmt.Fprintf(w, "wrote %s in %s\n", out, report.Took)
	return nil
}
