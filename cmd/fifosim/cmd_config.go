// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/AleutianAI/AleutianFIFO/cmd/fifosim/config"
	"github.com/AleutianAI/AleutianFIFO/pkg/fifo"
	"github.com/AleutianAI/AleutianFIFO/pkg/ux"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or print the fifosim config file",
	}

	var (
		interactive bool
		force       bool
	)
	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a config file with defaults",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath
			if path == "" {
				p, err := config.DefaultPath()
				if err != nil {
					return err
				}
				path = p
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			cfg := config.DefaultConfig()
			if interactive {
				form, apply := newConfigForm(&cfg)
				if err := form.Run(); err != nil {
					return err
				}
				if err := apply(); err != nil {
					return err
				}
			}
			if err := config.Write(path, cfg); err != nil {
				return err
			}
			a.printer.Success("wrote " + path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "prompt for the main settings")
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.printer.Mode() == ux.ModeJSON {
				return a.printer.JSON(a.cfg)
			}
			data, err := config.Marshal(*a.cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.AddCommand(initCmd, show)
	return cmd
}

// configFields holds form answers as text until they are applied.
type configFields struct {
	depth        string
	low          string
	high         string
	flagMode     string
	sampleStages string
	port         string
	store        bool
	influx       bool
}

// newConfigForm builds the interactive form for cfg. apply copies the
// answers into cfg; it fails if an answer does not parse.
func newConfigForm(cfg *config.FIFOSimConfig) (*huh.Form, func() error) {
	f := &configFields{
		depth:        strconv.Itoa(cfg.FIFO.Depth),
		low:          strconv.Itoa(cfg.FIFO.LowWatermark),
		high:         strconv.Itoa(cfg.FIFO.HighWatermark),
		flagMode:     cfg.FIFO.FlagMode.String(),
		sampleStages: strconv.Itoa(cfg.Bus.SampleStages),
		port:         strconv.Itoa(cfg.Server.Port),
		store:        cfg.Trace.Store.Enabled,
		influx:       cfg.Trace.Influx.Enabled,
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Depth").Description("Buffer capacity in items").
				Value(&f.depth).Validate(intRange(1, 1<<16)),
			huh.NewInput().Title("Low watermark").Description("almost_empty when count <= low").
				Value(&f.low).Validate(intRange(0, 1<<16)),
			huh.NewInput().Title("High watermark").Description("almost_full when count >= high").
				Value(&f.high).Validate(intRange(0, 1<<16)),
			huh.NewSelect[string]().Title("Overflow and underflow flags").
				Options(
					huh.NewOption("transient (one cycle)", fifo.FlagsTransient.String()),
					huh.NewOption("sticky (until cleared)", fifo.FlagsSticky.String()),
				).
				Value(&f.flagMode),
		),
		huh.NewGroup(
			huh.NewInput().Title("Bus sample stages").Value(&f.sampleStages).Validate(intRange(0, 8)),
			huh.NewInput().Title("Server port").Value(&f.port).Validate(intRange(1, 65535)),
			huh.NewConfirm().Title("Record traces to the local store?").Value(&f.store),
			huh.NewConfirm().Title("Export edges to InfluxDB?").Value(&f.influx),
		),
	)
	return form, func() error { return f.apply(cfg) }
}

func (f *configFields) apply(cfg *config.FIFOSimConfig) error {
	ints := []struct {
		name string
		text string
		dst  *int
	}{
		{"depth", f.depth, &cfg.FIFO.Depth},
		{"low watermark", f.low, &cfg.FIFO.LowWatermark},
		{"high watermark", f.high, &cfg.FIFO.HighWatermark},
		{"sample stages", f.sampleStages, &cfg.Bus.SampleStages},
		{"port", f.port, &cfg.Server.Port},
	}
	for _, in := range ints {
		v, err := strconv.Atoi(in.text)
		if err != nil {
			return fmt.Errorf("%s: %q is not a number", in.name, in.text)
		}
		*in.dst = v
	}
	mode, err := fifo.ParseFlagMode(f.flagMode)
	if err != nil {
		return err
	}
	cfg.FIFO.FlagMode = mode
	cfg.Trace.Store.Enabled = f.store
	cfg.Trace.Influx.Enabled = f.influx
	return cfg.Validate()
}

func intRange(lo, hi int) func(string) error {
	return func(s string) error {
		v, err := strconv.Atoi(s)
		if err != nil {
			return errors.New("enter a whole number")
		}
		if v < lo || v > hi {
			return fmt.Errorf("must be between %d and %d", lo, hi)
		}
		return nil
	}
}
