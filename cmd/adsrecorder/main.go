// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OpenPSG/adsrecorder/cmd/adsrecorder/app"
	"github.com/OpenPSG/adsrecorder/internal/config"
	"github.com/OpenPSG/adsrecorder/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	recordFor  time.Duration
	assumeYes  bool
	portFlag   string
)

var rootCmd = &cobra.Command{
	Use:           "adsrecorder",
	Short:         "Record biosignals from ADS amplifiers to EDF and BDF files",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record from the device until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}

		return app.Record(cmd.Context(), cfg, log, app.RecordOptions{
			For:     recordFor,
			Confirm: app.Confirm(os.Stdin, os.Stderr, assumeYes),
			Out:     cmd.OutOrStdout(),
		})
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the electrode contacts without recording",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}

		return app.CheckContacts(cmd.Context(), cfg, log, cmd.OutOrStdout())
	},
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List the serial ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Ports(cmd.OutOrStdout())
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Print the header of an EDF or BDF file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Inspect(cmd.OutOrStdout(), args[0])
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List the journaled recordings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		return app.History(cmd.Context(), cmd.OutOrStdout(), cfg.Journal)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("%s already exists", configPath)
		}

		if err := config.Save(configPath, config.Default()); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configPath)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "adsrecorder.yaml", "path to the configuration file")

	for _, cmd := range []*cobra.Command{recordCmd, checkCmd} {
		cmd.Flags().StringVarP(&portFlag, "port", "p", "", "serial port, overrides the configuration (MOCK for a simulated device)")
	}
	recordCmd.Flags().DurationVar(&recordFor, "for", 0, "stop the recording after this long")
	recordCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "create the recording directory without asking")

	rootCmd.AddCommand(recordCmd, checkCmd, portsCmd, inspectCmd, historyCmd, initCmd)
}

func setup() (*config.Config, *logrus.Entry, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if portFlag != "" {
		cfg.Serial.Port = portFlag
	}

	log, err := logging.New(cfg.Settings.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	return cfg, log, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		cancel()
		os.Exit(1)
	}
}
