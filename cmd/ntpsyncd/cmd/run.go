/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/facebook/ntpsync/ntpsync"
)

var (
	runConfigFlag      string
	runServerFlag      string
	runMaxOffsetFlag   float64
	runInterSyncFlag   float64
	runMetricsAddrFlag string
)

func init() {
	RootCmd.AddCommand(runCmd)
	def := DefaultConfig()
	runCmd.Flags().StringVarP(&runConfigFlag, "config", "c", "", "path to a YAML config file")
	runCmd.Flags().StringVarP(&runServerFlag, "server", "s", def.Server, "NTP server to synchronize against")
	runCmd.Flags().Float64Var(&runMaxOffsetFlag, "max-offset-ms", def.MaxOffsetMs, "offset threshold below which the clock is considered synchronized")
	runCmd.Flags().Float64Var(&runInterSyncFlag, "inter-sync-delay-ms", def.InterSyncDelayMs, "steady-state delay between poll batches")
	runCmd.Flags().StringVar(&runMetricsAddrFlag, "metrics-addr", def.MetricsAddr, "address to serve /metrics on")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the sync engine as a long-running daemon.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := DefaultConfig()
		if runConfigFlag != "" {
			fileCfg, err := ReadConfig(runConfigFlag)
			if err != nil {
				return err
			}
			cfg = fileCfg
		}
		// CLI flags set explicitly on the command line always win over the file.
		if cmd.Flags().Changed("server") {
			cfg.Server = runServerFlag
		}
		if cmd.Flags().Changed("max-offset-ms") {
			cfg.MaxOffsetMs = runMaxOffsetFlag
		}
		if cmd.Flags().Changed("inter-sync-delay-ms") {
			cfg.InterSyncDelayMs = runInterSyncFlag
		}
		if cmd.Flags().Changed("metrics-addr") {
			cfg.MetricsAddr = runMetricsAddrFlag
		}

		engine := ntpsync.New()
		engine.OnError(func(k ntpsync.ErrorKind) {
			log.WithField("error", k).Error("sync engine hit a terminal error")
		})

		if err := engine.Start(cfg.Server, cfg.MaxOffsetMs, cfg.InterSyncDelayMs); err != nil {
			fmt.Printf("%s %v\n", color.RedString("[FAIL]"), err)
			return err
		}
		fmt.Printf("%s synchronized against %s\n", color.GreenString("[ OK ]"), cfg.Server)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			if err := engine.ServeMetrics(ctx, cfg.MetricsAddr, time.Duration(cfg.MetricsInterval)*time.Second); err != nil {
				log.WithError(err).Warning("metrics server exited")
			}
		}()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		log.Info("shutting down")
		cancel()
		engine.Stop()
		return nil
	},
}
