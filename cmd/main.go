/*
Copyright 2024 Sunogate Authors.

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

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sunogate/sunogate"
	"github.com/sunogate/sunogate/config"
	"github.com/sunogate/sunogate/database"
)

// CLI encapsulates the root Cobra command.
type CLI struct {
	cmd *cobra.Command
}

// sunogateInstance holds the service instance and its configuration,
// shared by the subcommands.
type sunogateInstance struct {
	sunogate *sunogate.Sunogate
	cnf      *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the service instance
// before running any command.
func preRun(app *sunogateInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("sunogate.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		svc, err := setupSunogate(cnf)
		if err != nil {
			log.Fatal(err)
		}

		app.sunogate = svc
		app.cnf = cnf

		return nil
	}
}

// setupSunogate connects the datasource and builds the service instance.
func setupSunogate(cfg *config.Configuration) (*sunogate.Sunogate, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	svc, err := sunogate.NewSunogate(db)
	if err != nil {
		return nil, fmt.Errorf("error creating sunogate: %v", err)
	}
	return svc, nil
}

// NewCLI creates the command-line interface for the application.
func NewCLI() *CLI {
	var configFile string
	b := &sunogateInstance{}

	var rootCmd = &cobra.Command{
		Use:   "sunogate",
		Short: "OpenAI-compatible gateway to Suno.ai",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./sunogate.json", "Configuration file for sunogate")
	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(migrateCommands(b))

	return &CLI{cmd: rootCmd}
}

func (c *CLI) executeCLI() {
	if err := c.cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()
	cli := NewCLI()
	cli.executeCLI()
}
