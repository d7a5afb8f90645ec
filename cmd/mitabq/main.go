// Command mitabq runs SELECT-style queries over CSV-described attribute
// tables and manages their attribute indexes.
//
// Each table is a CSV file whose header declares the column types:
//
//	id:Integer,name:String(32),area:Real,x,y
//
// Untyped x and y columns hold point coordinates. Attribute indexes are
// stored next to the CSV file (name.idm and name.ind) and are used by
// queries whose WHERE clause compares an indexed field with a literal.
//
// Examples:
//
//	mitabq query --table people.csv --table cities.csv \
//	    --select "people.name, cities.cityName" \
//	    --join "people.cityId = cities.cityId" --order "name DESC"
//	mitabq query --table people.csv --select "COUNT(*), AVG(age)"
//	mitabq index create people.csv name
//	mitabq index lookup people.csv name Smith
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/beetlebugorg/mitab/internal/attrindex"
	"github.com/beetlebugorg/mitab/internal/logger"
)

type app struct {
	cfg *Config
	log *slog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "mitabq",
		Short:         "Query and index MapInfo-style attribute tables",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = logger.Init(logger.Config{
				Level:  cfg.LogLevel,
				Format: cfg.LogFormat,
				Output: cmd.ErrOrStderr(),
			})
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg != nil && a.cfg.Metrics {
				return writeMetrics(cmd.ErrOrStderr())
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (yaml, json or toml)")
	pf.String("log-level", "WARN", "log level: DEBUG, INFO, WARN, ERROR")
	pf.String("log-format", "text", "log format: text or json")
	pf.Int("index-string-width", attrindex.DefaultOptions().DefaultStringWidth,
		"key width for String fields declared without a width")
	pf.Int("max-idle-sources", 4, "tables kept open after their last use")
	pf.Bool("metrics", false, "print metrics to stderr on exit")

	root.AddCommand(a.newQueryCmd(), a.newIndexCmd())
	return root
}
