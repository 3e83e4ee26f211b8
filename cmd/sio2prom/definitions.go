package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ccowart83/sio2prom/internal/source/sio"
)

var definitionsCmd = &cobra.Command{
	Use:   "definitions [FILE]",
	Short: "Validate and list metric definitions",
	Long: `Load metric definitions and list the metrics they export.

FILE defaults to sio.definitions from the config; without either the
built-in definitions are listed. Invalid definitions are all reported and
the command exits with a non-zero status.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDefinitions,
}

func init() {
	rootCmd.AddCommand(definitionsCmd)
}

func runDefinitions(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		path = cfg.SIO.Definitions
	}

	defs, err := sio.LoadDefinitions(path)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tTYPE\tPROPERTY\tFIELD")
	for _, def := range defs.Metrics {
		field := def.Field
		if field == "" {
			field = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", def.Name, def.Kind, def.Type, def.Property, field)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\n%d metrics across %d types\n", len(defs.Metrics), len(defs.Types()))
	return nil
}
