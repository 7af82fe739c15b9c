package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Mugen-Finance/token-lists/internal/config"
)

func runProtocols(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, nil)
	if err != nil {
		return err
	}
	table, err := cfg.LayoutTable()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROTOCOL\tKIND\tEVENT\tTOPIC0")
	for _, l := range table.Layouts() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", l.Protocol, l.Kind, l.Signature, l.Topic0().Hex())
	}
	return w.Flush()
}
