package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the in-process counters gathered by stats.Core",
	RunE: func(cmd *cobra.Command, args []string) error {
		mfs, err := core.Stats().Gather()
		if err != nil {
			return err
		}
		for _, mf := range mfs {
			fmt.Printf("# %s (%s)\n", mf.GetName(), mf.GetHelp())
			for _, m := range mf.GetMetric() {
				labels := ""
				for _, lp := range m.GetLabel() {
					labels += fmt.Sprintf("%s=%s ", lp.GetName(), lp.GetValue())
				}
				switch {
				case m.Counter != nil:
					fmt.Printf("  %s%.0f\n", labels, m.GetCounter().GetValue())
				case m.Histogram != nil:
					h := m.GetHistogram()
					fmt.Printf("  %scount=%d sum=%.6f\n", labels, h.GetSampleCount(), h.GetSampleSum())
				default:
					fmt.Printf("  %s(unsupported metric type)\n", labels)
				}
			}
		}
		return nil
	},
}
