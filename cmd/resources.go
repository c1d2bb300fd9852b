package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/reliefgrid/coordinator/app"
	"github.com/reliefgrid/coordinator/config"
	"github.com/reliefgrid/coordinator/core/model"
	"github.com/reliefgrid/coordinator/pkg/export"
)

var (
	lowOnly      bool
	resourceType string
	outFormat    string
)

var resourcesCmd = &cobra.Command{
	Use:   "resources",
	Short: "Print the resource ledger",
	RunE:  runResources,
}

func init() {
	resourcesCmd.Flags().BoolVar(&lowOnly, "low", false, "only resources at or below their threshold")
	resourcesCmd.Flags().StringVarP(&resourceType, "type", "t", "", "only resources of this type")
	resourcesCmd.Flags().StringVar(&outFormat, "format", "table", "output format: table, csv or json")
	rootCmd.AddCommand(resourcesCmd)
}

func runResources(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.New(cfg, app.WithoutFeeds())
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	snaps, err := svc.Engine.Resources(cmd.Context(), model.ResourceType(resourceType), lowOnly)
	if err != nil {
		return err
	}
	return writeSnapshots(cmd.OutOrStdout(), outFormat, snaps)
}

func writeSnapshots(w io.Writer, format string, snaps []model.Snapshot) error {
	switch format {
	case "table", "":
		return printSnapshots(w, snaps)
	case "csv":
		return export.WriteSnapshotsCSV(w, snaps)
	case "json":
		return export.WriteJSON(w, snaps)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func printSnapshots(w io.Writer, snaps []model.Snapshot) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tTOTAL\tRESERVED\tCONSUMED\tAVAILABLE\tTHRESHOLD\tLOW")
	for _, s := range snaps {
		low := ""
		if s.Low {
			low = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			s.ResourceID, s.Type, s.Total, s.Reserved, s.Consumed, s.Available, s.Threshold, low)
	}
	return tw.Flush()
}
