package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/piwardrive/piwardrive/internal/config"
	"github.com/piwardrive/piwardrive/internal/export"
	"github.com/piwardrive/piwardrive/internal/store"
)

func init() {
	exportCmd.Flags().StringVar(&exportFmt, "fmt", "json", "output format: csv, json, or kml")
	exportCmd.Flags().StringVar(&exportStart, "start", "", "range start, RFC3339")
	exportCmd.Flags().StringVar(&exportEnd, "end", "", "range end, RFC3339")
	exportCmd.Flags().StringVar(&exportOutput, "output", "", "output file (default: stdout)")
	rootCmd.AddCommand(exportCmd)
}

var (
	exportFmt    string
	exportStart  string
	exportEnd    string
	exportOutput string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Range export from the store",
	Long:  "Export health telemetry (csv/json) or a GPS track (json/kml) recorded between --start and --end.",
	RunE:  runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	start, err := time.Parse(time.RFC3339, exportStart)
	if err != nil {
		return fmt.Errorf("--start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, exportEnd)
	if err != nil {
		return fmt.Errorf("--end: %w", err)
	}

	db, err := store.Open(config.Home(), store.DefaultConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	out := cmd.OutOrStdout()
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	format := export.Format(exportFmt)
	if format == export.FormatKML {
		points, err := db.GpsTrackRange(start, end)
		if err != nil {
			return err
		}
		return export.Track(out, format, points)
	}

	records, err := db.HealthRange(start, end)
	if err != nil {
		return err
	}
	return export.Health(out, format, records)
}
