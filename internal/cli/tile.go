package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/piwardrive/piwardrive/internal/tilecache"
)

func init() {
	tilePrefetchCmd.Flags().Float64Var(&tileMinLat, "min-lat", 0, "bounding box south latitude")
	tilePrefetchCmd.Flags().Float64Var(&tileMinLon, "min-lon", 0, "bounding box west longitude")
	tilePrefetchCmd.Flags().Float64Var(&tileMaxLat, "max-lat", 0, "bounding box north latitude")
	tilePrefetchCmd.Flags().Float64Var(&tileMaxLon, "max-lon", 0, "bounding box east longitude")
	tilePrefetchCmd.Flags().IntVar(&tileZoom, "zoom", 16, "zoom level")
	tilePrefetchCmd.Flags().StringVar(&tileFolder, "folder", "", "tile cache directory")

	tilePurgeOldCmd.Flags().IntVar(&tileDays, "days", 30, "purge tiles older than this many days")
	tilePurgeOldCmd.Flags().StringVar(&tileFolder, "folder", "", "tile cache directory")

	tileEnforceLimitCmd.Flags().Int64Var(&tileLimitMB, "limit-mb", 512, "maximum on-disk size, in megabytes")
	tileEnforceLimitCmd.Flags().StringVar(&tileFolder, "folder", "", "tile cache directory")

	tileCmd.AddCommand(tilePrefetchCmd, tilePurgeOldCmd, tileEnforceLimitCmd)
	rootCmd.AddCommand(tileCmd)
}

var (
	tileMinLat, tileMinLon, tileMaxLat, tileMaxLon float64
	tileZoom                                       int
	tileDays                                       int
	tileLimitMB                                    int64
	tileFolder                                     string
)

var tileCmd = &cobra.Command{
	Use:   "tile",
	Short: "Offline tile cache maintenance",
}

var tilePrefetchCmd = &cobra.Command{
	Use:   "prefetch",
	Short: "Fetch every tile covering a bounding box into the cache",
	RunE:  runTilePrefetch,
}

var tilePurgeOldCmd = &cobra.Command{
	Use:   "purge-old",
	Short: "Delete tiles older than --days",
	RunE:  runTilePurgeOld,
}

var tileEnforceLimitCmd = &cobra.Command{
	Use:   "enforce-limit",
	Short: "Evict tiles until the cache is within --limit-mb",
	RunE:  runTileEnforceLimit,
}

func openTileCache() (*tilecache.Cache, error) {
	cfg := tilecache.DefaultConfig(tileFolder)
	return tilecache.Open(cfg)
}

func runTilePrefetch(cmd *cobra.Command, args []string) error {
	c, err := openTileCache()
	if err != nil {
		return err
	}
	bbox := tilecache.BBox{MinLat: tileMinLat, MinLon: tileMinLon, MaxLat: tileMaxLat, MaxLon: tileMaxLon}
	return c.PrefetchRegion(context.Background(), bbox, tileZoom, nil)
}

func runTilePurgeOld(cmd *cobra.Command, args []string) error {
	c, err := openTileCache()
	if err != nil {
		return err
	}
	n, err := c.PurgeOld(time.Duration(tileDays) * 24 * time.Hour)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "purged %d tiles\n", n)
	return nil
}

func runTileEnforceLimit(cmd *cobra.Command, args []string) error {
	c, err := openTileCache()
	if err != nil {
		return err
	}
	n, err := c.EnforceLimit(tileLimitMB * 1024 * 1024)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "evicted %d tiles\n", n)
	return nil
}
