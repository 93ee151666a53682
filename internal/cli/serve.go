package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/piwardrive/piwardrive/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "address to listen on")
	rootCmd.AddCommand(serveCmd)
}

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the PiWardrive service",
	Long:  "Start the HTTP/streaming API and every background subsystem; exits non-zero on fatal startup error.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	d, err := daemon.New(nil)
	if err != nil {
		return err
	}
	return d.Serve(context.Background(), serveAddr)
}
