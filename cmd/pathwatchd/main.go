// Command pathwatchd runs the filesystem-watching daemon: it binds a
// Unix domain socket, accepts client connections, and dispatches the
// watch/find/since/query/subscribe/trigger command set.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pathwatch/pathwatch/internal/config"
	"github.com/pathwatch/pathwatch/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pathwatchd",
	Short: "Local filesystem watching daemon",
	Long: `pathwatchd watches directory trees and answers queries about what
has changed since a given logical clock, fanning out live updates to
subscribed clients and running triggers when matching files change.`,
}

// serveViper holds the flag bindings registered in init, reused by
// serveCmd's RunE so flags registered once are read back from the same
// instance (and not shadowed by a second, empty viper.New()).
var serveViper = viper.New()

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the daemon and block until shutdown",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(serveViper)
		if err != nil {
			return err
		}

		srv, err := server.New(cfg)
		if err != nil {
			return fmt.Errorf("building server: %w", err)
		}
		if err := srv.Start(); err != nil {
			return fmt.Errorf("starting server: %w", err)
		}

		fmt.Printf("pathwatchd listening on %s\n", cfg.SockPath)
		fmt.Println("Press Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-ctx.Done()

		fmt.Println("\nshutting down...")
		srv.Stop()
		return nil
	},
}

func init() {
	config.BindFlags(serveCmd.Flags(), serveViper)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
