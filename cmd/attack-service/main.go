// attack-service is the HTTP API server for orchestrating adversarial
// attacks against text classification models.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var flagVerbose bool

func main() {
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "attack-service",
	Short:        "Adversarial attack orchestration for text classifiers",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve runs the HTTP API and metrics servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		initLogging()
		return run(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version prints build information",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("attack-service: version info not available")
			return
		}
		fmt.Printf("attack-service: %s\n", info.Main.Version)
		fmt.Printf("go:             %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:         %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:           %s\n", s.Value)
			}
		}
	},
}

func initLogging() {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}
