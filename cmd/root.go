package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lance13c/vrt/internal/config"
	"github.com/lance13c/vrt/internal/logging"
	"github.com/lance13c/vrt/internal/orchestrator"
)

var (
	cfgFile    string
	projectDir string
	verbose    bool
	appVersion = "dev"
)

// Exit statuses
const (
	ExitOK          = 0
	ExitFailed      = 1
	ExitInterrupted = 130
)

var (
	errTestsFailed = errors.New("visual tests failed")
	errInterrupted = errors.New("interrupted")
)

var rootCmd = &cobra.Command{
	Use:   "vrt",
	Short: "vrt - visual regression testing",
	Long: `vrt captures screenshots of your components and pages, compares them
pixel by pixel with their baselines and, when something changed, asks a
vision model to explain and grade the difference.

Configure targets in .vrt/config.yaml, then run 'vrt run'.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initLogging,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .vrt/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "V", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project", "p", ".", "project directory")
	rootCmd.Version = appVersion
}

// SetVersion sets the version reported by --version
func SetVersion(version string) {
	appVersion = version
	rootCmd.Version = version
}

// Execute runs the CLI under ctx and returns the process exit status
func Execute(ctx context.Context) int {
	err := rootCmd.ExecuteContext(ctx)
	defer logging.GetLogger().Close()

	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, errInterrupted) || errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "interrupted")
		return ExitInterrupted
	case errors.Is(err, errTestsFailed):
		return ExitFailed
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitFailed
	}
}

// initLogging sets up the file logger under the project directory
func initLogging(cmd *cobra.Command, args []string) error {
	if err := logging.Initialize(projectDir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to initialize logging: %v\n", err)
	} else {
		logging.RedirectStandardLog()
	}

	logger := logging.GetLogger()
	logger.SetConsole(os.Stderr)
	if verbose {
		logger.SetLevel(logging.DEBUG)
	}
	logging.Debug("vrt %s: %s %v", appVersion, cmd.Name(), args)
	return nil
}

// loadConfig loads and validates the project config and resolves artifact
// paths against the project root
func loadConfig() (*config.Config, string, error) {
	loader := config.NewLoader(projectDir)
	if cfgFile != "" {
		loader.WithPath(cfgFile)
	}

	cfg, err := loader.Load()
	if err != nil {
		if errors.Is(err, config.ErrNoConfig) {
			return nil, "", fmt.Errorf("%w (run 'vrt init' to create one)", err)
		}
		return nil, "", err
	}

	root, err := loader.GetProjectRoot()
	if err != nil {
		return nil, "", err
	}
	orchestrator.ResolvePaths(cfg, root)
	logging.Info("loaded config for %s with %d target(s)", root, len(cfg.Targets))
	return cfg, root, nil
}
