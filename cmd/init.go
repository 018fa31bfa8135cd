package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lance13c/vrt/internal/config"
	"github.com/lance13c/vrt/internal/types"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create .vrt/config.yaml in the project",
	Long: `Write a starter configuration with the default settings and an example
Storybook target. Edit the targets before running 'vrt run --update' to record
the first baselines.`,
	RunE: runInit,
}

var (
	initForce     bool
	initServerURL string
	initModel     string
)

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config")
	initCmd.Flags().StringVar(&initServerURL, "base-url", "", "URL of the app or Storybook under test")
	initCmd.Flags().StringVar(&initModel, "model", "", "vision model used to analyse differences")
}

func runInit(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(projectDir)
	path := loader.GetConfigPath()
	if cfgFile != "" {
		path = cfgFile
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.DefaultConfig()
	if initServerURL != "" {
		cfg.Server.URL = initServerURL
	}
	if initModel != "" {
		cfg.LLM.Model = initModel
	}
	cfg.Targets = []config.TargetConfig{{
		Name: "button",
		Type: types.TargetStory,
		Variants: []config.VariantConfig{
			{Name: "primary", Baseline: types.BaselineSource{Path: "button/primary.png"}},
		},
	}}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := loader.Save(cfg, path); err != nil {
		return err
	}

	st := newStyles(isTerminal(os.Stdout))
	fmt.Println(st.pass.Render("Created " + path))
	fmt.Println("Next: edit the targets, then run 'vrt run --update' to record baselines.")
	return nil
}
