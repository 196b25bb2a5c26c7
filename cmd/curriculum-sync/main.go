package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/MarcoPoloResearchLab/curriculum/internal/config"
	"github.com/MarcoPoloResearchLab/curriculum/internal/curriculum"
	"github.com/MarcoPoloResearchLab/curriculum/internal/logging"
	"github.com/MarcoPoloResearchLab/curriculum/internal/synctool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const exitFailure = 1

var (
	cfgFile string
)

type syncFlags struct {
	dryRun        bool
	check         bool
	push          bool
	export        bool
	prune         bool
	commit        string
	defaultStatus string
}

func main() {
	flags := &syncFlags{}
	rootCmd := &cobra.Command{
		Use:           "curriculum-sync",
		Short:         "Build, check, push and export the curriculum manifest",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, flags)
		},
	}

	setupFlags(rootCmd, flags)

	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, synctool.ErrManifestDrift) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(exitFailure)
	}
}

func setupFlags(cmd *cobra.Command, flags *syncFlags) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.Flags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.Flags().String("source", defaults.GetString("sync.source"), "Authoring source file (YAML or JSON)")
	cmd.Flags().String("manifest", defaults.GetString("sync.manifest"), "Committed manifest path")
	cmd.Flags().String("export-path", defaults.GetString("sync.export_path"), "Destination for --export")
	cmd.Flags().String("server", defaults.GetString("sync.server_url"), "Curriculum API base URL")
	cmd.Flags().String("token", "", "Session token for the curriculum API (overrides env)")
	cmd.Flags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Build and report without writing or pushing")
	cmd.Flags().BoolVar(&flags.check, "check", false, "Fail when the committed manifest differs from the source")
	cmd.Flags().BoolVar(&flags.push, "push", false, "Push the built manifest to the server")
	cmd.Flags().BoolVar(&flags.export, "export", false, "Export the server's manifest to --export-path")
	cmd.Flags().BoolVar(&flags.prune, "prune", false, "Delete stored entries missing from the manifest")
	cmd.Flags().StringVar(&flags.commit, "commit", "", "Manifest commit recorded on synced lessons")
	cmd.Flags().StringVar(&flags.defaultStatus, "default-status", string(curriculum.AuthoringNotStarted), "Authoring status for new lessons")
	cmd.MarkFlagsMutuallyExclusive("dry-run", "check", "push", "export")

	bindFlag(cmd, "sync.source", "source")
	bindFlag(cmd, "sync.manifest", "manifest")
	bindFlag(cmd, "sync.export_path", "export-path")
	bindFlag(cmd, "sync.server_url", "server")
	bindFlag(cmd, "sync.token", "token")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runSync(cmd *cobra.Command, flags *syncFlags) error {
	syncConfig, err := config.LoadSync(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewCLILogger(syncConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	defaultStatus, err := curriculum.ParseAuthoringStatus(flags.defaultStatus)
	if err != nil {
		return err
	}

	mode := synctool.ModeWrite
	switch {
	case flags.dryRun:
		mode = synctool.ModeDryRun
	case flags.check:
		mode = synctool.ModeCheck
	case flags.push:
		mode = synctool.ModePush
	case flags.export:
		mode = synctool.ModeExport
	}

	var client *synctool.Client
	if mode == synctool.ModePush || mode == synctool.ModeExport {
		client, err = synctool.NewClient(synctool.ClientConfig{
			ServerURL: syncConfig.ServerURL,
			Token:     syncConfig.Token,
			Timeout:   syncConfig.Timeout,
		})
		if err != nil {
			return err
		}
	}

	options := curriculum.SyncOptions{
		Prune:         flags.prune,
		DefaultStatus: defaultStatus,
	}
	if commit := strings.TrimSpace(flags.commit); commit != "" {
		options.ManifestCommit = &commit
	}

	runner := synctool.NewRunner(synctool.RunnerConfig{
		Client: client,
		Output: cmd.OutOrStdout(),
		Logger: logger,
	})
	return runner.Run(cmd.Context(), synctool.RunOptions{
		Mode:         mode,
		SourcePath:   syncConfig.SourcePath,
		ManifestPath: syncConfig.ManifestPath,
		ExportPath:   syncConfig.ExportPath,
		Sync:         options,
	})
}
