package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/km-arc/go-inject/app"
	fapp "github.com/km-arc/go-inject/framework/app"
	"github.com/km-arc/go-inject/framework/inject"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("INJECT")
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "go-inject",
		Short:         "Dependency injection registry with an inspection server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "YAML or JSON config file")
	root.PersistentFlags().StringSlice("env-file", []string{".env"}, "dotenv files loaded before the config")
	root.PersistentFlags().Bool("debug", false, "development logging at debug level")
	root.PersistentFlags().Bool("cycles", false, "allow cyclic resolution")
	_ = v.BindPFlags(root.PersistentFlags())

	root.AddCommand(newServeCmd(v), newInspectCmd(v))
	return root
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Boot the demo registry and serve the inspection API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, logger, err := newApplication(v)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.ListenAndServe(ctx, v.GetString("addr"))
		},
	}
	cmd.Flags().String("addr", ":8080", "listen address")
	_ = v.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func newInspectCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Boot the demo registry, print its objects and close it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, logger, err := newApplication(v)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if err := a.Boot(); err != nil {
				return err
			}
			snapshot := a.Registry.Snapshot()
			if err := a.Shutdown(context.Background()); err != nil {
				return err
			}
			return writeSnapshot(cmd.OutOrStdout(), v.GetString("format"), snapshot)
		},
	}
	cmd.Flags().StringP("format", "o", "json", "output format: json or yaml")
	_ = v.BindPFlag("format", cmd.Flags().Lookup("format"))
	return cmd
}

func newApplication(v *viper.Viper) (*fapp.Application, *zap.Logger, error) {
	logger, err := newLogger(v.GetBool("debug"))
	if err != nil {
		return nil, nil, err
	}
	a, err := fapp.New(fapp.Options{
		ConfigFile: v.GetString("config"),
		EnvFiles:   v.GetStringSlice("env-file"),
		Logger:     logger,
		Cycles:     v.GetBool("cycles"),
	})
	if err != nil {
		return nil, nil, err
	}
	for _, p := range []inject.Provider{
		&app.GarageServiceProvider{Logger: logger},
		&app.DepotServiceProvider{},
	} {
		if err := a.Register(p); err != nil {
			return nil, nil, err
		}
	}
	return a, logger, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func writeSnapshot(w io.Writer, format string, snapshot []inject.EntryInfo) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snapshot)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(snapshot)
	}
	return fmt.Errorf("unknown format %q", format)
}
