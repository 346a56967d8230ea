package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sweeney/now-remote/internal/config"
	"github.com/sweeney/now-remote/internal/debug"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "now-remote",
		Short:        "Wireless button remote and hub",
		Long:         "now-remote reports button gestures to a hub over a connectionless datagram radio, sleeping between presses.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfgFile, _ := cmd.Flags().GetString("config")
			return initConfig(cfgFile)
		},
	}

	root.PersistentFlags().String("config", "", "config file (default now-remote.yaml)")
	root.PersistentFlags().BoolP("verbose", "v", false, "log every frame and timer")
	viper.BindPFlag("verbose", root.PersistentFlags().Lookup("verbose"))

	root.AddCommand(newRunCmd(), newHubCmd(), newStateCmd(), newSimulateCmd())
	return root
}

func initConfig(cfgFile string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("now-remote")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/now-remote")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
	}

	viper.SetEnvPrefix("NOW_REMOTE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// It's fine if no config file is found; we use defaults.
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	if used := viper.ConfigFileUsed(); used != "" {
		log.Printf("config: using %s", used)
	}
	return nil
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	debug.SetVerbose(cfg.Verbose)
	return cfg, nil
}

// signalError is the cancellation cause recorded when a signal stops the
// process.
type signalError struct {
	sig os.Signal
}

func (e signalError) Error() string {
	return "received " + e.sig.String()
}

// withSignals returns a context cancelled on SIGINT or SIGTERM. The signal
// is kept as the context's cause for shutdownReason.
func withSignals(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case s := <-sigCh:
			log.Printf("received %v, shutting down", s)
			cancel(signalError{sig: s})
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(nil) }
}

// shutdownReason names the signal that cancelled ctx, or "UNKNOWN".
func shutdownReason(ctx context.Context) string {
	var se signalError
	if !errors.As(context.Cause(ctx), &se) {
		return "UNKNOWN"
	}
	switch se.sig {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
