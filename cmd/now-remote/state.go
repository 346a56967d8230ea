package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sweeney/now-remote/internal/rtc"
)

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Print the state the remote keeps across sleeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			wipe, _ := cmd.Flags().GetBool("clear")
			return printState(cmd.OutOrStdout(), rtc.NewFileStore(cfg.Remote.RTCPath), wipe)
		},
	}
	cmd.Flags().Bool("clear", false, "forget the stored hub and error count")
	cmd.Flags().String("rtc", "", "state file (default from config)")
	viper.BindPFlag("remote.rtc_path", cmd.Flags().Lookup("rtc"))
	return cmd
}

func printState(w io.Writer, store rtc.Store, wipe bool) error {
	if wipe {
		if err := store.Clear(); err != nil {
			return fmt.Errorf("clear state: %w", err)
		}
		fmt.Fprintln(w, "state cleared")
		return nil
	}

	s, err := store.Load()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if !s.HubAddrPresent {
		fmt.Fprintln(w, "hub: none (next wake discovers)")
	} else {
		fmt.Fprintf(w, "hub: %s on channel %d\n", s.HubMAC, s.WifiChannel)
	}
	fmt.Fprintf(w, "errors: %d\n", s.ErrorCount)
	return nil
}
