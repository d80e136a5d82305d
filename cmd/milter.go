package cmd

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gobayes/spam-filter/pkg/filter"
	"github.com/gobayes/spam-filter/pkg/milter"
	"github.com/gobayes/spam-filter/pkg/store"
)

var (
	milterNetwork string
	milterAddress string
)

var milterCmd = &cobra.Command{
	Use:   "milter",
	Short: "Run as a milter for Postfix/Sendmail",
	Long: `Run a milter server that classifies each incoming message and tags
it with X-GoBayes headers (or rejects spam outright, if configured).
The token store is opened read-only; training keeps running separately
against the same store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Milter.Enabled = true

		if milterNetwork != "" {
			cfg.Milter.Network = milterNetwork
		}
		if milterAddress != "" {
			cfg.Milter.Address = milterAddress
		}

		f, err := filter.Open(cfg, store.ReadOnly)
		if err != nil {
			return err
		}
		defer f.Close()

		srv, err := milter.NewServer(cfg, f)
		if err != nil {
			return err
		}
		defer srv.Close()

		listener, err := net.Listen(cfg.Milter.Network, cfg.Milter.Address)
		if err != nil {
			return fmt.Errorf("could not listen on %s %s: %w", cfg.Milter.Network, cfg.Milter.Address, err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Milter listening on %s %s\n", cfg.Milter.Network, cfg.Milter.Address)
		err = srv.Serve(ctx, listener)
		if err == context.Canceled {
			return nil
		}
		return err
	},
}

func init() {
	milterCmd.Flags().StringVar(&milterNetwork, "network", "", "Listen network: tcp or unix (overrides config)")
	milterCmd.Flags().StringVar(&milterAddress, "address", "", "Listen address (overrides config)")
}
