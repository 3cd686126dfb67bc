package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/spacebook/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/spacebook/pkg/booking"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	flagAddr     = "addr"
	flagHolder   = "holder"
	flagRole     = "role"
	flagTLS      = "tls"
	flagTimeout  = "timeout"
	flagDate     = "date"
	flagStart    = "start"
	flagEnd      = "end"
	flagResource = "resource"
	flagFrom     = "from"
	flagToken    = "token"
	flagFor      = "for"

	envPrefix      = "SPACEBOOKCTL"
	defaultAddr    = "localhost:7000"
	defaultTimeout = 10 * time.Second
)

type clientConfig struct {
	Addr    string
	Actor   booking.Actor
	TLS     bool
	Timeout time.Duration
}

// dialFunc opens a connection for the configured address.
type dialFunc func(cfg clientConfig) (grpc.ClientConnInterface, func() error, error)

func main() {
	cmd := newRootCommand(dialServer)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "spacebookctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(dial dialFunc) *cobra.Command {
	cfg := &clientConfig{}
	cmd := &cobra.Command{
		Use:           "spacebookctl",
		Short:         "Command line client for the reservation gRPC service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := cmd.PersistentFlags()
	flags.String(flagAddr, defaultAddr, "Server address")
	flags.String(flagHolder, "", "Holder id to act as")
	flags.String(flagRole, booking.RoleMember.String(), "Role to act as: guest, member or admin")
	flags.Bool(flagTLS, false, "Use TLS with system roots")
	flags.Duration(flagTimeout, defaultTimeout, "Per-call timeout")

	cmd.PersistentPreRunE = func(*cobra.Command, []string) error {
		return loadConfig(cmd, cfg)
	}

	call := func(cmd *cobra.Command, method string, request map[string]any) error {
		conn, closeConn, err := dial(*cfg)
		if err != nil {
			return err
		}
		defer func() { _ = closeConn() }()
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
		defer cancel()
		response, err := grpcserver.NewClient(conn, cfg.Actor).Call(ctx, method, request)
		if err != nil {
			return err
		}
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(response)
	}

	cmd.AddCommand(
		newAvailabilityCommand(call),
		newReserveCommand(call),
		newMoveCommand(call),
		newCancelCommand(call),
		newActivateCommand(call),
		newListCommand(call),
		newCurrentCommand(call),
		newStatsCommand(call),
	)
	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *clientConfig) error {
	settings := viper.New()
	settings.SetEnvPrefix(envPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()
	if err := settings.BindPFlags(cmd.PersistentFlags()); err != nil {
		return err
	}
	role, err := booking.ParseRole(settings.GetString(flagRole))
	if err != nil {
		return err
	}
	cfg.Actor = booking.Actor{Role: role}
	if rawHolder := settings.GetString(flagHolder); rawHolder != "" {
		holderID, err := booking.NewHolderID(rawHolder)
		if err != nil {
			return err
		}
		cfg.Actor.HolderID = holderID
	}
	cfg.Addr = settings.GetString(flagAddr)
	cfg.TLS = settings.GetBool(flagTLS)
	cfg.Timeout = settings.GetDuration(flagTimeout)
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return nil
}

func dialServer(cfg clientConfig) (grpc.ClientConnInterface, func() error, error) {
	transport := insecure.NewCredentials()
	if cfg.TLS {
		transport = credentials.NewClientTLSFromCert(nil, "")
	}
	conn, err := grpc.NewClient(cfg.Addr, grpc.WithTransportCredentials(transport))
	if err != nil {
		return nil, nil, fmt.Errorf("connect %s: %w", cfg.Addr, err)
	}
	return conn, conn.Close, nil
}
