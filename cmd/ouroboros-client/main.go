// Command ouroboros-client dials a Cardano node over TCP, negotiates a
// handshake, and drives one of a few mini-protocol operations against
// it — the direct analogue of the teacher's main.go dial-and-getheaders
// loop, generalized from Bitcoin headers to the negotiated Ouroboros
// mini-protocol set.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ouroboros/internal/config"
	"ouroboros/internal/handshake"
	"ouroboros/internal/logging"
	"ouroboros/internal/peer"
	"ouroboros/internal/protocol"
)

func main() {
	root := &cobra.Command{Use: "ouroboros-client"}
	root.AddCommand(handshakeCmd(), syncCmd(), tipCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadOptions(nodeToClient bool) peer.Options {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		cfg = config.Defaults()
	}
	var table handshake.VersionTable
	if nodeToClient {
		table = handshake.DefaultNodeToClientVersions(cfg.Handshake.NetworkMagic)
	} else {
		table = handshake.DefaultNodeToNodeVersions(cfg.Handshake.NetworkMagic)
	}
	return peer.Options{
		VersionTable:     table,
		NodeToClient:     nodeToClient,
		HandshakeTimeout: cfg.Handshake.Timeout,
		KeepAlivePeriod:  cfg.KeepAlive.Period,
		KeepAliveTimeout: cfg.KeepAlive.Timeout,
		Log:              logging.ForBearer(logging.New(cfg.Logging.Level), nil),
	}
}

func handshakeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "handshake <addr>",
		Short: "dial addr, negotiate a version, and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := peer.Open(context.Background(), args[0], loadOptions(false))
			if err != nil {
				return fmt.Errorf("handshake: %w", err)
			}
			defer p.Close()
			fmt.Printf("negotiated version %d (magic=%d, initiator_only=%v)\n",
				p.HandshakeResult.Version,
				p.HandshakeResult.Params.NetworkMagic,
				p.HandshakeResult.Params.InitiatorOnlyDiffusionMode)
			return nil
		},
	}
}

func syncCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "sync <addr>",
		Short: "dial addr, handshake, and print roll-forward/rollback events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := peer.Open(context.Background(), args[0], loadOptions(false))
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}
			defer p.Close()

			for i := 0; i < count; i++ {
				result, err := p.ChainSyncClient.RequestNext()
				if err != nil {
					return fmt.Errorf("sync: RequestNext: %w", err)
				}
				switch {
				case result.RollForward != nil:
					point := protocol.NewPointFromHeader(result.RollForward.Tip.Point.Slot, result.RollForward.Header)
					fmt.Printf("roll forward: point=%s tip=%s header_len=%d\n", point, result.RollForward.Tip, len(result.RollForward.Header))
				case result.RollBackward != nil:
					fmt.Printf("roll backward: to=%s tip=%s\n", result.RollBackward.Point, result.RollBackward.Tip)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 10, "number of RequestNext rounds to run")
	return cmd
}

func tipCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tip <addr>",
		Short: "dial addr, handshake, and print the peer's current tip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := peer.Open(context.Background(), args[0], loadOptions(false))
			if err != nil {
				return fmt.Errorf("tip: %w", err)
			}
			defer p.Close()

			found, _, tip, err := p.ChainSyncClient.FindIntersect([]protocol.Point{protocol.Origin})
			if err != nil {
				return fmt.Errorf("tip: FindIntersect: %w", err)
			}
			if !found {
				return fmt.Errorf("tip: peer did not recognize origin as an intersection point")
			}
			fmt.Printf("tip: %s\n", tip)
			return nil
		},
	}
}
