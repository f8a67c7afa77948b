// Command gfg runs a finality observer node over libp2p,
// and provides a status subcommand for inspecting a running node.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/spf13/cobra"
	"github.com/tv42/httpunix"

	"github.com/gordian-engine/gfg/fg/fgchain/fgchaintest"
	"github.com/gordian-engine/gfg/fg/fgcodec/fgjson"
	"github.com/gordian-engine/gfg/fg/fghttp"
	"github.com/gordian-engine/gfg/fg/fgimport"
	"github.com/gordian-engine/gfg/fg/fgnetwork/fglibp2p"
	"github.com/gordian-engine/gfg/fg/fgtypes"
	"github.com/gordian-engine/gfg/fg/fgvoter"
	"github.com/gordian-engine/gfg/gcrypto"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gfg",
		Short: "Round-based BFT finality gadget",
	}

	cmd.AddCommand(observerCmd(), statusCmd())
	return cmd
}

func observerCmd() *cobra.Command {
	var (
		listenAddr  string
		genesisPath string
		socketPath  string
		chainID     string
		gossipDur   time.Duration
		name        string
	)

	cmd := &cobra.Command{
		Use:   "observer",
		Short: "Run an observer node: validate and relay finality without voting",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			log := slog.New(slog.NewTextHandler(os.Stderr, nil))

			authorities, err := loadGenesisAuthorities(genesisPath)
			if err != nil {
				return err
			}

			h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
			if err != nil {
				return fmt.Errorf("failed to create libp2p host: %w", err)
			}
			defer h.Close()

			fnet, err := fglibp2p.New(ctx, log.With("sys", "network"), h)
			if err != nil {
				return err
			}

			reg := new(gcrypto.Registry)
			gcrypto.RegisterEd25519(reg)
			codec := fgjson.MarshalCodec{CryptoRegistry: reg}

			// No block sync is wired into the observer yet,
			// so the deterministic in-memory chain stands in
			// for a real chain client.
			// TODO: feed the import hook from a block announcement topic.
			chain := fgchaintest.NewChain(chainID)

			_, link, err := fgimport.NewImportHook(ctx, log.With("sys", "import"), fgimport.Config{
				Chain: chain,
				Aux:   chain,

				Accessor: staticAccessor{authorities: authorities},

				Codec: codec,
			})
			if err != nil {
				return err
			}

			voter, err := fgvoter.New(ctx, log.With("sys", "voter"), fgvoter.Config{
				GossipDuration: gossipDur,
				Name:           name,

				Codec: codec,
			}, link, fnet)
			if err != nil {
				return err
			}

			// Drain notifications so the stream never backs up.
			go func() {
				for n := range voter.FinalityNotifications() {
					log.Info("Finalized", "number", n.Number, "hash", n.Hash)
				}
			}()

			if socketPath != "" {
				ln, err := net.Listen("unix", socketPath)
				if err != nil {
					return fmt.Errorf("failed to listen on unix socket: %w", err)
				}
				defer os.Remove(socketPath)

				fghttp.NewServer(ctx, log.With("sys", "http"), fghttp.ServerConfig{
					Listener: ln,

					Name: name,

					AuthoritySet: link.AuthoritySet,
					Chain:        chain,
				})
			}

			voter.Wait()
			return voter.Err()
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "/ip4/0.0.0.0/tcp/26656", "libp2p listen multiaddr")
	cmd.Flags().StringVar(&genesisPath, "genesis", "genesis-authorities.json", "path to the genesis authority list")
	cmd.Flags().StringVar(&socketPath, "socket", "", "unix socket path for the status API (disabled if empty)")
	cmd.Flags().StringVar(&chainID, "chain-id", "gfg-local", "chain identifier")
	cmd.Flags().DurationVar(&gossipDur, "gossip-duration", 2*time.Second, "per-stage gossip timeout")
	cmd.Flags().StringVar(&name, "name", "", "diagnostic node name (generated if empty)")

	return cmd
}

func statusCmd() *cobra.Command {
	var socketPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the status of a running node",
		RunE: func(cmd *cobra.Command, args []string) error {
			t := &httpunix.Transport{
				DialTimeout:           time.Second,
				RequestTimeout:        5 * time.Second,
				ResponseHeaderTimeout: 5 * time.Second,
			}
			t.RegisterLocation("gfg", socketPath)

			client := http.Client{Transport: t}
			resp, err := client.Get("http+unix://gfg/status")
			if err != nil {
				return fmt.Errorf("failed to query status: %w", err)
			}
			defer resp.Body.Close()

			_, err = io.Copy(os.Stdout, resp.Body)
			return err
		},
	}

	cmd.Flags().StringVar(&socketPath, "socket", "gfg.sock", "unix socket path of the running node")

	return cmd
}

// genesisAuthority is one entry of the genesis JSON file:
// a hex ed25519 public key and its voting weight.
type genesisAuthority struct {
	PubKey string
	Weight uint64
}

func loadGenesisAuthorities(path string) (fgtypes.Authorities, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read genesis authorities: %w", err)
	}

	var entries []genesisAuthority
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse genesis authorities: %w", err)
	}

	out := make(fgtypes.Authorities, len(entries))
	for i, e := range entries {
		raw, err := hex.DecodeString(e.PubKey)
		if err != nil {
			return nil, fmt.Errorf("invalid public key at index %d: %w", i, err)
		}
		k, err := gcrypto.NewEd25519PubKey(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid public key at index %d: %w", i, err)
		}
		out[i] = fgtypes.Authority{PubKey: k, Weight: e.Weight}
	}

	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis authority list: %w", err)
	}
	return out, nil
}

// staticAccessor serves a fixed genesis list and schedules no changes,
// standing in for a chain runtime the observer has no access to.
type staticAccessor struct {
	authorities fgtypes.Authorities
}

func (a staticAccessor) GenesisAuthorities(context.Context) (fgtypes.Authorities, error) {
	return a.authorities, nil
}

func (a staticAccessor) PendingChange(context.Context, fgtypes.Hash) (*fgtypes.ScheduledChange, error) {
	return nil, nil
}
