// punchchat establishes a direct UDP channel to a named peer through a
// rendezvous server, punches the NAT path open, and runs an interactive
// chat over it.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/LegendarySaiyan/udp-hole-punching-client/pkg/chat"
	"github.com/LegendarySaiyan/udp-hole-punching-client/pkg/config"
	"github.com/LegendarySaiyan/udp-hole-punching-client/pkg/punch"
	"github.com/LegendarySaiyan/udp-hole-punching-client/pkg/rendezvous"
)

const defaultRendezvous = "45.151.30.139"

var (
	flagName       string
	flagPeer       string
	flagRendezvous string
	flagConfig     string
)

var rootCmd = &cobra.Command{
	Use:   "punchchat",
	Short: "Peer-to-peer UDP chat across NATs via a rendezvous server",
	Long: `punchchat registers a name with a rendezvous server, resolves a peer's
public address by name, opens the NAT path with a burst of punch
datagrams, and then exchanges chat lines with the peer directly over
UDP. Both peers must run punchchat against the same rendezvous server,
each naming the other with --peer.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&flagName, "name", "one", "local identity registered with the rendezvous server")
	rootCmd.Flags().StringVar(&flagPeer, "peer", "other", "peer identity to connect to")
	rootCmd.Flags().StringVar(&flagRendezvous, "rendezvous", defaultRendezvous, "rendezvous server IP (must be reachable by both peers)")
	rootCmd.Flags().StringVar(&flagConfig, "config", "", "YAML file overriding retry and punch policies")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ip := net.ParseIP(flagRendezvous)
	if ip == nil {
		return fmt.Errorf("invalid rendezvous IP %q", flagRendezvous)
	}
	if ip = ip.To4(); ip == nil {
		return fmt.Errorf("rendezvous must be an IPv4 address, got %q", flagRendezvous)
	}

	cfg := config.Default()
	if flagConfig != "" {
		var err error
		if cfg, err = config.Load(flagConfig); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := rendezvous.Register(ctx, &rendezvous.RegisterConfig{
		Retries:     cfg.Registration.Retries,
		Interval:    cfg.Registration.Interval.Std(),
		BackoffStep: cfg.Registration.BackoffStep.Std(),
	}, ip, flagName)
	if err != nil {
		return fmt.Errorf("register %q: %w", flagName, err)
	}
	defer conn.Close()
	fmt.Println(chat.FormatNotice(fmt.Sprintf("listening on %s as %q", conn.LocalAddr(), flagName)))

	resolver := rendezvous.NewResolver()
	resolver.MaxAttempts = cfg.Resolver.MaxAttempts
	resolver.InitialBackoff = cfg.Resolver.InitialBackoff.Std()
	resolver.MaxBackoff = cfg.Resolver.MaxBackoff.Std()
	resolver.NotFoundDelay = cfg.Resolver.NotFoundDelay.Std()
	resolver.WaitTimeout = cfg.Resolver.WaitTimeout

	peerAddr, err := resolver.Resolve(ctx, ip, flagPeer)
	if err != nil {
		return fmt.Errorf("resolve peer %q: %w", flagPeer, err)
	}
	fmt.Println(chat.FormatNotice(fmt.Sprintf("peer %q is at %s, punching", flagPeer, peerAddr)))

	puncher := punch.New(conn, &punch.Config{
		Count:    cfg.Punch.Count,
		Interval: cfg.Punch.Interval.Std(),
	})
	if err := puncher.Punch(ctx, peerAddr); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("punch %s: %w", peerAddr, err)
	}

	fmt.Println(chat.FormatNotice("session ready, type a message and press enter"))

	session := chat.NewSession(chat.SessionConfig{
		Conn:   conn,
		Peer:   peerAddr,
		Input:  os.Stdin,
		Output: os.Stdout,
		OnError: func(err error) {
			fmt.Println(chat.FormatError(err))
		},
		Ignore: []string{string(punch.DefaultPayload)},
	})
	if err := session.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}
