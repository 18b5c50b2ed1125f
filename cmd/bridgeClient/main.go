package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atotto/clipboard"
	"github.com/mr-tron/base58"
	"github.com/urfave/cli/v2"

	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/config"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/events"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/logger"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/presence"
	"github.com/Layr-Labs/eigenx-wallet-bridge/pkg/types"
)

func main() {
	app := &cli.App{
		Name:  "bridge-client",
		Usage: "Wallet bridge client for signing messages and transactions",
		Description: `A client that connects to a wallet through a hosted bridge and asks it to sign.

This client can:
- Detect whether a wallet is available
- Connect to an embedded wallet or a delegated native provider
- Sign messages, single transactions and batches of transactions
- Sign and submit a transaction through the wallet`,
		Version: "1.0.0",
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			{
				Name:  "detect",
				Usage: "Check whether a wallet announces itself within a time budget",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "budget",
						Usage: "How long to wait for the wallet",
						Value: presence.DefaultBudget,
					},
				},
				Action: detectCommand,
			},
			{
				Name:  "connect",
				Usage: "Connect to the wallet and print the approved account",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "hold",
						Usage: "Stay connected and print account changes until interrupted",
					},
				},
				Action: connectCommand,
			},
			{
				Name:  "sign-message",
				Usage: "Sign an arbitrary message",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "message",
						Usage:    "Message to sign (UTF-8 text, or 0x hex with --display hex)",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "display",
						Usage: "How the wallet renders the message: utf8 or hex",
						Value: types.DisplayUTF8.String(),
					},
					newCopyFlag(),
				},
				Action: signMessageCommand,
			},
			{
				Name:  "sign-transaction",
				Usage: "Sign a serialized transaction",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "tx",
						Usage:    "Serialized transaction (0x hex or base58)",
						Required: true,
					},
					newCopyFlag(),
				},
				Action: signTransactionCommand,
			},
			{
				Name:  "sign-all-transactions",
				Usage: "Sign several serialized transactions in one approval",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:     "tx",
						Usage:    "Serialized transaction (0x hex or base58), repeatable",
						Required: true,
					},
				},
				Action: signAllTransactionsCommand,
			},
			{
				Name:  "sign-and-send-transaction",
				Usage: "Sign a transaction and let the wallet submit it",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "tx",
						Usage:    "Serialized transaction (0x hex or base58)",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "skip-preflight",
						Usage: "Skip the preflight simulation",
					},
					&cli.StringFlag{
						Name:  "preflight-commitment",
						Usage: "Commitment level for the preflight simulation",
					},
					&cli.UintFlag{
						Name:  "max-retries",
						Usage: "Maximum submission retries, unset uses the wallet default",
					},
					newCopyFlag(),
				},
				Action: signAndSendTransactionCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// globalFlags are shared by every command and map onto BridgeConfig
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "Path to a YAML or TOML config file",
		},
		&cli.StringFlag{
			Name:    "bridge-url",
			Usage:   "Websocket URL of the hosted bridge",
			EnvVars: []string{config.EnvBridgeURL},
		},
		&cli.StringFlag{
			Name:    "network",
			Usage:   fmt.Sprintf("Cluster to sign for (%s)", config.GetSupportedNetworksString()),
			Value:   config.Network_MainnetBeta.String(),
			EnvVars: []string{config.EnvBridgeNetwork},
		},
		&cli.StringFlag{
			Name:    "origin",
			Usage:   "Origin reported to the bridge",
			EnvVars: []string{config.EnvBridgeOrigin},
		},
		&cli.StringFlag{
			Name:    "provider-url",
			Usage:   "HTTP endpoint of the delegated wallet provider",
			EnvVars: []string{config.EnvBridgeProviderURL},
		},
		&cli.StringFlag{
			Name:    "presence-url",
			Usage:   "URL answering 200 once a wallet is available",
			EnvVars: []string{config.EnvBridgePresenceURL},
		},
		&cli.StringFlag{
			Name:    "persistence",
			Usage:   "Preference store: memory, badger or redis",
			Value:   config.PersistenceType_Memory.String(),
			EnvVars: []string{config.EnvBridgePersistence},
		},
		&cli.StringFlag{
			Name:    "data-path",
			Usage:   "Badger data directory",
			EnvVars: []string{config.EnvBridgeDataPath},
		},
		&cli.StringFlag{
			Name:    "redis-address",
			Usage:   "Redis address (host:port)",
			EnvVars: []string{config.EnvBridgeRedisAddress},
		},
		&cli.StringFlag{
			Name:    "redis-password",
			Usage:   "Redis password",
			EnvVars: []string{config.EnvBridgeRedisPassword},
		},
		&cli.IntFlag{
			Name:    "redis-db",
			Usage:   "Redis database number",
			EnvVars: []string{config.EnvBridgeRedisDB},
		},
		&cli.DurationFlag{
			Name:    "request-timeout",
			Usage:   "Timeout for each signing request, 0 waits for the wallet",
			EnvVars: []string{config.EnvBridgeRequestTimeout},
		},
		&cli.Float64Flag{
			Name:    "rate-limit",
			Usage:   "Maximum signing requests per second, 0 disables the limit",
			EnvVars: []string{config.EnvBridgeRateLimit},
		},
		&cli.StringFlag{
			Name:    "account-policy",
			Usage:   "What to do when the wallet deselects its account: notify or disconnect",
			Value:   config.AccountChangePolicy_Notify.String(),
			EnvVars: []string{config.EnvBridgeAccountPolicy},
		},
		&cli.DurationFlag{
			Name:  "connect-timeout",
			Usage: "How long to wait for the wallet to approve the connection",
			Value: 2 * time.Minute,
		},
		&cli.BoolFlag{
			Name:    "debug",
			Usage:   "Enable debug logging",
			EnvVars: []string{config.EnvBridgeDebug},
		},
	}
}

func newCopyFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "copy",
		Usage: "Also copy the result to the clipboard",
	}
}

// printResult prints a labelled value and copies it when --copy is set
func printResult(c *cli.Context, label, value string) {
	fmt.Printf("✅ %s: %s\n", label, value)
	if !c.Bool("copy") {
		return
	}
	if err := clipboard.WriteAll(value); err != nil {
		fmt.Printf("⚠️  Could not copy to clipboard: %v\n", err)
		return
	}
	fmt.Printf("📋 Copied to clipboard\n")
}

// detectCommand handles the detect subcommand
func detectCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.PresenceURL == "" {
		return fmt.Errorf("--presence-url is required for detect")
	}

	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	budget := c.Duration("budget")
	fmt.Printf("🔎 Looking for a wallet (budget %s)\n", budget)
	if presence.Detect(c.Context, presence.NewHTTPFlag(cfg.PresenceURL, l), budget) {
		fmt.Printf("✅ Wallet detected\n")
		return nil
	}
	return cli.Exit("❌ No wallet detected", 1)
}

// connectCommand handles the connect subcommand
func connectCommand(c *cli.Context) error {
	client, err := newBridgeClient(c)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Printf("🔌 Connecting to wallet on %s\n", client.config.Network)
	if err := client.connect(c); err != nil {
		return err
	}
	fmt.Printf("✅ Connected via %s adapter\n", client.session.Adapter().Kind())
	fmt.Printf("  %s\n", client.session.PublicKey())

	if !c.Bool("hold") {
		return nil
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	disconnected := make(chan struct{}, 1)
	unsubscribeAccount := client.session.Subscribe(events.AccountChanged, func(n events.Notification) {
		if n.PublicKey == nil {
			fmt.Printf("⚠️  Wallet has no account selected\n")
			return
		}
		fmt.Printf("🔁 Account changed: %s\n", n.PublicKey)
	})
	defer unsubscribeAccount()
	unsubscribeDisconnect := client.session.Subscribe(events.Disconnect, func(events.Notification) {
		select {
		case disconnected <- struct{}{}:
		default:
		}
	})
	defer unsubscribeDisconnect()

	fmt.Printf("⏳ Holding connection, press Ctrl+C to disconnect\n")
	select {
	case <-ctx.Done():
		fmt.Printf("👋 Disconnecting\n")
	case <-disconnected:
		fmt.Printf("❌ Wallet disconnected\n")
	}
	return nil
}

// signMessageCommand handles the sign-message subcommand
func signMessageCommand(c *cli.Context) error {
	display := types.DisplayEncoding(c.String("display"))
	if err := display.Validate(); err != nil {
		return err
	}

	message := []byte(c.String("message"))
	if display == types.DisplayHex {
		decoded, err := decodePayload(c.String("message"))
		if err != nil {
			return err
		}
		message = decoded
	}

	client, err := newBridgeClient(c)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Printf("✍️  Signing %d byte message\n", len(message))
	if err := client.connect(c); err != nil {
		return err
	}

	signature, err := client.session.SignMessage(c.Context, message, display)
	if err != nil {
		return fmt.Errorf("failed to sign message: %w", err)
	}
	printResult(c, "Signature", base58.Encode(signature))
	return nil
}

// signTransactionCommand handles the sign-transaction subcommand
func signTransactionCommand(c *cli.Context) error {
	tx, err := decodePayload(c.String("tx"))
	if err != nil {
		return err
	}

	client, err := newBridgeClient(c)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.connect(c); err != nil {
		return err
	}

	signature, err := client.session.SignTransaction(c.Context, tx)
	if err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}
	printResult(c, "Signature", base58.Encode(signature))
	return nil
}

// signAllTransactionsCommand handles the sign-all-transactions subcommand
func signAllTransactionsCommand(c *cli.Context) error {
	inputs := c.StringSlice("tx")
	txs := make([][]byte, 0, len(inputs))
	for i, input := range inputs {
		tx, err := decodePayload(input)
		if err != nil {
			return fmt.Errorf("transaction %d: %w", i, err)
		}
		txs = append(txs, tx)
	}

	client, err := newBridgeClient(c)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Printf("✍️  Signing %d transactions\n", len(txs))
	if err := client.connect(c); err != nil {
		return err
	}

	signatures, err := client.session.SignAllTransactions(c.Context, txs)
	if err != nil {
		return fmt.Errorf("failed to sign transactions: %w", err)
	}
	fmt.Printf("✅ Signatures:\n")
	for i, sig := range signatures {
		fmt.Printf("  [%d] %s\n", i, base58.Encode(sig))
	}
	return nil
}

// signAndSendTransactionCommand handles the sign-and-send-transaction subcommand
func signAndSendTransactionCommand(c *cli.Context) error {
	tx, err := decodePayload(c.String("tx"))
	if err != nil {
		return err
	}

	opts := &types.SendOptions{
		SkipPreflight:       c.Bool("skip-preflight"),
		PreflightCommitment: c.String("preflight-commitment"),
	}
	if c.IsSet("max-retries") {
		retries := c.Uint("max-retries")
		opts.MaxRetries = &retries
	}

	client, err := newBridgeClient(c)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.connect(c); err != nil {
		return err
	}

	signature, err := client.session.SignAndSendTransaction(c.Context, tx, opts)
	if err != nil {
		return fmt.Errorf("failed to send transaction: %w", err)
	}
	printResult(c, "Transaction signature", signature)
	return nil
}
