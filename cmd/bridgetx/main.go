// Package main provides bridgetx, a tool to build, sign and combine the
// pre-signed transactions of a bridge graph.
package main

import (
	"bytes"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/klingon-exchange/klingbridge/internal/bridge/connectors"
	"github.com/klingon-exchange/klingbridge/internal/bridge/transactions"
	"github.com/klingon-exchange/klingbridge/internal/config"
	"github.com/klingon-exchange/klingbridge/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

const usage = `usage: bridgetx [flags] <command> [args]

commands:
  addresses                          print the connector addresses of the graph
  kickoff2 -outpoint T:V -amount N   build (and sign, as operator) a kick-off
  take1 -kickoff HEX                 build and sign the take spending a kick-off
  pegin-confirm -outpoint T:V -amount N
                                     build a peg-in confirm and add this verifier's signature
  combine HEX HEX...                 merge signatures of the same transaction
  finalize HEX                       validate all inputs and print the network transaction

flags:
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "bridgetx: %v\n", err)
		os.Exit(1)
	}
}

// errUsage reports a missing or unknown command; usage has been printed.
var errUsage = errors.New("invalid command")

// run executes one command. Resources opened here, such as the log file, are
// released before it returns.
func run(argv []string) error {
	fs := flag.NewFlagSet("bridgetx", flag.ContinueOnError)
	var (
		dataDir     = fs.String("data-dir", "~/.klingbridge", "Data directory")
		configFile  = fs.String("config", "", "Config file path (default: <data-dir>/bridge.yaml)")
		logLevel    = fs.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		showVersion = fs.Bool("version", false, "Show version and exit")
	)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(argv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	log := logging.New(&logging.Config{
		Level:      "info",
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("bridgetx %s (commit: %s)", version, commit)
		return nil
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}

	var (
		cfg *config.Config
		err error
	)
	if *configFile != "" {
		cfg, err = config.LoadFile(*configFile)
	} else {
		cfg, err = config.LoadConfig(*dataDir)
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logCfg := &logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
	}
	if cfg.Logging.File != "" {
		path := cfg.Logging.File
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		logCfg.Output = f
	}
	log = logging.New(logCfg)
	logging.SetDefault(log)
	transactions.UseLogger(log.Component("tx"))

	cmd, args := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "addresses":
		err = runAddresses(log, cfg)
	case "kickoff2":
		err = runKickOff2(log, cfg, args)
	case "take1":
		err = runTake1(log, cfg, args)
	case "pegin-confirm":
		err = runPegInConfirm(log, cfg, args)
	case "combine":
		err = runCombine(log, args)
	case "finalize":
		err = runFinalize(log, args)
	default:
		fs.Usage()
		return fmt.Errorf("%w: %q", errUsage, cmd)
	}
	if err != nil {
		log.Error("Command failed", "command", cmd, "error", err)
		return fmt.Errorf("%s: %w", cmd, err)
	}
	return nil
}

func runAddresses(log *logging.Logger, cfg *config.Config) error {
	public, err := cfg.OperatorPublic()
	if err != nil {
		return err
	}

	connector3, err := connectors.NewConnector3(public.Network, public.OperatorPublicKey)
	if err != nil {
		return err
	}
	connectorA, err := connectors.NewConnectorA(public.Network, public.OperatorTaprootPublicKey, public.NofN.TaprootPublicKey)
	if err != nil {
		return err
	}
	connectorB, err := connectors.NewConnectorB(public.Network, public.NofN.TaprootPublicKey, public.OperatorOneTimePublicKey)
	if err != nil {
		return err
	}
	deposit, err := connectors.NewNofNConnector(public.Network, public.NofN.PublicKeys)
	if err != nil {
		return err
	}
	vault, err := connectors.NewTaprootKeyConnector(public.Network, public.NofN.TaprootPublicKey)
	if err != nil {
		return err
	}

	log.Info("Graph addresses", "network", public.Network, "verifiers", len(public.NofN.PublicKeys))
	fmt.Printf("operator funding / connector 3: %s\n", connector3.GenerateAddress())
	fmt.Printf("connector A:                    %s\n", connectorA.GenerateAddress())
	fmt.Printf("connector B:                    %s\n", connectorB.GenerateAddress())
	fmt.Printf("n-of-n deposit:                 %s\n", deposit.GenerateAddress())
	fmt.Printf("n-of-n vault:                   %s\n", vault.GenerateAddress())
	return nil
}

func inputFlags(fs *flag.FlagSet) (*string, *uint64) {
	outpoint := fs.String("outpoint", "", "Coin to spend as txid:vout")
	amount := fs.Uint64("amount", 0, "Value of the coin in satoshis")
	return outpoint, amount
}

func runKickOff2(log *logging.Logger, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("kickoff2", flag.ContinueOnError)
	outpoint, amount := inputFlags(fs)
	sign := fs.Bool("sign", true, "Sign with the configured operator secret key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	input, err := transactions.NewInput(*outpoint, *amount)
	if err != nil {
		return err
	}

	var k *transactions.KickOff2Transaction
	if *sign {
		ctx, err := cfg.OperatorContext()
		if err != nil {
			return err
		}
		k, err = transactions.NewKickOff2Transaction(ctx, input)
		if err != nil {
			return err
		}
	} else {
		public, err := cfg.OperatorPublic()
		if err != nil {
			return err
		}
		k, err = transactions.NewKickOff2TransactionFromPublic(public, input)
		if err != nil {
			return err
		}
	}

	logTransaction(log, "Kick-off 2", k.Tx())
	return printEncoded(k)
}

func runTake1(log *logging.Logger, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("take1", flag.ContinueOnError)
	kickOffHex := fs.String("kickoff", "", "Encoded kick-off 2 transaction")
	if err := fs.Parse(args); err != nil {
		return err
	}
	kickOff, err := transactions.DecodeRawTransaction(*kickOffHex)
	if err != nil {
		return err
	}

	ctx, err := cfg.OperatorContext()
	if err != nil {
		return err
	}
	take, err := transactions.NewTake1TransactionFromRaw(ctx, kickOff)
	if err != nil {
		return err
	}

	logTransaction(log, "Take 1", take.Tx())
	return printEncoded(take)
}

func runPegInConfirm(log *logging.Logger, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("pegin-confirm", flag.ContinueOnError)
	outpoint, amount := inputFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	input, err := transactions.NewInput(*outpoint, *amount)
	if err != nil {
		return err
	}

	ctx, err := cfg.VerifierContext()
	if err != nil {
		return err
	}
	p, err := transactions.NewPegInConfirmTransaction(ctx, input)
	if err != nil {
		return err
	}

	logTransaction(log, "Peg-in confirm", p.Tx())
	return printEncoded(p)
}

func runCombine(log *logging.Logger, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("combine needs at least two transactions, got %d", len(args))
	}
	dst, err := transactions.DecodeRawTransaction(args[0])
	if err != nil {
		return fmt.Errorf("transaction 0: %w", err)
	}
	for i, s := range args[1:] {
		src, err := transactions.DecodeRawTransaction(s)
		if err != nil {
			return fmt.Errorf("transaction %d: %w", i+1, err)
		}
		if err := transactions.Combine(dst, src); err != nil {
			return fmt.Errorf("transaction %d: %w", i+1, err)
		}
	}

	log.Info("Combined signatures", "txid", dst.TxHash(), "parts", len(args))
	return printEncoded(dst)
}

func runFinalize(log *logging.Logger, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("finalize takes one transaction, got %d", len(args))
	}
	raw, err := transactions.DecodeRawTransaction(args[0])
	if err != nil {
		return err
	}
	for i := range raw.Tx().TxIn {
		if err := transactions.ValidateInput(raw, i); err != nil {
			return err
		}
	}

	tx := raw.Finalize()
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return fmt.Errorf("failed to serialize: %w", err)
	}
	log.Info("Transaction complete", "txid", tx.TxHash(), "vsize", vsize(tx))
	fmt.Println(hex.EncodeToString(buf.Bytes()))
	return nil
}

type encoder interface {
	EncodeHex() (string, error)
}

func printEncoded(e encoder) error {
	encoded, err := e.EncodeHex()
	if err != nil {
		return err
	}
	fmt.Println(encoded)
	return nil
}

func logTransaction(log *logging.Logger, name string, tx *wire.MsgTx) {
	log.Info(name, "txid", tx.TxHash(), "inputs", len(tx.TxIn), "outputs", len(tx.TxOut))
	for i, out := range tx.TxOut {
		log.Infof("  output %d: %s", i, btcutil.Amount(out.Value))
	}
}

// vsize returns the virtual size in vbytes.
func vsize(tx *wire.MsgTx) int64 {
	weight := int64(tx.SerializeSizeStripped())*3 + int64(tx.SerializeSize())
	return (weight + 3) / 4
}
