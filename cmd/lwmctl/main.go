// Command lwmctl runs one-shot queries and admin commands against the ledger
// node set, using the same failover dispatcher as the dashboard.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"ledgerwatch.mini/lwm/internal/admin"
	"ledgerwatch.mini/lwm/internal/config"
	"ledgerwatch.mini/lwm/internal/dispatch"
	"ledgerwatch.mini/lwm/internal/health"
	"ledgerwatch.mini/lwm/internal/ledger"
	"ledgerwatch.mini/lwm/internal/logger"
	"ledgerwatch.mini/lwm/internal/nodeapi"
	"ledgerwatch.mini/lwm/internal/registry"
	"ledgerwatch.mini/lwm/internal/types"
)

const usage = `usage: lwmctl [flags] <command> [args]

commands:
  health                          probe every node
  stats                           donation totals and ranking
  recent                          latest transactions
  chain                           blocks, newest first
  orgs                            known organizations
  donate <recipient> <amount> [sender]
  sync                            register every node with every other node
  mine                            seal pending transactions into a block
  consensus                       ask every node to resolve conflicts
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("lwmctl: %v", err)
	}
}

type cli struct {
	out    io.Writer
	window int
	reg    *registry.Registry
	ledger *nodeapi.Ledger
	direct *nodeapi.Direct
	prober *health.Prober
	runner *admin.Runner
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("lwmctl", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() {
		fmt.Fprint(out, usage)
		fmt.Fprintln(out, "\nflags:")
		fs.PrintDefaults()
	}
	var (
		nodesFlag  = fs.String("nodes", "", "comma-separated node URLs (overrides config)")
		configFlag = fs.String("config", os.Getenv("LWM_CONFIG"), "config file (yaml, toml or json)")
		timeout    = fs.Duration("timeout", 0, "per-request timeout (default from config)")
		window     = fs.Int("window", 0, "number of recent transactions (default from config)")
		verbose    = fs.Bool("v", false, "log dispatcher activity to stderr")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("no command given")
	}

	cfg, err := config.LoadConfig(*configFlag)
	if err != nil {
		return err
	}
	if *nodesFlag != "" {
		cfg.Nodes = config.SplitNodes(*nodesFlag)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if *timeout > 0 {
		cfg.RequestTimeout.Duration = *timeout
		cfg.ProbeTimeout.Duration = *timeout
	}
	if *window > 0 {
		cfg.RecentWindow = *window
	}

	level := "error"
	if *verbose {
		level = "debug"
	}
	slogger := logger.Setup(logger.Options{Service: "lwmctl", Level: level})
	slogger.Debug("resolved node set", "nodes", strings.Join(cfg.Nodes, ","))

	c := newCLI(cfg, out)
	c.runner = admin.NewRunner(cfg.Nodes, c.direct, c.ledger, admin.Options{Logger: slogger})

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "health":
		return c.health(ctx)
	case "stats":
		return c.stats(ctx)
	case "recent":
		return c.recent(ctx)
	case "chain":
		return c.chain(ctx)
	case "orgs":
		return c.orgs(ctx)
	case "donate":
		return c.donate(ctx, rest)
	case "sync":
		return c.sync(ctx)
	case "mine":
		return c.mine(ctx)
	case "consensus":
		return c.consensus(ctx)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func newCLI(cfg *config.Config, out io.Writer) *cli {
	reg := registry.New(cfg.Nodes)
	d := dispatch.New(reg, dispatch.Options{
		Timeout: cfg.RequestTimeout.Duration,
		Rate:    cfg.RequestRate,
		Burst:   cfg.RequestBurst,
	})
	direct := nodeapi.NewDirect(d)
	return &cli{
		out:    out,
		window: cfg.RecentWindow,
		reg:    reg,
		ledger: nodeapi.NewLedger(d),
		direct: direct,
		prober: health.NewProber(cfg.Nodes, direct, health.Options{Timeout: cfg.ProbeTimeout.Duration}),
	}
}

func (c *cli) table() *tabwriter.Writer {
	return tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
}

func (c *cli) health(ctx context.Context) error {
	results := c.prober.ProbeAll(ctx)
	tw := c.table()
	fmt.Fprintln(tw, "NODE\tSTATUS\tHEIGHT\tLATENCY\tERROR")
	down := 0
	for _, h := range results {
		height := "-"
		if h.BlockHeight != nil {
			height = fmt.Sprint(*h.BlockHeight)
		}
		if !h.Reachable {
			down++
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", h.Address, h.Status, height, h.Latency.Truncate(time.Millisecond), h.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if down == len(results) {
		return dispatch.ErrAllNodesUnreachable
	}
	return nil
}

func (c *cli) aggregate(ctx context.Context) (types.AggregateStats, error) {
	report, err := c.ledger.Stats(ctx)
	if err != nil {
		return types.AggregateStats{}, err
	}
	blocks, err := c.ledger.Chain(ctx)
	if err != nil {
		return types.AggregateStats{}, err
	}
	return ledger.Aggregate(types.ChainSnapshot{Blocks: blocks, Report: report}, c.window)
}

func (c *cli) stats(ctx context.Context) error {
	agg, err := c.aggregate(ctx)
	if err != nil {
		return err
	}
	orgs, err := c.ledger.Organizations(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "served by:     %s\n", c.reg.Current().Address)
	fmt.Fprintf(c.out, "total:         %s\n", agg.TotalDonations.StringFixed(2))
	fmt.Fprintf(c.out, "blocks:        %d\n", agg.TotalBlocks)
	fmt.Fprintf(c.out, "pending:       %d\n", agg.PendingTransactions)
	fmt.Fprintf(c.out, "chain valid:   %t\n\n", agg.ChainValid)

	tw := c.table()
	fmt.Fprintln(tw, "ORGANIZATION\tAMOUNT")
	for _, row := range ledger.RankOrganizations(agg.DonationsByOrganization, orgs) {
		fmt.Fprintf(tw, "%s\t%s\n", row.Organization, row.Amount.StringFixed(2))
	}
	return tw.Flush()
}

func (c *cli) recent(ctx context.Context) error {
	agg, err := c.aggregate(ctx)
	if err != nil {
		return err
	}
	tw := c.table()
	fmt.Fprintln(tw, "BLOCK\tSENDER\tRECIPIENT\tAMOUNT")
	for _, tx := range agg.RecentTransactions {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", tx.BlockIndex, tx.Sender, tx.Recipient, tx.Amount.StringFixed(2))
	}
	return tw.Flush()
}

func (c *cli) chain(ctx context.Context) error {
	blocks, err := c.ledger.Chain(ctx)
	if err != nil {
		return err
	}
	tw := c.table()
	fmt.Fprintln(tw, "INDEX\tTIME\tTXS\tNONCE\tHASH\tPREVIOUS")
	for _, b := range ledger.ChainView(blocks) {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\t%s\n", b.Index, b.Time.Format(time.DateTime), b.TransactionCount, b.Nonce, shortHash(b.Hash), shortHash(b.PreviousHash))
	}
	return tw.Flush()
}

func (c *cli) orgs(ctx context.Context) error {
	orgs, err := c.ledger.Organizations(ctx)
	if err != nil {
		return err
	}
	for _, o := range orgs {
		fmt.Fprintln(c.out, o)
	}
	return nil
}

func (c *cli) donate(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("donate needs <recipient> <amount> [sender]")
	}
	amount, err := decimal.NewFromString(args[1])
	if err != nil || !amount.IsPositive() {
		return fmt.Errorf("amount %q must be a positive number", args[1])
	}
	sender := "Anonymous donor"
	if len(args) > 2 && strings.TrimSpace(args[2]) != "" {
		sender = strings.TrimSpace(args[2])
	}

	resp, err := c.ledger.SubmitTransaction(ctx, nodeapi.NewTransaction{Sender: sender, Recipient: args[0], Amount: amount})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "✅ %s (mempool size %d)\n", resp.Message, resp.MempoolSize)
	return nil
}

func (c *cli) sync(ctx context.Context) error {
	legs, err := c.runner.SyncPeers(ctx)
	c.printLegs(legs)
	return err
}

func (c *cli) mine(ctx context.Context) error {
	resp, err := c.runner.TriggerMine(ctx)
	if errors.Is(err, admin.ErrEmptyMinePool) {
		fmt.Fprintln(c.out, "nothing to mine: mempool is empty")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "✅ %s: block %d with %d transaction(s)\n", resp.Message, resp.Block.Index, len(resp.Block.Transactions))
	return nil
}

func (c *cli) consensus(ctx context.Context) error {
	legs, err := c.runner.TriggerConsensus(ctx)
	c.printLegs(legs)
	return err
}

func (c *cli) printLegs(legs []admin.Leg) {
	for _, l := range legs {
		target := l.Node
		if l.Peer != "" {
			target += " -> " + l.Peer
		}
		if l.OK() {
			msg := l.Message
			if msg == "" {
				msg = "ok"
			}
			fmt.Fprintf(c.out, "[%s] ✅ %s\n", target, msg)
		} else {
			fmt.Fprintf(c.out, "[%s] ❌ %v\n", target, l.Err)
		}
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
