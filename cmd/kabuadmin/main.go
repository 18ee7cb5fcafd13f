// Command kabuadmin inspects and repairs the kabu market store directly.
//
// Changes made here bypass a running kabud: no price event is broadcast
// and the daemon picks up the new state on its next read.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/rickgao/kabu-market/internal/config"
	"github.com/rickgao/kabu-market/internal/database"
	"github.com/rickgao/kabu-market/internal/market"
	"github.com/rickgao/kabu-market/internal/model"
	"github.com/rickgao/kabu-market/internal/pricing"
	"github.com/rickgao/kabu-market/internal/store"
)

const usage = `usage: kabuadmin [-config path] <command> [args]

commands:
  state                         show price, delta and last update day
  evaluate [day]                run the day's evaluation (default today)
  set-price <price>             set the price and zero the delta
  set-delta <delta>             set the displayed delta
  restore <price> <delta> <day> replace the whole market state
  balance <player>              show a player's holdings
  adjust <player> <delta>       add to a player's holdings (clamped at 0)
  set <player> <quantity>       replace a player's holdings
  top [n]                       list the largest holders
  clear                         delete every holding
  migrate                       apply postgres migrations
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
		}
		fmt.Fprintln(os.Stderr, "kabuadmin:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("kabuadmin", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "configs/kabud.yaml", "path to config file (.yaml or .toml)")
	verbose := fs.Bool("v", false, "log at debug level")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() == 0 {
		return errUsage
	}
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if cmd == "migrate" {
		return migrate(ctx, cfg, logger, out)
	}

	loc, err := cfg.Market.Location()
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	engine := pricing.NewEngine(st, pricing.SystemSource(),
		pricing.WithLogger(logger),
		pricing.WithLocation(loc),
	)
	a := &admin{m: market.New(st, engine, logger), out: out}

	switch cmd {
	case "state":
		return a.state(ctx)
	case "evaluate":
		return a.evaluate(ctx, rest)
	case "set-price":
		return a.setPrice(ctx, rest)
	case "set-delta":
		return a.setDelta(ctx, rest)
	case "restore":
		return a.restore(ctx, rest)
	case "balance":
		return a.balance(ctx, rest)
	case "adjust":
		return a.adjust(ctx, rest)
	case "set":
		return a.set(ctx, rest)
	case "top":
		return a.top(ctx, rest)
	case "clear":
		return a.clear(ctx)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func migrate(ctx context.Context, cfg *config.KabuConfig, logger *slog.Logger, out io.Writer) error {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		if err := database.Migrate(ctx, database.BuildConnString(cfg.Database.Postgres), logger); err != nil {
			return err
		}
		fmt.Fprintln(out, "migrations applied")
	case config.DriverSQLite:
		db, err := database.OpenSQLite(cfg.Database.SQLite.Path)
		if err != nil {
			return err
		}
		db.Close()
		fmt.Fprintln(out, "sqlite schema ready")
	default:
		fmt.Fprintf(out, "nothing to migrate for driver %q\n", cfg.Database.Driver)
	}
	return nil
}

type admin struct {
	m   *market.Market
	out io.Writer
}

func (a *admin) printState(s model.MarketState) {
	fmt.Fprintf(a.out, "price=%d delta=%d last_update_day=%d\n", s.Price, s.Delta, s.LastUpdateDay)
}

func (a *admin) state(ctx context.Context) error {
	s, err := a.m.State(ctx)
	if err != nil {
		return err
	}
	a.printState(s)
	fmt.Fprintf(a.out, "days_until_boundary=%d\n", a.m.DaysUntilNextBoundary())
	return nil
}

func (a *admin) evaluate(ctx context.Context, args []string) error {
	day := 0
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("%w: day must be an integer", errUsage)
		}
		day = n
	}
	res, err := a.m.ForceEvaluate(ctx, day)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "outcome=%s\n", res.Outcome)
	a.printState(res.State)
	return nil
}

func (a *admin) setPrice(ctx context.Context, args []string) error {
	v, err := intArgs(args, 1)
	if err != nil {
		return err
	}
	s, err := a.m.OverridePrice(ctx, v[0])
	if err != nil {
		return err
	}
	a.printState(s)
	return nil
}

func (a *admin) setDelta(ctx context.Context, args []string) error {
	v, err := intArgs(args, 1)
	if err != nil {
		return err
	}
	s, err := a.m.OverrideDelta(ctx, v[0])
	if err != nil {
		return err
	}
	a.printState(s)
	return nil
}

func (a *admin) restore(ctx context.Context, args []string) error {
	v, err := intArgs(args, 3)
	if err != nil {
		return err
	}
	s := model.MarketState{Price: v[0], Delta: v[1], LastUpdateDay: int(v[2])}
	if err := a.m.Restore(ctx, s); err != nil {
		return err
	}
	a.printState(s)
	return nil
}

func (a *admin) balance(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: balance takes a player id", errUsage)
	}
	id, err := model.ParsePlayerID(args[0])
	if err != nil {
		return err
	}
	qty, err := a.m.BalanceOf(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %d\n", id, qty)
	return nil
}

func (a *admin) adjust(ctx context.Context, args []string) error {
	id, n, err := playerAndInt(args)
	if err != nil {
		return err
	}
	qty, err := a.m.AdjustBalance(ctx, id, n)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %d\n", id, qty)
	return nil
}

func (a *admin) set(ctx context.Context, args []string) error {
	id, n, err := playerAndInt(args)
	if err != nil {
		return err
	}
	if err := a.m.SetBalance(ctx, id, n); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %d\n", id, n)
	return nil
}

func (a *admin) top(ctx context.Context, args []string) error {
	n := market.DefaultTopN
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("%w: n must be an integer", errUsage)
		}
		n = v
	}
	holdings, err := a.m.TopN(ctx, n)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tPLAYER\tQUANTITY")
	for i, h := range holdings {
		fmt.Fprintf(tw, "%d\t%s\t%d\n", i+1, h.Player, h.Quantity)
	}
	return tw.Flush()
}

func (a *admin) clear(ctx context.Context) error {
	if err := a.m.ClearAllBalances(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "all balances cleared")
	return nil
}

func intArgs(args []string, n int) ([]int64, error) {
	if len(args) != n {
		return nil, fmt.Errorf("%w: want %d arguments, got %d", errUsage, n, len(args))
	}
	out := make([]int64, n)
	for i, s := range args {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", errUsage, s)
		}
		out[i] = v
	}
	return out, nil
}

func playerAndInt(args []string) (model.PlayerID, int64, error) {
	if len(args) != 2 {
		return model.PlayerID{}, 0, fmt.Errorf("%w: want <player> <amount>", errUsage)
	}
	id, err := model.ParsePlayerID(args[0])
	if err != nil {
		return id, 0, err
	}
	v, err := intArgs(args[1:], 1)
	if err != nil {
		return id, 0, err
	}
	return id, v[0], nil
}
