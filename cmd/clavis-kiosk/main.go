package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/pkarsten/clavis/internal/clavis/crypto"
	"github.com/pkarsten/clavis/internal/clavis/service"
	"github.com/pkarsten/clavis/internal/clavis/store"
	sqlitestore "github.com/pkarsten/clavis/internal/clavis/store/sqlite"
	"github.com/pkarsten/clavis/internal/config"
	"github.com/pkarsten/clavis/internal/db"
	"github.com/pkarsten/clavis/internal/kiosk"
	"github.com/pkarsten/clavis/internal/reader"
)

func main() {
	historyN := flag.Int("history", 0, "print the last N ledger entries and exit")
	roster := flag.Bool("roster", false, "print all registered tags and exit")
	seedDemo := flag.Bool("seed-demo", false, "seed demo tags before starting (dev env only)")
	flag.Parse()

	// Local overrides; absence is fine.
	_ = godotenv.Load(".env.local")

	cfg := config.FromEnv()
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath})
	if err != nil {
		logger.WithError(err).Fatal("open database")
	}
	defer conn.Close()

	writer := db.NewWriter(conn)
	defer writer.Close()

	tags := sqlitestore.NewTagStore(conn, writer)
	labels := sqlitestore.NewLabelStore(conn, writer)
	ledger := sqlitestore.NewLedgerStore(conn, writer)

	cipher, err := crypto.Load(cfg.KeyPath)
	if err != nil {
		logger.WithError(err).Fatal("load label key")
	}

	dir := service.NewTagDirectory(tags, labels, ledger)
	reporter := service.NewReporter(tags, ledger, cipher)

	// Report flags print and exit; they share the kiosk's database.
	if *roster {
		if err := printRoster(ctx, reporter); err != nil {
			logger.WithError(err).Fatal("roster")
		}
		return
	}
	if *historyN > 0 {
		if err := printHistory(ctx, reporter, *historyN); err != nil {
			logger.WithError(err).Fatal("history")
		}
		return
	}

	if *seedDemo {
		if cfg.Env != "dev" {
			logger.Fatal("-seed-demo only runs with CLAVIS_ENV=dev")
		}
		seeded, err := service.SeedDemo(ctx, dir, cipher)
		if err != nil {
			logger.WithError(err).Fatal("seed demo tags")
		}
		for _, d := range seeded {
			logger.WithFields(logrus.Fields{
				"uid":        d.UID,
				"role":       d.Role.String(),
				"label":      d.Label,
				"credential": d.CredentialID,
			}).Info("seeded demo tag")
		}
	}

	// No hardware in this build: taps come from the console simulator.
	// The kiosk prompts and the simulator share one stdin reader so no
	// buffered input is lost between them.
	in := bufio.NewReader(os.Stdin)
	rdr := reader.NewConsole(in, os.Stdout)

	engine := service.NewEngine(dir, service.EngineConfig{
		CheckoutWindow: cfg.CheckoutWindow,
		CheckinMinAge:  cfg.CheckinMinAge,
	})
	registrar := service.NewRegistrar(dir, cipher, rdr, service.RegistrarConfig{
		WriteAttempts: cfg.WriteAttempts,
		WriteBackoff:  cfg.WriteBackoff,
	}, logger)

	k := kiosk.New(kiosk.Dependencies{
		Logger:    logger,
		Reader:    rdr,
		Engine:    engine,
		Registrar: registrar,
		Directory: dir,
		In:        in,
		Out:       os.Stdout,
		Debounce:  cfg.Debounce,
	})

	logger.WithFields(logrus.Fields{"env": cfg.Env, "db": cfg.DBPath}).Info("kiosk ready")

	errCh := make(chan error, 1)
	go func() { errCh <- k.Run(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Fatal("kiosk stopped")
		}
	case <-ctx.Done():
		// A blocked read has no cancellation primitive; it is abandoned
		// with the process. Queued writes drain via the deferred Close.
	}
}

func newLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()
	if cfg.LogJSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	lvl, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

func printHistory(ctx context.Context, reporter *service.Reporter, limit int) error {
	entries, err := reporter.History(ctx, store.HistoryFilter{Limit: limit})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tLABEL\tEMPLOYEE\tCHECKED OUT\tCHECKED IN")
	for _, e := range entries {
		checkedIn := "-"
		if e.CheckedInAt != nil {
			checkedIn = e.CheckedInAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			e.KeyUID, e.KeyLabel, e.EmployeeName,
			e.CheckedOutAt.Local().Format(time.DateTime), checkedIn)
	}
	return w.Flush()
}

func printRoster(ctx context.Context, reporter *service.Reporter) error {
	entries, err := reporter.Roster(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "UID\tROLE\tACTIVE\tLABEL\tREGISTERED")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%t\t%s\t%s\n",
			e.UID, e.Role, e.Active, e.Label,
			e.RegisteredAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}
