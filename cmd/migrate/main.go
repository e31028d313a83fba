package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"edupanel.org/internal/migrate"
	"edupanel.org/internal/obs"
	"edupanel.org/ops/migrations"
)

func main() {
	var (
		dsn            = flag.String("dsn", os.Getenv("EDUPANEL_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "", "Directory of SQL migrations (embedded set when empty)")
		seedsPath      = flag.String("seeds", "", "Directory of SQL seeds (embedded set when empty)")
		historyTable   = flag.String("table", "", "Bookkeeping table name")
		timeout        = flag.Duration("timeout", 2*time.Minute, "Overall timeout")
	)
	flag.Parse()
	obs.Configure(os.Stderr, os.Getenv("EDUPANEL_LOG_LEVEL"))
	log := obs.Logger()

	if *dsn == "" {
		log.Fatal().Msg("missing DSN: provide via -dsn or EDUPANEL_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal().Msg("usage: migrate [up|down|seed|status|pending]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	var opts []migrate.Option
	if *historyTable != "" {
		opts = append(opts, migrate.WithHistoryTable(*historyTable))
	}
	mgr := migrate.NewManager(db, source(*migrationsPath, migrations.SQL()), source(*seedsPath, migrations.Seeds()), opts...)

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		var ran []string
		ran, err = mgr.Up(ctx)
		printNames("applied", ran)
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if errors.Is(err, migrate.ErrNothingToRollback) {
			fmt.Println("nothing to roll back")
			err = nil
		} else if err == nil {
			fmt.Println("rolled back", name)
		}
	case "seed":
		var ran []string
		ran, err = mgr.Seed(ctx)
		printNames("seeded", ran)
	case "status":
		var history []migrate.Record
		history, err = mgr.Status(ctx)
		for _, item := range history {
			fmt.Printf("%s\t%s\n", item.AppliedAt.UTC().Format(time.RFC3339), item.Name)
		}
	case "pending":
		var names []string
		names, err = mgr.Pending(ctx)
		printNames("pending", names)
	default:
		log.Fatal().Str("command", cmd).Msg("unknown command")
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", cmd).Msg("migrate failed")
	}
}

func source(dir string, embedded fs.FS) fs.FS {
	if dir == "" {
		return embedded
	}
	return os.DirFS(dir)
}

func printNames(verb string, names []string) {
	if len(names) == 0 {
		fmt.Printf("%s: none\n", verb)
		return
	}
	for _, n := range names {
		fmt.Printf("%s %s\n", verb, n)
	}
}
