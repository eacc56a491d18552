package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/siarheistar/psc-accounting-app-sub002/internal/migrate"
	"github.com/siarheistar/psc-accounting-app-sub002/internal/obs"
)

func main() {
	var (
		dsn            = flag.String("dsn", os.Getenv("PSC_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "", "Directory of SQL migrations (default: embedded)")
		seedsPath      = flag.String("seeds", "", "Directory of SQL seeds (default: embedded)")
	)
	flag.Parse()
	logger := obs.Logger()

	if *dsn == "" {
		logger.Fatal("missing DSN: provide via -dsn or PSC_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		logger.Fatal("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	var opts []migrate.Option
	if *migrationsPath != "" || *seedsPath != "" {
		opts = append(opts, migrate.WithSource(os.DirFS("/"), fsPath(*migrationsPath), fsPath(*seedsPath)))
	}
	mgr := migrate.NewManager(db, opts...)

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		logger.Fatal("unknown command", zap.String("command", cmd))
	}
	if err != nil {
		logger.Fatal("migrate failed", zap.String("command", cmd), zap.Error(err))
	}
	logger.Info("migrate done", zap.String("command", cmd))
}

// fsPath turns a command-line directory into a path inside os.DirFS("/").
func fsPath(dir string) string {
	if dir == "" {
		return ""
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dir
	}
	return strings.TrimPrefix(filepath.ToSlash(abs), "/")
}
