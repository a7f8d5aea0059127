package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atvirokodosprendimai/curator/internal/adapters/db/sqldb"
	httpadapter "github.com/atvirokodosprendimai/curator/internal/adapters/http"
	rpcadapter "github.com/atvirokodosprendimai/curator/internal/adapters/rpcjson"
	"github.com/atvirokodosprendimai/curator/internal/application"
	"github.com/atvirokodosprendimai/curator/internal/config"
	"github.com/atvirokodosprendimai/curator/internal/logger"
	"github.com/atvirokodosprendimai/curator/internal/metrics"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func main() {
	args := os.Args
	if len(args) == 1 {
		args = append(args, "--help")
	}

	root := &cli.Command{
		Name:  "curator",
		Usage: "Versioned metadata curation server and CLI",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "act-as", Usage: "evaluate permissions as this user (super-users only)"},
		},
		Commands: []*cli.Command{
			serverCommand(),
			authCommand(),
			nodeCommand(),
			recordCommand(),
			permissionCommand(),
			groupCommand(),
			auditCommand(),
		},
	}

	if err := root.Run(context.Background(), args); err != nil {
		log.Fatal(err)
	}
}

func serverCommand() *cli.Command {
	return &cli.Command{
		Name:  "server",
		Usage: "Run HTTP and JSON-RPC servers",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "YAML config file"},
			&cli.StringFlag{Name: "addr", Usage: "HTTP listen address"},
			&cli.StringFlag{Name: "rpc-socket", Usage: "JSON-RPC unix socket path"},
			&cli.StringFlag{Name: "db-driver", Usage: "sqlite or postgres"},
			&cli.StringFlag{Name: "db-dsn", Usage: "database file or connection string"},
			&cli.StringFlag{Name: "log-mode", Usage: "dev or prod"},
			&cli.StringFlag{Name: "bootstrap-admin-email", Usage: "initial super-user email"},
			&cli.StringFlag{Name: "bootstrap-admin-password", Usage: "initial super-user password when users are empty"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			overrideString(c, "addr", &cfg.HTTPAddr)
			overrideString(c, "rpc-socket", &cfg.RPCSocket)
			overrideString(c, "db-driver", &cfg.Database.Driver)
			overrideString(c, "db-dsn", &cfg.Database.DSN)
			overrideString(c, "log-mode", &cfg.LogMode)
			overrideString(c, "bootstrap-admin-email", &cfg.BootstrapAdmin.Email)
			overrideString(c, "bootstrap-admin-password", &cfg.BootstrapAdmin.Password)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServer(ctx, cfg)
		},
	}
}

func overrideString(c *cli.Command, flag string, dst *string) {
	if c.IsSet(flag) {
		*dst = c.String(flag)
	}
}

func runServer(ctx context.Context, cfg config.Config) error {
	lg, err := logger.New(cfg.LogMode)
	if err != nil {
		return err
	}
	defer lg.Sync()

	db, err := sqldb.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	if err := sqldb.RunMigrations(ctx, db); err != nil {
		return err
	}

	repo := sqldb.NewCurationRepository(db)
	service := application.NewCurationService(repo, application.WithLogger(lg))
	if err := service.BootstrapAdmin(ctx, cfg.BootstrapAdmin.Email, cfg.BootstrapAdmin.Password); err != nil {
		return err
	}

	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		metricsHandler = metrics.Handler()
	}
	router := httpadapter.NewRouter(service, lg, metricsHandler)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	rpcSrv, err := rpcadapter.Start(cfg.RPCSocket, service, lg)
	if err != nil {
		return err
	}
	lg.Info("json-rpc listening", "socket", cfg.RPCSocket)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		lg.Info("server listening", "addr", srv.Addr, "db_driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		lg.Info("shutting down")
		_ = rpcSrv.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func jsonMarshal(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}
