package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/faucetdb/kevd/internal/server"
	"github.com/faucetdb/kevd/internal/service"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the kevd API server",
		Long: `Connect to the database, load the KEV catalog and serve the HTTP API until
interrupted. The catalog is loaded at startup unless refresh.on_startup is false,
and reloaded every refresh.interval when that is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(ctx context.Context) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	loader, err := a.loader()
	if err != nil {
		return err
	}

	// A failed initial load is not fatal: the catalog endpoints answer 404
	// until a later refresh succeeds.
	if a.cfg.Refresh.OnStartup {
		if n, err := loader.Refresh(ctx); err != nil {
			a.logger.Error("initial catalog refresh failed", "error", err)
		} else {
			a.logger.Info("initial catalog refresh complete", "records", n)
		}
	}

	cfg := a.cfg.Server
	srv := server.New(server.Config{
		Host:                  cfg.Host,
		Port:                  cfg.Port,
		ShutdownTimeout:       cfg.ShutdownTimeout,
		RequestTimeout:        cfg.RequestTimeout,
		CORSOrigins:           cfg.CORSOrigins,
		MaxBodySize:           cfg.MaxBodySize,
		RequireKeyForIssuance: a.cfg.Auth.RequireKeyForIssuance,
		RefreshInterval:       a.cfg.Refresh.Interval,
		Version:               versionString(),
	}, server.Deps{
		Store:   a.store,
		Auth:    service.NewAuthService(a.store),
		Catalog: a.catalog(),
		Loader:  loader,
	}, a.logger)

	fmt.Printf("→ kevd %s\n", versionString())
	fmt.Printf("→ Listening on http://%s\n", cfg.Addr())
	fmt.Printf("→ OpenAPI:    http://%s/openapi.json\n", cfg.Addr())
	fmt.Printf("→ Health:     http://%s/healthz\n", cfg.Addr())
	fmt.Println()

	return srv.ListenAndServe(ctx)
}
