// Command ldap-crud serves insert, save, find and delete requests for
// metadata-described entities stored in an LDAP directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/hashicorp/terraform-plugin-log/tfsdklog"

	"github.com/isometry/ldap-crud/internal/config"
	"github.com/isometry/ldap-crud/internal/crud"
	"github.com/isometry/ldap-crud/internal/ldap"
	"github.com/isometry/ldap-crud/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "", "path to the configuration file (default: ldap-crud.yaml in ., ./config, /etc/ldap-crud)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx = tfsdklog.NewRootProviderLogger(ctx,
		tfsdklog.WithLogName("ldap-crud"),
		tfsdklog.WithLevelFromEnv("LDAPCRUD_LOG"),
	)
	ctx = ldap.NewLoggingContext(ctx)

	if err := run(ctx, configFile); err != nil {
		tflog.Error(ctx, "ldap-crud failed", map[string]any{"error": err.Error()})
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configFile string) error {
	cfg, err := config.Load(ctx, configFile)
	if err != nil {
		return err
	}

	metadataDir := "."
	if configFile != "" {
		metadataDir = filepath.Dir(configFile)
	}
	registry, err := cfg.LoadRegistry(ctx, metadataDir)
	if err != nil {
		return fmt.Errorf("failed to load entity metadata: %w", err)
	}

	if err := cfg.DiscoverServers(ctx, ldap.NewSRVDiscovery(ctx)); err != nil {
		return err
	}

	client, err := ldap.NewClient(ctx, cfg.ConnectionConfig())
	if err != nil {
		return fmt.Errorf("failed to create LDAP client: %w", err)
	}
	defer client.Close()

	controller, err := crud.NewController(ctx, client, registry, cfg.ControllerOptions())
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}

	gin.SetMode(cfg.Server.Mode)
	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           server.New(ctx, controller, client),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		tflog.Info(ctx, "Listening", map[string]any{
			"address":  cfg.Server.Listen,
			"entities": controller.Entities(),
		})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	tflog.Info(ctx, "Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
