package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"wallet_session/internal/domain/entity"
	"wallet_session/internal/infrastructure/configloader"
	"wallet_session/internal/infrastructure/restapi"
	"wallet_session/internal/infrastructure/transport/relay"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "walletsession",
	Short: "Wallet session and contract record service for the BlockDAG dashboard",
	Long: `walletsession connects a wallet (injected, dedicated or remote via QR pairing),
keeps it on the target network and reads contract records for the dashboard.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $WALLETSESSION_CONFIG or "+configloader.DefaultPath+")")

	connectCmd.Flags().StringP("transport", "t", "injected", "transport kind: injected, dedicated or remote")
	connectCmd.Flags().Bool("watch", false, "keep running and print session events")

	rootCmd.AddCommand(serveCmd, connectCmd, networksCmd, recordsCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := buildApplication(configPath, nil)
		if err != nil {
			return err
		}
		defer app.Close()

		if app.cfg.Logging.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		metricsPath := ""
		if app.cfg.Metrics.Enabled {
			metricsPath = app.cfg.Metrics.Path
		}
		sessionHandler := restapi.NewSessionHandler(app.session, app.board, app.logger)
		router := restapi.SetupRouter(
			sessionHandler,
			restapi.NewCatalogHandler(app.networks, app.records, configloader.NewProvider(app.cfg)),
			restapi.RouterOptions{
				AllowedOrigins: app.cfg.Server.AllowedOrigins,
				MetricsPath:    metricsPath,
				EnablePprof:    app.cfg.Server.EnablePprof,
			},
			app.logger,
		)

		// WriteTimeout не задаем: /session/events держит соединение открытым.
		srv := &http.Server{
			Addr:        ":" + app.cfg.Server.Port,
			Handler:     router,
			ReadTimeout: time.Duration(app.cfg.Server.ReadTimeoutSeconds) * time.Second,
			IdleTimeout: time.Duration(app.cfg.Server.IdleTimeoutSeconds) * time.Second,
		}
		srv.RegisterOnShutdown(sessionHandler.Shutdown)

		serveErr := make(chan error, 1)
		go func() {
			app.zap.Info("Server starting", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
			close(serveErr)
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-quit:
			app.zap.Info("Shutting down server...", zap.String("signal", sig.String()))
		case err := <-serveErr:
			if err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
		}

		// Сначала отключаем кошелек, чтобы SSE-подписчики получили финальное событие.
		app.session.Disconnect()
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(app.cfg.Server.ShutdownGraceSeconds)*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		app.zap.Info("Server exiting")
		return nil
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect a wallet from the terminal and print the session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rawKind, _ := cmd.Flags().GetString("transport")
		watch, _ := cmd.Flags().GetBool("watch")
		kind, err := entity.ParseTransportKind(rawKind)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		app, err := buildApplication(configPath, func(p relay.Pairing) {
			qr, err := p.QRCodeTerminal()
			if err != nil {
				fmt.Fprintf(out, "Pairing URI: %s\n", p.URI)
				return
			}
			fmt.Fprintf(out, "Scan with your wallet:\n%s\n%s\n", qr, p.URI)
		})
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		conn, err := app.session.Connect(ctx, kind)
		if err != nil {
			return err
		}
		if err := printJSON(out, conn); err != nil {
			return err
		}
		if !watch {
			return nil
		}

		events := make(chan entity.SessionEvent, 16)
		sub := app.session.Subscribe(events)
		defer sub.Unsubscribe()
		for {
			select {
			case ev := <-events:
				if err := printJSON(out, ev); err != nil {
					return err
				}
			case err := <-sub.Err():
				return err
			case <-ctx.Done():
				return nil
			}
		}
	},
}

var networksCmd = &cobra.Command{
	Use:   "networks",
	Short: "List known networks",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := buildApplication(configPath, nil)
		if err != nil {
			return err
		}
		defer app.Close()

		target := app.networks.Target().Identifier
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "IDENTIFIER\tCHAIN\tNAME\tRPC\t")
		for _, n := range app.networks.All() {
			marker := ""
			if n.Identifier == target {
				marker = "*"
			}
			rpc := ""
			if len(n.RPCURLs) > 0 {
				rpc = n.RPCURLs[0]
			}
			fmt.Fprintf(w, "%s%s\t%s\t%s\t%s\t\n", n.Identifier, marker, n.ChainIDHex, n.DisplayName, rpc)
		}
		return w.Flush()
	},
}

var recordsCmd = &cobra.Command{
	Use:   "records <contract> [id]",
	Short: "Read the records of a contract from the address book",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApplication(configPath, nil)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if len(args) == 2 {
			id, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid record id %q", args[1])
			}
			record, err := app.records.GetRecord(ctx, args[0], id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), record)
		}

		listing, err := app.records.ListRecords(ctx, args[0])
		if err != nil {
			return err
		}
		for _, f := range listing.Failures {
			fmt.Fprintf(cmd.ErrOrStderr(), "record %d skipped: %s: %s\n", f.ID, f.Kind, f.Message)
		}
		return printJSON(cmd.OutOrStdout(), listing)
	},
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
