package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/kalambet/kbchat/internal/api"
	"github.com/kalambet/kbchat/internal/tui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Build the index and serve the HTTP API (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Build the index and chat in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		serve, _ := cmd.Flags().GetBool("serve")
		return runChat(serve)
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
	chatCmd.Flags().Bool("serve", false, "also serve the HTTP API in the background")
}

// httpServer is a running HTTP listener.
type httpServer struct {
	srv   *http.Server
	errCh chan error
}

// startHTTP listens on the configured loopback port, capped at
// server.max_conns concurrent connections.
func startHTTP(ctx context.Context, a *app) (*httpServer, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", a.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	if a.cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, a.cfg.Server.MaxConns)
	}

	h := &httpServer{
		srv: &http.Server{
			Addr: addr,
			Handler: api.NewHandler(api.Deps{
				Index:    a.cache,
				Sessions: a.sessions,
				Metrics:  a.metrics,
				Token:    a.cfg.API.Token,
			}),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext: func(net.Listener) context.Context {
				return ctx
			},
		},
		errCh: make(chan error, 1),
	}

	go func() {
		slog.Info("listening", "addr", addr, "max_conns", a.cfg.Server.MaxConns)
		if err := h.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.errCh <- err
		}
		close(h.errCh)
	}()
	return h, nil
}

// Shutdown stops the server gracefully with a timeout.
func (h *httpServer) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.srv.Shutdown(ctx)
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "kbchat version %s\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			printWarning("closing resources: %v", err)
		}
	}()

	srv, err := startHTTP(ctx, a)
	if err != nil {
		return err
	}

	// The index is built once in the background; /health reports progress and
	// a failed build stops the server.
	buildErr := make(chan error, 1)
	go func() {
		idx, err := a.cache.Get(ctx)
		if err != nil {
			buildErr <- err
			return
		}
		st := idx.Stats()
		slog.Info("index ready", "documents", st.Documents, "chunks", st.Chunks, "duration", st.Duration)
	}()

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Index:    a.cache,
			Sessions: a.sessions,
			Version:  version,
		})
		stdio := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	var runErr error
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-srv.errCh:
		if err != nil {
			runErr = fmt.Errorf("server error: %w", err)
		}
	case err := <-buildErr:
		runErr = fmt.Errorf("building index: %w", err)
	}

	if err := srv.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func runChat(serve bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// The TUI owns the terminal, so logs go to a file in the data directory.
	logFile, err := openLogFile(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	defer logFile.Close()
	setupLogging(logFile, cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	printStep("Building index from %s", a.pipeline.Source().Name())
	idx, err := a.cache.Get(ctx)
	if err != nil {
		return fmt.Errorf("building index: %w", err)
	}
	st := idx.Stats()
	printSuccess("Indexed %d documents (%d chunks) in %s", st.Documents, st.Chunks, st.Duration.Round(time.Millisecond))

	if serve {
		srv, err := startHTTP(ctx, a)
		if err != nil {
			return err
		}
		defer srv.Shutdown()
		printStep("Serving HTTP on 127.0.0.1:%d", cfg.Server.Port)
	}

	sess := a.sessions.Create("tui")
	return tui.Run(ctx, sess, "kbchat: "+a.pipeline.Source().Name())
}
