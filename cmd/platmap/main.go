package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/paulmach/orb"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-map/internal/mapview"
	"github.com/joeblew999/plat-map/internal/server"
)

// Options defines all CLI flags and env vars for the map server.
// Flags: --host, --port, --config, --data-dir, --web-dir, --log-level, --deep-link
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_CONFIG, ...
type Options struct {
	Host     string `doc:"Host to bind to" default:"0.0.0.0"`
	Port     int    `doc:"Port to listen on" short:"p" default:"8086"`
	Config   string `doc:"Path to the layers YAML file" short:"c" default:"layers.yaml"`
	DataDir  string `doc:"Directory for the DuckDB database" default:".data"`
	WebDir   string `doc:"Path to web/ directory" default:""`
	LogLevel string `doc:"Log level (debug, info, warn, error)" default:"info"`
	DeepLink string `doc:"Page state JSON with lat/lng to open on startup"`
}

func newServer(ctx context.Context, opts *Options, logOutput io.Writer, routesOnly bool) (*server.Server, error) {
	return server.New(ctx, server.Config{
		Host:       opts.Host,
		Port:       fmt.Sprintf("%d", opts.Port),
		ConfigPath: opts.Config,
		DataDir:    opts.DataDir,
		WebDir:     opts.WebDir,
		LogLevel:   opts.LogLevel,
		DeepLink:   opts.DeepLink,
		RoutesOnly: routesOnly,
		LogOutput:  logOutput,
	})
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// serve runs the HTTP server until SIGINT or SIGTERM.
func serve(opts *Options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := newServer(ctx, opts, nil, false)
	if err != nil {
		return fmt.Errorf("startup error: %w", err)
	}
	defer srv.Close()

	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	displayHost := opts.Host
	if displayHost == "0.0.0.0" {
		displayHost = "localhost"
	}
	baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

	fmt.Println()
	fmt.Printf("plat-map API server starting...\n")
	fmt.Printf("  Server:  %s\n", baseURL)
	fmt.Printf("  Config:  %s\n", opts.Config)
	fmt.Println()
	fmt.Printf("  Map:     %s/api/v1/map\n", baseURL)
	fmt.Printf("  Events:  %s/api/v1/map/events\n", baseURL)
	fmt.Printf("  Docs:    %s/docs\n", baseURL)
	fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
	fmt.Printf("  Metrics: %s/metrics\n", baseURL)
	fmt.Println()

	httpServer := &http.Server{Addr: addr, Handler: srv}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// exportSpec writes the OpenAPI document without starting the map view.
func exportSpec(ctx context.Context, opts *Options, useYAML bool) error {
	srv, err := newServer(ctx, opts, io.Discard, true)
	if err != nil {
		return fmt.Errorf("startup error: %w", err)
	}
	defer srv.Close()

	var output []byte
	if useYAML {
		output, err = yaml.Marshal(srv.OpenAPI())
	} else {
		output, err = json.MarshalIndent(srv.OpenAPI(), "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshaling spec: %w", err)
	}
	fmt.Println(string(output))
	return nil
}

// printPopup opens the popup at the deep link, or the starting center, and
// prints its content.
func printPopup(ctx context.Context, opts *Options) error {
	var at *orb.Point
	if opts.DeepLink != "" {
		p, ok := mapview.ParseDeepLink(opts.DeepLink)
		if !ok {
			return fmt.Errorf("invalid deep link: %s", opts.DeepLink)
		}
		at = &p
	}
	// Opened below rather than by the map view.
	opts.DeepLink = ""

	srv, err := newServer(ctx, opts, os.Stderr, false)
	if err != nil {
		return fmt.Errorf("startup error: %w", err)
	}
	defer srv.Close()

	if at == nil {
		c := srv.Services().Surface.Center()
		at = &c
	}
	popup, ok := srv.OpenPopup(*at)
	if !ok {
		fmt.Fprintf(os.Stderr, "No features at %.6f,%.6f\n", at.Lat(), at.Lon())
		return nil
	}
	fmt.Println(popup.Content)
	return nil
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		hooks.OnStart(func() {
			if err := serve(opts); err != nil {
				fatal("%v", err)
			}
		})
	})

	cli.Root().Use = "platmap"
	cli.Root().Short = "Viewport-driven map layer synchronization and click aggregation"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			useYAML, _ := cmd.Flags().GetBool("yaml")
			if err := exportSpec(cmd.Context(), opts, useYAML); err != nil {
				fatal("%v", err)
			}
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// popup subcommand: one headless sync + click against the configured sources
	popupCmd := &cobra.Command{
		Use:   "popup",
		Short: "Open the popup for a location (--deep-link, or the starting center) and print it",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			if err := printPopup(cmd.Context(), opts); err != nil {
				fatal("%v", err)
			}
		}),
	}
	cli.Root().AddCommand(popupCmd)

	cli.Run()
}
