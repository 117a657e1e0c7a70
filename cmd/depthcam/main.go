// Depthcam streams a front-facing depth sensor, journals capture sessions
// and serves a live preview over HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/ayusman/depthcam/internal/app"
	"github.com/ayusman/depthcam/internal/capture"
	"github.com/ayusman/depthcam/internal/config"
	"github.com/ayusman/depthcam/internal/logging"
	"github.com/ayusman/depthcam/internal/server"
	"github.com/ayusman/depthcam/internal/store"
	"github.com/ayusman/depthcam/internal/tray"
)

// Version information, set at build time via ldflags.
var version = "dev"

type options struct {
	configPath string
	list       bool
	simulate   bool
	tray       bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", os.Getenv("DEPTHCAM_CONFIG"), "path to the YAML configuration file")
	flag.BoolVar(&opts.list, "list", false, "print the available sensors as JSON and exit")
	flag.BoolVar(&opts.simulate, "sim", false, "use the simulated depth platform")
	flag.BoolVar(&opts.tray, "tray", false, "show a system tray menu")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cancel, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cancel context.CancelFunc, opts options) error {
	if opts.simulate {
		os.Setenv("DEPTHCAM_CAMERA_SIMULATE", "true")
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Logging, version)
	log.Info("starting depthcam", "version", version, "config", opts.configPath)

	st, err := store.New(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			log.Error("error closing store", "error", closeErr)
		}
	}()
	log.Info("store opened", "path", cfg.Store.Path)

	a, err := app.New(app.Options{Config: cfg, Store: st, Logger: log})
	if err != nil {
		return err
	}

	if opts.list {
		return listSensors(ctx, a)
	}

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("starting capture: %w", err)
	}
	defer a.Stop()

	webDir := cfg.Server.StaticDir
	if webDir == "" {
		webDir = findWebDir()
	}
	if webDir != "" {
		log.Info("serving static files", "dir", webDir)
	}

	srv := server.New(server.Config{
		StaticDir: webDir,
		Store:     st,
		Camera:    a,
		Preview:   a.Preview(),
		Events:    a.Events(),
		Rotation:  cfg.Camera.Rotation,
		MaxRange:  cfg.Server.PreviewMaxRange,
		Logger:    logging.Component(log, "http"),
	})

	if !opts.tray {
		return srv.ListenAndServe(ctx, cfg.Server.Addr)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(ctx, cfg.Server.Addr)
	}()
	runTray(ctx, cancel, a, previewURL(cfg.Server.Addr), log)
	cancel()
	return <-errCh
}

// runTray blocks on the tray menu until Quit is chosen or ctx ends.
func runTray(ctx context.Context, cancel context.CancelFunc, a *app.App, url string, log *slog.Logger) {
	t := tray.New(tray.Callbacks{
		Toggle: func(stream bool) {
			var err error
			if stream {
				err = a.OpenCamera(ctx)
			} else {
				err = a.CloseCamera()
			}
			if err != nil {
				log.Error("tray toggle failed", "stream", stream, "error", err)
			}
		},
		Preview: func() {
			if err := openBrowser(url); err != nil {
				log.Warn("could not open browser", "url", url, "error", err)
			}
		},
		Quit: cancel,
	})
	a.Subscribe(func(tr capture.Transition) { t.SetState(tr.To) })

	go func() {
		<-ctx.Done()
		t.Quit()
	}()
	t.Run()
}

func listSensors(ctx context.Context, a *app.App) error {
	sensors, err := a.Sensors(ctx)
	if err != nil {
		return fmt.Errorf("scanning sensors: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(sensors)
}

func previewURL(addr string) string {
	host := addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	return "http://" + host + "/"
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.depthcam/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, ".depthcam", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}
