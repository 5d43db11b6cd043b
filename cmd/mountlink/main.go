package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mountlink/mountlink/daemon"
	"github.com/mountlink/mountlink/logging"
)

var rootCmd = &cobra.Command{
	Use:   "mountlink",
	Short: "Symlink download daemon for remote-mounted content",
	Long: `mountlink serves downloads whose content already lives on a remote
mount (rclone, WebDAV, fuse). Instead of transferring bytes it waits for the
target to appear under the mount root and links the destination to it.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.String("mount-root", "/mnt/remote", "local path of the remote mount")
	flags.String("dest-root", "/data/downloads", "directory relative destinations link into")
	flags.String("db", "mountlink.db", "sqlite database path")
	flags.String("listen", ":8080", "HTTP listen address")
	flags.String("log-dir", "logs", "directory for rotated log files")
	flags.Int("max-retries", 0, "poll attempts before giving up (0 = default)")
	flags.Duration("retry-delay", 0, "linear backoff unit between polls (0 = 1s)")
	flags.Int("concurrency", 2, "downloads resolving at once")
	flags.Duration("resolve-ttl", 30*time.Minute, "how long resolved mount paths are cached")

	viper.BindPFlags(flags) //nolint:errcheck
	viper.SetEnvPrefix("MOUNTLINK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func run() error {
	logging.Init(viper.GetString("log-dir"))
	l := logging.Sub("main")

	db, err := daemon.OpenDB(viper.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	store := daemon.NewStore(db)
	d := daemon.NewDaemon(store, daemon.Config{
		MountRoot:   viper.GetString("mount-root"),
		DestRoot:    viper.GetString("dest-root"),
		MaxRetries:  viper.GetInt("max-retries"),
		RetryDelay:  viper.GetDuration("retry-delay"),
		Concurrency: viper.GetInt("concurrency"),
		ResolveTTL:  viper.GetDuration("resolve-ttl"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go d.Run(ctx)

	router := mux.NewRouter()
	daemon.NewHandlers(store, d).Register(router)

	srv := &http.Server{
		Addr:              viper.GetString("listen"),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	l.Info("http server starting", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	l.Info("shutdown complete")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
