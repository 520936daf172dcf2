package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	intrnl "roomchat/internal"
	"roomchat/internal/app"
)

var rootCmd = &cobra.Command{
	Use:          "roomchatd",
	Short:        "Room-scoped group messaging server over websockets",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	flags := rootCmd.Flags()
	flags.String("addr", ":8080", "server listen address")
	flags.String("ws-path", "/ws", "websocket endpoint path")
	flags.String("db", "", "sqlite database path (defaults to a per-user path)")
	flags.String("upload-dir", "", "directory for reassembled uploads")
	flags.Int64("max-file-size", 10*1024*1024, "maximum upload size in bytes")
	flags.Int("auth-limit", 5, "register/login attempts allowed per window")
	flags.Duration("auth-window", time.Minute, "auth rate-limit window")
	flags.Int("text-limit", 10, "text messages allowed per window")
	flags.Duration("text-window", time.Minute, "text rate-limit window")
	flags.Duration("sweep-interval", time.Minute, "presence/eviction sweep interval")
	flags.Duration("idle-threshold", 5*time.Minute, "inactivity before a session is marked idle")
	flags.Duration("upload-ttl", 5*time.Minute, "inactivity before an upload is discarded")

	viper.SetEnvPrefix("ROOMCHAT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(flags); err != nil {
		log.Fatalf("bind flags: %v", err)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg := app.ServerConfig{
		Addr:          viper.GetString("addr"),
		WSPath:        viper.GetString("ws-path"),
		DBPath:        viper.GetString("db"),
		UploadDir:     viper.GetString("upload-dir"),
		MaxFileSize:   viper.GetInt64("max-file-size"),
		AuthLimit:     viper.GetInt("auth-limit"),
		AuthWindow:    viper.GetDuration("auth-window"),
		TextLimit:     viper.GetInt("text-limit"),
		TextWindow:    viper.GetDuration("text-window"),
		SweepInterval: viper.GetDuration("sweep-interval"),
		IdleThreshold: viper.GetDuration("idle-threshold"),
		UploadTTL:     viper.GetDuration("upload-ttl"),
	}
	if cfg.DBPath == "" {
		cfg.DBPath = app.DefaultDBPath()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := app.RunServer(ctx, cfg)
	if err != nil {
		return err
	}
	log.Printf("roomchat v%s listening on %s%s", intrnl.Version, handle.Addr(), app.NormalizeWSPath(cfg.WSPath))
	return handle.Wait()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
