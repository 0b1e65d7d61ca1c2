package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fluent.town/config"
	"fluent.town/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the practice page over HTTP",
	Long:  `Serve a browser page that controls recording and shows the live transcript.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			log.Fatal("Configuration incomplete", "error", err)
		}

		hub := web.NewHub(logger)
		sess := newSession(cfg, newMicrophone(cfg, viper.GetString("input"), logger), logger, hub.Callbacks())
		defer sess.Close()

		server := web.NewServer(sess, newEvaluator(cfg, logger), hub, logger)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		addr := fmt.Sprintf(":%d", viper.GetInt(config.KeyHTTPPort))
		if err := web.Serve(ctx, addr, server); err != nil {
			log.Error("Server stopped", "error", err)
		}
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8081, "Port to run the HTTP server on")
	viper.BindPFlag(config.KeyHTTPPort, serveCmd.Flags().Lookup("port"))
}
