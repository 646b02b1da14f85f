/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/allbin/busscan/internal/server"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the bus over HTTP",
	Long: `Serve scans and device configuration over HTTP.

Routes:
  GET  /health
  GET  /api/ports
  POST /api/scan
  GET  /api/scan/ws               scan with a progress frame per probe
  POST /api/devices/load-config
  POST /api/devices/set-config
  POST /api/devices/baud-rate

Requests are handled one at a time on the bus; later requests wait.

Example usage:
  busscan serve --port /dev/ttyRS485-1 --listen :8080`,
	Run: func(cmd *cobra.Command, args []string) {
		session, cfg, logger, err := openSession()
		if err != nil {
			fail("Error", err)
		}
		defer logger.Sync()
		defer session.Close()

		if cfg.Log.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := server.New(session, logger)
		if err := srv.Run(ctx, cfg.Server.Listen); err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
			fail("Error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("listen", "l", "", "Listen address (default: :8080)")
	bindLocalFlag(serveCmd, "server.listen", "listen")
}
