// Package cmd is the command line front end. It resolves the
// configuration, builds the index and the servers, and supervises them
// until shutdown.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/rosschurchill/zeroconfdlna/conf"
	"github.com/rosschurchill/zeroconfdlna/consts"
	"github.com/rosschurchill/zeroconfdlna/core/index"
	"github.com/rosschurchill/zeroconfdlna/log"
	"github.com/rosschurchill/zeroconfdlna/server"
	"github.com/rosschurchill/zeroconfdlna/server/dlna"
)

// Exit codes surfaced to scripts and service managers.
const (
	exitInvalidConfig = 2
	exitPortInUse     = 3
	exitBadDirectory  = 4
)

var rootCmd = &cobra.Command{
	Use:     consts.AppName,
	Short:   "Zero configuration DLNA media server",
	Long:    "Serves a directory of media files to DLNA/UPnP renderers on the local network.\nNo accounts, no database, no setup: point it at a directory and press play on the TV.",
	Version: consts.Version,
	PreRun: func(_ *cobra.Command, _ []string) {
		if err := conf.Load(); err != nil {
			log.Error("Failed to load configuration", err)
			os.Exit(exitInvalidConfig)
		}
	},
	Run: func(cmd *cobra.Command, _ []string) {
		runServer(cmd.Context())
	},
}

// Execute runs the root command. It only returns after shutdown.
func Execute() {
	ctx, cancel := interruptContext(context.Background())
	defer cancel()
	rootCmd.SetVersionTemplate(`{{println .Version}}`)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runServer(ctx context.Context) {
	if err := conf.Validate(); err != nil {
		log.Error("Invalid configuration", err)
		switch {
		case errors.Is(err, conf.ErrInvalidDirectory):
			os.Exit(exitBadDirectory)
		default:
			os.Exit(exitInvalidConfig)
		}
	}

	idx, err := index.New(conf.Server.Directory)
	if err != nil {
		log.Error("Cannot index the served directory", "directory", conf.Server.Directory, err)
		os.Exit(exitBadDirectory)
	}
	defer idx.Close()

	// Claim the port before anything is advertised, so a taken port
	// fails fast instead of after SSDP announced a dead LOCATION.
	addr := fmt.Sprintf("%s:%d", conf.Server.Address, conf.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("Cannot listen for HTTP", "addr", addr, err)
		os.Exit(exitPortInUse)
	}

	dlnaRouter := dlna.New(idx)
	httpServer := server.New()
	httpServer.MountRouter("DLNA", "/", dlnaRouter.Routes())

	log.Info(ctx, "Serving media", "directory", conf.Server.Directory,
		"name", conf.Server.FriendlyName, "udn", dlnaRouter.UDN(),
		"version", consts.Version)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpServer.Run(gCtx, ln)
	})
	g.Go(func() error {
		if err := dlnaRouter.Start(gCtx); err != nil {
			return err
		}
		<-gCtx.Done()
		dlnaRouter.Stop()
		return nil
	})
	g.Go(func() error {
		idx.Watch(gCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("Server terminated abnormally", err)
		os.Exit(1)
	}
	log.Info("Bye")
}

// interruptContext cancels on the first SIGINT or SIGTERM and exits the
// process on the second, for when a drain hangs.
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sig:
			log.Info("Shutting down", "signal", s.String())
			cancel()
		case <-ctx.Done():
			return
		}
		s := <-sig
		log.Warn("Forced exit", "signal", s.String())
		os.Exit(1)
	}()
	return ctx, cancel
}

func init() {
	rootCmd.Flags().StringP("directory", "d", ".", "directory to serve")
	rootCmd.Flags().IntP("port", "p", consts.DefaultPort, "HTTP port to listen on")
	rootCmd.Flags().StringP("address", "b", "", "IP address to bind and advertise (default: auto-detect)")
	rootCmd.Flags().StringP("name", "n", "", "friendly name shown to clients")
	rootCmd.Flags().BoolP("verbose", "v", false, "enable debug logging")
	rootCmd.Flags().Bool("prometheus", false, "expose Prometheus metrics")

	_ = viper.BindPFlag("directory", rootCmd.Flags().Lookup("directory"))
	_ = viper.BindPFlag("port", rootCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("address", rootCmd.Flags().Lookup("address"))
	_ = viper.BindPFlag("friendlyname", rootCmd.Flags().Lookup("name"))
	_ = viper.BindPFlag("verbose", rootCmd.Flags().Lookup("verbose"))
	_ = viper.BindPFlag("prometheus.enabled", rootCmd.Flags().Lookup("prometheus"))
}
