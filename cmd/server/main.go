// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// TranscodeSession - FFmpeg 转码会话管理工具

package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ZSC714725/transcodesession/internal/api"
	"github.com/ZSC714725/transcodesession/internal/config"
	"github.com/ZSC714725/transcodesession/internal/ffmpeg"
	"github.com/ZSC714725/transcodesession/internal/logger"
	"github.com/ZSC714725/transcodesession/internal/task"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	bind := flag.String("bind", "", "Bind address (overrides config)")
	ffmpegBin := flag.String("ffmpeg", "", "FFmpeg binary path (overrides config)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			logger.New("server", "info").Error("load config: %v", err)
			os.Exit(1)
		}
	}

	if *bind != "" {
		cfg.Server.Bind = *bind
	}
	if *ffmpegBin != "" {
		cfg.FFmpeg.Path = *ffmpegBin
	}

	log := logger.New("server", cfg.Log.Level)

	if err := run(cfg, log); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log logger.Logger) error {
	validatorIn, err := ffmpeg.NewValidator(cfg.FFmpeg.Input.Allow, cfg.FFmpeg.Input.Block)
	if err != nil {
		return err
	}
	validatorOut, err := ffmpeg.NewValidator(cfg.FFmpeg.Output.Allow, cfg.FFmpeg.Output.Block)
	if err != nil {
		return err
	}

	ff, err := ffmpeg.New(ffmpeg.Config{
		Binary:          cfg.FFmpeg.Path,
		MaxLogLines:     cfg.FFmpeg.LogLines,
		KillGrace:       cfg.FFmpeg.KillGrace(),
		ValidatorInput:  validatorIn,
		ValidatorOutput: validatorOut,
	})
	if err != nil {
		return err
	}

	store := task.NewStore(ff, logger.New("session", cfg.Log.Level))
	defer store.Close()

	handler := api.NewHandler(store, api.Defaults{
		Timeout:  cfg.FFmpeg.Timeout(),
		Priority: cfg.FFmpeg.Priority,
	})

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), cors.Default())
	handler.Routes(r.Group("/api/v3"))

	srv := &http.Server{Addr: cfg.Server.Bind, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.Info("TranscodeSession listening on %s using %s", cfg.Server.Bind, ff.Binary())
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
