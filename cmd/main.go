package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"screenlive/pkg/demuxer"
	"screenlive/pkg/server"
	"screenlive/pkg/sink/probe"
	"screenlive/pkg/sink/recorder"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	app := &cli.App{
		Name:  "screenlive",
		Usage: "Receive device screen streams and fan them out to decoders, recorders and relays.",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Accept device connections and serve the status API.",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "config",
						Usage: "directory containing config.yaml (default: <bin>/../config)",
					},
				},
				Action: func(c *cli.Context) error {
					return runServe(c.String("config"))
				},
			},
			{
				Name:  "record",
				Usage: "Dial the device sockets and record them until they close.",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "video", Usage: "video socket address", Required: true},
					&cli.StringFlag{Name: "audio", Usage: "audio socket address"},
					&cli.StringFlag{Name: "out", Usage: "output directory", Value: "."},
					&cli.StringFlag{Name: "format", Usage: "video container: ts, flv or raw", Value: "ts"},
				},
				Action: func(c *cli.Context) error {
					return runRecord(logger, c.String("video"), c.String("audio"), c.String("out"), c.String("format"))
				},
			},
			{
				Name:      "replay",
				Usage:     "Decode a raw dump and print its statistics.",
				ArgsUsage: "FILE",
				Action: func(c *cli.Context) error {
					if c.Args().Len() != 1 {
						return errors.New("usage: screenlive replay <file>")
					}
					return runReplay(logger, c.Args().First())
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error("screenlive", zap.Error(err))
		os.Exit(1)
	}
}

func runServe(configPath string) error {
	srv, err := newServer(configPath)
	if err != nil {
		return errors.Wrap(err, "create server instance")
	}

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		<-c

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			srv.Logger().Error("shutdown", zap.Error(err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != server.ErrServerClosed {
		return errors.Wrap(err, "server listen and serve")
	}

	return nil
}

func newServer(configPath string) (*server.Server, error) {
	if configPath == "" {
		return server.New()
	}
	return server.New(server.WithConfigPath(configPath))
}

func runRecord(logger *zap.Logger, video, audio, out, format string) error {
	if _, err := recorder.ParseFormat(format); err != nil {
		return err
	}

	srv, err := server.New(
		server.WithDefaultConfig(),
		server.WithLogger(logger),
		server.WithRecording(out, format),
	)
	if err != nil {
		return errors.Wrap(err, "create server instance")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	streams := map[string]string{"video": video}
	if audio != "" {
		streams["audio"] = audio
	}

	g, ctx := errgroup.WithContext(ctx)
	for name, addr := range streams {
		name, addr := name, addr
		g.Go(func() error {
			eos, err := srv.DialAndServe(ctx, addr, name)
			if err != nil {
				return err
			}
			if !eos {
				return errors.Errorf("%s stream ended with error", name)
			}
			return nil
		})
	}

	return g.Wait()
}

func runReplay(logger *zap.Logger, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open dump")
	}
	defer f.Close()

	p, err := probe.New(probe.WithProbeLogger(logger))
	if err != nil {
		return err
	}

	d, err := demuxer.New(
		demuxer.WithDemuxerName(path),
		demuxer.WithDemuxerConn(f),
		demuxer.WithDemuxerLogger(logger),
	)
	if err != nil {
		return errors.Wrap(err, "create demuxer")
	}
	if err := d.AddSink(p); err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}
	eos := d.Join()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]interface{}{
		"eos":     eos,
		"demuxer": d.Stats(),
		"probe":   p.Stats(),
	}); err != nil {
		return err
	}

	if !eos {
		return errors.New("stream ended with error")
	}
	return nil
}
