// Package main runs a range mapper: it sweeps the ultrasonic sensors, builds a point cloud of
// what it sees and streams telemetry to connected clients.
package main

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/hexapod/rangemapper/config"
	"github.com/hexapod/rangemapper/logging"
	"github.com/hexapod/rangemapper/pointcloud"
)

var logger = logging.NewLogger("rangemapper")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	ConfigFile string `flag:"config,usage=mapper config file; defaults are used when empty"`
	Fake       bool   `flag:"fake,usage=use simulated sensors and servos instead of GPIO"`
	PCD        string `flag:"pcd,usage=write the map to this PCD file on exit"`
	PCDBinary  bool   `flag:"pcd-binary,usage=write the PCD file in binary rather than ascii"`
	LogFile    string `flag:"log-file,usage=also write logs to this file, rotated as it grows"`
	Debug      bool   `flag:"debug"`
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) (err error) {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.Debug {
		logger.SetLevel(logging.DEBUG)
	}
	if argsParsed.LogFile != "" {
		fileAppender := logging.NewFileAppender(argsParsed.LogFile)
		logger.AddAppender(fileAppender)
		defer func() {
			err = multierr.Combine(err, fileAppender.Close())
		}()
	}

	cfg, err := config.Read(argsParsed.ConfigFile, logger)
	if err != nil {
		return err
	}
	if len(cfg.Log) > 0 {
		if err := logging.UpdateLevels(logger, cfg.Log); err != nil {
			return err
		}
	}
	if argsParsed.ConfigFile != "" {
		watcher, watchErr := config.NewWatcher(argsParsed.ConfigFile, config.DefaultReloadDelay,
			logger.Sublogger("config"))
		if watchErr != nil {
			return watchErr
		}
		stopWatching := watchLogLevels(ctx, watcher, logger)
		defer func() {
			err = multierr.Combine(err, stopWatching())
		}()
	}

	hw, err := newHardware(ctx, cfg, argsParsed.Fake, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, hw.Close(context.Background()))
	}()

	m, err := newMapper(cfg, hw, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, m.Close(context.Background()))
	}()

	if err := m.Start(); err != nil {
		return err
	}
	utils.ContextMainReadyFunc(ctx)()

	if err := m.Run(ctx); err != nil {
		return err
	}

	bounds := m.Bounds()
	logger.Infow("map bounds", "points", m.driver.Cloud().Len(),
		"lo", bounds.Lo(), "hi", bounds.Hi(), "pose", m.driver.Pose())
	if argsParsed.PCD != "" {
		return writePCD(m.driver.Cloud(), argsParsed.PCD, argsParsed.PCDBinary)
	}
	return nil
}

// watchLogLevels applies the log section of every new config version. Everything else in the
// file only takes effect on restart.
func watchLogLevels(ctx context.Context, watcher *config.Watcher, logger logging.Logger) func() error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	utils.ManagedGo(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case cfg := <-watcher.Configs():
				if err := logging.UpdateLevels(logger, cfg.Log); err != nil {
					logger.Warnw("cannot apply log levels", "error", err)
					continue
				}
				logger.Infow("log levels updated; other changes apply on restart", "patterns", len(cfg.Log))
			}
		}
	}, func() { close(done) })
	return func() error {
		cancel()
		<-done
		return watcher.Close()
	}
}

func writePCD(cloud *pointcloud.Cloud, path string, binary bool) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "cannot create %q", path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	pcdType := pointcloud.PCDAscii
	if binary {
		pcdType = pointcloud.PCDBinary
	}
	logger.Infow("writing map", "path", path, "points", cloud.Len())
	return pointcloud.ToPCD(cloud, f, pcdType)
}
