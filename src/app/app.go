package app

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/WowVeryLogin/vkprism/src/config"
	"github.com/WowVeryLogin/vkprism/src/runtime/device"
)

// Run opens the device, renders one frame and writes it to the configured
// output. It must run on a locked OS thread.
func Run(ctx context.Context, cfg *config.Config, log *zap.Logger) (err error) {
	dev, err := device.New(device.Options{
		AppName:    "vkprism",
		Validation: cfg.Device.Validation,
		Index:      cfg.Device.Index,
	}, log)
	if err != nil {
		return err
	}
	defer dev.Close()

	session, err := NewSession(ctx, cfg, dev, log)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, session.Close())
	}()

	img, err := session.Render(ctx)
	if err != nil {
		return err
	}
	if err := WriteImage(img, cfg.Render.Output, cfg.Render.Format); err != nil {
		return err
	}

	log.Info("image written",
		zap.String("path", cfg.Render.Output),
		zap.String("format", cfg.Render.Format),
		zap.String("device", dev.Name()),
	)
	return nil
}
