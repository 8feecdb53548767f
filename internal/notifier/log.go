package notifier

import (
	"context"

	logx "crawlchain/pkg/logx"
)

// LogDriver writes the notification to the log instead of delivering it.
type LogDriver struct {
	ch  Channel
	log logx.Logger
}

func NewLogDriver(ch Channel, log logx.Logger) *LogDriver {
	return &LogDriver{ch: ch, log: log}
}

func (d *LogDriver) Name() string { return "log" }

func (d *LogDriver) Send(ctx context.Context, title, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.log.Warn(title, logx.String("channel", string(d.ch)), logx.String("body", body))
	return nil
}
