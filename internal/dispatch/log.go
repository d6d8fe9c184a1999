package dispatch

import (
	"context"

	logx "beatd/pkg/logx"
)

// logDispatcher accepts every request and writes it to the log. It keeps
// development runs useful without a runtime gateway to talk to.
type logDispatcher struct {
	log logx.Logger
}

func newLogDispatcher(log logx.Logger) *logDispatcher {
	return &logDispatcher{log: log}
}

func (d *logDispatcher) Dispatch(ctx context.Context, r Request) error {
	_ = ctx
	d.log.Info("dispatch accepted",
		logx.String("request_id", r.ID),
		logx.String("task", r.Task),
		logx.String("entry", r.EntryName),
	)
	return nil
}
