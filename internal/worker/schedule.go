// Package worker はバックグラウンドジョブの共通処理を提供する。
package worker

import (
	"context"
	"log/slog"
	"time"
)

// Job は定期実行されるジョブ。
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// RunEvery はintervalごとにjobを実行する。起動直後に1回実行し、
// コンテキストがキャンセルされるまで継続する。ジョブのエラーはログに記録して次回に進む。
func RunEvery(ctx context.Context, logger *slog.Logger, job Job, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("ジョブを開始しました",
		slog.String("job", job.Name()),
		slog.Duration("interval", interval),
	)

	runOnce(ctx, logger, job)
	for {
		select {
		case <-ctx.Done():
			logger.Info("ジョブを停止しました", slog.String("job", job.Name()))
			return
		case <-ticker.C:
			runOnce(ctx, logger, job)
		}
	}
}

func runOnce(ctx context.Context, logger *slog.Logger, job Job) {
	if err := job.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("ジョブの実行に失敗しました",
			slog.String("job", job.Name()),
			slog.String("error", err.Error()),
		)
	}
}
