// Package audit はフォロー関係の整合性監査ジョブを提供する。
// 全リレーションレコードを走査して片側にしか無い関係を報告する。修復は行わない。
// 走査は書き込みと並行して行われるため、検出した関係は一定時間後に読み直し、
// 残っているものだけを報告する。
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/followgraph/internal/metrics"
	"github.com/hitoshi/followgraph/internal/socialgraph"
)

// maxLoggedAsymmetries は1回の監査で個別にログ出力する件数の上限。
const maxLoggedAsymmetries = 100

// Store は監査が使うリレーションストア。
type Store interface {
	socialgraph.RelationScanner
	socialgraph.RelationReader
}

// Job は整合性監査ジョブ。
type Job struct {
	store        Store
	logger       *slog.Logger
	metrics      metrics.MetricsCollector
	recheckDelay time.Duration
}

// NewJob はJobを生成する。mcがnilの場合は何もしない実装を使う。
// recheckDelayは走査で検出した関係を読み直すまでの待ち時間。
func NewJob(store Store, logger *slog.Logger, mc metrics.MetricsCollector, recheckDelay time.Duration) *Job {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &Job{store: store, logger: logger, metrics: mc, recheckDelay: recheckDelay}
}

// Name はジョブ名を返す。
func (j *Job) Name() string { return "consistency_audit" }

// Run は監査を1回実行する。
func (j *Job) Run(ctx context.Context) error {
	_, err := j.RunOnce(ctx)
	return err
}

// RunOnce は監査を1回実行し、検出した非対称な関係を返す。
func (j *Job) RunOnce(ctx context.Context) ([]socialgraph.Asymmetry, error) {
	start := time.Now()

	found, err := socialgraph.FindAsymmetries(ctx, j.store)
	if err != nil {
		return nil, fmt.Errorf("整合性監査に失敗: %w", err)
	}
	if len(found) > 0 {
		if found, err = j.recheck(ctx, found); err != nil {
			return nil, fmt.Errorf("整合性監査に失敗: %w", err)
		}
	}

	duration := time.Since(start)
	j.metrics.SetInconsistentRelations(len(found))
	j.metrics.RecordAuditDuration(duration)

	for i, a := range found {
		if i == maxLoggedAsymmetries {
			j.logger.Error("不整合なフォロー関係の個別出力を省略しました",
				slog.Int("omitted", len(found)-maxLoggedAsymmetries),
			)
			break
		}
		j.logger.Error("不整合なフォロー関係を検出しました",
			slog.String("follower_id", a.FollowerID),
			slog.String("followed_id", a.FollowedID),
			slog.String("side", a.Side),
		)
	}

	j.logger.Info("整合性監査が完了しました",
		slog.Int("inconsistent_count", len(found)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return found, nil
}

// recheck はrecheckDelay待ってから検出した関係を読み直す。
func (j *Job) recheck(ctx context.Context, found []socialgraph.Asymmetry) ([]socialgraph.Asymmetry, error) {
	if j.recheckDelay > 0 {
		timer := time.NewTimer(j.recheckDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	persistent, err := socialgraph.Recheck(ctx, j.store, found)
	if err != nil {
		return nil, err
	}
	if settled := len(found) - len(persistent); settled > 0 {
		j.logger.Debug("再確認で解消した関係を除外しました", slog.Int("settled_count", settled))
	}
	return persistent, nil
}
