// Package cleanup は期限切れセッションの定期削除ジョブを提供する。
// 期限切れセッションは参照時にも無効として扱われるため、このジョブは
// ストアの肥大化を防ぐためだけに動く。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Purger は期限切れセッションの削除を抽象化するインターフェース。
// session.MemoryStore と repository.PostgresSessionRepo が実装する。
type Purger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// PurgeRecorder は削除件数を記録する。metrics.MetricsCollectorが実装する。
type PurgeRecorder interface {
	RecordSessionsPurged(count int64)
}

// CleanupJob は期限切れセッションの削除ジョブ。冪等に実行できる。
type CleanupJob struct {
	store    Purger
	recorder PurgeRecorder
	logger   *slog.Logger
	Interval time.Duration // 実行間隔（デフォルト: 1時間）
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(store Purger, recorder PurgeRecorder, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		store:    store,
		recorder: recorder,
		logger:   logger,
		Interval: time.Hour,
	}
}

// Run は期限切れセッションを1回削除する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.store.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("failed to purge expired sessions",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to purge expired sessions: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordSessionsPurged(deletedCount)
	}

	j.logger.Info("expired sessions purged",
		slog.Int64("deleted_count", deletedCount),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start はIntervalごとにRunを実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context) {
	interval := j.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("session cleanup started", slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("session cleanup stopped")
			return
		case <-ticker.C:
			// エラーはRun内でログ済み
			_ = j.Run(ctx)
		}
	}
}
