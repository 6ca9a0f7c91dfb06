package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/followgraph/internal/model"
)

// relationScanBatchSize はForEachで1回に読み込むレコード数。
const relationScanBatchSize = 500

// PostgresRelationRepo はPostgreSQLを使用したリレーションレコードのストア。
// 1ユーザー1行で、2つの射影をTEXT[]カラムとして保持する。
type PostgresRelationRepo struct {
	db *sql.DB
}

// NewPostgresRelationRepo はPostgresRelationRepoを生成する。
func NewPostgresRelationRepo(db *sql.DB) *PostgresRelationRepo {
	return &PostgresRelationRepo{db: db}
}

// Get は指定ユーザーのレコードを取得する。存在しない場合はErrRelationsNotFoundを返す。
func (r *PostgresRelationRepo) Get(ctx context.Context, userID string) (*model.UserRelations, error) {
	var followed, followers pq.StringArray
	rel := &model.UserRelations{UserID: userID}
	err := r.db.QueryRowContext(ctx,
		`SELECT followed_users, followers_list, version
		 FROM user_relations
		 WHERE user_id = $1`,
		userID,
	).Scan(&followed, &followers, &rel.Version)

	if err == sql.ErrNoRows {
		return nil, ErrRelationsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get relations: %w", err)
	}

	rel.FollowedUsers = model.NewIDSet(followed...)
	rel.FollowersList = model.NewIDSet(followers...)
	return rel, nil
}

// Put はバージョンが一致する場合のみレコードを置き換え、新しいバージョンを返す。
func (r *PostgresRelationRepo) Put(ctx context.Context, rel *model.UserRelations) (int64, error) {
	var version int64
	err := r.db.QueryRowContext(ctx,
		`UPDATE user_relations
		 SET followed_users = $2, followers_list = $3, version = version + 1, updated_at = now()
		 WHERE user_id = $1 AND version = $4
		 RETURNING version`,
		rel.UserID,
		pq.StringArray(rel.FollowedUsers.Sorted()),
		pq.StringArray(rel.FollowersList.Sorted()),
		rel.Version,
	).Scan(&version)

	if err == nil {
		return version, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to put relations: %w", err)
	}

	// 0行更新: レコードが無いのかバージョンが進んだのかを区別する
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_relations WHERE user_id = $1)`,
		rel.UserID,
	).Scan(&exists); err != nil {
		return 0, fmt.Errorf("failed to check relations existence: %w", err)
	}
	if !exists {
		return 0, ErrRelationsNotFound
	}
	return 0, ErrVersionConflict
}

// ForEach はuser_id順にキーセットページングで全レコードを走査する。
// 各バッチの行カーソルを閉じてからfnを呼び出す。
func (r *PostgresRelationRepo) ForEach(ctx context.Context, fn func(*model.UserRelations) error) error {
	after := ""
	for {
		batch, err := r.scanBatch(ctx, after)
		if err != nil {
			return err
		}
		for _, rel := range batch {
			if err := fn(rel); err != nil {
				return err
			}
		}
		if len(batch) < relationScanBatchSize {
			return nil
		}
		after = batch[len(batch)-1].UserID
	}
}

func (r *PostgresRelationRepo) scanBatch(ctx context.Context, after string) ([]*model.UserRelations, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, followed_users, followers_list, version
		 FROM user_relations
		 WHERE user_id::text > $1
		 ORDER BY user_id::text
		 LIMIT $2`,
		after, relationScanBatchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan relations: %w", err)
	}
	defer rows.Close()

	var batch []*model.UserRelations
	for rows.Next() {
		var followed, followers pq.StringArray
		rel := &model.UserRelations{}
		if err := rows.Scan(&rel.UserID, &followed, &followers, &rel.Version); err != nil {
			return nil, fmt.Errorf("failed to scan relations row: %w", err)
		}
		rel.FollowedUsers = model.NewIDSet(followed...)
		rel.FollowersList = model.NewIDSet(followers...)
		batch = append(batch, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate relations rows: %w", err)
	}
	return batch, nil
}

// compile-time interface check
var _ RelationRepository = (*PostgresRelationRepo)(nil)
