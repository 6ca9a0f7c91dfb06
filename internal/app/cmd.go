package app

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hitoshi/followgraph/internal/config"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は整合性監査とセッション削除のワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandAudit は整合性監査を1回だけ実行することを示す。
	CommandAudit Command = "audit"
	// CommandPolicy は認可ポリシーを検証して表示することを示す。
	CommandPolicy Command = "policy"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ErrInconsistentRelations は監査で不整合が見つかった場合に返る。終了コードを非0にするために使う。
var ErrInconsistentRelations = errors.New("inconsistent relations found")

// NewRootCommand はCLIのルートコマンドを構築する。
// サブコマンド無しで起動した場合はserveとして動作する。ログはwに出力する。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "followgraph",
		Short:         "フォロー関係とロール遷移のAPIサーバー",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withConfig(w, CommandServe, func(cfg *config.Config) error {
				return runServe(cmd.Context(), cfg, w)
			})
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   string(CommandServe),
			Short: "APIサーバーを起動する",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withConfig(w, CommandServe, func(cfg *config.Config) error {
					return runServe(cmd.Context(), cfg, w)
				})
			},
		},
		&cobra.Command{
			Use:   string(CommandWorker),
			Short: "整合性監査とセッション削除を定期実行する",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withConfig(w, CommandWorker, func(cfg *config.Config) error {
					return runWorker(cmd.Context(), cfg, w)
				})
			},
		},
		newMigrateCommand(w),
		&cobra.Command{
			Use:   string(CommandAudit),
			Short: "整合性監査を1回実行し、不整合があれば非0で終了する",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withConfig(w, CommandAudit, func(cfg *config.Config) error {
					return runAudit(cmd.Context(), cfg, cmd.OutOrStdout())
				})
			},
		},
		newPolicyCommand(),
		&cobra.Command{
			Use:   string(CommandHealthcheck),
			Short: "ローカルのAPIサーバーの/healthを確認する",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				// 軽量サブコマンドのため、フル初期化をスキップする
				port := os.Getenv("SERVER_PORT")
				if port == "" {
					port = "8080"
				}
				return checkHealth(cmd.Context(), healthcheckURL(port))
			},
		},
	)
	return root
}

// newPolicyCommand は認可ポリシーを読み込み、遷移ルールを一覧表示するコマンドを返す。
// 読み込みに失敗した場合はエラーで終了するため、デプロイ前の検証に使える。
func newPolicyCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   string(CommandPolicy),
		Short: "認可ポリシーを検証して遷移ルールを表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				file = os.Getenv("POLICY_FILE")
			}
			p, err := loadPolicy(file)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range p.Transitions() {
				fmt.Fprintf(out, "%-28s %v %q\n", t.Operation(), t.Allowed, t.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "ポリシーファイルのパス（省略時はPOLICY_FILEまたは埋め込みのデフォルト）")
	return cmd
}

// newMigrateCommand はマイグレーションを適用する。--downを指定した場合はその件数だけ戻す。
func newMigrateCommand(w io.Writer) *cobra.Command {
	var down int
	cmd := &cobra.Command{
		Use:   string(CommandMigrate),
		Short: "未適用のマイグレーションを適用する",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withConfig(w, CommandMigrate, func(cfg *config.Config) error {
				return runMigrate(cfg, down)
			})
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "適用済みのマイグレーションを指定件数だけ戻す")
	return cmd
}
