package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
	"github.com/shouni/go-storyboard-kit/pkg/workflow"
)

var projectID string

// planCmd は、ブリーフから構成案だけを作って storyboard.json に保存するのだ。
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "ブリーフから絵コンテの構成案を作るのだ。",
	Long: `参照画像を解析し、背景とフレームの構成案を生成するのだ。
画像はまだ作らないので、内容を確認・修正してから generate --plan で続きを実行できるのだよ。`,
	RunE: planCommand,
}

func init() {
	planCmd.Flags().StringVarP(&opts.BriefFile, "brief", "b", "", "ブリーフファイル（YAML または JSON）のパスなのだ。")
	planCmd.Flags().StringVar(&projectID, "project-id", "", "プロジェクト ID なのだ。省略時は自動で採番するのだ。")
	_ = planCmd.MarkFlagRequired("brief")
}

func planCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	brief, err := domain.LoadBrief(opts.BriefFile)
	if err != nil {
		return err
	}

	app, err := buildApp(ctx, true)
	if err != nil {
		return err
	}
	defer app.Close()

	sb, err := app.Manager.Plan(ctx, workflow.PlanRequest{ProjectID: projectID, Brief: *brief})
	if err != nil {
		return fmt.Errorf("構成案の生成に失敗したのだ: %w", err)
	}
	published, err := app.Manager.Publish(ctx, sb)
	if err != nil {
		return fmt.Errorf("構成案の保存に失敗したのだ: %w", err)
	}

	attrs := []any{"project_id", sb.ProjectID, "frames", len(sb.Plan.Frames), "backgrounds", len(sb.Plan.Backgrounds)}
	if published != nil {
		attrs = append(attrs, "plan", published.PlanPath)
	}
	slog.Info("構成案ができたのだ！", attrs...)
	return nil
}
