package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
	"github.com/shouni/go-storyboard-kit/pkg/publisher"
	"github.com/shouni/go-storyboard-kit/pkg/workflow"
)

// generateCmd は、構成案から背景とフレームの画像までを一気に作るのだ。
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "背景とフレームの画像を生成するのだ。",
	Long: `--brief を渡すと構成案から画像生成までを通しで実行するのだ。
--plan で既存の storyboard.json を渡すと、URL が無いユニットだけを作り直すのだよ。`,
	RunE: generateCommand,
}

func init() {
	generateCmd.Flags().StringVarP(&opts.BriefFile, "brief", "b", "", "ブリーフファイル（YAML または JSON）のパスなのだ。")
	generateCmd.Flags().StringVarP(&opts.PlanFile, "plan", "p", "", "再開する storyboard.json のパスなのだ。")
	generateCmd.Flags().StringVar(&projectID, "project-id", "", "プロジェクト ID なのだ。")
	generateCmd.MarkFlagsOneRequired("brief", "plan")
	generateCmd.MarkFlagsMutuallyExclusive("brief", "plan")
}

func generateCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	app, err := buildApp(ctx, true)
	if err != nil {
		return err
	}
	defer app.Close()

	var result *workflow.RunResult
	if opts.PlanFile != "" {
		sb, err := publisher.Load(opts.PlanFile)
		if err != nil {
			return err
		}
		if projectID != "" {
			sb.ProjectID = projectID
		}
		slog.Info("既存の構成案から再開するのだ", "plan", opts.PlanFile, "project_id", sb.ProjectID)
		result, err = app.Manager.Generate(ctx, sb)
		if err != nil {
			return fmt.Errorf("絵コンテの生成に失敗したのだ: %w", err)
		}
	} else {
		brief, err := domain.LoadBrief(opts.BriefFile)
		if err != nil {
			return err
		}
		result, err = app.Manager.Run(ctx, workflow.PlanRequest{ProjectID: projectID, Brief: *brief})
		if err != nil {
			return fmt.Errorf("絵コンテの生成に失敗したのだ: %w", err)
		}
	}

	reportResult(result)
	return nil
}

// reportResult は実行結果を要約してログに出すのだ。ユニットの失敗は警告に留めるのだ。
func reportResult(result *workflow.RunResult) {
	attrs := []any{"project_id", result.Storyboard.ProjectID, "status", result.Status}
	if result.Published != nil {
		attrs = append(attrs, "plan", result.Published.PlanPath)
	}
	if err := result.PartialFailure(); err != nil {
		slog.Warn("一部のユニットが失敗したのだ。同じ計画で再実行すれば足りない分だけ作り直すのだ", append(attrs, "error", err)...)
		return
	}
	slog.Info("すべての生成工程が完了したのだ！", attrs...)
}
