package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shouni/go-storyboard-kit/pkg/publisher"
)

// animateCmd は、画像ができたフレームを短い動画にするのだ。
var animateCmd = &cobra.Command{
	Use:   "animate",
	Short: "生成済みフレームを動画にするのだ。",
	Long: `storyboard.json を読み込み、画像があって動画が無いフレームだけを動画にするのだ。
--frames で対象のフレーム番号を絞れるのだよ。`,
	RunE: animateCommand,
}

func init() {
	animateCmd.Flags().StringVarP(&opts.PlanFile, "plan", "p", "", "storyboard.json のパスなのだ。")
	animateCmd.Flags().IntSliceVar(&opts.Frames, "frames", nil, "動画にするフレーム番号（カンマ区切り）なのだ。")
	_ = animateCmd.MarkFlagRequired("plan")
}

func animateCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sb, err := publisher.Load(opts.PlanFile)
	if err != nil {
		return err
	}

	app, err := buildApp(ctx, true)
	if err != nil {
		return err
	}
	defer app.Close()

	result, err := app.Manager.Animate(ctx, sb, opts.Frames)
	if err != nil {
		return fmt.Errorf("動画の生成に失敗したのだ: %w", err)
	}
	reportResult(result)
	return nil
}
