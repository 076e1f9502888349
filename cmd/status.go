package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var taskID string

// statusCmd は、動画タスクの状態を1回だけ問い合わせるのだ。
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "動画タスクの状態を確認するのだ。",
	RunE:  statusCommand,
}

func init() {
	statusCmd.Flags().StringVar(&taskID, "task-id", "", "問い合わせるタスク ID なのだ。")
	_ = statusCmd.MarkFlagRequired("task-id")
}

func statusCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	app, err := buildApp(ctx, true)
	if err != nil {
		return err
	}
	defer app.Close()

	status, err := app.Manager.CheckStatus(ctx, taskID)
	if err != nil {
		return fmt.Errorf("状態の確認に失敗したのだ: %w", err)
	}

	out, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
