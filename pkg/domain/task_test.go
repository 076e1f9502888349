package domain

import "testing"

func TestGenerationTask_Advance(t *testing.T) {
	t.Run("前方向の遷移は許可されます", func(t *testing.T) {
		task := NewGenerationTask(TaskImage)
		if err := task.Advance(TaskProcessing); err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if err := task.Succeed("https://example.com/a.png"); err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if task.Status != TaskDone || task.ResultURL == "" {
			t.Errorf("期待値: done + URL, 実際の値: %s %q", task.Status, task.ResultURL)
		}
	})

	t.Run("pending へ戻ることはできません", func(t *testing.T) {
		task := NewGenerationTask(TaskVideo)
		_ = task.Advance(TaskProcessing)
		if err := task.Advance(TaskPending); err == nil {
			t.Fatal("pending への後退がエラーになりませんでした")
		}
		if task.Status != TaskProcessing {
			t.Errorf("期待値: processing, 実際の値: %s", task.Status)
		}
	})

	t.Run("終端状態からは別の状態へ遷移しません", func(t *testing.T) {
		task := NewGenerationTask(TaskImage)
		_ = task.Fail("boom")
		if err := task.Succeed("x"); err == nil {
			t.Fatal("error から done への遷移がエラーになりませんでした")
		}
		if task.ResultURL != "" {
			t.Errorf("失敗タスクに URL が設定されています: %q", task.ResultURL)
		}
	})

	t.Run("pending から直接終端へ進めます", func(t *testing.T) {
		task := NewGenerationTask(TaskImage)
		if err := task.Succeed("x"); err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
	})
}
