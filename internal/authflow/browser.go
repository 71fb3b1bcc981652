package authflow

import (
	"fmt"
	"os/exec"
	"runtime"
)

// OpenBrowser はシステムの既定ブラウザで認可URLを開く。
// ウィンドウの状態はその後一切関知しない。完了はメッセージ到着のみで判定する
// （クロスオリジン分離のためウィンドウの閉鎖検知は信頼できない）。
func OpenBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}

	return nil
}
