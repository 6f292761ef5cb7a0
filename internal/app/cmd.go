package app

import (
	"fmt"
	"io"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモード。引数なしの既定値。
	CommandServe Command = "serve"
	// CommandWorker は招待の期限切れ処理、セッション掃除、アクティビティ配信を行うワーカーモード。
	CommandWorker Command = "worker"
	// CommandMigrate は埋め込みマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はlocalhostの/healthを確認して終了する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandHelp は使い方を表示して終了する。
	CommandHelp Command = "help"
)

// commands はusage表示の順序と説明。
var commands = []struct {
	cmd  Command
	desc string
}{
	{CommandServe, "run the HTTP API (default)"},
	{CommandWorker, "run background jobs: invite expiry, session cleanup, activity webhook delivery"},
	{CommandMigrate, "apply database migrations and exit"},
	{CommandHealthcheck, "check GET /health on localhost:$SERVER_PORT and exit"},
	{CommandHelp, "show this message"},
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	case "help", "-h", "--help":
		return CommandHelp
	default:
		return CommandServe
	}
}

// PrintUsage はサブコマンドの一覧をwに書き込む。
func PrintUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: trackpay [command]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-12s %s\n", c.cmd, c.desc)
	}
}
