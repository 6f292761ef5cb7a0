package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// level はグローバルロガーの出力レベル。SetLevelで起動後に変更できる。
var level = new(slog.LevelVar)

// ParseLevel はLOG_LEVELの値をslog.Levelに変換する。
// 未知の値はInfoとして扱う。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// writerが指定された場合はそのwriterに出力する。
func Setup(w io.Writer) *slog.Logger {
	return SetupWithLevel(w, slog.LevelInfo)
}

// SetupWithLevel は指定レベル以上を出力するJSON構造化ログのslog.Loggerを生成して返す。
func SetupWithLevel(w io.Writer, lv slog.Leveler) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: lv,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// writerが指定された場合はそのwriterに出力する。
// 本番ではos.Stdoutを渡すことを想定している。
// 出力レベルはInfoから始まり、SetLevelで変更できる。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	level.Set(slog.LevelInfo)
	slog.SetDefault(SetupWithLevel(w, level))
}

// SetLevel はグローバルロガーの出力レベルを変更する。
func SetLevel(s string) {
	level.Set(ParseLevel(s))
}
