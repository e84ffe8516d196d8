package app

// Command はcensusバイナリのサブコマンドを表す。
type Command string

const (
	// CommandServe は投稿・レビュー画面とJSON APIを提供するWebサーバーを起動する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションを定期削除するワーカーを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はsessions・submissions・entriesのスキーマを最新化する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のサーバーの/healthを叩いて終了する。
	// distrolessイメージにはcurlがないため、Dockerのヘルスチェックから呼ぶ。
	CommandHealthcheck Command = "healthcheck"
)

// commands は引数で選択できるサブコマンドの一覧。
var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は先頭の引数からサブコマンドを決める。2番目以降の引数は見ない。
// 引数がない場合と未知のサブコマンドの場合はCommandServeとして扱う。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := commands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}
