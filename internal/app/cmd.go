package app

import "github.com/hitoshi/bgremover/internal/config"

// Command はbgremoverバイナリのサブコマンドを表す。
// 同一イメージをapi・worker・migrateの各コンテナで使い分ける。
type Command string

const (
	// CommandServe は背景除去APIを提供する。
	CommandServe Command = "serve"
	// CommandWorker はステージング領域の期限切れファイルを掃除し続ける。
	CommandWorker Command = "worker"
	// CommandMigrate は利用履歴テーブルのマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中のAPIの/healthを叩く。
	// distrolessイメージにはcurlが無いためDockerのHEALTHCHECKから使う。
	CommandHealthcheck Command = "healthcheck"
)

// commandRoles はサブコマンドごとに読み込む設定の範囲。
// healthcheckは設定を読まないためここに含めない。
var commandRoles = map[Command]config.Role{
	CommandServe:   config.RoleServe,
	CommandWorker:  config.RoleWorker,
	CommandMigrate: config.RoleMigrate,
}

// ParseCommand は先頭の引数をサブコマンドとして解釈する。
// 空や未知の値はCommandServeとして扱い、2番目以降の引数は無視する。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	cmd := Command(args[0])
	if cmd == CommandHealthcheck {
		return cmd
	}
	if _, ok := commandRoles[cmd]; ok {
		return cmd
	}
	return CommandServe
}

// configRole はサブコマンドが必須とする環境変数の組を返す。
// workerはアップロードディレクトリしか扱わないため、DBや外部APIの認証情報を要求しない。
func (c Command) configRole() config.Role {
	if role, ok := commandRoles[c]; ok {
		return role
	}
	return config.RoleServe
}
