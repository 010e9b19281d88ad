package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandCrawl はクロールを1回実行することを示す。
	CommandCrawl Command = "crawl"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandCrawlを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandCrawl
	}

	switch args[0] {
	case "crawl":
		return CommandCrawl
	case "migrate":
		return CommandMigrate
	default:
		return CommandCrawl
	}
}
