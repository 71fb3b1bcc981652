package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/hitoshi/worklog/internal/app"
	"github.com/hitoshi/worklog/internal/config"
)

func main() {
	// .envがあれば読み込む（本番では環境変数を直接設定する）
	_ = godotenv.Load()

	cliApp := &cli.App{
		Name:  "worklog",
		Usage: "カレンダー連携付き作業ログサービス",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "APIサーバーを起動する",
				Action: func(c *cli.Context) error {
					cfg, err := initConfig()
					if err != nil {
						return err
					}
					return app.RunServe(cfg)
				},
			},
			{
				Name:  "worker",
				Usage: "定期同期ワーカーを起動する",
				Action: func(c *cli.Context) error {
					cfg, err := initConfig()
					if err != nil {
						return err
					}
					return app.RunWorker(cfg)
				},
			},
			{
				Name:  "migrate",
				Usage: "データベースマイグレーションを実行する",
				Action: func(c *cli.Context) error {
					cfg, err := initConfig()
					if err != nil {
						return err
					}
					return app.RunMigrate(cfg)
				},
			},
			{
				Name:      "link",
				Usage:     "カレンダーアカウントを対話的に連携する",
				ArgsUsage: "<google|microsoft>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("usage: worklog link <google|microsoft>")
					}
					cfg, err := initConfig()
					if err != nil {
						return err
					}
					return app.RunLink(cfg, os.Stdout, c.Args().First())
				},
			},
			{
				Name:  "healthcheck",
				Usage: "サーバーのヘルスチェックを実行する（Docker用）",
				Action: func(c *cli.Context) error {
					port := os.Getenv("SERVER_PORT")
					if port == "" {
						port = "8080"
					}
					return app.RunHealthcheck(port)
				},
			},
		},
		// サブコマンド未指定の場合はサーバーとして起動する
		Action: func(c *cli.Context) error {
			cfg, err := initConfig()
			if err != nil {
				return err
			}
			return app.RunServe(cfg)
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func initConfig() (*config.Config, error) {
	return app.Init(os.Stderr)
}
