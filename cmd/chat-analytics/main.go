package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chat-analytics",
	Short: "Аналитика и модерация чата Twitch",
	Long: `chat-analytics принимает сообщения и события стрима, модерирует и
классифицирует сообщения и ведёт статистику по сессиям.

Команды:
  serve      запустить движок, HTTP API и коннекторы
  session    открыть или закрыть сессию на запущенном сервере
  export     скачать CSV сессии с запущенного сервера`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
