package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"twitch-chat-analytics/api"
	"twitch-chat-analytics/logging"
)

var (
	serverURL string
	retries   int
	output    string
	verbose   bool
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Управление сессией на запущенном сервере",
}

var sessionStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Открыть сессию",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		id, warning, err := c.StartSession(cmd.Context())
		if err != nil {
			return err
		}
		if warning != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning:", warning)
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var sessionEndCmd = &cobra.Command{
	Use:   "end",
	Short: "Закрыть текущую сессию и вывести её итог",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		rec, err := c.EndSession(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\tmessages=%d\tevents=%d\trows=%d\ttruncated=%d\tduration=%s\n",
			rec.ID, rec.Messages.Session.Total, rec.Events.TotalEvents, rec.Rows, rec.Truncated,
			rec.Duration(rec.EndedAt))
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Скачать CSV сессии",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if output != "" && output != "-" {
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		return c.ExportSession(cmd.Context(), args[0], w)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("CHAT_ANALYTICS_URL", "http://localhost:8080"), "адрес HTTP API")
	rootCmd.PersistentFlags().IntVar(&retries, "retries", 3, "число повторов запроса")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "логировать запросы клиента")
	exportCmd.Flags().StringVarP(&output, "output", "o", "", "файл для CSV (по умолчанию stdout)")

	sessionCmd.AddCommand(sessionStartCmd, sessionEndCmd)
	rootCmd.AddCommand(sessionCmd, exportCmd)
}

func newClient() (*api.Client, error) {
	level := "warn"
	if verbose {
		level = "debug"
	}
	logger, err := logging.NewWithOutput(level, "text", os.Stderr)
	if err != nil {
		return nil, err
	}
	return api.NewClient(serverURL, retries, logrus.NewEntry(logger)), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
