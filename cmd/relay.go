package cmd

import (
	"time"

	"github.com/BioHazard786/huddle/internal/relay"
	"github.com/spf13/cobra"
)

var (
	flagAddr        string
	flagHistory     int
	flagHistoryKeep int
	flagIdle        time.Duration
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run a development signaling and file server",
	Long: `Run a signaling server with in-memory rooms, chat history and file
sharing. Clients connect to ws://<addr>/ws; files live under /api.

Examples:
  huddle relay
  huddle relay --addr :9000 --history 50`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		srv := relay.New(relay.HubConfig{
			HistorySize: flagHistory,
			HistoryKeep: flagHistoryKeep,
			IdleTimeout: flagIdle,
		})
		return srv.ListenAndServe(cmd.Context(), flagAddr)
	},
}

func init() {
	f := relayCmd.Flags()
	f.StringVar(&flagAddr, "addr", ":8080", "address to listen on")
	f.IntVar(&flagHistory, "history", relay.DefaultHistorySize, "messages replayed to a joiner")
	f.IntVar(&flagHistoryKeep, "history-keep", relay.DefaultHistoryKeep, "messages kept per room")
	f.DurationVar(&flagIdle, "idle", relay.DefaultIdleTimeout, "disconnect clients silent for this long")
	rootCmd.AddCommand(relayCmd)
}
