package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/BioHazard786/huddle/internal/config"
	"github.com/BioHazard786/huddle/internal/logging"
	"github.com/BioHazard786/huddle/internal/transfer"
	"github.com/BioHazard786/huddle/internal/ui"
	"github.com/BioHazard786/huddle/internal/version"
	"github.com/spf13/cobra"
)

var (
	flagConfig   string
	flagServer   string
	flagAPI      string
	flagName     string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    bool
	flagLang     string
	flagLogLevel string
	flagLogFile  string

	closeLog = func() error { return nil }
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "huddle",
	Short:   "Multi-party rooms with chat, typing presence, audio/video and file sharing",
	Long:    `huddle joins a room on a signaling server, keeps a peer connection to every other participant, and shares chat, typing presence and files with the whole room.`,
	Version: version.Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		file := flagLogFile
		if file == "" && cmd == joinCmd {
			// The room screen owns the terminal.
			file = filepath.Join(os.TempDir(), "huddle.log")
		}
		fn, err := logging.Init(logging.Options{Level: flagLogLevel, File: file})
		if err != nil {
			return err
		}
		closeLog = fn
		return nil
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&flagConfig, "config", "", "config file (default ./huddle.yaml or the user config dir)")
	f.StringVarP(&flagServer, "server", "s", "", "signaling websocket URL, e.g. wss://example.com/ws")
	f.StringVar(&flagAPI, "api", "", "file API base URL (derived from --server when empty)")
	f.StringVarP(&flagName, "name", "n", "", "display name (the server picks one when empty)")
	f.StringVar(&flagSTUN, "stun", "", "STUN server URL")
	f.StringVar(&flagTURN, "turn", "", "TURN server host")
	f.StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	f.StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	f.BoolVar(&flagRelay, "relay", false, "force all media through the TURN server")
	f.StringVar(&flagLang, "lang", "", "language for presence lines (BCP 47 tag)")
	f.StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error (default $LOG_LEVEL or error)")
	f.StringVar(&flagLogFile, "log-file", "", "write logs to this file (join defaults to huddle.log in the temp dir)")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		File:       flagConfig,
		Server:     flagServer,
		API:        flagAPI,
		Name:       flagName,
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		ForceRelay: flagRelay,
		Lang:       flagLang,
	})
	if err != nil {
		return nil, transfer.NewError("load config", err)
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}
	return cfg, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	err := rootCmd.ExecuteContext(ctx)
	stop()
	closeLog()
	if err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
