package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/BioHazard786/huddle/internal/config"
	"github.com/BioHazard786/huddle/internal/fileapi"
	"github.com/BioHazard786/huddle/internal/signaling"
	"github.com/BioHazard786/huddle/internal/transfer"
	"github.com/BioHazard786/huddle/internal/ui"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

const visitTimeout = 15 * time.Second

var flagJSON bool

var filesCmd = &cobra.Command{
	Use:   "files <room-id>",
	Short: "List the files shared in a room",
	Long: `List the files shared in a room. The file API only answers room members,
so this briefly joins the room and leaves again.

Examples:
  huddle files brave-ramen-orbit
  huddle files brave-ramen-orbit --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return listFiles(cmd.Context(), cfg, args[0])
	},
}

func init() {
	filesCmd.Flags().BoolVar(&flagJSON, "json", false, "print the list as JSON")
	rootCmd.AddCommand(filesCmd)
}

func listFiles(ctx context.Context, cfg *config.Config, roomID string) error {
	stopSpinner := ui.RunConnectionSpinner("Fetching files...")
	defer stopSpinner()

	var list []signaling.FileEntry
	err := visit(ctx, cfg, roomID, func(ctx context.Context, id fileapi.Identity) error {
		var err error
		list, err = fileapi.New(cfg.API, nil).ListFiles(ctx, id)
		return err
	})
	stopSpinner()
	if err != nil {
		return transfer.NewError("list files", err)
	}

	if flagJSON {
		if list == nil {
			list = []signaling.FileEntry{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}
	if len(list) == 0 {
		ui.PrintInfo(fmt.Sprintf("No files shared in %s yet", roomID))
		return nil
	}
	ui.WriteFilesTable(os.Stdout, list, time.Now())
	return nil
}

// visit joins roomID just long enough to get an identity the file API
// accepts, runs fn with it and leaves.
func visit(ctx context.Context, cfg *config.Config, roomID string, fn func(context.Context, fileapi.Identity) error) error {
	ctx, cancel := context.WithTimeout(ctx, visitTimeout)
	defer cancel()

	joined := make(chan signaling.RoomUsers, 1)
	failed := make(chan error, 1)
	fail := func(err error) {
		select {
		case failed <- err:
		default:
		}
	}

	client, err := signaling.Dial(ctx, cfg.Server, func(data []byte) {
		env, err := signaling.Decode(data)
		if err != nil {
			return
		}
		switch e := env.(type) {
		case signaling.RoomUsers:
			select {
			case joined <- e:
			default:
			}
		case signaling.Error:
			fail(fmt.Errorf("server: %s", e.Message))
		}
	}, func(code int) {
		fail(fmt.Errorf("connection closed (code %d)", code))
	})
	if err != nil {
		return fmt.Errorf("connect to server: %w", err)
	}
	defer client.Close()

	send := func(env signaling.Envelope) error {
		frame, err := signaling.Encode(env)
		if err != nil {
			return err
		}
		return client.Send(frame)
	}

	if err := send(signaling.JoinRoom{RoomID: roomID, UserName: cfg.Name}); err != nil {
		return err
	}

	var self signaling.RoomUsers
	select {
	case self = <-joined:
	case err := <-failed:
		return err
	case <-ctx.Done():
		return transfer.WrapError("join room", transfer.ErrTimeout, "no roster from server")
	}
	defer send(signaling.LeaveRoom{RoomID: roomID, UserID: self.UserID})

	return fn(ctx, fileapi.Identity{RoomID: roomID, UserID: self.UserID})
}
