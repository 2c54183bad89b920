package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BioHazard786/huddle/internal/fileapi"
	"github.com/BioHazard786/huddle/internal/media"
	"github.com/BioHazard786/huddle/internal/relay"
	"github.com/BioHazard786/huddle/internal/room"
	"github.com/BioHazard786/huddle/internal/ui"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const leaveTimeout = 3 * time.Second

var joinCmd = &cobra.Command{
	Use:     "join [room-id]",
	Aliases: []string{"j"},
	Short:   "Join a room, or start a new one",
	Long: `Join a room and open the room screen. Without a room id a new one is
generated; share it with the people you want to talk to.

Examples:
  huddle join
  huddle join brave-ramen-orbit --name Alice
  huddle join brave-ramen-orbit --server wss://huddle.example.com/ws --log-file huddle.log`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID := relay.RoomID()
		if len(args) == 1 {
			roomID = args[0]
		}
		return joinRoom(cmd.Context(), roomID)
	},
}

func init() {
	rootCmd.AddCommand(joinCmd)
}

func joinRoom(ctx context.Context, roomID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := slog.Default()

	capture, err := media.NewCapture("huddle-" + roomID)
	if err != nil {
		return fmt.Errorf("prepare media: %w", err)
	}

	screen := ui.NewRoom(roomID)
	sess := room.New(room.ConfigFrom(cfg, roomID), room.Deps{
		Engine:  media.NewPionEngine(cfg, capture, log),
		Capture: capture,
		Files:   fileapi.New(cfg.API, nil),
		Sink:    screen.Sink,
		Logger:  log,
	})

	// The session loop outlives the screen so the leave can go out after
	// the user quits or the process is interrupted.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	loopDone := make(chan error, 1)
	go func() { loopDone <- sess.Run(loopCtx) }()

	g, gctx := errgroup.WithContext(ctx)
	gctx, quit := context.WithCancel(gctx)
	defer quit()
	g.Go(func() error {
		if err := sess.Join(gctx); err != nil && gctx.Err() == nil {
			return joinError(roomID, err)
		}
		return nil
	})
	g.Go(func() error {
		defer quit()
		return screen.Run(gctx, sess)
	})
	err = g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	if cerr := sess.Close(closeCtx); cerr != nil {
		log.Warn("leave did not complete", "error", cerr)
	}
	stopLoop()
	if lerr := <-loopDone; lerr != nil && !errors.Is(lerr, context.Canceled) {
		log.Warn("session loop ended", "error", lerr)
	}

	if err != nil {
		return err
	}
	ui.PrintInfo(fmt.Sprintf("Left room %s", roomID))
	return nil
}

// joinError keeps the session's error type, usually a
// *signaling.TransportError, reachable through errors.As.
func joinError(roomID string, err error) error {
	return fmt.Errorf("join room %s: %w", roomID, err)
}
