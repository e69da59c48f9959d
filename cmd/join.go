package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/qrave1/meshroom/internal/application/config"
	"github.com/qrave1/meshroom/internal/application/constant"
	"github.com/qrave1/meshroom/internal/application/logging"
	"github.com/qrave1/meshroom/internal/client/media"
	"github.com/qrave1/meshroom/internal/client/peer"
	"github.com/qrave1/meshroom/internal/client/room"
	"github.com/qrave1/meshroom/internal/client/ui"
	"github.com/qrave1/meshroom/internal/domain/events"
)

const joinTimeout = 15 * time.Second

var (
	flagJoinServer   string
	flagJoinName     string
	flagJoinTURN     string
	flagJoinPassword string
	flagJoinChat     string
	flagJoinScreen   bool
	flagJoinStats    time.Duration
)

var joinCmd = &cobra.Command{
	Use:   "join <room-id|meeting-url>",
	Short: "Join a room as a headless participant with synthetic media",
	Long: `Join a room as a headless participant. Audio and video are synthetic
frames, remote media is consumed and counted.

Examples:
  meshroom join standup --name bot
  meshroom join "https://meet.example.com/meeting-room/standup?password=pw"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.InitCLI()

		roomID, password, err := parseRoomInput(args[0])
		if err != nil {
			return err
		}
		if flagJoinPassword != "" {
			password = flagJoinPassword
		}

		cfg, err := config.NewClient(config.ClientOptions{
			SignalingURL: flagJoinServer,
			DisplayName:  flagJoinName,
			TURNServer:   flagJoinTURN,
		})
		if err != nil {
			return err
		}

		return runJoin(cmd.Context(), cfg, roomID, password)
	},
}

func init() {
	joinCmd.Flags().StringVarP(&flagJoinServer, "server", "s", "", "signaling websocket url (env SIGNALING_URL)")
	joinCmd.Flags().StringVarP(&flagJoinName, "name", "n", "", "display name (env DISPLAY_NAME)")
	joinCmd.Flags().StringVar(&flagJoinTURN, "turn", "", "turn server host:port (env TURN_SERVER)")
	joinCmd.Flags().StringVarP(&flagJoinPassword, "password", "p", "", "room password, overrides the one from meeting url")
	joinCmd.Flags().StringVar(&flagJoinChat, "chat", "", "chat message to send after joining")
	joinCmd.Flags().BoolVar(&flagJoinScreen, "screen", false, "share synthetic screen instead of camera")
	joinCmd.Flags().DurationVar(&flagJoinStats, "stats", 10*time.Second, "interval of received media stats, 0 disables")

	rootCmd.AddCommand(joinCmd)
}

// parseRoomInput принимает id комнаты или ссылку на встречу
func parseRoomInput(input string) (string, string, error) {
	roomID, password, err := room.ParseMeetingURL(input)
	if errors.Is(err, room.ErrInvalidMeetingURL) {
		return input, "", nil
	}

	return roomID, password, err
}

func runJoin(ctx context.Context, cfg *config.ClientConfig, roomID, password string) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sink := peer.NewRTPSink()

	ctl := room.New(room.Config{
		SignalingURL: cfg.SignalingURL,
		Source:       media.NewSynthetic(cfg.DisplayName),
		NewTransport: peer.NewPionTransportFunc(cfg.ICEServers(), sink),
		Hooks:        cliHooks(sink),
	})
	defer func() {
		if err := ctl.Leave(); err != nil {
			slog.Error("leave room", slog.Any(constant.Error, err))
		}
	}()

	joinCtx, joinCancel := context.WithTimeout(ctx, joinTimeout)
	defer joinCancel()

	if err := ctl.Join(joinCtx, roomID, cfg.DisplayName, password); err != nil {
		return fmt.Errorf("join %s: %w", roomID, err)
	}

	fmt.Printf("Joined %s as %s (%s)\n", roomID, cfg.DisplayName, ctl.ParticipantID())

	if flagJoinChat != "" {
		if err := ctl.SendChat(ctx, flagJoinChat); err != nil {
			return fmt.Errorf("send chat: %w", err)
		}
	}

	if flagJoinScreen {
		failed, err := ctl.StartScreenShare(ctx)
		if err != nil {
			return fmt.Errorf("start screen share: %w", err)
		}
		for remoteID, err := range failed {
			slog.Warn("screen share not applied", slog.String(constant.RemoteID, remoteID), slog.Any(constant.Error, err))
		}
	}

	var statsC <-chan time.Time
	if flagJoinStats > 0 {
		ticker := time.NewTicker(flagJoinStats)
		defer ticker.Stop()
		statsC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			fmt.Println("Leaving room")
			return nil
		case <-ctl.Done():
			return errors.New("call ended: connection to server lost")
		case <-statsC:
			printStats(ctl, sink)
		}
	}
}

func printStats(ctl *room.Controller, sink *peer.RTPSink) {
	states := ctl.LinkStates()
	roster := ctl.Roster()

	rows := make([]ui.LinkRow, 0, len(roster))
	for _, p := range roster {
		stats := sink.Stats(p.ID)
		rows = append(rows, ui.LinkRow{
			Name:    p.Name,
			State:   states[p.ID].String(),
			Packets: stats.Packets,
			Bytes:   stats.Bytes,
		})
	}

	fmt.Println(ui.RenderLinks(rows))
}

func cliHooks(sink *peer.RTPSink) room.Hooks {
	return room.Hooks{
		OnParticipantJoined: func(p events.ParticipantInfo) {
			fmt.Printf("+ %s joined\n", p.Name)
		},
		OnParticipantLeft: func(p events.ParticipantInfo) {
			sink.Forget(p.ID)
			fmt.Printf("- %s left\n", p.Name)
		},
		OnParticipantUpdated: func(p events.ParticipantInfo, updates json.RawMessage) {
			slog.Info(
				"participant updated",
				slog.String(constant.RemoteID, p.ID),
				slog.String("updates", string(updates)),
			)
		},
		OnChat: func(msg events.ChatMessage) {
			fmt.Printf("[%s] %s: %s\n", msg.SentAt.Local().Format(time.TimeOnly), msg.UserName, msg.Message)
		},
		OnSystemMessage: func(text string) {
			fmt.Printf("* %s\n", text)
		},
		OnLinkFailed: func(remoteID string, err error) {
			sink.Forget(remoteID)
			slog.Warn("peer connection failed", slog.String(constant.RemoteID, remoteID), slog.Any(constant.Error, err))
		},
		OnScreenShareEnded: func(failed map[string]error) {
			fmt.Println("* screen share ended, back to camera")
			for remoteID, err := range failed {
				slog.Warn("camera not restored", slog.String(constant.RemoteID, remoteID), slog.Any(constant.Error, err))
			}
		},
		OnDisconnected: func(err error) {
			slog.Error("signaling connection lost", slog.Any(constant.Error, err))
		},
	}
}
