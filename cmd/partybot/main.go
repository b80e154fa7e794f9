// Command partybot joins a watch party as a headless participant. It drives a
// virtual player through the sync core, which makes it handy for load tests
// and for watching reconciliation from a terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"watchparty/internal/config"
	"watchparty/internal/party"
	"watchparty/internal/player"
	"watchparty/internal/rooms"
	"watchparty/internal/store"
	"watchparty/internal/transport"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "relay base URL")
	roomID := flag.String("room", "", "room to join; empty creates a new room and hosts it")
	name := flag.String("name", "partybot", "display name")
	videoID := flag.String("video", "", "video id when creating a room")
	duration := flag.Float64("duration", 0, "video length in seconds, 0 for unbounded")
	via := flag.String("transport", "ws", "packet transport: ws or redis")
	autoplay := flag.Bool("autoplay", true, "start playback after creating a room")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := newAPIClient(*serverURL)
	var session *rooms.Session
	if *roomID == "" {
		if *videoID == "" {
			log.Fatal("-video is required when creating a room")
		}
		session, err = api.CreateRoom(ctx, *name, *videoID)
	} else {
		session, err = api.JoinRoom(ctx, *roomID, *name)
	}
	if err != nil {
		log.Fatalf("Failed to enter room: %v", err)
	}
	log.Printf("Entered room %s as %s (host: %v)", session.RoomID, session.UserID, session.IsHost)

	clock := clockwork.NewRealClock()
	channel, persister, lost, closeTransport, err := openTransport(ctx, *via, *serverURL, session, cfg, clock)
	if err != nil {
		log.Fatalf("Failed to open %s transport: %v", *via, err)
	}
	defer closeTransport()
	if session.IsHost && cfg.PersistDebounce > 0 {
		persister = party.NewDebounced(persister, clock, cfg.PersistDebounce)
	}

	vp := player.NewVirtual(clock, *duration)
	role := party.RoleGuest
	if session.IsHost {
		role = party.RoleHost
		// Resume where the room left off before wiring events.
		vp.SeekTo(session.State.Position, true)
	}

	left := make(chan struct{})
	var lastBand party.Band
	ps, err := party.NewSession(party.Options{
		RoomID:    session.RoomID,
		VideoID:   session.State.VideoID,
		Role:      role,
		Player:    vp,
		Channel:   channel,
		Persister: persister,
		Clock:     clock,
		Config:    cfg.Sync,
		OnRoomClosed: func() {
			close(left)
		},
		OnNotice: func(message string) {
			log.Println(message)
		},
		OnStatus: func(st party.Status) {
			if st.Band != lastBand {
				log.Printf("band=%s drift=%.3fs latency=%s", st.Band, st.Drift, st.Latency)
				lastBand = st.Band
			}
		},
	})
	if err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}
	vp.OnStateChange(ps.PlayerStateChanged)

	g, gctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		return ps.Run(gctx)
	})
	g.Go(func() error {
		if session.IsHost && (*autoplay || session.State.IsPlaying) {
			vp.PlayVideo()
		}
		select {
		case <-ctx.Done():
			if !session.IsHost {
				return ps.Close()
			}
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return ps.NotifyCloseRoom(closeCtx)
		case <-ps.Done():
			if ps.Status().State == party.StateLeft {
				select {
				case <-left:
				case <-time.After(cfg.Sync.LeaveNotice + time.Second):
				}
			}
			return nil
		case <-lost:
			ps.Unload()
			return errors.New("connection to relay lost")
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("partybot: %v", err)
	}
	log.Println("Left the party")
}

// openTransport returns the packet channel, the host persister and a channel
// that closes when the transport drops.
func openTransport(ctx context.Context, via, serverURL string, session *rooms.Session, cfg *config.Config, clock clockwork.Clock) (transport.Channel, party.Persister, <-chan struct{}, func(), error) {
	switch via {
	case "ws":
		ch, err := transport.DialRoom(ctx, serverURL, session.RoomID, session.Token)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return ch, ch, ch.Done(), func() { _ = ch.Close() }, nil
	case "redis":
		if cfg.RedisURL == "" {
			return nil, nil, nil, nil, errors.New("REDIS_URL is required for the redis transport")
		}
		client, err := store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		persister := store.WriteThrough{Store: store.NewRedis(client, cfg.StateTTL), Clock: clock}
		return transport.NewRedisChannel(client), persister, nil, func() { _ = client.Close() }, nil
	default:
		return nil, nil, nil, nil, errors.New("unknown transport " + via)
	}
}
