package main

import (
	"bufio"
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"talanta/internal/api"
	"talanta/internal/auth"
	"talanta/internal/channel"
	"talanta/internal/config"
	"talanta/internal/models"
	"talanta/internal/presence"
	"talanta/internal/receipt"
	"talanta/internal/session"
	"talanta/internal/storage"
	"talanta/internal/typing"
)

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var tokens auth.TokenSource
	if cfg.RefreshToken != "" {
		tokens = auth.NewRefreshingSource(cfg.APIBaseURL, cfg.Token, cfg.RefreshToken, time.Time{})
	} else {
		tokens = auth.StaticToken(cfg.Token)
	}

	apiClient := api.NewClient(cfg.APIBaseURL, tokens)
	pres := presence.NewStore(apiClient, cfg.UserID)

	sess := session.New(session.Config{
		URL:               cfg.WSURL,
		UserID:            cfg.UserID,
		Tokens:            tokens,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ReconnectDelay:    cfg.ReconnectDelay,
	})

	sess.OnUserStatus(pres.Update)
	sess.OnError(func(err error) {
		log.Printf("session error: %v", err)
	})
	sess.OnConnect(func() {
		go func() {
			annCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			pres.Announce(annCtx, models.StatusOnline)
		}()
	})

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.PeerID != 0 {
		wireConversation(gCtx, g, cfg, sess, apiClient, store, pres)
	} else {
		log.Println("no TALANTA_PEER_ID set, running presence-only")
	}

	if err := sess.Connect(ctx); err != nil {
		return err
	}

	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down session...")

		offCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pres.Announce(offCtx, models.StatusOffline)
		sess.Disconnect()
		return nil
	})

	return g.Wait()
}

// wireConversation connects the live session to the message channel for the
// configured peer and drives it from stdin: plain lines are sent as
// messages, /retry re-sends the outbox, /read acknowledges the conversation.
func wireConversation(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	sess *session.Session,
	apiClient *api.Client,
	store *storage.BboltStorage,
	pres *presence.Store,
) {
	reads := receipt.NewNotifier(apiClient, sess, cfg.UserID)

	var ch *channel.Channel
	ch = channel.New(channel.Config{
		API:    apiClient,
		Cache:  store,
		SelfID: cfg.UserID,
		PeerID: cfg.PeerID,
		// A first send can create the conversation; the open chat view
		// acknowledges it as read right away.
		OnConversationKnown: func(conversationID int64) {
			go func() {
				ackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := reads.NotifyRead(ackCtx, conversationID, cfg.PeerID); err != nil {
					log.Printf("read acknowledgement failed: %v", err)
				}
			}()
		},
		OnUpdate: func() {
			msgs := ch.Messages()
			if len(msgs) == 0 {
				return
			}
			last := msgs[len(msgs)-1]
			log.Printf("[%d messages] latest #%d %d->%d %q (%s)",
				len(msgs), last.ID, last.SenderID, last.ReceiverID, last.Text, last.Status)
		},
	})

	notifier := typing.NewNotifier(cfg.TypingIdle, sess.PublishTyping)
	tracker := typing.NewTracker(cfg.TypingExpiry, func(isTyping bool) {
		if isTyping {
			log.Printf("peer %d is typing...", cfg.PeerID)
		} else {
			log.Printf("peer %d stopped typing", cfg.PeerID)
		}
	})

	sess.OnMessage(func(m models.Message) {
		ch.Ingest(m)
		if m.SenderID != cfg.PeerID {
			return
		}
		tracker.Observe(false)
		convID := ch.ConversationID()
		if convID == 0 {
			return
		}
		// The conversation is open here, so acknowledge immediately.
		go func() {
			ackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := reads.NotifyRead(ackCtx, convID, m.SenderID); err != nil {
				log.Printf("read acknowledgement failed: %v", err)
			}
		}()
	})
	sess.OnTyping(func(ti models.TypingIndicator) {
		if ti.SenderID == cfg.PeerID {
			tracker.Observe(ti.IsTyping)
		}
	})
	sess.OnReadReceipt(func(r models.ReadReceipt) {
		if r.SenderID == cfg.UserID {
			ch.MarkReadLocally(r.ReceiverID)
		}
	})
	sess.OnConnect(func() {
		go ch.LoadHistory(ctx)
	})
	sess.OnDisconnect(func(error) {
		tracker.Reset()
	})

	// Seed the peer's presence so the prompt is not blind until the first
	// broadcast.
	g.Go(func() error {
		seedCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if _, err := pres.Lookup(seedCtx, cfg.PeerID); err != nil {
			log.Printf("presence lookup for peer %d failed: %v", cfg.PeerID, err)
		}
		return nil
	})

	// Reading stdin in a side goroutine keeps shutdown from hanging on a
	// blocked Scan.
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	g.Go(func() error {
		defer notifier.Stop()

		for {
			var line string
			var ok bool
			select {
			case <-ctx.Done():
				return nil
			case line, ok = <-lines:
				if !ok {
					return nil
				}
			}

			line = strings.TrimSpace(line)
			switch {
			case line == "":
			case line == "/retry":
				ch.RetryUnsent(ctx)
			case line == "/read":
				if convID := ch.ConversationID(); convID != 0 {
					if err := reads.NotifyRead(ctx, convID, cfg.PeerID); err != nil {
						log.Printf("read acknowledgement failed: %v", err)
					}
				}
			case line == "/status":
				log.Printf("peer %d: %s, session %s", cfg.PeerID, pres.Get(cfg.PeerID), sess.State())
			default:
				notifier.Keystroke(cfg.PeerID)
				if msg := ch.Send(ctx, line); msg.Status == models.StatusFailed {
					log.Println("message queued, /retry to re-send")
				}
			}
		}
	})
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
