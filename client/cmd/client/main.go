package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/roomcast/roomcast/client/internal/session"
	"github.com/roomcast/roomcast/pkg/types"
)

func main() {
	server := flag.String("server", "ws://localhost:8001", "roomcast server base URL")
	roomID := flag.String("room", "1", "room id to join")
	roleFlag := flag.String("role", "observer", "requested role: observer|admin|host")
	token := flag.String("token", "", "identity token; defaults to $ROOMCAST_TOKEN, then the token file")
	tokenFile := flag.String("token-file", defaultTokenFile(), "file holding a generated identity token")
	key := flag.String("key", "", "admin key sent with init; defaults to $ROOMCAST_KEY")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	_ = godotenv.Load()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	role, ok := types.ParseRole(*roleFlag)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *roleFlag)
		os.Exit(2)
	}

	tok := *token
	if tok == "" {
		tok = os.Getenv("ROOMCAST_TOKEN")
	}
	if tok == "" {
		var err error
		if tok, err = session.LoadOrCreateToken(*tokenFile); err != nil {
			slog.Error("failed to load token", "err", err)
			os.Exit(1)
		}
	}

	adminKey := *key
	if adminKey == "" {
		adminKey = os.Getenv("ROOMCAST_KEY")
	}

	out := json.NewEncoder(os.Stdout)
	sess, err := session.New(session.Config{
		ServerURL: *server,
		Room:      *roomID,
		Role:      role,
		Token:     tok,
		Key:       adminKey,
	},
		session.OnSnapshot(func(s types.Snapshot) { out.Encode(s) }), //nolint:errcheck
		session.OnError(func(e types.ErrorData) {
			fmt.Fprintf(os.Stderr, "server: %s: %s\n", e.Code, e.Message)
		}),
	)
	if err != nil {
		slog.Error("invalid session config", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("roomcast-client starting", "url", sess.URL(), "role", role, "token", redact(tok), "key_set", adminKey != "")

	go readCommands(sess, cancel)

	if err := sess.Run(ctx); err != nil {
		if errors.Is(err, session.ErrKicked) {
			fmt.Fprintln(os.Stderr, "kicked from room")
		} else {
			slog.Error("session ended", "err", err)
		}
		os.Exit(1)
	}
}

// readCommands applies stdin lines to sess until EOF or quit.
func readCommands(sess *session.Session, stop context.CancelFunc) {
	defer stop()
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		cmd, err := parseCommand(sc.Text())
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		switch cmd.name {
		case "vote":
			err = sess.Vote(cmd.arg)
		case "meta":
			err = sess.UpdateMeta(cmd.title, cmd.desc)
		case "clear":
			err = sess.ClearVotes()
		case "kick":
			err = sess.Kick(cmd.arg)
		case "quit":
			return
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".roomcast-token"
	}
	return filepath.Join(dir, "roomcast", "token")
}
