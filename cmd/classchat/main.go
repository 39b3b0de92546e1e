// Command classchat is a terminal chat screen for one teacher/student room.
//
//	classchat -role student -student-id 42
//	classchat -role teacher -student-id 42 -user teacher-1
//
// Lines typed on stdin are sent as text messages. "/typing" sends a typing
// signal and "/quit" leaves the room.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"classroom-relay/internal/capability"
	"classroom-relay/internal/client"
	"classroom-relay/internal/models"
)

func main() {
	url := flag.String("url", "ws://localhost:3001/ws", "relay websocket url")
	role := flag.String("role", models.UserTypeStudent, "teacher or student")
	studentID := flag.String("student-id", "", "student whose classroom room to open")
	userID := flag.String("user", "", "user id (defaults to the student id for students)")
	secret := flag.String("secret", os.Getenv("ROOM_TOKEN_SECRET"), "room token secret, when the relay enforces capabilities")
	flag.Parse()

	logger := log.New(os.Stderr, "classchat: ", log.LstdFlags)

	if *studentID == "" {
		logger.Fatal("-student-id is required")
	}
	if *role != models.UserTypeTeacher && *role != models.UserTypeStudent {
		logger.Fatalf("unknown role %q", *role)
	}
	if *userID == "" {
		if *role == models.UserTypeTeacher {
			logger.Fatal("-user is required for teachers")
		}
		*userID = *studentID
	}

	opts := client.Options{URL: *url, Logger: logger}
	if *secret != "" {
		issuer, err := capability.NewIssuer(*secret)
		if err != nil {
			logger.Fatal(err)
		}
		opts.TokenSource = func(roomID, uid string) (string, error) {
			return issuer.Issue(roomID, uid, 12*time.Hour)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adapter := client.New(opts)
	adapter.OnConnectionChange(func(up bool) {
		if !up {
			fmt.Println("-- offline mode: messages stay on this screen")
		}
	})
	adapter.OnUserJoined(func(ev models.PresenceEvent) {
		fmt.Printf("-- %s (%s) joined\n", ev.UserID, ev.UserType)
	})
	adapter.OnUserLeft(func(ev models.PresenceEvent) {
		fmt.Printf("-- %s (%s) left\n", ev.UserID, ev.UserType)
	})
	adapter.Connect(ctx)
	defer adapter.Close()

	room := models.ClassroomRoomID(*studentID)
	conv := client.OpenConversation(adapter, room, client.Participant{ID: *userID, Role: *role})
	defer conv.Close()
	fmt.Printf("-- room %s as %s (%s)\n", room, *userID, *role)

	printer := &transcript{self: *userID}
	conv.OnChange(func() { printer.update(conv.Messages(), conv.PeerTyping()) })

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			switch line {
			case "":
			case "/quit":
				return
			case "/typing":
				conv.Keystroke()
			default:
				if _, err := conv.Send(models.ChatMessage{Text: line}); err != nil {
					fmt.Printf("-- not sent: %v\n", err)
				}
			}
		}
	}
}

// transcript prints messages as they are appended and typing transitions.
type transcript struct {
	self string

	mu      sync.Mutex
	printed int
	typing  bool
}

func (t *transcript) update(msgs []models.ChatMessage, peerTyping bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(msgs) < t.printed {
		return
	}
	for _, m := range msgs[t.printed:] {
		if m.SenderID == t.self {
			continue
		}
		fmt.Printf("[%s] %s: %s\n", m.Timestamp, m.SenderID, describe(m))
	}
	t.printed = len(msgs)

	if peerTyping != t.typing {
		t.typing = peerTyping
		if peerTyping {
			fmt.Println("-- typing...")
		}
	}
}

func describe(m models.ChatMessage) string {
	switch m.Kind() {
	case models.MessageText:
		return m.Text
	case models.MessageFile:
		return fmt.Sprintf("[file %s] %s", m.FileName, m.FileURL)
	default:
		return fmt.Sprintf("[%s] %s", m.Kind(), m.FileURL)
	}
}
