package chat

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/duskline/rdtp/endpoint"
	"github.com/duskline/rdtp/transport"
)

// defaultSendTimeout bounds how long a room broadcast waits for a single
// recipient's send window to open before logging and moving on, so one
// slow client can't stall delivery to the rest of the room.
const defaultSendTimeout = 2 * time.Second

// Room is one shared channel: every logged-in session receives every
// broadcast message, plus a history backlog on join.
type Room struct {
	log      zerolog.Logger
	Name     string
	Sessions *Registry
	History  *History
}

func NewRoom(log zerolog.Logger, name string, historyLimit int) *Room {
	return &Room{
		log:      log.With().Str("room", name).Logger(),
		Name:     name,
		Sessions: NewRegistry(),
		History:  NewHistory(historyLimit),
	}
}

// Join logs username into the room over conn, replaying its history
// backlog, and returns the new Session.
func (rm *Room) Join(username string, conn *transport.Conn) (*Session, error) {
	s, err := rm.Sessions.Login(username, conn)
	if err != nil {
		return nil, err
	}

	for _, m := range rm.History.Snapshot() {
		rm.deliver(s, formatMessage(m.From, m.Text))
	}
	rm.Broadcast("", fmt.Sprintf("* %s joined %s", username, rm.Name))
	return s, nil
}

// Leave removes a session and announces its departure.
func (rm *Room) Leave(s *Session) {
	rm.Sessions.Logout(s)
	rm.Broadcast("", fmt.Sprintf("* %s left %s", s.Username, rm.Name))
}

// Broadcast records text in history (unless it's a system announcement,
// from == "") and fans it out to every logged-in session.
func (rm *Room) Broadcast(from, text string) {
	line := text
	if from != "" {
		rm.History.Append(from, text)
		line = formatMessage(from, text)
	}

	for _, s := range rm.Sessions.Sessions() {
		rm.deliver(s, line)
	}
}

func (rm *Room) deliver(s *Session, line string) {
	if err := endpoint.SendMsgBlocking(s.Conn, []byte(line), defaultSendTimeout); err != nil {
		rm.log.Warn().Err(err).Str("to", s.Username).Msg("failed to deliver room message")
	}
}

func formatMessage(from, text string) string {
	if from == "" {
		return text
	}
	return fmt.Sprintf("%s: %s", from, text)
}
