package chat

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/duskline/rdtp/endpoint"
)

// ErrUnknownRecipient is returned by SendDM when the target username has
// no live session in the room.
var ErrUnknownRecipient = errors.New("chat: recipient is not online")

// ParseDirectMessage splits a line of the form "/msg <username> <text>"
// into its recipient and body. ok is false for any line not in that form,
// letting the caller fall through to a plain room broadcast.
func ParseDirectMessage(line string) (to, text string, ok bool) {
	const prefix = "/msg "
	if !strings.HasPrefix(line, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(line, prefix)
	parts := strings.SplitN(rest, " ", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// SendDM delivers text from "from" directly to the recipient's connection,
// bypassing room history and every other session.
func (rm *Room) SendDM(from, to, text string) error {
	recipient, ok := rm.Sessions.Lookup(to)
	if !ok {
		return ErrUnknownRecipient
	}

	line := fmt.Sprintf("[dm from %s] %s", from, text)
	return endpoint.SendMsgBlocking(recipient.Conn, []byte(line), defaultSendTimeout)
}
