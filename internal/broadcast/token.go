package broadcast

import (
	"fmt"
	"strconv"
	"strings"
)

// Token pins a broadcast to the exact source message captured at arm time.
// It round-trips through a callback button, so the confirm step never
// re-resolves the admin's original reply.
type Token struct {
	ChatID    int64
	MessageID int
}

const tokenPrefix = "bc"

func (t Token) Encode() string {
	return fmt.Sprintf("%s|%d|%d", tokenPrefix, t.ChatID, t.MessageID)
}

func ParseToken(s string) (Token, error) {
	parts := strings.Split(strings.TrimSpace(s), "|")
	if len(parts) != 3 || parts[0] != tokenPrefix {
		return Token{}, fmt.Errorf("malformed broadcast token %q", s)
	}
	chatID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Token{}, fmt.Errorf("broadcast token chat id: %w", err)
	}
	msgID, err := strconv.Atoi(parts[2])
	if err != nil {
		return Token{}, fmt.Errorf("broadcast token message id: %w", err)
	}
	return Token{ChatID: chatID, MessageID: msgID}, nil
}
