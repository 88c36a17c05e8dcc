package commandbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Delivery is a raw command as received from a broker, together with the
// handles used to settle it.
type Delivery struct {
	// ID is the broker's message identifier.
	ID string
	// Payload is the JSON encoded Command.
	Payload []byte
	// Attributes holds broker metadata (Pub/Sub attributes, MQTT topic).
	Attributes map[string]string
	// ReceivedAt is when the broker published or delivered the message.
	ReceivedAt time.Time

	// Ack signals that the command was handled and must not be redelivered.
	Ack func()
	// Nack signals that handling failed and the command may be redelivered.
	Nack func()
}

// Command is a chat command already split into a name and arguments by the
// chat gateway bridge.
type Command struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Args        []string  `json:"args,omitempty"`
	ChannelID   string    `json:"channelId"`
	AuthorID    string    `json:"authorId"`
	AuthorIsBot bool      `json:"authorIsBot"`
	ReceivedAt  time.Time `json:"receivedAt"`
}

// Status classifies the outcome of a command.
type Status string

const (
	StatusOK             Status = "ok"
	StatusBadRequest     Status = "bad_request"
	StatusUnknownCommand Status = "unknown_command"
	StatusInvalidKey     Status = "invalid_key"
	StatusUnavailable    Status = "unavailable"
)

// Reply is the structured answer to a Command. The bridge renders it for the
// chat platform.
type Reply struct {
	ID        string      `json:"id"`
	CommandID string      `json:"commandId"`
	ChannelID string      `json:"channelId"`
	Command   string      `json:"command"`
	Key       string      `json:"key,omitempty"`
	Status    Status      `json:"status"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// DecodeCommand parses a delivery payload. The command name is lower-cased
// and a leading "!" prefix is removed.
func DecodeCommand(d Delivery) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(d.Payload, &cmd); err != nil {
		return Command{}, fmt.Errorf("failed to decode command %s: %w", d.ID, err)
	}
	cmd.Name = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(cmd.Name), "!"))
	if cmd.Name == "" {
		return Command{}, errors.New("command name is empty")
	}
	if cmd.ID == "" {
		cmd.ID = d.ID
	}
	if cmd.ReceivedAt.IsZero() {
		cmd.ReceivedAt = d.ReceivedAt
	}
	return cmd, nil
}
