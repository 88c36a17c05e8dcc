package commandbus_test

import (
	"testing"
	"time"

	"github.com/illmade-knight/go-krc20bot/pkg/commandbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCommand(t *testing.T) {
	received := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Normalises the name and fills defaults", func(t *testing.T) {
		d := commandbus.Delivery{
			ID:         "msg-1",
			Payload:    []byte(`{"name":" !Status ","args":["nacho"],"channelId":"c1","authorId":"u1"}`),
			ReceivedAt: received,
		}

		cmd, err := commandbus.DecodeCommand(d)

		require.NoError(t, err)
		assert.Equal(t, "status", cmd.Name)
		assert.Equal(t, []string{"nacho"}, cmd.Args)
		assert.Equal(t, "msg-1", cmd.ID, "delivery ID is used when the command has none")
		assert.Equal(t, received, cmd.ReceivedAt)
		assert.False(t, cmd.AuthorIsBot)
	})

	t.Run("Keeps an explicit ID", func(t *testing.T) {
		d := commandbus.Delivery{ID: "msg-2", Payload: []byte(`{"id":"cmd-9","name":"help"}`)}

		cmd, err := commandbus.DecodeCommand(d)

		require.NoError(t, err)
		assert.Equal(t, "cmd-9", cmd.ID)
	})

	t.Run("Rejects bad JSON", func(t *testing.T) {
		_, err := commandbus.DecodeCommand(commandbus.Delivery{ID: "x", Payload: []byte(`{`)})
		assert.Error(t, err)
	})

	t.Run("Rejects an empty name", func(t *testing.T) {
		_, err := commandbus.DecodeCommand(commandbus.Delivery{ID: "x", Payload: []byte(`{"name":"!"}`)})
		assert.Error(t, err)
	})
}
