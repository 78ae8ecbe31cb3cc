package amqp10

import (
	"testing"

	"github.com/fujin-io/evstore/public/cerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_ApplicationProperties(t *testing.T) {
	m := message([]byte("body"), [][]byte{
		[]byte("es-event-id"), []byte("id-1"),
		[]byte("es-stream"), []byte("orders-1"),
	})

	assert.Equal(t, []byte("body"), m.GetData())
	assert.Equal(t, "orders-1", m.ApplicationProperties["es-stream"])
	require.NotNil(t, m.Properties)
	assert.Equal(t, "id-1", m.Properties.MessageID)
}

func TestMessage_NoHeaders(t *testing.T) {
	m := message([]byte("body"), nil)
	assert.Nil(t, m.ApplicationProperties)
	assert.Nil(t, m.Properties)
}

func TestConfig_Validate(t *testing.T) {
	c := Config{Sender: SenderConfig{Target: "events"}}
	assert.ErrorIs(t, c.Validate(), cerr.ErrValidateConf)

	c.Conn.Addr = "amqp://localhost:5672"
	assert.NoError(t, c.Validate())

	c.Sender.Target = ""
	assert.ErrorIs(t, c.Validate(), cerr.ErrValidateConf)
}
