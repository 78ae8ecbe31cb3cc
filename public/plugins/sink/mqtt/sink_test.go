package mqtt

import (
	"testing"

	"github.com/fujin-io/evstore/public/cerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish_UserProperties(t *testing.T) {
	conf := Config{Topic: "events/orders", QoS: 1}
	pub := publish(conf, []byte("{}"), [][]byte{
		[]byte("es-event-type"), []byte("OrderPlaced"),
		[]byte("es-event-number"), []byte("7"),
	})

	assert.Equal(t, "events/orders", pub.Topic)
	assert.Equal(t, byte(1), pub.QoS)
	require.NotNil(t, pub.Properties)
	require.Len(t, pub.Properties.User, 2)
	assert.Equal(t, "OrderPlaced", pub.Properties.User.Get("es-event-type"))
	assert.Equal(t, "7", pub.Properties.User.Get("es-event-number"))
}

func TestPublish_NoHeaders(t *testing.T) {
	pub := publish(Config{Topic: "t"}, []byte("x"), nil)
	assert.Nil(t, pub.Properties)
}

func TestConfig_Validate(t *testing.T) {
	c := Config{BrokerURL: "mqtt://localhost:1883", ClientID: "relay", Topic: "t", QoS: 3}
	assert.ErrorIs(t, c.Validate(), cerr.ErrValidateConf)

	c.QoS = 1
	assert.NoError(t, c.Validate())

	c.ClientID = ""
	assert.ErrorIs(t, c.Validate(), cerr.ErrValidateConf)
}

func TestConfig_SetDefaults(t *testing.T) {
	var c Config
	c.SetDefaults()
	assert.Equal(t, uint16(30), c.KeepAlive)
	assert.Equal(t, 64, c.Pool.Size)
	assert.NotZero(t, c.ConnectTimeout)
	assert.NotZero(t, c.DisconnectTimeout)
}
