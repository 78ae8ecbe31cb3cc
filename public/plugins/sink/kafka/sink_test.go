package kafka

import (
	"testing"

	"github.com/fujin-io/evstore/public/cerr"
	"github.com/stretchr/testify/assert"
)

func TestRecord_HeadersAndKey(t *testing.T) {
	conf := Config{Topic: "events", KeyHeader: "es-stream"}
	rec := record(conf, []byte("payload"), [][]byte{
		[]byte("es-event-type"), []byte("OrderPlaced"),
		[]byte("es-stream"), []byte("orders-1"),
	})

	assert.Equal(t, "events", rec.Topic)
	assert.Equal(t, []byte("payload"), rec.Value)
	assert.Equal(t, []byte("orders-1"), rec.Key)
	assert.Len(t, rec.Headers, 2)
	assert.Equal(t, "es-event-type", rec.Headers[0].Key)
	assert.Equal(t, []byte("OrderPlaced"), rec.Headers[0].Value)
}

func TestRecord_NoKeyHeader(t *testing.T) {
	rec := record(Config{Topic: "events"}, []byte("p"), [][]byte{[]byte("es-stream"), []byte("orders-1")})
	assert.Nil(t, rec.Key)
}

func TestConfig_Validate(t *testing.T) {
	c := Config{Topic: "events"}
	assert.ErrorIs(t, c.Validate(), cerr.ErrValidateConf)

	c = Config{Brokers: []string{"localhost:9092"}}
	assert.ErrorIs(t, c.Validate(), cerr.ErrValidateConf)

	c = Config{Brokers: []string{"a:9092", "b:9092"}, Topic: "events"}
	assert.NoError(t, c.Validate())
	assert.Equal(t, "a:9092,b:9092", c.Endpoint())
}

func TestKgoOpts_Optional(t *testing.T) {
	base := kgoOpts(Config{Brokers: []string{"a:9092"}, Topic: "t"}, nil)
	full := kgoOpts(Config{
		Brokers:                []string{"a:9092"},
		Topic:                  "t",
		AllowAutoTopicCreation: true,
		DisableIdempotentWrite: true,
		Linger:                 1,
		MaxBufferedRecords:     10,
	}, nil)
	assert.Len(t, base, 2)
	assert.Len(t, full, 6)
}
