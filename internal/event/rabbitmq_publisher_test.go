package event

import (
	"encoding/json"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage(t *testing.T) {
	e := New(TypeTransferred)
	e.AccountID = 3
	e.CounterpartyID = 8
	e.Amount = "500.00"

	msg, err := message(e)
	require.NoError(t, err)

	assert.Equal(t, e.ID, msg.MessageId)
	assert.Equal(t, "account.transferred", msg.Type)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, publisherAppID, msg.AppId)
	assert.True(t, e.Timestamp.Equal(msg.Timestamp))
	assert.Equal(t, int64(3), msg.Headers["accountId"])
	assert.NotContains(t, msg.Headers, "customerId")

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, e.ID, decoded.ID)
	assert.Equal(t, int64(8), decoded.CounterpartyID)
	assert.Equal(t, "500.00", decoded.Amount)
}

func TestNewRabbitMQPublisherRejectsBadArguments(t *testing.T) {
	_, err := NewRabbitMQPublisher(nil, "ledger", logger)
	assert.Error(t, err)

	_, err = NewRabbitMQPublisher(&amqp.Connection{}, "", logger)
	assert.Error(t, err)
}
