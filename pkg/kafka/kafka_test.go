package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSON(t *testing.T) {
	type batch struct {
		Batch  int    `json:"batch"`
		Status string `json:"status"`
	}
	got, err := DecodeJSON[batch]([]byte(`{"batch":3,"status":"success"}`))
	require.NoError(t, err)
	assert.Equal(t, batch{Batch: 3, Status: "success"}, got)

	_, err = DecodeJSON[batch]([]byte(`{`))
	assert.Error(t, err)
}

func TestPingNoBrokers(t *testing.T) {
	err := Ping(context.Background(), nil)
	assert.EqualError(t, err, "no kafka brokers configured")
}

func TestPingUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// Port 1 on loopback is never a Kafka broker.
	assert.Error(t, Ping(ctx, []string{"127.0.0.1:1"}))
}
