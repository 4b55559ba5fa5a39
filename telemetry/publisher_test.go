package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventEncoding(t *testing.T) {
	e := Event{
		Name:    "info-probe",
		Path:    "/api/v2/info",
		Version: 2,
		Time:    time.Date(2026, 2, 3, 11, 30, 0, 0, time.UTC),
	}

	payload, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"name":"info-probe","path":"/api/v2/info","version":2,"time":"2026-02-03T11:30:00Z"}`,
		string(payload),
	)
}

func TestEventEncodingOmitsZeroVersion(t *testing.T) {
	payload, err := json.Marshal(Event{Name: "shutdown", Time: time.Now()})
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "version")
}

func TestPublishNeverBlocks(t *testing.T) {
	// nothing listens on this address, delivery can only fail
	p := NewRedisPublisher(Options{Addr: "127.0.0.1:1"})
	defer p.Close()

	done := make(chan struct{})
	go func() {
		p.Publish(Event{Name: "info-probe", Path: "/api/v1/info", Version: 1, Time: time.Now()})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked the caller")
	}
}

func TestDefaultChannel(t *testing.T) {
	p := NewRedisPublisher(Options{Addr: "127.0.0.1:1"})
	defer p.Close()
	assert.Equal(t, DefaultChannel, p.channel)
}
