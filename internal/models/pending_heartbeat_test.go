package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingHeartbeatData(t *testing.T) {
	var p PendingHeartbeat
	in := HeartbeatData{App: "chrome", Title: "Example", TeamID: 12}

	require.NoError(t, p.SetData(in))
	assert.NotEmpty(t, p.Payload)

	out, err := p.Data()
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestPendingHeartbeatDataCorrupt(t *testing.T) {
	p := PendingHeartbeat{Payload: []byte{0xff, 0x00}}
	_, err := p.Data()
	assert.Error(t, err)
}
