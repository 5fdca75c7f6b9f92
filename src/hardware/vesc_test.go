package hardware

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufferPort struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (p *bufferPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Write(b)
}

func (p *bufferPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *bufferPort) bytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.buf.Bytes()...)
}

func TestCRC16_XModemCheckValue(t *testing.T) {
	assert.Equal(t, uint16(0x31C3), crc16([]byte("123456789")))
}

func TestEncodeCommand_RPMFrame(t *testing.T) {
	pkt := encodeCommand(commSetRPM, 1000)

	require.Len(t, pkt, 10)
	assert.Equal(t, byte(0x02), pkt[0])
	assert.Equal(t, byte(5), pkt[1])
	assert.Equal(t, []byte{8, 0x00, 0x00, 0x03, 0xE8}, pkt[2:7])
	crc := crc16(pkt[2:7])
	assert.Equal(t, []byte{byte(crc >> 8), byte(crc)}, pkt[7:9])
	assert.Equal(t, byte(0x03), pkt[9])
}

func TestEncodeCommand_NegativeValue(t *testing.T) {
	pkt := encodeCommand(commSetRPM, -1)
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, pkt[3:7])
}

func TestVESC_PacketScalesByMode(t *testing.T) {
	tests := []struct {
		mode  VESCMode
		value float64
		id    byte
		want  int32
	}{
		{VESCRPM, 1500, commSetRPM, 1500},
		{VESCDuty, 0.1, commSetDuty, 10000},
		{VESCDuty, -0.12, commSetDuty, -12000},
		{VESCCurrent, 2.5, commSetCurrent, 2500},
	}

	for _, tt := range tests {
		v := newVESC("test", &bufferPort{}, tt.mode, nil)
		assert.Equal(t, encodeCommand(tt.id, tt.want), v.packet(tt.value))
	}
}

func TestVESC_RunWritesQueuedPackets(t *testing.T) {
	port := &bufferPort{}
	v := newVESC("Drum", port, VESCRPM, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		v.Run(ctx)
		close(done)
	}()

	require.NoError(t, v.SetSpeed(1000))

	want := encodeCommand(commSetRPM, 1000)
	assert.Eventually(t, func() bool {
		return bytes.Equal(port.bytes(), want)
	}, time.Second, time.Millisecond)

	cancel()
	<-done
	assert.True(t, port.closed)
}

func TestVESC_SetSpeedNeverBlocks(t *testing.T) {
	v := newVESC("Drum", &bufferPort{}, VESCRPM, nil)

	var err error
	for _n := 0; _n < 20; _n++ {
		err = v.SetSpeed(1)
	}
	assert.ErrorIs(t, err, ErrTxBusy)
}

func TestParseVESCMode(t *testing.T) {
	m, err := ParseVESCMode("duty")
	require.NoError(t, err)
	assert.Equal(t, VESCDuty, m)

	_, err = ParseVESCMode("torque")
	assert.Error(t, err)
}

func TestVESC_RunFlushesQueuedPacketsOnCancel(t *testing.T) {
	port := &bufferPort{}
	v := newVESC("Drum", port, VESCRPM, nil)
	require.NoError(t, v.SetSpeed(0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	v.Run(ctx)

	assert.Equal(t, encodeCommand(commSetRPM, 0), port.bytes())
	assert.True(t, port.closed)
}
