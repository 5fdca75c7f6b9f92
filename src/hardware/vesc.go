// Package hardware holds the drivers for the brewer's physical outputs and
// the flow sensor input.
package hardware

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// VESC UART command ids.
const (
	commSetDuty    = 5
	commSetCurrent = 6
	commSetRPM     = 8
)

var ErrTxBusy = errors.New("transmit queue full")

// VESCMode selects which setpoint SetSpeed sends.
type VESCMode int

const (
	VESCRPM VESCMode = iota
	VESCDuty
	VESCCurrent
)

func ParseVESCMode(s string) (VESCMode, error) {
	switch s {
	case "rpm":
		return VESCRPM, nil
	case "duty":
		return VESCDuty, nil
	case "current":
		return VESCCurrent, nil
	}
	return 0, fmt.Errorf("unknown VESC mode %q", s)
}

// VESC drives a VESC motor controller over UART. SetSpeed never blocks: packets
// are queued for the writer started by Run.
type VESC struct {
	name string
	mode VESCMode
	port io.WriteCloser
	tx   chan []byte
	log  *zap.SugaredLogger
}

func OpenVESC(name, path string, baud int, mode VESCMode, log *zap.SugaredLogger) (*VESC, error) {
	p, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return newVESC(name, p, mode, log), nil
}

func newVESC(name string, port io.WriteCloser, mode VESCMode, log *zap.SugaredLogger) *VESC {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &VESC{name: name, mode: mode, port: port, tx: make(chan []byte, 8), log: log}
}

// SetSpeed sends RPM, duty (-1..1) or current (A) depending on the mode.
func (v *VESC) SetSpeed(value float64) error {
	select {
	case v.tx <- v.packet(value):
		return nil
	default:
		return ErrTxBusy
	}
}

// Run writes queued packets until ctx is cancelled, then flushes whatever is
// still queued and closes the port.
func (v *VESC) Run(ctx context.Context) {
	defer v.port.Close()
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case pkt := <-v.tx:
					v.write(pkt)
				default:
					return
				}
			}
		case pkt := <-v.tx:
			v.write(pkt)
		}
	}
}

func (v *VESC) write(pkt []byte) {
	if _, err := v.port.Write(pkt); err != nil {
		v.log.Warnf("%s: write failed: %v", v.name, err)
	}
}

func (v *VESC) packet(value float64) []byte {
	switch v.mode {
	case VESCDuty:
		return encodeCommand(commSetDuty, int32(math.Round(value*100000)))
	case VESCCurrent:
		return encodeCommand(commSetCurrent, int32(math.Round(value*1000)))
	default:
		return encodeCommand(commSetRPM, int32(math.Round(value)))
	}
}

func encodeCommand(id byte, value int32) []byte {
	payload := make([]byte, 5)
	payload[0] = id
	binary.BigEndian.PutUint32(payload[1:], uint32(value))
	return encodePacket(payload)
}

// encodePacket frames a short payload: 0x02, length, payload, CRC16, 0x03.
func encodePacket(payload []byte) []byte {
	pkt := make([]byte, 0, len(payload)+5)
	pkt = append(pkt, 0x02, byte(len(payload)))
	pkt = append(pkt, payload...)
	pkt = binary.BigEndian.AppendUint16(pkt, crc16(payload))
	return append(pkt, 0x03)
}

// crc16 is CRC-16/XMODEM (poly 0x1021, init 0).
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for _n := 0; _n < 8; _n++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
