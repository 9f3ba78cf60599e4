package fieldbus

import (
	"context"
	"fmt"
	"time"

	"github.com/goburrow/modbus"

	"github.com/nerrad567/meterpoll/internal/utility"
)

// ModbusDialer connects to Modbus/TCP gateways.
type ModbusDialer struct{}

// Dial opens a TCP connection to addr. The timeout applies to the connect
// and to every subsequent request on the session.
func (ModbusDialer) Dial(ctx context.Context, addr utility.Address, timeout time.Duration) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	handler := modbus.NewTCPClientHandler(addr.String())
	handler.Timeout = timeout

	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}

	return &modbusSession{
		handler: handler,
		client:  modbus.NewClient(handler),
	}, nil
}

type modbusSession struct {
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

func (s *modbusSession) ReadRegisters(ctx context.Context, nodeID uint8, start, count uint16) ([]uint16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.handler.SlaveId = nodeID
	b, err := s.client.ReadHoldingRegisters(start, count)
	if err != nil {
		return nil, fmt.Errorf("reading %d registers at %d from node %d: %w", count, start, nodeID, err)
	}
	if len(b) != int(count)*2 {
		return nil, fmt.Errorf("%w: %d bytes for %d registers", ErrShortResponse, len(b), count)
	}
	return wordsFromBytes(b), nil
}

func (s *modbusSession) Close() error {
	return s.handler.Close()
}
