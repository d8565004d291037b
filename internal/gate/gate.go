package gate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

const (
	CommandOpen  byte = 'O'
	CommandClose byte = 'C'
)

// settleDelay gives an Arduino-style board time to reboot after the port opens.
const settleDelay = 2 * time.Second

var ErrClosed = errors.New("gate port is closed")

// Controller drives the barrier. Implementations must be safe for sequential use
// by a single Cycler.
type Controller interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
}

type SerialController struct {
	mu   sync.Mutex
	port io.WriteCloser
	name string
	log  zerolog.Logger
}

func OpenSerial(portName string, baudRate int, log zerolog.Logger) (*SerialController, error) {
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", portName, err)
	}
	time.Sleep(settleDelay)

	log.Info().Str("port", portName).Int("baud_rate", baudRate).Msg("gate serial port opened")
	return NewSerialController(port, portName, log), nil
}

func NewSerialController(port io.WriteCloser, name string, log zerolog.Logger) *SerialController {
	return &SerialController{
		port: port,
		name: name,
		log:  log.With().Str("component", "gate").Str("port", name).Logger(),
	}
}

func (s *SerialController) Open(_ context.Context) error {
	return s.write(CommandOpen)
}

func (s *SerialController) Close(_ context.Context) error {
	return s.write(CommandClose)
}

func (s *SerialController) write(cmd byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return ErrClosed
	}
	if _, err := s.port.Write([]byte{cmd}); err != nil {
		return fmt.Errorf("write gate command %q: %w", cmd, err)
	}
	s.log.Debug().Str("command", string(cmd)).Msg("gate command sent")
	return nil
}

func (s *SerialController) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// NoopController is used when no gate hardware is attached.
type NoopController struct {
	log zerolog.Logger
}

func NewNoopController(log zerolog.Logger) *NoopController {
	return &NoopController{log: log.With().Str("component", "gate").Logger()}
}

func (n *NoopController) Open(_ context.Context) error {
	n.log.Info().Msg("gate open (no hardware attached)")
	return nil
}

func (n *NoopController) Close(_ context.Context) error {
	n.log.Info().Msg("gate close (no hardware attached)")
	return nil
}
