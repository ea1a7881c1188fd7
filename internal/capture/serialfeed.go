package capture

import (
	"bufio"
	"bytes"
	"context"
	"fmt"

	"go.bug.st/serial"
)

// SerialSource reads newline-framed reader payloads from a serial port and
// feeds them through raw decoding. Wired desktop readers and the bridge
// boards used in older installs both speak this framing.
type SerialSource struct {
	portName string
	baud     int
	manager  *Manager

	open func(name string, mode *serial.Mode) (serial.Port, error)
}

// NewSerialSource creates a source for the named port.
func NewSerialSource(portName string, baud int, manager *Manager) *SerialSource {
	return &SerialSource{
		portName: portName,
		baud:     baud,
		manager:  manager,
		open:     serial.Open,
	}
}

// Name implements Source.
func (s *SerialSource) Name() string {
	return "serial:" + s.portName
}

// Start opens the port and reads frames until the context is cancelled.
func (s *SerialSource) Start(ctx context.Context) error {
	port, err := s.open(s.portName, &serial.Mode{BaudRate: s.baud})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.portName, err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = port.Close()
		case <-done:
			_ = port.Close()
		}
	}()

	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		frame := bytes.TrimSpace(scanner.Bytes())
		if len(frame) == 0 {
			continue
		}
		payload := make([]byte, len(frame))
		copy(payload, frame)
		s.manager.IngestRaw(s.Name(), payload)
	}

	if ctx.Err() != nil {
		return nil
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("serial read on %s: %w", s.portName, err)
	}
	return nil
}
