package device

import (
	"context"
	"fmt"

	"github.com/danmuck/ionpump/internal/protocol"
)

func (s *Session) Pressure(ctx context.Context) (float64, error) {
	return s.numeric(ctx, protocol.CmdReadPressure)
}

func (s *Session) Voltage(ctx context.Context) (float64, error) {
	return s.numeric(ctx, protocol.CmdReadVoltage)
}

func (s *Session) Current(ctx context.Context) (float64, error) {
	return s.numeric(ctx, protocol.CmdReadCurrent)
}

// SupplyStatus returns the controller status text verbatim.
func (s *Session) SupplyStatus(ctx context.Context) (string, error) {
	return s.text(ctx, protocol.CmdSupplyStatus)
}

// TurnOn starts the pump high voltage and returns the controller acknowledgement.
func (s *Session) TurnOn(ctx context.Context) (string, error) {
	return s.text(ctx, protocol.CmdPumpOn)
}

// TurnOff stops the pump high voltage and returns the controller acknowledgement.
func (s *Session) TurnOff(ctx context.Context) (string, error) {
	return s.text(ctx, protocol.CmdPumpOff)
}

func (s *Session) numeric(ctx context.Context, cmd protocol.CommandCode) (float64, error) {
	raw, err := s.Query(ctx, cmd)
	if err != nil {
		return 0, err
	}
	v, err := protocol.ParseNumericResponse(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", cmd.Name(), err)
	}
	return v, nil
}

func (s *Session) text(ctx context.Context, cmd protocol.CommandCode) (string, error) {
	raw, err := s.Query(ctx, cmd)
	if err != nil {
		return "", err
	}
	return protocol.ParseTextResponse(raw), nil
}
