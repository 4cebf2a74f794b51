package rpc

import (
	"encoding/json"
	"io"
)

const (
	MethodGetPressure    = "get_pressure"
	MethodGetVoltage     = "get_voltage"
	MethodGetCurrent     = "get_current"
	MethodGetStatus      = "get_status"
	MethodTurnOn         = "turn_on"
	MethodTurnOff        = "turn_off"
	MethodConnectToPort  = "connect_to_port"
	MethodDisconnect     = "disconnect"
	MethodSetPumpAddress = "set_pump_address"
	MethodGetPumpAddress = "get_pump_address"
	MethodSessionInfo    = "session_info"
)

// Methods lists every method a Server dispatches.
func Methods() []string {
	return []string{
		MethodGetPressure,
		MethodGetVoltage,
		MethodGetCurrent,
		MethodGetStatus,
		MethodTurnOn,
		MethodTurnOff,
		MethodConnectToPort,
		MethodDisconnect,
		MethodSetPumpAddress,
		MethodGetPumpAddress,
		MethodSessionInfo,
	}
}

// Params carries method arguments. Unused fields are omitted.
type Params struct {
	Port    string `json:"port,omitempty"`
	Address *int   `json:"address,omitempty"`
}

// request is one call envelope, one per line.
type request struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params Params `json:"params,omitzero"`
}

// response is one result envelope, one per line, correlated by ID.
type response struct {
	ID    string          `json:"id"`
	OK    bool            `json:"ok"`
	Kind  ErrorKind       `json:"kind,omitempty"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func writeLine(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	_, err = w.Write(payload)
	return err
}
