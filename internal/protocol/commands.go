package protocol

// CommandCode is the two-character operation token carried in every packet.
type CommandCode string

// Controller command table. Every operation has its own code.
const (
	CmdReadCurrent  CommandCode = "0A"
	CmdReadPressure CommandCode = "0B"
	CmdReadVoltage  CommandCode = "0C"
	CmdSupplyStatus CommandCode = "0D"
	CmdPumpOn       CommandCode = "37"
	CmdPumpOff      CommandCode = "38"
)

// Commands lists every supported command code in table order.
func Commands() []CommandCode {
	return []CommandCode{
		CmdReadCurrent,
		CmdReadPressure,
		CmdReadVoltage,
		CmdSupplyStatus,
		CmdPumpOn,
		CmdPumpOff,
	}
}

// Name returns a stable label for logs and metrics.
func (c CommandCode) Name() string {
	switch c {
	case CmdReadCurrent:
		return "read_current"
	case CmdReadPressure:
		return "read_pressure"
	case CmdReadVoltage:
		return "read_voltage"
	case CmdSupplyStatus:
		return "supply_status"
	case CmdPumpOn:
		return "pump_on"
	case CmdPumpOff:
		return "pump_off"
	default:
		return "cmd_" + string(c)
	}
}
