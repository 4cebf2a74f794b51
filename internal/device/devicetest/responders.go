package devicetest

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/danmuck/ionpump/internal/protocol"
)

var packetPattern = regexp.MustCompile(`^~ ([0-9]{2}) ([0-9A-Za-z]{2}) ([0-9A-F]{2})\r$`)

// Silent never replies.
func Silent() Responder {
	return func(string) (string, bool) { return "", false }
}

// Echo replies with the same text to every packet.
func Echo(reply string) Responder {
	return func(string) (string, bool) { return reply, true }
}

// Pump behaves like a controller at one address: it validates the packet
// grammar and checksum, ignores other addresses, answers "ER" to corrupt
// packets and looks replies up by command code.
func Pump(address int, replies map[protocol.CommandCode]string) Responder {
	return func(packet string) (string, bool) {
		m := packetPattern.FindStringSubmatch(packet)
		if m == nil {
			return "ER", true
		}
		addr, _ := strconv.Atoi(m[1])
		cmd := protocol.CommandCode(m[2])
		if m[3] != fmt.Sprintf("%02X", protocol.Checksum(addr, cmd)) {
			return "ER", true
		}
		if addr != address {
			return "", false
		}
		reply, ok := replies[cmd]
		if !ok {
			return "ER", true
		}
		return reply, true
	}
}

// DefaultReplies is a healthy pump at operating pressure.
func DefaultReplies() map[protocol.CommandCode]string {
	return map[protocol.CommandCode]string{
		protocol.CmdReadPressure: "1.23e-5",
		protocol.CmdReadVoltage:  "5000",
		protocol.CmdReadCurrent:  "2.5e-6",
		protocol.CmdSupplyStatus: "RUNNING",
		protocol.CmdPumpOn:       "OK",
		protocol.CmdPumpOff:      "OK",
	}
}
