package protocol

import (
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/danmuck/ionpump/internal/testutil/testlog"
)

var packetGrammar = regexp.MustCompile(`^~ ([0-9]{2}) ([0-9A-Za-z]{2}) ([0-9A-F]{2})\r$`)

func TestBuildCommandGrammarAllAddresses(t *testing.T) {
	testlog.Start(t)
	for addr := MinAddress; addr <= MaxAddress; addr++ {
		for _, cmd := range Commands() {
			packet := BuildCommand(addr, cmd)
			m := packetGrammar.FindStringSubmatch(packet)
			if m == nil {
				t.Fatalf("packet %q does not match grammar (addr=%d cmd=%s)", packet, addr, cmd)
			}
			if m[1] != fmt.Sprintf("%02d", addr) {
				t.Fatalf("address field=%q want=%02d", m[1], addr)
			}
			if m[2] != string(cmd) {
				t.Fatalf("command field=%q want=%q", m[2], cmd)
			}
			if m[3] != fmt.Sprintf("%02X", Checksum(addr, cmd)) {
				t.Fatalf("checksum field=%q want=%02X", m[3], Checksum(addr, cmd))
			}
		}
	}
}

func TestChecksumKnownPackets(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		addr   int
		cmd    CommandCode
		sum    uint8
		packet string
	}{
		{addr: 1, cmd: CmdReadPressure, sum: 0x33, packet: "~ 01 0B 33\r"},
		{addr: 0, cmd: CmdPumpOn, sum: 0x2A, packet: "~ 00 37 2A\r"},
		{addr: 99, cmd: CmdSupplyStatus, sum: 0x46, packet: "~ 99 0D 46\r"},
		{addr: 5, cmd: CmdReadVoltage, sum: 0x38, packet: "~ 05 0C 38\r"},
	}
	for _, tc := range cases {
		if got := Checksum(tc.addr, tc.cmd); got != tc.sum {
			t.Fatalf("checksum(%d,%s)=%#x want=%#x", tc.addr, tc.cmd, got, tc.sum)
		}
		if got := BuildCommand(tc.addr, tc.cmd); got != tc.packet {
			t.Fatalf("build(%d,%s)=%q want=%q", tc.addr, tc.cmd, got, tc.packet)
		}
	}
}

func TestChecksumWrapsModulo256(t *testing.T) {
	testlog.Start(t)
	// "99" + "zz" + spaces = 114 + 244 + 96 = 454 -> 198
	if got := Checksum(99, CommandCode("zz")); got != 198 {
		t.Fatalf("checksum=%d want=198", got)
	}
}

func TestCommandCodesAreDistinct(t *testing.T) {
	testlog.Start(t)
	seen := make(map[CommandCode]struct{})
	for _, cmd := range Commands() {
		if len(cmd) != 2 {
			t.Fatalf("command %q is not two characters", cmd)
		}
		if _, ok := seen[cmd]; ok {
			t.Fatalf("duplicate command code %q", cmd)
		}
		seen[cmd] = struct{}{}
	}
	if CmdReadVoltage == CmdReadCurrent {
		t.Fatalf("voltage and current share a code")
	}
}

func TestParseNumericResponse(t *testing.T) {
	testlog.Start(t)
	got, err := ParseNumericResponse("  1.23e-5 \r")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != 1.23e-5 {
		t.Fatalf("got=%v want=1.23e-5", got)
	}

	got, err = ParseNumericResponse("\r\n-42\r")
	if err != nil || got != -42 {
		t.Fatalf("got=%v err=%v", got, err)
	}
}

func TestParseNumericResponseRejectsText(t *testing.T) {
	testlog.Start(t)
	for _, raw := range []string{"ON", "1.2.3", "NaN", "+Inf", "  \r"} {
		if _, err := ParseNumericResponse(raw); !errors.Is(err, ErrInvalidResponse) {
			t.Fatalf("raw=%q expected ErrInvalidResponse, got %v", raw, err)
		}
	}
	if _, err := ParseNumericResponse(""); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestParseTextResponseTrimsDelimitersOnly(t *testing.T) {
	testlog.Start(t)
	if got := ParseTextResponse("  RUNNING 7\r\n"); got != "RUNNING 7" {
		t.Fatalf("got=%q", got)
	}
	if got := ParseTextResponse("\r"); got != "" {
		t.Fatalf("got=%q", got)
	}
}
