package protocol

import "fmt"

const (
	StartMarker byte = '~'
	Terminator  byte = '\r'

	// SpaceContribution is the checksum share of the three literal spaces
	// between marker, address, command and checksum.
	SpaceContribution = 3 * ' '

	MinAddress = 0
	MaxAddress = 99
)

// FormatAddress renders addr as the two-digit decimal address field.
func FormatAddress(addr int) string {
	return fmt.Sprintf("%02d", addr)
}

// Checksum returns the packet checksum for addr and cmd: the ASCII sum of the
// address field, the command field and the three separating spaces, mod 256.
func Checksum(addr int, cmd CommandCode) uint8 {
	sum := int(SpaceContribution)
	sum += asciiSum(FormatAddress(addr))
	sum += asciiSum(string(cmd))
	return uint8(sum % 256)
}

// BuildCommand returns the complete request packet "~ AA CC XX\r".
// addr must already be within [MinAddress, MaxAddress].
func BuildCommand(addr int, cmd CommandCode) string {
	return fmt.Sprintf("%c %s %s %02X%c",
		StartMarker,
		FormatAddress(addr),
		string(cmd),
		Checksum(addr, cmd),
		Terminator,
	)
}

func asciiSum(s string) int {
	total := 0
	for i := 0; i < len(s); i++ {
		total += int(s[i])
	}
	return total
}
