package tp

// AddressHeaderLen is the number of address bytes in front of the PCI:
// target then source, each addressWidth bytes wide.
func AddressHeaderLen(addressWidth int) int {
	return addressWidth * 2
}

// writeAddress stores target (remote) and source (local) big-endian.
func writeAddress(buf []byte, addressWidth int, c Connection) {
	if addressWidth == 1 {
		buf[0] = byte(c.RemoteAddress)
		buf[1] = byte(c.LocalAddress)
		return
	}
	buf[0] = byte(c.RemoteAddress >> 8)
	buf[1] = byte(c.RemoteAddress)
	buf[2] = byte(c.LocalAddress >> 8)
	buf[3] = byte(c.LocalAddress)
}

// readAddress is the inverse of writeAddress.
func readAddress(buf []byte, addressWidth int) (target, source uint16) {
	if addressWidth == 1 {
		return uint16(buf[0]), uint16(buf[1])
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), uint16(buf[2])<<8 | uint16(buf[3])
}
