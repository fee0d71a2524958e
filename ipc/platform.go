package ipc

import (
	"encoding/binary"
	"fmt"
	"runtime"
)

// Platform is the one-byte token exchanged in the handshake. Its only job on the
// wire is to tell each side which byte order the other uses for payloads.
type Platform uint8

const (
	PlatformUnknown   Platform = 0
	PlatformWindows   Platform = 1
	PlatformLinux     Platform = 2
	PlatformDarwin    Platform = 3
	PlatformBigEndian Platform = 4 // Any big-endian host (ppc64, s390x, mips)
)

func (p Platform) String() string {
	switch p {
	case PlatformUnknown:
		return "unknown"
	case PlatformWindows:
		return "windows"
	case PlatformLinux:
		return "linux"
	case PlatformDarwin:
		return "darwin"
	case PlatformBigEndian:
		return "big-endian"
	default:
		return fmt.Sprintf("platform(%d)", uint8(p))
	}
}

// Valid reports whether p is a known, concrete platform.
func (p Platform) Valid() bool {
	return p >= PlatformWindows && p <= PlatformBigEndian
}

func (p Platform) LittleEndian() bool {
	return p != PlatformBigEndian
}

// ByteOrder is the order this platform uses for multi-byte payload fields.
func (p Platform) ByteOrder() binary.ByteOrder {
	if p.LittleEndian() {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// LocalPlatform describes the running process.
func LocalPlatform() Platform {
	if binary.NativeEndian.Uint16([]byte{0, 1}) == 1 {
		return PlatformBigEndian
	}
	switch runtime.GOOS {
	case "windows":
		return PlatformWindows
	case "darwin", "ios":
		return PlatformDarwin
	default:
		return PlatformLinux
	}
}

// NeedsSwizzle reports whether payload fields must be byte-order corrected on the
// local side. Only a little-endian host corrects, and only against a known
// big-endian peer; the big-endian side always reads and writes its own order.
func NeedsSwizzle(local, remote Platform) bool {
	return local.LittleEndian() && remote.Valid() && !remote.LittleEndian()
}
