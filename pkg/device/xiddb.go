package device

import "fmt"

// xidSeverity classifies well-known NVIDIA XID codes so the fault-log
// sub-check can enrich a bare numeric code with an operator-readable
// severity even when the kernel log line carries no message of its own.
var xidSeverity = map[uint32]string{
	13: "critical", 31: "critical", 43: "critical", 45: "critical",
	48: "critical", 61: "critical", 62: "critical", 63: "critical",
	64: "critical", 74: "critical", 79: "critical", 92: "critical",
	94: "critical", 95: "critical",
	8: "warning", 32: "warning", 38: "warning", 56: "warning",
	57: "warning", 68: "warning", 69: "warning", 119: "warning",
}

var xidDescription = map[uint32]string{
	8:   "GPU memory access fault",
	13:  "Graphics Engine Exception",
	31:  "GPU memory page fault",
	32:  "Invalid or corrupted push buffer stream",
	38:  "Driver firmware error",
	43:  "GPU stopped processing",
	45:  "Preemptive cleanup, due to previous errors",
	48:  "Double Bit ECC Error",
	56:  "Display engine error",
	57:  "Unknown error in channel",
	61:  "Internal Micro-controller Breakpoint",
	62:  "Internal Micro-controller Halt",
	63:  "ECC page retirement or row remapping recording event",
	64:  "ECC page retirement or row remapping recording failure",
	68:  "Video processor exception",
	69:  "GSP firmware error",
	74:  "NVLink error",
	79:  "GPU has fallen off the bus",
	92:  "High single bit ECC error rate",
	94:  "Contained ECC error",
	95:  "Uncontained ECC error",
	119: "GSP RPC timeout",
}

// XIDSeverity returns "critical", "warning", or "info" for a known XID code.
func XIDSeverity(code uint32) string {
	if sev, ok := xidSeverity[code]; ok {
		return sev
	}
	return "info"
}

// XIDDescription returns a human-readable description for a known XID
// code, or a generic fallback for an unrecognized one.
func XIDDescription(code uint32) string {
	if desc, ok := xidDescription[code]; ok {
		return desc
	}
	return fmt.Sprintf("XID error %d", code)
}
