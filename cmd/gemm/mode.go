package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/23skdu/longbow-gemm/internal/device"
)

// Mode selects which devices participate in a run.
type Mode int

const (
	ModeCPU  Mode = 0
	ModeGPU  Mode = 1
	ModeBoth Mode = 2
)

func (m Mode) String() string {
	switch m {
	case ModeCPU:
		return "cpu"
	case ModeGPU:
		return "gpu"
	case ModeBoth:
		return "cpu+gpu"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Kinds returns the device kinds to run, in launch order.
func (m Mode) Kinds() []device.Kind {
	switch m {
	case ModeCPU:
		return []device.Kind{device.KindCPU}
	case ModeGPU:
		return []device.Kind{device.KindGPU}
	case ModeBoth:
		return []device.Kind{device.KindCPU, device.KindGPU}
	default:
		return nil
	}
}

// ParseMode validates the device_type argument.
func ParseMode(s string) (Mode, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, &UsageError{Msg: fmt.Sprintf("device_type %q is not a number", s)}
	}
	switch Mode(v) {
	case ModeCPU, ModeGPU, ModeBoth:
		return Mode(v), nil
	default:
		return 0, &UsageError{Msg: fmt.Sprintf("device_type %d out of range", v)}
	}
}

// UsageError reports a wrong or missing command line argument.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string {
	return e.Msg
}
