package hifi

import "fmt"

// Mode is a top-level console mode, selected with codes 1..7.
type Mode int

const (
	ModeRadio Mode = iota + 1
	ModeCassette
	ModeTurntable
	ModeCD
	ModeDVD
	ModeAUX
	ModeVolume
)

// Modes lists every mode in code order.
var Modes = []Mode{ModeRadio, ModeCassette, ModeTurntable, ModeCD, ModeDVD, ModeAUX, ModeVolume}

var modeNames = map[Mode]string{
	ModeRadio:     "radio",
	ModeCassette:  "cassette",
	ModeTurntable: "turntable",
	ModeCD:        "cd",
	ModeDVD:       "dvd",
	ModeAUX:       "aux",
	ModeVolume:    "volume",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Valid reports whether m is one of the seven modes.
func (m Mode) Valid() bool { return m >= ModeRadio && m <= ModeVolume }

// DiscCommand is a disc sub-operation, selected with codes 1..4.
type DiscCommand int

const (
	DiscPlay DiscCommand = iota + 1
	DiscStop
	DiscNext
	DiscPrevious
)

// DiscCommands lists every disc command in code order.
var DiscCommands = []DiscCommand{DiscPlay, DiscStop, DiscNext, DiscPrevious}

func (c DiscCommand) String() string {
	switch c {
	case DiscPlay:
		return "play"
	case DiscStop:
		return "stop"
	case DiscNext:
		return "next"
	case DiscPrevious:
		return "previous"
	}
	return fmt.Sprintf("disc(%d)", int(c))
}

// Valid reports whether c is one of the four disc commands.
func (c DiscCommand) Valid() bool { return c >= DiscPlay && c <= DiscPrevious }

// Reserved extended codes. The channel validator accepts them but no actor
// consumes them yet.
const (
	CodeExtended1 = 100
	CodeExtended2 = 101
	CodeExtended3 = 102
)

// IsValidCode reports whether v belongs to the channel's validity set.
func IsValidCode(v int) bool {
	switch {
	case v >= 1 && v <= 7:
		return true
	case v == CodeExtended1, v == CodeExtended2, v == CodeExtended3:
		return true
	}
	return false
}
