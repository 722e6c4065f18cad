package emu

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/sarchlab/x64sim/insts"
)

// AreaState is the persisted form of a memory area.
type AreaState struct {
	Name  string `json:"name" yaml:"name"`
	Start uint64 `json:"start" yaml:"start"`
	Data  string `json:"data" yaml:"data"` // hex
}

// State is a plain-data copy of the complete machine state.
type State struct {
	Registers map[string]uint64 `json:"registers" yaml:"registers"`
	RIP       uint64            `json:"rip" yaml:"rip"`
	RFLAGS    uint64            `json:"rflags" yaml:"rflags"`

	CodeStart uint64      `json:"code_start" yaml:"code_start"`
	Code      string      `json:"code" yaml:"code"` // hex
	Areas     []AreaState `json:"areas" yaml:"areas"`

	StackTop         uint64 `json:"stack_top" yaml:"stack_top"`
	InstructionCount uint64 `json:"instruction_count" yaml:"instruction_count"`
}

// Snapshot copies the machine state.
func (e *Emulator) Snapshot() *State {
	s := &State{
		Registers:        make(map[string]uint64, len(e.regFile.GPR)),
		RIP:              e.regFile.RIP,
		RFLAGS:           uint64(e.regFile.RFLAGS),
		StackTop:         e.stackTop,
		InstructionCount: e.instructionCount,
	}

	for i, v := range e.regFile.GPR {
		s.Registers[insts.GPR64(i).String()] = v
	}

	s.CodeStart, _ = e.memory.CodeRegion()
	s.Code = hex.EncodeToString(e.memory.Code())

	for _, a := range e.memory.Areas() {
		s.Areas = append(s.Areas, AreaState{
			Name:  a.Name,
			Start: a.Start,
			Data:  hex.EncodeToString(a.Data),
		})
	}

	return s
}

// Restore replaces the machine state with s. The emulator is left
// unchanged if s is inconsistent.
func (e *Emulator) Restore(s *State) error {
	var gpr [16]uint64
	for name, v := range s.Registers {
		reg, ok := insts.ParseReg(name)
		if !ok || reg.Width() != insts.Width64 || !reg.IsGPR() {
			return fmt.Errorf("unknown register %q in state", name)
		}
		gpr[reg.Index()] = v
	}

	mem := NewMemory()

	code, err := hex.DecodeString(s.Code)
	if err != nil {
		return fmt.Errorf("invalid code in state: %w", err)
	}
	if len(code) > 0 {
		if err := mem.LoadCode(s.CodeStart, code); err != nil {
			return err
		}
	}

	for _, a := range s.Areas {
		data, err := hex.DecodeString(a.Data)
		if err != nil {
			return fmt.Errorf("invalid data for area %q in state: %w", a.Name, err)
		}
		if err := mem.InitArea(a.Start, data, a.Name); err != nil {
			return err
		}
	}

	e.memory.replaceLayout(mem)
	e.regFile.GPR = gpr
	e.regFile.RIP = s.RIP
	e.regFile.RFLAGS = Flags(s.RFLAGS)
	e.stackTop = s.StackTop
	e.instructionCount = s.InstructionCount

	return nil
}

// replaceLayout takes over the code and areas of other, keeping the
// observers of m.
func (m *Memory) replaceLayout(other *Memory) {
	m.areas = other.areas
	m.code = other.code
	m.codeStart = other.codeStart
}

// Format is a state serialization format.
type Format int

// Serialization formats.
const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatFromPath picks the format from the file extension. Anything other
// than .yaml or .yml is JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Encode writes s to w.
func (s *State) Encode(w io.Writer, format Format) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("failed to encode state: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("failed to encode state: %w", err)
		}
		return nil
	}
}

// DecodeState reads a state from r.
func DecodeState(r io.Reader, format Format) (*State, error) {
	s := &State{}

	var err error
	switch format {
	case FormatYAML:
		err = yaml.NewDecoder(r).Decode(s)
	default:
		err = json.NewDecoder(r).Decode(s)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}

	return s, nil
}
