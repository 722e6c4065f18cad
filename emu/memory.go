// Package emu provides functional x86-64 emulation.
package emu

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/xlab/treeprint"
)

// MemoryArea is a contiguous, named block of guest memory.
type MemoryArea struct {
	Name   string
	Start  uint64
	Length uint64
	Data   []byte
}

// Contains reports whether [addr, addr+length) lies inside the area.
func (a *MemoryArea) Contains(addr, length uint64) bool {
	return addr >= a.Start &&
		length <= a.Length &&
		addr-a.Start <= a.Length-length
}

// MemoryObserver is notified about every successful memory access and area
// mapping. Observers must not modify the data they are handed.
type MemoryObserver interface {
	MemoryRead(addr uint64, data []byte)
	MemoryWrite(addr uint64, data []byte)
	AreaMapped(area *MemoryArea)
}

// Memory is the guest address space: a code region plus a set of
// non-overlapping data areas. Data accesses must be fully contained in one
// area; the code region is only used for instruction fetch.
type Memory struct {
	areas []*MemoryArea

	code      []byte
	codeStart uint64

	observers []MemoryObserver
}

// NewMemory creates an empty address space.
func NewMemory() *Memory {
	return &Memory{}
}

// AddObserver registers an observer for memory accesses.
func (m *Memory) AddObserver(o MemoryObserver) {
	m.observers = append(m.observers, o)
}

// LoadCode installs the code region. It fails if the region is empty or
// overlaps an existing area.
func (m *Memory) LoadCode(start uint64, code []byte) error {
	length := uint64(len(code))
	if err := m.checkRange("code", start, length); err != nil {
		return err
	}
	for _, a := range m.areas {
		if overlaps(start, length, a.Start, a.Length) {
			return &AreaMappingError{
				Name: "code", Start: start, Length: length,
				Reason: fmt.Sprintf("overlaps area %q", a.Name),
			}
		}
	}

	m.code = code
	m.codeStart = start
	return nil
}

// CodeRegion returns the start and length of the code region.
func (m *Memory) CodeRegion() (start, length uint64) {
	return m.codeStart, uint64(len(m.code))
}

// Code returns the code bytes.
func (m *Memory) Code() []byte {
	return m.code
}

// Fetch returns the code bytes from addr to the end of the code region, or
// nil if addr lies outside it.
func (m *Memory) Fetch(addr uint64) []byte {
	if addr < m.codeStart || addr-m.codeStart >= uint64(len(m.code)) {
		return nil
	}
	return m.code[addr-m.codeStart:]
}

// Areas returns the mapped areas ordered by start address.
func (m *Memory) Areas() []*MemoryArea {
	areas := make([]*MemoryArea, len(m.areas))
	copy(areas, m.areas)
	sort.Slice(areas, func(i, j int) bool {
		return areas[i].Start < areas[j].Start
	})
	return areas
}

// Area returns the area with the given name.
func (m *Memory) Area(name string) (*MemoryArea, bool) {
	for _, a := range m.areas {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}

// InitArea maps a new area at start holding data. The area takes ownership
// of data.
func (m *Memory) InitArea(start uint64, data []byte, name string) error {
	length := uint64(len(data))
	if err := m.CheckMapping(start, length, name); err != nil {
		return err
	}

	area := &MemoryArea{Name: name, Start: start, Length: length, Data: data}
	m.areas = append(m.areas, area)

	for _, o := range m.observers {
		o.AreaMapped(area)
	}

	return nil
}

// InitZero maps a new zero-filled area of length bytes at start.
func (m *Memory) InitZero(start, length uint64, name string) error {
	if err := m.CheckMapping(start, length, name); err != nil {
		return err
	}
	return m.InitArea(start, make([]byte, length), name)
}

// CheckMapping reports whether an area of length bytes could be mapped at
// start, without mapping it.
func (m *Memory) CheckMapping(start, length uint64, name string) error {
	if err := m.checkRange(name, start, length); err != nil {
		return err
	}

	codeLength := uint64(len(m.code))
	if codeLength > 0 && overlaps(start, length, m.codeStart, codeLength) {
		return &AreaMappingError{
			Name: name, Start: start, Length: length,
			Reason: "overlaps the code region",
		}
	}

	for _, a := range m.areas {
		if overlaps(start, length, a.Start, a.Length) {
			return &AreaMappingError{
				Name: name, Start: start, Length: length,
				Reason: fmt.Sprintf("overlaps area %q", a.Name),
			}
		}
	}

	return nil
}

func (m *Memory) checkRange(name string, start, length uint64) error {
	if length == 0 {
		return &AreaMappingError{
			Name: name, Start: start, Length: length,
			Reason: "zero length",
		}
	}
	if length-1 > ^uint64(0)-start {
		return &AreaMappingError{
			Name: name, Start: start, Length: length,
			Reason: "extends past the end of the address space",
		}
	}
	return nil
}

// overlaps reports whether two non-empty, non-wrapping ranges intersect.
func overlaps(s1, l1, s2, l2 uint64) bool {
	return s1 <= s2+l2-1 && s2 <= s1+l1-1
}

func (m *Memory) find(addr, length uint64) *MemoryArea {
	for _, a := range m.areas {
		if a.Contains(addr, length) {
			return a
		}
	}
	return nil
}

// CheckAccess reports whether [addr, addr+length) lies in one area.
func (m *Memory) CheckAccess(addr, length uint64) error {
	if m.find(addr, length) == nil {
		return &MemoryAccessError{Addr: addr, Length: length}
	}
	return nil
}

// Read returns length bytes at addr. The returned slice aliases the area's
// buffer and is only valid until the next write.
func (m *Memory) Read(addr, length uint64) ([]byte, error) {
	data, err := m.slice(addr, length)
	if err != nil {
		return nil, err
	}

	for _, o := range m.observers {
		o.MemoryRead(addr, data)
	}

	return data, nil
}

// Peek returns a copy of length bytes at addr without notifying observers.
// It is meant for inspecting a stopped guest.
func (m *Memory) Peek(addr, length uint64) ([]byte, error) {
	data, err := m.slice(addr, length)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) slice(addr, length uint64) ([]byte, error) {
	a := m.find(addr, length)
	if a == nil {
		return nil, &MemoryAccessError{Addr: addr, Length: length}
	}

	off := addr - a.Start
	return a.Data[off : off+length], nil
}

// Write stores data at addr. Nothing is written unless the whole range lies
// in one area.
func (m *Memory) Write(addr uint64, data []byte) error {
	length := uint64(len(data))
	a := m.find(addr, length)
	if a == nil {
		return &MemoryAccessError{Addr: addr, Length: length, Write: true}
	}

	off := addr - a.Start
	copy(a.Data[off:off+length], data)

	for _, o := range m.observers {
		o.MemoryWrite(addr, data)
	}

	return nil
}

// Read8 reads a byte.
func (m *Memory) Read8(addr uint64) (uint8, error) {
	b, err := m.Read(addr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Read16 reads a little-endian 16-bit value.
func (m *Memory) Read16(addr uint64) (uint16, error) {
	b, err := m.Read(addr, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// Read32 reads a little-endian 32-bit value.
func (m *Memory) Read32(addr uint64) (uint32, error) {
	b, err := m.Read(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Read64 reads a little-endian 64-bit value.
func (m *Memory) Read64(addr uint64) (uint64, error) {
	b, err := m.Read(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Write8 writes a byte.
func (m *Memory) Write8(addr uint64, v uint8) error {
	return m.Write(addr, []byte{v})
}

// Write16 writes a little-endian 16-bit value.
func (m *Memory) Write16(addr uint64, v uint16) error {
	return m.Write(addr, binary.LittleEndian.AppendUint16(nil, v))
}

// Write32 writes a little-endian 32-bit value.
func (m *Memory) Write32(addr uint64, v uint32) error {
	return m.Write(addr, binary.LittleEndian.AppendUint32(nil, v))
}

// Write64 writes a little-endian 64-bit value.
func (m *Memory) Write64(addr uint64, v uint64) error {
	return m.Write(addr, binary.LittleEndian.AppendUint64(nil, v))
}

// readWidth reads a little-endian value of n bytes (1, 2, 4 or 8).
func (m *Memory) readWidth(addr uint64, n int) (uint64, error) {
	b, err := m.Read(addr, uint64(n))
	if err != nil {
		return 0, err
	}
	var buf [8]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// writeWidth writes the low n bytes (1, 2, 4 or 8) of v.
func (m *Memory) writeWidth(addr uint64, n int, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return m.Write(addr, buf[:n])
}

const maxDisplayedAreaData = 255

func areaDataString(data []byte) string {
	if len(data) > maxDisplayedAreaData {
		return "<too long to display>"
	}
	return fmt.Sprintf("% x", data)
}

// Tree renders the memory layout.
func (m *Memory) Tree() string {
	tree := treeprint.New()
	tree.SetValue("memory")

	start, length := m.CodeRegion()
	if length > 0 {
		tree.AddNode(fmt.Sprintf("code [0x%X, 0x%X) length 0x%X",
			start, start+length, length))
	}

	for _, a := range m.Areas() {
		branch := tree.AddBranch(fmt.Sprintf("%s [0x%X, 0x%X)",
			a.Name, a.Start, a.Start+a.Length))
		branch.AddNode(fmt.Sprintf("length: 0x%X", a.Length))
		branch.AddNode("data: " + areaDataString(a.Data))
	}

	return tree.String()
}
