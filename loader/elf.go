// Package loader provides ELF binary loading for x86-64 executables.
package loader

import (
	"debug/elf"
	"fmt"
	"io"

	"github.com/sarchlab/x64sim/emu"
)

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// DefaultStackSize is the default stack size (8MB).
const DefaultStackSize = 8 * 1024 * 1024

// MaxSegmentSize is the largest in-memory segment size Load accepts (1GB).
const MaxSegmentSize = 1 << 30

// Segment represents a loadable segment from an ELF binary.
type Segment struct {
	// VirtAddr is the virtual address where this segment should be loaded.
	VirtAddr uint64
	// Data contains the segment contents from the file.
	Data []byte
	// MemSize is the size in memory (may be larger than len(Data) for BSS).
	MemSize uint64
	// Flags contains the segment protection flags.
	Flags SegmentFlags
}

// Image returns the in-memory image of the segment: Data zero-filled up
// to MemSize.
func (s Segment) Image() []byte {
	size := s.MemSize
	if size < uint64(len(s.Data)) {
		size = uint64(len(s.Data))
	}
	img := make([]byte, size)
	copy(img, s.Data)
	return img
}

// Program represents a loaded ELF program ready for execution.
type Program struct {
	// EntryPoint is the virtual address where execution should begin.
	EntryPoint uint64
	// Segments contains all loadable segments from the ELF file.
	Segments []Segment
}

// Load parses an x86-64 ELF binary and returns a Program ready for loading
// into an emulator.
func Load(path string) (*Program, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if f.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("not a 64-bit ELF file")
	}

	if f.Machine != elf.EM_X86_64 {
		return nil, fmt.Errorf("not an x86-64 ELF file (machine type: %v)", f.Machine)
	}

	prog := &Program{EntryPoint: f.Entry}

	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		seg, err := readSegment(phdr)
		if err != nil {
			return nil, err
		}
		prog.Segments = append(prog.Segments, seg)
	}

	return prog, nil
}

func readSegment(phdr *elf.Prog) (Segment, error) {
	if phdr.Filesz > phdr.Memsz {
		return Segment{}, fmt.Errorf("segment at 0x%x: file size 0x%x exceeds memory size 0x%x",
			phdr.Vaddr, phdr.Filesz, phdr.Memsz)
	}
	if phdr.Memsz > MaxSegmentSize {
		return Segment{}, fmt.Errorf("segment at 0x%x: memory size 0x%x exceeds the 0x%x limit",
			phdr.Vaddr, phdr.Memsz, MaxSegmentSize)
	}

	data := make([]byte, phdr.Filesz)
	if phdr.Filesz > 0 {
		n, err := phdr.ReadAt(data, 0)
		if err != nil && err != io.EOF {
			return Segment{}, fmt.Errorf("failed to read segment at 0x%x: %w", phdr.Vaddr, err)
		}
		if uint64(n) != phdr.Filesz {
			return Segment{}, fmt.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
				phdr.Vaddr, n, phdr.Filesz)
		}
	}

	var flags SegmentFlags
	if phdr.Flags&elf.PF_X != 0 {
		flags |= SegmentFlagExecute
	}
	if phdr.Flags&elf.PF_W != 0 {
		flags |= SegmentFlagWrite
	}
	if phdr.Flags&elf.PF_R != 0 {
		flags |= SegmentFlagRead
	}

	return Segment{
		VirtAddr: phdr.Vaddr,
		Data:     data,
		MemSize:  phdr.Memsz,
		Flags:    flags,
	}, nil
}

// CodeSegment returns the index of the first executable segment, or -1.
func (p *Program) CodeSegment() int {
	for i, seg := range p.Segments {
		if seg.Flags&SegmentFlagExecute != 0 {
			return i
		}
	}
	return -1
}

// SegmentName is the area name given to segment i when it is mapped.
func SegmentName(i int) string {
	return fmt.Sprintf("segment%d", i)
}

// LoadInto installs the program in e. The first executable segment becomes
// the code region and every other non-empty segment a named area. RIP is
// set to the entry point.
func (p *Program) LoadInto(e *emu.Emulator) error {
	code := p.CodeSegment()
	if code < 0 {
		return fmt.Errorf("ELF file has no executable segment")
	}

	seg := p.Segments[code]
	if err := e.LoadCode(seg.VirtAddr, seg.Image()); err != nil {
		return fmt.Errorf("failed to load code segment: %w", err)
	}

	for i, seg := range p.Segments {
		if i == code || seg.MemSize == 0 && len(seg.Data) == 0 {
			continue
		}
		if err := e.Memory().InitArea(seg.VirtAddr, seg.Image(), SegmentName(i)); err != nil {
			return fmt.Errorf("failed to map segment %d: %w", i, err)
		}
	}

	start, length := e.Memory().CodeRegion()
	if p.EntryPoint < start || p.EntryPoint >= start+length {
		return fmt.Errorf("entry point 0x%x is outside the code segment", p.EntryPoint)
	}
	e.RegFile().RIP = p.EntryPoint

	return nil
}
