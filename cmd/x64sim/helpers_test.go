package main

import (
	"bytes"
	"encoding/binary"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const (
	codeAddr = uint64(0x401000)
	dataAddr = uint64(0x402000)
)

// guestProgram writes "hi\n" to stdout and exits with status.
func guestProgram(status byte) []byte {
	return []byte{
		0xb8, 0x01, 0x00, 0x00, 0x00,   // mov eax, 1
		0xbf, 0x01, 0x00, 0x00, 0x00,   // mov edi, 1
		0xbe, 0x00, 0x20, 0x40, 0x00,   // mov esi, 0x402000
		0xba, 0x03, 0x00, 0x00, 0x00,   // mov edx, 3
		0x0f, 0x05,                     // syscall
		0xb8, 0x3c, 0x00, 0x00, 0x00,   // mov eax, 60
		0xbf, status, 0x00, 0x00, 0x00, // mov edi, status
		0x0f, 0x05,                     // syscall
	}
}

// writeGuestELF writes an x86-64 executable with an R+X code segment at
// codeAddr and an R+W data segment at dataAddr holding "hi\n".
func writeGuestELF(path string, code []byte) {
	GinkgoHelper()

	data := []byte("hi\n")
	segs := []struct {
		flags uint32
		addr  uint64
		data  []byte
	}{
		{flags: 0x5, addr: codeAddr, data: code},
		{flags: 0x6, addr: dataAddr, data: data},
	}

	hdr := make([]byte, 64)
	copy(hdr[0:4], []byte{0x7f, 'E', 'L', 'F'})
	hdr[4] = 2 // ELFCLASS64
	hdr[5] = 1 // little endian
	hdr[6] = 1 // version
	binary.LittleEndian.PutUint16(hdr[16:18], 2)  // ET_EXEC
	binary.LittleEndian.PutUint16(hdr[18:20], 62) // EM_X86_64
	binary.LittleEndian.PutUint32(hdr[20:24], 1)
	binary.LittleEndian.PutUint64(hdr[24:32], codeAddr)
	binary.LittleEndian.PutUint64(hdr[32:40], 64) // phoff
	binary.LittleEndian.PutUint16(hdr[52:54], 64) // ehsize
	binary.LittleEndian.PutUint16(hdr[54:56], 56) // phentsize
	binary.LittleEndian.PutUint16(hdr[56:58], uint16(len(segs)))

	out := hdr
	offset := uint64(64 + 56*len(segs))
	for _, s := range segs {
		ph := make([]byte, 56)
		binary.LittleEndian.PutUint32(ph[0:4], 1) // PT_LOAD
		binary.LittleEndian.PutUint32(ph[4:8], s.flags)
		binary.LittleEndian.PutUint64(ph[8:16], offset)
		binary.LittleEndian.PutUint64(ph[16:24], s.addr)
		binary.LittleEndian.PutUint64(ph[24:32], s.addr)
		binary.LittleEndian.PutUint64(ph[32:40], uint64(len(s.data)))
		binary.LittleEndian.PutUint64(ph[40:48], uint64(len(s.data)))
		binary.LittleEndian.PutUint64(ph[48:56], 0x1000)
		out = append(out, ph...)
		offset += uint64(len(s.data))
	}
	for _, s := range segs {
		out = append(out, s.data...)
	}

	Expect(os.WriteFile(path, out, 0644)).To(Succeed())
}

// execute runs the x64sim command line and returns what it printed.
func execute(args ...string) (stdout, stderr string, err error) {
	cmd := newRootCmd()

	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)

	err = cmd.Execute()
	return out.String(), errOut.String(), err
}
