package emu_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/sarchlab/x64sim/emu"
	"github.com/sarchlab/x64sim/insts"
)

const codeBase = uint64(0x401000)

func expectFlags(e *emu.Emulator, set, clear emu.Flags) {
	GinkgoHelper()
	flags := e.RegFile().Flags()
	Expect(flags&set).To(Equal(set), "expected %v to be set in %v", set, flags)
	Expect(flags&clear).To(BeZero(), "expected %v to be clear in %v", clear, flags)
}

var _ = Describe("Emulator", func() {
	var (
		e         *emu.Emulator
		regs      *emu.RegFile
		mem       *emu.Memory
		stdoutBuf *bytes.Buffer
	)

	BeforeEach(func() {
		stdoutBuf = &bytes.Buffer{}
		e = emu.NewEmulator(
			emu.WithStdout(stdoutBuf),
		)
		regs = e.RegFile()
		mem = e.Memory()
	})

	load := func(code ...byte) {
		GinkgoHelper()
		Expect(e.LoadCode(codeBase, code)).To(Succeed())
	}

	run := func() emu.StepResult {
		GinkgoHelper()
		result := e.RunContext(context.Background())
		Expect(result.Err).NotTo(HaveOccurred())
		return result
	}

	Describe("NewEmulator", func() {
		It("should create an emulator with a zeroed register file", func() {
			Expect(e).NotTo(BeNil())
			Expect(regs.GPR).To(Equal([16]uint64{}))
			Expect(regs.RIP).To(BeZero())
			Expect(regs.Flags()).To(BeZero())
			Expect(mem.Areas()).To(BeEmpty())
		})
	})

	Describe("LoadCode", func() {
		It("should point RIP at the code", func() {
			load(0x90)

			Expect(regs.RIP).To(Equal(codeBase))
			start, length := mem.CodeRegion()
			Expect(start).To(Equal(codeBase))
			Expect(length).To(Equal(uint64(1)))
		})

		It("should reject code overlapping an area", func() {
			Expect(mem.InitZero(codeBase, 0x10, "data")).To(Succeed())

			err := e.LoadCode(codeBase+8, []byte{0x90})

			Expect(errors.Is(err, emu.ErrAreaMapping)).To(BeTrue())
		})
	})

	Describe("Step", func() {
		It("should advance RIP by the instruction length", func() {
			load(0x48, 0x31, 0xd8, 0x90)

			result := e.Step()

			Expect(result.Err).NotTo(HaveOccurred())
			Expect(result.Inst.Op).To(Equal(insts.OpXOR))
			Expect(regs.RIP).To(Equal(codeBase + 3))
			Expect(e.InstructionCount()).To(Equal(uint64(1)))
		})

		It("should report the end of the code region", func() {
			load(0x90)

			result := e.Step()

			Expect(result.Finished).To(BeTrue())
			Expect(e.Step().Finished).To(BeTrue())
			Expect(e.InstructionCount()).To(Equal(uint64(1)))
		})

		It("should report malformed code as a decode error", func() {
			load(0x0f)

			result := e.Step()

			Expect(errors.Is(result.Err, emu.ErrDecode)).To(BeTrue())
			Expect(result.Inst).To(BeNil())
		})

		It("should report unsupported instructions", func() {
			load(0x0f, 0xa2) // cpuid

			result := e.Step()

			Expect(errors.Is(result.Err, emu.ErrNotImplemented)).To(BeTrue())
			var notImpl *emu.NotImplementedError
			Expect(errors.As(result.Err, &notImpl)).To(BeTrue())
			Expect(notImpl.Mnemonic).To(Equal("cpuid"))
			Expect(emu.IsFatal(result.Err)).To(BeFalse())
		})

		It("should report fetches outside the code region", func() {
			load(0xeb, 0x10) // jmp past the end

			Expect(e.Step().Err).NotTo(HaveOccurred())
			result := e.Step()

			Expect(errors.Is(result.Err, emu.ErrMemoryAccess)).To(BeTrue())
		})

		It("should stop at the instruction limit", func() {
			e = emu.NewEmulator(emu.WithMaxInstructions(2))
			Expect(e.LoadCode(codeBase, []byte{0x90, 0x90, 0x90})).To(Succeed())

			result := e.RunContext(context.Background())

			Expect(errors.Is(result.Err, emu.ErrMaxInstructions)).To(BeTrue())
			Expect(e.InstructionCount()).To(Equal(uint64(2)))
		})
	})

	Describe("RunContext", func() {
		It("should stop when the context is cancelled", func() {
			load(0xeb, 0xfe) // jmp to itself
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			result := e.RunContext(ctx)

			Expect(result.Err).To(MatchError(context.Canceled))
		})
	})

	Describe("XOR", func() {
		It("should zero a register xored with itself", func() {
			load(0x30, 0xc0) // xor al, al
			regs.Write(insts.AL, 0x5a)

			run()

			Expect(regs.Read(insts.AL)).To(BeZero())
			expectFlags(e, emu.FlagZF|emu.FlagPF, emu.FlagSF|emu.FlagOF|emu.FlagCF)
		})

		It("should zero equal values", func() {
			load(0x30, 0xd8) // xor al, bl
			regs.Write(insts.AL, 0xf)
			regs.Write(insts.BL, 0xf)

			run()

			Expect(regs.Read(insts.AL)).To(BeZero())
			Expect(regs.Read(insts.BL)).To(Equal(uint64(0xf)))
			expectFlags(e, emu.FlagZF|emu.FlagPF, emu.FlagSF|emu.FlagOF|emu.FlagCF)
		})

		It("should combine different values", func() {
			load(0x30, 0xc8) // xor al, cl
			regs.Write(insts.AL, 0b1010)
			regs.Write(insts.CL, 0b0101)

			run()

			Expect(regs.Read(insts.AL)).To(Equal(uint64(0b1111)))
			Expect(regs.Read(insts.CL)).To(Equal(uint64(0b0101)))
			expectFlags(e, emu.FlagPF, emu.FlagSF|emu.FlagOF|emu.FlagCF|emu.FlagZF)
		})

		It("should set the sign flag", func() {
			load(0x30, 0xc8) // xor al, cl
			regs.Write(insts.AL, 0b10000000)

			run()

			Expect(regs.Read(insts.AL)).To(Equal(uint64(0b10000000)))
			expectFlags(e, emu.FlagSF, emu.FlagZF|emu.FlagPF|emu.FlagOF|emu.FlagCF)
		})

		It("should clear CF and OF and keep AF", func() {
			load(0x30, 0xc8) // xor al, cl
			regs.SetFlag(emu.FlagCF|emu.FlagOF|emu.FlagAF, true)
			regs.Write(insts.AL, 1)

			run()

			expectFlags(e, emu.FlagAF, emu.FlagCF|emu.FlagOF)
		})

		It("should xor 16-bit registers", func() {
			load(0x66, 0x31, 0xc8) // xor ax, cx
			regs.Write(insts.RAX, 0xAAAA00000000ffff)
			regs.Write(insts.CX, 0xf0f0)

			run()

			Expect(regs.Read(insts.AX)).To(Equal(uint64(0x0f0f)))
			Expect(regs.Read(insts.RAX)).To(Equal(uint64(0xAAAA000000000f0f)))
			Expect(regs.Read(insts.CX)).To(Equal(uint64(0xf0f0)))
		})

		It("should zero-extend 32-bit results", func() {
			load(0x31, 0xd8) // xor eax, ebx
			regs.Write(insts.RAX, 0xFFFFFFFF00000001)
			regs.Write(insts.RBX, 0x3)

			run()

			Expect(regs.Read(insts.RAX)).To(Equal(uint64(2)))
		})

		It("should xor 64-bit extended registers", func() {
			load(0x4c, 0x31, 0xd8) // xor rax, r11
			regs.Write(insts.RAX, 0x33312345678)
			regs.Write(insts.R11, 0x33387654321)

			run()

			Expect(regs.Read(insts.RAX)).To(Equal(uint64(0x33312345678 ^ 0x33387654321)))
			Expect(regs.Read(insts.R11)).To(Equal(uint64(0x33387654321)))
		})

		It("should xor into memory", func() {
			load(0x31, 0x44, 0x24, 0x08) // xor [rsp+8], eax
			regs.Write(insts.EAX, 0x12345678)
			regs.Write(insts.RSP, 0x1000)
			Expect(mem.InitZero(0x1000, 256, "data")).To(Succeed())
			Expect(mem.Write32(0x1008, 0x87654321)).To(Succeed())

			run()

			Expect(regs.Read(insts.RSP)).To(Equal(uint64(0x1000)))
			Expect(regs.Read(insts.EAX)).To(Equal(uint64(0x12345678)))
			Expect(mem.Read32(0x1008)).To(Equal(uint32(0x12345678 ^ 0x87654321)))
		})

		It("should use negative displacements", func() {
			load(0x4c, 0x31, 0x5c, 0x24, 0xf8) // xor [rsp-8], r11
			regs.Write(insts.R11, 0x33312345678)
			regs.Write(insts.RSP, 0x1000)
			Expect(mem.InitZero(0x800, 0x1000, "data")).To(Succeed())
			Expect(mem.Write64(0xff8, 0x87654321)).To(Succeed())

			run()

			Expect(mem.Read64(0xff8)).To(Equal(uint64(0x33312345678 ^ 0x87654321)))
		})

		It("should xor a register with memory", func() {
			load(0x32, 0x04, 0x24) // xor al, [rsp]
			regs.Write(insts.AL, 0xf)
			regs.Write(insts.RSP, 0x1000)
			Expect(mem.InitZero(0x1000, 256, "data")).To(Succeed())
			Expect(mem.Write8(0x1000, 0x10)).To(Succeed())

			run()

			Expect(regs.Read(insts.AL)).To(Equal(uint64(0x10 ^ 0xf)))
			Expect(mem.Read8(0x1000)).To(Equal(uint8(0x10)))
		})

		It("should xor a 16-bit extended register with memory", func() {
			load(0x66, 0x44, 0x33, 0x5c, 0x24, 0x20) // xor r11w, [rsp+0x20]
			regs.Write(insts.R11W, 0x10)
			regs.Write(insts.RSP, 0x1000)
			Expect(mem.InitZero(0x1000, 256, "data")).To(Succeed())
			Expect(mem.Write16(0x1020, 0x20)).To(Succeed())

			run()

			Expect(regs.Read(insts.R11W)).To(Equal(uint64(0x20 ^ 0x10)))
		})

		It("should xor with an 8-bit immediate", func() {
			load(0x34, 0x0f) // xor al, 0xf
			regs.Write(insts.AL, 0xff)

			run()

			Expect(regs.Read(insts.AL)).To(Equal(uint64(0xf0)))
		})

		It("should sign-extend a 32-bit immediate to 64 bits", func() {
			load(0x48, 0x35, 0x00, 0x00, 0x00, 0x80) // xor rax, -0x80000000

			run()

			Expect(regs.Read(insts.RAX)).To(Equal(uint64(0xFFFFFFFF80000000)))
			expectFlags(e, emu.FlagSF|emu.FlagPF, emu.FlagZF)
		})

		It("should sign-extend an 8-bit immediate", func() {
			load(0x48, 0x83, 0xf0, 0xff) // xor rax, -1
			regs.Write(insts.RAX, 0x00000000FFFF0000)

			run()

			Expect(regs.Read(insts.RAX)).To(Equal(uint64(0xFFFFFFFF0000FFFF)))
		})

		It("should xor memory with an immediate", func() {
			load(0x81, 0x34, 0x24, 0x78, 0x56, 0x34, 0x12) // xor dword [rsp], 0x12345678
			regs.Write(insts.RSP, 0x2000)
			Expect(mem.InitZero(0x2000, 8, "data")).To(Succeed())
			Expect(mem.Write32(0x2000, 0x12345678)).To(Succeed())

			run()

			Expect(mem.Read32(0x2000)).To(Equal(uint32(0)))
			expectFlags(e, emu.FlagZF|emu.FlagPF, 0)
		})

		DescribeTable("should be self-inverse",
			func(a, b uint64) {
				load(0x48, 0x31, 0xd8, 0x48, 0x31, 0xd8) // xor rax, rbx; xor rax, rbx
				regs.Write(insts.RAX, a)
				regs.Write(insts.RBX, b)

				run()

				Expect(regs.Read(insts.RAX)).To(Equal(a))
				Expect(regs.Read(insts.RBX)).To(Equal(b))
			},
			Entry("zeros", uint64(0), uint64(0)),
			Entry("mixed", uint64(0x33312345678), uint64(0x33387654321)),
			Entry("all ones", ^uint64(0), uint64(0x8000000000000001)),
		)

		DescribeTable("should be self-inverse at every width",
			func(code []byte, dst, src insts.Reg, a, b uint64) {
				load(append(code, code...)...)
				regs.Write(insts.RAX, 0x1122334455667788)
				regs.Write(insts.RBX, 0x99aabbccddeeff00)
				regs.Write(dst, a)
				regs.Write(src, b)
				before := regs.Read(insts.RAX)

				run()

				Expect(regs.Read(dst)).To(Equal(a))
				Expect(regs.Read(src)).To(Equal(b))
				if dst.Width() != insts.Width32 {
					Expect(regs.Read(insts.RAX)).To(Equal(before))
				}
			},
			Entry("xor al, bl", []byte{0x30, 0xd8}, insts.AL, insts.BL, uint64(0x5a), uint64(0xc3)),
			Entry("xor ah, bh", []byte{0x30, 0xfc}, insts.AH, insts.BH, uint64(0x81), uint64(0x7f)),
			Entry("xor ax, bx", []byte{0x66, 0x31, 0xd8}, insts.AX, insts.BX, uint64(0x1234), uint64(0xfedc)),
			Entry("xor eax, ebx", []byte{0x31, 0xd8}, insts.EAX, insts.EBX, uint64(0x89abcdef), uint64(0x01234567)),
		)

		It("should zero the upper half after two 32-bit xors", func() {
			load(0x31, 0xd8, 0x31, 0xd8) // xor eax, ebx; xor eax, ebx
			regs.Write(insts.RAX, 0xdeadbeef12345678)
			regs.Write(insts.RBX, 0xcafef00d0000ffff)

			run()

			Expect(regs.Read(insts.RAX)).To(Equal(uint64(0x12345678)))
			Expect(regs.Read(insts.RBX)).To(Equal(uint64(0xcafef00d0000ffff)))
		})

		It("should not modify memory when the access is out of bounds", func() {
			load(0x31, 0x44, 0x24, 0xfe) // xor [rsp-2], eax
			regs.Write(insts.EAX, 0xffffffff)
			regs.Write(insts.RSP, 0x1000)
			Expect(mem.InitZero(0x1000, 16, "data")).To(Succeed())
			regs.SetFlag(emu.FlagCF, true)

			result := e.Step()

			Expect(errors.Is(result.Err, emu.ErrMemoryAccess)).To(BeTrue())
			Expect(mem.Read64(0x1000)).To(BeZero())
			Expect(regs.Flags()).To(Equal(emu.FlagCF))
		})
	})

	Describe("RIP-relative addressing", func() {
		It("should address relative to the next instruction for 32-bit operands", func() {
			load(0x33, 0x15, 0x53, 0x53, 0x03, 0x00) // xor edx, [rip+0x35353]
			regs.Write(insts.EDX, 0x10)
			target := codeBase + 6 + 0x35353
			Expect(mem.InitZero(target, 4, "data")).To(Succeed())
			Expect(mem.Write32(target, 0x12345678)).To(Succeed())

			run()

			Expect(regs.Read(insts.EDX)).To(Equal(uint64(0x12345678 ^ 0x10)))
			Expect(mem.Read32(regs.RIP + 0x35353)).To(Equal(uint32(0x12345678)))
			expectFlags(e, 0, emu.FlagPF|emu.FlagSF|emu.FlagOF|emu.FlagCF|emu.FlagZF)
		})

		It("should address relative to the next instruction for 64-bit operands", func() {
			load(0x48, 0x33, 0x05, 0x53, 0x53, 0x03, 0x00) // xor rax, [rip+0x35353]
			regs.Write(insts.RAX, 0x10)
			target := codeBase + 7 + 0x35353
			Expect(mem.InitZero(target, 8, "data")).To(Succeed())
			Expect(mem.Write64(target, 0x12345678)).To(Succeed())

			run()

			Expect(regs.Read(insts.RAX)).To(Equal(uint64(0x12345678 ^ 0x10)))
		})
	})

	Describe("ADD and SUB", func() {
		It("should set carry, zero, parity and auxiliary carry on wrap-around", func() {
			load(0x04, 0x01) // add al, 1
			regs.Write(insts.AL, 0xff)

			run()

			Expect(regs.Read(insts.AL)).To(BeZero())
			expectFlags(e, emu.FlagCF|emu.FlagZF|emu.FlagPF|emu.FlagAF, emu.FlagOF|emu.FlagSF)
		})

		It("should set overflow on signed overflow", func() {
			load(0x01, 0xd8) // add eax, ebx
			regs.Write(insts.EAX, 0x7fffffff)
			regs.Write(insts.EBX, 1)

			run()

			Expect(regs.Read(insts.RAX)).To(Equal(uint64(0x80000000)))
			expectFlags(e, emu.FlagOF|emu.FlagSF|emu.FlagAF, emu.FlagCF|emu.FlagZF)
		})

		It("should borrow on subtraction", func() {
			load(0x48, 0x29, 0xd8) // sub rax, rbx
			regs.Write(insts.RAX, 1)
			regs.Write(insts.RBX, 2)

			run()

			Expect(regs.Read(insts.RAX)).To(Equal(^uint64(0)))
			expectFlags(e, emu.FlagCF|emu.FlagSF|emu.FlagPF|emu.FlagAF, emu.FlagZF|emu.FlagOF)
		})

		It("should clear stale arithmetic flags", func() {
			load(0x48, 0x83, 0xc0, 0x01) // add rax, 1
			regs.SetFlag(emu.StatusFlags, true)
			regs.Write(insts.RAX, 1)

			run()

			Expect(regs.Read(insts.RAX)).To(Equal(uint64(2)))
			expectFlags(e, 0, emu.StatusFlags)
		})
	})

	Describe("CMP and TEST", func() {
		It("should compare without writing back", func() {
			load(0x48, 0x39, 0xd8) // cmp rax, rbx
			regs.Write(insts.RAX, 5)
			regs.Write(insts.RBX, 5)

			run()

			Expect(regs.Read(insts.RAX)).To(Equal(uint64(5)))
			expectFlags(e, emu.FlagZF|emu.FlagPF, emu.FlagCF|emu.FlagSF|emu.FlagOF|emu.FlagAF)
		})

		It("should set carry when comparing below", func() {
			load(0x3c, 0x10) // cmp al, 0x10
			regs.Write(insts.AL, 0x0f)

			run()

			Expect(regs.Read(insts.AL)).To(Equal(uint64(0x0f)))
			expectFlags(e, emu.FlagCF|emu.FlagSF, emu.FlagZF)
		})

		It("should test without writing back", func() {
			load(0x84, 0xc0) // test al, al
			regs.SetFlag(emu.FlagCF, true)

			run()

			expectFlags(e, emu.FlagZF|emu.FlagPF, emu.FlagCF|emu.FlagOF)
		})

		It("should test memory against an immediate", func() {
			load(0xf6, 0x04, 0x24, 0x80) // test byte [rsp], 0x80
			regs.Write(insts.RSP, 0x3000)
			Expect(mem.InitArea(0x3000, []byte{0x81}, "data")).To(Succeed())

			run()

			Expect(mem.Read8(0x3000)).To(Equal(uint8(0x81)))
			expectFlags(e, emu.FlagSF, emu.FlagZF)
		})
	})

	Describe("MOV", func() {
		It("should move between registers", func() {
			load(0x48, 0x89, 0xd8) // mov rax, rbx
			regs.Write(insts.RBX, 0x1122334455667788)
			regs.SetFlag(emu.FlagZF, true)

			run()

			Expect(regs.Read(insts.RAX)).To(Equal(uint64(0x1122334455667788)))
			Expect(regs.Flags()).To(Equal(emu.FlagZF))
		})

		It("should move high-byte registers", func() {
			load(0x88, 0xe0) // mov al, ah
			regs.Write(insts.AX, 0x4200)

			run()

			Expect(regs.Read(insts.AX)).To(Equal(uint64(0x4242)))
		})

		It("should move 64-bit immediates", func() {
			load(0x48, 0xb8, 0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11) // movabs rax, imm64

			run()

			Expect(regs.Read(insts.RAX)).To(Equal(uint64(0x1122334455667788)))
		})

		It("should zero-extend 32-bit immediates", func() {
			load(0xb8, 0xff, 0xff, 0xff, 0xff) // mov eax, 0xffffffff
			regs.Write(insts.RAX, 0xAAAAAAAAAAAAAAAA)

			run()

			Expect(regs.Read(insts.RAX)).To(Equal(uint64(0xffffffff)))
		})

		It("should store immediates to memory", func() {
			load(0xc7, 0x04, 0x24, 0x2a, 0x00, 0x00, 0x00) // mov dword [rsp], 42
			regs.Write(insts.RSP, 0x3000)
			Expect(mem.InitZero(0x3000, 8, "data")).To(Succeed())
			o := &recordingObserver{}
			mem.AddObserver(o)

			run()

			Expect(o.reads).To(BeEmpty())
			Expect(o.writes).To(Equal([]uint64{0x3000}))
			Expect(mem.Read32(0x3000)).To(Equal(uint32(42)))
		})

		It("should load from memory", func() {
			load(0x48, 0x8b, 0x04, 0x24) // mov rax, [rsp]
			regs.Write(insts.RSP, 0x3000)
			Expect(mem.InitZero(0x3000, 8, "data")).To(Succeed())
			Expect(mem.Write64(0x3000, 0xDEADBEEFCAFEBABE)).To(Succeed())

			run()

			Expect(regs.Read(insts.RAX)).To(Equal(uint64(0xDEADBEEFCAFEBABE)))
		})
	})

	Describe("INC, DEC, NEG and NOT", func() {
		It("should keep CF on increment", func() {
			load(0xff, 0xc0) // inc eax
			regs.Write(insts.EAX, 0x7fffffff)
			regs.SetFlag(emu.FlagCF, true)

			run()

			Expect(regs.Read(insts.EAX)).To(Equal(uint64(0x80000000)))
			expectFlags(e, emu.FlagCF|emu.FlagOF|emu.FlagSF|emu.FlagAF, emu.FlagZF)
		})

		It("should wrap on decrement", func() {
			load(0xff, 0xc8) // dec eax
			regs.Write(insts.RAX, 0xFFFFFFFF00000000)

			run()

			Expect(regs.Read(insts.RAX)).To(Equal(uint64(0xffffffff)))
			expectFlags(e, emu.FlagSF|emu.FlagPF|emu.FlagAF, emu.FlagZF|emu.FlagOF)
		})

		It("should decrement memory bytes", func() {
			load(0xfe, 0x0c, 0x24) // dec byte [rsp]
			regs.Write(insts.RSP, 0x3000)
			Expect(mem.InitArea(0x3000, []byte{1}, "data")).To(Succeed())

			run()

			Expect(mem.Read8(0x3000)).To(BeZero())
			expectFlags(e, emu.FlagZF, 0)
		})

		It("should negate and set carry for non-zero values", func() {
			load(0x48, 0xf7, 0xd8) // neg rax
			regs.Write(insts.RAX, 5)

			run()

			Expect(regs.Read(insts.RAX)).To(Equal(uint64(0xFFFFFFFFFFFFFFFB)))
			expectFlags(e, emu.FlagCF|emu.FlagSF, emu.FlagZF|emu.FlagOF)
		})

		It("should clear carry when negating zero", func() {
			load(0x48, 0xf7, 0xd8) // neg rax
			regs.SetFlag(emu.FlagCF, true)

			run()

			expectFlags(e, emu.FlagZF, emu.FlagCF)
		})

		It("should invert without touching flags", func() {
			load(0x48, 0xf7, 0xd0) // not rax
			regs.SetFlag(emu.FlagOF, true)

			run()

			Expect(regs.Read(insts.RAX)).To(Equal(^uint64(0)))
			Expect(regs.Flags()).To(Equal(emu.FlagOF))
		})
	})

	Describe("NOP", func() {
		It("should not access the memory operand of the long form", func() {
			load(0x0f, 0x1f, 0x00, 0x90) // nop dword [rax]; nop
			regs.Write(insts.RAX, 0xdead0000)

			result := run()

			Expect(result.Finished).To(BeTrue())
			Expect(e.InstructionCount()).To(Equal(uint64(2)))
		})
	})

	Describe("JE", func() {
		const (
			start = uint64(0x401010)
			end   = uint64(0x4046af)
		)

		program := func(rax byte) []byte {
			code := []byte{
				0x48, 0xc7, 0xc0, rax, 0x0, 0x0, 0x0, // mov rax, <rax>
				0x48, 0x83, 0xf8, 0x3,                // cmp rax, 3
				0xf, 0x84, 0x8d, 0x36, 0x0, 0x0,      // je .end
			}
			code = append(code, bytes.Repeat([]byte{0x90}, 13958)...)
			code = append(code,
				0x48, 0xc7, 0xc0, 0x2a, 0x0, 0x0, 0x0, // mov rax, 42
				0x90,                                  // .end: nop
			)
			return code
		}

		It("should jump when equal", func() {
			Expect(e.LoadCode(start, program(3))).To(Succeed())

			result := run()

			Expect(result.Finished).To(BeTrue())
			Expect(regs.RIP).To(Equal(end))
			Expect(regs.Read(insts.RAX)).To(Equal(uint64(3)))
			expectFlags(e, emu.FlagPF|emu.FlagZF,
				emu.FlagCF|emu.FlagSF|emu.FlagOF|emu.FlagAF)
			Expect(e.InstructionCount()).To(Equal(uint64(4)))
		})

		It("should fall through when not equal", func() {
			Expect(e.LoadCode(start, program(4))).To(Succeed())

			result := run()

			Expect(result.Finished).To(BeTrue())
			Expect(regs.RIP).To(Equal(end))
			Expect(regs.Read(insts.RAX)).To(Equal(uint64(42)))
			expectFlags(e, 0,
				emu.FlagCF|emu.FlagPF|emu.FlagZF|emu.FlagSF|emu.FlagOF|emu.FlagAF)
		})
	})

	Describe("Other branches", func() {
		It("should take a short conditional branch", func() {
			load(0x75, 0x02, 0xb0, 0x01, 0x90) // jne +2; mov al, 1; nop

			run()

			Expect(regs.Read(insts.AL)).To(BeZero())
		})

		It("should skip with an unconditional short jump", func() {
			load(0xeb, 0x02, 0xb0, 0x01, 0x90) // jmp +2; mov al, 1; nop

			run()

			Expect(regs.Read(insts.AL)).To(BeZero())
		})

		It("should jump through a register", func() {
			load(0xff, 0xe0, 0xb0, 0x01, 0x90) // jmp rax; mov al, 1; nop
			regs.Write(insts.RAX, codeBase+4)

			run()

			Expect(regs.Read(insts.AL)).To(BeZero())
		})

		It("should keep the full target of an o16 conditional branch", func() {
			// xor eax, eax; o16 je +2; mov al, 1
			load(0x31, 0xc0, 0x66, 0x0f, 0x84, 0x02, 0x00, 0x00, 0x00, 0xb0, 0x01)
			regs.Write(insts.RAX, 7)

			Expect(e.Step().Err).NotTo(HaveOccurred())
			Expect(e.Step().Err).NotTo(HaveOccurred())

			Expect(regs.RIP).To(Equal(codeBase + 11))
			Expect(regs.Read(insts.AL)).To(BeZero())
		})

		It("should keep the full target of an o16 jump", func() {
			// o16 jmp +2; mov al, 1; nop
			load(0x66, 0xe9, 0x02, 0x00, 0x00, 0x00, 0xb0, 0x01, 0x90)

			Expect(e.Step().Err).NotTo(HaveOccurred())

			Expect(regs.RIP).To(Equal(codeBase + 8))
			run()
			Expect(regs.Read(insts.AL)).To(BeZero())
		})

		It("should jump when RCX is zero", func() {
			load(0xe3, 0x02, 0xb3, 0x01, 0x90) // jrcxz +2; mov bl, 1; nop

			run()

			Expect(regs.Read(insts.BL)).To(BeZero())
		})

		It("should not jump when RCX is non-zero", func() {
			load(0xe3, 0x02, 0xb3, 0x01, 0x90) // jrcxz +2; mov bl, 1; nop
			regs.Write(insts.RCX, 1)

			run()

			Expect(regs.Read(insts.BL)).To(Equal(uint64(1)))
		})

		It("should loop until the counter reaches zero", func() {
			// dec ecx; jnz -4
			load(0xff, 0xc9, 0x75, 0xfc)
			regs.Write(insts.ECX, 5)

			run()

			Expect(regs.Read(insts.ECX)).To(BeZero())
			Expect(e.InstructionCount()).To(Equal(uint64(10)))
		})
	})

	Describe("SYSCALL", func() {
		It("should exit", func() {
			load(
				0xb8, 0x3c, 0x00, 0x00, 0x00, // mov eax, 60
				0xbf, 0x07, 0x00, 0x00, 0x00, // mov edi, 7
				0x0f, 0x05,                   // syscall
			)

			result := e.RunContext(context.Background())

			Expect(result.Err).NotTo(HaveOccurred())
			Expect(result.Exited).To(BeTrue())
			Expect(result.ExitCode).To(Equal(int64(7)))
			Expect(regs.Read(insts.RCX)).To(Equal(codeBase + 12))
		})

		It("should write to stdout", func() {
			Expect(mem.InitArea(0x10000, []byte("hi\n"), "msg")).To(Succeed())
			load(
				0xb8, 0x01, 0x00, 0x00, 0x00, // mov eax, 1
				0xbf, 0x01, 0x00, 0x00, 0x00, // mov edi, 1
				0xbe, 0x00, 0x00, 0x01, 0x00, // mov esi, 0x10000
				0xba, 0x03, 0x00, 0x00, 0x00, // mov edx, 3
				0x0f, 0x05,                   // syscall
			)

			Expect(e.Run()).To(BeZero())

			Expect(stdoutBuf.String()).To(Equal("hi\n"))
			Expect(regs.Read(insts.RAX)).To(Equal(uint64(3)))
		})
	})

	Describe("Execute", func() {
		var decoder *insts.Decoder

		BeforeEach(func() {
			decoder = insts.NewDecoder()
			load(0x90)
		})

		It("should reject a near branch used as a data operand", func() {
			inst, err := decoder.Decode([]byte{0x48, 0x31, 0xd8}, codeBase)
			Expect(err).NotTo(HaveOccurred())
			inst.Operands[1] = insts.Operand{Kind: insts.OperandNearBranch, Target: 0x1234}

			result := e.Execute(inst)

			Expect(errors.Is(result.Err, emu.ErrInvalidOperand)).To(BeTrue())
			Expect(emu.IsFatal(result.Err)).To(BeTrue())
		})

		It("should reject a missing operand", func() {
			inst, err := decoder.Decode([]byte{0x48, 0x31, 0xd8}, codeBase)
			Expect(err).NotTo(HaveOccurred())
			inst.Operands = inst.Operands[:1]

			result := e.Execute(inst)

			Expect(errors.Is(result.Err, emu.ErrInvalidOperand)).To(BeTrue())
		})

		It("should reject an immediate of the wrong size", func() {
			inst, err := decoder.Decode([]byte{0x48, 0x83, 0xf0, 0xff}, codeBase)
			Expect(err).NotTo(HaveOccurred())
			inst.Operands[1].Imm.Size = 4

			result := e.Execute(inst)

			Expect(errors.Is(result.Err, emu.ErrInvalidOperand)).To(BeTrue())
		})

		It("should advance RIP before running the handler", func() {
			inst, err := decoder.Decode([]byte{0x48, 0x8d, 0x05, 0x00, 0x00, 0x00, 0x00}, codeBase) // lea
			Expect(err).NotTo(HaveOccurred())

			result := e.Execute(inst)

			Expect(errors.Is(result.Err, emu.ErrNotImplemented)).To(BeTrue())
			Expect(regs.RIP).To(Equal(codeBase + 7))
		})
	})

	Describe("InitStack", func() {
		It("should place the stack at the first free candidate", func() {
			load(0x90)

			Expect(e.InitStack(0x1000)).To(Succeed())

			Expect(regs.Read(insts.RSP)).To(Equal(uint64(0x1ff8)))
			Expect(e.StackTop()).To(Equal(uint64(0x2000)))
			area, ok := mem.Area("stack")
			Expect(ok).To(BeTrue())
			Expect(area.Start).To(Equal(uint64(0x1000)))
		})

		It("should double the candidate on collision", func() {
			Expect(mem.InitZero(0x1000, 0x10, "data")).To(Succeed())
			Expect(mem.InitZero(0x2000, 0x10, "more")).To(Succeed())

			Expect(e.InitStack(0x100)).To(Succeed())

			Expect(regs.Read(insts.RSP)).To(Equal(uint64(0x4000 + 0x100 - 8)))
			Expect(e.StackTop()).To(Equal(uint64(0x4100)))
		})

		It("should avoid the code region", func() {
			Expect(e.LoadCode(0x1800, []byte{0x90})).To(Succeed())

			Expect(e.InitStack(0x1000)).To(Succeed())

			Expect(e.StackTop()).To(Equal(uint64(0x3000)))
		})

		It("should allow pushing through the stack pointer", func() {
			Expect(e.InitStack(0x100)).To(Succeed())

			Expect(mem.Write64(regs.Read(insts.RSP), 0xfeed)).To(Succeed())
		})

		It("should reject stacks shorter than one slot", func() {
			err := e.InitStack(4)

			Expect(errors.Is(err, emu.ErrAreaMapping)).To(BeTrue())
			Expect(mem.Areas()).To(BeEmpty())
		})

		It("should fail when every candidate is taken", func() {
			for start := uint64(0x1000); start < 0x7fffffffffffffff; start *= 2 {
				Expect(mem.InitZero(start, 1, fmt.Sprintf("blocker-%x", start))).To(Succeed())
			}

			err := e.InitStack(8)

			Expect(errors.Is(err, emu.ErrAreaMapping)).To(BeTrue())
			_, ok := mem.Area("stack")
			Expect(ok).To(BeFalse())
		})
	})

	Describe("Logging", func() {
		It("should log executed instructions at trace level", func() {
			logger, hook := logtest.NewNullLogger()
			logger.SetLevel(logrus.TraceLevel)
			e = emu.NewEmulator(emu.WithLogger(logger))
			Expect(e.LoadCode(codeBase, []byte{0x30, 0xc0})).To(Succeed())

			Expect(e.Step().Err).NotTo(HaveOccurred())

			Expect(hook.Entries).To(HaveLen(1))
			entry := hook.LastEntry()
			Expect(entry.Level).To(Equal(logrus.TraceLevel))
			Expect(entry.Data).To(HaveKeyWithValue("rip", "0x401000"))
			Expect(entry.Data).To(HaveKeyWithValue("len", 2))
		})

		It("should trace memory through an observer", func() {
			logger, hook := logtest.NewNullLogger()
			logger.SetLevel(logrus.DebugLevel)
			e = emu.NewEmulator(emu.WithMemoryObserver(emu.NewTraceObserver(logger)))

			Expect(e.Memory().InitZero(0x1000, 0x200, "big")).To(Succeed())
			_, err := e.Memory().Read(0x1000, 0x200)
			Expect(err).NotTo(HaveOccurred())

			Expect(hook.Entries).To(HaveLen(2))
			Expect(hook.Entries[0].Message).To(Equal("Area mapped"))
			Expect(hook.Entries[1].Message).To(Equal("Memory read"))
			Expect(hook.Entries[1].Data["data"]).To(ContainSubstring("<too much data to display>"))
		})
	})
})
