// Package benchmarks provides timing benchmark infrastructure for x64sim
// calibration.
package benchmarks

import (
	"github.com/sarchlab/x64sim/emu"
	"github.com/sarchlab/x64sim/insts"
)

// DataAddr is where benchmarks that touch memory map their data area.
const DataAddr = uint64(0x600000)

// GetMicrobenchmarks returns the standard set of microbenchmarks. Each
// benchmark targets a specific CPU characteristic.
func GetMicrobenchmarks() []Benchmark {
	return []Benchmark{
		arithmeticSequential(),
		dependencyChain(),
		memorySequential(),
		memoryStride(),
		branchTaken(),
		mixedOperations(),
		loopSimulation(),
	}
}

// GetCoreBenchmarks returns a minimal set of benchmarks for quick
// validation: a loop, a cache-missing stride and branch-heavy code.
func GetCoreBenchmarks() []Benchmark {
	return []Benchmark{
		loopSimulation(),
		memoryStride(),
		branchTaken(),
	}
}

// mapData maps a zeroed data area and points RBX at it.
func mapData(length uint64) func(e *emu.Emulator) error {
	return func(e *emu.Emulator) error {
		if err := e.Memory().InitZero(DataAddr, length, "data"); err != nil {
			return err
		}
		e.RegFile().Write(insts.RBX, DataAddr)
		return nil
	}
}

// 1. Arithmetic Sequential - ALU throughput with independent operations
func arithmeticSequential() Benchmark {
	return Benchmark{
		Name:        "arithmetic_sequential",
		Description: "20 independent ADDs over 5 registers - measures ALU throughput",
		Program: BuildProgram(
			Repeat(4,
				EncodeAddImm(insts.EAX, 1),
				EncodeAddImm(insts.ECX, 1),
				EncodeAddImm(insts.EDX, 1),
				EncodeAddImm(insts.EBX, 1),
				EncodeAddImm(insts.ESI, 1),
			),
			EncodeExit(insts.EAX),
		),
		ExpectedExit: 4,
	}
}

// 2. Dependency Chain - every ADD reads the previous result
func dependencyChain() Benchmark {
	return Benchmark{
		Name:        "dependency_chain",
		Description: "20 dependent ADDs (EAX = EAX + 1) - measures ALU latency",
		Program: BuildProgram(
			Repeat(20, EncodeAddImm(insts.EAX, 1)),
			EncodeExit(insts.EAX),
		),
		ExpectedExit: 20,
	}
}

// 3. Memory Sequential - store/load pairs within two cache lines
func memorySequential() Benchmark {
	var pairs [][]byte
	for i := 0; i < 10; i++ {
		disp := int8(8 * i)
		pairs = append(pairs,
			EncodeStore(insts.RBX, disp, insts.EAX),
			EncodeLoad(insts.EAX, insts.RBX, disp),
		)
	}

	setup := mapData(0x1000)

	return Benchmark{
		Name:        "memory_sequential",
		Description: "10 store/load pairs to sequential addresses - measures L1D hits",
		Setup: func(e *emu.Emulator) error {
			e.RegFile().Write(insts.EAX, 42)
			return setup(e)
		},
		Program: BuildProgram(
			BuildProgram(pairs...),
			EncodeExit(insts.EAX),
		),
		ExpectedExit: 42,
	}
}

// 4. Memory Stride - one load per cache line, every load misses
func memoryStride() Benchmark {
	return Benchmark{
		Name:        "memory_stride",
		Description: "16 loads at a 64-byte stride - measures L1D miss latency",
		Setup:       mapData(0x1000),
		Program: BuildProgram(
			EncodeMovImm(insts.EDX, 16),
			EncodeLoop(insts.EDX, BuildProgram(
				EncodeLoad(insts.ECX, insts.RBX, 0),
				EncodeAddImm(insts.EBX, 64),
				EncodeInc(insts.EAX),
			)),
			EncodeExit(insts.EAX),
		),
		ExpectedExit: 16,
	}
}

// 5. Branch Taken - forward conditional branches that are always taken
func branchTaken() Benchmark {
	return Benchmark{
		Name:        "branch_taken",
		Description: "10 taken JNEs each skipping an INC - measures branch handling",
		Program: BuildProgram(
			EncodeInc(insts.ECX), // clears ZF
			Repeat(10,
				EncodeJNE(2),
				EncodeInc(insts.EAX), // skipped
				EncodeInc(insts.EDX),
			),
			EncodeExit(insts.EDX),
		),
		ExpectedExit: 10,
	}
}

// 6. Mixed Operations - ALU, memory and a not-taken branch
func mixedOperations() Benchmark {
	return Benchmark{
		Name:        "mixed_operations",
		Description: "Mix of MOV, ADD, XOR, SUB, CMP, memory and branches",
		Setup:       mapData(0x1000),
		Program: BuildProgram(
			EncodeMovImm(insts.EAX, 5),
			EncodeMovImm(insts.ECX, 3),
			EncodeAddReg(insts.EAX, insts.ECX), // 8
			EncodeStore(insts.RBX, 0, insts.EAX),
			EncodeXorReg(insts.EDX, insts.EDX),
			EncodeAddLoad(insts.EDX, insts.RBX, 0), // 8
			EncodeSubImm(insts.EDX, 1),             // 7
			EncodeCmpImm(insts.EDX, 7),
			EncodeJNE(2), // not taken
			EncodeInc(insts.EDX),
			EncodeExit(insts.EDX),
		),
		ExpectedExit: 8,
	}
}

// 7. Loop Simulation - a counted loop with a backward branch
func loopSimulation() Benchmark {
	return Benchmark{
		Name:        "loop_simulation",
		Description: "100 iterations of ADD/DEC/JNE - measures loop overhead",
		Program: BuildProgram(
			EncodeMovImm(insts.ECX, 100),
			EncodeLoop(insts.ECX, EncodeAddImm(insts.EAX, 2)),
			EncodeExit(insts.EAX),
		),
		ExpectedExit: 200,
	}
}
