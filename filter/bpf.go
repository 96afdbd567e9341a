package filter

import (
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/net/bpf"
)

// CompiledBPF wraps a classic BPF program compiled from a libpcap
// filter expression, letting a caller reuse tcpdump-style filter
// syntax ("tcp port 53") without invoking libpcap itself in-process —
// the in-process substitute spec §4.1/§9 calls out as an acceptable
// alternative to shelling a capture tool out for every packet.
type CompiledBPF struct {
	prog bpf.RawInstruction
	vm   *bpf.VM
}

// CompileBPF shells out to tool (typically "tcpdump") with "-ddd" to
// obtain a decimal dump of the compiled BPF program for expr against
// linkType/snaplen, then assembles it into a runnable VM via
// golang.org/x/net/bpf — the same RawInstruction type the teacher
// ferries across its cgo boundary in snf/bpf.go, here produced by an
// external compiler instead of libpcap's in-process compiler.
func CompileBPF(tool, expr string, snaplen int) (*CompiledBPF, error) {
	cmd := exec.Command(tool, "-ddd", "-s", strconv.Itoa(snaplen), expr)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("filter: %s -ddd %q: %w", tool, expr, err)
	}

	raws, err := parseTcpdumpDDD(out.String())
	if err != nil {
		return nil, fmt.Errorf("filter: parse %s -ddd output: %w", tool, err)
	}

	vm, err := bpf.NewVM(rawToInstructions(raws))
	if err != nil {
		return nil, fmt.Errorf("filter: assemble bpf program: %w", err)
	}

	return &CompiledBPF{vm: vm}, nil
}

// Execute runs the compiled program against frame and accepts it
// when the program returns a non-zero snap length.
func (c *CompiledBPF) Execute(frame []byte) bool {
	n, err := c.vm.Run(frame)
	return err == nil && n > 0
}

func parseTcpdumpDDD(out string) ([]bpf.RawInstruction, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return nil, fmt.Errorf("unexpected output: %q", out)
	}

	count, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return nil, fmt.Errorf("bad instruction count %q: %w", lines[0], err)
	}
	if count != len(lines)-1 {
		return nil, fmt.Errorf("instruction count %d does not match %d lines", count, len(lines)-1)
	}

	raws := make([]bpf.RawInstruction, 0, count)
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) != 4 {
			return nil, fmt.Errorf("malformed instruction line %q", line)
		}
		var nums [4]uint64
		for i, f := range fields {
			n, err := strconv.ParseUint(f, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("bad field %q in line %q: %w", f, line, err)
			}
			nums[i] = n
		}
		raws = append(raws, bpf.RawInstruction{
			Op: uint16(nums[0]), Jt: uint8(nums[1]), Jf: uint8(nums[2]), K: uint32(nums[3]),
		})
	}
	return raws, nil
}

func rawToInstructions(raws []bpf.RawInstruction) []bpf.Instruction {
	insns := make([]bpf.Instruction, len(raws))
	for i, r := range raws {
		insns[i] = r
	}
	return insns
}
