// Package host is the concrete, OS-backed implementation of vm.Host: real
// files, process stdin/stdout, and Go-slice-backed reallocation.
package host

import (
	"os"

	"espresso/internal/vm"
)

// OS implements vm.Host against the local filesystem and the process's
// standard streams.
type OS struct {
	stdin  *osFile
	stdout *osFile
}

// New constructs an OS host with stdin/stdout bound to the process's own
// standard streams.
func New() *OS {
	return &OS{
		stdin:  &osFile{f: os.Stdin},
		stdout: &osFile{f: os.Stdout},
	}
}

func (h *OS) Stdin() vm.File  { return h.stdin }
func (h *OS) Stdout() vm.File { return h.stdout }

// Open maps espresso's one-character mode strings onto os.OpenFile flags:
// "r" for reading, "w" for truncate-create-write, "a" for append.
func (h *OS) Open(path string, mode string) (vm.File, error) {
	var flag int
	switch mode {
	case "r":
		flag = os.O_RDONLY
	case "w":
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case "a":
		flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	default:
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, err
	}
	return &osFile{f: f}, nil
}

// Realloc emulates C's realloc over a Go slice: newSize == 0 frees (returns
// nil), otherwise a new slice of newSize is returned with buf's contents
// preserved up to min(len(buf), newSize). Go's garbage collector reclaims
// the old backing array; there is no explicit free beyond dropping buf.
func (h *OS) Realloc(buf []byte, newSize int) ([]byte, error) {
	if newSize == 0 {
		return nil, nil
	}
	out := make([]byte, newSize)
	copy(out, buf)
	return out, nil
}

// osFile adapts *os.File to vm.File. ReadByte reads one byte at a time
// through a one-byte buffer and reports EOF (or any read error) as ok=false
// instead of an error value.
type osFile struct {
	f   *os.File
	buf [1]byte
}

func (of *osFile) ReadByte() (byte, bool) {
	n, err := of.f.Read(of.buf[:])
	if n == 0 || err != nil {
		return 0, false
	}
	return of.buf[0], true
}

func (of *osFile) Write(p []byte) (int, error) { return of.f.Write(p) }

func (of *osFile) Close() error {
	if of.f == os.Stdin || of.f == os.Stdout {
		return nil
	}
	return of.f.Close()
}
