package cli

import (
	"bufio"
	"io"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/term"
)

const keyEscape = 0x1b

// keyReader reads single key presses. On a terminal the input is put in raw mode for each read;
// other inputs are read byte by byte with line breaks skipped.
type keyReader struct {
	in  *bufio.Reader
	fd  int
	tty bool
}

func newKeyReader(in io.Reader) *keyReader {
	k := &keyReader{in: bufio.NewReader(in), fd: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		k.fd = int(f.Fd())
		k.tty = true
	}
	return k
}

// ReadKey blocks until a key is pressed.
func (k *keyReader) ReadKey() (key byte, err error) {
	if k.tty {
		state, err := term.MakeRaw(k.fd)
		if err != nil {
			return 0, errors.Wrap(err, "switching terminal to raw mode")
		}
		defer func() {
			if restoreErr := term.Restore(k.fd, state); restoreErr != nil && err == nil {
				err = restoreErr
			}
		}()
	}
	for {
		b, err := k.in.ReadByte()
		if err != nil {
			return 0, err
		}
		if !k.tty && (b == '\n' || b == '\r') {
			continue
		}
		// raw mode passes ctrl-c through as a key
		if b == 0x03 {
			return 0, errors.New("interrupted")
		}
		return b, nil
	}
}
