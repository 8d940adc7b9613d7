package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

func isTerminal(stream any) bool {
	file, ok := stream.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func waitForEnter(in io.Reader, out io.Writer) {
	fmt.Fprint(out, "Press Enter to exit...")
	_, _ = bufio.NewReader(in).ReadString('\n')
}
