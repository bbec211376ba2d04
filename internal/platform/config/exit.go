package config

import (
	"fmt"
	"io"
	"os"
)

var (
	exitStderr io.Writer = os.Stderr
	exitFunc             = os.Exit
)

// Exitf reports a fatal startup problem on stderr and terminates with code 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(exitStderr, format+"\n", args...)
	exitFunc(1)
}
