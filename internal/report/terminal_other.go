//go:build !unix

package report

import "io"

func terminalWidth(io.Writer) int {
	return 0
}
