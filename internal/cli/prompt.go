package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

// PromptForInstruction asks for a refinement instruction on out and reads
// one line from in. Returns "" if nothing was entered.
func PromptForInstruction(in io.Reader, out io.Writer) string {
	fmt.Fprint(out, "Refinement instruction: ")

	reader := bufio.NewReader(in)
	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		log.Warn().Err(err).Msg("Failed to read input")
		return ""
	}
	return strings.TrimSpace(input)
}
