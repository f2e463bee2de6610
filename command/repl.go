package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// RunConsole reads lines from r and executes them until EOF, ctx
// cancellation, or /exit. Output goes to w. Returns ErrExit when the
// operator asked to quit.
func RunConsole(ctx context.Context, r io.Reader, w io.Writer, h *Handler) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	fmt.Fprintln(w, "console ready (/help for commands)")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						slog.Warn("console input error", slog.Any("err", err))
					}
				default:
				}
				return nil
			}
			out, err := h.Execute(line)
			if out != "" {
				fmt.Fprintln(w, out)
			}
			if errors.Is(err, ErrExit) {
				return ErrExit
			}
			if err != nil {
				fmt.Fprintf(w, "error: %v\n", err)
			}
		}
	}
}
