package weights

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"visiond/internal/common/logwriter"
)

// CommandFetcher shells out to an archive download-and-extract tool invoked
// as `<Bin> <Args...> <url> <dir>`, e.g. `pget -xf <url> <dir>`.
type CommandFetcher struct {
	Bin  string
	Args []string
	Log  zerolog.Logger
}

func (c CommandFetcher) Fetch(ctx context.Context, url, dir string) error {
	if strings.TrimSpace(c.Bin) == "" {
		return errors.New("fetch binary not configured")
	}
	args := append(append([]string(nil), c.Args...), url, dir)
	cmd := exec.CommandContext(ctx, c.Bin, args...)
	out := logwriter.New(c.Log.With().Str("component", "fetch").Logger(), zerolog.DebugLevel, "fetch output")
	tail := &logwriter.Tail{N: 2048}
	cmd.Stdout = out
	cmd.Stderr = tail
	err := cmd.Run()
	out.Flush()
	if err != nil {
		if msg := tail.String(); msg != "" {
			return fmt.Errorf("%s: %w; stderr tail: %s", c.Bin, err, msg)
		}
		return fmt.Errorf("%s: %w", c.Bin, err)
	}
	return nil
}
