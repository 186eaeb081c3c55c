package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/ashureev/campus-companion/internal/companion"
	"github.com/ashureev/campus-companion/internal/domain"
)

var chatWeather string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Start an interactive conversation with the companion.

Type a message and press enter. Lines starting with a slash are commands:
  /chips          list the quick replies for the current stage
  /chip <id>      tap a quick reply
  /yes, /no       say whether the last plan helped
  /repeat         run the routine that helped last time
  /reset          start the conversation over
  /quit           leave (a pending check-in stays scheduled)`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := rt.Registry.Get(cmd.Context(), deviceID)
		if err != nil {
			return err
		}
		return runChat(cmd.Context(), s, cmd.InOrStdin(), cmd.OutOrStdout(), chatWeather)
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatWeather, "weather", "", "current weather, used to phrase check-ins")
}

// printer serializes writes from the REPL and the log subscription.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *printer) message(msg domain.Message) {
	if msg.Role != domain.RoleAssistant {
		return
	}
	p.printf("\ncompanion> %s\n", msg.Content)
}

func runChat(ctx context.Context, s *companion.Session, in io.Reader, out io.Writer, weather string) error {
	p := &printer{out: out}

	for _, msg := range s.Log().Messages() {
		p.message(msg)
	}

	updates, unsubscribe := s.Log().Subscribe(64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for msg := range updates {
			p.message(msg)
		}
	}()
	defer func() {
		unsubscribe()
		wg.Wait()
	}()

	scanner := bufio.NewScanner(in)
	for {
		p.printf("you> ")
		if !scanner.Scan() {
			p.printf("\n")
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		quit, err := handleLine(ctx, s, p, line, weather)
		if err != nil {
			p.printf("! %s\n", err)
		}
		if quit {
			return nil
		}
	}
}

func handleLine(ctx context.Context, s *companion.Session, p *printer, line, weather string) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		_, err := s.Send(ctx, line, weather)
		return false, err
	}

	cmd, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	var err error
	switch cmd {
	case "quit", "exit":
		return true, nil
	case "chips":
		chips := s.Snapshot(ctx).Playbook.Chips
		if len(chips) == 0 {
			p.printf("(no quick replies right now)\n")
		}
		for _, c := range chips {
			p.printf("  %-16s %s\n", c.ID, c.Label)
		}
	case "chip":
		_, err = s.Chip(ctx, arg)
	case "yes", "no":
		_, err = s.Feedback(ctx, cmd == "yes")
	case "repeat":
		_, err = s.Repeat(ctx)
	case "reset":
		if err = s.Reset(ctx); err == nil {
			p.printf("(conversation reset)\n")
		}
	default:
		err = errors.New("unknown command, try /chips, /chip <id>, /yes, /no, /repeat, /reset or /quit")
	}
	return false, err
}
