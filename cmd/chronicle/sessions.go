package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/stellarlinkco/chronicle/internal/session"
)

const maxReplayLine = 1 << 20

func (a *app) replayCmd() *cobra.Command {
	var sessionID string
	var showContext bool
	cmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Record turns from a JSON-lines file (- for stdin) into a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}

			var in io.Reader = a.opts.Stdin
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open replay file: %w", err)
				}
				defer f.Close()
				in = f
			}
			if sessionID == "" {
				sessionID = uuid.New().String()
			}

			st, reg, err := a.openRegistry()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			sess, err := reg.Open(ctx, sessionID)
			if err != nil {
				return err
			}

			out := a.opts.Stdout
			scanner := bufio.NewScanner(in)
			scanner.Buffer(make([]byte, 0, 64*1024), maxReplayLine)
			line, turns := 0, 0
			for scanner.Scan() {
				line++
				raw := scanner.Bytes()
				if len(raw) == 0 {
					continue
				}
				turn, err := session.ParseTurn(raw)
				if err != nil {
					return fmt.Errorf("line %d: %w", line, err)
				}
				if err := sess.RecordInput(ctx, turn); err != nil {
					return fmt.Errorf("line %d: %w", line, err)
				}
				turns++
				if showContext && sess.ShouldInject(turn.Turn) {
					fmt.Fprintf(out, "%s\n\n", sess.Context(turn.Turn))
				}
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read replay file: %w", err)
			}
			if err := sess.Save(ctx); err != nil {
				return err
			}

			stats := sess.Stats()
			fmt.Fprintf(out, "Session %s: replayed %d turns (last turn %d, %d summaries)\n",
				sess.ID, turns, stats.LastTurn, stats.Summaries)
			return nil
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id (generated when empty)")
	cmd.Flags().BoolVar(&showContext, "show-context", false, "Print the context block at each injection turn")
	return cmd
}

func (a *app) contextCmd() *cobra.Command {
	var turn int
	var text string
	cmd := &cobra.Command{
		Use:   "context SESSION",
		Short: "Print the archived context for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			st, reg, err := a.openRegistry()
			if err != nil {
				return err
			}
			defer st.Close()

			sess, err := reg.Open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if sess.LastTurn() == 0 {
				return fmt.Errorf("session %s not found", args[0])
			}
			if turn <= 0 {
				turn = sess.LastTurn()
			}
			if text != "" {
				fmt.Fprintln(a.opts.Stdout, sess.Inject(turn, text))
				return nil
			}
			fmt.Fprintln(a.opts.Stdout, sess.Context(turn))
			return nil
		},
	}
	cmd.Flags().IntVarP(&turn, "turn", "t", 0, "Turn to build context for (default: last recorded)")
	cmd.Flags().StringVar(&text, "text", "", "Base prompt; prints the injected prompt instead of the bare block")
	return cmd
}

func (a *app) sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			st, _, err := a.openRegistry()
			if err != nil {
				return err
			}
			defer st.Close()

			infos, err := st.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Fprintln(a.opts.Stdout, "No sessions stored.")
				return nil
			}
			w := tabwriter.NewWriter(a.opts.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tLAST TURN\tSUMMARIES\tSAVED AT")
			for _, info := range infos {
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", info.ID, info.LastTurn, info.Summaries, info.LastSavedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func (a *app) dropCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop SESSION",
		Short: "Delete a stored session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			st, reg, err := a.openRegistry()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := reg.Drop(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.opts.Stdout, "Dropped session %s\n", args[0])
			return nil
		},
	}
}
