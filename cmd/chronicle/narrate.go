package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/chronicle/internal/narrator"
)

func (a *app) narrateCmd() *cobra.Command {
	var message string
	var turn int
	cmd := &cobra.Command{
		Use:   "narrate SESSION",
		Short: "Send a prompt to the model with archived context injected on scheduled turns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			rt, err := a.opts.RuntimeFactory(a.cfg)
			if err != nil {
				return err
			}

			st, reg, err := a.openRegistry()
			if err != nil {
				rt.Close()
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			sess, err := reg.Open(ctx, args[0])
			if err != nil {
				rt.Close()
				return err
			}
			n := narrator.New(rt, sess)
			defer n.Close()

			if turn <= 0 {
				turn = sess.LastTurn()
			}
			out, errOut := a.opts.Stdout, a.opts.Stderr

			// Single message mode
			if message != "" {
				reply, err := n.Narrate(ctx, turn, message)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, reply.Output)
				return nil
			}

			// REPL mode
			fmt.Fprintf(out, "chronicle narrate %s at turn %d (type 'exit' to quit)\n", sess.ID, turn)
			scanner := bufio.NewScanner(a.opts.Stdin)
			for {
				fmt.Fprint(out, "\n> ")
				if !scanner.Scan() {
					break
				}
				input := strings.TrimSpace(scanner.Text())
				if input == "" {
					continue
				}
				if input == "exit" || input == "quit" {
					break
				}
				reply, err := n.Narrate(ctx, turn, input)
				if err != nil {
					fmt.Fprintf(errOut, "Error: %v\n", err)
					continue
				}
				if reply.Injected {
					fmt.Fprintln(errOut, "[archived context injected]")
				}
				fmt.Fprintln(out, reply.Output)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "Single message to send")
	cmd.Flags().IntVarP(&turn, "turn", "t", 0, "Turn the prompt belongs to (default: last recorded)")
	return cmd
}
