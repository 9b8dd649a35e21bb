package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lumipet/lumipet/core"
	"github.com/lumipet/lumipet/priority"
	"github.com/lumipet/lumipet/transport"
)

// printPush renders a backend-pushed event that survived priority filtering.
func printPush(msg transport.Message) {
	switch msg.Type {
	case transport.TypeDialogue:
		fmt.Printf("\n[push] %s\n> ", string(msg.Payload))
	case transport.TypeComplete:
		// Session bookkeeping only.
	default:
		fmt.Printf("\n[push:%s]\n> ", msg.Type)
	}
}

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat with the pet",
		RunE: func(cmd *cobra.Command, args []string) error {
			pet, cfg, err := setup()
			if err != nil {
				return err
			}
			defer pet.Shutdown()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// Remote mode: backend-pushed events arrive over WebSocket, filtered
			// by the priority controller before they reach the terminal.
			if cfg.Transport.Mode == "remote" {
				ctrl := priority.NewController()
				client := transport.NewClient(cfg.Transport.URL, printPush, func(o *transport.ClientOptions) {
					o.Controller = ctrl
				})
				if err := client.Connect(ctx); err != nil {
					return err
				}
				defer client.Close()
			}

			fmt.Println("Chat started. Type 'exit' to quit.")
			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				input := strings.TrimSpace(scanner.Text())
				if input == "" {
					continue
				}
				if input == "exit" || input == "quit" {
					return nil
				}
				printTurn(pet.Chat(ctx, input))
				if ctx.Err() != nil {
					return nil
				}
			}
		},
	}
}

// printTurn renders a turn's event stream: partial deltas inline, tool
// activity and errors on their own lines.
func printTurn(events <-chan core.Event) {
	streamed := false
	for ev := range events {
		switch ev.Kind {
		case core.EventPartial:
			streamed = true
			fmt.Print(ev.Text)
		case core.EventToolCall:
			if streamed {
				fmt.Println()
				streamed = false
			}
			fmt.Printf("[tool] %s(%s)\n", ev.ToolName, ev.Text)
		case core.EventToolResult:
			fmt.Printf("[tool] %s -> %s\n", ev.ToolName, ev.Text)
		case core.EventConfirmRequired:
			fmt.Printf("[confirm] %s wants to run with %s\n", ev.ToolName, ev.Text)
		case core.EventFinal:
			if streamed {
				fmt.Println()
			} else {
				fmt.Println(ev.Text)
			}
		case core.EventIterationLimit, core.EventError:
			if streamed {
				fmt.Println()
			}
			fmt.Println(ev.Text)
		}
	}
}
