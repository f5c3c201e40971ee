// Command chatclient is the interactive client spec.md names: it dials a
// chatserver over rdtp, logs in with a username, and relays stdin lines to
// the room (or as a "/msg <user> <text>" direct message) while printing
// whatever the server delivers back.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/duskline/rdtp/endpoint"
	"github.com/duskline/rdtp/transport"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		remoteAddr string
		username   string
	)

	cmd := &cobra.Command{
		Use:   "chatclient",
		Short: "Connect to a chatserver over rdtp",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				return fmt.Errorf("chatclient: --username is required")
			}
			return run(remoteAddr, username)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&remoteAddr, "connect", "127.0.0.1:9000", "address of the chatserver to dial")
	flags.StringVar(&username, "username", "", "username to log in as")

	return cmd
}

func run(remoteAddr, username string) error {
	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	cfg := transport.DefaultConfig()
	conn, err := endpoint.Dial(log, remoteAddr, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := endpoint.SendMsgBlocking(conn, []byte("LOGIN "+username), cfg.RTOInitial*10); err != nil {
		return err
	}

	done := make(chan struct{})
	go printIncoming(conn, done)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := endpoint.SendMsgBlocking(conn, []byte(line), cfg.RTOInitial*10); err != nil {
			fmt.Fprintln(os.Stderr, "send failed:", err)
			break
		}
	}

	conn.Close()
	<-done
	return nil
}

// printIncoming prints every in-order message delivered to conn until it
// closes or aborts, signaling done when it returns.
func printIncoming(conn *transport.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		msg, err := conn.Recv()
		if err != nil {
			return
		}
		fmt.Println(string(msg))
	}
}
