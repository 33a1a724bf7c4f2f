package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/cyberinferno/chatrelay/client"
	"github.com/cyberinferno/chatrelay/codec"
	"github.com/cyberinferno/chatrelay/config"
	"github.com/spf13/cobra"
)

func connectCmd() *cobra.Command {
	var (
		password string
		method   string
	)

	cmd := &cobra.Command{
		Use:   "connect <address> <username>",
		Short: "Join a relay from the terminal",
		Long: `Join a relay and chat from the terminal.

Each input line is posted to everyone. A line of the form
"/w <username> <text>" whispers to one user. End input to leave.

Examples:
  chatrelay connect 127.0.0.1:3000 alice
  chatrelay connect chat.example.org:3000 bob --method Full --password secret`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := config.ParseAuthMethod(method)
			if err != nil {
				return err
			}

			cfg := client.DefaultConfig(args[0], args[1])
			cfg.Method = m
			cfg.Password = password
			return chat(cfg, os.Stdin, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&password, "password", "p", "", "Server password for the Full method")
	cmd.Flags().StringVarP(&method, "method", "m", config.UsernameOnly.String(), "Credential format: UsernameOnly or Full")

	return cmd
}

func chat(cfg client.Config, in io.Reader, out io.Writer) error {
	var mu sync.Mutex
	printf := func(format string, a ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, format, a...)
	}

	c := client.NewChatClient(cfg)
	disconnected := make(chan struct{})
	var once sync.Once

	c.OnConnectionState(func(e client.ConnectionStateEvent) {
		if e.State == client.Disconnected {
			once.Do(func() { close(disconnected) })
		}
	})
	view := newTranscript()
	c.OnPacket(func(e client.PacketEvent) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(out, view.describe(e))
	})

	if err := c.Connect(); err != nil {
		return err
	}
	defer func() {
		_ = c.Close()
	}()

	mu.Lock()
	view.peers[c.ID()] = c.Username()
	mu.Unlock()
	printf("connected as %s [%d]\n", c.Username(), c.ID())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-disconnected:
			printf("disconnected\n")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := sendLine(c, line); err != nil {
				return err
			}
		}
	}
}

func sendLine(c *client.ChatClient, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if rest, ok := strings.CutPrefix(line, "/w "); ok {
		target, text, _ := strings.Cut(strings.TrimSpace(rest), " ")
		return c.Whisper(target, text)
	}
	return c.Post(line)
}

// transcript renders packets as terminal lines. It tracks peer names from
// the presence packets so messages can show who sent them.
type transcript struct {
	peers map[int]string
}

func newTranscript() *transcript {
	return &transcript{peers: make(map[int]string)}
}

func (t *transcript) name(field string, unmask func(int) int) string {
	id, err := strconv.Atoi(field)
	if err != nil {
		return field
	}
	if unmask != nil {
		id = unmask(id)
	}
	if name, ok := t.peers[id]; ok {
		return name
	}
	return fmt.Sprintf("#%d", id)
}

func (t *transcript) describe(e client.PacketEvent) string {
	code, ok := e.Code()
	if !ok {
		return e.Raw
	}

	field := func(i int) string {
		if i < len(e.Fields) {
			return e.Fields[i]
		}
		return ""
	}

	switch code {
	case codec.HeaderExistingPeer, codec.HeaderNewPeer:
		if id, err := strconv.Atoi(field(0)); err == nil {
			t.peers[id] = field(1)
		}
		return fmt.Sprintf("* %s [%s] is online", field(1), field(0))
	case codec.HeaderPeerDisconnected:
		name := t.name(field(0), codec.DepartedID)
		if id, err := strconv.Atoi(field(0)); err == nil {
			delete(t.peers, codec.DepartedID(id))
		}
		return fmt.Sprintf("* %s left", name)
	case codec.HeaderMessageNotify:
		return fmt.Sprintf("<%s> %s", t.name(field(0), codec.MessageSenderID), field(1))
	case codec.HeaderWhisperReceived:
		return fmt.Sprintf("[whisper from %s] %s", t.name(field(0), nil), field(1))
	case codec.HeaderWhisperSent:
		return fmt.Sprintf("[whisper to %s] %s", t.name(field(0), nil), field(1))
	case codec.HeaderWhisperError:
		return "* whisper target is not online"
	case codec.HeaderBroadcast:
		return fmt.Sprintf("[server] %s", field(0))
	case codec.HeaderSystemMessage:
		return fmt.Sprintf("[admin] %s", field(0))
	case codec.HeaderServerInfo:
		return fmt.Sprintf("* %s, run by %s", field(1), field(0))
	case codec.HeaderKick:
		return "* you were kicked"
	default:
		return e.Raw
	}
}
