package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/matheus3301/chatterbox/internal/api"
	"github.com/matheus3301/chatterbox/internal/client"
	"github.com/matheus3301/chatterbox/internal/delivery"
	"github.com/matheus3301/chatterbox/internal/lock"
	"github.com/matheus3301/chatterbox/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fatal(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "sessions" {
		cmdSessions(*jsonFlag)
		return
	}

	c, err := client.Dial(sessionName)
	if errors.Is(err, client.ErrNotRunning) {
		fmt.Fprintf(os.Stderr, "error: %v; start it with: chatterboxd --session %s\n", err, sessionName)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out := printer{json: *jsonFlag}
	switch args[0] {
	case "status":
		cmdStatus(ctx, c, out)
	case "login", "signup":
		if len(args) < 2 {
			usageError("usage: chatterctl %s <email>", args[0])
		}
		cmdCredentials(ctx, c, out, args[0], args[1])
	case "logout":
		resp, err := c.Session.SignOut(ctx, &api.SignOutRequest{})
		check(err)
		out.ack(resp)
	case "reset-password":
		if len(args) < 2 {
			usageError("usage: chatterctl reset-password <email>")
		}
		resp, err := c.Session.ResetPassword(ctx, &api.ResetPasswordRequest{Email: args[1]})
		check(err)
		out.ack(resp)
	case "conversations":
		cmdConversations(ctx, c, out)
	case "profiles":
		cmdProfiles(ctx, c, out)
	case "new":
		if len(args) < 2 {
			usageError("usage: chatterctl new <username>")
		}
		resp, err := c.Chat.CreateConversation(ctx, &api.CreateConversationRequest{Profile: args[1]})
		check(err)
		if out.json {
			outputJSON(resp)
			return
		}
		fmt.Println(resp.Conversation.ID)
	case "send":
		if len(args) < 3 {
			usageError("usage: chatterctl send <conversation> <text>")
		}
		resp, err := c.Chat.SendMessage(ctx, &api.SendMessageRequest{
			ConversationID: args[1],
			Text:           strings.Join(args[2:], " "),
		})
		check(err)
		if out.json {
			outputJSON(resp)
			return
		}
		fmt.Printf("sent %s\n", resp.Message.ID)
	case "thread":
		cancel()
		cmdThread(c, out, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatterctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                      Show session status")
	fmt.Fprintln(os.Stderr, "  login <email>               Sign in (password from CHATTERBOX_PASSWORD or stdin)")
	fmt.Fprintln(os.Stderr, "  signup <email>              Create an account and sign in")
	fmt.Fprintln(os.Stderr, "  logout                      Sign out")
	fmt.Fprintln(os.Stderr, "  reset-password <email>      Request a password reset email")
	fmt.Fprintln(os.Stderr, "  conversations               List conversations")
	fmt.Fprintln(os.Stderr, "  profiles                    List people to chat with")
	fmt.Fprintln(os.Stderr, "  new <username>              Start a conversation")
	fmt.Fprintln(os.Stderr, "  send <conversation> <text>  Send a message")
	fmt.Fprintln(os.Stderr, "  thread [--watch] <conv>     Show a conversation")
	fmt.Fprintln(os.Stderr, "  sessions                    List known sessions")
}

func cmdStatus(ctx context.Context, c *client.Client, out printer) {
	resp, err := c.Session.GetStatus(ctx, &api.GetStatusRequest{})
	check(err)
	if out.json {
		outputJSON(resp)
		return
	}
	fmt.Printf("Session: %s\n", resp.Session)
	fmt.Printf("Status:  %s\n", resp.Status)
	fmt.Printf("Backend: %s\n", resp.Backend)
	fmt.Printf("Uptime:  %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).Round(time.Second))
	if resp.Profile != nil {
		fmt.Printf("Profile: %s (%s)\n", resp.Profile.Username, resp.Profile.ID)
	}
}

func cmdCredentials(ctx context.Context, c *client.Client, out printer, cmd, email string) {
	password, err := readPassword(os.Stdin)
	check(err)
	req := &api.CredentialsRequest{Email: email, Password: password}

	var resp *api.SignInResponse
	if cmd == "signup" {
		resp, err = c.Session.SignUp(ctx, req)
	} else {
		resp, err = c.Session.SignIn(ctx, req)
	}
	check(err)
	if out.json {
		outputJSON(resp)
		return
	}
	fmt.Printf("Signed in as %s\n", resp.Profile.Username)
}

func readPassword(r io.Reader) (string, error) {
	if p := os.Getenv("CHATTERBOX_PASSWORD"); p != "" {
		return p, nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is required")
	}
	return line, nil
}

func cmdConversations(ctx context.Context, c *client.Client, out printer) {
	resp, err := c.Chat.ListConversations(ctx, &api.ListConversationsRequest{})
	check(err)
	if out.json {
		outputJSON(resp)
		return
	}
	if len(resp.Conversations) == 0 {
		fmt.Println("No conversations yet.")
		return
	}
	for _, s := range resp.Conversations {
		who := "?"
		if s.Other != nil {
			who = s.Other.Username
		}
		preview := ""
		if s.Conversation.LastMessage != nil {
			preview = *s.Conversation.LastMessage
		}
		fmt.Printf("%-36s  %-16s %s\n", s.Conversation.ID, who, preview)
	}
}

func cmdProfiles(ctx context.Context, c *client.Client, out printer) {
	resp, err := c.Chat.ListProfiles(ctx, &api.ListProfilesRequest{})
	check(err)
	if out.json {
		outputJSON(resp)
		return
	}
	for _, p := range resp.Profiles {
		fmt.Printf("%-20s %s\n", p.Username, p.ID)
	}
}

func cmdThread(c *client.Client, out printer, args []string) {
	fs := flag.NewFlagSet("thread", flag.ExitOnError)
	watch := fs.Bool("watch", false, "keep printing as the conversation changes")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		usageError("usage: chatterctl thread [--watch] <conversation>")
	}
	req := &api.ThreadRequest{ConversationID: fs.Arg(0)}

	if !*watch {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		resp, err := c.Chat.GetThread(ctx, req)
		check(err)
		out.thread(resp)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	stream, err := c.Chat.WatchThread(ctx, req)
	check(err)
	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			fatal(err)
		}
		if !out.json {
			fmt.Print("\033[H\033[2J")
		}
		out.thread(resp)
	}
}

func cmdSessions(jsonOut bool) {
	names, err := session.List()
	check(err)
	type info struct {
		Name    string `json:"name"`
		Path    string `json:"path"`
		Running bool   `json:"daemon_running"`
		PID     int    `json:"pid,omitempty"`
	}
	sessions := make([]info, 0, len(names))
	for _, name := range names {
		pid, _ := lock.Holder(session.LockPath(name))
		sessions = append(sessions, info{Name: name, Path: session.Dir(name), Running: pid != 0, PID: pid})
	}
	if jsonOut {
		outputJSON(sessions)
		return
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return
	}
	for _, s := range sessions {
		running := "stopped"
		if s.Running {
			running = fmt.Sprintf("running, pid %d", s.PID)
		}
		fmt.Printf("%-20s %s (%s)\n", s.Name, s.Path, running)
	}
}

type printer struct {
	json bool
}

func (p printer) ack(resp *api.Ack) {
	if p.json {
		outputJSON(resp)
		return
	}
	fmt.Println(resp.Message)
}

func (p printer) thread(resp *api.ThreadResponse) {
	if p.json {
		outputJSON(resp)
		return
	}
	for _, row := range resp.Rows {
		if row.DateHeader != "" {
			fmt.Printf("\n── %s ──\n", row.DateHeader)
		}
		who := "them"
		if row.Own {
			who = "me"
		}
		fmt.Printf("%s %-4s %s%s\n", row.Time, who, row.Message.Content, receipt(row))
	}
}

func receipt(row delivery.Row) string {
	if !row.Own {
		return ""
	}
	switch row.Status {
	case delivery.StatusPending:
		return "  …"
	case delivery.StatusSent:
		return "  ✓"
	case delivery.StatusReceived, delivery.StatusDelivered:
		return "  ✓✓"
	case delivery.StatusRead:
		return "  ✓✓ read"
	}
	return ""
}

func check(err error) {
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func usageError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
