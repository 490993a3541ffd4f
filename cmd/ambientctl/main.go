// Package main is ambientctl, a line-oriented client for ambientd.
//
// With arguments it runs one command and exits:
//
//	ambientctl volume 0.4
//
// Without arguments it starts an interactive prompt.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/alexlim7/Custom-Background-Sounds/internal/ipc"
	"github.com/alexlim7/Custom-Background-Sounds/internal/playback"
)

const responseTimeout = 2 * time.Minute

var errQuit = errors.New("quit")

func main() {
	socket := flag.String("socket", fmt.Sprintf("/tmp/ambientd-%d.sock", os.Getuid()), "ambientd socket path")
	flag.Parse()

	if flag.NArg() > 0 {
		if err := once(*socket, strings.Join(flag.Args(), " ")); err != nil {
			fmt.Fprintf(os.Stderr, "ambientctl: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := repl(*socket); err != nil {
		fmt.Fprintf(os.Stderr, "ambientctl: %v\n", err)
		os.Exit(1)
	}
}

func once(socket, line string) error {
	c, err := dial(socket, os.Stdout)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.execute(line); err != nil && err != errQuit {
		return err
	}
	return nil
}

func repl(socket string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "ambient> ",
		HistoryFile:     filepath.Join(os.TempDir(), fmt.Sprintf("ambientctl-%d.history", os.Getuid())),
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("failed to start prompt: %w", err)
	}
	defer rl.Close()

	// Pushes arrive while the prompt is up; readline redraws around them
	c, err := dial(socket, rl.Stdout())
	if err != nil {
		return err
	}
	defer c.Close()

	fmt.Fprintln(c.out, `Connected. Type "help" for commands.`)
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if line == "" {
				return nil
			}
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if err := c.execute(line); err != nil {
			if err == errQuit {
				return nil
			}
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
}

func completer() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(commands))
	for _, name := range commandNames() {
		switch name {
		case "import":
			items = append(items, readline.PcItem(name, readline.PcItemDynamic(listFiles)))
		case "lifecycle":
			items = append(items, readline.PcItem(name,
				readline.PcItem("interruption-began"),
				readline.PcItem("interruption-ended", readline.PcItem("resume")),
				readline.PcItem("device-locked"),
				readline.PcItem("app-backgrounded"),
			))
		default:
			items = append(items, readline.PcItem(name))
		}
	}
	return readline.NewPrefixCompleter(items...)
}

// listFiles completes the path typed after "import "
func listFiles(line string) []string {
	typed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "import"))
	dir := filepath.Dir(typed)
	if typed == "" || strings.HasSuffix(typed, "/") {
		dir = typed
	}
	if dir == "" {
		dir = "."
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var out []string
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		if dir == "." && !strings.HasPrefix(typed, "./") {
			p = e.Name()
		}
		if e.IsDir() {
			p += "/"
		}
		out = append(out, p)
	}
	return out
}

// client is one connection to the daemon. A reader goroutine prints pushes
// as they come and hands responses to whoever is waiting.
type client struct {
	conn      net.Conn
	out       io.Writer
	responses chan *ipc.Response
	readErr   chan error
}

func dial(socket string, out io.Writer) (*client, error) {
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s (is ambientd running?): %w", socket, err)
	}

	c := &client{
		conn:      conn,
		out:       out,
		responses: make(chan *ipc.Response),
		readErr:   make(chan error, 1),
	}
	go c.readLoop()
	return c, nil
}

func (c *client) Close() error {
	return c.conn.Close()
}

func (c *client) readLoop() {
	reader := bufio.NewReader(c.conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			c.readErr <- err
			return
		}

		push, resp, err := ipc.DecodeMessage(line)
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			continue
		}
		if push != nil {
			c.printPush(push)
			continue
		}
		c.responses <- resp
	}
}

func (c *client) printPush(msg *ipc.PushMessage) {
	if msg.Type != ipc.PushStatus {
		return
	}
	var st playback.Status
	if err := json.Unmarshal(msg.Data, &st); err != nil {
		return
	}
	fmt.Fprintf(c.out, "* %s\n", summary(st))
}

func (c *client) roundTrip(req *ipc.Request) (*ipc.Response, error) {
	data, err := ipc.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("failed to send: %w", err)
	}

	select {
	case resp := <-c.responses:
		return resp, nil
	case err := <-c.readErr:
		return nil, fmt.Errorf("connection lost: %w", err)
	case <-time.After(responseTimeout):
		return nil, errors.New("timed out waiting for ambientd")
	}
}

// execute runs one command line
func (c *client) execute(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	switch line {
	case "quit", "exit":
		return errQuit
	case "help":
		printHelp(c.out)
		return nil
	}

	req, err := parseLine(line)
	if err != nil {
		return err
	}

	resp, err := c.roundTrip(req)
	if err != nil {
		return err
	}
	if !resp.Success {
		if resp.ErrorKind != "" {
			return fmt.Errorf("%s (%s)", resp.Error, resp.ErrorKind)
		}
		return errors.New(resp.Error)
	}

	c.printResult(req.Cmd, resp.Data)
	return nil
}

func (c *client) printResult(cmd ipc.CommandType, data json.RawMessage) {
	switch cmd {
	case ipc.CmdGetConfig:
		var cfg ipc.ConfigResponse
		if err := json.Unmarshal(data, &cfg); err == nil {
			pretty, _ := json.MarshalIndent(cfg, "", "  ")
			fmt.Fprintln(c.out, string(pretty))
		}
	case ipc.CmdSubscribe, ipc.CmdUnsubscribe:
		var sub ipc.SubscribeResponse
		if err := json.Unmarshal(data, &sub); err == nil {
			fmt.Fprintf(c.out, "watching: %v\n", sub.Subscribed)
		}
	case ipc.CmdLifecycle:
		fmt.Fprintln(c.out, "delivered")
	case ipc.CmdStatus:
		var st playback.Status
		if err := json.Unmarshal(data, &st); err == nil {
			printStatus(c.out, st)
		}
	default:
		var st playback.Status
		if err := json.Unmarshal(data, &st); err == nil {
			fmt.Fprintln(c.out, summary(st))
		}
	}
}

type command struct {
	cmd   ipc.CommandType
	usage string
	help  string
	// build turns the arguments into request data; nil means no arguments
	build func(args []string) (interface{}, error)
}

var commands = map[string]command{
	"play":       {cmd: ipc.CmdPlay, help: "start or resume the background sound"},
	"pause":      {cmd: ipc.CmdPause, help: "pause the background sound"},
	"stop":       {cmd: ipc.CmdStop, help: "stop and release the background sound"},
	"toggle":     {cmd: ipc.CmdToggle, help: "play if not playing, otherwise pause"},
	"volume":     {cmd: ipc.CmdVolume, usage: "<0..1>", help: "set the main volume", build: levelArg},
	"duck-level": {cmd: ipc.CmdMediaVolume, usage: "<0..1>", help: "set the volume used while other media plays", build: levelArg},
	"duck":       {cmd: ipc.CmdToggleUseWhenMediaPlaying, help: "toggle ducking instead of silencing under other media"},
	"lock-stop":  {cmd: ipc.CmdToggleStopWhenLocked, help: "toggle stopping when the screen locks"},
	"autostart":  {cmd: ipc.CmdToggleAutostart, help: "toggle playing the last sound when ambientd starts"},
	"import": {cmd: ipc.CmdImport, usage: "<path|s3://bucket/key>", help: "import a sound and play it",
		build: func(args []string) (interface{}, error) {
			if len(args) == 0 {
				return nil, errors.New("usage: import <path|s3://bucket/key>")
			}
			return ipc.ImportRequest{Location: strings.Join(args, " ")}, nil
		}},
	"sample":      {cmd: ipc.CmdPlaySample, help: "play the preview sample"},
	"sample-stop": {cmd: ipc.CmdStopSample, help: "stop the preview sample"},
	"status":      {cmd: ipc.CmdStatus, help: "show the full status"},
	"lifecycle": {cmd: ipc.CmdLifecycle, usage: "<event> [resume]", help: "report a lifecycle event",
		build: func(args []string) (interface{}, error) {
			if len(args) == 0 || len(args) > 2 || (len(args) == 2 && args[1] != "resume") {
				return nil, errors.New("usage: lifecycle <event> [resume]")
			}
			return ipc.LifecycleRequest{Event: args[0], ShouldResume: len(args) == 2}, nil
		}},
	"watch":   {cmd: ipc.CmdSubscribe, help: "print every status change"},
	"unwatch": {cmd: ipc.CmdUnsubscribe, help: "stop printing status changes"},
	"config":  {cmd: ipc.CmdGetConfig, help: "show the daemon configuration"},
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func levelArg(args []string) (interface{}, error) {
	if len(args) != 1 {
		return nil, errors.New("expected one level between 0 and 1")
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid level %q", args[0])
	}
	return ipc.VolumeRequest{Level: &v}, nil
}

// parseLine maps a command line onto a request
func parseLine(line string) (*ipc.Request, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, errors.New("empty command")
	}

	c, ok := commands[fields[0]]
	if !ok {
		return nil, fmt.Errorf("unknown command %q (try help)", fields[0])
	}

	args := fields[1:]
	var data interface{}
	if c.build != nil {
		var err error
		if data, err = c.build(args); err != nil {
			return nil, err
		}
	} else if len(args) > 0 {
		return nil, fmt.Errorf("%s takes no arguments", fields[0])
	}

	return ipc.NewRequest(c.cmd, data)
}

func printHelp(w io.Writer) {
	for _, name := range commandNames() {
		c := commands[name]
		fmt.Fprintf(w, "  %-24s %s\n", strings.TrimSpace(name+" "+c.usage), c.help)
	}
	fmt.Fprintf(w, "  %-24s %s\n", "quit", "leave")
}

func summary(st playback.Status) string {
	file := st.SelectedFileName
	if file == "" {
		file = "no file"
	}
	s := fmt.Sprintf("%s %s vol=%.2f", st.State, file, st.Background.CurrentVolume)
	if st.IsSamplePlaying {
		s += fmt.Sprintf(" sample=%.2f", st.Sample.CurrentVolume)
	}
	if st.ExternalMediaActive {
		s += " [other media]"
	}
	if st.LastError != "" {
		s += fmt.Sprintf(" error=%s", st.LastErrorKind)
	}
	return s
}

func printStatus(w io.Writer, st playback.Status) {
	fmt.Fprintf(w, "state:            %s\n", st.State)
	fmt.Fprintf(w, "file:             %s\n", st.SelectedFileName)
	fmt.Fprintf(w, "volume:           %.2f (applied %.2f)\n", st.Volume, st.Background.CurrentVolume)
	fmt.Fprintf(w, "duck level:       %.2f\n", st.MediaVolume)
	fmt.Fprintf(w, "duck under media: %v\n", st.UseWhenMediaPlaying)
	fmt.Fprintf(w, "stop when locked: %v\n", st.StopWhenLocked)
	fmt.Fprintf(w, "autostart:        %v\n", st.Autostart)
	fmt.Fprintf(w, "sample:           %s (applied %.2f)\n", st.SampleState, st.Sample.CurrentVolume)
	fmt.Fprintf(w, "other media:      %v\n", st.ExternalMediaActive)
	if st.MonitorDegraded || st.OutputDegraded {
		fmt.Fprintf(w, "degraded:         monitor=%v output=%v\n", st.MonitorDegraded, st.OutputDegraded)
	}
	if st.LastError != "" {
		fmt.Fprintf(w, "last error:       %s: %s\n", st.LastErrorKind, st.LastError)
	}
}
