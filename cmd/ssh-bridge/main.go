// ssh-bridge is the reference CLI caller: it dials (bootstrapping if needed)
// the ssh-bridged daemon over its local socket, establishes one SSH session,
// runs a command, and streams stdio back.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/acolita/ssh-bridge/internal/bridgeclient"
	"github.com/acolita/ssh-bridge/internal/config"
	"github.com/acolita/ssh-bridge/internal/protocol"
	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configDir   string
		identity    string
		port        int
		usePTY      bool
		showVersion bool
	)

	flag.StringVar(&configDir, "config-dir", "", "ssh-bridged config directory (default ~/.ssh-bridge)")
	flag.StringVar(&identity, "i", "", "Path to a private key file")
	flag.IntVar(&port, "p", 22, "SSH port")
	flag.BoolVar(&usePTY, "t", false, "Allocate a pseudo-terminal")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("ssh-bridge version %s\n  Build time: %s\n  Git commit: %s\n", Version, BuildTime, GitCommit)
		return 0
	}

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: ssh-bridge [-i keyfile] [-p port] [-t] user@host command...")
		return 2
	}

	target := args[0]
	command := strings.Join(args[1:], " ")

	username, hostname, err := splitTarget(target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ssh-bridge: %v\n", err)
		return 2
	}

	if configDir == "" {
		configDir = config.DefaultConfigDir()
	}
	if configDir == "" {
		fmt.Fprintln(os.Stderr, "ssh-bridge: could not determine a config directory; pass -config-dir")
		return 1
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "ssh-bridge: create config directory: %v\n", err)
		return 1
	}

	clientCfg, err := config.LoadClientConfig(filepath.Join(configDir, "client.yaml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ssh-bridge: load client config: %v\n", err)
		return 1
	}
	if err := clientCfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "ssh-bridge: invalid client config: %v\n", err)
		return 1
	}

	daemonPath := clientCfg.DaemonPath
	if daemonPath == "" {
		if self, err := os.Executable(); err == nil {
			daemonPath = filepath.Join(filepath.Dir(self), "ssh-bridged")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), clientCfg.BootstrapTimeout)
	bootErr := bridgeclient.EnsureDaemon(ctx, configDir, daemonPath, clientCfg.BootstrapTimeout, clientCfg.BootstrapPoll)
	cancel()
	if bootErr != nil {
		fmt.Fprintf(os.Stderr, "ssh-bridge: daemon not reachable: %v\n", bootErr)
		return 1
	}

	conn, err := bridgeclient.Dial(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ssh-bridge: dial daemon: %v\n", err)
		return 1
	}

	client := bridgeclient.New(conn)
	defer client.Close()

	params := protocol.ConnectParams{
		Username: username,
		Hostname: hostname,
		Port:     port,
		Reusable: true,
	}
	if identity != "" {
		key, err := os.ReadFile(identity)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ssh-bridge: read identity file: %v\n", err)
			return 1
		}
		params.PrivateKey = key
	} else {
		params.TryKeyboard = true
	}

	result, err := client.Connect(params, promptChallenge)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ssh-bridge: connect: %v\n", err)
		return 1
	}
	if !result.Success {
		fmt.Fprintf(os.Stderr, "ssh-bridge: connection refused: %s\n", result.Reason)
		return 1
	}
	if result.Banner != "" {
		fmt.Fprintln(os.Stderr, result.Banner)
	}

	return runExec(client, command, usePTY)
}

func runExec(client *bridgeclient.Client, command string, usePTY bool) int {
	if usePTY {
		if rows, cols, err := termSize(); err == nil {
			client.Resize(rows, cols)
		}
		restore, err := rawMode()
		if err == nil {
			defer restore()
		}
	}

	handles, err := client.Exec(command, usePTY)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ssh-bridge: exec: %v\n", err)
		return 1
	}

	go forwardStdin(handles)

	for handles.Stdout != nil || handles.Stderr != nil {
		select {
		case chunk, ok := <-handles.Stdout:
			if !ok {
				handles.Stdout = nil
				continue
			}
			os.Stdout.Write(chunk)
		case chunk, ok := <-handles.Stderr:
			if !ok {
				handles.Stderr = nil
				continue
			}
			os.Stderr.Write(chunk)
		}
	}

	res := <-handles.Result
	if res.Err != nil {
		fmt.Fprintf(os.Stderr, "ssh-bridge: %v\n", res.Err)
		return 1
	}
	if res.Code != nil {
		return *res.Code
	}
	if res.Signal != nil {
		fmt.Fprintf(os.Stderr, "ssh-bridge: terminated by signal %s\n", *res.Signal)
		return 1
	}
	return 0
}

func forwardStdin(handles *bridgeclient.ExecHandles) {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if werr := handles.WriteStdin(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			handles.EndStdin()
			return
		}
	}
}

func promptChallenge(c protocol.Challenge) ([]string, error) {
	responses := make([]string, len(c.Prompts))
	if c.Instructions != "" {
		fmt.Fprintln(os.Stderr, c.Instructions)
	}
	for i, prompt := range c.Prompts {
		var answer string
		field := huh.NewInput().Title(prompt).Password(true).Value(&answer)
		if err := huh.NewForm(huh.NewGroup(field)).Run(); err != nil {
			return nil, err
		}
		responses[i] = answer
	}
	return responses, nil
}

func splitTarget(target string) (username, hostname string, err error) {
	at := strings.LastIndex(target, "@")
	if at < 0 {
		return "", "", fmt.Errorf("target must be user@host")
	}
	username = target[:at]
	hostname = target[at+1:]
	if username == "" || hostname == "" {
		return "", "", fmt.Errorf("target must be user@host")
	}
	return username, hostname, nil
}

func termSize() (rows, cols int, err error) {
	cols, rows, err = term.GetSize(int(os.Stdout.Fd()))
	return rows, cols, err
}

func rawMode() (func(), error) {
	fd := int(os.Stdin.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() { term.Restore(fd, state) }, nil
}
