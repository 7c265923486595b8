/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the Podplayer project.
 * This code is provided "as is", without warranty of any kind.
 */

package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"podplayer/internal/config"
)

const (
	version_major = 1
	version_minor = 0
	app_name      = "Podplayer-Client"
)

func completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("ABOUT"),
		readline.PcItem("PING"),
		readline.PcItem("WHOAMI"),
		readline.PcItem("STATUS"),
		readline.PcItem("LIST-EPISODES"),
		readline.PcItem("PLAY-EPISODE"),
		readline.PcItem("PLAY"),
		readline.PcItem("PAUSE"),
		readline.PcItem("TOGGLE"),
		readline.PcItem("SEEK"),
		readline.PcItem("SKIP-FWD"),
		readline.PcItem("SKIP-BACK"),
		readline.PcItem("VOLUME"),
		readline.PcItem("SPEED"),
		readline.PcItem("QUIT"),
	)
}

func main() {
	socket := flag.String("socket", "", "control socket (default from config)")
	quiet := flag.Bool("quiet", false, "hide EVENT lines")
	flag.Parse()

	path := *socket
	if path == "" {
		cfg, err := config.Load(config.DefaultPath())
		if err != nil {
			fmt.Fprintln(os.Stderr, "config:", err)
			os.Exit(1)
		}
		path = cfg.IPC.Socket
	}

	fmt.Printf("\n%s V.%d.%d\n", app_name, version_major, version_minor)
	conn, err := net.Dial("unix", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		os.Exit(1)
	}
	defer conn.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:       "pod> ",
		AutoComplete: completer(),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "readline:", err)
		os.Exit(1)
	}
	defer rl.Close()

	fmt.Println("CONNECTED to", path)
	fmt.Println(`Type a command, TAB completes, "QUIT" exits`)

	// ============================
	// IPC → STDOUT
	// ============================
	go func() {
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			line := sc.Text()
			if *quiet && strings.HasPrefix(line, "EVENT ") {
				continue
			}
			fmt.Fprintln(rl.Stdout(), "RECV:", line)
		}
		fmt.Fprintln(rl.Stdout(), "SOCKET CLOSED")
		rl.Close()
	}()

	// ============================
	// STDIN → IPC
	// ============================
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "QUIT") {
			fmt.Println("Bye.")
			return
		}
		if _, err := conn.Write([]byte(line + "\n")); err != nil {
			fmt.Println("WRITE ERROR:", err)
			os.Exit(1)
		}
	}
}
