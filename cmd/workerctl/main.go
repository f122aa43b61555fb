// workerctl is a debug client for a running modelworker process: it
// connects to the worker's Unix domain socket and lets a developer send
// load/predict/unload commands by hand, either as one-shot subcommands or
// from an interactive REPL.
//
// Usage:
//
//	workerctl <socket-path> load <name> <model-dir> <handler> [batch-size] [gpu-id]
//	workerctl <socket-path> predict <name> <request-id> <input-name> <value>
//	workerctl <socket-path> unload <name>
//	workerctl <socket-path> repl
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/ianremillard/modelworker/internal/audit"
	"github.com/ianremillard/modelworker/internal/protocol"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 2 {
		usage()
		return 1
	}
	target := args[0]
	cmd := args[1]
	rest := args[2:]

	// audit reads the worker's SQLite audit log directly: it's a query
	// against on-disk history, not a command the running worker process
	// needs to see, so it never touches the worker's Unix socket.
	if cmd == "audit" {
		return cmdAudit(target, rest)
	}

	conn, err := net.Dial("unix", target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "workerctl: cannot connect to %s: %v\n", target, err)
		return 1
	}
	defer conn.Close()

	switch cmd {
	case "load":
		return cmdLoad(conn, rest)
	case "predict":
		return cmdPredict(conn, rest)
	case "unload":
		return cmdUnload(conn, rest)
	case "repl":
		return cmdRepl(conn)
	default:
		fmt.Fprintf(os.Stderr, "workerctl: unknown command %q\n", cmd)
		usage()
		return 1
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `workerctl <socket-path> <command> [args...]

Commands:
  load <name> <model-dir> <handler> [batch-size] [gpu-id]
  predict <name> <request-id> <input-name> <value>
  unload <name>
  repl                    interactive mode (raw terminal, Ctrl-] to quit)

workerctl <audit-db-path> audit <service> [limit]
  audit                   print recent load/unload history for a service`)
}

// cmdAudit opens the audit database at dbPath and prints the most recent
// load/unload events for a service, newest first.
func cmdAudit(dbPath string, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: workerctl <audit-db-path> audit <service> [limit]")
		return 1
	}
	service := args[0]
	limit := 0
	if len(args) >= 2 {
		if v, err := strconv.Atoi(args[1]); err == nil {
			limit = v
		}
	}

	log, err := audit.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "workerctl: opening audit log: %v\n", err)
		return 1
	}
	defer log.Close()

	events, err := log.Recent(service, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "workerctl: querying audit log: %v\n", err)
		return 1
	}

	for _, e := range events {
		fmt.Printf("%d\t%s\t%s\t%s\t%s\t%d\n", e.ID, e.Service, e.Kind, e.ModelPath, e.Detail, e.OccurredAt)
	}
	return 0
}

func cmdLoad(conn net.Conn, args []string) int {
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: workerctl <socket-path> load <name> <model-dir> <handler> [batch-size] [gpu-id]")
		return 1
	}
	batchSize := 1
	gpuID := -1
	if len(args) >= 4 {
		if v, err := strconv.Atoi(args[3]); err == nil {
			batchSize = v
		}
	}
	if len(args) >= 5 {
		if v, err := strconv.Atoi(args[4]); err == nil {
			gpuID = v
		}
	}

	frame := protocol.EncodeLoadRequest(protocol.LoadRequest{
		ModelName: args[0],
		ModelPath: args[1],
		BatchSize: batchSize,
		Handler:   args[2],
		GPUID:     gpuID,
	})
	return sendAndPrint(conn, frame)
}

func cmdPredict(conn net.Conn, args []string) int {
	if len(args) < 4 {
		fmt.Fprintln(os.Stderr, "usage: workerctl <socket-path> predict <name> <request-id> <input-name> <value>")
		return 1
	}
	frame := protocol.EncodePredictRequest(protocol.PredictRequest{
		ModelName: args[0],
		RequestBatch: []protocol.RequestBatchEntry{
			{
				RequestID: args[1],
				ModelInputs: []protocol.ModelInput{
					{Name: args[2], Value: []byte(args[3])},
				},
			},
		},
	})
	return sendAndPrint(conn, frame)
}

func cmdUnload(conn net.Conn, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: workerctl <socket-path> unload <name>")
		return 1
	}
	return sendAndPrint(conn, protocol.EncodeUnloadRequest(args[0]))
}

// sendAndPrint writes frame, reads the worker's general response envelope
// in a single read, and prints the raw bytes as a quoted Go string. It does
// not parse the envelope into its code, message and predictions fields.
func sendAndPrint(conn net.Conn, frame []byte) int {
	if _, err := conn.Write(frame); err != nil {
		fmt.Fprintf(os.Stderr, "workerctl: write: %v\n", err)
		return 1
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	buf := make([]byte, 1<<20)
	n, err := conn.Read(buf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "workerctl: read: %v\n", err)
		return 1
	}

	fmt.Printf("%q\n", buf[:n])
	return 0
}

// cmdRepl drops the terminal into raw mode and forwards stdin bytes
// straight to the socket while echoing socket output to stdout, for
// developers who want to hand-assemble frames byte by byte. Detach with
// Ctrl-] (0x1D), matching workerctl's own attach convention.
func cmdRepl(conn net.Conn) int {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return replLineMode(conn)
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "workerctl: cannot set raw mode: %v\n", err)
		return 1
	}
	defer term.Restore(fd, oldState)

	fmt.Fprint(os.Stdout, "\r\n[workerctl] connected (detach: Ctrl-])\r\n")

	done := make(chan struct{}, 1)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				os.Stdout.Write(buf[:n])
			}
			if err != nil {
				select {
				case done <- struct{}{}:
				default:
				}
				return
			}
		}
	}()

	buf := make([]byte, 256)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			for i := 0; i < n; i++ {
				if buf[i] == 0x1D {
					term.Restore(fd, oldState)
					fmt.Fprint(os.Stdout, "\r\n[workerctl] detached\r\n")
					return 0
				}
			}
			conn.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}

	<-done
	return 0
}

// replLineMode is the non-interactive fallback used when stdin is not a
// terminal (piped input, CI): it reads newline-delimited raw frames from
// stdin and writes each response to stdout.
func replLineMode(conn net.Conn) int {
	scanner := bufio.NewScanner(os.Stdin)
	buf := make([]byte, 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if _, err := conn.Write([]byte(line)); err != nil {
			fmt.Fprintf(os.Stderr, "workerctl: write: %v\n", err)
			return 1
		}
		n, err := conn.Read(buf)
		if n > 0 {
			os.Stdout.Write(buf[:n])
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "workerctl: read: %v\n", err)
			return 1
		}
	}
	return 0
}
