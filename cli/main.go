// Package main provides a terminal client for the phase controller. It
// follows the current run by polling (or over the websocket stream with
// -ws) and reads prompts and control commands from stdin.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/phasectl/internal/domain"
	"github.com/xiaot623/gogo/phasectl/internal/pollsync"
)

func printMessage(msg domain.Message) {
	fmt.Printf("\n[%d] %s:\n%s\n", msg.Index, msg.Role, msg.Text)
}

func printPhase(state domain.PhaseState) {
	fmt.Printf("run=%s status=%s turn=%d completed=%v needs_restart=%v\nprompt: %s\n",
		state.RunID, state.RunStatus, state.CurrentTurn, state.IsCompleted, state.NeedsRestart, state.TaskPrompt)
}

// followPolling prints new messages until ctx is done.
func followPolling(ctx context.Context, client *pollsync.Client, interval time.Duration) {
	err := client.Follow(ctx, interval, func(u pollsync.Update) {
		if u.Reset {
			fmt.Printf("\n--- run %s ---\n", u.RunID)
		}
		for _, msg := range u.Messages {
			printMessage(msg)
		}
	}, func(err error) {
		log.Printf("Poll error: %v", err)
	})
	if err != nil && ctx.Err() == nil {
		log.Printf("Follow stopped: %v", err)
	}
}

// followStream prints frames from the websocket stream until ctx is done.
func followStream(ctx context.Context, base string) {
	u, err := url.Parse(base)
	if err != nil {
		log.Printf("Invalid address: %v", err)
		return
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		log.Printf("Failed to connect: %v", err)
		return
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var event domain.StreamEvent
		if err := conn.ReadJSON(&event); err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Printf("Read error: %v", err)
			}
			return
		}
		switch event.Type {
		case domain.StreamEventReset:
			fmt.Printf("\n--- run %s ---\n", event.RunID)
		case domain.StreamEventMessage:
			if event.Message != nil {
				printMessage(*event.Message)
			}
		case domain.StreamEventPhase:
			if event.Phase != nil && event.Phase.IsCompleted && event.Phase.NeedsRestart {
				fmt.Println("\nRun completed. Type /continue or /restart [prompt].")
			}
		}
	}
}

func handleInput(ctx context.Context, client *pollsync.Client, input, model string) {
	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/state":
		state, err := client.PhaseState(ctx)
		if err != nil {
			log.Printf("State error: %v", err)
			return
		}
		printPhase(state)

	case "/continue":
		state, err := client.Control(ctx, domain.ControlActionContinue, "")
		if err != nil {
			log.Printf("Continue failed: %v", err)
			return
		}
		printPhase(state)

	case "/restart":
		state, err := client.Control(ctx, domain.ControlActionRestart, arg)
		if err != nil {
			log.Printf("Restart failed: %v", err)
			return
		}
		printPhase(state)

	default:
		runID, err := client.RunPrompt(ctx, domain.RunPromptRequest{Prompt: input, Model: model})
		if err != nil {
			log.Printf("Run failed: %v", err)
			return
		}
		fmt.Printf("Run started: %s\n", runID)
	}
}

func main() {
	addr := flag.String("addr", "http://localhost:8000", "Phase controller address")
	interval := flag.Duration("interval", pollsync.DefaultInterval, "Polling interval")
	stream := flag.Bool("ws", false, "Follow over the websocket stream instead of polling")
	model := flag.String("model", "", "Model to request for new runs")
	flag.Parse()

	log.SetFlags(log.Ltime)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := pollsync.NewClient(*addr, 10*time.Second)
	if state, err := client.PhaseState(ctx); err != nil {
		log.Fatalf("Failed to reach %s: %v", *addr, err)
	} else {
		printPhase(state)
	}

	if *stream {
		go followStream(ctx, *addr)
	} else {
		go followPolling(ctx, client, *interval)
	}

	fmt.Println("\nType a prompt and press Enter to start a run.")
	fmt.Println("Commands: /state, /continue, /restart [prompt], /quit")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Print("> ")
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			input := strings.TrimSpace(line)
			if input == "" {
				continue
			}
			if input == "/quit" {
				fmt.Println("Bye!")
				return
			}
			handleInput(ctx, client, input, *model)
		}
	}
}
