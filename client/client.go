// Command client is a terminal chat client against a running herdchat node.
// It polls the channel history and sends whatever is typed on stdin.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"herdchat/api"

	"github.com/Netflix/go-env"
	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the client-side environment variables.
type Config struct {
	ServerAddress string        `env:"CHAT_SERVER_ADDR,default=localhost:9090"`
	ChannelID     string        `env:"CHAT_CHANNEL_ID,required=true"`
	Token         string        `env:"CHAT_TOKEN,required=true"`
	PollInterval  time.Duration `env:"CHAT_POLL_INTERVAL,default=2s"`
	LogLevel      string        `env:"LOG_LEVEL,default=INFO"`
}

func main() {
	// The main function manages the OS exit code based on run()'s return.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

// run handles the client lifecycle, configuration loading and the two loops:
// polling history for display and reading stdin for sends.
func run() (int, error) {
	// 1. Load configuration from environment variables.
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Setup context to handle termination signals (Ctrl+C).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Establish the connection.
	conn, err := net.Dial("tcp", config.ServerAddress)
	if err != nil {
		return exitRuntime, fmt.Errorf("could not connect to server at %s: %w", config.ServerAddress, err)
	}
	client := api.NewClient(conn)
	defer func() {
		log.Info("Closing connection...")
		_ = client.Close()
	}()

	channel, err := client.EnsureChannel(ctx, &api.EnsureChannelReq{
		Token: config.Token, ChannelID: config.ChannelID})
	if err != nil {
		return exitRuntime, fmt.Errorf("ensure channel: %w", err)
	}
	color.Green.Printf(">>> Connected to %s! Channel %q (Ctrl+C to quit)\n",
		config.ServerAddress, channel.Name)

	// 4. Stdin send loop.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			body := scanner.Text()
			if body == "" {
				continue
			}
			if _, err := client.SendMessage(ctx, &api.SendMessageReq{
				Token: config.Token, ChannelID: config.ChannelID, Body: body}); err != nil {
				color.Red.Printf("send failed: %v\n", err)
			}
		}
	}()

	// 5. Poll loop: print messages not seen yet, oldest-first.
	seen := make(map[uuid.UUID]struct{})
	ticker := time.NewTicker(config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping client...")
			return exitOK, nil
		case <-ticker.C:
			history, err := client.History(ctx, &api.HistoryReq{
				Token: config.Token, ChannelID: config.ChannelID})
			if err != nil {
				if ctx.Err() != nil {
					return exitOK, nil
				}
				color.Red.Printf("history failed: %v\n", err)
				continue
			}
			for _, message := range history.Messages {
				if _, ok := seen[message.ID]; ok {
					continue
				}
				seen[message.ID] = struct{}{}
				fmt.Printf("[%s] %s: %s\n",
					message.CreatedAt.Format(time.TimeOnly),
					color.Cyan.Render(message.Author),
					message.Body,
				)
			}
		}
	}
}
