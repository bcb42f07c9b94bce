// Command kurosaki sends one prompt through the configured model and
// prints the reply. It exercises the same relay the server uses:
//
//	go run . "こんにちは"
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/RichardoC/kurosaki/internal/config"
	"github.com/RichardoC/kurosaki/internal/llm"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	cfg, err := config.Load("")
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	prompt := strings.Join(os.Args[1:], " ")
	if prompt == "" {
		prompt = "What would be a good company name for a company that makes colorful socks?"
	}

	relay, err := llm.NewFromConfig(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize LLM service", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.LLM.Timeout)
	defer cancel()

	completion, err := relay.ReplyTo(ctx, prompt)
	if err != nil {
		logger.Fatal("failed to generate completion", zap.Error(err))
	}
	fmt.Println(completion)
}
