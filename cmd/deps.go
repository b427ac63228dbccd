package cmd

import (
	"context"

	"github.com/spf13/viper"

	"github.com/joescharf/revy/internal/agent"
	"github.com/joescharf/revy/internal/github"
	"github.com/joescharf/revy/internal/llm"
	"github.com/joescharf/revy/internal/review"
)

// newGenerator builds the process-wide LLM generator from config.
func newGenerator(ctx context.Context) (llm.Generator, error) {
	return llm.New(ctx, llm.Config{
		Provider:  viper.GetString("llm.provider"),
		Model:     viper.GetString("llm.model"),
		APIKey:    viper.GetString("llm.api_key"),
		MaxTokens: viper.GetInt("llm.max_tokens"),
		Timeout:   viper.GetDuration("llm.timeout"),
	})
}

// newConnector builds the GitHub connector from config.
func newConnector() (*github.Connector, error) {
	return github.NewConnector(github.Config{
		APIURL:    viper.GetString("github.api_url"),
		Timeout:   viper.GetDuration("github.timeout"),
		RateLimit: viper.GetFloat64("github.rate_limit"),
	})
}

// newReviewService wires store, GitHub, and the analysis workflow into a
// review.Service.
func newReviewService(ctx context.Context) (*review.Service, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	gen, err := newGenerator(ctx)
	if err != nil {
		return nil, err
	}
	gh, err := newConnector()
	if err != nil {
		return nil, err
	}

	workflow := agent.NewWorkflow(
		agent.NewAnalyzer(gen, viper.GetInt("agent.concurrency"), logger),
		agent.NewSummarizer(gen, logger),
	)
	return review.NewService(s, gh, workflow, review.DefaultConfig(), logger), nil
}
