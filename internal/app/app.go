// Package app assembles the chat bridge from configuration and AWS clients.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"chat-bridge/handler"
	"chat-bridge/internal/config"
	"chat-bridge/internal/integrations/openai"
	"chat-bridge/internal/integrations/paramstore"
	"chat-bridge/internal/repository"
	"chat-bridge/internal/usecase"
)

// SSMAPI is satisfied by *ssm.Client.
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// DynamoDBAPI is satisfied by *dynamodb.Client.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

type Deps struct {
	SSM      SSMAPI
	DynamoDB DynamoDBAPI
	Assets   fs.FS
	Logger   *slog.Logger
}

// Build wires the dispatcher. Parameter overrides are read once here;
// the stream ledger is only enabled when a state table is configured.
func Build(ctx context.Context, cfg config.Config, deps Deps) (*handler.Handler, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ssmClient, err := paramstore.New(deps.SSM)
	if err != nil {
		return nil, fmt.Errorf("app: create SSM client: %w", err)
	}
	if err := cfg.ApplyParameterOverrides(ctx, ssmClient); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	openaiClient, err := openai.NewClient(ssmClient, cfg.ParamPrefix, openai.WithBaseURL(cfg.OpenAIBaseURL))
	if err != nil {
		return nil, fmt.Errorf("app: create OpenAI client: %w", err)
	}

	opts := []usecase.ChatOption{usecase.WithLogger(logger)}
	if cfg.StateTable != "" {
		if deps.DynamoDB == nil {
			return nil, errors.New("app: STATE_TABLE is set but no DynamoDB client was provided")
		}
		stateClient, err := repository.New(deps.DynamoDB, cfg.StateTable)
		if err != nil {
			return nil, fmt.Errorf("app: create state client: %w", err)
		}
		opts = append(opts, usecase.WithRecorder(stateClient))
	}

	chatService, err := usecase.NewChatService(openaiClient, cfg.ChatConfig(), opts...)
	if err != nil {
		return nil, fmt.Errorf("app: create chat service: %w", err)
	}

	logger.Info("chat bridge configured",
		"model", cfg.ModelID,
		"stream_timeout", cfg.StreamTimeout.String(),
		"ledger", cfg.StateTable != "",
	)

	return handler.NewHandler(chatService, handler.WithAssets(deps.Assets), handler.WithLogger(logger))
}
