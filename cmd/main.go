package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"

	"messenger-store/handler"
	"messenger-store/internal/identity"
	"messenger-store/internal/integrations/paircache"
	"messenger-store/internal/integrations/paramstore"
	"messenger-store/internal/repository"
	"messenger-store/internal/usecase"
	"messenger-store/pkg/logger"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	messagesTable := mustEnv("MESSAGES_TABLE")
	inboxTable := mustEnv("INBOX_TABLE")
	participantsTable := mustEnv("PARTICIPANTS_TABLE")
	maxContentLen := envInt("MAX_CONTENT_LENGTH", 2000)
	cacheTTL := time.Duration(envInt("CACHE_TTL_HOURS", 24)) * time.Hour

	log, err := logger.New(os.Getenv("LOG_LEVEL"))
	if err != nil {
		slog.Error("failed to create logger", "err", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Repositories ----
	dynamoClient := awsdynamodb.NewFromConfig(cfg)
	messages, err := repository.NewMessages(dynamoClient, messagesTable)
	if err != nil {
		slog.Error("failed to create message log", "err", err)
		os.Exit(1)
	}
	inbox, err := repository.NewInbox(dynamoClient, inboxTable)
	if err != nil {
		slog.Error("failed to create inbox index", "err", err)
		os.Exit(1)
	}
	participants, err := repository.NewParticipants(dynamoClient, participantsTable)
	if err != nil {
		slog.Error("failed to create participant registry", "err", err)
		os.Exit(1)
	}

	// ---- Optional pair cache ----
	// REDIS_URL wins; otherwise PARAM_PREFIX points at an SSM SecureString.
	// Without either, every send resolves against the store directly.
	var cache usecase.RecencyCache
	if redisURL := resolveRedisURL(ctx, cfg, log); redisURL != "" {
		c, err := paircache.Dial(ctx, redisURL, cacheTTL)
		if err != nil {
			log.Warn("pair cache unavailable, continuing without it", zap.Error(err))
		} else {
			cache = c
		}
	}

	// ---- Services ----
	resolver := identity.NewResolver(nil)
	sendService, err := usecase.NewSendService(resolver, participants, messages, inbox, cache, log, maxContentLen)
	if err != nil {
		slog.Error("failed to create send service", "err", err)
		os.Exit(1)
	}
	readService, err := usecase.NewReadService(participants, messages, inbox)
	if err != nil {
		slog.Error("failed to create read service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(sendService, readService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

// resolveRedisURL prefers the REDIS_URL environment variable and falls
// back to the SecureString at <PARAM_PREFIX>/redis_url. Empty means no
// cache is configured.
func resolveRedisURL(ctx context.Context, cfg aws.Config, log *zap.Logger) string {
	if v := os.Getenv("REDIS_URL"); v != "" {
		return v
	}
	prefix := strings.TrimRight(os.Getenv("PARAM_PREFIX"), "/")
	if prefix == "" {
		return ""
	}

	ps, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		log.Warn("failed to create paramstore client", zap.Error(err))
		return ""
	}
	url, ok, err := ps.Lookup(ctx, prefix+"/redis_url")
	if err != nil {
		log.Warn("failed to read redis url from parameter store", zap.Error(err))
		return ""
	}
	if !ok {
		return ""
	}
	return url
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
