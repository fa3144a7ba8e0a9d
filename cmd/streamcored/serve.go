package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/chunkrelay/streamcore/common"
	"github.com/chunkrelay/streamcore/remotestore"
	"github.com/chunkrelay/streamcore/streamcore"
)

// rawServeCmdArgs holds the serve command's flags before validation.
type rawServeCmdArgs struct {
	listenAddr string
	botToken   string
	appID      int
	appHash    string
	poolSize   int
	cacheMB    int
	logLevel   string
	streamArgs []string // each entry "chatID:messageID", started immediately on boot
}

func (raw rawServeCmdArgs) cook() (cookedServeCmdArgs, error) {
	botToken := raw.botToken
	if botToken == "" {
		botToken = common.GetEnvironmentVariable(common.EEnvironmentVariable.BotToken())
	}
	if botToken == "" {
		return cookedServeCmdArgs{}, fmt.Errorf("serve: no bot token given (use --bot-token or %s)", common.EEnvironmentVariable.BotToken().Name)
	}

	logLevelStr := raw.logLevel
	if logLevelStr == "" {
		logLevelStr = common.GetEnvironmentVariable(common.EEnvironmentVariable.LogLevel())
	}
	var logLevel common.LogLevel
	if err := logLevel.Parse(logLevelStr); err != nil {
		return cookedServeCmdArgs{}, fmt.Errorf("serve: invalid --log-level %q: %w", logLevelStr, err)
	}

	cooked := cookedServeCmdArgs{
		listenAddr: raw.listenAddr,
		botToken:   botToken,
		appID:      raw.appID,
		appHash:    raw.appHash,
		poolSize:   raw.poolSize,
		cacheBytes: int64(raw.cacheMB) * 1024 * 1024,
		logLevel:   logLevel,
	}

	for _, spec := range raw.streamArgs {
		parts := strings.SplitN(spec, ":", 2)
		if len(parts) != 2 {
			return cookedServeCmdArgs{}, fmt.Errorf("serve: malformed --stream value %q, want chatID:messageID", spec)
		}
		chatID, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return cookedServeCmdArgs{}, fmt.Errorf("serve: malformed chat id in %q: %w", spec, err)
		}
		messageID, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return cookedServeCmdArgs{}, fmt.Errorf("serve: malformed message id in %q: %w", spec, err)
		}
		cooked.streams = append(cooked.streams, streamRequest{chatID: chatID, messageID: messageID})
	}

	return cooked, nil
}

type streamRequest struct {
	chatID    int64
	messageID int64
}

type cookedServeCmdArgs struct {
	listenAddr string
	botToken   string
	appID      int
	appHash    string
	poolSize   int
	cacheBytes int64
	logLevel   common.LogLevel
	streams    []streamRequest
}

func (cooked cookedServeCmdArgs) process() error {
	common.InitializeFolders()
	logger := common.NewProcessLogger(
		cooked.logLevel,
		common.LogPathFolder,
		"streamcored.log",
	)
	logger.OpenLog()
	defer logger.CloseLog()
	common.CurrentProcessLogger = logger

	common.StartChunkWaitLogger(common.LogPathFolder)
	defer common.StopChunkWaitLogger()

	core := streamcore.New(streamcore.Options{
		BotToken:      cooked.botToken,
		Factory:       func() remotestore.Capability { return remotestore.NewClient(cooked.appID, cooked.appHash) },
		PoolSize:      cooked.poolSize,
		CacheMaxBytes: cooked.cacheBytes,
		ListenAddr:    cooked.listenAddr,
		Logger:        logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := core.Start(ctx); err != nil {
		return err
	}
	logger.Log(common.LogInfo, fmt.Sprintf("streamcored listening on %s, cache budget %s",
		core.Addr(), common.ByteSizeToString(cooked.cacheBytes, false)))

	for _, sr := range cooked.streams {
		streamID := uuid.NewString()
		if err := core.StartStream(ctx, streamID, sr.chatID, sr.messageID); err != nil {
			logger.Log(common.LogError, fmt.Sprintf("failed to start stream for chat=%d message=%d: %v", sr.chatID, sr.messageID, err))
			continue
		}
		fmt.Printf("%s -> http://%s/stream/%s\n", streamID, core.Addr(), streamID)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), common.ShutdownGracePeriod)
	defer shutdownCancel()
	return core.Shutdown(shutdownCtx)
}

var serveCmdRaw rawServeCmdArgs

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the range server and optionally begin streaming one or more files",
	RunE: func(cmd *cobra.Command, args []string) error {
		serveCmdRaw.logLevel, _ = cmd.Root().PersistentFlags().GetString("log-level")
		cooked, err := serveCmdRaw.cook()
		if err != nil {
			return err
		}
		return cooked.process()
	},
}

func init() {
	serveCmd.PersistentFlags().StringVar(&serveCmdRaw.listenAddr, "listen", "", "address to bind the range server to (default: "+common.EEnvironmentVariable.RangeServerAddr().DefaultValue+")")
	serveCmd.PersistentFlags().StringVar(&serveCmdRaw.botToken, "bot-token", "", "Telegram bot token (default: "+common.EEnvironmentVariable.BotToken().Name+")")
	serveCmd.PersistentFlags().IntVar(&serveCmdRaw.appID, "app-id", 0, "Telegram application id")
	serveCmd.PersistentFlags().StringVar(&serveCmdRaw.appHash, "app-hash", "", "Telegram application hash")
	defaultPoolSize := common.GetEnvironmentVariableInt(common.EEnvironmentVariable.ClientPoolSize(), common.ClientPoolSize)
	defaultCacheMB := common.GetEnvironmentVariableInt(common.EEnvironmentVariable.CacheMaxBytes(), common.CacheMaxBytes) / (1024 * 1024)

	serveCmd.PersistentFlags().IntVar(&serveCmdRaw.poolSize, "pool-size", defaultPoolSize, "number of sessions to hold in the pool")
	serveCmd.PersistentFlags().IntVar(&serveCmdRaw.cacheMB, "cache-mb", defaultCacheMB, "chunk cache byte budget, in MB")
	serveCmd.PersistentFlags().StringArrayVar(&serveCmdRaw.streamArgs, "stream", nil, "chatID:messageID to start streaming immediately; may be repeated")

	rootCmd.AddCommand(serveCmd)
}
