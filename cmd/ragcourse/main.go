package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ragcourse/internal/config"
	"ragcourse/internal/crawler"
	"ragcourse/internal/eval"
	"ragcourse/internal/fetch"
	"ragcourse/internal/llm"
	"ragcourse/internal/logger"
	"ragcourse/internal/metrics"
	"ragcourse/internal/model"
	"ragcourse/internal/rag"
	web "ragcourse/internal/server"
	"ragcourse/internal/store"
	"ragcourse/internal/worker"

	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	v       = viper.New()
	cfgFile string
	cfg     *config.Config
	log     *zap.Logger
	meters  = metrics.New()
)

var rootCmd = &cobra.Command{
	Use:   "ragcourse",
	Short: "ragcourse - answer course questions from a crawled college website",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(v, cfgFile); err != nil {
			return err
		}
		if log, err = logger.New(cfg.LogLevel); err != nil {
			return err
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return askCmd.RunE(cmd, args)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func openStore() (*store.SQLiteStore, error) {
	st, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}
	return st, nil
}

func newGenerator() (llm.Generator, error) {
	client, err := llm.NewOpenAIClient(llm.ClientConfig{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	}, log)
	if err != nil {
		return nil, err
	}
	return meters.Generator(client), nil
}

// newCrawler builds the crawl pipeline. The returned cache must be closed.
func newCrawler(st store.Store, gen llm.Generator) (*crawler.Crawler, *badger.DB, error) {
	cache, err := fetch.OpenCache(cfg.CachePath)
	if err != nil {
		return nil, nil, err
	}
	fetcher := fetch.NewCachedFetcher(
		fetch.NewHTTPFetcher(cfg.Crawler.FetchTimeout, cfg.Crawler.UserAgent),
		cache, cfg.CacheTTL, log)

	c := crawler.New(st, fetcher, llm.NewSummarizer(gen), log, crawler.Config{
		Domain:          cfg.Crawler.Domain,
		Workers:         cfg.Crawler.Workers,
		MaxContentChars: cfg.Crawler.MaxContentChars,
	}, crawler.WithMetrics(meters))
	return c, cache, nil
}

func newOrchestrator(st store.Store, gen llm.Generator) *rag.Orchestrator {
	keywords := llm.NewKeywordExtractor(gen, log, cfg.LLM.KeywordAttempts)
	retriever := rag.NewRetriever(keywords, st, log,
		store.WithLimit(cfg.Search.Limit),
		store.WithTimeBias(cfg.Search.TimeBias))
	return rag.NewOrchestrator(retriever, gen, llm.NewCompressor(gen, log, cfg.LLM.CompressRounds), log,
		rag.WithMaxAttempts(cfg.LLM.GenerateAttempts),
		rag.WithMetrics(meters))
}

var (
	ingestURL   string
	ingestDepth int
	allowDupes  bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Crawl a URL into the article database",
	RunE: func(cmd *cobra.Command, args []string) error {
		if ingestURL == "" {
			return errors.New("--url is required")
		}
		ctx, stop := signalContext()
		defer stop()

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		gen, err := newGenerator()
		if err != nil {
			return err
		}
		c, cache, err := newCrawler(st, gen)
		if err != nil {
			return err
		}
		defer cache.Close()

		stats, err := c.Crawl(ctx, ingestURL, ingestDepth, allowDupes)
		if err != nil {
			return err
		}
		fmt.Printf("Visited %d pages, stored %d, upgraded %d\n", stats.Visited, stats.Stored, stats.Upgraded)
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Ask questions interactively",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		gen, err := newGenerator()
		if err != nil {
			return err
		}
		o := newOrchestrator(st, gen)

		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print("ragcourse> ")
			if !scanner.Scan() {
				fmt.Println()
				return scanner.Err()
			}
			question := strings.TrimSpace(scanner.Text())
			if question == "" {
				continue
			}

			answer, err := o.Answer(ctx, question)
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				continue
			}
			fmt.Println(answer)
		}
	},
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [url]",
	Short: "Queue a URL for the crawl worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := store.NewQueue(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer q.Close()

		job := model.NewCrawlJob(args[0], ingestDepth)
		job.AllowDupes = allowDupes
		if err := q.Push(cmd.Context(), &job); err != nil {
			return fmt.Errorf("failed to queue job: %w", err)
		}

		log.Info("Crawl queued",
			zap.String("id", job.ID.String()),
			zap.String("url", job.URL))
		fmt.Println(job.ID)
		return nil
	},
}

// runWorker blocks until ctx is done.
func runWorker(ctx context.Context, st store.Store, q *store.Queue) error {
	gen, err := newGenerator()
	if err != nil {
		return err
	}
	c, cache, err := newCrawler(st, gen)
	if err != nil {
		return err
	}
	defer cache.Close()
	gcDone := make(chan struct{})
	go func() {
		fetch.RunGC(ctx, cache, 5*time.Minute, log)
		close(gcDone)
	}()
	defer func() { <-gcDone }()

	worker.NewWorker(q, c, log).Start(ctx)
	return nil
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the crawl queue consumer",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		q, err := store.NewQueue(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer q.Close()

		return runWorker(ctx, st, q)
	},
}

// httpServer is the part of web.Server that serveUntilDone drives.
type httpServer interface {
	Start(addr string) error
	Stop(ctx context.Context) error
}

// serveUntilDone runs srv and, when work is non-nil, the crawl worker until
// ctx is done or srv fails. It returns only after both have stopped.
func serveUntilDone(ctx context.Context, srv httpServer, addr string, work func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	if work != nil {
		g.Go(func() error {
			if err := work(ctx); err != nil {
				log.Error("Worker failed", zap.Error(err))
			}
			return nil
		})
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(addr) }()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		log.Info("Shutting down...")
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		err = srv.Stop(shutdownCtx)
		stop()
	}

	cancel()
	_ = g.Wait()
	return err
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the worker and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		gen, err := newGenerator()
		if err != nil {
			return err
		}

		var (
			jobs web.Jobs
			work func(context.Context) error
		)
		q, err := store.NewQueue(cfg.RedisAddr)
		if err != nil {
			log.Warn("Redis unavailable, crawl queue disabled", zap.Error(err))
		} else {
			defer q.Close()
			jobs = q
			work = func(ctx context.Context) error { return runWorker(ctx, st, q) }
		}

		srv := web.NewServer(st, newOrchestrator(st, gen), jobs, meters.Handler(), log)
		return serveUntilDone(ctx, srv, cfg.Addr, work)
	},
}

var evalPath string

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score answers against a JSONL file of true/false statements",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		f, err := os.Open(evalPath)
		if err != nil {
			return err
		}
		defer f.Close()
		cases, err := eval.Load(f)
		if err != nil {
			return fmt.Errorf("load %s: %w", evalPath, err)
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		gen, err := newGenerator()
		if err != nil {
			return err
		}

		_, err = eval.NewEvaluator(newOrchestrator(st, gen), log, os.Stdout).Run(ctx, cases)
		return err
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the number of stored articles",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.Count(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}

func bindFlag(key, flag string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func main() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ./config.yaml if present)")
	pf.String("db", "mudd.db", "Path to the article database")
	pf.String("model", "llama3-groq-8b-8192-tool-use-preview", "Generation model")
	pf.String("loglevel", "warning", "Log level: debug, info, warning, error")
	pf.String("redis", "localhost:6379", "Address of Redis server")
	pf.String("cache", "./page-cache", "Path to the BadgerDB page cache")
	bindFlag(config.KeyDB, "db")
	bindFlag(config.KeyModel, "model")
	bindFlag(config.KeyLogLevel, "loglevel")
	bindFlag(config.KeyRedis, "redis")
	bindFlag(config.KeyCache, "cache")

	ingestCmd.Flags().StringVar(&ingestURL, "url", "", "Seed URL to crawl")
	for _, c := range []*cobra.Command{ingestCmd, enqueueCmd} {
		c.Flags().IntVar(&ingestDepth, "recursive_depth", 0, "How many links deep to follow")
		c.Flags().BoolVar(&allowDupes, "allow_dupes", false, "Store pages that are already in the database")
	}

	serveCmd.Flags().String("addr", ":8080", "HTTP listen address")
	if err := v.BindPFlag(config.KeyAddr, serveCmd.Flags().Lookup("addr")); err != nil {
		panic(err)
	}
	evaluateCmd.Flags().StringVar(&evalPath, "path", "mudd_course", "JSONL file of {question, answer} lines")

	rootCmd.AddCommand(ingestCmd, askCmd, enqueueCmd, workerCmd, serveCmd, evaluateCmd, statsCmd)

	err := rootCmd.Execute()
	if log != nil {
		_ = log.Sync()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
