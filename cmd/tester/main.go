// Command tester generates load against the function engine, either as
// inbound conversation messages on NATS or as webhook calls over HTTP.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-function-engine/internal/config"
	"gitlab.com/timkado/api/daisi-function-engine/internal/jetstream"
	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/internal/observer"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	modeNATS    = "nats"
	modeWebhook = "webhook"
)

type options struct {
	mode          string
	rate          int
	duration      time.Duration
	concurrency   int
	companies     []string
	conversations int
	texts         []string
	webhookURL    string
}

// conversationPool reuses a fixed set of conversations per company so
// messages build up history the way real chats do.
type conversationPool struct {
	mu    sync.Mutex
	byKey map[string][]model.InboundMessagePayload
	size  int
}

func (p *conversationPool) next(companyID string) model.InboundMessagePayload {
	p.mu.Lock()
	defer p.mu.Unlock()

	convs := p.byKey[companyID]
	if len(convs) < p.size {
		c := model.NewInboundMessagePayload(companyID)
		p.byKey[companyID] = append(convs, c)
		return c
	}
	base := convs[gofakeit.Number(0, len(convs)-1)]
	base.MessageID = gofakeit.UUID()
	base.Timestamp = time.Now().UTC()
	return base
}

type publisher interface {
	publish(ctx context.Context, companyID string) error
}

type natsPublisher struct {
	client jetstream.ClientInterface
	pool   *conversationPool
	texts  []string
}

func (p *natsPublisher) publish(_ context.Context, companyID string) error {
	msg := p.pool.next(companyID)
	msg.Text = pickText(p.texts)
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	subject := string(model.V1ConversationMessage) + "." + companyID
	return p.client.Publish(subject, data, map[string]string{nats.MsgIdHdr: msg.MessageID})
}

type webhookPublisher struct {
	client *http.Client
	url    string
}

func (p *webhookPublisher) publish(ctx context.Context, companyID string) error {
	body, err := json.Marshal(map[string]interface{}{
		"email":    gofakeit.Email(),
		"order_id": gofakeit.Regex("[A-Z]{2}-[0-9]{5}"),
		"amount":   gofakeit.Price(10, 5000),
		"company":  companyID,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", gofakeit.UUID())

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("webhook answered %d", resp.StatusCode)
	}
	return nil
}

func pickText(texts []string) string {
	if len(texts) == 0 {
		return gofakeit.Sentence(8)
	}
	return texts[gofakeit.Number(0, len(texts)-1)]
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	var (
		opts        options
		natsURL     = flag.String("url", cfg.NATS.URL, "NATS server URL")
		companies   = flag.String("company_ids", cfg.Company.ID, "Comma-separated company ids")
		texts       = flag.String("texts", "", "Comma-separated message texts, e.g. trigger keywords. Random sentences when empty")
		metricsPort = flag.Int("metrics-port", 9091, "Port for the Prometheus metrics endpoint")
		logLevel    = flag.String("log-level", cfg.LogLevel, "Log level")
	)
	flag.StringVar(&opts.mode, "mode", modeNATS, "Load target: nats or webhook")
	flag.IntVar(&opts.rate, "rate", 50, "Messages per second across all workers")
	flag.DurationVar(&opts.duration, "duration", time.Minute, "How long to generate load")
	flag.IntVar(&opts.concurrency, "concurrency", 10, "Worker pool size")
	flag.IntVar(&opts.conversations, "conversations", 20, "Distinct conversations per company")
	flag.StringVar(&opts.webhookURL, "webhook-url", "", "Full webhook URL, e.g. http://localhost:8080/webhook/<key>")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Function engine load generator\n\nUsage: %s [options]\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	opts.companies = splitList(*companies)
	opts.texts = splitList(*texts)
	if opts.rate <= 0 || opts.concurrency <= 0 {
		fmt.Println("rate and concurrency must be positive")
		os.Exit(2)
	}
	if opts.conversations <= 0 {
		opts.conversations = 1
	}

	if err := logger.Initialize(*logLevel, zap.String("service", "function-engine-tester")); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Log

	observer.InitMetrics(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", *metricsPort), Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Metrics server failed", zap.Error(err))
		}
	}()

	var pub publisher
	switch opts.mode {
	case modeNATS:
		if len(opts.companies) == 0 {
			log.Fatal("No company ids provided")
		}
		client, err := jetstream.NewClient(ctx, *natsURL, "function-engine-tester")
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.String("url", *natsURL), zap.Error(err))
		}
		defer client.Close()
		pub = &natsPublisher{
			client: client,
			pool:   &conversationPool{byKey: map[string][]model.InboundMessagePayload{}, size: opts.conversations},
			texts:  opts.texts,
		}
	case modeWebhook:
		if opts.webhookURL == "" {
			log.Fatal("-webhook-url is required in webhook mode")
		}
		if len(opts.companies) == 0 {
			opts.companies = []string{"webhook"}
		}
		pub = &webhookPublisher{client: &http.Client{Timeout: 30 * time.Second}, url: opts.webhookURL}
	default:
		log.Fatal("Unknown mode", zap.String("mode", opts.mode))
	}

	log.Info("Starting load generator",
		zap.String("mode", opts.mode),
		zap.Int("rate_per_sec", opts.rate),
		zap.Duration("duration", opts.duration),
		zap.Int("concurrency", opts.concurrency),
		zap.Strings("company_ids", opts.companies),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			log.Info("Received termination signal", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	sent, failed := run(ctx, opts, pub, log)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsServer.Shutdown(shutdownCtx)

	log.Info("Load generation finished", zap.Int64("sent", sent), zap.Int64("failed", failed))
}

// run submits one task per tick to an ants pool until the duration elapses
// or ctx is cancelled, then waits for in-flight tasks.
func run(ctx context.Context, opts options, pub publisher, log *zap.Logger) (sent, failed int64) {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	record := func(ok bool) {
		mu.Lock()
		defer mu.Unlock()
		if ok {
			sent++
		} else {
			failed++
		}
	}

	pool, err := ants.NewPoolWithFunc(opts.concurrency, func(arg interface{}) {
		defer wg.Done()
		companyID := arg.(string)
		if err := pub.publish(ctx, companyID); err != nil {
			log.Debug("Publish failed", zap.String("company_id", companyID), zap.Error(err))
			observer.IncLoadgenPublishErrors(opts.mode, companyID)
			record(false)
			return
		}
		observer.IncLoadgenMessagesPublished(opts.mode, companyID)
		record(true)
	}, ants.WithNonblocking(true))
	if err != nil {
		log.Fatal("Failed to create worker pool", zap.Error(err))
	}
	defer pool.Release()

	ticker := time.NewTicker(time.Second / time.Duration(opts.rate))
	defer ticker.Stop()
	deadline := time.NewTimer(opts.duration)
	defer deadline.Stop()

	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			wg.Wait()
			return sent, failed
		case <-deadline.C:
			wg.Wait()
			return sent, failed
		case <-ticker.C:
			companyID := opts.companies[i%len(opts.companies)]
			observer.IncLoadgenMessagesAttempted(opts.mode, companyID)
			wg.Add(1)
			if err := pool.Invoke(companyID); err != nil {
				wg.Done()
				observer.IncLoadgenPublishErrors(opts.mode, companyID)
				record(false)
			}
		}
	}
}
