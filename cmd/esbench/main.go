package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	promclient "github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/codewandler/esengine/adapters/kafka"
	"github.com/codewandler/esengine/adapters/nats"
	"github.com/codewandler/esengine/adapters/prometheus"
	"github.com/codewandler/esengine/adapters/redis"
	"github.com/codewandler/esengine/adapters/sonicjson"
	"github.com/codewandler/esengine/adapters/sqlstore"
	"github.com/codewandler/esengine/adapters/watermill"
	"github.com/codewandler/esengine/core/es"
)

// === Config ===

// NOTE: run nats: docker run --net=host nats:latest -js
// NOTE: run redis: docker run --net=host redis:7-alpine
// NOTE: TRACE=1 prints TRACE_PERCENT of the provider spans to stdout

var (
	logLevel     = slog.LevelInfo
	N            = getEnvInt("N", 50_000)
	batchSize    = getEnvInt("B", 1_000)
	workers      = getEnvInt("WORKERS", 1)
	aggregates   = getEnvInt("AGGREGATES", 1)
	snapshotStep = getEnvInt("SNAPSHOT_STEP", int(es.DefaultSnapshotStep))
	cacheSize    = getEnvInt("CACHE", 1_000)
	storeType    = getEnv("STORE", "memory")
	databaseURL  = getEnv("DATABASE_URL", "sqlite:")
	snapshotType = getEnv("SNAPSHOTS", "memory")
	lockType     = getEnv("LOCKS", "local")
	publishTo    = getEnv("PUBLISH", "")
	redisAddr    = getEnv("REDIS_ADDR", "localhost:6379")
	natsURL      = getEnv("NATS_URL", "nats://localhost:4222")
	kafkaBrokers = getEnv("KAFKA_BROKERS", "localhost:9092")
	metricsAddr  = getEnv("METRICS_ADDR", "")
	codec        = getEnv("CODEC", "std")
	tracing      = getEnvBool("TRACE", false)
	traceRatio   = float64(getEnvInt("TRACE_PERCENT", 1)) / 100
	useSnapshot  = getEnvBool("SNAPSHOT", true)
	verify       = getEnvBool("VERIFY", true)
)

func getEnvBool(key string, fallback bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	return v == "1" || strings.ToLower(v) == "true"
}

func getEnv(key, fallback string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil {
		return fallback
	}
	return v
}

// === Domain ===

type userKind struct{}

func (userKind) IDType() string { return "user_id" }

type (
	User struct {
		es.BaseAggregate

		Email   string `json:"email"`
		Changes int    `json:"changes"`
	}

	EmailChanged struct {
		Email string `json:"email"`
	}
)

func (e *EmailChanged) Validate() error {
	if e.Email == "" {
		return errors.New("email is empty")
	}
	return nil
}

func (u *User) ChangeEmail(email string) error { return u.Raise(&EmailChanged{Email: email}) }

var userDef = es.Define[*User, userKind](
	"user",
	func() *User { return &User{} },
	es.On(func(u *User, e *EmailChanged) {
		u.Email = e.Email
		u.Changes++
	}),
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	b, err := newBench(ctx, log)
	checkErr(err)
	defer b.close()

	fmt.Printf("    store: %s\nsnapshots: %s (enabled=%t)\n    locks: %s\n  publish: %q\n    codec: %s\n",
		storeType, snapshotType, useSnapshot, lockType, publishTo, codec)

	checkErr(b.run(ctx))
}

// === Bench ===

type bench struct {
	log      *slog.Logger
	provider *es.Provider
	repo     *es.Repository
	ids      []es.ID[userKind]
	closers  []func() error
}

func (b *bench) onClose(fn func() error) { b.closers = append(b.closers, fn) }

func (b *bench) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			b.log.Warn("close", slog.Any("error", err))
		}
	}
}

func newBench(ctx context.Context, log *slog.Logger) (*bench, error) {
	var (
		b        = &bench{log: log}
		reg      = promclient.NewRegistry()
		metrics  = es.NopESMetrics()
		provOpts []es.ProviderOption
	)

	if metricsAddr != "" {
		metrics = prometheus.NewESMetrics(reg)
		srv := &http.Server{Addr: metricsAddr, Handler: otelhttp.NewHandler(prometheus.Handler(reg), "metrics")}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", slog.Any("error", err))
			}
		}()
		b.onClose(srv.Close)
	}

	var (
		store   es.StreamStore
		sqlDB   *sqlstore.Store
		redisCl goredis.UniversalClient
	)
	switch storeType {
	case "memory":
		store = es.NewInMemoryStore()
	case "sql":
		s, err := sqlstore.Open(ctx, databaseURL, sqlstore.WithLog(log))
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
		b.onClose(s.Close)
		store, sqlDB = s, s
	default:
		return nil, fmt.Errorf("unknown store: %s", storeType)
	}

	if snapshotType == "redis" || lockType == "redis" {
		redisCl = goredis.NewClient(&goredis.Options{Addr: redisAddr})
		b.onClose(redisCl.Close)
	}

	var snapshots es.SnapshotStore
	switch snapshotType {
	case "memory":
		snapshots = es.NewInMemorySnapshotStore()
	case "sql":
		if sqlDB == nil {
			return nil, errors.New("sql snapshots need STORE=sql")
		}
		snapshots = sqlDB.Snapshots()
	case "redis":
		snapshots = es.NewKVSnapshotStore(redis.NewKVStore(redisCl, "esbench:"), 0)
	case "nats":
		ss, kvs, err := nats.NewSnapshotStore(ctx, nats.KVConfig{
			Connect: nats.ConnectURL(natsURL),
			Log:     log,
			Bucket:  "esbench_snapshots",
			TTL:     time.Hour,
		})
		if err != nil {
			return nil, err
		}
		b.onClose(kvs.Close)
		snapshots = ss
	default:
		return nil, fmt.Errorf("unknown snapshot store: %s", snapshotType)
	}

	switch lockType {
	case "local":
	case "redis":
		provOpts = append(provOpts, es.WithLockFactory(redis.NewLockFactory(redisCl, redis.LockConfig{Log: log})))
	default:
		return nil, fmt.Errorf("unknown lock factory: %s", lockType)
	}

	switch publishTo {
	case "":
	case "nats":
		pub, err := nats.NewPublisher(ctx, nats.PublisherConfig{
			Connect:       nats.ConnectURL(natsURL),
			Log:           log,
			SubjectPrefix: "esbench.events",
			StreamName:    "ESBENCH_EVENTS",
		})
		if err != nil {
			return nil, err
		}
		b.onClose(pub.Close)
		provOpts = append(provOpts, es.WithPublisher(pub))
	case "kafka":
		pub := kafka.NewPublisher(
			kafka.NewWriter(strings.Split(kafkaBrokers, ",")...),
			kafka.Config{Log: log, Topic: kafka.AggregateTopic},
		)
		b.onClose(pub.Close)
		provOpts = append(provOpts, es.WithPublisher(pub))
	case "watermill-kafka":
		pub, err := watermill.NewKafkaPublisher(watermill.KafkaConfig{
			Brokers: strings.Split(kafkaBrokers, ","),
			Log:     log,
		})
		if err != nil {
			return nil, err
		}
		b.onClose(pub.Close)
		provOpts = append(provOpts, es.WithPublisher(pub))
	default:
		return nil, fmt.Errorf("unknown publisher: %s", publishTo)
	}

	if tracing {
		tp, err := initTracing(ctx)
		if err != nil {
			return nil, err
		}
		b.onClose(func() error { return tp.Shutdown(context.Background()) })
		provOpts = append(provOpts, es.WithTracerProvider(tp))
	}

	trigger := es.SnapshotTrigger(es.NeverTrigger)
	if useSnapshot {
		trigger = es.NewStepTrigger(es.Version(snapshotStep))
	}
	snapshotter := es.NewSnapshotter(
		snapshots,
		es.WithLog(log),
		es.WithMetrics(metrics),
		es.WithSnapshotTrigger(trigger),
		es.WithSnapshotCacheLRU(cacheSize),
	)

	registry := es.NewRegistry(userDef)
	repoOpts := []es.RepositoryOption{es.WithSnapshotter(snapshotter), es.WithMetrics(metrics)}
	switch codec {
	case "std":
	case "sonic":
		repoOpts = append(repoOpts, sonicjson.WithSerializer(registry))
	default:
		return nil, fmt.Errorf("unknown codec: %s", codec)
	}

	b.repo = es.NewRepository(log, store, registry, repoOpts...)
	b.provider = es.NewProvider(
		b.repo,
		append(provOpts, es.WithLog(log), es.WithMetrics(metrics))...,
	)

	runID := gonanoid.Must(6)
	for i := 0; i < max(aggregates, 1); i++ {
		b.ids = append(b.ids, es.MustID[userKind](fmt.Sprintf("user-%s-%d", runID, i)))
	}
	return b, nil
}

func (b *bench) write(ctx context.Context, id es.ID[userKind], i int) error {
	return b.provider.WithTransaction(ctx, id, func(_ context.Context, agg es.Aggregate) error {
		return agg.(*User).ChangeEmail(fmt.Sprintf("user@host-%d.com", i))
	}, es.WithCreate())
}

func (b *bench) run(ctx context.Context) error {
	b.log.Info("==================================")
	b.log.Info("Starting ...")

	var (
		startAt  = time.Now()
		lastTime = startAt
		mu       sync.Mutex
		done     int
		jobs     = make(chan int)
		errCh    = make(chan error, workers)
		wg       sync.WaitGroup
	)

	report := func() {
		mu.Lock()
		defer mu.Unlock()
		done++
		if done%100 == 0 {
			print(".")
		}
		if done%batchSize == 0 {
			m := getMemUsage()
			n := time.Now()
			took := n.Sub(lastTime)
			fmt.Printf(" | %5d writes | %6d ms |  %6d writes/s | (%d / %d) MiB mem (sys) |\n",
				batchSize, took.Milliseconds(), int(float64(batchSize)/took.Seconds()), m.Alloc/1024/1024, m.Sys/1024/1024)
			lastTime = n
		}
	}

	for w := 0; w < max(workers, 1); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := b.write(ctx, b.ids[i%len(b.ids)], i); err != nil {
					errCh <- err
					return
				}
				report()
			}
		}()
	}

feed:
	for i := 0; i < N; i++ {
		select {
		case jobs <- i:
		case err := <-errCh:
			close(jobs)
			wg.Wait()
			return err
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	select {
	case err := <-errCh:
		return err
	default:
	}

	// === stats ===
	println("")
	println("==========================================")

	took := time.Since(startAt)
	runtime.GC()

	fmt.Printf("total runtime: %.3f seconds\n", took.Seconds())
	fmt.Printf("   aggregates: %d\n", len(b.ids))
	fmt.Printf("avg. writes/s: %d\n", int(float64(done)/took.Seconds()))

	if !verify {
		return nil
	}
	var changes int
	for _, id := range b.ids {
		u, err := es.LoadAs[*User](ctx, b.provider, id)
		if err != nil {
			return err
		}
		changes += u.Changes
	}
	fmt.Printf("      changes: %d (expected %d)\n", changes, done)
	if changes != done {
		return fmt.Errorf("lost writes: %d of %d", done-changes, done)
	}
	return nil
}

// === stats helpers ===

type MemUsage struct {
	Alloc uint64 // bytes allocated and not yet freed (heap)
	Sys   uint64 // total bytes obtained from OS
}

func getMemUsage() MemUsage {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemUsage{Alloc: m.Alloc, Sys: m.Sys}
}

func checkErr(err error) {
	if err != nil {
		panic(err)
	}
}
