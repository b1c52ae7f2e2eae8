package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/sessiongate/internal"
	"github.com/MrEthical07/sessiongate/session"
	"github.com/alecthomas/kong"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var cli struct {
	Sessions    int    `help:"number of sessions to seed" default:"20000"`
	Concurrency int    `help:"number of concurrent workers" default:"256"`
	Ops         int    `help:"operations per phase" default:"200000"`
	RedisAddr   string `help:"redis address; miniredis is used when empty" env:"REDIS_ADDR"`
	Prefix      string `help:"session key prefix" default:"sgload"`
}

type sessionState struct {
	sid   string
	mu    sync.Mutex
	bound map[string]struct{}
}

func main() {
	kctx := kong.Parse(&cli, kong.Description("Load test for the Redis session store: rolling refresh racing connection binds."))

	if cli.Sessions <= 0 || cli.Concurrency <= 0 || cli.Ops <= 0 {
		kctx.Fatalf("sessions, concurrency, and ops must be > 0")
	}

	ctx := context.Background()

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if cli.RedisAddr == "" {
		mr, err := miniredis.Run()
		kctx.FatalIfErrorf(err, "failed to start miniredis")
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{cli.RedisAddr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", cli.RedisAddr)
	}
	defer cleanup()

	store := session.NewStore(client, cli.Prefix)

	states := make([]*sessionState, cli.Sessions)
	fmt.Printf("seeding %d sessions...\n", cli.Sessions)
	startSeed := time.Now()
	for i := range states {
		sid, err := internal.NewSessionID()
		kctx.FatalIfErrorf(err)
		states[i] = &sessionState{sid: sid.String(), bound: make(map[string]struct{})}
		if err := store.Create(ctx, buildSession(states[i].sid, i), 24*time.Hour); err != nil {
			fmt.Fprintf(os.Stderr, "create failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	loadStats := runPhase(cli.Ops, cli.Concurrency, func(r *rand.Rand, _ int) error {
		res := store.Load(ctx, states[r.Intn(len(states))].sid)
		if res.Outcome != session.OutcomeFound {
			return fmt.Errorf("load: %s", res.Outcome)
		}
		return nil
	})

	// Refresh and bind hit the same records at once; a bind lost to a refresh shows up in
	// the verification pass.
	mixedStats := runPhase(cli.Ops, cli.Concurrency, func(r *rand.Rand, i int) error {
		state := states[r.Intn(len(states))]
		if i%4 != 0 {
			next := time.Now().Add(24 * time.Hour)
			_, err := store.Touch(ctx, state.sid, next.Unix(), 24*time.Hour)
			return err
		}

		connID := internal.NewConnectionID()
		status, err := store.BindConnection(ctx, state.sid, connID, time.Now())
		if err != nil {
			return err
		}
		if status != session.BindBound {
			return fmt.Errorf("bind status %d", status)
		}
		state.mu.Lock()
		state.bound[connID] = struct{}{}
		state.mu.Unlock()
		return nil
	})

	lost := verifyBindings(ctx, store, states)

	fmt.Println("---- results ----")
	printStats("load", loadStats)
	printStats("touch+bind", mixedStats)
	fmt.Printf("lost binds: %d\n", lost)
	if lost > 0 {
		os.Exit(1)
	}
}

func runPhase(ops, concurrency int, op func(r *rand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

func verifyBindings(ctx context.Context, store *session.Store, states []*sessionState) int {
	lost := 0
	for _, state := range states {
		if len(state.bound) == 0 {
			continue
		}
		res := store.Load(ctx, state.sid)
		if res.Outcome != session.OutcomeFound {
			lost += len(state.bound)
			continue
		}
		for connID := range state.bound {
			if !res.Session.HasConnection(connID) {
				lost++
			}
		}
	}
	return lost
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

func buildSession(sid string, i int) *session.Session {
	now := time.Now()
	return &session.Session{
		SessionID: sid,
		UserUUID:  fmt.Sprintf("user-%d", i%1000),
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(24 * time.Hour).Unix(),
	}
}
