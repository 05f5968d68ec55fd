// README: Bench cases: environment, fares, matching, dispatch, assignment race and throughput.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"chauffeur/internal/infra"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
	// run scopes ride and driver ids so repeated runs do not collide.
	run string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
		run:   uuid.NewString()[:8],
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) id(prefix string) string {
	return prefix + "-" + r.run
}

func (r *Runner) cases() []TestCase {
	base := r.cfg.BaseURL
	scheduled := time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339)
	transfer := map[string]any{
		"serviceType":            "transfer",
		"vehicleClass":           "business_sedan",
		"scheduledAt":            scheduled,
		"estimatedDistanceMiles": "35",
	}
	pickup := map[string]any{"lat": 40.7590, "lng": -73.9845}

	return []TestCase{
		{
			Name: "Env: Postgres connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: statusSkip, Note: "dsn not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				return Result{Status: statusPass}
			},
		},
		{
			Name: "Env: Redis connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: statusSkip, Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				return Result{Status: statusPass}
			},
		},
		{
			Name: "Migration: apply",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: statusSkip, Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: statusFail, Note: "db not configured"}
				}
				if err := infra.ApplyMigrations(ctx, r.db, r.cfg.MigrationsDir); err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				return Result{Status: statusPass}
			},
		},
		{
			Name: "Migration: tables exist",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: statusSkip, Note: "dsn not configured"}
				}
				for _, t := range []string{"pricing_rules", "ride_assignment_heads", "ride_assignments"} {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)", t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: statusFail, Note: err.Error()}
					}
					if !exists {
						return Result{Status: statusFail, Note: "missing table: " + t}
					}
				}
				return Result{Status: statusPass}
			},
		},

		httpCase("API: health", http.MethodGet, base+"/health", nil, http.StatusOK),
		httpCase("API: metrics", http.MethodGet, base+"/metrics", nil, http.StatusOK),

		// Fares
		httpCase("Fares: quote transfer", http.MethodPost, base+"/api/fares/quote", transfer,
			http.StatusOK, http.StatusUnprocessableEntity),
		httpCase("Fares: unknown vehicle class -> 400", http.MethodPost, base+"/api/fares/quote", map[string]any{
			"serviceType": "transfer", "vehicleClass": "limo", "scheduledAt": scheduled,
		}, http.StatusBadRequest),
		httpCase("Fares: reconcile transfer -> 400", http.MethodPost, base+"/api/fares/reconcile", map[string]any{
			"ride": transfer, "actualMinutes": 60,
		}, http.StatusBadRequest),

		// Driver pool
		httpCase("Drivers: upsert top driver", http.MethodPut, base+"/api/drivers/"+r.id("bench-a")+"/state", map[string]any{
			"isActive": true, "isAvailable": true, "rating": 4.9, "totalRides": 200,
			"currentLocation": map[string]any{"lat": 40.7580, "lng": -73.9855, "timestamp": time.Now().UTC().Format(time.RFC3339)},
		}, http.StatusOK),
		httpCase("Drivers: upsert second driver", http.MethodPut, base+"/api/drivers/"+r.id("bench-b")+"/state", map[string]any{
			"isActive": true, "isAvailable": true, "rating": 4.1, "totalRides": 12,
		}, http.StatusOK),
		httpCase("Drivers: location out of range -> 400", http.MethodPut, base+"/api/drivers/"+r.id("bench-b")+"/location", map[string]any{
			"lat": 123.0, "lng": 456.0,
		}, http.StatusBadRequest),
		httpCase("Drivers: unknown driver -> 404", http.MethodPut, base+"/api/drivers/"+r.id("ghost")+"/availability", map[string]any{
			"available": true,
		}, http.StatusNotFound),

		// Matching and dispatch
		httpCase("Matching: rank live pool", http.MethodPost, base+"/api/matching/rank", map[string]any{
			"ride": map[string]any{"pickup": pickup},
		}, http.StatusOK),
		httpCase("Dispatch: requested driver", http.MethodPost, base+"/api/rides/"+r.id("ride-dispatch")+"/dispatch", map[string]any{
			"ride": map[string]any{"pickup": pickup}, "driverId": r.id("bench-b"),
		}, http.StatusCreated),
		httpCase("Dispatch: retry without version -> 409", http.MethodPost, base+"/api/rides/"+r.id("ride-dispatch")+"/dispatch", map[string]any{
			"ride": map[string]any{"pickup": pickup},
		}, http.StatusConflict),
		httpCase("Assignment: read back", http.MethodGet, base+"/api/rides/"+r.id("ride-dispatch")+"/assignment", nil, http.StatusOK),
		httpCase("Assignment: stale version -> 409", http.MethodPost, base+"/api/rides/"+r.id("ride-dispatch")+"/assignment", map[string]any{
			"driverId": r.id("bench-a"), "expectedVersion": 0,
		}, http.StatusConflict),

		// Concurrency
		{
			Name: "Concurrency: many drivers race one ride",
			Run: func(ctx context.Context, r *Runner) Result {
				return concurrentAssign(ctx, r, base+"/api/rides/"+r.id("ride-race")+"/assignment")
			},
		},

		// Performance
		{
			Name: "Perf: fare quote throughput",
			Run: func(ctx context.Context, r *Runner) Result {
				return perfLoad(ctx, r, http.MethodPost, base+"/api/fares/quote", transfer)
			},
		},
		{
			Name: "Perf: rank throughput",
			Run: func(ctx context.Context, r *Runner) Result {
				return perfLoad(ctx, r, http.MethodPost, base+"/api/matching/rank", map[string]any{
					"ride": map[string]any{"pickup": pickup},
				})
			},
		},
	}
}

func httpCase(name, method, url string, body any, okStatuses ...int) TestCase {
	return TestCase{
		Name: name,
		Run: func(ctx context.Context, r *Runner) Result {
			start := time.Now()
			status, err := r.send(ctx, method, url, body)
			latency := time.Since(start)
			if err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			if contains(okStatuses, status) {
				return Result{Status: statusPass, Latency: latency, Note: fmt.Sprintf("status=%d", status)}
			}
			return Result{Status: statusFail, Latency: latency, Note: fmt.Sprintf("status=%d", status)}
		},
	}
}

func (r *Runner) send(ctx context.Context, method, url string, body any) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

// concurrentAssign fires one compare-and-set per driver at version 0.
// Exactly one must win; every other caller must see 409.
func concurrentAssign(ctx context.Context, r *Runner, url string) Result {
	var wg sync.WaitGroup
	var created, conflicts, other atomic.Int64

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status, err := r.send(ctx, http.MethodPost, url, map[string]any{
				"driverId":        fmt.Sprintf("%s-%d", r.id("racer"), i),
				"expectedVersion": 0,
			})
			switch {
			case err != nil:
				other.Add(1)
			case status == http.StatusCreated:
				created.Add(1)
			case status == http.StatusConflict:
				conflicts.Add(1)
			default:
				other.Add(1)
			}
		}(i)
	}
	wg.Wait()

	note := fmt.Sprintf("created=%d conflicts=%d other=%d", created.Load(), conflicts.Load(), other.Load())
	if created.Load() == 1 && other.Load() == 0 {
		return Result{Status: statusPass, Note: note}
	}
	return Result{Status: statusFail, Note: note}
}

func perfLoad(ctx context.Context, r *Runner, method, url string, payload any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				status, err := r.send(ctx, method, url, payload)
				if err != nil || status >= 500 {
					errCount.Add(1)
					continue
				}
				count.Add(1)
			}
		}()
	}
	wg.Wait()

	if count.Load() == 0 {
		return Result{Status: statusFail, Note: "no requests completed"}
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: statusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount.Load())}
}

func contains(list []int, v int) bool {
	for _, i := range list {
		if i == v {
			return true
		}
	}
	return false
}
