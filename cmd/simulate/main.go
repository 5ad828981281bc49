package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-smartflow/internal/api"
	"github.com/hackgods/clinic-smartflow/internal/config"
	"github.com/hackgods/clinic-smartflow/internal/db"
	"github.com/hackgods/clinic-smartflow/pkg/logging"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	BookingRatio  float64
	WalkInRatio   float64
	CheckInRatio  float64
	ReadRatio     float64
	PatientLimit  int
	HorizonDays   int
	ClinicTZ      *time.Location
	PostgresDSN   string
	Seed          uint64
	Practitioners int
}

// DataPool holds the ids workers pick from. Booked appointments are added as
// the run goes so later check-ins have something to act on.
type DataPool struct {
	Patients      []uuid.UUID
	Practitioners []uuid.UUID
	mu            sync.RWMutex
	booked        []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.booked = append(dp.booked, id)
}

func (dp *DataPool) TakeAppointment(f *gofakeit.Faker) (uuid.UUID, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.booked) == 0 {
		return uuid.Nil, false
	}
	idx := f.Number(0, len(dp.booked)-1)
	id := dp.booked[idx]
	dp.booked = slices.Delete(dp.booked, idx, idx+1)
	return id, true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case err == nil && status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, maxLatency time.Duration) {
	om.mu.Lock()
	latencies := slices.Clone(om.latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	slices.Sort(latencies)

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pick := func(pct int) time.Duration {
		return latencies[min(len(latencies)*pct/100, len(latencies)-1)]
	}
	return sum / time.Duration(len(latencies)), pick(50), pick(95), latencies[len(latencies)-1]
}

type Metrics struct {
	Booking  OperationMetrics
	Shadow   atomic.Int64
	WalkIn   OperationMetrics
	CheckIn  OperationMetrics
	Queue    OperationMetrics
	CallNext OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	logger  *logging.Logger
	metrics Metrics
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}
	logger := logging.New(baseCfg.LogLevel).With("service", "simulate")

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	logger.Info("simulator starting",
		"duration", cfg.Duration, "workers", cfg.Workers,
		"booking", cfg.BookingRatio, "walk_in", cfg.WalkInRatio, "check_in", cfg.CheckInRatio, "read", cfg.ReadRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Error("load data pool", "error", err)
		os.Exit(1)
	}
	logger.Info("data pool loaded", "patients", len(dataPool.Patients), "practitioners", len(dataPool.Practitioners))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:    strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		BookingRatio:  getFloat("SIM_BOOKING_RATIO", 0.45),
		WalkInRatio:   getFloat("SIM_WALK_IN_RATIO", 0.1),
		CheckInRatio:  getFloat("SIM_CHECK_IN_RATIO", 0.2),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.25),
		PatientLimit:  getInt("SIM_PATIENT_LIMIT", 4000),
		Practitioners: getInt("SIM_PRACTITIONER_LIMIT", 5),
		HorizonDays:   getInt("SIM_HORIZON_DAYS", 3),
		ClinicTZ:      base.Location(),
		PostgresDSN:   base.PostgresDSN,
		Seed:          uint64(getInt("SIM_SEED", 0)),
	}

	total := cfg.BookingRatio + cfg.WalkInRatio + cfg.CheckInRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.WalkInRatio /= total
		cfg.CheckInRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return errors.New("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return errors.New("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return errors.New("SIM_DURATION must be > 0")
	}
	if cfg.HorizonDays <= 0 {
		return errors.New("SIM_HORIZON_DAYS must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	var err error
	dataPool.Patients, err = loadIDs(ctx, pool, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	dataPool.Practitioners, err = loadIDs(ctx, pool, `SELECT id FROM practitioners ORDER BY created_at LIMIT $1`, cfg.Practitioners)
	if err != nil {
		return nil, fmt.Errorf("load practitioners: %w", err)
	}

	if len(dataPool.Patients) == 0 {
		return nil, errors.New("no patients loaded, run cmd/seed first")
	}
	if len(dataPool.Practitioners) == 0 {
		return nil, errors.New("no practitioners loaded, run cmd/seed first")
	}
	return dataPool, nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, query string, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info("starting simulation", "duration", s.config.Duration, "workers", s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	seed := s.config.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	f := gofakeit.New(seed + uint64(workerID))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := f.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, f)
		case r < s.config.BookingRatio+s.config.WalkInRatio:
			s.doWalkIn(ctx, f)
		case r < s.config.BookingRatio+s.config.WalkInRatio+s.config.CheckInRatio:
			s.doCheckIn(ctx, f)
		default:
			if f.Bool() {
				s.doQueueStatus(ctx, f)
			} else {
				s.doCallNext(ctx, f)
			}
		}
	}
}

func (s *Simulator) pick(f *gofakeit.Faker, ids []uuid.UUID) uuid.UUID {
	return ids[f.Number(0, len(ids)-1)]
}

// randomSlot picks a half-hour start inside working hours over the next
// HorizonDays days. The small grid keeps contention high.
func (s *Simulator) randomSlot(f *gofakeit.Faker) time.Time {
	now := time.Now().In(s.config.ClinicTZ)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.config.ClinicTZ)
	day = day.AddDate(0, 0, f.Number(1, s.config.HorizonDays))
	return day.Add(9*time.Hour + time.Duration(f.Number(0, 15))*30*time.Minute)
}

func (s *Simulator) post(ctx context.Context, path string, body any, out any) (int, time.Duration, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, 0, err
		}
	}
	return s.do(ctx, http.MethodPost, path, &buf, out)
}

func (s *Simulator) do(ctx context.Context, method, path string, body *bytes.Buffer, out any) (int, time.Duration, error) {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, body)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, latency, err
		}
	}
	return resp.StatusCode, latency, nil
}

func (s *Simulator) doBooking(ctx context.Context, f *gofakeit.Faker) {
	req := api.BookSlotRequest{
		PatientID:      s.pick(f, s.pool.Patients).String(),
		PractitionerID: s.pick(f, s.pool.Practitioners).String(),
		Start:          s.randomSlot(f),
		UrgencyLevel:   f.Number(1, 3),
	}

	var resp api.BookingResponse
	status, latency, err := s.post(ctx, "/appointments", req, &resp)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Booking.Record(latency, status, err)
	if err == nil && status == http.StatusCreated {
		if resp.Shadow {
			s.metrics.Shadow.Add(1)
		}
		s.pool.AddAppointment(resp.Appointment.ID)
	}
}

func (s *Simulator) doWalkIn(ctx context.Context, f *gofakeit.Faker) {
	req := api.WalkInRequest{
		PatientID:      s.pick(f, s.pool.Patients).String(),
		PractitionerID: s.pick(f, s.pool.Practitioners).String(),
		UrgencyLevel:   f.Number(1, 5),
	}
	status, latency, err := s.post(ctx, "/walk-ins", req, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.WalkIn.Record(latency, status, err)
}

func (s *Simulator) doCheckIn(ctx context.Context, f *gofakeit.Faker) {
	id, ok := s.pool.TakeAppointment(f)
	if !ok {
		return
	}
	status, latency, err := s.post(ctx, "/appointments/"+id.String()+"/check-in", nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.CheckIn.Record(latency, status, err)
}

func (s *Simulator) doQueueStatus(ctx context.Context, f *gofakeit.Faker) {
	path := "/practitioners/" + s.pick(f, s.pool.Practitioners).String() + "/queue"
	status, latency, err := s.do(ctx, http.MethodGet, path, nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Queue.Record(latency, status, err)
}

func (s *Simulator) doCallNext(ctx context.Context, f *gofakeit.Faker) {
	path := "/practitioners/" + s.pick(f, s.pool.Practitioners).String() + "/queue/next"
	status, latency, err := s.post(ctx, path, nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.CallNext.Record(latency, status, err)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	if n := s.metrics.Shadow.Load(); n > 0 {
		fmt.Printf("  Shadow bookings: %d\n\n", n)
	}
	printOperationReport("Walk-in", &s.metrics.WalkIn)
	printOperationReport("Check-in", &s.metrics.CheckIn)
	printOperationReport("Queue status", &s.metrics.Queue)
	printOperationReport("Call next", &s.metrics.CallNext)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, p50, p95, maxLatency := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), maxLatency.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
