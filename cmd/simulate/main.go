package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/booking-settlement-engine/internal/api"
	"github.com/hackgods/booking-settlement-engine/internal/audit"
	"github.com/hackgods/booking-settlement-engine/internal/config"
	"github.com/hackgods/booking-settlement-engine/internal/db"
	"github.com/hackgods/booking-settlement-engine/internal/logging"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	BookingRatio  float64
	ConfirmRatio  float64
	ReadRatio     float64
	PatientLimit  int
	ProviderLimit int
	SlotsPerDay   int // distinct start hours per provider; fewer means more contention
	JWTSecret     string
	PostgresDSN   string
}

type created struct {
	ID         uuid.UUID
	ProviderID uuid.UUID
	PatientID  uuid.UUID
}

type DataPool struct {
	Patients  []uuid.UUID
	Providers []uuid.UUID
	mu        sync.RWMutex
	bookings  []created
}

func (dp *DataPool) AddBooking(c created) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, c)
}

func (dp *DataPool) RandomBooking(rng *rand.Rand) (created, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.bookings) == 0 {
		return created{}, false
	}
	return dp.bookings[rng.Intn(len(dp.bookings))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
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
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95, p99 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	pct := func(p int) time.Duration {
		idx := len(latencies) * p / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}

	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1], pct(50), pct(95), pct(99)
}

type Metrics struct {
	Booking      OperationMetrics
	Confirm      OperationMetrics
	ReadByID     OperationMetrics
	ListByUser   OperationMetrics
	Availability OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	day     time.Time
	logger  zerolog.Logger
}

func main() {
	cfg, logger := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("confirm", cfg.ConfirmRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().Int("patients", len(dataPool.Patients)).Int("providers", len(dataPool.Providers)).Msg("data pool loaded")

	// bookings land three days out so advance-notice rules never reject them
	day := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, 3)

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		day:    day,
		logger: logger,
	}

	sim.Run()
	sim.PrintReport()

	checkCtx, cancelCheck := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelCheck()
	overlaps, err := countOverlaps(checkCtx, pgPool)
	if err != nil {
		logger.Fatal().Err(err).Msg("overlap check")
	}
	if overlaps > 0 {
		logger.Error().Int("overlapping_pairs", overlaps).Msg("double booking detected")
		os.Exit(1)
	}
	logger.Info().Msg("no overlapping active reservations")
}

func loadConfig() (SimConfig, zerolog.Logger) {
	baseCfg, err := config.Load()
	if err != nil {
		fallback := logging.New("development", "info")
		fallback.Fatal().Err(err).Msg("failed to load base config")
	}
	logger := logging.Component(logging.New(baseCfg.Env, baseCfg.LogLevel), "simulate")

	cfg := SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:"+baseCfg.HTTPPort),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		BookingRatio:  getFloat("SIM_BOOKING_RATIO", 0.5),
		ConfirmRatio:  getFloat("SIM_CONFIRM_RATIO", 0.2),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.3),
		PatientLimit:  getInt("SIM_PATIENT_LIMIT", 2000),
		ProviderLimit: getInt("SIM_PROVIDER_LIMIT", 20),
		SlotsPerDay:   getInt("SIM_SLOTS_PER_DAY", 8),
		JWTSecret:     baseCfg.JWTSecret,
		PostgresDSN:   baseCfg.PostgresDSN,
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.ConfirmRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ConfirmRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg, logger
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.SlotsPerDay <= 0 || cfg.SlotsPerDay > 20 {
		return fmt.Errorf("SIM_SLOTS_PER_DAY must be between 1 and 20")
	}
	return nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, role audit.Role, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, `SELECT user_id FROM contacts WHERE role = $1 LIMIT $2`, string(role), limit)
	if err != nil {
		return nil, fmt.Errorf("load %ss: %w", role, err)
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
	if len(ids) == 0 {
		return nil, fmt.Errorf("no %ss loaded, run cmd/seed first", role)
	}
	return ids, rows.Err()
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	patients, err := loadIDs(ctx, pool, audit.RolePatient, cfg.PatientLimit)
	if err != nil {
		return nil, err
	}
	providers, err := loadIDs(ctx, pool, audit.RoleProvider, cfg.ProviderLimit)
	if err != nil {
		return nil, err
	}
	return &DataPool{Patients: patients, Providers: providers}, nil
}

// countOverlaps reports pairs of active reservations sharing provider time.
func countOverlaps(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM slot_reservations a
		JOIN slot_reservations b
		  ON a.provider_id = b.provider_id AND a.id < b.id
		WHERE a.status IN ('held', 'confirmed')
		  AND b.status IN ('held', 'confirmed')
		  AND a.start_time < b.end_time
		  AND b.start_time < a.end_time
	`).Scan(&n)
	return n, err
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.ConfirmRatio:
				s.doConfirm(ctx, rng)
			default:
				switch rng.Intn(3) {
				case 0:
					s.doReadByID(ctx, rng)
				case 1:
					s.doListByPatient(ctx, rng)
				case 2:
					s.doAvailability(ctx, rng)
				}
			}
		}
	}
}

// call sends one request as actor and returns status, body and latency.
func (s *Simulator) call(ctx context.Context, method, path string, as audit.Actor, body any) (int, []byte, time.Duration, error) {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, 0, err
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, rd)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.JWTSecret != "" {
		token, err := api.IssueToken(s.config.JWTSecret, as, time.Hour)
		if err != nil {
			return 0, nil, 0, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		req.Header.Set("X-User-ID", as.UserID.String())
		req.Header.Set("X-User-Role", string(as.Role))
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, nil, latency, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	return resp.StatusCode, data, latency, err
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	providerID := s.pool.Providers[rng.Intn(len(s.pool.Providers))]
	patient := audit.Actor{UserID: s.pool.Patients[rng.Intn(len(s.pool.Patients))], Role: audit.RolePatient}

	// start hours collide on purpose; half-hour offsets overlap the hour before
	start := s.day.Add(time.Duration(8+rng.Intn(s.config.SlotsPerDay))*time.Hour + time.Duration(rng.Intn(2))*30*time.Minute)

	body := api.CreateBookingRequest{
		ProviderID: providerID.String(),
		Service: api.ServiceRequest{
			ID:              "svc-" + strings.ToLower(gofakeit.Word()),
			Name:            gofakeit.JobTitle() + " consultation",
			PriceCents:      int64(gofakeit.Number(5, 300)) * 100,
			DurationMinutes: 60,
		},
		Start:         start,
		PaymentMethod: "pm_card_visa",
		Source:        string(audit.SourceAPI),
	}

	status, data, latency, err := s.call(ctx, http.MethodPost, "/v1/bookings", patient, body)
	if err == nil && status == http.StatusCreated {
		var resp struct {
			ID uuid.UUID `json:"id"`
		}
		if json.Unmarshal(data, &resp) == nil && resp.ID != uuid.Nil {
			s.pool.AddBooking(created{ID: resp.ID, ProviderID: providerID, PatientID: patient.UserID})
		}
	}
	s.metrics.Booking.Record(latency, status, err)
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}
	provider := audit.Actor{UserID: b.ProviderID, Role: audit.RoleProvider}
	status, _, latency, err := s.call(ctx, http.MethodPost, fmt.Sprintf("/v1/bookings/%s/confirm", b.ID), provider, nil)
	s.metrics.Confirm.Record(latency, status, err)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}
	patient := audit.Actor{UserID: b.PatientID, Role: audit.RolePatient}
	status, _, latency, err := s.call(ctx, http.MethodGet, "/v1/bookings/"+b.ID.String(), patient, nil)
	s.metrics.ReadByID.Record(latency, status, err)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	patient := audit.Actor{UserID: s.pool.Patients[rng.Intn(len(s.pool.Patients))], Role: audit.RolePatient}
	status, _, latency, err := s.call(ctx, http.MethodGet,
		fmt.Sprintf("/v1/bookings?patient_id=%s&limit=20&offset=0", patient.UserID), patient, nil)
	s.metrics.ListByUser.Record(latency, status, err)
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	providerID := s.pool.Providers[rng.Intn(len(s.pool.Providers))]
	patient := audit.Actor{UserID: s.pool.Patients[rng.Intn(len(s.pool.Patients))], Role: audit.RolePatient}
	path := fmt.Sprintf("/v1/providers/%s/availability?from=%s&to=%s", providerID,
		s.day.Format(time.RFC3339), s.day.Add(24*time.Hour).Format(time.RFC3339))
	status, _, latency, err := s.call(ctx, http.MethodGet, path, patient, nil)
	s.metrics.Availability.Record(latency, status, err)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Providers: %d, slots per day: %d\n", len(s.pool.Providers), s.config.SlotsPerDay)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Patient", &s.metrics.ListByUser)
	printOperationReport("Availability", &s.metrics.Availability)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95, p99 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s p99=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond), p99.Round(time.Millisecond))
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
