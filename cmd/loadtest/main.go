package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/autoparts/internal/version"
)

const (
	headerUserID         = "X-User-ID"
	headerUserRole       = "X-User-Role"
	headerIdempotencyKey = "Idempotency-Key"

	codeStockInsufficient = "stock_insufficient"

	defaultPrice = int64(25000)
)

type loadMode string

const (
	modeCreate       loadMode = "create"
	modeCreateCancel loadMode = "create-cancel"
)

type outcome string

const (
	outcomeOK       outcome = "ok"
	outcomeRejected outcome = "rejected"
	outcomeFailed   outcome = "failed"
)

type config struct {
	baseURL      string
	total        int
	concurrency  int
	quantity     int
	initialStock int
	price        int64
	timeout      time.Duration
	mode         loadMode
	cancelRate   int
	adminID      string
	customerTag  string
	outputPath   string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type stockReport struct {
	ProductID  string `json:"product_id"`
	Initial    int    `json:"initial"`
	Quantity   int    `json:"quantity"`
	Created    int64  `json:"created"`
	Cancelled  int64  `json:"cancelled"`
	Rejected   int64  `json:"rejected"`
	Final      int    `json:"final"`
	Expected   int    `json:"expected"`
	Consistent bool   `json:"consistent"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	RejectedScenarios int64                   `json:"rejected_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
	Stock             stockReport             `json:"stock"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu        sync.Mutex
	methods   map[string]*methodStats
	rejected  int64
	cancelled int64
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

// record учитывает вызов; code — HTTP-статус или код доменной ошибки.
func (c *collector) record(method string, latency time.Duration, code string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, found := c.methods[method]
	if !found {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if ok {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) recordScenario(latency time.Duration, result outcome) {
	c.record("scenario", latency, string(result), result != outcomeFailed)
	if result == outcomeRejected {
		c.mu.Lock()
		c.rejected++
		c.mu.Unlock()
	}
}

func (c *collector) markCancelled() {
	c.mu.Lock()
	c.cancelled++
	c.mu.Unlock()
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:         startedAt.UTC(),
		DurationSeconds:   duration.Seconds(),
		RejectedScenarios: c.rejected,
		Methods:           make(map[string]methodReport, len(c.methods)),
	}

	if scenarioStats := c.methods["scenario"]; scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.FailedScenarios = scenarioStats.failed
		result.SuccessScenarios = scenarioStats.success - c.rejected
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	result.Stock.Cancelled = c.cancelled
	result.Stock.Rejected = c.rejected
	return result
}

func parseConfig(args []string) (config, error) {
	var cfg config
	var modeValue string
	var timeoutValue string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "order service base URL")
	fs.IntVar(&cfg.total, "total", 200, "number of concurrent order attempts")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.IntVar(&cfg.quantity, "quantity", 1, "units requested by each order")
	fs.IntVar(&cfg.initialStock, "stock", 50, "initial stock of the seeded product")
	fs.Int64Var(&cfg.price, "price", defaultPrice, "unit price of the seeded product")
	fs.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-cancel")
	fs.IntVar(&cfg.cancelRate, "cancel-rate", 100, "cancel probability in percent for create-cancel mode (0..100)")
	fs.StringVar(&cfg.adminID, "admin-id", "loadtest-admin", "admin identity used to seed the product")
	fs.StringVar(&cfg.customerTag, "customer-tag", "load", "customer id prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	if cfg.baseURL == "" {
		return cfg, errors.New("url is required")
	}
	if cfg.total <= 0 {
		return cfg, errors.New("total must be > 0")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.quantity <= 0 {
		return cfg, errors.New("quantity must be > 0")
	}
	if cfg.initialStock < 0 {
		return cfg, errors.New("stock must be >= 0")
	}
	if cfg.price < 0 {
		return cfg, errors.New("price must be >= 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if cfg.cancelRate < 0 || cfg.cancelRate > 100 {
		return cfg, errors.New("cancel-rate must be between 0 and 100")
	}
	if strings.TrimSpace(cfg.adminID) == "" {
		return cfg, errors.New("admin-id is required")
	}
	if strings.TrimSpace(cfg.customerTag) == "" {
		return cfg, errors.New("customer-tag is required")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCreate:
		return modeCreate, nil
	case modeCreateCancel:
		return modeCreateCancel, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	cli := newClient(cfg.baseURL, cfg.timeout, cfg.concurrency)
	result, err := runLoad(context.Background(), cli, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 || !result.Stock.Consistent {
		os.Exit(1)
	}
}

// runLoad создаёт товар, параллельно отправляет заказы и сверяет остаток.
func runLoad(ctx context.Context, cli *client, cfg config) (report, error) {
	productID, err := cli.seedProduct(ctx, cfg)
	if err != nil {
		return report{}, fmt.Errorf("seed product: %w", err)
	}

	startedAt := time.Now()
	runID := uuid.NewString()[:8]
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				runScenario(ctx, cli, cfg, productID, id, runID, col)
			}
		}()
	}

	dispatchJobs(jobs, cfg.total)
	wg.Wait()

	duration := time.Since(startedAt)
	result := col.buildReport(startedAt, duration)

	final, err := cli.fetchStock(ctx, productID)
	if err != nil {
		return result, fmt.Errorf("fetch final stock: %w", err)
	}
	result.Stock = settleStock(result.Stock, productID, cfg, result.SuccessScenarios, final)
	return result, nil
}

// settleStock проверяет final == initial − (created − cancelled) × quantity.
func settleStock(stock stockReport, productID string, cfg config, created int64, final int) stockReport {
	stock.ProductID = productID
	stock.Initial = cfg.initialStock
	stock.Quantity = cfg.quantity
	stock.Created = created
	stock.Final = final
	stock.Expected = cfg.initialStock - int(created-stock.Cancelled)*cfg.quantity
	stock.Consistent = stock.Final == stock.Expected && stock.Final >= 0
	return stock
}

func dispatchJobs(jobs chan<- int, total int) {
	defer close(jobs)
	for i := 0; i < total; i++ {
		jobs <- i
	}
}

func runScenario(ctx context.Context, cli *client, cfg config, productID string, index int, runID string, col *collector) {
	scenarioStart := time.Now()
	result := outcomeOK
	defer func() {
		col.recordScenario(time.Since(scenarioStart), result)
	}()

	userID := fmt.Sprintf("%s-%s-%d", cfg.customerTag, runID, index)
	key := fmt.Sprintf("lt-create-%s-%d", runID, index)

	start := time.Now()
	orderID, resp, err := cli.createOrder(ctx, productID, cfg.quantity, userID, key)
	switch {
	case err != nil:
		col.record("CreateOrder", time.Since(start), "transport_error", false)
		result = outcomeFailed
		return
	case resp.status == http.StatusCreated:
		col.record("CreateOrder", time.Since(start), strconv.Itoa(resp.status), true)
	case resp.code == codeStockInsufficient:
		// Отказ по остатку при конкуренции — ожидаемый исход, не ошибка.
		col.record("CreateOrder", time.Since(start), resp.code, true)
		result = outcomeRejected
		return
	default:
		col.record("CreateOrder", time.Since(start), responseCode(resp), false)
		result = outcomeFailed
		return
	}

	if cfg.mode != modeCreateCancel || !shouldCancelScenario(index, cfg.cancelRate) {
		return
	}

	start = time.Now()
	resp, err = cli.cancelOrder(ctx, orderID, userID)
	if err != nil {
		col.record("CancelOrder", time.Since(start), "transport_error", false)
		result = outcomeFailed
		return
	}
	ok := resp.status == http.StatusOK
	col.record("CancelOrder", time.Since(start), responseCode(resp), ok)
	if !ok {
		result = outcomeFailed
		return
	}
	col.markCancelled()
}

func responseCode(resp apiResponse) string {
	if resp.code != "" {
		return resp.code
	}
	return strconv.Itoa(resp.status)
}

func shouldCancelScenario(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}

type apiResponse struct {
	status  int
	code    string
	message string
	data    json.RawMessage
}

type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string, timeout time.Duration, maxConns int) *client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = maxConns
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout, Transport: transport},
	}
}

func (c *client) do(ctx context.Context, method, path string, body any, headers map[string]string) (apiResponse, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return apiResponse{}, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apiResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apiResponse{}, err
	}
	defer resp.Body.Close()

	var env struct {
		Data  json.RawMessage `json:"data"`
		Error string          `json:"error"`
		Code  string          `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return apiResponse{status: resp.StatusCode}, fmt.Errorf("decode response %s %s: %w", method, path, err)
	}
	return apiResponse{status: resp.StatusCode, code: env.Code, message: env.Error, data: env.Data}, nil
}

func (c *client) seedProduct(ctx context.Context, cfg config) (string, error) {
	suffix := uuid.NewString()[:8]
	body := map[string]any{
		"name":          "Carga " + suffix,
		"sku":           "LOAD-" + strings.ToUpper(suffix),
		"price":         cfg.price,
		"stockQuantity": cfg.initialStock,
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/products", body, map[string]string{
		headerUserID:   cfg.adminID,
		headerUserRole: "admin",
	})
	if err != nil {
		return "", err
	}
	if resp.status != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %d: %s", resp.status, resp.message)
	}

	var product struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp.data, &product); err != nil {
		return "", err
	}
	if product.ID == "" {
		return "", errors.New("create product returned empty id")
	}
	return product.ID, nil
}

func (c *client) createOrder(ctx context.Context, productID string, quantity int, userID, key string) (string, apiResponse, error) {
	body := map[string]any{
		"orderItems": []map[string]any{{"product": productID, "quantity": quantity}},
		"fulfillment": map[string]any{
			"method":         "pickup",
			"pickupLocation": map[string]string{"name": "Bodega central", "address": "Ruta 5 km 20"},
		},
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/orders", body, map[string]string{
		headerUserID:         userID,
		headerUserRole:       "client",
		headerIdempotencyKey: key,
	})
	if err != nil || resp.status != http.StatusCreated {
		return "", resp, err
	}

	var order struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp.data, &order); err != nil {
		return "", resp, err
	}
	return order.ID, resp, nil
}

func (c *client) cancelOrder(ctx context.Context, orderID, userID string) (apiResponse, error) {
	return c.do(ctx, http.MethodPut, "/api/orders/"+orderID+"/cancel", map[string]string{"reason": "load-cancel"}, map[string]string{
		headerUserID:   userID,
		headerUserRole: "client",
	})
}

func (c *client) fetchStock(ctx context.Context, productID string) (int, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/products/"+productID, nil, nil)
	if err != nil {
		return 0, err
	}
	if resp.status != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d: %s", resp.status, resp.message)
	}
	var product struct {
		StockQuantity int `json:"stockQuantity"`
	}
	if err := json.Unmarshal(resp.data, &product); err != nil {
		return 0, err
	}
	return product.StockQuantity, nil
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(out io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(out, "Load test summary")
	_, _ = fmt.Fprintf(out, "mode=%s total=%d created=%d rejected=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		result.TotalScenarios,
		result.SuccessScenarios,
		result.RejectedScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	_, _ = fmt.Fprintf(out, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(out, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)
	_, _ = fmt.Fprintf(out, "stock: product=%s initial=%d quantity=%d cancelled=%d final=%d expected=%d consistent=%t\n",
		result.Stock.ProductID,
		result.Stock.Initial,
		result.Stock.Quantity,
		result.Stock.Cancelled,
		result.Stock.Final,
		result.Stock.Expected,
		result.Stock.Consistent,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == "scenario" {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(out,
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
