package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aeolun/fraudengine/pkg/client"
	"github.com/aeolun/fraudengine/pkg/protocol"
)

// Locations the terminals report; the last two are on the default risky list
var locations = []string{
	"TEST MERCHANT STELLENBOSCH ZA",
	"CORNER CAFE CAPE TOWN ZA",
	"FUEL STOP PAARL ZA",
	"BOOKSHOP JOHANNESBURG ZA",
	"UNKNOWN",
	"RISKY-COUNTRY",
}

// getCPULoad returns the 1-minute load average
func getCPULoad() float64 {
	// Read /proc/loadavg on Linux
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}

	// Format: "0.52 0.58 0.59 1/285 12345"
	var load1, load5, load15 float64
	fmt.Sscanf(string(data), "%f %f %f", &load1, &load5, &load15)
	return load1
}

// randomPAN returns a 16-digit card number from a small pool so that the
// velocity rule sees repeat cards
func randomPAN(pool int) string {
	return fmt.Sprintf("528497%010d", rand.Intn(pool))
}

// Stats tracks performance metrics
type Stats struct {
	approved          atomic.Int64
	declined          atomic.Int64
	failed            atomic.Int64
	totalResponseTime atomic.Int64 // in microseconds
	connectionErrors  atomic.Int64
	successfulClients atomic.Int64 // terminals that connected and started running

	// Detailed failure tracking
	sendFailures   atomic.Int64
	timeouts       atomic.Int64
	disconnections atomic.Int64
	echoFailures   atomic.Int64
}

func (s *Stats) recordDecision(responseCode string, responseTimeUs int64) {
	if responseCode == protocol.ResponseApproved {
		s.approved.Add(1)
	} else {
		s.declined.Add(1)
	}
	s.totalResponseTime.Add(responseTimeUs)
}

func (s *Stats) recordSendFailure() {
	s.failed.Add(1)
	s.sendFailures.Add(1)
}

func (s *Stats) recordTimeout() {
	s.failed.Add(1)
	s.timeouts.Add(1)
}

func (s *Stats) recordDisconnection() {
	s.failed.Add(1)
	s.disconnections.Add(1)
}

func (s *Stats) recordConnectionError() {
	s.connectionErrors.Add(1)
}

func (s *Stats) snapshot() (answered, declined, failed, connErrors int64, avgResponseUs float64) {
	answered = s.approved.Load() + s.declined.Load()
	declined = s.declined.Load()
	failed = s.failed.Load()
	connErrors = s.connectionErrors.Load()

	if answered > 0 {
		avgResponseUs = float64(s.totalResponseTime.Load()) / float64(answered)
	}
	return
}

// Terminal is a simulated POS terminal holding one connection
type Terminal struct {
	id      int
	conn    *client.Connection
	stats   *Stats
	stans   client.STANCounter
	auth    client.Authorization
	panPool int
	highPct float64
}

func NewTerminal(id int, serverAddr string, stats *Stats, panPool int, highPct float64) *Terminal {
	auth := client.DefaultAuthorization()
	auth.TerminalID = fmt.Sprintf("LT%06d", id%1000000)

	return &Terminal{
		id:      id,
		conn:    client.NewConnection(serverAddr, nil),
		stats:   stats,
		auth:    auth,
		panPool: panPool,
		highPct: highPct,
	}
}

// Connect dials the engine and checks it answers an echo test
func (t *Terminal) Connect() error {
	if err := t.conn.Connect(); err != nil {
		return fmt.Errorf("conn.Connect: %w", err)
	}

	resp, err := t.conn.Exchange(client.EchoRequest(t.stans.Next(), time.Now()), 5*time.Second)
	if err != nil {
		t.stats.echoFailures.Add(1)
		return fmt.Errorf("echo: %w", err)
	}
	if rc := resp.Value(protocol.FieldResponseCode); rc != protocol.ResponseApproved {
		t.stats.echoFailures.Add(1)
		return fmt.Errorf("echo answered with %q", rc)
	}
	return nil
}

// Authorize sends one randomized purchase and waits for the decision
func (t *Terminal) Authorize() error {
	auth := t.auth
	auth.PAN = randomPAN(t.panPool)
	auth.Location = locations[rand.Intn(len(locations))]
	if rand.Float64() < t.highPct {
		auth.AmountMinor = 100000 + rand.Int63n(900000)
	} else {
		auth.AmountMinor = 100 + rand.Int63n(50000)
	}
	req := auth.Message(t.stans.Next(), time.Now())

	start := time.Now()
	if err := t.conn.Send(req); err != nil {
		// Check if it's a connection error (broken pipe, connection reset, etc)
		if strings.Contains(err.Error(), "broken pipe") ||
			strings.Contains(err.Error(), "connection reset") {
			t.stats.recordDisconnection()
		} else {
			t.stats.recordSendFailure()
		}
		return err
	}

	resp, err := t.conn.Receive(10 * time.Second)
	if err != nil {
		if errors.Is(err, protocol.ErrEndOfStream) {
			t.stats.recordDisconnection()
		} else {
			t.stats.recordTimeout()
		}
		return fmt.Errorf("receive decision: %w", err)
	}

	t.stats.recordDecision(resp.Value(protocol.FieldResponseCode), time.Since(start).Microseconds())
	debugLogger.Printf("[Terminal %d] stan=%s amount=%d rc=%s de44=%s", t.id,
		req.Value(protocol.FieldSTAN), auth.AmountMinor, resp.Value(protocol.FieldResponseCode), resp.Value(protocol.FieldAdditionalResponse))
	return nil
}

func (t *Terminal) Run(stop <-chan struct{}, duration, minDelay, maxDelay time.Duration) {
	defer t.conn.Close()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Terminal %d] PANIC: %v", t.id, r)
		}
	}()

	endTime := time.Now().Add(duration)
	for time.Now().Before(endTime) {
		if err := t.Authorize(); err != nil {
			debugLogger.Printf("[Terminal %d] %v", t.id, err)
			// The engine closes the connection on errors; reconnect once
			t.conn.Close()
			t.conn = client.NewConnection(t.conn.Addr(), nil)
			if err := t.Connect(); err != nil {
				t.stats.recordConnectionError()
				return
			}
		}

		// Random delay between transactions
		delay := minDelay
		if maxDelay > minDelay {
			delay += time.Duration(rand.Int63n(int64(maxDelay - minDelay)))
		}
		select {
		case <-stop:
			return
		case <-time.After(delay):
		}
	}
}

var debugLogger *log.Logger

func initLogging() error {
	// Create loadtest.log file (truncate on each run to avoid confusion)
	logFile, err := os.OpenFile("loadtest.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return fmt.Errorf("failed to create loadtest.log: %w", err)
	}

	// Create loadtest_debug.log file for per-transaction logs
	debugLogFile, err := os.OpenFile("loadtest_debug.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return fmt.Errorf("failed to create loadtest_debug.log: %w", err)
	}

	// Configure standard log to write to both stdout and file
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	log.SetFlags(log.LstdFlags)

	// Configure debug logger to write only to debug file
	debugLogger = log.New(debugLogFile, "", log.LstdFlags|log.Lmicroseconds)

	return nil
}

func main() {
	// Command-line flags
	serverAddr := flag.String("server", "localhost:8037", "Engine address (host:port)")
	numClients := flag.Int("clients", 10, "Number of concurrent terminals")
	duration := flag.Duration("duration", 1*time.Minute, "Test duration")
	minDelay := flag.Duration("min-delay", 100*time.Millisecond, "Minimum delay between transactions")
	maxDelay := flag.Duration("max-delay", 1*time.Second, "Maximum delay between transactions")
	panPool := flag.Int("cards", 1000, "Number of distinct card numbers")
	highPct := flag.Float64("high-amount", 0.05, "Fraction of transactions above the default high-amount threshold")
	flag.Parse()

	// Initialize logging to both stdout and file
	if err := initLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	log.Printf("Load test logs will be written to loadtest.log")
	log.Printf("Per-transaction logs in loadtest_debug.log")

	// Ramp up over 25% of test duration
	rampUpDuration := *duration / 4
	staggerDelay := rampUpDuration / time.Duration(*numClients)
	if staggerDelay < 1*time.Millisecond {
		staggerDelay = 1 * time.Millisecond
	}

	log.Printf("Starting load test:")
	log.Printf("  Server: %s", *serverAddr)
	log.Printf("  Terminals: %d", *numClients)
	log.Printf("  Duration: %v", *duration)
	log.Printf("  Ramp-up: %v (%v per terminal)", rampUpDuration, staggerDelay)
	log.Printf("  Delay: %v - %v", *minDelay, *maxDelay)
	log.Printf("  Cards: %d, high amounts: %.0f%%", *panPool, *highPct*100)
	log.Printf("")

	stats := &Stats{}
	stop := make(chan struct{})
	var stopOnce sync.Once
	var wg sync.WaitGroup

	// Stats reporter
	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		startTime := time.Now()
		for {
			select {
			case <-ticker.C:
				answered, declined, failed, connErrors, avgUs := stats.snapshot()
				elapsed := time.Since(startTime).Seconds()
				log.Printf("Stats: %d answered (%.1f/s), %d declined, %d failed, %d conn errors, avg %.2fms, load %.2f, goroutines %d",
					answered, float64(answered)/elapsed, declined, failed, connErrors, avgUs/1000.0, getCPULoad(), runtime.NumGoroutine())
			case <-stop:
				return
			}
		}
	}()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Printf("Shutdown signal received, stopping test...")
		stopOnce.Do(func() { close(stop) })
	}()

	start := time.Now()
spawn:
	for i := 0; i < *numClients; i++ {
		terminal := NewTerminal(i, *serverAddr, stats, *panPool, *highPct)
		if err := terminal.Connect(); err != nil {
			stats.recordConnectionError()
			terminal.conn.Close()
			debugLogger.Printf("[Terminal %d] connect: %v", i, err)
		} else {
			stats.successfulClients.Add(1)
			if i%100 == 0 {
				log.Printf("[Terminal %d] Connected", i)
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				terminal.Run(stop, *duration, *minDelay, *maxDelay)
			}()
		}

		// Stagger terminal connections
		select {
		case <-stop:
			break spawn
		case <-time.After(staggerDelay):
		}
	}

	wg.Wait()
	stopOnce.Do(func() { close(stop) })
	<-reporterDone

	// Final stats
	answered, declined, failed, connErrors, avgUs := stats.snapshot()
	elapsed := time.Since(start)
	successfulClients := stats.successfulClients.Load()

	log.Printf("")
	log.Printf("=== Final Results ===")
	log.Printf("Terminals: %d attempted, %d successful (%.1f%%)", *numClients, successfulClients, float64(successfulClients)/float64(*numClients)*100)
	log.Printf("Duration: %v", elapsed.Round(time.Second))
	log.Printf("Transactions answered: %d (%.1f/s)", answered, float64(answered)/elapsed.Seconds())
	if answered > 0 {
		log.Printf("  - Approved: %d", stats.approved.Load())
		log.Printf("  - Declined: %d (%.1f%%)", declined, float64(declined)/float64(answered)*100)
	}
	log.Printf("Transactions failed: %d", failed)
	log.Printf("  - Send failures: %d", stats.sendFailures.Load())
	log.Printf("  - Timeouts: %d", stats.timeouts.Load())
	log.Printf("  - Disconnections: %d", stats.disconnections.Load())
	log.Printf("Connection errors: %d (echo failures: %d)", connErrors, stats.echoFailures.Load())
	log.Printf("Average response time: %.2fms", avgUs/1000.0)

	if answered > 0 {
		log.Printf("Success rate: %.1f%%", float64(answered)/float64(answered+failed)*100)
	}
}
