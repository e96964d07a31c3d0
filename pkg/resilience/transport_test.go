package resilience

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"escola-client/pkg/cache"
	"escola-client/pkg/metrics"
	metricsmem "escola-client/pkg/metrics/memory"
)

func newServer(t *testing.T, status *int32, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		w.WriteHeader(int(atomic.LoadInt32(status)))
		io.WriteString(w, `{"success":true}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, client *http.Client, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	resp, err := client.Do(req)
	if err == nil {
		io.ReadAll(resp.Body)
		resp.Body.Close()
	}
	return resp, err
}

func TestTransport_PassesResponses(t *testing.T) {
	status := int32(http.StatusOK)
	srv := newServer(t, &status, 0)

	client := &http.Client{Transport: NewTransport(nil, DefaultConfig())}
	resp, err := get(t, client, srv.URL)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}

func TestTransport_ClientErrorsDoNotTripCircuit(t *testing.T) {
	status := int32(http.StatusUnprocessableEntity)
	srv := newServer(t, &status, 0)

	config := DefaultConfig().WithReadyToTrip(ConsecutiveFailures(3))
	transport := NewTransport(nil, config)
	client := &http.Client{Transport: transport}

	for i := 0; i < 10; i++ {
		resp, err := get(t, client, srv.URL)
		if err != nil {
			t.Fatalf("Request %d failed: %v", i, err)
		}
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Errorf("Expected 422 to be passed through, got %d", resp.StatusCode)
		}
	}

	if transport.State() != metrics.CircuitClosed {
		t.Errorf("Expected circuit to stay closed on 4xx, got %s", transport.State())
	}
}

func TestTransport_ServerErrorsTripCircuit(t *testing.T) {
	status := int32(http.StatusInternalServerError)
	srv := newServer(t, &status, 0)

	collector := metricsmem.NewMemoryCollector()
	config := DefaultConfig().WithReadyToTrip(ConsecutiveFailures(3))
	transport := NewTransportWithMetrics(nil, config, collector)
	client := &http.Client{Transport: transport}

	for i := 0; i < 3; i++ {
		resp, err := get(t, client, srv.URL)
		if err != nil {
			t.Fatalf("Request %d failed: %v", i, err)
		}
		if resp.StatusCode != http.StatusInternalServerError {
			t.Errorf("Expected 500 to be passed through, got %d", resp.StatusCode)
		}
	}

	if transport.State() != metrics.CircuitOpen {
		t.Fatalf("Expected circuit to be open, got %s", transport.State())
	}

	_, err := get(t, client, srv.URL)
	if !cache.IsCircuitOpen(err) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}

	snap := collector.Snapshot()
	if snap.CircuitOpens["backend"] != 1 {
		t.Errorf("Expected 1 circuit open recorded, got %d", snap.CircuitOpens["backend"])
	}
}

func TestTransport_HalfOpenRecovers(t *testing.T) {
	status := int32(http.StatusBadGateway)
	srv := newServer(t, &status, 0)

	config := DefaultConfig().
		WithReadyToTrip(ConsecutiveFailures(1)).
		WithCircuitBreakerTimeout(50 * time.Millisecond)
	transport := NewTransport(nil, config)
	client := &http.Client{Transport: transport}

	get(t, client, srv.URL)
	if transport.State() != metrics.CircuitOpen {
		t.Fatalf("Expected open circuit, got %s", transport.State())
	}

	atomic.StoreInt32(&status, http.StatusOK)
	time.Sleep(80 * time.Millisecond)

	if _, err := get(t, client, srv.URL); err != nil {
		t.Fatalf("Expected half-open probe to pass, got %v", err)
	}
	if transport.State() != metrics.CircuitClosed {
		t.Errorf("Expected circuit to close after a successful probe, got %s", transport.State())
	}
}

func TestTransport_Timeout(t *testing.T) {
	status := int32(http.StatusOK)
	srv := newServer(t, &status, 200*time.Millisecond)

	client := &http.Client{Transport: NewTransport(nil, DefaultConfig().WithTimeout(20*time.Millisecond))}

	_, err := get(t, client, srv.URL)
	if !cache.IsTimeout(err) {
		t.Errorf("Expected timeout error, got %v", err)
	}
}

func TestTransport_CallerCancellationNotCounted(t *testing.T) {
	status := int32(http.StatusOK)
	srv := newServer(t, &status, 200*time.Millisecond)

	transport := NewTransport(nil, DefaultConfig().WithReadyToTrip(ConsecutiveFailures(1)))
	client := &http.Client{Transport: transport}

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := client.Do(req)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if transport.State() != metrics.CircuitClosed {
		t.Errorf("Expected caller cancellation not to trip the circuit, got %s", transport.State())
	}
}
