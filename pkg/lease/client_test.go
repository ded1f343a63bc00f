package lease

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// leaseServer is an in-process lease service built on the same router
// stack a real deployment would use.
type leaseServer struct {
	*httptest.Server

	mu           sync.Mutex
	subRequests  []subscriptionRequest
	flRequests   []floatingRequest
	subResponse  string
	flResponse   string
	failWith     int
	garbageReply bool
}

func newLeaseServer(t *testing.T) *leaseServer {
	t.Helper()
	s := &leaseServer{}

	r := chi.NewRouter()
	r.Post("/lease/subscription", func(w http.ResponseWriter, req *http.Request) {
		var in subscriptionRequest
		if err := render.DecodeJSON(req.Body, &in); err != nil {
			render.Status(req, http.StatusBadRequest)
			render.JSON(w, req, map[string]string{"error": err.Error()})
			return
		}
		s.mu.Lock()
		s.subRequests = append(s.subRequests, in)
		response, status, garbage := s.subResponse, s.failWith, s.garbageReply
		s.mu.Unlock()

		if status != 0 {
			render.Status(req, status)
			render.JSON(w, req, map[string]string{"error": "lease denied"})
			return
		}
		if garbage {
			w.Write([]byte("this is not json"))
			return
		}
		render.JSON(w, req, subscriptionResponse{License: response})
	})
	r.Post("/lease/floating", func(w http.ResponseWriter, req *http.Request) {
		var in floatingRequest
		if err := render.DecodeJSON(req.Body, &in); err != nil {
			render.Status(req, http.StatusBadRequest)
			render.JSON(w, req, map[string]string{"error": err.Error()})
			return
		}
		s.mu.Lock()
		s.flRequests = append(s.flRequests, in)
		response, status := s.flResponse, s.failWith
		s.mu.Unlock()

		if status != 0 {
			render.Status(req, status)
			render.JSON(w, req, map[string]string{"error": "no seats available"})
			return
		}
		render.JSON(w, req, floatingResponse{License: response})
	})

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

func (s *leaseServer) lastSubscriptionRequest(t *testing.T) subscriptionRequest {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.subRequests)
	return s.subRequests[len(s.subRequests)-1]
}

func (s *leaseServer) lastFloatingRequest(t *testing.T) floatingRequest {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.flRequests)
	return s.flRequests[len(s.flRequests)-1]
}

func TestSubscriptionClientLeasesUpdatedLicense(t *testing.T) {
	srv := newLeaseServer(t)
	srv.subResponse = "<license id=\"user-1\"/>"

	c := NewSubscriptionClient(srv.URL + "/lease/subscription")
	got, err := c.LeaseLicense(context.Background(), "<license-current/>", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "<license id=\"user-1\"/>", got)

	sent := srv.lastSubscriptionRequest(t)
	assert.Equal(t, "<license-current/>", sent.License)
	assert.Equal(t, "hunter2", sent.Passcode)
}

func TestSubscriptionClientPassesThroughSentinel(t *testing.T) {
	srv := newLeaseServer(t)
	srv.subResponse = NoUpdate

	c := NewSubscriptionClient(srv.URL + "/lease/subscription")
	got, err := c.LeaseLicense(context.Background(), "<license-current/>", "")
	require.NoError(t, err)
	assert.Equal(t, NoUpdate, got)
}

func TestSubscriptionClientOmitsEmptyPasscode(t *testing.T) {
	srv := newLeaseServer(t)
	srv.subResponse = NoUpdate

	c := NewSubscriptionClient(srv.URL + "/lease/subscription")
	_, err := c.LeaseLicense(context.Background(), "<license-current/>", "")
	require.NoError(t, err)

	sent := srv.lastSubscriptionRequest(t)
	assert.Empty(t, sent.Passcode)
}

func TestSubscriptionClientReportsServerError(t *testing.T) {
	srv := newLeaseServer(t)
	srv.failWith = http.StatusInternalServerError

	c := NewSubscriptionClient(srv.URL + "/lease/subscription")
	got, err := c.LeaseLicense(context.Background(), "<license-current/>", "")
	assert.Error(t, err)
	assert.Empty(t, got)
	assert.Contains(t, err.Error(), "unexpected status 500")
}

func TestSubscriptionClientReportsMalformedReply(t *testing.T) {
	srv := newLeaseServer(t)
	srv.garbageReply = true

	c := NewSubscriptionClient(srv.URL + "/lease/subscription")
	_, err := c.LeaseLicense(context.Background(), "<license-current/>", "")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "malformed response")
}

func TestSubscriptionClientReportsUnreachableEndpoint(t *testing.T) {
	c := NewSubscriptionClient("http://127.0.0.1:1/lease/subscription")
	c.Timeout = time.Second

	_, err := c.LeaseLicense(context.Background(), "<license-current/>", "")
	assert.Error(t, err)
}

func TestSubscriptionClientHonorsContextCancellation(t *testing.T) {
	srv := newLeaseServer(t)
	c := NewSubscriptionClient(srv.URL + "/lease/subscription")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.LeaseLicense(ctx, "<license-current/>", "")
	assert.Error(t, err)
}

func TestSubscriptionClientAbortsStalledResponseBody(t *testing.T) {
	aborted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"license":"no-update"}`))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		// Keep the body open; the client's grace period must cut the
		// exchange short rather than wait this out.
		select {
		case <-req.Context().Done():
			close(aborted)
		case <-time.After(10 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	c := NewSubscriptionClient(srv.URL)
	c.CloseGrace = 100 * time.Millisecond

	got, err := c.LeaseLicense(context.Background(), "<license-current/>", "")
	require.NoError(t, err)
	assert.Equal(t, NoUpdate, got)

	select {
	case <-aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("stalled response body was not aborted")
	}
}

func TestFloatingClientLeasesGrant(t *testing.T) {
	srv := newLeaseServer(t)
	srv.flResponse = "<license id=\"grant-1\"/>"

	clientID := uuid.New()
	c := NewFloatingClient(srv.URL + "/lease/floating")
	got, err := c.LeaseLicense(context.Background(), "build-07", "jane", clientID)
	require.NoError(t, err)
	assert.Equal(t, "<license id=\"grant-1\"/>", got)

	sent := srv.lastFloatingRequest(t)
	assert.Equal(t, "build-07", sent.MachineName)
	assert.Equal(t, "jane", sent.UserName)
	assert.Equal(t, clientID, sent.ClientID)
}

func TestFloatingClientEmptyLeaseMeansDeclined(t *testing.T) {
	srv := newLeaseServer(t)
	srv.flResponse = ""

	c := NewFloatingClient(srv.URL + "/lease/floating")
	got, err := c.LeaseLicense(context.Background(), "build-07", "jane", uuid.New())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFloatingClientReportsServerError(t *testing.T) {
	srv := newLeaseServer(t)
	srv.failWith = http.StatusServiceUnavailable

	c := NewFloatingClient(srv.URL + "/lease/floating")
	_, err := c.LeaseLicense(context.Background(), "build-07", "jane", uuid.New())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 503")
}
