package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"idcollect/internal/analysis"
	"idcollect/internal/audit"
	"idcollect/internal/bulk"
	"idcollect/internal/email"
	"idcollect/internal/entry"
	"idcollect/internal/platform/logger"
	"idcollect/internal/platform/middleware"
	"idcollect/internal/ratelimit"
	"idcollect/internal/secrets"
	"idcollect/internal/token"
	"idcollect/internal/verification"
	"idcollect/internal/verifier"
)

const testKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

type stubValidator struct{}

func (stubValidator) ValidateToken(tokenString string) (*middleware.JWTClaims, error) {
	if tokenString != "good-token" {
		return nil, fmt.Errorf("unknown token")
	}
	return &middleware.JWTClaims{ActorID: "admin-1", Email: "ops@example.com", Role: "admin"}, nil
}

type captureSender struct {
	mu   sync.Mutex
	sent []email.Message
}

func (c *captureSender) Send(ctx context.Context, msg email.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *captureSender) last() email.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[len(c.sent)-1]
}

type registryStub struct {
	mu      sync.Mutex
	records map[string]verifier.Record
}

func (r *registryStub) Name() string { return "registry-stub" }

func (r *registryStub) Lookup(ctx context.Context, number string) (verifier.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[number]
	if !ok {
		return nil, verifier.NewProviderError(verifier.ErrorNotFound, r.Name(), "no record", nil)
	}
	return rec, nil
}

type RouterSuite struct {
	suite.Suite

	server   *httptest.Server
	sender   *captureSender
	registry *registryStub
	store    *entry.MemoryStore
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.server = httptest.NewServer(s.buildRouter(100))
	s.T().Cleanup(s.server.Close)
}

// buildRouter assembles the full stack on in-memory stores.
func (s *RouterSuite) buildRouter(publicPerMinute int) http.Handler {
	log := logger.New()
	s.store = entry.NewMemoryStore()
	s.sender = &captureSender{}
	s.registry = &registryStub{records: map[string]verifier.Record{
		"12345678901": {"first_name": "Ada", "last_name": "Obi"},
	}}

	tokens, err := token.New(token.NewMemoryStore())
	s.Require().NoError(err)
	gateway, err := secrets.NewGateway(testKey, "")
	s.Require().NoError(err)
	adapter, err := verifier.New(map[verifier.IdentityType]verifier.Provider{
		verifier.TypeNIN: s.registry,
	})
	s.Require().NoError(err)

	auditor := audit.NewService(audit.NewMemoryStore())
	lists, err := entry.NewService(s.store, tokens, s.sender, auditor, gateway, "https://verify.example.com")
	s.Require().NoError(err)
	verifications, err := verification.New(s.store, tokens, gateway, adapter, auditor)
	s.Require().NoError(err)
	analyses, err := analysis.New(s.store, analysis.NewMemoryCache(), analysis.WithAuditor(auditor))
	s.Require().NoError(err)
	jobs, err := bulk.NewRunner(verifications, analyses, s.store, auditor)
	s.Require().NoError(err)

	return NewRouter(Deps{
		Logger:               log,
		Lists:                NewListsHandler(lists, log),
		Dispatch:             NewDispatchHandler(lists, analyses, verifications, log),
		Bulk:                 NewBulkHandler(analyses, jobs, log),
		Public:               NewPublicHandler(verifications, log),
		Activity:             NewActivityHandler(auditor, log),
		JWTValidator:         stubValidator{},
		PublicLimitStore:     ratelimit.NewMemoryStore(),
		PublicLimitPerMinute: publicPerMinute,
	})
}

func (s *RouterSuite) do(method, path, authToken string, body any) (*http.Response, []byte) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, s.server.URL+path, reader)
	s.Require().NoError(err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	return resp, data
}

func (s *RouterSuite) createList() string {
	resp, body := s.do(http.MethodPost, "/api/v1/lists", "good-token", map[string]any{
		"name":        "renewals",
		"columns":     []string{"First Name", "Last Name", "Email", "NIN"},
		"emailColumn": "Email",
		"type":        "individual",
		"rows": []map[string]any{
			{"First Name": "Ada", "Last Name": "Obi", "Email": "ada@example.com", "NIN": "12345678901"},
		},
	})
	s.Require().Equal(http.StatusCreated, resp.StatusCode, string(body))

	var view struct {
		ID string `json:"id"`
	}
	s.Require().NoError(json.Unmarshal(body, &view))
	return view.ID
}

func (s *RouterSuite) TestAdminRoutesRequireAuth() {
	resp, _ := s.do(http.MethodGet, "/api/v1/lists", "", nil)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.do(http.MethodGet, "/api/v1/lists", "wrong-token", nil)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func (s *RouterSuite) TestListLifecycle() {
	listID := s.createList()

	resp, body := s.do(http.MethodGet, "/api/v1/lists/"+listID, "good-token", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var view struct {
		Name  string `json:"name"`
		Stats struct {
			Total   int `json:"total"`
			Pending int `json:"pending"`
		} `json:"stats"`
	}
	s.Require().NoError(json.Unmarshal(body, &view))
	s.Equal("renewals", view.Name)
	s.Equal(1, view.Stats.Total)
	s.Equal(1, view.Stats.Pending)

	resp, body = s.do(http.MethodGet, "/api/v1/lists/"+listID+"/entries", "good-token", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var page struct {
		Entries []entryView `json:"entries"`
		Total   int         `json:"total"`
	}
	s.Require().NoError(json.Unmarshal(body, &page))
	s.Equal(1, page.Total)
	s.Equal("ada@example.com", page.Entries[0].Email)

	resp, _ = s.do(http.MethodDelete, "/api/v1/lists/"+listID, "good-token", nil)
	s.Equal(http.StatusNoContent, resp.StatusCode)

	resp, _ = s.do(http.MethodGet, "/api/v1/lists/"+listID, "good-token", nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *RouterSuite) TestSendLinksAndCustomerVerification() {
	listID := s.createList()

	resp, body := s.do(http.MethodPost, "/api/v1/lists/"+listID+"/analyze-send-links", "good-token", map[string]any{
		"verificationType": "NIN",
	})
	s.Require().Equal(http.StatusOK, resp.StatusCode, string(body))
	var a struct {
		ID        string `json:"id"`
		ToProcess int    `json:"toProcess"`
	}
	s.Require().NoError(json.Unmarshal(body, &a))
	s.Equal(1, a.ToProcess)

	resp, body = s.do(http.MethodPost, "/api/v1/lists/"+listID+"/send", "good-token", map[string]any{
		"analysisId": a.ID,
	})
	s.Require().Equal(http.StatusOK, resp.StatusCode, string(body))
	var sent struct {
		Sent int `json:"sent"`
	}
	s.Require().NoError(json.Unmarshal(body, &sent))
	s.Equal(1, sent.Sent)

	// Re-confirming the same analysis must fail: it was consumed.
	resp, _ = s.do(http.MethodPost, "/api/v1/lists/"+listID+"/send", "good-token", map[string]any{
		"analysisId": a.ID,
	})
	s.Equal(http.StatusGone, resp.StatusCode)

	link := s.sender.last().Text
	idx := strings.LastIndex(link, "/verify/")
	tokenValue := strings.Fields(link[idx+len("/verify/"):])[0]

	resp, body = s.do(http.MethodGet, "/verify/"+tokenValue, "", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var info verification.LinkInfo
	s.Require().NoError(json.Unmarshal(body, &info))
	s.Equal("Ada Obi", info.DisplayName)
	s.False(info.AlreadyVerified)

	resp, body = s.do(http.MethodPost, "/verify/"+tokenValue, "", map[string]any{
		"identityNumber": "12345678901",
	})
	s.Require().Equal(http.StatusOK, resp.StatusCode, string(body))
	var result verification.SubmissionResult
	s.Require().NoError(json.Unmarshal(body, &result))
	s.True(result.Success)
	s.True(result.Verified)
}

func (s *RouterSuite) TestBulkVerifyFlow() {
	listID := s.createList()

	resp, body := s.do(http.MethodPost, "/api/v1/lists/"+listID+"/analyze-bulk-verify", "good-token", map[string]any{})
	s.Require().Equal(http.StatusOK, resp.StatusCode, string(body))
	var a struct {
		ID        string `json:"id"`
		ToProcess int    `json:"toProcess"`
		ToSkip    int    `json:"toSkip"`
	}
	s.Require().NoError(json.Unmarshal(body, &a))
	s.Equal(1, a.ToProcess)

	resp, body = s.do(http.MethodPost, "/api/v1/lists/"+listID+"/bulk-verify", "good-token", map[string]any{
		"analysisId": a.ID,
	})
	s.Require().Equal(http.StatusAccepted, resp.StatusCode, string(body))
	var job bulk.Job
	s.Require().NoError(json.Unmarshal(body, &job))

	s.Require().Eventually(func() bool {
		resp, body = s.do(http.MethodGet, "/api/v1/jobs/"+job.ID, "good-token", nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var current bulk.Job
		if err := json.Unmarshal(body, &current); err != nil {
			return false
		}
		return current.Completed
	}, 5*time.Second, 20*time.Millisecond)

	resp, body = s.do(http.MethodGet, "/api/v1/jobs/"+job.ID+"?details=true", "good-token", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode, string(body))
	var detailed bulk.Job
	s.Require().NoError(json.Unmarshal(body, &detailed))
	s.Require().Len(detailed.Outcomes, 1)
	s.Equal(entry.StatusVerified, detailed.Outcomes[0].Status)

	resp, body = s.do(http.MethodGet, "/api/v1/lists/"+listID+"/activity", "good-token", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var activity struct {
		Events []audit.Event `json:"events"`
		Total  int           `json:"total"`
	}
	s.Require().NoError(json.Unmarshal(body, &activity))
	s.Positive(activity.Total)
}

func (s *RouterSuite) TestExportEndpoint() {
	listID := s.createList()

	req, err := http.NewRequest(http.MethodGet, s.server.URL+"/api/v1/lists/"+listID+"/export", nil)
	s.Require().NoError(err)
	req.Header.Set("Authorization", "Bearer good-token")
	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("text/csv", resp.Header.Get("Content-Type"))
	s.Contains(resp.Header.Get("Content-Disposition"), "attachment")

	data, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	s.Contains(string(data), "First Name,Last Name,Email,NIN")
}

func (s *RouterSuite) TestPublicRateLimit() {
	server := httptest.NewServer(s.buildRouter(2))
	defer server.Close()

	verifyStatus := func() int {
		req, err := http.NewRequest(http.MethodGet, server.URL+"/verify/some-token-value", nil)
		s.Require().NoError(err)
		req.Header.Set("X-Forwarded-For", "203.0.113.9")
		resp, err := server.Client().Do(req)
		s.Require().NoError(err)
		resp.Body.Close()
		return resp.StatusCode
	}

	s.Equal(http.StatusNotFound, verifyStatus())
	s.Equal(http.StatusNotFound, verifyStatus())
	s.Equal(http.StatusTooManyRequests, verifyStatus())
}

func (s *RouterSuite) TestPublicRateLimitKeysOnFirstForwardedHop() {
	server := httptest.NewServer(s.buildRouter(2))
	defer server.Close()

	verifyStatus := func(forwardedFor string) int {
		req, err := http.NewRequest(http.MethodGet, server.URL+"/verify/some-token-value", nil)
		s.Require().NoError(err)
		req.Header.Set("X-Forwarded-For", forwardedFor)
		resp, err := server.Client().Do(req)
		s.Require().NoError(err)
		resp.Body.Close()
		return resp.StatusCode
	}

	// The same client counts against one budget no matter which proxies
	// the request crossed.
	s.Equal(http.StatusNotFound, verifyStatus("203.0.113.9"))
	s.Equal(http.StatusNotFound, verifyStatus("203.0.113.9, 10.0.0.1"))
	s.Equal(http.StatusTooManyRequests, verifyStatus("203.0.113.9, 10.0.0.1, 172.16.0.3"))

	// A different client behind the same proxy chain is unaffected.
	s.Equal(http.StatusNotFound, verifyStatus("198.51.100.4, 10.0.0.1"))
}
