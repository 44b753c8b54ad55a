package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/nightslayer18/skeenode-contracts/internal/auth"
	"github.com/nightslayer18/skeenode-contracts/internal/core/facade"
	"github.com/nightslayer18/skeenode-contracts/internal/storage/memstore"
	"github.com/nightslayer18/skeenode-contracts/internal/transport/httpapi"
	"github.com/nightslayer18/skeenode-contracts/internal/transport/middleware"
)

// fakeAPIKeyStore is an in-memory auth.APIKeyStore, standing in for
// RedisAPIKeyStore the way memstore stands in for the Postgres store:
// same interface, no live Redis required to drive the HTTP surface.
type fakeAPIKeyStore struct {
	keys map[string]auth.APIKeyInfo
}

func newFakeAPIKeyStore() *fakeAPIKeyStore {
	return &fakeAPIKeyStore{keys: make(map[string]auth.APIKeyInfo)}
}

func (s *fakeAPIKeyStore) issue(agentName string) string {
	key := "sk_test_" + uuid.NewString()
	s.keys[key] = auth.APIKeyInfo{ID: key, AgentName: agentName}
	return key
}

func (s *fakeAPIKeyStore) ValidateKey(ctx context.Context, key string) (*auth.APIKeyInfo, error) {
	info, ok := s.keys[key]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return &info, nil
}

func (s *fakeAPIKeyStore) CreateKey(ctx context.Context, info auth.APIKeyInfo) (string, error) {
	key := s.issue(info.AgentName)
	return key, nil
}

func (s *fakeAPIKeyStore) RevokeKey(ctx context.Context, keyID string) error {
	delete(s.keys, keyID)
	return nil
}

func (s *fakeAPIKeyStore) ListKeys(ctx context.Context, ownerID string) ([]auth.APIKeyInfo, error) {
	var out []auth.APIKeyInfo
	for _, info := range s.keys {
		if info.AgentName == ownerID {
			out = append(out, info)
		}
	}
	return out, nil
}

// ServerSuite drives the wire protocol (§6) end to end against an
// in-process store, the way the teacher's integration suite drove its API
// against a live Postgres/Redis pair, swapped for the in-memory fakes this
// module's core is built to make that unnecessary.
type ServerSuite struct {
	suite.Suite
	srv       *httptest.Server
	apiKeys   *fakeAPIKeyStore
	jwt       *auth.JWTService
	agentKey  string
	operToken string
}

func (s *ServerSuite) SetupTest() {
	store := memstore.New()
	f := facade.New(store, time.Now)

	s.apiKeys = newFakeAPIKeyStore()
	s.agentKey = s.apiKeys.issue("worker-1")

	jwtCfg := auth.DefaultJWTConfig()
	jwtCfg.SecretKey = "test-secret"
	var err error
	s.jwt, err = auth.NewJWTService(jwtCfg)
	s.Require().NoError(err)
	s.operToken, err = s.jwt.GenerateToken("u1", "operator-1", auth.RoleOperator)
	s.Require().NoError(err)

	validator := middleware.NewValidator(middleware.DefaultValidatorConfig())

	server := httpapi.New(httpapi.Config{
		Port:        "0",
		Facade:      f,
		JWTService:  s.jwt,
		APIKeyStore: s.apiKeys,
		Validator:   validator,
	})

	s.srv = httptest.NewServer(server.Handler())
}

func (s *ServerSuite) TearDownTest() {
	s.srv.Close()
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}

func (s *ServerSuite) doJSON(method, path, bearer, apiKey string, body any) *http.Response {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, reader)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	return resp
}

func decode[T any](s *ServerSuite, resp *http.Response) T {
	defer resp.Body.Close()
	var out T
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (s *ServerSuite) TestPutJobRequiresAuth() {
	jobID := uuid.New()
	resp := s.doJSON(http.MethodPut, "/api/jobs/"+jobID.String(), "", "", map[string]any{
		"job_type":     "report",
		"request_body": map[string]any{"v": 1},
	})
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func (s *ServerSuite) TestPutJobAndGetJobRoundTrip() {
	jobID := uuid.New()
	resp := s.doJSON(http.MethodPut, "/api/jobs/"+jobID.String(), s.operToken, "", map[string]any{
		"job_type":     "report",
		"request_body": map[string]any{"v": 1},
		"job_name":     "nightly-report",
	})
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	getResp := s.doJSON(http.MethodGet, "/api/jobs/"+jobID.String(), s.operToken, "", nil)
	s.Require().Equal(http.StatusOK, getResp.StatusCode)
	out := decode[map[string]any](s, getResp)
	s.Equal(jobID.String(), out["job_id"])
	s.Equal("waiting", out["outcome"])
}

func (s *ServerSuite) TestPutJobConflictOnDivergentBody() {
	jobID := uuid.New()
	first := s.doJSON(http.MethodPut, "/api/jobs/"+jobID.String(), s.operToken, "", map[string]any{
		"job_type":     "report",
		"request_body": map[string]any{"v": 1},
	})
	s.Require().Equal(http.StatusOK, first.StatusCode)

	second := s.doJSON(http.MethodPut, "/api/jobs/"+jobID.String(), s.operToken, "", map[string]any{
		"job_type":     "report",
		"request_body": map[string]any{"v": 2},
	})
	s.Equal(http.StatusConflict, second.StatusCode)
}

func (s *ServerSuite) TestRequestWorkRequiresAgentKeyNotOperatorToken() {
	resp := s.doJSON(http.MethodPut, "/api/commitments", s.operToken, "", map[string]any{
		"commitment_id": uuid.New().String(),
		"job_type":      "report",
	})
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func (s *ServerSuite) TestFullContractLifecycle() {
	jobID := uuid.New()
	put := s.doJSON(http.MethodPut, "/api/jobs/"+jobID.String(), s.operToken, "", map[string]any{
		"job_type":     "report",
		"request_body": map[string]any{"v": 1},
	})
	s.Require().Equal(http.StatusOK, put.StatusCode)

	claim := s.doJSON(http.MethodPut, "/api/commitments", "", s.agentKey, map[string]any{
		"commitment_id": uuid.New().String(),
		"job_type":      "report",
	})
	s.Require().Equal(http.StatusOK, claim.StatusCode)
	claimed := decode[map[string]any](s, claim)
	commitmentID := claimed["commitment_id"].(string)
	s.Require().NotEmpty(commitmentID)

	hb := s.doJSON(http.MethodPost, "/api/commitments/"+commitmentID+"/heartbeat", "", s.agentKey, nil)
	s.Require().Equal(http.StatusOK, hb.StatusCode)
	hbOut := decode[map[string]any](s, hb)
	s.Equal("continue", hbOut["instruction"])

	complete := s.doJSON(http.MethodPut, "/api/commitments/"+commitmentID, "", s.agentKey, map[string]any{
		"kind":        "success",
		"result_body": map[string]any{"ok": true},
	})
	s.Require().Equal(http.StatusOK, complete.StatusCode)

	getResp := s.doJSON(http.MethodGet, "/api/jobs/"+jobID.String(), s.operToken, "", nil)
	out := decode[map[string]any](s, getResp)
	s.Equal("success", out["outcome"])
}

func (s *ServerSuite) TestPauseJobRequiresOperatorRole() {
	jobID := uuid.New()
	put := s.doJSON(http.MethodPut, "/api/jobs/"+jobID.String(), s.operToken, "", map[string]any{
		"job_type":     "report",
		"request_body": map[string]any{"v": 1},
	})
	s.Require().Equal(http.StatusOK, put.StatusCode)

	// An agent key is a valid caller identity, but never an operator.
	resp := s.doJSON(http.MethodPost, "/api/jobs/"+jobID.String()+"/pause", "", s.agentKey, nil)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	ok := s.doJSON(http.MethodPost, "/api/jobs/"+jobID.String()+"/pause", s.operToken, "", nil)
	s.Equal(http.StatusOK, ok.StatusCode)

	getResp := s.doJSON(http.MethodGet, "/api/jobs/"+jobID.String(), s.operToken, "", nil)
	out := decode[map[string]any](s, getResp)
	s.Equal("cancelled", out["outcome"])
}

func (s *ServerSuite) TestPutJobInvalidPayloadRejected() {
	jobID := uuid.New()
	resp := s.doJSON(http.MethodPut, "/api/jobs/"+jobID.String(), s.operToken, "", map[string]any{
		"request_body": map[string]any{"v": 1},
	})
	require.Equal(s.T(), http.StatusBadRequest, resp.StatusCode)
}

func (s *ServerSuite) TestHealthzIsUnauthenticated() {
	resp := s.doJSON(http.MethodGet, "/healthz", "", "", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
}
