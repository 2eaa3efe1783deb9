package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"assetgate/internal/claims"
	"assetgate/internal/identity"
	"assetgate/internal/jobs"
	"assetgate/internal/ledger"
	"assetgate/internal/logging"
	"assetgate/internal/metrics"
	"assetgate/internal/models"
	"assetgate/internal/payment"
	"assetgate/internal/provider"
	"assetgate/internal/tokens"
)

const (
	seedHex        = "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"
	receiptSeedHex = "4ccd089b28ff96da9db6c346ec114e0f5b8a319f35aba624da8cf6ed4fb8a6fb"
	mint           = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
	recipient      = "Recipient1111111111111111111111111111111111"
	feePayer       = "Payer111111111111111111111111111111111111111"
	chainRef       = "EtWTRABZaYq6iMfeYKouRu166VU2xqa1"
)

type fakeInspector struct {
	txs map[string]*ledger.Transaction
}

func (f *fakeInspector) TransactionByID(_ context.Context, signature string) (*ledger.Transaction, error) {
	tx, ok := f.txs[signature]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return tx, nil
}

type fakeQueue struct {
	submitted map[string]map[string]any
}

func (f *fakeQueue) Submit(_ context.Context, model string, input map[string]any) (string, error) {
	if f.submitted == nil {
		f.submitted = make(map[string]map[string]any)
	}
	id := fmt.Sprintf("req-%d", len(f.submitted)+1)
	f.submitted[id] = input
	return id, nil
}

func (f *fakeQueue) Status(_ context.Context, _, _ string) (*provider.StatusInfo, error) {
	return &provider.StatusInfo{State: models.JobCompleted}, nil
}

func (f *fakeQueue) Result(_ context.Context, _, _ string) (string, error) {
	return "https://cdn.example/asset.bin", nil
}

type env struct {
	handler   *Handler
	inspector *fakeInspector
	server    *httptest.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()

	requestID, err := identity.FromHexSeed(seedHex, chainRef)
	if err != nil {
		t.Fatalf("request identity: %v", err)
	}
	receiptID, err := identity.FromHexSeed(receiptSeedHex, chainRef)
	if err != nil {
		t.Fatalf("receipt identity: %v", err)
	}

	signer := &payment.RequestSigner{
		Issuer:            requestID,
		Recipient:         recipient,
		Mint:              mint,
		Currency:          "USDC",
		ChainRef:          chainRef,
		ReceiptServiceURL: "https://gate.example/api/receipts",
		TTL:               10 * time.Minute,
		Prices: payment.PriceTable{
			Image:     10000,
			Animation: 500000,
			Music:     map[int]int64{30: 10000, 60: 20000, 120: 30000},
		},
	}

	inspector := &fakeInspector{txs: map[string]*ledger.Transaction{}}
	verifier := &payment.Verifier{
		Issuer:      requestID,
		Inspector:   inspector,
		DefaultMint: mint,
		Log:         logging.Noop{},
		Metrics:     metrics.Noop{},
	}
	codec := tokens.NewCodec("test-access-secret")
	receipts := &payment.ReceiptIssuer{
		Verifier:  verifier,
		Identity:  receiptID,
		Codec:     codec,
		Claims:    claims.NewMemoryLedger(),
		AccessTTL: 5 * time.Minute,
		ClaimTTL:  10 * time.Minute,
		Log:       logging.Noop{},
		Metrics:   metrics.Noop{},
	}

	queue := &fakeQueue{}
	poller := &jobs.Poller{
		Queue:   queue,
		Initial: time.Millisecond,
		Max:     time.Millisecond,
		Timeout: time.Minute,
		Log:     logging.Noop{},
		Metrics: metrics.Noop{},
	}
	manager := jobs.NewManager(queue, poller, nil, map[models.ResourceKind]string{
		models.KindImage:     "fal-ai/flux/dev",
		models.KindAnimation: "fal-ai/kling-video/v2.1/master/image-to-video",
		models.KindMusic:     "cassetteai/music-generator",
	}, logging.Noop{}, metrics.Noop{})

	h := &Handler{
		Signer:    signer,
		Receipts:  receipts,
		Codec:     codec,
		Jobs:      manager,
		AssetsDir: t.TempDir(),
		Log:       logging.Noop{},
		Metrics:   metrics.Noop{},
	}

	srv := httptest.NewServer(Router(h, false))
	t.Cleanup(srv.Close)
	return &env{handler: h, inspector: inspector, server: srv}
}

func postJSON(t *testing.T, url string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

// payFor registers a transaction that exactly satisfies the signed
// request token.
func (e *env) payFor(signature, token, amount string) {
	e.inspector.txs[signature] = &ledger.Transaction{
		Signature: signature,
		Success:   true,
		FeePayer:  feePayer,
		BlockTime: time.Now().UTC(),
		Memos:     []string{payment.RequestTokenMemo(token)},
		Pre: []ledger.TokenBalance{
			{Mint: mint, Owner: recipient, Amount: "0", Decimals: 6},
		},
		Post: []ledger.TokenBalance{
			{Mint: mint, Owner: recipient, Amount: amount, Decimals: 6},
		},
	}
}

func TestPaymentFlowEndToEnd(t *testing.T) {
	e := newEnv(t)

	// 1. Open a music job: payment is demanded up front.
	resp, body := postJSON(t, e.server.URL+"/api/jobs/request", map[string]any{
		"kind":     "music",
		"prompt":   "lofi beats",
		"duration": 60,
	}, nil)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}
	jobID, _ := body["jobId"].(string)
	token, _ := body["paymentRequestToken"].(string)
	if jobID == "" || token == "" {
		t.Fatalf("402 body = %v", body)
	}
	summary := body["paymentRequest"].(map[string]any)
	if summary["amount"] != "0.02" {
		t.Fatalf("human amount = %v", summary["amount"])
	}

	// 2. Pay on chain, then redeem the receipt.
	e.payFor("sig-1", token, "20000")
	resp, body = postJSON(t, e.server.URL+"/api/receipts", map[string]any{
		"signature":           "sig-1",
		"paymentRequestToken": token,
		"jobId":               jobID,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("receipts status = %d, body = %v", resp.StatusCode, body)
	}
	accessToken, _ := body["accessToken"].(string)
	if accessToken == "" {
		t.Fatalf("no access token in %v", body)
	}

	// The access token is good for exactly five minutes.
	claims, err := tokens.NewCodec("test-access-secret").Verify(accessToken)
	if err != nil {
		t.Fatalf("access token verify: %v", err)
	}
	if got := claims.ExpiresAt.Unix() - claims.IssuedAt.Unix(); got != 300 {
		t.Fatalf("access token lifetime = %d, want 300", got)
	}

	// 3. A mismatched job id is forbidden.
	auth := map[string]string{"Authorization": "Bearer " + accessToken}
	resp, body = postJSON(t, e.server.URL+"/api/jobs/start", map[string]any{
		"kind":  "music",
		"jobId": "someone-elses-job",
	}, auth)
	if resp.StatusCode != http.StatusForbidden || body["reason"] != "job_mismatch" {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}

	// 4. The bound job id starts the generation.
	resp, body = postJSON(t, e.server.URL+"/api/jobs/start", map[string]any{
		"kind":   "music",
		"jobId":  jobID,
		"params": map[string]any{"prompt": "lofi beats", "duration": 60},
	}, auth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d, body = %v", resp.StatusCode, body)
	}
	requestID, _ := body["requestId"].(string)
	if requestID == "" || body["state"] != string(models.JobQueued) {
		t.Fatalf("start body = %v", body)
	}

	// 5. The result shows up once the provider finishes.
	deadline := time.Now().Add(2 * time.Second)
	for {
		res, err := http.Get(e.server.URL + "/api/jobs/" + requestID + "/result")
		if err != nil {
			t.Fatalf("result request: %v", err)
		}
		var out map[string]any
		json.NewDecoder(res.Body).Decode(&out)
		res.Body.Close()
		if res.StatusCode == http.StatusOK {
			if out["url"] != "https://cdn.example/asset.bin" {
				t.Fatalf("result body = %v", out)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("result never became ready, last = %d %v", res.StatusCode, out)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReceiptReplayConflict(t *testing.T) {
	e := newEnv(t)

	_, body := postJSON(t, e.server.URL+"/api/jobs/request", map[string]any{
		"kind":   "image",
		"prompt": "a lighthouse",
	}, nil)
	token := body["paymentRequestToken"].(string)
	jobID := body["jobId"].(string)

	e.payFor("sig-1", token, "10000")
	if resp, _ := postJSON(t, e.server.URL+"/api/receipts", map[string]any{
		"signature": "sig-1", "paymentRequestToken": token, "jobId": jobID,
	}, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("first redemption status = %d", resp.StatusCode)
	}

	resp, errBody := postJSON(t, e.server.URL+"/api/receipts", map[string]any{
		"signature": "sig-1", "paymentRequestToken": token, "jobId": "another-job",
	}, nil)
	if resp.StatusCode != http.StatusConflict || errBody["error"] != "already_claimed" {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, errBody)
	}
}

func TestReceiptUnderpaymentRejected(t *testing.T) {
	e := newEnv(t)

	_, body := postJSON(t, e.server.URL+"/api/jobs/request", map[string]any{
		"kind":   "image",
		"prompt": "a lighthouse",
	}, nil)
	token := body["paymentRequestToken"].(string)

	e.payFor("sig-1", token, "9999")
	resp, errBody := postJSON(t, e.server.URL+"/api/receipts", map[string]any{
		"signature": "sig-1", "paymentRequestToken": token, "jobId": body["jobId"],
	}, nil)
	if resp.StatusCode != http.StatusBadRequest || errBody["error"] != "amount_mismatch" {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, errBody)
	}
}

func TestRequestJobValidation(t *testing.T) {
	e := newEnv(t)

	cases := []map[string]any{
		{"kind": "hologram"},
		{"kind": "music", "prompt": "beats"},
		{"kind": "animation"},
		{"kind": "image"},
	}
	for _, c := range cases {
		resp, body := postJSON(t, e.server.URL+"/api/jobs/request", c, nil)
		if resp.StatusCode != http.StatusBadRequest || body["error"] != "bad_request" {
			t.Fatalf("case %v: status = %d, body = %v", c, resp.StatusCode, body)
		}
	}
}

func TestServerMisconfigured(t *testing.T) {
	e := newEnv(t)
	e.handler.Missing = []string{"SERVER_PRIVATE_KEY_HEX", "LEDGER_RECIPIENT"}

	resp, body := postJSON(t, e.server.URL+"/api/jobs/request", map[string]any{
		"kind":   "image",
		"prompt": "a lighthouse",
	}, nil)
	if resp.StatusCode != http.StatusPaymentRequired || body["error"] != "server_misconfigured" {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	missing, _ := body["missing"].([]any)
	if len(missing) != 2 {
		t.Fatalf("missing = %v", body["missing"])
	}
}

func TestResourceAccess(t *testing.T) {
	e := newEnv(t)

	// No token: payment demanded.
	res, err := http.Get(e.server.URL + "/api/resources/res-1")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", res.StatusCode)
	}

	// A token bound to the resource grants access.
	accessToken, err := e.handler.Codec.Issue("res-1", "job", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req, _ := http.NewRequest(http.MethodGet, e.server.URL+"/api/resources/res-1", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var body map[string]any
	json.NewDecoder(res.Body).Decode(&body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK || body["url"] != "/api/assets/res-1" {
		t.Fatalf("status = %d, body = %v", res.StatusCode, body)
	}

	// The same token does not open other resources.
	req, _ = http.NewRequest(http.MethodGet, e.server.URL+"/api/resources/res-2", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", res.StatusCode)
	}
}

func TestJobStatusUnknown(t *testing.T) {
	e := newEnv(t)

	res, err := http.Get(e.server.URL + "/api/jobs/nope/status")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var body map[string]any
	json.NewDecoder(res.Body).Decode(&body)
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound || body["error"] != "not_ready" {
		t.Fatalf("status = %d, body = %v", res.StatusCode, body)
	}
}

func TestStartJobRequiresToken(t *testing.T) {
	e := newEnv(t)

	resp, body := postJSON(t, e.server.URL+"/api/jobs/start", map[string]any{
		"kind":  "image",
		"jobId": "job-1",
	}, nil)
	if resp.StatusCode != http.StatusUnauthorized || body["error"] != "unauthorized" {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}

	resp, body = postJSON(t, e.server.URL+"/api/jobs/start", map[string]any{
		"kind":  "image",
		"jobId": "job-1",
	}, map[string]string{"Authorization": "Bearer not.a.token"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
}

func TestStreamJobTransitions(t *testing.T) {
	e := newEnv(t)

	job, err := e.handler.Jobs.Start(context.Background(), "job-1", models.KindImage, nil)
	if err != nil {
		t.Fatalf("start job: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/api/jobs/" + job.RequestID + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var event streamEvent
		if err := conn.ReadJSON(&event); err != nil {
			t.Fatalf("never saw a terminal state: %v", err)
		}
		if event.State.Terminal() {
			if event.State != models.JobCompleted {
				t.Fatalf("terminal state = %q", event.State)
			}
			return
		}
	}
}
