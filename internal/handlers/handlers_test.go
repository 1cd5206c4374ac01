package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ayurtrace/ayurtrace/internal/advice"
	"github.com/ayurtrace/ayurtrace/internal/classifier"
	"github.com/ayurtrace/ayurtrace/internal/ledger"
	"github.com/ayurtrace/ayurtrace/internal/models"
	"github.com/ayurtrace/ayurtrace/internal/providers"
	"github.com/ayurtrace/ayurtrace/internal/qr"
	"github.com/ayurtrace/ayurtrace/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClassifier struct {
	pred  classifier.Prediction
	err   error
	calls int
}

func (f *fakeClassifier) Classify(ctx context.Context, data []byte) (classifier.Prediction, error) {
	f.calls++
	return f.pred, f.err
}

func (f *fakeClassifier) Available() bool { return true }

type fakeProvider struct {
	reply string
	err   error
}

func (f *fakeProvider) Generate(ctx context.Context, config providers.Config) (string, error) {
	return f.reply, f.err
}

var fixedNow = time.Unix(1_700_000_000, 0)

type fixture struct {
	handler    http.Handler
	ledger     *ledger.SQLite
	classifier *fakeClassifier
	provider   *fakeProvider
	uploadDir  string
}

type fixtureOptions struct {
	noLedger bool
	lazy     bool
	wrap     func(ledger.Ledger) ledger.Ledger
}

// countingLedger counts origin reads made through the Ledger interface
type countingLedger struct {
	ledger.Ledger
	originReads int
}

func (c *countingLedger) GetOrigin(ctx context.Context, id uint64) (models.OriginRecord, error) {
	c.originReads++
	return c.Ledger.GetOrigin(ctx, id)
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	catalog, err := classifier.DefaultCatalog()
	require.NoError(t, err)

	f := &fixture{
		classifier: &fakeClassifier{pred: classifier.Prediction{
			Label:          "Tulasi",
			ScientificName: "Ocimum tenuiflorum",
			Confidence:     91,
			Probability:    0.91,
		}},
		provider:  &fakeProvider{reply: "Harvest in the morning."},
		uploadDir: filepath.Join(t.TempDir(), "uploads"),
	}

	svc, err := advice.NewService(f.provider, "llama3", 0.5)
	require.NoError(t, err)
	enc, err := qr.New("")
	require.NoError(t, err)

	deps := Deps{
		Classifier: f.classifier,
		Catalog:    catalog,
		Advice:     svc,
		Uploads:    storage.New(f.uploadDir),
		QR:         enc,
		Clock:      func() time.Time { return fixedNow },
	}
	if !opts.noLedger {
		f.ledger, err = ledger.OpenSQLite(context.Background(), ledger.SQLiteOptions{
			Path:          filepath.Join(t.TempDir(), "ledger.db"),
			LazyRoleGrant: opts.lazy,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = f.ledger.Close() })
		deps.Ledger = f.ledger
		if opts.wrap != nil {
			deps.Ledger = opts.wrap(f.ledger)
		}
	}

	f.handler = New(deps).Routes()
	return f
}

func (f *fixture) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	}
	return rec, body
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))))
	return buf.Bytes()
}

func submitRequest(t *testing.T, fields map[string]string, filename string, file []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("image_file", filename)
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/submit_herb/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func formRequest(method, target string, values url.Values) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, body map[string]any, kind string) {
	t.Helper()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, kind, body["kind"], body["message"])
	assert.NotEmpty(t, body["message"])
}

func TestSubmitThenDashboard(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	rec, body := f.do(t, submitRequest(t, map[string]string{
		"latitude":  "12.9716",
		"longitude": "77.5946",
	}, "leaf.png", pngBytes(t)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "success", body["status"], body["message"])
	assert.Equal(t, float64(0), body["herb_id"])
	assert.Equal(t, "Tulasi", body["species"])
	assert.Equal(t, float64(91), body["confidence"])
	assert.NotEmpty(t, body["tx_hash"])

	_, err := os.Stat(filepath.Join(f.uploadDir, "leaf.png"))
	assert.NoError(t, err)

	_, body = f.do(t, httptest.NewRequest(http.MethodGet, "/dashboard/", nil))
	require.Equal(t, "success", body["status"])

	want := []any{map[string]any{
		"id":               float64(0),
		"name":             "Tulasi",
		"latitude":         12.9716,
		"longitude":        77.5946,
		"verified_species": "Ocimum tenuiflorum",
		"confidence_score": float64(91),
		"timestamp":        body["data"].([]any)[0].(map[string]any)["timestamp"],
		"farmer":           "local-submitter",
	}}
	if diff := cmp.Diff(want, body["data"]); diff != "" {
		t.Errorf("dashboard mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmitRejectsBadInput(t *testing.T) {
	tests := []struct {
		name     string
		fields   map[string]string
		filename string
		file     func(t *testing.T) []byte
	}{
		{
			name:     "missing latitude",
			fields:   map[string]string{"longitude": "77.5"},
			filename: "leaf.png",
			file:     pngBytes,
		},
		{
			name:     "latitude out of range",
			fields:   map[string]string{"latitude": "95", "longitude": "77.5"},
			filename: "leaf.png",
			file:     pngBytes,
		},
		{
			name:     "longitude not a number",
			fields:   map[string]string{"latitude": "12", "longitude": "east"},
			filename: "leaf.png",
			file:     pngBytes,
		},
		{
			name:   "missing file",
			fields: map[string]string{"latitude": "12", "longitude": "77"},
		},
		{
			name:     "not an image",
			fields:   map[string]string{"latitude": "12", "longitude": "77"},
			filename: "notes.txt",
			file:     func(t *testing.T) []byte { return []byte("plain text, no pixels here") },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fixtureOptions{})
			var data []byte
			if tt.file != nil {
				data = tt.file(t)
			}

			rec, body := f.do(t, submitRequest(t, tt.fields, tt.filename, data))
			assertError(t, rec, body, "invalid_input")
			assert.Equal(t, 0, f.classifier.calls)

			n, err := f.ledger.Count(context.Background())
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestSubmitClassifierFailureRecordsNothing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind string
	}{
		{name: "model unavailable", err: classifier.ErrModelUnavailable, kind: "unavailable"},
		{name: "undecodable", err: classifier.ErrUndecodableImage, kind: "invalid_input"},
		{name: "inference failure", err: errors.New("predict timed out"), kind: "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fixtureOptions{})
			f.classifier.err = tt.err

			rec, body := f.do(t, submitRequest(t, map[string]string{"latitude": "12", "longitude": "77"}, "leaf.png", pngBytes(t)))
			assertError(t, rec, body, tt.kind)

			n, err := f.ledger.Count(context.Background())
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestTraceUnknownHerb(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	rec, body := f.do(t, httptest.NewRequest(http.MethodGet, "/trace_herb/42", nil))
	assertError(t, rec, body, "not_found")
	assert.Contains(t, body["message"], "42")

	rec, body = f.do(t, httptest.NewRequest(http.MethodGet, "/trace_herb/abc", nil))
	assertError(t, rec, body, "invalid_input")
}

func TestProcessAndTrace(t *testing.T) {
	f := newFixture(t, fixtureOptions{lazy: true})
	ctx := context.Background()

	_, err := f.ledger.AppendOrigin(ctx, ledger.OriginInput{
		Species:        "Tulasi",
		Confidence:     91,
		LatitudeFixed:  models.ToFixed(12.9716),
		LongitudeFixed: models.ToFixed(77.5946),
	})
	require.NoError(t, err)

	for _, action := range []string{"Dried", "Packed"} {
		rec, body := f.do(t, formRequest(http.MethodPost, "/process_herb/0", url.Values{"action": {action}}))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "success", body["status"], body["message"])
		assert.Equal(t, "BATCH-0-1700000000", body["batch_number"])
		assert.NotEmpty(t, body["tx_hash"])
	}

	granted, err := f.ledger.EnsureProcessor(ctx)
	require.NoError(t, err)
	assert.False(t, granted, "role should already have been granted exactly once")

	_, body := f.do(t, httptest.NewRequest(http.MethodGet, "/trace_herb/0", nil))
	require.Equal(t, "success", body["status"])
	data := body["data"].(map[string]any)

	origin := data["origin"].(map[string]any)
	assert.Equal(t, "Tulasi", origin["name"])
	assert.Equal(t, "Ocimum tenuiflorum", origin["scientificName"])
	assert.Equal(t, 12.9716, origin["latitude"])
	assert.Equal(t, 77.5946, origin["longitude"])
	assert.Equal(t, float64(91), origin["confidenceScore"])

	history := data["processingHistory"].([]any)
	require.Len(t, history, 2)
	assert.Equal(t, "Dried", history[0].(map[string]any)["action"])
	assert.Equal(t, "Packed", history[1].(map[string]any)["action"])
	assert.Equal(t, "BATCH-0-1700000000", history[1].(map[string]any)["batchNumber"])
}

func TestProcessHerbSingleExistenceCheck(t *testing.T) {
	counter := &countingLedger{}
	f := newFixture(t, fixtureOptions{lazy: true, wrap: func(l ledger.Ledger) ledger.Ledger {
		counter.Ledger = l
		return counter
	}})
	_, err := f.ledger.AppendOrigin(context.Background(), ledger.OriginInput{Species: "Neem", Confidence: 70})
	require.NoError(t, err)

	_, body := f.do(t, formRequest(http.MethodPost, "/process_herb/0", url.Values{"action": {"Dried"}}))
	require.Equal(t, "success", body["status"], body["message"])
	assert.Equal(t, 0, counter.originReads)
}

func TestProcessErrors(t *testing.T) {
	t.Run("processor role missing", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		_, err := f.ledger.AppendOrigin(context.Background(), ledger.OriginInput{Species: "Neem", Confidence: 70})
		require.NoError(t, err)

		rec, body := f.do(t, formRequest(http.MethodPost, "/process_herb/0", url.Values{"action": {"Dried"}}))
		assertError(t, rec, body, "transaction_failed")
	})

	t.Run("unknown herb", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{lazy: true})
		rec, body := f.do(t, formRequest(http.MethodPost, "/process_herb/3", url.Values{"action": {"Dried"}}))
		assertError(t, rec, body, "not_found")
		assert.Equal(t, "Herb with ID 3 not found", body["message"])
	})

	t.Run("missing action", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{lazy: true})
		rec, body := f.do(t, formRequest(http.MethodPost, "/process_herb/0", url.Values{}))
		assertError(t, rec, body, "invalid_input")
	})
}

func TestLedgerMissing(t *testing.T) {
	f := newFixture(t, fixtureOptions{noLedger: true})

	requests := []*http.Request{
		submitRequest(t, map[string]string{"latitude": "12", "longitude": "77"}, "leaf.png", pngBytes(t)),
		formRequest(http.MethodPost, "/process_herb/0", url.Values{"action": {"Dried"}}),
		httptest.NewRequest(http.MethodGet, "/dashboard/", nil),
		httptest.NewRequest(http.MethodGet, "/trace_herb/0", nil),
	}
	for _, req := range requests {
		rec, body := f.do(t, req)
		assertError(t, rec, body, "unavailable")
	}
	assert.Equal(t, 0, f.classifier.calls)

	rec, body := f.do(t, formRequest(http.MethodPost, "/farmer_advice/", url.Values{"question": {"When to harvest?"}}))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])

	rec, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/generate_qr/0", nil))
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	_, body = f.do(t, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	assert.Equal(t, "OK", body["status"])
	assert.Equal(t, false, body["ledger"])
	assert.Equal(t, true, body["classifier"])
}

func TestGenerateQR(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	rec, _ := f.do(t, httptest.NewRequest(http.MethodGet, "/generate_qr/7", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, qr.Size, img.Bounds().Dx())

	rec, body := f.do(t, httptest.NewRequest(http.MethodGet, "/generate_qr/-1", nil))
	assertError(t, rec, body, "invalid_input")
}

func TestAdviceRoutes(t *testing.T) {
	f := newFixture(t, fixtureOptions{noLedger: true})

	_, body := f.do(t, formRequest(http.MethodPost, "/farmer_advice/", url.Values{
		"question":  {"When should I harvest?"},
		"herb_name": {"Tulasi"},
		"location":  {"Mysuru"},
	}))
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "Harvest in the morning.", body["advice"])

	req := httptest.NewRequest(http.MethodPost, "/consumer_chat/", strings.NewReader(`{"question":"Is it safe daily?","herb_name":"Neem"}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	_, body = f.do(t, req)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "Harvest in the morning.", body["reply"])

	f.provider.reply = `{"advice":"Use fresh leaves.","precautions":["Avoid before surgery"],"related_herbs":["Neem"]}`
	_, body = f.do(t, httptest.NewRequest(http.MethodGet, "/llm_query/?question=How+to+use+tulasi%3F", nil))
	require.Equal(t, "success", body["status"], body["message"])
	want := map[string]any{
		"advice":        "Use fresh leaves.",
		"precautions":   []any{"Avoid before surgery"},
		"related_herbs": []any{"Neem"},
	}
	if diff := cmp.Diff(want, body["data"]); diff != "" {
		t.Errorf("llm_query mismatch (-want +got):\n%s", diff)
	}

	f.provider.reply = "Tulasi is wonderful."
	rec, body := f.do(t, formRequest(http.MethodPost, "/llm_query/", url.Values{"question": {"Dosage?"}}))
	assertError(t, rec, body, "invalid_input")

	rec, body = f.do(t, formRequest(http.MethodPost, "/consumer_chat/", url.Values{"herb_name": {"Neem"}}))
	assertError(t, rec, body, "invalid_input")

	f.provider.err = errors.New("ollama unreachable")
	rec, body = f.do(t, formRequest(http.MethodPost, "/farmer_advice/", url.Values{"question": {"Pests?"}}))
	assertError(t, rec, body, "error")
	assert.Contains(t, body["message"], "ollama unreachable")
}

func TestServeUpload(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	_, body := f.do(t, submitRequest(t, map[string]string{"latitude": "1", "longitude": "2"}, "leaf.png", pngBytes(t)))
	require.Equal(t, "success", body["status"], body["message"])

	rec, _ := f.do(t, httptest.NewRequest(http.MethodGet, "/uploads/leaf.png", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pngBytes(t), rec.Body.Bytes())

	rec, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/uploads/..", nil))
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestTransportLevelErrors(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	rec, _ := f.do(t, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/submit_herb/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDPassthrough(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec, _ := f.do(t, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}
