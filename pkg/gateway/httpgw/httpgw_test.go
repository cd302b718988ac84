package httpgw

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/KevinMorrison-629/QuickNet/pkg/codec"
)

func TestRegisteredRoutes(t *testing.T) {
	gw := New(nil)
	gw.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	gw.POST("/echo", func(c *gin.Context) {
		body, _ := c.GetRawData()
		c.Data(http.StatusOK, "application/octet-stream", body)
	})

	rec := httptest.NewRecorder()
	gw.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", rec.Code)
	}
	var out map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil || out["status"] != "ok" {
		t.Fatalf("unexpected health body %q (err %v)", rec.Body.String(), err)
	}

	rec = httptest.NewRecorder()
	gw.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("ping")))
	if rec.Code != http.StatusOK || rec.Body.String() != "ping" {
		t.Fatalf("POST /echo = %d %q", rec.Code, rec.Body.String())
	}
}

func TestNoRouteReturnsJSON(t *testing.T) {
	gw := New(nil)
	rec := httptest.NewRecorder()
	gw.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET /missing = %d", rec.Code)
	}
	var out map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil || out["path"] != "/missing" {
		t.Fatalf("unexpected 404 body %q (err %v)", rec.Body.String(), err)
	}
}

func TestCORSHeadersPresent(t *testing.T) {
	gw := New(nil)
	gw.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	gw.Router().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestDecodeBodyNegotiatesContentType(t *testing.T) {
	type note struct {
		Text string `json:"text" cbor:"text"`
	}

	codecs := codec.NewRegistry()
	cb, err := codec.CBOR()
	if err != nil {
		t.Fatalf("new cbor: %v", err)
	}
	codecs.Register(cb)

	gw := New(nil)
	gw.POST("/notes", func(c *gin.Context) {
		var n note
		if err := DecodeBody(c, codecs, &n); err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, ErrUnsupportedContentType) {
				status = http.StatusUnsupportedMediaType
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"text": n.Text})
	})

	post := func(body []byte, contentType string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/notes", bytes.NewReader(body))
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		rec := httptest.NewRecorder()
		gw.Router().ServeHTTP(rec, req)
		return rec
	}

	if rec := post([]byte(`{"text":"via json"}`), "application/json"); rec.Code != http.StatusOK {
		t.Fatalf("json post = %d %q", rec.Code, rec.Body.String())
	}

	// Declared content type wins even with parameters attached.
	if rec := post([]byte(`{"text":"charset"}`), "application/json; charset=utf-8"); rec.Code != http.StatusOK {
		t.Fatalf("json-with-charset post = %d %q", rec.Code, rec.Body.String())
	}

	cborBody, err := cb.Marshal(note{Text: "via cbor"})
	if err != nil {
		t.Fatalf("cbor marshal: %v", err)
	}
	rec := post(cborBody, "application/cbor")
	if rec.Code != http.StatusOK {
		t.Fatalf("cbor post = %d %q", rec.Code, rec.Body.String())
	}
	var out map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil || out["text"] != "via cbor" {
		t.Fatalf("cbor post decoded to %q (err %v)", rec.Body.String(), err)
	}

	// No Content-Type falls back to JSON.
	if rec := post([]byte(`{"text":"implicit"}`), ""); rec.Code != http.StatusOK {
		t.Fatalf("implicit-json post = %d %q", rec.Code, rec.Body.String())
	}

	if rec := post([]byte("x"), "application/msgpack"); rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("unregistered content type = %d, want 415", rec.Code)
	}

	if rec := post([]byte("{not json"), "application/json"); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body = %d, want 400", rec.Code)
	}
}

func TestServeStaticFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.txt"), []byte("static ok"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	gw := New(nil)
	if err := gw.ServeStaticFiles("/assets", dir); err != nil {
		t.Fatalf("mount: %v", err)
	}
	if err := gw.ServeStaticFiles("/bad", filepath.Join(dir, "missing")); err == nil {
		t.Fatalf("mounting missing directory accepted")
	}

	rec := httptest.NewRecorder()
	gw.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/index.txt", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "static ok" {
		t.Fatalf("static fetch = %d %q", rec.Code, rec.Body.String())
	}
}
