package cloudinary

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignIsOrderIndependentAndSkipsAPIKey(t *testing.T) {
	c := New("demo", "key", "secret", "")
	a := c.sign(map[string]string{"timestamp": "1", "public_id": "qr", "api_key": "key"})
	b := c.sign(map[string]string{"public_id": "qr", "timestamp": "1"})
	assert.Equal(t, a, b)
	assert.Len(t, a, 40)

	other := New("demo", "key", "another", "")
	assert.NotEqual(t, a, other.sign(map[string]string{"timestamp": "1", "public_id": "qr"}))
}

func TestUploadPNG(t *testing.T) {
	var got map[string]string
	var file []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1_1/demo/image/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		got = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			got[k] = v[0]
		}
		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		file, _ = io.ReadAll(f)
		w.Write([]byte(`{"public_id":"visits/qr-v1","secure_url":"https://res.example/qr-v1.png","width":300,"height":300}`))
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "visits")
	c.BaseURL = srv.URL
	c.Now = func() time.Time { return time.Unix(1700000000, 0) }

	res, err := c.UploadPNG(context.Background(), []byte("png-bytes"), "qr-v1")
	require.NoError(t, err)
	assert.Equal(t, "https://res.example/qr-v1.png", res.SecureURL)
	assert.Equal(t, 300, res.Width)

	assert.Equal(t, "png-bytes", string(file))
	assert.Equal(t, "1700000000", got["timestamp"])
	assert.Equal(t, "qr-v1", got["public_id"])
	assert.Equal(t, "visits", got["folder"])
	assert.Equal(t, "key", got["api_key"])
	assert.NotEmpty(t, got["signature"])
}

func TestUploadPNGErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"Invalid Signature"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "")
	c.BaseURL = srv.URL
	_, err := c.UploadPNG(context.Background(), []byte("x"), "qr")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
