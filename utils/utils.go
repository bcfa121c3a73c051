package utils

import (
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/parnurzeal/gorequest"
	"golang.org/x/xerrors"
)

const requestTimeout = 60 * time.Second

// HTTPError is returned for responses with a non-200 status so callers can
// apply status-specific backoff.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error. status code: %d, url: %s", e.StatusCode, e.URL)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var he *HTTPError
	if xerrors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}

func CacheDir() string {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		cacheDir = os.TempDir()
	}
	return filepath.Join(cacheDir, "vuln-dataset")
}

// FetchURL returns HTTP response body with retry
func FetchURL(url string, headers map[string]string, retry int) (res []byte, err error) {
	for i := 0; i <= retry; i++ {
		if i > 0 {
			wait := math.Pow(float64(i), 2) + float64(RandInt()%10)
			time.Sleep(time.Duration(wait) * time.Second)
		}
		res, err = Get(url, headers)
		if err == nil {
			return res, nil
		}
	}
	return nil, xerrors.Errorf("failed to fetch URL: %w", err)
}

// Get performs a single GET request.
func Get(url string, headers map[string]string) ([]byte, error) {
	req := gorequest.New().Timeout(requestTimeout).Get(url)
	for k, v := range headers {
		req.Set(k, v)
	}
	resp, body, errs := req.Type("text").EndBytes()
	if len(errs) > 0 {
		return nil, xerrors.Errorf("HTTP error. url: %s, err: %w", url, errs[0])
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{URL: url, StatusCode: resp.StatusCode}
	}
	return body, nil
}

// PostJSON sends payload as a JSON body and returns the response body.
func PostJSON(url string, payload interface{}, headers map[string]string) ([]byte, error) {
	req := gorequest.New().Timeout(requestTimeout).Post(url)
	for k, v := range headers {
		req.Set(k, v)
	}
	resp, body, errs := req.Type("json").Send(payload).EndBytes()
	if len(errs) > 0 {
		return nil, xerrors.Errorf("HTTP error. url: %s, err: %w", url, errs[0])
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{URL: url, StatusCode: resp.StatusCode}
	}
	return body, nil
}

func RandInt() int {
	seed, _ := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	return int(seed.Int64())
}

func LookupEnv(key, defaultValue string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultValue
}
