package app

import (
	"fmt"
	"net/http"
	"sync"
	"testing"
)

func TestGetYearDefaultsWhenUnset(t *testing.T) {
	env := newTestEnv(t, "")
	rr := env.request(t, http.MethodGet, "/api/year", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	payload := parseEnvelope(t, rr)
	if payload["year"] != "Year: 1444" {
		t.Fatalf("expected default year, got %v", payload["year"])
	}
}

func TestPostYearAcceptsMultipleBodyShapes(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{`{"year":"Year: 1500"}`, "Year: 1500"},
		{`{"yearText":"Year: 1501"}`, "Year: 1501"},
		{`"Year: 1502"`, "Year: 1502"},
		{`1503`, "1503"},
	}
	for _, tc := range cases {
		env := newTestEnv(t, "")
		rr := env.request(t, http.MethodPost, "/api/year", tc.body, testSecret)
		if rr.Code != http.StatusOK {
			t.Fatalf("body %s: expected 200, got %d body=%s", tc.body, rr.Code, rr.Body.String())
		}

		rr = env.request(t, http.MethodGet, "/api/year", "", "")
		payload := parseEnvelope(t, rr)
		if payload["year"] != tc.want {
			t.Fatalf("body %s: expected year %q, got %v", tc.body, tc.want, payload["year"])
		}
	}
}

func TestPostYearRequiresKey(t *testing.T) {
	env := newTestEnv(t, "")
	rr := env.request(t, http.MethodPost, "/api/year", `{"year":"Year: 1500"}`, "wrong")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestPostYearNeverTouchesTheTableDocument(t *testing.T) {
	env := newTestEnv(t, "")
	rr := env.request(t, http.MethodPost, "/api/data", `{"Name":["A"]}`, testSecret)
	if rr.Code != http.StatusOK {
		t.Fatalf("save failed: %d", rr.Code)
	}

	rr = env.request(t, http.MethodPost, "/api/year", `{"year":"Year: 1600"}`, testSecret)
	if rr.Code != http.StatusOK {
		t.Fatalf("year save failed: %d", rr.Code)
	}

	rr = env.request(t, http.MethodGet, "/api/data", "", "")
	payload := parseEnvelope(t, rr)
	data := payload["data"].(map[string]any)
	if _, present := data["year"]; present {
		t.Fatalf("year leaked into table document: %v", data)
	}
	if _, present := data["Name"]; !present {
		t.Fatalf("table document lost its columns: %v", data)
	}
}

func TestConcurrentPostsSerializeWithoutCorruption(t *testing.T) {
	env := newTestEnv(t, "")

	const writers = 12
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			body := fmt.Sprintf(`{"Name":["writer-%d"],"Seq":["%d"]}`, n, n)
			rr := env.request(t, http.MethodPost, "/api/data", body, testSecret)
			if rr.Code != http.StatusOK {
				t.Errorf("writer %d: status %d", n, rr.Code)
			}
		}(i)
	}
	wg.Wait()

	rr := env.request(t, http.MethodGet, "/api/data", "", "")
	payload := parseEnvelope(t, rr)
	data := payload["data"].(map[string]any)

	// The final document is exactly one writer's payload applied atomically.
	names := data["Name"].([]any)
	seqs := data["Seq"].([]any)
	if len(names) != 1 || len(seqs) != 1 {
		t.Fatalf("interleaved document observed: %v", data)
	}
	if names[0] != fmt.Sprintf("writer-%s", seqs[0]) {
		t.Fatalf("columns from different writers mixed: %v", data)
	}
}
