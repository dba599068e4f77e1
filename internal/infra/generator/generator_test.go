package infra_generator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rankparty/core/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONArray(t *testing.T) {
	testCases := []struct {
		name     string
		text     string
		expected string
	}{
		{
			name:     "Should pass a bare array through",
			text:     `[{"id":1}]`,
			expected: `[{"id":1}]`,
		},
		{
			name:     "Should strip a json code fence",
			text:     "```json\n[{\"id\":1}]\n```",
			expected: `[{"id":1}]`,
		},
		{
			name:     "Should strip a bare code fence",
			text:     "```\n[{\"id\":1}]\n```",
			expected: `[{"id":1}]`,
		},
		{
			name:     "Should drop leading chatter",
			text:     `Here's the ranking you asked for: [{"id":1}]`,
			expected: `[{"id":1}]`,
		},
		{
			name:     "Should slice the outermost bracket pair",
			text:     `Sure thing! [{"id":1},{"id":2}] Hope that helps.`,
			expected: `[{"id":1},{"id":2}]`,
		},
		{
			name:     "Should remove trailing commas",
			text:     `[{"id":1,},]`,
			expected: `[{"id":1}]`,
		},
		{
			name:     "Should survive a fence inside prose",
			text:     "The list:\n```json\n[{\"id\":1},]\n```\nEnjoy!",
			expected: `[{"id":1}]`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, extractJSONArray(tc.text))
		})
	}
}

func generatedBody(t *testing.T, content string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	require.NoError(t, err)
	return body
}

func itemsJSON(n int) string {
	out := "["
	for i := 1; i <= n; i++ {
		if i > 1 {
			out += ","
		}
		out += fmt.Sprintf(`{"id":%d,"title":"Item %d","years":"1990s","image":"⭐","viewershipRank":%d,"description":"d","fact":"f"}`, i, i, i)
	}
	return out + "]"
}

func TestGenerateItems(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write(generatedBody(t, "```json\n"+itemsJSON(4)+"\n```"))
	}))
	defer server.Close()

	client := New(config.Generator{URL: server.URL, APIKey: "hf_test", Model: "test-model"})

	items, err := client.GenerateItems(context.Background(), "Best Pixar movies", 4)
	require.NoError(t, err)

	assert.Len(t, items, 4)
	assert.Equal(t, "Item 1", items[0].Title)
	assert.Equal(t, "Bearer hf_test", gotAuth)
	assert.Equal(t, "test-model", gotReq.Model)
	assert.InDelta(t, 0.4, gotReq.Temperature, 1e-9)
	assert.Contains(t, gotReq.Messages[1].Content, "Best Pixar movies")
}

func TestGenerateItemsRetriesOnFailure(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write(generatedBody(t, itemsJSON(3)))
	}))
	defer server.Close()

	client := New(config.Generator{URL: server.URL})

	items, err := client.GenerateItems(context.Background(), "prompt", 3)
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.Equal(t, 2, calls, "second attempt after a server error")
}

func TestGenerateItemsRetriesOnMalformedOutput(t *testing.T) {
	calls := 0
	var temps []float64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		temps = append(temps, req.Temperature)

		if calls == 1 {
			w.Write(generatedBody(t, "I can't produce JSON today, sorry."))
			return
		}
		w.Write(generatedBody(t, itemsJSON(3)))
	}))
	defer server.Close()

	client := New(config.Generator{URL: server.URL})

	_, err := client.GenerateItems(context.Background(), "prompt", 3)
	require.NoError(t, err)

	require.Len(t, temps, 2)
	assert.InDelta(t, 0.4, temps[0], 1e-9)
	assert.InDelta(t, 0.3, temps[1], 1e-9, "retry runs cooler")
}

func TestGenerateItemsGivesUpAfterRetries(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(config.Generator{URL: server.URL})

	_, err := client.GenerateItems(context.Background(), "prompt", 3)
	assert.Error(t, err)
	assert.Equal(t, maxAttempts, calls)
}

func TestGenerateItemsHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := New(config.Generator{URL: server.URL})

	_, err := client.GenerateItems(ctx, "prompt", 3)
	assert.Error(t, err)
}

func TestGenerateItemsClampsCount(t *testing.T) {
	var gotSystem string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotSystem = req.Messages[0].Content
		w.Write(generatedBody(t, itemsJSON(3)))
	}))
	defer server.Close()

	client := New(config.Generator{URL: server.URL})

	items, err := client.GenerateItems(context.Background(), "prompt", 1)
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.Contains(t, gotSystem, "EXACTLY 3 items")
}
