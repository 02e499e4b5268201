package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sheryldeakin/mindstorm-sub000/internal/config"
	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
	registrymerge "github.com/sheryldeakin/mindstorm-sub000/internal/registry/merge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeModelJSON(t *testing.T) {
	var n model.Narrative
	require.NoError(t, decodeModelJSON("here you go:\n{\"overTimeSummary\": \"steady\"}\n", &n))
	assert.Equal(t, "steady", n.OverTimeSummary)

	err := decodeModelJSON(`{"overTimeSummary": "cut`, &n)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.True(t, isRecoverableModelJSONError(err))

	err = decodeModelJSON("no json here", &n)
	require.Error(t, err)
}

func TestGenerateSchemaIsStrict(t *testing.T) {
	schema := generateSchema[model.Narrative]()
	assert.Equal(t, false, schema["additionalProperties"])
	props, ok := schema["properties"].(map[string]interface{})
	require.True(t, ok)
	required, ok := schema["required"].([]string)
	require.True(t, ok)
	assert.Len(t, required, len(props))
	assert.Contains(t, props, "overTimeSummary")
	assert.Contains(t, props, "questionsToExplore")
}

func TestBuildMergeInput(t *testing.T) {
	input, err := buildMergeInput(registrymerge.Request{
		Chunks:             []model.Narrative{{OverTimeSummary: "week one"}, {OverTimeSummary: "week two"}},
		TimeRangeLabel:     "Last 30 days",
		SignalContext:      "SYMPTOM_MOOD: 3",
		EvidenceHighlights: []string{"felt flat"},
	})
	require.NoError(t, err)
	assert.Contains(t, input, "TIME RANGE: Last 30 days")
	assert.Contains(t, input, "SIGNALS: SYMPTOM_MOOD: 3")
	assert.Contains(t, input, `- "felt flat"`)
	assert.Contains(t, input, "SUMMARY 2:")
	assert.Contains(t, input, "week two")
}

func TestLoadRequiresAPIKey(t *testing.T) {
	cfg := config.DefaultConfig()
	_, err := load(config.WithContext(context.Background(), &cfg))
	require.Error(t, err)
}

func responseBody(text string) string {
	body := map[string]any{
		"id":         "resp_1",
		"object":     "response",
		"created_at": 1,
		"model":      "gpt-4o-mini",
		"status":     "completed",
		"output": []any{map[string]any{
			"id":     "msg_1",
			"type":   "message",
			"role":   "assistant",
			"status": "completed",
			"content": []any{map[string]any{
				"type":        "output_text",
				"text":        text,
				"annotations": []any{},
			}},
		}},
	}
	b, _ := json.Marshal(body)
	return string(b)
}

func TestMergeRetriesTruncatedJSON(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/responses"))
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			_, _ = io.WriteString(w, responseBody(`{"overTimeSummary": "cut`))
			return
		}
		_, _ = io.WriteString(w, responseBody(`{"overTimeSummary":"Mood dipped mid-month.","recurringExperiences":["Low mood"],"impactAreas":[],"relatedInfluences":[],"unclearAreas":[],"questionsToExplore":[],"timeRangeLabel":"x","confidenceNote":""}`))
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.OpenAIAPIKey = "test-key"
	cfg.OpenAIBaseURL = srv.URL
	collab, err := load(config.WithContext(context.Background(), &cfg))
	require.NoError(t, err)

	out, err := collab.Merge(context.Background(), registrymerge.Request{
		Chunks:         []model.Narrative{{OverTimeSummary: "a"}, {OverTimeSummary: "b"}},
		TimeRangeLabel: "Last 30 days",
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "Mood dipped mid-month.", out.OverTimeSummary)
	assert.Equal(t, "Last 30 days", out.TimeRangeLabel)
}
