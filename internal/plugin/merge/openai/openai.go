package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/sheryldeakin/mindstorm-sub000/internal/config"
	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
	registrymerge "github.com/sheryldeakin/mindstorm-sub000/internal/registry/merge"
)

func init() {
	registrymerge.Register(registrymerge.Plugin{
		Name:   "openai",
		Loader: load,
	})
}

const mergePrompt = `You merge patient journal summaries into one patient-facing narrative.

Rules:
- Use only the themes listed under SIGNALS and the quotes under EVIDENCE. Never introduce a theme, symptom, diagnosis or cause that is not grounded there.
- Describe timing and co-occurrence, never causation.
- Keep a warm, plain, non-clinical tone. No diagnoses, no risk language.
- Keep lists short (at most 5 items each). Prefer the wording of the input summaries.
- Return JSON only, matching the schema.`

var narrativeSchema = generateSchema[model.Narrative]()

func load(ctx context.Context) (registrymerge.Collaborator, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("openai merge: MINDSTORM_OPENAI_API_KEY is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.OpenAIAPIKey)}
	if base := strings.TrimRight(cfg.OpenAIBaseURL, "/"); base != "" {
		opts = append(opts, option.WithBaseURL(base+"/"))
	}
	client := openai.NewClient(opts...)
	return &Merger{
		client:    &client,
		model:     cfg.OpenAIModelName,
		maxOutput: int64(cfg.MergeMaxOutputTokens),
	}, nil
}

// Merger merges narratives with the OpenAI Responses API using strict
// structured output.
type Merger struct {
	client    *openai.Client
	model     string
	maxOutput int64
}

func (m *Merger) Merge(ctx context.Context, req registrymerge.Request) (*model.Narrative, error) {
	if m.client == nil {
		return nil, errors.New("openai merge: client is nil")
	}
	if m.model == "" {
		return nil, errors.New("openai merge: model is empty")
	}
	input, err := buildMergeInput(req)
	if err != nil {
		return nil, err
	}
	format := responses.ResponseFormatTextConfigUnionParam{
		OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
			Name:        "Narrative",
			Schema:      narrativeSchema,
			Strict:      openai.Bool(true),
			Description: openai.String("Merged patient narrative JSON"),
			Type:        "json_schema",
		},
	}

	maxOut := m.maxOutput
	if maxOut <= 0 {
		maxOut = 2000
	}
	var out model.Narrative
	var lastOut string
	for attempt := 0; attempt < 2; attempt++ {
		instructions := mergePrompt
		if attempt == 1 {
			maxOut += maxOut / 2
			instructions = mergePrompt + "\n\nIMPORTANT: Ensure the JSON is complete and valid. Shorten lists if needed."
		}
		params := responses.ResponseNewParams{
			Model:           m.model,
			MaxOutputTokens: openai.Int(maxOut),
			Instructions:    openai.String(instructions),
			Input: responses.ResponseNewParamsInputUnion{
				OfInputItemList: []responses.ResponseInputItemUnionParam{
					responses.ResponseInputItemParamOfMessage(input, responses.EasyInputMessageRoleUser),
				},
			},
			Text: responses.ResponseTextConfigParam{
				Format: format,
			},
		}

		resp, err := callWithRetry(ctx, m.client, params)
		if err != nil {
			return nil, err
		}
		lastOut = resp.OutputText()
		if err := decodeModelJSON(lastOut, &out); err != nil {
			if attempt == 0 && isRecoverableModelJSONError(err) {
				continue
			}
			return nil, fmt.Errorf("openai merge: unmarshal narrative: %w (model_output_prefix=%q)", err, truncate(lastOut, 500))
		}
		break
	}
	out.TimeRangeLabel = req.TimeRangeLabel
	return &out, nil
}

var _ registrymerge.Collaborator = (*Merger)(nil)
