package validation

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aws-agent/verity/internal/models"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		req    EvaluateRequest
		fields []string
	}{
		{
			name: "valid",
			req:  EvaluateRequest{Query: " q ", Candidate: "a", Mode: "Light"},
		},
		{
			name:   "missing query and candidate",
			req:    EvaluateRequest{},
			fields: []string{"query", "candidate"},
		},
		{
			name:   "regenerate still needs a candidate",
			req:    EvaluateRequest{Query: "q", Regenerate: true},
			fields: []string{"candidate"},
		},
		{
			name:   "bad similarity and mode",
			req:    EvaluateRequest{Query: "q", Candidate: "a", Mode: "turbo", Evidence: []models.Evidence{{Text: "x", Similarity: 1.5}}},
			fields: []string{"evidence[0].similarity", "mode"},
		},
		{
			name:   "query too long",
			req:    EvaluateRequest{Query: strings.Repeat("x", 5001), Candidate: "a"},
			fields: []string{"query"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(Config{}, &tt.req)
			if len(tt.fields) == 0 {
				require.NoError(t, err)
				return
			}
			var errs Errors
			require.ErrorAs(t, err, &errs)
			var got []string
			for _, e := range errs {
				got = append(got, e.Field)
			}
			assert.Equal(t, tt.fields, got)
		})
	}
}

func TestValidate_Normalises(t *testing.T) {
	req := EvaluateRequest{Query: "  q\x00 ", Candidate: "a", Mode: " AGGRESSIVE "}
	require.NoError(t, Validate(Config{}, &req))
	assert.Equal(t, "q", req.Query)
	assert.Equal(t, "aggressive", req.Mode)
}

func TestMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(Middleware(Config{}))
	app.Post("/evaluate", func(c *fiber.Ctx) error {
		req := c.Locals(LocalsKey).(*EvaluateRequest)
		return c.SendString(req.Query)
	})

	post := func(body, ct string) (int, string) {
		r := httptest.NewRequest("POST", "/evaluate", strings.NewReader(body))
		r.Header.Set("Content-Type", ct)
		resp, err := app.Test(r)
		require.NoError(t, err)
		b, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(b)
	}

	status, body := post(`{"query":" hello ","candidate":"x"}`, "application/json")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "hello", body)

	status, _ = post(`{"query":`, "application/json")
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = post(`{"candidate":"x"}`, "application/json")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body, `"field":"query"`)

	status, _ = post(`query=x`, "application/x-www-form-urlencoded")
	assert.Equal(t, fiber.StatusUnsupportedMediaType, status)
}
