package models

import (
	"math"
	"testing"
)

func TestParamsOmitsUnsetFields(t *testing.T) {
	req := &CompletionRequest{
		Model:    "gpt-4",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}
	p := req.Params()
	for _, k := range []string{"model", "messages", "temperature", "stream"} {
		if _, ok := p[k]; !ok {
			t.Errorf("expected %q in params", k)
		}
	}
	for _, k := range []string{"functions", "extra_headers", "max_tokens"} {
		if _, ok := p[k]; ok {
			t.Errorf("did not expect %q in params", k)
		}
	}
}

func TestParamsIncludesSuppliedFields(t *testing.T) {
	maxTokens := 256
	req := &CompletionRequest{
		Model:        "gpt-4",
		Messages:     []Message{{Role: RoleUser, Content: "hi"}},
		Functions:    []Function{},
		ExtraHeaders: map[string]string{"X-Trace": "1"},
		MaxTokens:    &maxTokens,
	}
	p := req.Params()
	if _, ok := p["functions"]; !ok {
		t.Error("empty but non-nil functions should be present")
	}
	if p["max_tokens"] != 256 {
		t.Errorf("expected max_tokens 256, got %v", p["max_tokens"])
	}
}

func TestValidate(t *testing.T) {
	msgs := []Message{{Role: RoleUser, Content: "hi"}}
	cases := []struct {
		name string
		req  CompletionRequest
		ok   bool
	}{
		{"valid", CompletionRequest{Model: "m1", Messages: msgs}, true},
		{"missing model", CompletionRequest{Messages: msgs}, false},
		{"no messages", CompletionRequest{Model: "m1"}, false},
		{"nan temperature", CompletionRequest{Model: "m1", Messages: msgs, Temperature: math.NaN()}, false},
		{"inf temperature", CompletionRequest{Model: "m1", Messages: msgs, Temperature: math.Inf(1)}, false},
	}
	for _, tc := range cases {
		err := tc.req.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}
