package tts

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_ApplyDefaults(t *testing.T) {
	r := Request{Text: "hi"}
	r.ApplyDefaults()

	assert.Equal(t, "default", r.Voice)
	assert.Equal(t, "default", r.Emotion)
	assert.Equal(t, 1.0, r.Speed)
	assert.Equal(t, 1.0, r.Temperature)
	assert.Equal(t, 0.8, r.TopP)
	assert.Equal(t, 20, r.TopK)
	assert.Equal(t, 1.0, r.RepetitionPenalty)
	require.NoError(t, r.Validate(Limits{}))
}

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Request)
		field  string
	}{
		{"empty text", func(r *Request) { r.Text = "   " }, "input"},
		{"text too long", func(r *Request) { r.Text = strings.Repeat("语", 11) }, "input"},
		{"speed too low", func(r *Request) { r.Speed = 0.4 }, "speed"},
		{"speed too high", func(r *Request) { r.Speed = 2.1 }, "speed"},
		{"temperature", func(r *Request) { r.Temperature = 3 }, "temperature"},
		{"top_p", func(r *Request) { r.TopP = 1.5 }, "top_p"},
		{"top_k", func(r *Request) { r.TopK = 101 }, "top_k"},
		{"repetition_penalty", func(r *Request) { r.RepetitionPenalty = 0.05 }, "repetition_penalty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Request{Text: "hello"}
			r.ApplyDefaults()
			tt.modify(&r)

			err := r.Validate(Limits{MaxTextLength: 10})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRequest))

			var te *TTSError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tt.field, te.Context["field"])
		})
	}
}

func TestRequest_ValidateCountsRunes(t *testing.T) {
	r := Request{Text: strings.Repeat("语", 10)}
	r.ApplyDefaults()
	assert.NoError(t, r.Validate(Limits{MaxTextLength: 10}))
}
