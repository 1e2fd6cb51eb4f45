package tts

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Sampling defaults applied to zero-valued request fields.
const (
	DefaultSpeed             = 1.0
	DefaultTemperature       = 1.0
	DefaultTopP              = 0.8
	DefaultTopK              = 20
	DefaultRepetitionPenalty = 1.0
	DefaultMaxTextLength     = 5000
)

// Limits bounds request parameters.
type Limits struct {
	MaxTextLength int
}

// ApplyDefaults fills unset sampling fields with their defaults.
func (r *Request) ApplyDefaults() {
	if r.Voice == "" {
		r.Voice = "default"
	}
	if r.Emotion == "" {
		r.Emotion = "default"
	}
	if r.Speed == 0 {
		r.Speed = DefaultSpeed
	}
	if r.Temperature == 0 {
		r.Temperature = DefaultTemperature
	}
	if r.TopP == 0 {
		r.TopP = DefaultTopP
	}
	if r.TopK == 0 {
		r.TopK = DefaultTopK
	}
	if r.RepetitionPenalty == 0 {
		r.RepetitionPenalty = DefaultRepetitionPenalty
	}
}

// Validate checks r against limits. It returns an INVALID_REQUEST error
// naming the offending field.
func (r *Request) Validate(limits Limits) error {
	max := limits.MaxTextLength
	if max <= 0 {
		max = DefaultMaxTextLength
	}

	if strings.TrimSpace(r.Text) == "" {
		return invalid("input", "text cannot be empty")
	}
	if n := utf8.RuneCountInString(r.Text); n > max {
		return invalid("input", fmt.Sprintf("text too long: %d characters (max %d)", n, max))
	}
	if r.Speed < 0.5 || r.Speed > 2.0 {
		return invalid("speed", "speed must be between 0.5 and 2.0")
	}
	if r.Temperature < 0.1 || r.Temperature > 2.0 {
		return invalid("temperature", "temperature must be between 0.1 and 2.0")
	}
	if r.TopP < 0 || r.TopP > 1 {
		return invalid("top_p", "top_p must be between 0 and 1")
	}
	if r.TopK < 1 || r.TopK > 100 {
		return invalid("top_k", "top_k must be between 1 and 100")
	}
	if r.RepetitionPenalty < 0.1 || r.RepetitionPenalty > 2.0 {
		return invalid("repetition_penalty", "repetition_penalty must be between 0.1 and 2.0")
	}
	return nil
}

func invalid(field, msg string) error {
	return NewTTSError(ErrorCodeInvalidRequest, msg, nil).WithContext("field", field)
}
