package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	FingerprintDBPath *string          `json:"fingerprint_db_path"`
	Audio             *jsoncAudio      `json:"audio"`
	Model             *jsoncModel      `json:"model"`
	DOA               *jsoncDOA        `json:"doa"`
	Evidence          *jsoncEvidence   `json:"evidence"`
	Webhook           *jsoncWebhook    `json:"webhook"`
	QuietHours        *jsoncQuietHours `json:"quiet_hours"`
}

type jsoncAudio struct {
	DeviceName    *string  `json:"device_name"`
	SampleRate    *int     `json:"sample_rate"`
	Channels      *int     `json:"channels"`
	ChunkSize     *int     `json:"chunk_size"`
	VolumePercent *int     `json:"volume_percent"`
	BufferSeconds *float64 `json:"buffer_seconds"`
}

type jsoncModel struct {
	UseCLAP           *bool            `json:"use_clap"`
	ClapThreshold     *float64         `json:"clap_threshold"`
	BirdVetoThreshold *float64         `json:"bird_veto_threshold"`
	MinHarmonicRatio  *float64         `json:"min_harmonic_ratio"`
	HarmonicEnabled   *bool            `json:"harmonic_enabled"`
	VADEnabled        *bool            `json:"vad_enabled"`
	VADThresholdDB    *float64         `json:"vad_threshold_db"`
	TaggerEnabled     *bool            `json:"tagger_enabled"`
	TaggerThreshold   *float64         `json:"tagger_threshold"`
	PositiveLabels    *jsoncStringList `json:"positive_labels"`
	NegativeLabels    *jsoncStringList `json:"negative_labels"`
	BirdLabels        *jsoncStringList `json:"bird_labels"`
	TargetSampleRate  *int             `json:"target_sample_rate"`
	OnnxLibPath       *string          `json:"onnx_lib_path"`
	ClassifierModel   *string          `json:"classifier_model"`
	TaggerModel       *string          `json:"tagger_model"`
	EmbedderModel     *string          `json:"embedder_model"`
	EmbeddingDim      *int             `json:"embedding_dim"`
}

type jsoncDOA struct {
	Enabled        *bool    `json:"enabled"`
	ElementSpacing *float64 `json:"element_spacing"`
	NumElements    *int     `json:"num_elements"`
	AngleMin       *int     `json:"angle_min"`
	AngleMax       *int     `json:"angle_max"`
	Method         *string  `json:"method"`
}

type jsoncEvidence struct {
	Directory            *string  `json:"directory"`
	PastContextSeconds   *float64 `json:"past_context_seconds"`
	FutureContextSeconds *float64 `json:"future_context_seconds"`
	IncludeMetadata      *bool    `json:"include_metadata"`
	AutoRecord           *bool    `json:"auto_record"`
}

type jsoncWebhook struct {
	Enabled         *bool             `json:"enabled"`
	IFTTTEvent      *string           `json:"ifttt_event"`
	IFTTTKey        *string           `json:"ifttt_key"`
	CustomURL       *string           `json:"custom_url"`
	CustomHeaders   map[string]string `json:"custom_headers"`
	CustomAuthToken *string           `json:"custom_auth_token"`
	TimeoutSeconds  *int              `json:"timeout_seconds"`
	RetryCount      *int              `json:"retry_count"`
	DebounceSeconds *int              `json:"debounce_seconds"`
}

type jsoncQuietHours struct {
	Enabled       *bool    `json:"enabled"`
	Start         *string  `json:"start"`
	End           *string  `json:"end"`
	Threshold     *float64 `json:"threshold"`
	Notifications *bool    `json:"notifications"`
	Timezone      *string  `json:"timezone"`
}

type jsoncStringList []string

func (l *jsoncStringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		parts := strings.Split(single, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			out = append(out, part)
		}
		*l = out
		return nil
	}

	return fmt.Errorf("expected string array or comma-delimited string")
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	warnings = append(warnings, validatedWarnings...)
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if payload.FingerprintDBPath != nil {
		cfg.FingerprintDBPath = *payload.FingerprintDBPath
	}

	if a := payload.Audio; a != nil {
		if a.DeviceName != nil {
			cfg.Audio.DeviceName = strings.TrimSpace(*a.DeviceName)
		}
		if a.SampleRate != nil {
			cfg.Audio.SampleRate = *a.SampleRate
		}
		if a.Channels != nil {
			cfg.Audio.Channels = *a.Channels
		}
		if a.ChunkSize != nil {
			cfg.Audio.ChunkSize = *a.ChunkSize
		}
		if a.VolumePercent != nil {
			cfg.Audio.VolumePercent = *a.VolumePercent
		}
		if a.BufferSeconds != nil {
			cfg.Audio.BufferSeconds = *a.BufferSeconds
		}
	}

	if m := payload.Model; m != nil {
		if m.UseCLAP != nil {
			cfg.Model.UseCLAP = *m.UseCLAP
		}
		if m.ClapThreshold != nil {
			cfg.Model.ClapThreshold = *m.ClapThreshold
		}
		if m.BirdVetoThreshold != nil {
			cfg.Model.BirdVetoThreshold = *m.BirdVetoThreshold
		}
		if m.MinHarmonicRatio != nil {
			cfg.Model.MinHarmonicRatio = *m.MinHarmonicRatio
		}
		if m.HarmonicEnabled != nil {
			cfg.Model.HarmonicEnabled = *m.HarmonicEnabled
		}
		if m.VADEnabled != nil {
			cfg.Model.VADEnabled = *m.VADEnabled
		}
		if m.VADThresholdDB != nil {
			cfg.Model.VADThresholdDB = *m.VADThresholdDB
		}
		if m.TaggerEnabled != nil {
			cfg.Model.TaggerEnabled = *m.TaggerEnabled
		}
		if m.TaggerThreshold != nil {
			cfg.Model.TaggerThreshold = *m.TaggerThreshold
		}
		if m.PositiveLabels != nil {
			cfg.Model.PositiveLabels = append([]string(nil), (*m.PositiveLabels)...)
		}
		if m.NegativeLabels != nil {
			cfg.Model.NegativeLabels = append([]string(nil), (*m.NegativeLabels)...)
		}
		if m.BirdLabels != nil {
			cfg.Model.BirdLabels = append([]string(nil), (*m.BirdLabels)...)
		}
		if m.TargetSampleRate != nil {
			cfg.Model.TargetSampleRate = *m.TargetSampleRate
		}
		if m.OnnxLibPath != nil {
			cfg.Model.OnnxLibPath = *m.OnnxLibPath
		}
		if m.ClassifierModel != nil {
			cfg.Model.ClassifierModel = *m.ClassifierModel
		}
		if m.TaggerModel != nil {
			cfg.Model.TaggerModel = *m.TaggerModel
		}
		if m.EmbedderModel != nil {
			cfg.Model.EmbedderModel = *m.EmbedderModel
		}
		if m.EmbeddingDim != nil {
			cfg.Model.EmbeddingDim = *m.EmbeddingDim
		}
	}

	if d := payload.DOA; d != nil {
		if d.Enabled != nil {
			cfg.DOA.Enabled = *d.Enabled
		}
		if d.ElementSpacing != nil {
			cfg.DOA.ElementSpacing = *d.ElementSpacing
		}
		if d.NumElements != nil {
			cfg.DOA.NumElements = *d.NumElements
		}
		if d.AngleMin != nil {
			cfg.DOA.AngleMin = *d.AngleMin
		}
		if d.AngleMax != nil {
			cfg.DOA.AngleMax = *d.AngleMax
		}
		if d.Method != nil {
			cfg.DOA.Method = strings.ToLower(strings.TrimSpace(*d.Method))
		}
	}

	if e := payload.Evidence; e != nil {
		if e.Directory != nil {
			cfg.Evidence.Directory = strings.TrimSpace(*e.Directory)
		}
		if e.PastContextSeconds != nil {
			cfg.Evidence.PastContextSeconds = *e.PastContextSeconds
		}
		if e.FutureContextSeconds != nil {
			cfg.Evidence.FutureContextSeconds = *e.FutureContextSeconds
		}
		if e.IncludeMetadata != nil {
			cfg.Evidence.IncludeMetadata = *e.IncludeMetadata
		}
		if e.AutoRecord != nil {
			cfg.Evidence.AutoRecord = *e.AutoRecord
		}
	}

	if w := payload.Webhook; w != nil {
		if w.Enabled != nil {
			cfg.Webhook.Enabled = *w.Enabled
		}
		if w.IFTTTEvent != nil {
			cfg.Webhook.IFTTTEvent = *w.IFTTTEvent
		}
		if w.IFTTTKey != nil {
			cfg.Webhook.IFTTTKey = *w.IFTTTKey
		}
		if w.CustomURL != nil {
			cfg.Webhook.CustomURL = *w.CustomURL
		}
		if w.CustomHeaders != nil {
			cfg.Webhook.CustomHeaders = w.CustomHeaders
		}
		if w.CustomAuthToken != nil {
			cfg.Webhook.CustomAuthToken = *w.CustomAuthToken
		}
		if w.TimeoutSeconds != nil {
			cfg.Webhook.TimeoutSeconds = *w.TimeoutSeconds
		}
		if w.RetryCount != nil {
			cfg.Webhook.RetryCount = *w.RetryCount
		}
		if w.DebounceSeconds != nil {
			cfg.Webhook.DebounceSeconds = *w.DebounceSeconds
		}
	}

	if q := payload.QuietHours; q != nil {
		if q.Enabled != nil {
			cfg.QuietHours.Enabled = *q.Enabled
		}
		if q.Start != nil {
			cfg.QuietHours.Start = *q.Start
		}
		if q.End != nil {
			cfg.QuietHours.End = *q.End
		}
		if q.Threshold != nil {
			cfg.QuietHours.Threshold = *q.Threshold
		}
		if q.Notifications != nil {
			cfg.QuietHours.Notifications = *q.Notifications
		}
		if q.Timezone != nil {
			cfg.QuietHours.Timezone = *q.Timezone
		}
	}

	return warnings, nil
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
