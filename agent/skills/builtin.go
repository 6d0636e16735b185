package skills

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// TextInput is the input shape shared by the built-in text skills.
type TextInput struct {
	Text     string `json:"text"`
	Encoding string `json:"encoding,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

const embedDimensions = 16

// RegisterBuiltins registers the demo skills shipped with every node.
func RegisterBuiltins(r *Registry) error {
	builtins := []struct {
		def     SkillDefinition
		handler SkillHandler
	}{
		{SkillDefinition{ID: "echo", Name: "Echo", Category: CategoryText, Description: "returns its input"}, echo},
		{SkillDefinition{ID: "uppercase", Name: "Uppercase", Category: CategoryText}, textSkill(strings.ToUpper)},
		{SkillDefinition{ID: "wordcount", Name: "Word count", Category: CategoryText}, wordCount},
		{SkillDefinition{ID: "sha256", Name: "SHA-256", Category: CategoryCompute}, sha256Digest},
		{SkillDefinition{ID: "transcode", Name: "Transcode", Category: CategoryMedia, Description: "re-encodes text as base64 or hex"}, transcode},
		{SkillDefinition{ID: "summarize", Name: "Summarize", Category: CategoryText, Description: "keeps the leading sentences"}, summarize},
		{SkillDefinition{ID: "embed", Name: "Embed", Category: CategoryML, Description: "hashed bag-of-words vector"}, embed},
	}
	for _, b := range builtins {
		if err := r.Register(b.def, b.handler); err != nil {
			return err
		}
	}
	return nil
}

func decodeText(input json.RawMessage) (TextInput, error) {
	var in TextInput
	if len(input) == 0 {
		return in, nil
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return in, fmt.Errorf("decode input: %w", err)
	}
	return in, nil
}

func echo(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
	if len(input) == 0 {
		return json.RawMessage("null"), nil
	}
	return append(json.RawMessage(nil), input...), nil
}

func textSkill(fn func(string) string) SkillHandler {
	return func(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
		in, err := decodeText(input)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"text": fn(in.Text)})
	}
}

func wordCount(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
	in, err := decodeText(input)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]int{"words": len(strings.Fields(in.Text))})
}

func sha256Digest(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
	in, err := decodeText(input)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256([]byte(in.Text))
	return json.Marshal(map[string]string{"digest": hex.EncodeToString(sum[:])})
}

func transcode(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	in, err := decodeText(input)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out string
	switch in.Encoding {
	case "", "base64":
		out = base64.StdEncoding.EncodeToString([]byte(in.Text))
	case "hex":
		out = hex.EncodeToString([]byte(in.Text))
	default:
		return nil, fmt.Errorf("unsupported encoding %q", in.Encoding)
	}
	return json.Marshal(map[string]string{"text": out, "encoding": orDefault(in.Encoding, "base64")})
}

func summarize(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
	in, err := decodeText(input)
	if err != nil {
		return nil, err
	}
	limit := in.Limit
	if limit <= 0 {
		limit = 2
	}

	var sentences []string
	start := 0
	for i, r := range in.Text {
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(in.Text[start : i+1]); s != "" {
				sentences = append(sentences, s)
			}
			start = i + 1
		}
	}
	if tail := strings.TrimSpace(in.Text[start:]); tail != "" {
		sentences = append(sentences, tail)
	}
	if len(sentences) > limit {
		sentences = sentences[:limit]
	}
	return json.Marshal(map[string]string{"summary": strings.Join(sentences, " ")})
}

func embed(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
	in, err := decodeText(input)
	if err != nil {
		return nil, err
	}

	vec := make([]float64, embedDimensions)
	words := strings.FieldsFunc(strings.ToLower(in.Text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%embedDimensions]++
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return json.Marshal(map[string][]float64{"vector": vec})
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
