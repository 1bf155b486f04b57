package agentloop

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/martinemde/gitpilot/unifiedllm"
)

// DefaultCompactionThreshold is the content length above which a command
// output entry becomes a compaction candidate.
const DefaultCompactionThreshold = 100

const (
	outputMarker    = "\nOutput:"
	fileReadPrefix  = "Git get file contents"
	optimizeRequest = "Optimize messages"
)

// Compactor shrinks bulky transcript entries in place. Implementations never
// change the message count, any role, or the system prompt.
type Compactor interface {
	Compact(ctx context.Context, conv *Conversation) error
}

// Generator produces the model's next reply for a transcript.
type Generator interface {
	Generate(ctx context.Context, messages []unifiedllm.Message, params unifiedllm.GenerateParams) (string, error)
}

// isCompactable reports whether content is a command output entry long
// enough to shrink. File reads are left alone.
func isCompactable(content string, threshold int) bool {
	return strings.Contains(content, outputMarker) &&
		!strings.HasPrefix(content, fileReadPrefix) &&
		len(content) > threshold
}

// TruncateMiddle keeps the first and last keep runes of s and joins them
// with an ellipsis.
func TruncateMiddle(s string, keep int) string {
	runes := []rune(s)
	if len(runes) <= 2*keep+3 {
		return s
	}
	return string(runes[:keep]) + "..." + string(runes[len(runes)-keep:])
}

// NopCompactor leaves the conversation untouched.
type NopCompactor struct{}

func (NopCompactor) Compact(context.Context, *Conversation) error { return nil }

// TruncatingCompactor shortens every qualifying entry to its head and tail.
type TruncatingCompactor struct {
	Threshold int
	Keep      int
}

// NewTruncatingCompactor uses the default threshold and keeps half of it on
// each side.
func NewTruncatingCompactor() *TruncatingCompactor {
	return &TruncatingCompactor{Threshold: DefaultCompactionThreshold, Keep: DefaultCompactionThreshold / 2}
}

func (c *TruncatingCompactor) Compact(_ context.Context, conv *Conversation) error {
	for i := 1; i < conv.Len(); i++ {
		m := conv.At(i)
		if m.reviewed || !isCompactable(m.Content, c.Threshold) {
			continue
		}
		conv.rewrite(i, TruncateMiddle(m.Content, c.Keep))
	}
	return nil
}

// ModelCompactor asks the model about each qualifying entry, carrying a
// running context of the entries kept so far. A long reply means the entry
// is too bulky and it is truncated; a short one keeps it verbatim. If the
// model call fails the entry is truncated.
type ModelCompactor struct {
	gen       Generator
	params    unifiedllm.GenerateParams
	threshold int
	keep      int
	logger    *zap.Logger
}

// NewModelCompactor creates a model-assisted compactor.
func NewModelCompactor(gen Generator, params unifiedllm.GenerateParams, threshold int, logger *zap.Logger) *ModelCompactor {
	if threshold <= 0 {
		threshold = DefaultCompactionThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModelCompactor{gen: gen, params: params, threshold: threshold, keep: threshold / 2, logger: logger}
}

func (c *ModelCompactor) Compact(ctx context.Context, conv *Conversation) error {
	var running strings.Builder
	rewritten := 0
	for i := 1; i < conv.Len(); i++ {
		m := conv.At(i)
		if !isCompactable(m.Content, c.threshold) {
			continue
		}
		if m.reviewed {
			running.WriteString(m.Content)
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		candidate := running.String() + m.Content
		reply, err := c.gen.Generate(ctx, []unifiedllm.Message{
			unifiedllm.AssistantMessage(candidate),
			unifiedllm.AssistantMessage(optimizeRequest),
		}, c.params)
		if err != nil {
			c.logger.Warn("compaction model call failed, truncating", zap.Int("index", i), zap.Error(err))
		}
		if err != nil || len(reply) > c.threshold {
			short := TruncateMiddle(m.Content, c.keep)
			conv.rewrite(i, short)
			running.WriteString(short)
			rewritten++
			continue
		}
		conv.markReviewed(i)
		running.Reset()
		running.WriteString(candidate)
	}
	if rewritten > 0 {
		c.logger.Debug("compacted conversation", zap.Int("rewritten", rewritten), zap.Int("messages", conv.Len()))
	}
	return nil
}

// ParseCompactor builds a compactor by name: "model", "truncate" or "off".
func ParseCompactor(name string, gen Generator, params unifiedllm.GenerateParams, threshold int, logger *zap.Logger) (Compactor, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "model":
		return NewModelCompactor(gen, params, threshold, logger), nil
	case "truncate":
		c := NewTruncatingCompactor()
		if threshold > 0 {
			c.Threshold, c.Keep = threshold, threshold/2
		}
		return c, nil
	case "off", "none":
		return NopCompactor{}, nil
	default:
		return nil, fmt.Errorf("unknown compaction mode %q", name)
	}
}
