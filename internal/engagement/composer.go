package engagement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tasseo/internal/types"
)

// FlagLLMEnabled is the app_config key that switches LLM-written copy on.
const FlagLLMEnabled = "engagement.llm_enabled"

const defaultLLMTimeout = 20 * time.Second

// LLM produces a completion for a conversation. external.BedrockClient
// satisfies it.
type LLM interface {
	Invoke(ctx context.Context, messages []types.LLMMessage) (*types.LLMCompletion, error)
}

// FeatureFlags reads boolean runtime switches. settings.Cache satisfies it.
type FeatureFlags interface {
	Bool(ctx context.Context, key string, def bool) bool
}

// Composer writes engagement messages. It asks the LLM first and falls back
// to the static pool whenever the LLM is disabled, fails, times out or
// returns nothing. Composition never fails because of the LLM.
type Composer struct {
	llm        LLM
	flags      FeatureFlags
	pool       *FallbackPool
	clock      types.Clock
	logger     *slog.Logger
	llmTimeout time.Duration
}

// NewComposer creates a Composer. llm and flags may be nil, which disables
// the LLM path.
func NewComposer(llm LLM, flags FeatureFlags, pool *FallbackPool, clock types.Clock, logger *slog.Logger) *Composer {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{
		llm:        llm,
		flags:      flags,
		pool:       pool,
		clock:      clock,
		logger:     logger,
		llmTimeout: defaultLLMTimeout,
	}
}

// Compose writes the message of type mt for r.
func (c *Composer) Compose(ctx context.Context, mt types.MessageType, r types.Recipient) (string, error) {
	switch mt {
	case types.MessageInactiveReminder:
		return c.CreateInactiveReminderMessage(ctx, r.DisplayName, r.LanguageCode)
	case types.MessageWeeklyCheckIn:
		return c.CreateWeeklyCheckInMessage(ctx, r.DisplayName, r.LanguageCode)
	case types.MessageDailyFortune:
		return c.CreateDailyFortuneMessage(ctx, r.DisplayName, r.LanguageCode)
	case types.MessageMorningInsight:
		return c.CreateInsightMessage(ctx, types.InsightMorning, r.DisplayName, r.LanguageCode)
	case types.MessageEveningInsight:
		return c.CreateInsightMessage(ctx, types.InsightEvening, r.DisplayName, r.LanguageCode)
	}
	return "", types.NewAppError(types.ErrCodeValidationMessageType, fmt.Sprintf("unknown message type %q", mt), nil)
}

// CreateInactiveReminderMessage writes a "we missed you" reminder.
func (c *Composer) CreateInactiveReminderMessage(ctx context.Context, name, lang string) (string, error) {
	return c.create(ctx, types.MessageInactiveReminder, name, lang)
}

// CreateWeeklyCheckInMessage writes the Monday check-in.
func (c *Composer) CreateWeeklyCheckInMessage(ctx context.Context, name, lang string) (string, error) {
	return c.create(ctx, types.MessageWeeklyCheckIn, name, lang)
}

// CreateDailyFortuneMessage writes the fortune of the day.
func (c *Composer) CreateDailyFortuneMessage(ctx context.Context, name, lang string) (string, error) {
	return c.create(ctx, types.MessageDailyFortune, name, lang)
}

// CreateInsightMessage writes the morning or evening insight.
func (c *Composer) CreateInsightMessage(ctx context.Context, kind types.InsightKind, name, lang string) (string, error) {
	return c.create(ctx, kind.MessageType(), name, lang)
}

func (c *Composer) create(ctx context.Context, mt types.MessageType, name, lang string) (string, error) {
	if text, ok := c.fromLLM(ctx, mt, name, lang); ok {
		return text, nil
	}
	return c.pool.Render(mt, name, lang, c.clock.Now())
}

func (c *Composer) fromLLM(ctx context.Context, mt types.MessageType, name, lang string) (string, bool) {
	if c.llm == nil || c.flags == nil || !c.flags.Bool(ctx, FlagLLMEnabled, false) {
		return "", false
	}

	llmCtx, cancel := context.WithTimeout(ctx, c.llmTimeout)
	defer cancel()

	completion, err := c.llm.Invoke(llmCtx, []types.LLMMessage{{
		Role:    types.RoleUser,
		Content: prompt(mt, name, lang),
	}})
	if err != nil {
		c.logger.WarnContext(ctx, "llm composition failed, using fallback",
			"message_type", mt,
			"error", err,
		)
		return "", false
	}
	text := strings.TrimSpace(completion.Content)
	if text == "" {
		c.logger.WarnContext(ctx, "llm returned empty message, using fallback", "message_type", mt)
		return "", false
	}
	return text, true
}

var prompts = map[types.MessageType]string{
	types.MessageInactiveReminder: "Write a short, warm message inviting %s back for a coffee cup reading. They have not visited for a week.",
	types.MessageWeeklyCheckIn:    "Write a short Monday check-in for %s asking how their week starts and inviting a new coffee cup reading.",
	types.MessageDailyFortune:     "Write a one-paragraph fortune of the day for %s in the style of a coffee ground reader.",
	types.MessageMorningInsight:   "Write a short, uplifting morning insight for %s in the style of a coffee ground reader.",
	types.MessageEveningInsight:   "Write a short, calming evening insight for %s in the style of a coffee ground reader.",
}

func prompt(mt types.MessageType, name, lang string) string {
	if strings.TrimSpace(name) == "" {
		name = "the user"
	}
	reply := "Russian"
	if strings.HasPrefix(strings.ToLower(lang), "en") {
		reply = "English"
	}
	return fmt.Sprintf(prompts[mt], name) +
		fmt.Sprintf(" Answer in %s, at most three sentences, no greeting formulas, no markdown.", reply)
}
