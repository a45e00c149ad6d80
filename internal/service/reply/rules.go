package reply

import (
	"context"
	"fmt"
	"strings"

	"github.com/fortisvoice/backend/internal/analysis/language"
	"github.com/fortisvoice/backend/internal/model/chat"
)

type cannedRule struct {
	name     string
	triggers []string
	english  string
	urdu     string
}

// Checked in order; the first rule with a matching trigger answers.
var cannedRules = []cannedRule{
	{
		name:     "greeting",
		triggers: []string{"hello", "hi", "hey", "salam", "assalam", "asalam", "aoa", "سلام", "السلام"},
		english:  "Hello! How can I help you today?",
		urdu:     "وعلیکم السلام! میں آپ کی کیا مدد کر سکتا ہوں؟",
	},
	{
		name:     "thanks",
		triggers: []string{"thanks", "thank you", "thx", "shukriya", "meherbani", "شکریہ", "مہربانی"},
		english:  "You're welcome! Anything else I can help with?",
		urdu:     "کوئی بات نہیں! کیا میں کسی اور چیز میں مدد کر سکتا ہوں؟",
	},
	{
		name:     "identity",
		triggers: []string{"who are you", "your name", "what are you", "aap kaun", "kaun ho", "kon ho", "آپ کون", "تم کون"},
		english:  "I'm FortisVoice, a chat assistant you can talk to by text or voice.",
		urdu:     "میں فورٹس وائس ہوں، ایک چیٹ اسسٹنٹ جس سے آپ لکھ کر یا بول کر بات کر سکتے ہیں۔",
	},
	{
		name:     "voice",
		triggers: []string{"voice", "mic", "microphone", "speak", "record", "awaz", "awaaz", "آواز", "مائیک"},
		english:  "Tap the mic button, speak, and I'll turn your words into a message. Use the speaker button to hear my last reply.",
		urdu:     "مائیک کا بٹن دبائیں اور بولیں، میں آپ کی بات کو پیغام میں بدل دوں گا۔ میرا آخری جواب سننے کے لیے اسپیکر کا بٹن دبائیں۔",
	},
	{
		name:     "farewell",
		triggers: []string{"bye", "goodbye", "see you", "khuda hafiz", "allah hafiz", "alvida", "خدا حافظ", "اللہ حافظ"},
		english:  "Goodbye! Come back any time.",
		urdu:     "خدا حافظ! جب چاہیں دوبارہ آئیں۔",
	},
}

// Rules answers from a fixed table of canned replies in English or Urdu.
type Rules struct{}

// NewRules returns the deterministic engine.
func NewRules() *Rules {
	return &Rules{}
}

// GenerateReply ignores history; the answer depends only on utterance.
func (r *Rules) GenerateReply(_ context.Context, _ []chat.Message, utterance string) string {
	lang := language.Detect(utterance)
	if rule, ok := matchRule(utterance); ok {
		return pick(lang, rule.english, rule.urdu)
	}

	echo := strings.TrimSpace(utterance)
	if lang == language.Urdu {
		return fmt.Sprintf("آپ نے کہا: \"%s\"۔ کیا آپ مختصر جواب چاہتے ہیں یا تفصیلی؟", echo)
	}
	return fmt.Sprintf("You said: \"%s\". Would you like a short answer or a detailed one?", echo)
}

// Rule reports the name of the canned rule utterance would trigger, or
// "echo" when none applies.
func (r *Rules) Rule(utterance string) string {
	if rule, ok := matchRule(utterance); ok {
		return rule.name
	}
	return "echo"
}

func matchRule(utterance string) (cannedRule, bool) {
	phrase := " " + strings.Join(language.Words(utterance), " ") + " "
	for _, rule := range cannedRules {
		if rule.matches(phrase) {
			return rule, true
		}
	}
	return cannedRule{}, false
}

func (c cannedRule) matches(phrase string) bool {
	for _, trigger := range c.triggers {
		if strings.Contains(phrase, " "+trigger+" ") {
			return true
		}
	}
	return false
}

func pick(lang language.Language, english, urdu string) string {
	if lang == language.Urdu {
		return urdu
	}
	return english
}
