package command

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

// rule is one (predicate, extractor) pair of the fallback cascade.
type rule struct {
	name    string
	pattern *regexp.Regexp
	extract func(m []string, utterance string) Command
}

// Cascade is the pattern-based fallback classifier. Rules are evaluated in
// declaration order and the first match wins; several later rules are
// deliberately broader supersets of earlier ones, so the order is part of
// the behavior.
type Cascade struct {
	rules []rule
}

// NewCascade returns the cascade with the built-in rule table.
func NewCascade() *Cascade {
	return &Cascade{rules: buildRules()}
}

// Classify never abstains: unmatched text is None.
func (c *Cascade) Classify(_ context.Context, text string) Result {
	cmd, _ := c.Match(text)
	return Result{Command: cmd}
}

// Match returns the command and the name of the rule that produced it.
// The rule name is empty when nothing matched.
func (c *Cascade) Match(text string) (Command, string) {
	utterance := trimTrailingPunct(strings.TrimSpace(text))
	if utterance == "" {
		return Command{Kind: None}, ""
	}
	normalized := stripPoliteness(utterance)

	for _, r := range c.rules {
		m := r.pattern.FindStringSubmatch(normalized)
		if m == nil {
			continue
		}
		cmd := r.extract(m, utterance)
		if cmd.Kind == None {
			continue
		}
		return cmd, r.name
	}
	return Command{Kind: None}, ""
}

// RuleNames lists the rules in evaluation order.
func (c *Cascade) RuleNames() []string {
	names := make([]string, len(c.rules))
	for i, r := range c.rules {
		names[i] = r.name
	}
	return names
}

const (
	todoNoun = `(?:to-?dos?|todo\s+list|to[\s-]do\s+list|tasks?|task\s+list)`
	owner    = `(?:my\s+|the\s+)?`
)

func re(pattern string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + pattern)
}

// content builds an extractor that puts capture group 1 into Content.
func content(kind Kind) func([]string, string) Command {
	return func(m []string, _ string) Command {
		c := normalizeContent(m[1])
		if c == "" {
			return Command{Kind: None}
		}
		return Command{Kind: kind, Content: c}
	}
}

func fixed(kind Kind) func([]string, string) Command {
	return func([]string, string) Command { return Command{Kind: kind} }
}

func device(kind Kind) func([]string, string) Command {
	return func(m []string, _ string) Command {
		d := normalizeContent(strings.TrimPrefix(strings.TrimSpace(m[1]), "my "))
		if d == "" {
			return Command{Kind: None}
		}
		return Command{Kind: kind, Device: d}
	}
}

// liveSearch uses the whole utterance as the query.
func liveSearch(_ []string, utterance string) Command {
	return Command{Kind: SearchWeb, Query: utterance}
}

func explicitSearch(m []string, _ string) Command {
	q := normalizeContent(m[1])
	if q == "" {
		return Command{Kind: None}
	}
	return Command{Kind: SearchWeb, Query: q}
}

func setTemperature(m []string, _ string) Command {
	v, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return Command{Kind: None}
	}
	d := normalizeContent(m[1])
	if d == "" {
		return Command{Kind: None}
	}
	return Command{Kind: DeviceSetTemperature, Device: d, Value: v, Unit: normalizeUnit(m[3])}
}

func buildRules() []rule {
	return []rule{
		// Clearing and reading the workspace.
		{"clear_todos", re(`^(?:clear|delete|remove|wipe|erase|empty)\s+(?:out\s+)?(?:all\s+(?:of\s+)?)?` + owner + todoNoun + `$`), fixed(ClearTodos)},
		{"clear_notes", re(`^(?:clear|delete|remove|wipe|erase|empty)\s+(?:out\s+)?(?:all\s+(?:of\s+)?)?` + owner + `notes?$`), fixed(ClearNotes)},
		{"read_todos", re(`^(?:what(?:'s|\s+is|\s+are)\s+on\s+` + owner + todoNoun + `|what\s+are\s+my\s+tasks|(?:read|show|list|tell)\s+(?:me\s+)?` + owner + todoNoun + `|what\s+do\s+i\s+(?:have|need)\s+to\s+do)(?:\s+today)?$`), fixed(ReadTodos)},
		{"read_notes", re(`^(?:what(?:'s|\s+is|\s+are)\s+in\s+my\s+notes|(?:read|show|list|tell)\s+(?:me\s+)?` + owner + `notes)$`), fixed(ReadNotes)},

		// Completing todos, most specific phrasing first.
		{"complete_todo_mark_done", re(`^(?:mark|check\s+off|cross\s+off|tick\s+off)\s+(.+?)\s+(?:as\s+)?(?:done|complete|completed|finished)$`), content(CompleteTodo)},
		{"complete_todo_named", re(`^(?:complete|finish|check\s+off|cross\s+off|tick\s+off)\s+(?:the\s+)?(?:to-?do|task|item)\s+(.+)$`), content(CompleteTodo)},
		{"complete_todo_off_list", re(`^(?:check|cross|tick)\s+(.+?)\s+off\s+` + owner + `(?:to-?do\s+|todo\s+|task\s+)?list$`), content(CompleteTodo)},

		// Adding todos: explicit forms before reminders before the last resort.
		{"add_todo_explicit", re(`^(?:add|create|make|new)\s+(?:a\s+)?(?:new\s+)?(?:to-?do|todo|task)(?:\s+item)?(?:\s*[:,-]\s*|\s+to\s+|\s+)(.+)$`), content(AddTodo)},
		{"add_todo_to_todo_list", re(`^(?:add|put|write)\s+(.+?)\s+(?:to|on|onto)\s+` + owner + todoNoun + `$`), content(AddTodo)},
		{"add_todo_to_list", re(`^(?:add|put)\s+(.+?)\s+(?:to|on|onto)\s+` + owner + `(?:shopping\s+|grocery\s+)?list$`), content(AddTodo)},
		{"add_todo_remind", re(`^remind\s+me\s+(?:to|about|of)\s+(.+)$`), content(AddTodo)},
		{"add_todo_remember", re(`^(?:i\s+)?(?:need|have|got)\s+to\s+remember\s+to\s+(.+)$`), content(AddTodo)},
		{"add_todo_dont_forget", re(`^don'?t\s+let\s+me\s+forget\s+(?:to\s+)?(.+)$`), content(AddTodo)},

		// Notes and data logging.
		{"add_note_explicit", re(`^(?:take|make|add|create|write)\s+(?:a\s+)?note(?:\s*[:,-]\s*|\s+that\s+|\s+saying\s+|\s+)(.+)$`), content(AddNote)},
		{"add_note_short", re(`^(?:note|jot\s+down|write\s+down)(?:\s+that)?(?:\s*[:,-]\s*|\s+)(.+)$`), content(AddNote)},
		{"add_note_to_notes", re(`^(?:add|put|save)\s+(.+?)\s+(?:to|in|into)\s+` + owner + `notes$`), content(AddNote)},
		{"log_data", re(`^(?:log|record)\s+(?:that\s+)?(.+)$`), content(LogData)},

		// Vision.
		{"open_eyes", re(`^(?:open|turn\s+on|enable|start|activate)\s+(?:your\s+|the\s+)?(?:eyes|camera|vision)$`), fixed(OpenEyes)},
		{"close_eyes", re(`^(?:close|turn\s+off|disable|stop|deactivate)\s+(?:your\s+|the\s+)?(?:eyes|camera|vision)$`), fixed(CloseEyes)},
		{"describe_view", re(`^(?:what\s+(?:do|can)\s+you\s+see|describe\s+(?:what\s+you\s+see|the\s+(?:view|scene|room))|what(?:'s|\s+is)\s+in\s+front\s+of\s+you|look\s+around)(?:\s+(?:right\s+)?now)?$`), fixed(DescribeView)},
		{"open_workspace", re(`^(?:open|show|launch|bring\s+up)\s+(?:me\s+)?` + owner + `(?:workspace|dashboard|notebook)$`), fixed(OpenWorkspace)},

		// Devices. These precede search so room temperatures are not treated as weather.
		{"device_set_temperature", re(`^(?:set|change|turn|put)\s+(?:the\s+)?(.+?)\s+(?:to|at)\s+(-?\d+(?:\.\d+)?)\s*(?:°\s*|degrees?\s*)?(f|c|fahrenheit|celsius)?$`), setTemperature},
		{"device_list", re(`^(?:(?:list|show)\s+(?:me\s+)?(?:all\s+)?` + owner + `(?:smart\s+home\s+)?devices|what\s+are\s+` + owner + `devices|what\s+devices\s+do\s+i\s+have)$`), fixed(DeviceList)},
		{"device_on_prefix", re(`^(?:turn|switch|power)\s+on\s+(.+)$`), device(DeviceOn)},
		{"device_off_prefix", re(`^(?:turn|switch|power)\s+off\s+(.+)$`), device(DeviceOff)},
		{"device_on_suffix", re(`^(?:turn|switch|power)\s+(.+?)\s+on$`), device(DeviceOn)},
		{"device_off_suffix", re(`^(?:turn|switch|power)\s+(.+?)\s+off$`), device(DeviceOff)},
		{"device_query_is", re(`^is\s+(.+?)\s+(?:on|off|open|closed|locked|unlocked|running)$`), device(DeviceQuery)},
		{"device_query_status", re(`^(?:what(?:'s|\s+is)\s+)?(?:the\s+)?(?:status|state)\s+of\s+(.+)$`), device(DeviceQuery)},
		{"device_query_room_temperature", re(`^what(?:'s|\s+is)\s+the\s+temperature\s+(?:in|of)\s+the\s+(.+)$`), device(DeviceQuery)},

		// Search, tier one: topics that always need live data keep the whole utterance.
		{"search_live_weather", re(`\b(?:weather|forecast|temperature\s+(?:outside|today|tomorrow|in)|going\s+to\s+(?:rain|snow)|will\s+it\s+(?:rain|snow))\b`), liveSearch},
		{"search_live_prices", re(`\b(?:stock\s+price|share\s+price|price\s+of|exchange\s+rate|how\s+much\s+does\s+.+\s+cost|bitcoin)\b`), liveSearch},
		{"search_live_sports", re(`\b(?:who\s+won|final\s+score|score\s+of|standings)\b`), liveSearch},
		{"search_live_news", re(`\b(?:news|headlines|what\s+happened\s+(?:today|yesterday))\b`), liveSearch},
		{"search_live_schedule", re(`\b(?:schedule|what\s+time\s+does|opening\s+hours|showtimes?|flight\s+status|traffic)\b`), liveSearch},

		// Search, tier two: explicit phrasings keep only the payload.
		{"search_explicit", re(`^(?:search|google|look\s+up|lookup|find\s+out)(?:\s+(?:the\s+web|online|the\s+internet))?\s+(?:for\s+|about\s+)?(.+)$`), explicitSearch},
		{"search_check_online", re(`^(?:check|find)\s+online\s+(?:for\s+)?(.+)$`), explicitSearch},

		// Last resort: "<something> to my list".
		{"add_todo_last_resort", re(`^(.+?)\s+(?:to|on)\s+(?:my|the)\s+list$`), content(AddTodo)},
	}
}

var (
	trailingPunct   = regexp.MustCompile(`[\s.!?,;:…]+$`)
	politePrefix    = regexp.MustCompile(`(?i)^(?:(?:hey|hi|ok|okay)\s+cortex[,\s]*|please[,\s]+|kindly\s+|(?:can|could|would|will)\s+you\s+|i\s+want\s+you\s+to\s+)`)
	politeSuffix    = regexp.MustCompile(`(?i)[,\s]+please$`)
	leadingFiller   = regexp.MustCompile(`(?i)^(?:a|an|the|please|kindly|just)(?:\s+|$)`)
	surroundQuotes  = regexp.MustCompile(`^["'“‘]+|["'”’]+$`)
	whitespaceRunRe = regexp.MustCompile(`\s+`)
)

func trimTrailingPunct(s string) string {
	return trailingPunct.ReplaceAllString(s, "")
}

func stripPoliteness(s string) string {
	for {
		next := politePrefix.ReplaceAllString(s, "")
		next = politeSuffix.ReplaceAllString(next, "")
		next = trimTrailingPunct(strings.TrimSpace(next))
		if next == s {
			return s
		}
		s = next
	}
}

// normalizeContent strips leading articles and politeness words and
// trailing punctuation from a captured payload.
func normalizeContent(s string) string {
	s = whitespaceRunRe.ReplaceAllString(strings.TrimSpace(s), " ")
	for {
		next := leadingFiller.ReplaceAllString(s, "")
		next = politeSuffix.ReplaceAllString(next, "")
		next = surroundQuotes.ReplaceAllString(next, "")
		next = trimTrailingPunct(strings.TrimSpace(next))
		if next == s {
			return s
		}
		s = next
	}
}

func normalizeUnit(u string) string {
	switch strings.ToLower(u) {
	case "f", "fahrenheit":
		return "F"
	case "c", "celsius":
		return "C"
	}
	return ""
}
