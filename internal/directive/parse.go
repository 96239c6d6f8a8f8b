package directive

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// tagRe matches any paired XML-style tag with optional attributes, body
// captured non-greedily so repeated identical tags each match separately.
var tagRe = regexp.MustCompile(`(?s)<(\w+)([^>]*)>(.*?)</\s*\1\s*>`)

// attrRe extracts key="value" attribute pairs in any order.
var attrRe = regexp.MustCompile(`(\w+)\s*=\s*"([^"]*)"`)

const maxSnippet = 80

// Parse extracts every recognized directive tag from text. Unknown tags are
// ignored; a tag missing a required attribute drops only that directive.
// Never returns an error for per-directive problems (spec.md §4.8).
func Parse(text string) (ParseResult, []ParseWarning) {
	var result ParseResult
	var warnings []ParseWarning

	for _, m := range tagRe.FindAllStringSubmatch(text, -1) {
		tagName := m[1]
		attrs := parseAttrs(m[2])
		body := strings.TrimSpace(m[3])

		kind := Kind(tagName)
		if !isKnownKind(kind) {
			continue
		}

		d, warn, ok := buildDirective(kind, attrs, body)
		if !ok {
			warnings = append(warnings, warn)
			continue
		}
		result.Directives = append(result.Directives, d)
	}

	return result, warnings
}

func isKnownKind(k Kind) bool {
	switch k {
	case KindMessage, KindFollowup, KindNextCycleMinutes, KindActionTaken,
		KindGoalCreate, KindGoalUpdate, KindMilestoneComplete, KindGoalPropose,
		KindToolCall, KindChainPlan, KindLessonLearned, KindCapabilityGap,
		KindExperimentCreate, KindHypothesis, KindEvidence, KindConclude,
		KindSkillGenerate:
		return true
	default:
		return false
	}
}

func parseAttrs(raw string) map[string]string {
	out := map[string]string{}
	for _, m := range attrRe.FindAllStringSubmatch(raw, -1) {
		out[m[1]] = m[2]
	}
	return out
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxSnippet {
		return s[:maxSnippet] + "..."
	}
	return s
}

func missing(tag, reason, body string) (Directive, ParseWarning, bool) {
	return Directive{}, ParseWarning{Tag: tag, Reason: reason, Snippet: snippet(body)}, false
}

func buildDirective(kind Kind, attrs map[string]string, body string) (Directive, ParseWarning, bool) {
	switch kind {
	case KindMessage:
		return Directive{Kind: kind, Text: body}, ParseWarning{}, true

	case KindFollowup:
		return Directive{Kind: kind, Topic: body, GoalID: attrs["goal"]}, ParseWarning{}, true

	case KindNextCycleMinutes:
		minutes, err := strconv.Atoi(strings.TrimSpace(body))
		if err != nil {
			return missing(string(kind), "non-integer body", body)
		}
		return Directive{Kind: kind, Minutes: minutes}, ParseWarning{}, true

	case KindActionTaken:
		if body == "" {
			return missing(string(kind), "empty body", body)
		}
		return Directive{Kind: kind, Text: body}, ParseWarning{}, true

	case KindGoalCreate:
		title, ok := attrs["title"]
		if !ok || title == "" {
			return missing(string(kind), "missing required attribute: title", body)
		}
		return Directive{Kind: kind, Title: title, Text: body}, ParseWarning{}, true

	case KindGoalUpdate:
		id, ok := attrs["id"]
		if !ok || id == "" {
			return missing(string(kind), "missing required attribute: id", body)
		}
		d := Directive{Kind: kind, GoalID: id, Status: attrs["status"], Text: body}
		if raw, has := attrs["progress"]; has {
			if p, err := strconv.Atoi(raw); err == nil {
				d.Progress = p
				d.HasProgress = true
			}
		}
		return d, ParseWarning{}, true

	case KindMilestoneComplete:
		goalID, hasGoal := attrs["goal"]
		milestoneID, hasMilestone := attrs["milestone"]
		if !hasGoal || goalID == "" || !hasMilestone || milestoneID == "" {
			return missing(string(kind), "missing required attribute: goal and/or milestone", body)
		}
		return Directive{Kind: kind, GoalID: goalID, MilestoneID: milestoneID, Text: body}, ParseWarning{}, true

	case KindGoalPropose:
		title, hasTitle := attrs["title"]
		rationale, hasRationale := attrs["rationale"]
		if !hasTitle || title == "" || !hasRationale || rationale == "" {
			return missing(string(kind), "missing required attribute: title and/or rationale", body)
		}
		d := Directive{Kind: kind, Title: title, Rationale: rationale, RawBody: body}
		attachJSONOrText(&d, body)
		return d, ParseWarning{}, true

	case KindToolCall:
		name, ok := attrs["name"]
		if !ok || name == "" {
			return missing(string(kind), "missing required attribute: name", body)
		}
		d := Directive{Kind: kind, Title: name, RawBody: body}
		attachJSON(&d, body)
		return d, ParseWarning{}, true

	case KindChainPlan:
		d := Directive{Kind: kind, RawBody: body}
		attachJSONOrText(&d, body)
		return d, ParseWarning{}, true

	case KindLessonLearned:
		if body == "" {
			return missing(string(kind), "empty body", body)
		}
		return Directive{Kind: kind, Text: body}, ParseWarning{}, true

	case KindCapabilityGap:
		topic, ok := attrs["topic"]
		if !ok || topic == "" {
			return missing(string(kind), "missing required attribute: topic", body)
		}
		return Directive{Kind: kind, Topic: topic, Text: body}, ParseWarning{}, true

	case KindExperimentCreate:
		d := Directive{Kind: kind, RawBody: body}
		attachJSON(&d, body)
		return d, ParseWarning{}, true

	case KindHypothesis:
		if body == "" {
			return missing(string(kind), "empty body", body)
		}
		return Directive{Kind: kind, Text: body}, ParseWarning{}, true

	case KindEvidence:
		hid, ok := attrs["hid"]
		if !ok || hid == "" {
			return missing(string(kind), "missing required attribute: hid", body)
		}
		return Directive{Kind: kind, HID: hid, Text: body}, ParseWarning{}, true

	case KindConclude:
		hid, ok := attrs["hid"]
		if !ok || hid == "" {
			return missing(string(kind), "missing required attribute: hid", body)
		}
		return Directive{Kind: kind, HID: hid, Text: body}, ParseWarning{}, true

	case KindSkillGenerate:
		name, hasName := attrs["name"]
		category, hasCategory := attrs["category"]
		if !hasName || name == "" || !hasCategory || category == "" {
			return missing(string(kind), "missing required attribute: name and/or category", body)
		}
		return Directive{Kind: kind, Title: name, Category: category, Text: body}, ParseWarning{}, true

	default:
		return missing(string(kind), "unrecognized tag", body)
	}
}

// attachJSON parses body as a JSON object directive, per §4.8's
// strict-then-repair contract: encoding/json first, then
// github.com/kaptinlin/jsonrepair, then a {_malformed: true} marker on the
// directive instead of dropping it (grounded on the teacher's
// internal/agent/tool_executor.go parseToolCalls).
func attachJSON(d *Directive, body string) {
	if body == "" {
		d.JSON = map[string]any{}
		return
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(body), &parsed); err == nil {
		d.JSON = parsed
		return
	}
	repaired, err := jsonrepair.JSONRepair(body)
	if err == nil {
		if err := json.Unmarshal([]byte(repaired), &parsed); err == nil {
			d.JSON = parsed
			return
		}
	}
	d.Malformed = true
	d.JSON = map[string]any{"_malformed": true}
}

// attachJSONOrText tries JSON first (for chain_plan/goal_propose bodies that
// may be either JSON or free text); falls back to plain text, never marking
// malformed, since free text is itself a valid payload for these tags.
func attachJSONOrText(d *Directive, body string) {
	if body == "" {
		return
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(body), &parsed); err == nil {
		d.JSON = parsed
		return
	}
	if repaired, err := jsonrepair.JSONRepair(body); err == nil {
		if err := json.Unmarshal([]byte(repaired), &parsed); err == nil {
			d.JSON = parsed
			return
		}
	}
	d.Text = body
}
