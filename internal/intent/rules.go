package intent

import (
	"regexp"
	"strings"

	"github.com/BTreeMap/IntakeDesk/internal/intake"
	"github.com/BTreeMap/IntakeDesk/internal/models"
)

var (
	cancelRe        = regexp.MustCompile(`(?i)^\s*(cancel|start over|restart|never ?mind|forget it|reset)\b|\bcancel (the|this|my) (ticket|request|report)\b`)
	securityRiskRe  = regexp.MustCompile(`(?i)\b(do you (need|want)|should i (give|send|tell)( you)?|can i (give|send|tell)( you)?|shall i (give|send|tell)( you)?)\s+(you\s+)?(my\s+)?(password|pin|mfa code|otp|verification code|credentials|login details)\b`)
	waitRe          = regexp.MustCompile(`(?i)^\s*(wait|hold on|hang on|one (sec|second|moment|minute)|give me a (sec|second|minute|moment)|just a (sec|second|minute|moment)|brb|be right back|let me (check|look|see|find))\b`)
	stillCheckingRe = regexp.MustCompile(`(?i)\b(still (checking|looking|searching|working on it)|not yet|few more minutes|one more (minute|sec)|almost there|give me (a|another) (minute|sec))\b`)
	resumeRe        = regexp.MustCompile(`(?i)^\s*(ok(ay)?\s+)?(i'?m back|back|found it|got it|here it is|here you go|done|ready|ok here|the error (says|is|reads)|it says)\b`)
	offTopicRe      = regexp.MustCompile(`(?i)\b(weather|joke|football|soccer|basketball|recipe|movie|lunch|dinner|who are you|are you (a )?(human|robot|bot)|tell me about yourself|your favorite)\b`)
	confirmRe       = regexp.MustCompile(`(?i)^\s*(yes|yeah|yep|yup|sure|ok|okay|correct|confirm(ed)?|looks good|sounds good|go ahead|do it|submit( it)?|that'?s (right|correct)|please do|y)\b[\s.!]*`)
	denyRe          = regexp.MustCompile(`(?i)^\s*(no|nope|nah|not yet|wait no|hold off|n)\b[\s.!]*$|\b(don'?t|do not) submit\b`)
	submitKeywordRe = regexp.MustCompile(`(?i)\b(submit (it|the ticket|this|my ticket)|create (a|the) ticket|open a ticket|file (it|a ticket|the ticket)|raise a ticket|log a ticket)\b`)
	noMoreInfoRe    = regexp.MustCompile(`(?i)\b(that'?s (all|it|everything)|nothing else|no more|nothing more|i'?m done|that is all)\b`)
	greetingRe      = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|hiya|howdy|good (morning|afternoon|evening)|greetings)\b`)
	frustrationRe   = regexp.MustCompile(`(?i)\b(ridiculous|useless|frustrat\w*|annoy\w*|wtf|come on|stupid|not helping|already told you|i told you|waste of time|this is pointless)\b`)
	dontKnowRe      = regexp.MustCompile(`(?i)\b(i )?(don'?t|do not) know\b|\bnot sure\b|\bno idea\b|\bno clue\b`)
	correctionRe    = regexp.MustCompile(`(?i)\b(actually|i meant|i mean|correction|change (it|that|(the )?\w+) to|that'?s (wrong|not right|incorrect)|wrong (one|value|field|category|urgency|system))\b|^\s*no,\s+\S+`)
	confusionRe     = regexp.MustCompile(`(?i)\b(what do you mean|i don'?t understand|confus\w*|which one|what does that mean|huh)\b|^\s*what\s*\?\s*$`)
	questionStartRe = regexp.MustCompile(`(?i)^\s*(what|why|how|when|where|who|can you|could you|will you|do you|is there|are you)\b`)
	addMoreRe       = regexp.MustCompile(`(?i)\b(also|another thing|one more thing|additionally|i forgot to mention|on top of that|plus)\b`)
	idleRe          = regexp.MustCompile(`(?i)^\s*(ok|okay|k|kk|hmm+|thanks|thank you|thx|cool|alright|great|nice|\.+)\s*[.!]*\s*$`)
	infoCueRe       = regexp.MustCompile(`(?i)\b(can'?t|cannot|won'?t|unable|not working|doesn'?t|isn'?t|broken|error|fail\w*|issue|problem|slow|crash\w*|stuck|keeps|stopped|missing|lost|locked|down)\b`)
)

// rule is one deterministic detector; it returns false when it does not apply.
type rule struct {
	name string
	fn   func(msg string, c Context) (models.IntentResult, bool)
}

func result(i models.Intent, conf float64) models.IntentResult {
	return models.IntentResult{Intent: i, Confidence: conf, Source: models.IntentSourceRule}
}

func inConfirmationPhase(s models.ConversationState) bool {
	return s == models.StateReadyToSubmit || s == models.StateConfirmingSubmission
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

// rules is evaluated in order; the first rule that applies wins.
var rules = []rule{
	{"cancel", func(msg string, c Context) (models.IntentResult, bool) {
		if !cancelRe.MatchString(msg) {
			return models.IntentResult{}, false
		}
		r := result(models.IntentDenySubmit, 0.95)
		r.IsCancel = true
		return r, true
	}},
	{"security_risk", func(msg string, c Context) (models.IntentResult, bool) {
		return result(models.IntentSecurityRisk, 0.9), securityRiskRe.MatchString(msg)
	}},
	{"waiting", func(msg string, c Context) (models.IntentResult, bool) {
		if c.State == models.StateWaiting {
			if stillCheckingRe.MatchString(msg) {
				r := result(models.IntentInterruptWait, 0.9)
				r.IsStillChecking = true
				return r, true
			}
			if resumeRe.MatchString(msg) {
				r := result(models.IntentProvideInfo, 0.9)
				r.IsResume = true
				return r, true
			}
		}
		if waitRe.MatchString(msg) && wordCount(msg) <= 8 {
			return result(models.IntentInterruptWait, 0.9), true
		}
		return models.IntentResult{}, false
	}},
	{"off_topic", func(msg string, c Context) (models.IntentResult, bool) {
		return result(models.IntentOffTopic, 0.85), offTopicRe.MatchString(msg) && !infoCueRe.MatchString(msg)
	}},
	{"confirmation", func(msg string, c Context) (models.IntentResult, bool) {
		if !inConfirmationPhase(c.State) {
			return models.IntentResult{}, false
		}
		if denyRe.MatchString(msg) {
			return result(models.IntentDenySubmit, 0.9), true
		}
		if confirmRe.MatchString(msg) && wordCount(msg) <= 6 && !correctionRe.MatchString(msg) {
			return result(models.IntentConfirmSubmit, 0.95), true
		}
		return models.IntentResult{}, false
	}},
	{"submit_keyword", func(msg string, c Context) (models.IntentResult, bool) {
		return result(models.IntentConfirmSubmit, 0.9), submitKeywordRe.MatchString(msg)
	}},
	{"no_more_info", func(msg string, c Context) (models.IntentResult, bool) {
		return result(models.IntentNoMoreInfo, 0.9), noMoreInfoRe.MatchString(msg) && wordCount(msg) <= 8
	}},
	{"greeting", func(msg string, c Context) (models.IntentResult, bool) {
		if c.TurnCount > 2 || !greetingRe.MatchString(msg) || wordCount(msg) > 4 || infoCueRe.MatchString(msg) {
			return models.IntentResult{}, false
		}
		r := result(models.IntentIdle, 0.9)
		r.IsGreeting = true
		return r, true
	}},
	{"frustration", func(msg string, c Context) (models.IntentResult, bool) {
		if frustrationRe.MatchString(msg) {
			return result(models.IntentFrustration, 0.85), true
		}
		if !dontKnowRe.MatchString(msg) {
			return models.IntentResult{}, false
		}
		prior := c.RecentUserMessages
		if len(prior) > 3 {
			prior = prior[len(prior)-3:]
		}
		for _, m := range prior {
			if dontKnowRe.MatchString(m) {
				return result(models.IntentFrustration, 0.8), true
			}
		}
		return models.IntentResult{}, false
	}},
	{"correction", func(msg string, c Context) (models.IntentResult, bool) {
		if !correctionRe.MatchString(msg) && !intake.IsContradiction(msg) {
			return models.IntentResult{}, false
		}
		r := result(models.IntentProvideInfo, 0.85)
		r.IsCorrection = true
		return r, true
	}},
	{"confusion", func(msg string, c Context) (models.IntentResult, bool) {
		if !confusionRe.MatchString(msg) {
			return models.IntentResult{}, false
		}
		r := result(models.IntentAskQuestion, 0.85)
		r.IsConfusion = true
		return r, true
	}},
	{"question", func(msg string, c Context) (models.IntentResult, bool) {
		asks := strings.HasSuffix(strings.TrimSpace(msg), "?") || questionStartRe.MatchString(msg)
		return result(models.IntentAskQuestion, 0.75), asks && !infoCueRe.MatchString(msg)
	}},
	{"short_answer", func(msg string, c Context) (models.IntentResult, bool) {
		if c.LastExpectedField == "" || wordCount(msg) > 6 || idleRe.MatchString(msg) {
			return models.IntentResult{}, false
		}
		r := result(models.IntentProvideInfo, 0.85)
		if dontKnowRe.MatchString(msg) {
			r.Confidence = 0.7
		}
		r.AnswerField = c.LastExpectedField
		return r, true
	}},
	{"add_more_info", func(msg string, c Context) (models.IntentResult, bool) {
		return result(models.IntentAddMoreInfo, 0.8), addMoreRe.MatchString(msg)
	}},
	{"idle", func(msg string, c Context) (models.IntentResult, bool) {
		return result(models.IntentIdle, 0.8), idleRe.MatchString(msg)
	}},
}

// heuristic is the last tier, used when neither rules nor the semantic classifier are conclusive.
func heuristic(msg string) models.IntentResult {
	r := models.IntentResult{Source: models.IntentSourceFallback, Rule: "keyword_heuristic"}
	switch {
	case infoCueRe.MatchString(msg) || wordCount(msg) >= 3:
		r.Intent, r.Confidence = models.IntentProvideInfo, 0.6
	case strings.Contains(msg, "?"):
		r.Intent, r.Confidence = models.IntentAskQuestion, 0.55
	default:
		r.Intent, r.Confidence = models.IntentIdle, 0.5
	}
	return r
}
