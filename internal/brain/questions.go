package brain

import "github.com/BTreeMap/IntakeDesk/internal/models"

var questions = map[models.FieldName]string{
	models.FieldProblem:        "Could you describe the problem you're running into?",
	models.FieldCategory:       "What kind of issue is this: password, hardware, software, network, email, or something else?",
	models.FieldUrgency:        "How urgent is this? Are you completely blocked, or is it high, medium or low priority?",
	models.FieldAffectedSystem: "Which system or application is affected?",
	models.FieldErrorText:      "Do you see an error message? If so, what does it say exactly? (Reply \"none\" if there isn't one.)",
}

var rephrased = map[models.FieldName]string{
	models.FieldProblem:        "No problem. In a sentence or two, what isn't working the way it should?",
	models.FieldCategory:       "Sorry, let me put it another way: is this about signing in, a device, an app, your connection, or email?",
	models.FieldUrgency:        "Sorry for the confusion. Can you still work at all? \"blocked\" means you can't work, \"high\" means it needs fixing today, \"medium\" this week, \"low\" whenever.",
	models.FieldAffectedSystem: "I mean the app, device or service that is misbehaving, for example Outlook, VPN or your laptop.",
	models.FieldErrorText:      "I mean any message that popped up on screen when it failed. If nothing appeared, just reply \"none\".",
}

// Question returns the standard question for a field.
func Question(f models.FieldName) string {
	return questions[f]
}

// Rephrase returns a simpler wording of the question for a field.
func Rephrase(f models.FieldName) string {
	if q, ok := rephrased[f]; ok {
		return q
	}
	return Question(f)
}

// NextField picks the next field to ask about. skip is avoided when another field is missing.
func NextField(missing []models.FieldName, skip models.FieldName) (models.FieldName, bool) {
	if len(missing) == 0 {
		return "", false
	}
	for _, f := range missing {
		if f != skip {
			return f, true
		}
	}
	return missing[0], true
}
