package intake

import (
	"strings"

	"github.com/BTreeMap/IntakeDesk/internal/models"
)

// InferredCategoryConfidence is the confidence assigned to keyword-inferred categories.
const InferredCategoryConfidence = 0.75

// categoryKeywords is ordered; ties resolve to the earlier category.
var categoryKeywords = []struct {
	category models.Category
	words    []string
}{
	{models.CategoryPassword, []string{"reset password", "forgot password", "forgot my password", "password", "locked out", "log in", "login", "sign in", "signin", "credentials", "mfa", "2fa", "authenticator", "account locked"}},
	{models.CategoryEmail, []string{"outlook", "email", "e-mail", "inbox", "mailbox", "gmail", "exchange", "calendar invite", "attachment"}},
	{models.CategoryNetwork, []string{"vpn", "wifi", "wi-fi", "internet", "network", "ethernet", "dns", "no connection", "disconnect", "firewall", "proxy"}},
	{models.CategoryHardware, []string{"laptop", "monitor", "keyboard", "mouse", "printer", "screen cracked", "battery", "docking", "dock", "headset", "webcam", "won't turn on", "wont turn on", "broken"}},
	{models.CategorySoftware, []string{"install", "update", "crash", "crashes", "freezes", "excel", " word ", "teams", "zoom", "slack", "license", "application", "app ", "software"}},
}

// InferCategory scores categories by keyword evidence in texts and returns the best match.
func InferCategory(texts ...string) (models.Category, bool) {
	joined := " " + strings.ToLower(strings.Join(texts, " ")) + " "
	best, bestScore := models.Category(""), 0
	for _, ck := range categoryKeywords {
		score := 0
		for _, w := range ck.words {
			if strings.Contains(joined, w) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = ck.category, score
		}
	}
	return best, bestScore > 0
}
